package application

import (
	"context"

	"github.com/wyfcoding/fxsettlement/internal/order/domain"
)

// OrderQuery 订单读操作
type OrderQuery struct {
	repo domain.OrderRepository
}

func NewOrderQuery(repo domain.OrderRepository) *OrderQuery {
	return &OrderQuery{repo: repo}
}

// ListPendingOrders 按创建时间升序返回待成交订单
func (q *OrderQuery) ListPendingOrders(ctx context.Context) ([]*OrderDTO, error) {
	orders, err := q.repo.ListPending(ctx)
	if err != nil {
		return nil, domain.Wrap("list_pending", err)
	}
	out := make([]*OrderDTO, len(orders))
	for i, o := range orders {
		out[i] = ToOrderDTO(o)
	}
	return out, nil
}

// GetOrder 获取订单详情，包括各参与方结算记录与记账状态
func (q *OrderQuery) GetOrder(ctx context.Context, orderID string) (*OrderDetailDTO, error) {
	const op = "get_order"
	order, err := q.repo.Get(ctx, orderID)
	if err != nil {
		return nil, domain.Wrap(op, err)
	}
	records, err := q.repo.ListRecords(ctx, orderID)
	if err != nil {
		return nil, domain.Wrap(op, err)
	}
	postings, err := q.repo.ListPostings(ctx, orderID)
	if err != nil {
		return nil, domain.Wrap(op, err)
	}

	detail := &OrderDetailDTO{
		OrderDTO:     *ToOrderDTO(order),
		Records:      make([]*SettlementRecordDTO, len(records)),
		Postings:     make([]*PostingDTO, len(postings)),
		NetMovements: make(map[string]string),
	}
	for i, r := range records {
		detail.Records[i] = toRecordDTO(r)
	}
	for i, p := range postings {
		detail.Postings[i] = toPostingDTO(p)
	}
	for ccy, net := range domain.NetMovements(postings) {
		detail.NetMovements[ccy] = net.String()
	}
	return detail, nil
}
