package application

import (
	"context"

	"github.com/wyfcoding/fxsettlement/internal/order/domain"
)

// OrderService 订单服务门面，整合命令和查询服务
type OrderService struct {
	Manager *OrderManager
	Query   *OrderQuery
}

// NewOrderService 构造函数
func NewOrderService(manager *OrderManager, query *OrderQuery) *OrderService {
	return &OrderService{Manager: manager, Query: query}
}

// --- Command (Writes) ---

// CreateOrder 创建订单
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderDTO, error) {
	return dto(s.Manager.CreateOrder(ctx, req))
}

// FulfillOrder 成交订单
func (s *OrderService) FulfillOrder(ctx context.Context, fulfillerID, orderID, credential string) (*OrderDTO, error) {
	return dto(s.Manager.FulfillOrder(ctx, fulfillerID, orderID, credential))
}

// CancelOrder 撤销订单
func (s *OrderService) CancelOrder(ctx context.Context, callerID, orderID, credential string) (*OrderDTO, error) {
	return dto(s.Manager.CancelOrder(ctx, callerID, orderID, credential))
}

// ReconcileOrder 续跑订单中未决的记账
func (s *OrderService) ReconcileOrder(ctx context.Context, orderID, credential string) (*OrderDTO, error) {
	return dto(s.Manager.ReconcileOrder(ctx, orderID, credential))
}

// --- Query (Reads) ---

// ListPendingOrders 待成交订单列表
func (s *OrderService) ListPendingOrders(ctx context.Context) ([]*OrderDTO, error) {
	return s.Query.ListPendingOrders(ctx)
}

// GetOrder 订单详情
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*OrderDetailDTO, error) {
	return s.Query.GetOrder(ctx, orderID)
}

func dto(o *domain.Order, err error) (*OrderDTO, error) {
	if err != nil {
		return nil, err
	}
	return ToOrderDTO(o), nil
}
