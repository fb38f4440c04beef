package application

import (
	"github.com/wyfcoding/fxsettlement/internal/order/domain"
)

// CreateOrderRequest 创建订单请求
type CreateOrderRequest struct {
	InitiatorID   string
	Direction     string
	BaseCurrency  string
	QuoteCurrency string
	Amount        string
	// 调用方凭证，透传给账本与汇率服务
	Credential string
}

type OrderDTO struct {
	OrderID       string `json:"order_id"`
	InitiatorID   string `json:"initiator_id"`
	Direction     string `json:"direction"`
	BaseCurrency  string `json:"base_currency"`
	QuoteCurrency string `json:"quote_currency"`
	Amount        string `json:"amount"`
	TotalCost     string `json:"total_cost"`
	ExchangeRate  string `json:"exchange_rate"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

type SettlementRecordDTO struct {
	RecordID     string `json:"record_id"`
	PartyID      string `json:"party_id"`
	Amount       string `json:"amount"`
	ExchangeRate string `json:"exchange_rate"`
	TotalCost    string `json:"total_cost"`
	Status       string `json:"status"`
	CreatedAt    int64  `json:"created_at"`
}

type PostingDTO struct {
	Leg            string `json:"leg"`
	PartyID        string `json:"party_id"`
	Currency       string `json:"currency"`
	Direction      string `json:"direction"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
	Attempts       int    `json:"attempts"`
	LastError      string `json:"last_error,omitempty"`
}

// OrderDetailDTO 订单详情，包含结算记录与记账
type OrderDetailDTO struct {
	OrderDTO
	Records  []*SettlementRecordDTO `json:"records"`
	Postings []*PostingDTO          `json:"postings"`
	// 已确认记账按币种的净变动，结清或撤销后应全部为零
	NetMovements map[string]string `json:"net_movements"`
}

// ToOrderDTO 领域对象转换
func ToOrderDTO(o *domain.Order) *OrderDTO {
	if o == nil {
		return nil
	}
	return &OrderDTO{
		OrderID:       o.ID,
		InitiatorID:   o.InitiatorID,
		Direction:     string(o.Direction),
		BaseCurrency:  o.BaseCurrency,
		QuoteCurrency: o.QuoteCurrency,
		Amount:        o.Amount.String(),
		TotalCost:     o.TotalCost.String(),
		ExchangeRate:  o.ExchangeRate.String(),
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt.Unix(),
		UpdatedAt:     o.UpdatedAt.Unix(),
	}
}

func toRecordDTO(r *domain.SettlementRecord) *SettlementRecordDTO {
	return &SettlementRecordDTO{
		RecordID:     r.ID,
		PartyID:      r.PartyID,
		Amount:       r.Amount.String(),
		ExchangeRate: r.ExchangeRate.String(),
		TotalCost:    r.TotalCost.String(),
		Status:       string(r.Status),
		CreatedAt:    r.CreatedAt.Unix(),
	}
}

func toPostingDTO(p *domain.Posting) *PostingDTO {
	return &PostingDTO{
		Leg:            string(p.Leg),
		PartyID:        p.PartyID,
		Currency:       p.Currency,
		Direction:      string(p.Direction),
		Amount:         p.Amount.String(),
		IdempotencyKey: p.IdempotencyKey,
		Status:         string(p.Status),
		Attempts:       p.Attempts,
		LastError:      p.LastError,
	}
}
