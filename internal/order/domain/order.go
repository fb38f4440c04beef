// Package domain 包含外汇订单结算服务的领域模型
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	// 资金冻结被账本明确拒绝
	OrderStatusFailed OrderStatus = "failed"
)

// Direction 订单方向
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Valid 方向是否合法
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Order 订单实体
// 发起方以报价币种兑换固定数量的基础币种（买），或反之（卖），等待对手方成交
type Order struct {
	ID            string
	InitiatorID   string
	Direction     Direction
	BaseCurrency  string
	QuoteCurrency string
	// 基础币种计价
	Amount decimal.Decimal
	// 报价币种计价，创建时确定，此后不可变
	TotalCost decimal.Decimal
	// 创建时使用的汇率
	ExchangeRate decimal.Decimal
	Status       OrderStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DebitCurrency 发起方在创建时被扣款的币种
func (o *Order) DebitCurrency() string {
	if o.Direction == DirectionBuy {
		return o.QuoteCurrency
	}
	return o.BaseCurrency
}

// DebitAmount 发起方在创建时被扣款的金额，也是撤单时的退款金额
func (o *Order) DebitAmount() decimal.Decimal {
	if o.Direction == DirectionBuy {
		return o.TotalCost
	}
	return o.Amount
}

// CounterCurrency 对手方支付的币种，即发起方最终收到的币种
func (o *Order) CounterCurrency() string {
	if o.Direction == DirectionBuy {
		return o.BaseCurrency
	}
	return o.QuoteCurrency
}

// CounterAmount 对手方支付的金额
func (o *Order) CounterAmount() decimal.Decimal {
	if o.Direction == DirectionBuy {
		return o.Amount
	}
	return o.TotalCost
}

// IsPending 是否等待成交
func (o *Order) IsPending() bool {
	return o.Status == OrderStatusPending
}
