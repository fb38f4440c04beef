package mysql

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/fxsettlement/internal/order/domain"
)

// OrderModel 订单表映射
type OrderModel struct {
	ID            string          `gorm:"column:id;type:varchar(36);primaryKey"`
	InitiatorID   string          `gorm:"column:initiator_id;type:varchar(64);index;not null;comment:发起方用户ID"`
	Direction     string          `gorm:"column:direction;type:varchar(8);not null;comment:方向(buy/sell)"`
	BaseCurrency  string          `gorm:"column:base_currency;type:varchar(8);not null"`
	QuoteCurrency string          `gorm:"column:quote_currency;type:varchar(8);not null"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(32,18);not null;comment:基础币种数量"`
	TotalCost     decimal.Decimal `gorm:"column:total_cost;type:decimal(32,18);not null;comment:报价币种总价"`
	ExchangeRate  decimal.Decimal `gorm:"column:exchange_rate;type:decimal(32,18);not null"`
	Status        string          `gorm:"column:status;type:varchar(16);index:idx_orders_status_created,priority:1;not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;index:idx_orders_status_created,priority:2"`
	UpdatedAt     time.Time       `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }

// SettlementRecordModel 结算记录表映射，(order_id, party_id) 唯一
type SettlementRecordModel struct {
	ID           string          `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID      string          `gorm:"column:order_id;type:varchar(36);uniqueIndex:uk_record_order_party,priority:1;not null"`
	PartyID      string          `gorm:"column:party_id;type:varchar(64);uniqueIndex:uk_record_order_party,priority:2;not null"`
	Amount       decimal.Decimal `gorm:"column:amount;type:decimal(32,18);not null"`
	ExchangeRate decimal.Decimal `gorm:"column:exchange_rate;type:decimal(32,18);not null"`
	TotalCost    decimal.Decimal `gorm:"column:total_cost;type:decimal(32,18);not null"`
	Status       string          `gorm:"column:status;type:varchar(16);not null"`
	CreatedAt    time.Time       `gorm:"column:created_at"`
	UpdatedAt    time.Time       `gorm:"column:updated_at"`
}

func (SettlementRecordModel) TableName() string { return "settlement_records" }

// PostingModel 账本记账表映射，每个参与方的每条腿一行，idempotency_key 唯一
type PostingModel struct {
	ID             string          `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID        string          `gorm:"column:order_id;type:varchar(36);uniqueIndex:uk_posting_leg,priority:1;not null"`
	PartyID        string          `gorm:"column:party_id;type:varchar(64);uniqueIndex:uk_posting_leg,priority:2;not null"`
	Leg            string          `gorm:"column:leg;type:varchar(32);uniqueIndex:uk_posting_leg,priority:3;not null;comment:记账腿类型"`
	WalletID       string          `gorm:"column:wallet_id;type:varchar(64);not null"`
	Currency       string          `gorm:"column:currency;type:varchar(8);not null"`
	Direction      string          `gorm:"column:direction;type:varchar(16);not null"`
	Amount         decimal.Decimal `gorm:"column:amount;type:decimal(32,18);not null"`
	IdempotencyKey string          `gorm:"column:idempotency_key;type:varchar(160);uniqueIndex;not null"`
	Revision       int             `gorm:"column:revision;not null;default:0;comment:被拒绝后重新发起的次数"`
	Status         string          `gorm:"column:status;type:varchar(16);index:idx_postings_status_updated,priority:1;not null"`
	Attempts       int             `gorm:"column:attempts;not null;default:0"`
	LastError      string          `gorm:"column:last_error;type:varchar(512)"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;index:idx_postings_status_updated,priority:2"`
}

func (PostingModel) TableName() string { return "settlement_postings" }

func toOrderModel(o *domain.Order) *OrderModel {
	return &OrderModel{
		ID:            o.ID,
		InitiatorID:   o.InitiatorID,
		Direction:     string(o.Direction),
		BaseCurrency:  o.BaseCurrency,
		QuoteCurrency: o.QuoteCurrency,
		Amount:        o.Amount,
		TotalCost:     o.TotalCost,
		ExchangeRate:  o.ExchangeRate,
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func (m *OrderModel) toDomain() *domain.Order {
	return &domain.Order{
		ID:            m.ID,
		InitiatorID:   m.InitiatorID,
		Direction:     domain.Direction(m.Direction),
		BaseCurrency:  m.BaseCurrency,
		QuoteCurrency: m.QuoteCurrency,
		Amount:        m.Amount,
		TotalCost:     m.TotalCost,
		ExchangeRate:  m.ExchangeRate,
		Status:        domain.OrderStatus(m.Status),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toRecordModel(r *domain.SettlementRecord) *SettlementRecordModel {
	return &SettlementRecordModel{
		ID:           r.ID,
		OrderID:      r.OrderID,
		PartyID:      r.PartyID,
		Amount:       r.Amount,
		ExchangeRate: r.ExchangeRate,
		TotalCost:    r.TotalCost,
		Status:       string(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (m *SettlementRecordModel) toDomain() *domain.SettlementRecord {
	return &domain.SettlementRecord{
		ID:           m.ID,
		OrderID:      m.OrderID,
		PartyID:      m.PartyID,
		Amount:       m.Amount,
		ExchangeRate: m.ExchangeRate,
		TotalCost:    m.TotalCost,
		Status:       domain.OrderStatus(m.Status),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func toPostingModel(p *domain.Posting) *PostingModel {
	return &PostingModel{
		ID:             p.ID,
		OrderID:        p.OrderID,
		PartyID:        p.PartyID,
		Leg:            string(p.Leg),
		WalletID:       p.WalletID,
		Currency:       p.Currency,
		Direction:      string(p.Direction),
		Amount:         p.Amount,
		IdempotencyKey: p.IdempotencyKey,
		Revision:       p.Revision,
		Status:         string(p.Status),
		Attempts:       p.Attempts,
		LastError:      p.LastError,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func (m *PostingModel) toDomain() *domain.Posting {
	return &domain.Posting{
		ID:             m.ID,
		OrderID:        m.OrderID,
		PartyID:        m.PartyID,
		Leg:            domain.LegKind(m.Leg),
		WalletID:       m.WalletID,
		Currency:       m.Currency,
		Direction:      domain.WalletDirection(m.Direction),
		Amount:         m.Amount,
		IdempotencyKey: m.IdempotencyKey,
		Revision:       m.Revision,
		Status:         domain.PostingStatus(m.Status),
		Attempts:       m.Attempts,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
