package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SettlementRecord 结算记录，每个参与方在一笔订单中各有一条
type SettlementRecord struct {
	ID           string
	OrderID      string
	PartyID      string
	Amount       decimal.Decimal
	ExchangeRate decimal.Decimal
	TotalCost    decimal.Decimal
	// 与所属订单在该方的状态保持一致
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LegKind 记账腿类型
type LegKind string

const (
	LegInitiatorDebit  LegKind = "initiator_debit"
	LegFulfillerDebit  LegKind = "fulfiller_debit"
	LegFulfillerCredit LegKind = "fulfiller_credit"
	LegInitiatorCredit LegKind = "initiator_credit"
	LegInitiatorRefund LegKind = "initiator_refund"
)

// Order 腿在同一订单内的执行顺序
func (l LegKind) Order() int {
	switch l {
	case LegInitiatorDebit:
		return 0
	case LegFulfillerDebit:
		return 1
	case LegFulfillerCredit:
		return 2
	case LegInitiatorCredit:
		return 3
	case LegInitiatorRefund:
		return 4
	default:
		return 5
	}
}

// WalletDirection 余额变动方向
type WalletDirection string

const (
	Withdraw WalletDirection = "WITHDRAW"
	Deposit  WalletDirection = "DEPOSIT"
)

// PostingStatus 记账状态
type PostingStatus string

const (
	// 已落库，账本结果未知
	PostingPending PostingStatus = "pending"
	// 账本已确认
	PostingApplied PostingStatus = "applied"
	// 账本明确拒绝
	PostingRejected PostingStatus = "rejected"
)

// Posting 一次账本余额变动
// 与订单状态变更在同一本地事务中写入，之后再发往账本，结果回写到本行
type Posting struct {
	ID             string
	OrderID        string
	PartyID        string
	Leg            LegKind
	WalletID       string
	Currency       string
	Direction      WalletDirection
	Amount         decimal.Decimal
	IdempotencyKey string
	Revision       int
	Status         PostingStatus
	Attempts       int
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IdempotencyKey 账本幂等键：orderId:partyId:legKind
func IdempotencyKey(orderID, partyID string, leg LegKind) string {
	return fmt.Sprintf("%s:%s:%s", orderID, partyID, leg)
}

// Reissue 复用一条已被拒绝的记账行重新发起，Revision 为该腿被重新发起的次数。
// 账本可能缓存了对原幂等键的拒绝应答，新的一轮使用 orderId:partyId:legKind:rN。
func (p *Posting) Reissue(revision int) {
	p.Revision = revision
	p.IdempotencyKey = IdempotencyKey(p.OrderID, p.PartyID, p.Leg)
	if revision > 0 {
		p.IdempotencyKey += fmt.Sprintf(":r%d", revision)
	}
}

// NewPosting 创建待执行的记账
func NewPosting(id, orderID, partyID string, leg LegKind, wallet *Wallet, dir WalletDirection, amount decimal.Decimal, now time.Time) *Posting {
	return &Posting{
		ID:             id,
		OrderID:        orderID,
		PartyID:        partyID,
		Leg:            leg,
		WalletID:       wallet.ID,
		Currency:       wallet.Currency,
		Direction:      dir,
		Amount:         amount,
		IdempotencyKey: IdempotencyKey(orderID, partyID, leg),
		Status:         PostingPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// SignedAmount 带符号的余额变动，取款为负
func (p *Posting) SignedAmount() decimal.Decimal {
	if p.Direction == Withdraw {
		return p.Amount.Neg()
	}
	return p.Amount
}

// NetMovements 按币种汇总已被账本确认的余额变动。
// 一笔结清或撤销的订单在每个币种上的净变动为零。
func NetMovements(postings []*Posting) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, p := range postings {
		if p.Status != PostingApplied {
			continue
		}
		out[p.Currency] = out[p.Currency].Add(p.SignedAmount())
	}
	return out
}

// StatusChange 一次原子的订单状态迁移
// 仅当订单当前状态等于 From 时生效，否则返回 Conflict
type StatusChange struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
	// 需要同步状态的结算记录参与方
	RecordParties []string
	RecordStatus  OrderStatus
	// 新增的结算记录
	NewRecords []*SettlementRecord
	// 删除的结算记录参与方（补偿时使用）
	RemoveRecordParties []string
	// 新增的记账；同一腿的记账已被拒绝时复用该行并以新幂等键重新发起
	NewPostings []*Posting
	// 需要回写结果的记账
	UpdatedPostings []*Posting
	At              time.Time
}
