package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Wallet 账本中的用户钱包快照，仅在单次操作内使用
type Wallet struct {
	ID       string
	UserID   string
	Currency string
	Balance  decimal.Decimal
}

// WalletMutation 一次余额变动请求
type WalletMutation struct {
	WalletID       string
	UserID         string
	Amount         decimal.Decimal
	Direction      WalletDirection
	IdempotencyKey string
}

// LedgerClient 账本服务客户端
// credential 为调用方凭证，原样透传给账本用于其自身鉴权
type LedgerClient interface {
	GetWalletByCurrency(ctx context.Context, credential, userID, currency string) (*Wallet, error)
	UpdateWallet(ctx context.Context, credential string, m *WalletMutation) (*Wallet, error)
}

// RateClient 汇率服务客户端
type RateClient interface {
	GetRates(ctx context.Context, credential, baseCurrency string) (*RateTable, error)
}

// EventSettlementCompleted 成交完成事件名
const EventSettlementCompleted = "settlement.completed"

// Notifier 通知投递，尽力而为，调用方不关心结果
type Notifier interface {
	Enqueue(ctx context.Context, event, userID, orderID string) error
}
