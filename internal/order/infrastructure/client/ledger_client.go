package client

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/fxsettlement/internal/order/domain"
	"github.com/wyfcoding/fxsettlement/pkg/grpcclient"
	"github.com/wyfcoding/fxsettlement/pkg/metrics"
	"google.golang.org/grpc"
)

const (
	MethodGetWalletByCurrency = "/wallet.WalletService/GetWalletByCurrency"
	MethodUpdateWallet        = "/wallet.WalletService/UpdateWallet"
)

// GetWalletByCurrencyRequest 按币种查询钱包
type GetWalletByCurrencyRequest struct {
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`
}

// UpdateWalletRequest 余额变动请求
type UpdateWalletRequest struct {
	WalletID       string          `json:"wallet_id"`
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Direction      string          `json:"direction"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// WalletReply 钱包应答
type WalletReply struct {
	ID       string          `json:"id"`
	UserID   string          `json:"user_id"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

func (w *WalletReply) toDomain() *domain.Wallet {
	return &domain.Wallet{ID: w.ID, UserID: w.UserID, Currency: w.Currency, Balance: w.Balance}
}

// LedgerClientImpl 账本服务客户端实现
type LedgerClientImpl struct {
	conn    grpc.ClientConnInterface
	metrics *metrics.Metrics
}

// NewLedgerClient 从现有连接创建客户端
func NewLedgerClient(conn grpc.ClientConnInterface, m *metrics.Metrics) *LedgerClientImpl {
	return &LedgerClientImpl{conn: conn, metrics: m}
}

var _ domain.LedgerClient = (*LedgerClientImpl)(nil)

// GetWalletByCurrency 获取用户指定币种的钱包
func (c *LedgerClientImpl) GetWalletByCurrency(ctx context.Context, credential, userID, currency string) (*domain.Wallet, error) {
	start := time.Now()
	defer func() { c.metrics.ObserveLedgerCall("GetWalletByCurrency", time.Since(start)) }()

	req := &GetWalletByCurrencyRequest{UserID: userID, Currency: currency}
	var reply WalletReply
	err := c.conn.Invoke(outgoing(ctx, credential), MethodGetWalletByCurrency, req, &reply,
		grpc.CallContentSubtype(grpcclient.JSONCodecName))
	if err != nil {
		return nil, ledgerErr("ledger.get_wallet", err)
	}
	return reply.toDomain(), nil
}

// UpdateWallet 发起一次幂等的余额变动，幂等键同时放入请求体与 metadata
func (c *LedgerClientImpl) UpdateWallet(ctx context.Context, credential string, m *domain.WalletMutation) (*domain.Wallet, error) {
	start := time.Now()
	defer func() { c.metrics.ObserveLedgerCall("UpdateWallet", time.Since(start)) }()

	req := &UpdateWalletRequest{
		WalletID:       m.WalletID,
		UserID:         m.UserID,
		Amount:         m.Amount,
		Direction:      string(m.Direction),
		IdempotencyKey: m.IdempotencyKey,
	}
	var reply WalletReply
	ctx = outgoing(ctx, credential, mdIdempotencyKey, m.IdempotencyKey)
	err := c.conn.Invoke(ctx, MethodUpdateWallet, req, &reply, grpc.CallContentSubtype(grpcclient.JSONCodecName))
	if err != nil {
		return nil, ledgerErr("ledger.update_wallet", err)
	}
	return reply.toDomain(), nil
}
