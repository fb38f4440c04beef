package domain

import (
	"context"
	"time"
)

// OrderRepository 订单与结算记录仓储接口
// 所有方法出错时返回 *Error：不存在为 NotFound，状态竞争为 Conflict，存储故障为 UpstreamUnavailable
type OrderRepository interface {
	// InsertOrderWithRecord 在一个本地事务中写入订单、发起方结算记录与资金冻结记账
	InsertOrderWithRecord(ctx context.Context, order *Order, record *SettlementRecord, posting *Posting) error
	// Get 根据订单 ID 获取订单
	Get(ctx context.Context, orderID string) (*Order, error)
	// FindPendingByID 获取待成交订单，不存在或非待成交时返回 NotFound
	FindPendingByID(ctx context.Context, orderID string) (*Order, error)
	// ListPending 按创建时间升序返回全部待成交订单
	ListPending(ctx context.Context) ([]*Order, error)
	// GetRecord 获取某参与方在订单中的结算记录
	GetRecord(ctx context.Context, orderID, partyID string) (*SettlementRecord, error)
	// ListRecords 获取订单的全部结算记录
	ListRecords(ctx context.Context, orderID string) ([]*SettlementRecord, error)
	// UpdateStatusIfExpected 条件更新订单状态并在同一事务内应用关联变更
	UpdateStatusIfExpected(ctx context.Context, change *StatusChange) error
	// ListPostings 获取订单的全部记账，按腿顺序排列
	ListPostings(ctx context.Context, orderID string) ([]*Posting, error)
	// ListPendingPostings 获取更新时间早于 before 的待执行记账
	ListPendingPostings(ctx context.Context, before time.Time, limit int) ([]*Posting, error)
	// CountPendingPostings 待执行记账总数
	CountPendingPostings(ctx context.Context) (int64, error)
	// UpdatePosting 回写记账执行结果（状态、尝试次数、最近错误）
	UpdatePosting(ctx context.Context, posting *Posting) error
}
