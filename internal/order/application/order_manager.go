package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/fxsettlement/internal/order/domain"
	"github.com/wyfcoding/fxsettlement/pkg/logger"
	"github.com/wyfcoding/fxsettlement/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// ManagerConfig 订单管理配置
type ManagerConfig struct {
	// 支持的币种，为空时不限制
	Currencies []string
	// 通知投递超时
	NotifyTimeout time.Duration
	// 一次操作中记账执行的总时长上限，须小于 HTTP 写超时与对账接管时长
	SettleTimeout time.Duration
}

// OrderManager 处理订单生命周期的写操作：创建、成交、撤单与对账恢复。
// 本地状态变更与记账在同一事务内落库，随后按腿顺序发往账本。
type OrderManager struct {
	repo       domain.OrderRepository
	ledger     domain.LedgerClient
	rates      domain.RateClient
	notifier   domain.Notifier
	executor   *PostingExecutor
	currencies map[string]bool
	notifyTTL  time.Duration
	settleTTL  time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// NewOrderManager 构造函数。
func NewOrderManager(
	repo domain.OrderRepository,
	ledger domain.LedgerClient,
	rates domain.RateClient,
	notifier domain.Notifier,
	executor *PostingExecutor,
	cfg ManagerConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *OrderManager {
	currencies := make(map[string]bool, len(cfg.Currencies))
	for _, c := range cfg.Currencies {
		currencies[strings.ToUpper(c)] = true
	}
	ttl := cfg.NotifyTimeout
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	settle := cfg.SettleTimeout
	if settle <= 0 {
		settle = 20 * time.Second
	}
	return &OrderManager{
		repo:       repo,
		ledger:     ledger,
		rates:      rates,
		notifier:   notifier,
		executor:   executor,
		currencies: currencies,
		notifyTTL:  ttl,
		settleTTL:  settle,
		metrics:    m,
		logger:     logger.With("module", "order_manager"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// CreateOrder 创建订单并冻结发起方资金。
// 买单扣报价币种 totalCost，卖单扣基础币种 amount。
func (m *OrderManager) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*domain.Order, error) {
	const op = "create_order"
	defer logger.LogDuration(ctx, "order creation completed", "initiator_id", req.InitiatorID)()

	order, err := m.validateCreate(req)
	if err != nil {
		m.metrics.RecordOrderOp(op, string(domain.KindOf(err)))
		return nil, err
	}

	wallet, err := m.ledger.GetWalletByCurrency(ctx, req.Credential, order.InitiatorID, order.DebitCurrency())
	if err != nil {
		return nil, m.fail(op, domain.Wrap(op, err))
	}
	table, err := m.rates.GetRates(ctx, req.Credential, order.BaseCurrency)
	if err != nil {
		return nil, m.fail(op, domain.Wrap(op, err))
	}
	totalCost, rate, err := domain.Cost(order.Amount, order.QuoteCurrency, table)
	if err != nil {
		return nil, m.fail(op, domain.Wrap(op, err))
	}
	order.TotalCost = totalCost
	order.ExchangeRate = rate

	need := order.DebitAmount()
	if wallet.Balance.LessThan(need) {
		return nil, m.fail(op, domain.E(domain.KindForbidden, op,
			fmt.Errorf("%w: %s balance %s < %s", domain.ErrInsufficientFunds, wallet.Currency, wallet.Balance, need)))
	}

	now := m.now()
	order.ID = m.newID()
	order.Status = domain.OrderStatusPending
	order.CreatedAt, order.UpdatedAt = now, now
	record := &domain.SettlementRecord{
		ID:           m.newID(),
		OrderID:      order.ID,
		PartyID:      order.InitiatorID,
		Amount:       order.Amount,
		ExchangeRate: rate,
		TotalCost:    totalCost,
		Status:       domain.OrderStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	debit := domain.NewPosting(m.newID(), order.ID, order.InitiatorID, domain.LegInitiatorDebit, wallet, domain.Withdraw, need, now)

	if err := m.repo.InsertOrderWithRecord(ctx, order, record, debit); err != nil {
		return nil, m.fail(op, domain.Wrap(op, err))
	}

	m.logger.InfoContext(ctx, "order created, funding initiator debit",
		"order_id", order.ID, "direction", order.Direction, "amount", order.Amount, "total_cost", totalCost)

	// 记账已落库，后续不受调用方取消影响
	if _, err := m.advance(context.WithoutCancel(ctx), op, req.Credential, order, []*domain.Posting{debit}); err != nil {
		return nil, m.fail(op, err)
	}
	m.metrics.RecordOrderOp(op, "ok")
	return order, nil
}

func (m *OrderManager) validateCreate(req *CreateOrderRequest) (*domain.Order, error) {
	const op = "create_order"
	if req.InitiatorID == "" {
		return nil, domain.E(domain.KindInvalid, op, fmt.Errorf("initiator id is required"))
	}
	dir := domain.Direction(strings.ToLower(req.Direction))
	if !dir.Valid() {
		return nil, domain.E(domain.KindInvalid, op, fmt.Errorf("invalid direction %q", req.Direction))
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, domain.E(domain.KindInvalid, op, fmt.Errorf("invalid amount %q: %w", req.Amount, err))
	}
	if !amount.IsPositive() {
		return nil, domain.E(domain.KindInvalid, op, domain.ErrInvalidAmount)
	}
	base := strings.ToUpper(strings.TrimSpace(req.BaseCurrency))
	quote := strings.ToUpper(strings.TrimSpace(req.QuoteCurrency))
	if base == "" || quote == "" {
		return nil, domain.E(domain.KindInvalid, op, fmt.Errorf("base and quote currency are required"))
	}
	if base == quote {
		return nil, domain.E(domain.KindInvalid, op, domain.ErrSameCurrency)
	}
	if len(m.currencies) > 0 && (!m.currencies[base] || !m.currencies[quote]) {
		return nil, domain.E(domain.KindInvalid, op, fmt.Errorf("unsupported currency pair %s/%s", base, quote))
	}
	return &domain.Order{
		InitiatorID:   req.InitiatorID,
		Direction:     dir,
		BaseCurrency:  base,
		QuoteCurrency: quote,
		Amount:        amount,
	}, nil
}

// FulfillOrder 对手方成交订单。
// 订单完成、结算记录与三条记账在一个本地事务中写入，之后按 对手方扣款、对手方入账、发起方入账 的顺序执行。
func (m *OrderManager) FulfillOrder(ctx context.Context, fulfillerID, orderID, credential string) (*domain.Order, error) {
	const op = "fulfill_order"
	defer logger.LogDuration(ctx, "order fulfillment completed", "order_id", orderID, "fulfiller_id", fulfillerID)()

	order, err := m.repo.FindPendingByID(ctx, orderID)
	if err != nil {
		return nil, m.fail(op, domain.Wrap(op, err))
	}
	if !domain.CanFulfill(order, fulfillerID) {
		return nil, m.fail(op, domain.E(domain.KindForbidden, op, domain.ErrSelfFulfill).WithOrder(orderID))
	}
	if err := m.requireFunded(ctx, op, order); err != nil {
		return nil, m.fail(op, err)
	}

	var payWallet, fulfillerRecv, initiatorRecv *domain.Wallet
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		payWallet, err = m.ledger.GetWalletByCurrency(gctx, credential, fulfillerID, order.CounterCurrency())
		return err
	})
	g.Go(func() (err error) {
		fulfillerRecv, err = m.ledger.GetWalletByCurrency(gctx, credential, fulfillerID, order.DebitCurrency())
		return err
	})
	g.Go(func() (err error) {
		initiatorRecv, err = m.ledger.GetWalletByCurrency(gctx, credential, order.InitiatorID, order.CounterCurrency())
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, m.fail(op, domain.Wrap(op, err))
	}

	pay := order.CounterAmount()
	if payWallet.Balance.LessThan(pay) {
		return nil, m.fail(op, domain.E(domain.KindForbidden, op,
			fmt.Errorf("%w: %s balance %s < %s", domain.ErrInsufficientFunds, payWallet.Currency, payWallet.Balance, pay)).WithOrder(orderID))
	}

	initiatorRecord, err := m.repo.GetRecord(ctx, order.ID, order.InitiatorID)
	if err != nil {
		return nil, m.fail(op, domain.Wrap(op, err))
	}

	now := m.now()
	postings := []*domain.Posting{
		domain.NewPosting(m.newID(), order.ID, fulfillerID, domain.LegFulfillerDebit, payWallet, domain.Withdraw, pay, now),
		domain.NewPosting(m.newID(), order.ID, fulfillerID, domain.LegFulfillerCredit, fulfillerRecv, domain.Deposit, order.DebitAmount(), now),
		domain.NewPosting(m.newID(), order.ID, order.InitiatorID, domain.LegInitiatorCredit, initiatorRecv, domain.Deposit, pay, now),
	}
	change := &domain.StatusChange{
		OrderID:       order.ID,
		From:          domain.OrderStatusPending,
		To:            domain.OrderStatusCompleted,
		RecordParties: []string{order.InitiatorID},
		RecordStatus:  domain.OrderStatusCompleted,
		NewRecords: []*domain.SettlementRecord{{
			ID:           m.newID(),
			OrderID:      order.ID,
			PartyID:      fulfillerID,
			Amount:       order.Amount,
			ExchangeRate: initiatorRecord.ExchangeRate,
			TotalCost:    order.TotalCost,
			Status:       domain.OrderStatusCompleted,
			CreatedAt:    now,
			UpdatedAt:    now,
		}},
		NewPostings: postings,
		At:          now,
	}
	if err := m.repo.UpdateStatusIfExpected(ctx, change); err != nil {
		return nil, m.fail(op, domain.Wrap(op, err))
	}

	order.Status = domain.OrderStatusCompleted
	settled, err := m.advance(context.WithoutCancel(ctx), op, credential, order, postings)
	if err != nil {
		return nil, m.fail(op, err)
	}
	if settled {
		m.notify(ctx, order.InitiatorID, order.ID)
	}
	m.metrics.RecordOrderOp(op, "ok")
	return m.reload(ctx, op, order.ID)
}

// CancelOrder 发起方撤销待成交订单，并原额退回创建时冻结的资金。
func (m *OrderManager) CancelOrder(ctx context.Context, callerID, orderID, credential string) (*domain.Order, error) {
	const op = "cancel_order"
	defer logger.LogDuration(ctx, "order cancellation completed", "order_id", orderID)()

	order, err := m.repo.Get(ctx, orderID)
	if err != nil {
		return nil, m.fail(op, domain.Wrap(op, err))
	}
	if !domain.CanCancel(order, callerID) {
		cause := domain.ErrNotPending
		if callerID != order.InitiatorID {
			cause = domain.ErrNotInitiator
		}
		return nil, m.fail(op, domain.E(domain.KindForbidden, op, cause).WithOrder(orderID))
	}
	if err := m.requireFunded(ctx, op, order); err != nil {
		return nil, m.fail(op, err)
	}

	refundWallet, err := m.ledger.GetWalletByCurrency(ctx, credential, order.InitiatorID, order.DebitCurrency())
	if err != nil {
		return nil, m.fail(op, domain.Wrap(op, err))
	}
	if _, err := m.repo.GetRecord(ctx, order.ID, order.InitiatorID); err != nil {
		return nil, m.fail(op, domain.Wrap(op, err))
	}

	now := m.now()
	refund := domain.NewPosting(m.newID(), order.ID, order.InitiatorID, domain.LegInitiatorRefund, refundWallet, domain.Deposit, order.DebitAmount(), now)
	change := &domain.StatusChange{
		OrderID:       order.ID,
		From:          domain.OrderStatusPending,
		To:            domain.OrderStatusCancelled,
		RecordParties: []string{order.InitiatorID},
		RecordStatus:  domain.OrderStatusCancelled,
		NewPostings:   []*domain.Posting{refund},
		At:            now,
	}
	if err := m.repo.UpdateStatusIfExpected(ctx, change); err != nil {
		return nil, m.fail(op, domain.Wrap(op, err))
	}

	order.Status = domain.OrderStatusCancelled
	if _, err := m.advance(context.WithoutCancel(ctx), op, credential, order, []*domain.Posting{refund}); err != nil {
		return nil, m.fail(op, err)
	}
	m.metrics.RecordOrderOp(op, "ok")
	return m.reload(ctx, op, order.ID)
}

// ReconcileOrder 以同一幂等键续跑订单中结果未知的记账
func (m *OrderManager) ReconcileOrder(ctx context.Context, orderID, credential string) (*domain.Order, error) {
	const op = "reconcile_order"

	order, err := m.repo.Get(ctx, orderID)
	if err != nil {
		return nil, m.fail(op, domain.Wrap(op, err))
	}
	postings, err := m.repo.ListPostings(ctx, orderID)
	if err != nil {
		return nil, m.fail(op, domain.Wrap(op, err))
	}

	settled, err := m.advance(context.WithoutCancel(ctx), op, credential, order, postings)
	if err != nil {
		return nil, m.fail(op, err)
	}
	if settled {
		m.notify(ctx, order.InitiatorID, order.ID)
	}
	m.metrics.RecordOrderOp(op, "ok")
	return m.reload(ctx, op, orderID)
}

// requireFunded 创建时的冻结扣款必须已被账本确认。
// 扣款已被拒绝而订单仍为 pending 时，补做 failed 迁移。
func (m *OrderManager) requireFunded(ctx context.Context, op string, order *domain.Order) error {
	postings, err := m.repo.ListPostings(ctx, order.ID)
	if err != nil {
		return domain.Wrap(op, err)
	}
	for _, p := range postings {
		if p.Leg != domain.LegInitiatorDebit {
			continue
		}
		if p.Status == domain.PostingApplied {
			return nil
		}
		if p.Status == domain.PostingRejected {
			cause := fmt.Errorf("%s previously rejected: %s", p.Leg, p.LastError)
			if err := m.onRejected(ctx, op, order, p, postings, cause); errors.Is(err, domain.Inconsistent) {
				return err
			}
		}
	}
	return domain.E(domain.KindConflict, op, domain.ErrNotFunded).WithOrder(order.ID).WithLeg(domain.LegInitiatorDebit)
}

// advance 按腿顺序执行待执行记账，遇到首个未确认的腿即停止。
// 返回值 settled 表示本次调用完成了发起方入账，即一笔成交最终结清。
func (m *OrderManager) advance(ctx context.Context, op, credential string, order *domain.Order, postings []*domain.Posting) (bool, error) {
	// 扣款已被拒绝但补偿未落库：先补做补偿，绝不执行同批次的入账
	if rejected := uncompensated(order, postings); rejected != nil {
		cause := fmt.Errorf("%s previously rejected: %s", rejected.Leg, rejected.LastError)
		return false, m.onRejected(ctx, op, order, rejected, postings, cause)
	}

	budget, cancel := context.WithTimeout(ctx, m.settleTTL)
	defer cancel()

	settled := false
	for _, p := range postings {
		if p.Status != domain.PostingPending {
			continue
		}
		outcome, err := m.executor.Execute(budget, credential, p)
		switch outcome {
		case OutcomeApplied:
			if p.Leg == domain.LegInitiatorCredit {
				settled = true
			}
		case OutcomeRejected:
			return false, m.onRejected(ctx, op, order, p, postings, err)
		default:
			return false, m.inconsistent(ctx, op, order.ID, p.Leg, err)
		}
	}
	return settled, nil
}

// uncompensated 找出已被拒绝、但订单状态尚未随之迁移的扣款腿。
// 冻结扣款被拒时订单应为 failed；对手方扣款被拒时订单应已回到 pending。
// 同一订单可能留有此前被回滚的对手方扣款，只有当前批次不存在有效扣款时才需要补偿。
func uncompensated(order *domain.Order, postings []*domain.Posting) *domain.Posting {
	var rejectedDebit *domain.Posting
	activeDebit := false
	for _, p := range postings {
		switch p.Leg {
		case domain.LegInitiatorDebit:
			if p.Status == domain.PostingRejected && order.Status == domain.OrderStatusPending {
				return p
			}
		case domain.LegFulfillerDebit:
			if p.Status == domain.PostingRejected {
				rejectedDebit = p
			} else {
				activeDebit = true
			}
		}
	}
	if order.Status == domain.OrderStatusCompleted && rejectedDebit != nil && !activeDebit {
		return rejectedDebit
	}
	return nil
}

// onRejected 处理账本明确拒绝的记账：
// 冻结扣款被拒则订单置为 failed；对手方扣款被拒且尚无入账时回滚成交；其余情况需人工介入
func (m *OrderManager) onRejected(ctx context.Context, op string, order *domain.Order, rejected *domain.Posting, postings []*domain.Posting, cause error) error {
	now := m.now()
	switch rejected.Leg {
	case domain.LegInitiatorDebit:
		err := m.repo.UpdateStatusIfExpected(ctx, &domain.StatusChange{
			OrderID:       order.ID,
			From:          domain.OrderStatusPending,
			To:            domain.OrderStatusFailed,
			RecordParties: []string{order.InitiatorID},
			RecordStatus:  domain.OrderStatusFailed,
			At:            now,
		})
		if err != nil {
			return m.inconsistent(ctx, op, order.ID, rejected.Leg, err)
		}
		order.Status = domain.OrderStatusFailed
		m.logger.WarnContext(ctx, "initiator debit rejected, order failed", "order_id", order.ID, "error", cause)
		return domain.E(domain.KindUpstreamUnavailable, op, cause).WithOrder(order.ID).WithLeg(rejected.Leg)

	case domain.LegFulfillerDebit:
		var batch []*domain.Posting
		for _, p := range postings {
			switch p.Leg {
			case domain.LegFulfillerCredit, domain.LegInitiatorCredit:
				if p.Status == domain.PostingApplied {
					return m.inconsistent(ctx, op, order.ID, rejected.Leg, cause)
				}
				if p.Status == domain.PostingPending {
					p.Status = domain.PostingRejected
					p.LastError = "compensated: " + string(rejected.Leg) + " rejected"
					batch = append(batch, p)
				}
			}
		}
		err := m.repo.UpdateStatusIfExpected(ctx, &domain.StatusChange{
			OrderID:             order.ID,
			From:                domain.OrderStatusCompleted,
			To:                  domain.OrderStatusPending,
			RecordParties:       []string{order.InitiatorID},
			RecordStatus:        domain.OrderStatusPending,
			RemoveRecordParties: []string{rejected.PartyID},
			UpdatedPostings:     append(batch, rejected),
			At:                  now,
		})
		if err != nil {
			return m.inconsistent(ctx, op, order.ID, rejected.Leg, err)
		}
		order.Status = domain.OrderStatusPending
		m.logger.WarnContext(ctx, "fulfiller debit rejected, fulfillment rolled back", "order_id", order.ID, "fulfiller_id", rejected.PartyID, "error", cause)
		return domain.E(domain.KindForbidden, op, cause).WithOrder(order.ID).WithLeg(rejected.Leg)
	}
	return m.inconsistent(ctx, op, order.ID, rejected.Leg, cause)
}

// inconsistent 多步结算停在中间状态，必须记录以便对账或人工处理
func (m *OrderManager) inconsistent(ctx context.Context, op, orderID string, leg domain.LegKind, cause error) error {
	m.logger.ErrorContext(ctx, "settlement left in inconsistent state",
		"op", op, "order_id", orderID, "leg", leg, "error", cause)
	return domain.E(domain.KindInconsistent, op, cause).WithOrder(orderID).WithLeg(leg)
}

func (m *OrderManager) fail(op string, err error) error {
	m.metrics.RecordOrderOp(op, string(domain.KindOf(err)))
	return err
}

func (m *OrderManager) reload(ctx context.Context, op, orderID string) (*domain.Order, error) {
	order, err := m.repo.Get(ctx, orderID)
	if err != nil {
		return nil, domain.Wrap(op, err)
	}
	return order, nil
}

// notify 异步投递成交通知，结果不影响主流程
func (m *OrderManager) notify(ctx context.Context, userID, orderID string) {
	if m.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, m.notifyTTL)
		defer cancel()
		if err := m.notifier.Enqueue(ctx, domain.EventSettlementCompleted, userID, orderID); err != nil {
			m.metrics.RecordNotificationFailure()
			m.logger.WarnContext(ctx, "failed to enqueue settlement notification", "order_id", orderID, "user_id", userID, "error", err)
		}
	}()
}
