package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/wyfcoding/fxsettlement/internal/order/domain"
	"github.com/wyfcoding/fxsettlement/pkg/metrics"
)

// Outcome 一次记账执行的结果
type Outcome int

const (
	// 账本已确认
	OutcomeApplied Outcome = iota
	// 账本给出业务拒绝，不会再重试
	OutcomeRejected
	// 重试耗尽或凭证失效，未得到确定应答
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ExecutorConfig 记账执行配置
type ExecutorConfig struct {
	// 单次账本调用超时
	CallTimeout time.Duration
	// 最大尝试次数
	MaxAttempts int
	// 指数退避初始间隔与上限
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// 单条记账重试的总时长上限
	MaxElapsed time.Duration
}

// PostingExecutor 以幂等键将记账发往账本，结果未知时指数退避重试，并回写记账行
type PostingExecutor struct {
	ledger  domain.LedgerClient
	repo    domain.OrderRepository
	cfg     ExecutorConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewPostingExecutor 构造函数
func NewPostingExecutor(ledger domain.LedgerClient, repo domain.OrderRepository, cfg ExecutorConfig, m *metrics.Metrics, logger *slog.Logger) *PostingExecutor {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 15 * time.Second
	}
	return &PostingExecutor{
		ledger:  ledger,
		repo:    repo,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("module", "posting_executor"),
		now:     time.Now,
	}
}

// Execute 执行一条记账并回写结果；p 会被原地更新。
// 只有账本给出的业务拒绝才返回 OutcomeRejected；超时、不可达与凭证失效都视为结果未知，
// 记账保持 pending，由对账任务以同一幂等键续跑。
func (e *PostingExecutor) Execute(ctx context.Context, credential string, p *domain.Posting) (Outcome, error) {
	switch p.Status {
	case domain.PostingApplied:
		return OutcomeApplied, nil
	case domain.PostingRejected:
		return OutcomeRejected, nil
	}

	mutation := &domain.WalletMutation{
		WalletID:       p.WalletID,
		UserID:         p.PartyID,
		Amount:         p.Amount,
		Direction:      p.Direction,
		IdempotencyKey: p.IdempotencyKey,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialInterval
	b.MaxInterval = e.cfg.MaxInterval

	operation := func() (*domain.Wallet, error) {
		p.Attempts++
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()

		w, err := e.ledger.UpdateWallet(callCtx, credential, mutation)
		switch {
		case err == nil:
			return w, nil
		case definitiveRefusal(err), errors.Is(err, domain.ErrCredentialRejected):
			return nil, backoff.Permanent(err)
		}
		e.logger.WarnContext(ctx, "ledger mutation outcome unknown, retrying",
			"order_id", p.OrderID, "leg", p.Leg, "attempt", p.Attempts, "error", err)
		return nil, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(e.cfg.MaxElapsed),
	)

	outcome := OutcomeApplied
	p.LastError = ""
	switch {
	case err == nil:
		p.Status = domain.PostingApplied
	case definitiveRefusal(err):
		outcome = OutcomeRejected
		p.Status = domain.PostingRejected
		p.LastError = err.Error()
	default:
		outcome = OutcomeUnknown
		p.LastError = err.Error()
	}
	p.UpdatedAt = e.now()
	e.metrics.RecordPosting(string(p.Leg), outcome.String())

	// 回写失败时记账保持 pending，由对账任务以同一幂等键重放
	if uerr := e.repo.UpdatePosting(context.WithoutCancel(ctx), p); uerr != nil {
		e.logger.ErrorContext(ctx, "failed to record posting outcome",
			"order_id", p.OrderID, "leg", p.Leg, "outcome", outcome.String(), "error", uerr)
	}

	if outcome == OutcomeApplied {
		return outcome, nil
	}
	return outcome, err
}

// definitiveRefusal 账本受理了请求并按业务规则拒绝。
// 幂等键已生效时账本会重放成功应答，因此业务拒绝说明该键从未生效。
func definitiveRefusal(err error) bool {
	if errors.Is(err, domain.ErrCredentialRejected) {
		return false
	}
	switch domain.KindOf(err) {
	case domain.KindForbidden, domain.KindNotFound, domain.KindInvalid:
		return true
	}
	return false
}
