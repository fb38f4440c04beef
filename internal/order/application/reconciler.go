package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/wyfcoding/fxsettlement/internal/order/domain"
	"github.com/wyfcoding/fxsettlement/pkg/metrics"
)

// ReconcilerConfig 对账任务配置
type ReconcilerConfig struct {
	Interval time.Duration
	// 记账停留在 pending 超过该时长才接管，避免与进行中的请求争抢
	Grace time.Duration
	Batch int
	// 调用账本时使用的服务凭证
	ServiceToken string
}

// Reconciler 定期扫描结果未知的记账，并以同一幂等键续跑
type Reconciler struct {
	repo    domain.OrderRepository
	manager *OrderManager
	cfg     ReconcilerConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewReconciler(repo domain.OrderRepository, manager *OrderManager, cfg ReconcilerConfig, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	return &Reconciler{
		repo:    repo,
		manager: manager,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("module", "reconciler"),
		now:     time.Now,
	}
}

// Start 阻塞运行直到 ctx 结束
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("settlement reconciler started", "interval", r.cfg.Interval, "grace", r.cfg.Grace)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("settlement reconciler stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce 执行一轮对账，返回仍未结清的订单数
func (r *Reconciler) RunOnce(ctx context.Context) int {
	postings, err := r.repo.ListPendingPostings(ctx, r.now().Add(-r.cfg.Grace), r.cfg.Batch)
	if err != nil {
		r.logger.Error("failed to list pending postings", "error", err)
		return 0
	}

	seen := make(map[string]bool, len(postings))
	unresolved := 0
	for _, p := range postings {
		if seen[p.OrderID] {
			continue
		}
		seen[p.OrderID] = true

		order, err := r.manager.ReconcileOrder(ctx, p.OrderID, r.cfg.ServiceToken)
		if err != nil {
			unresolved++
			r.logger.Error("order still unresolved after reconciliation",
				"order_id", p.OrderID, "kind", domain.KindOf(err), "error", err)
			continue
		}
		r.logger.Info("order reconciled", "order_id", order.ID, "status", order.Status)
	}

	if n, err := r.repo.CountPendingPostings(ctx); err == nil {
		r.metrics.SetPendingPostings(int(n))
	}
	return unresolved
}
