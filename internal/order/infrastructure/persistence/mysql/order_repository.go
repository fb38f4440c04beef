// Package mysql 提供了订单仓储接口的 GORM 实现，兼容 MySQL 与 PostgreSQL。
package mysql

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/wyfcoding/fxsettlement/internal/order/domain"
	"github.com/wyfcoding/fxsettlement/pkg/db"
	"github.com/wyfcoding/fxsettlement/pkg/logger"
	"gorm.io/gorm"
)

const maxLastErrorLen = 512

// orderRepositoryImpl 是 domain.OrderRepository 接口的 GORM 实现。
type orderRepositoryImpl struct {
	db *db.DB
}

// NewOrderRepository 创建订单仓储实例
func NewOrderRepository(database *db.DB) domain.OrderRepository {
	return &orderRepositoryImpl{db: database}
}

// AutoMigrate 创建或更新三张表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&OrderModel{}, &SettlementRecordModel{}, &PostingModel{})
}

// storageErr 将存储层错误映射为领域错误，存储故障一律视为上游不可用
func storageErr(ctx context.Context, op, orderID string, err error) error {
	var de *domain.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.E(domain.KindNotFound, op, err).WithOrder(orderID)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return domain.E(domain.KindConflict, op, err).WithOrder(orderID)
	default:
		logger.Error(ctx, "order_repository."+op+" failed", "order_id", orderID, "error", err)
		return domain.E(domain.KindUpstreamUnavailable, op, err).WithOrder(orderID)
	}
}

// InsertOrderWithRecord 实现 domain.OrderRepository.InsertOrderWithRecord
func (r *orderRepositoryImpl) InsertOrderWithRecord(ctx context.Context, o *domain.Order, rec *domain.SettlementRecord, p *domain.Posting) error {
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(toOrderModel(o)).Error; err != nil {
			return err
		}
		if err := tx.Create(toRecordModel(rec)).Error; err != nil {
			return err
		}
		return tx.Create(toPostingModel(p)).Error
	})
	if err != nil {
		return storageErr(ctx, "insert_order", o.ID, err)
	}
	return nil
}

// Get 实现 domain.OrderRepository.Get
func (r *orderRepositoryImpl) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	var m OrderModel
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&m).Error; err != nil {
		return nil, storageErr(ctx, "get", orderID, err)
	}
	return m.toDomain(), nil
}

// FindPendingByID 实现 domain.OrderRepository.FindPendingByID
func (r *orderRepositoryImpl) FindPendingByID(ctx context.Context, orderID string) (*domain.Order, error) {
	var m OrderModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", orderID, string(domain.OrderStatusPending)).
		First(&m).Error
	if err != nil {
		return nil, storageErr(ctx, "find_pending", orderID, err)
	}
	return m.toDomain(), nil
}

// ListPending 实现 domain.OrderRepository.ListPending
func (r *orderRepositoryImpl) ListPending(ctx context.Context) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.OrderStatusPending)).
		Order("created_at asc, id asc").
		Find(&models).Error
	if err != nil {
		return nil, storageErr(ctx, "list_pending", "", err)
	}
	orders := make([]*domain.Order, len(models))
	for i := range models {
		orders[i] = models[i].toDomain()
	}
	return orders, nil
}

// GetRecord 实现 domain.OrderRepository.GetRecord
func (r *orderRepositoryImpl) GetRecord(ctx context.Context, orderID, partyID string) (*domain.SettlementRecord, error) {
	var m SettlementRecordModel
	err := r.db.WithContext(ctx).Where("order_id = ? AND party_id = ?", orderID, partyID).First(&m).Error
	if err != nil {
		return nil, storageErr(ctx, "get_record", orderID, err)
	}
	return m.toDomain(), nil
}

// ListRecords 实现 domain.OrderRepository.ListRecords
func (r *orderRepositoryImpl) ListRecords(ctx context.Context, orderID string) ([]*domain.SettlementRecord, error) {
	var models []SettlementRecordModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at asc").Find(&models).Error; err != nil {
		return nil, storageErr(ctx, "list_records", orderID, err)
	}
	out := make([]*domain.SettlementRecord, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

// UpdateStatusIfExpected 实现 domain.OrderRepository.UpdateStatusIfExpected
// 以 UPDATE ... WHERE id = ? AND status = ? 作为乐观并发控制，影响行数为 0 即竞争失败
func (r *orderRepositoryImpl) UpdateStatusIfExpected(ctx context.Context, ch *domain.StatusChange) error {
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&OrderModel{}).
			Where("id = ? AND status = ?", ch.OrderID, string(ch.From)).
			Updates(map[string]any{"status": string(ch.To), "updated_at": ch.At})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&OrderModel{}).Where("id = ?", ch.OrderID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domain.E(domain.KindNotFound, "update_status", domain.ErrOrderNotFound).WithOrder(ch.OrderID)
			}
			return domain.E(domain.KindConflict, "update_status", domain.ErrStatusChanged).WithOrder(ch.OrderID)
		}

		if len(ch.RecordParties) > 0 {
			res := tx.Model(&SettlementRecordModel{}).
				Where("order_id = ? AND party_id IN ?", ch.OrderID, ch.RecordParties).
				Updates(map[string]any{"status": string(ch.RecordStatus), "updated_at": ch.At})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != int64(len(ch.RecordParties)) {
				return domain.E(domain.KindNotFound, "update_status", domain.ErrRecordNotFound).WithOrder(ch.OrderID)
			}
		}
		if len(ch.RemoveRecordParties) > 0 {
			err := tx.Where("order_id = ? AND party_id IN ?", ch.OrderID, ch.RemoveRecordParties).
				Delete(&SettlementRecordModel{}).Error
			if err != nil {
				return err
			}
		}
		for _, rec := range ch.NewRecords {
			if err := tx.Create(toRecordModel(rec)).Error; err != nil {
				return err
			}
		}
		for _, p := range ch.NewPostings {
			if err := insertPosting(tx, p); err != nil {
				return err
			}
		}
		for _, p := range ch.UpdatedPostings {
			err := tx.Model(&PostingModel{}).Where("id = ?", p.ID).Updates(map[string]any{
				"status":     string(p.Status),
				"attempts":   p.Attempts,
				"last_error": truncate(p.LastError, maxLastErrorLen),
				"updated_at": ch.At,
			}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storageErr(ctx, "update_status", ch.OrderID, err)
	}
	return nil
}

// insertPosting 写入记账；同一腿的记账已被拒绝时复用该行，以新幂等键重置为待执行
func insertPosting(tx *gorm.DB, p *domain.Posting) error {
	var existing PostingModel
	err := tx.Where("order_id = ? AND party_id = ? AND leg = ?", p.OrderID, p.PartyID, string(p.Leg)).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(toPostingModel(p)).Error
	}
	if err != nil {
		return err
	}
	if existing.Status != string(domain.PostingRejected) {
		return domain.E(domain.KindConflict, "insert_posting", fmt.Errorf("posting %s already exists", existing.IdempotencyKey)).WithOrder(p.OrderID)
	}

	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt
	p.Reissue(existing.Revision + 1)
	return tx.Model(&PostingModel{}).Where("id = ?", existing.ID).Updates(map[string]any{
		"wallet_id":       p.WalletID,
		"currency":        p.Currency,
		"direction":       string(p.Direction),
		"amount":          p.Amount,
		"idempotency_key": p.IdempotencyKey,
		"revision":        p.Revision,
		"status":          string(p.Status),
		"attempts":        p.Attempts,
		"last_error":      p.LastError,
		"updated_at":      p.UpdatedAt,
	}).Error
}

// ListPostings 实现 domain.OrderRepository.ListPostings
func (r *orderRepositoryImpl) ListPostings(ctx context.Context, orderID string) ([]*domain.Posting, error) {
	var models []PostingModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Find(&models).Error; err != nil {
		return nil, storageErr(ctx, "list_postings", orderID, err)
	}
	out := make([]*domain.Posting, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Leg.Order() < out[j].Leg.Order() })
	return out, nil
}

// ListPendingPostings 实现 domain.OrderRepository.ListPendingPostings
func (r *orderRepositoryImpl) ListPendingPostings(ctx context.Context, before time.Time, limit int) ([]*domain.Posting, error) {
	var models []PostingModel
	q := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", string(domain.PostingPending), before).
		Order("updated_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, storageErr(ctx, "list_pending_postings", "", err)
	}
	out := make([]*domain.Posting, len(models))
	for i := range models {
		out[i] = models[i].toDomain()
	}
	return out, nil
}

// CountPendingPostings 实现 domain.OrderRepository.CountPendingPostings
func (r *orderRepositoryImpl) CountPendingPostings(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&PostingModel{}).Where("status = ?", string(domain.PostingPending)).Count(&n).Error
	if err != nil {
		return 0, storageErr(ctx, "count_pending_postings", "", err)
	}
	return n, nil
}

// UpdatePosting 实现 domain.OrderRepository.UpdatePosting
func (r *orderRepositoryImpl) UpdatePosting(ctx context.Context, p *domain.Posting) error {
	res := r.db.WithContext(ctx).Model(&PostingModel{}).Where("id = ?", p.ID).Updates(map[string]any{
		"status":     string(p.Status),
		"attempts":   p.Attempts,
		"last_error": truncate(p.LastError, maxLastErrorLen),
		"updated_at": p.UpdatedAt,
	})
	if res.Error != nil {
		return storageErr(ctx, "update_posting", p.OrderID, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.E(domain.KindNotFound, "update_posting", fmt.Errorf("posting %s not found", p.ID)).WithOrder(p.OrderID)
	}
	return nil
}

// truncate 截断到 n 字节以内，不切断多字节字符
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
