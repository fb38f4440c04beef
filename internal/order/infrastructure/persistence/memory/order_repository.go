// Package memory 提供基于内存的订单仓储实现，用于测试与本地开发
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wyfcoding/fxsettlement/internal/order/domain"
)

type recordKey struct {
	orderID string
	partyID string
}

// OrderRepository 内存仓储，单把读写锁保证每个方法的原子性
type OrderRepository struct {
	mu       sync.RWMutex
	seq      int64
	orders   map[string]*domain.Order
	order    map[string]int64
	records  map[recordKey]*domain.SettlementRecord
	postings map[string]*domain.Posting
	// orderId:partyId:legKind 到记账 ID，每条腿只有一行
	byLeg map[string]string
}

// NewOrderRepository 创建内存仓储
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:   make(map[string]*domain.Order),
		order:    make(map[string]int64),
		records:  make(map[recordKey]*domain.SettlementRecord),
		postings: make(map[string]*domain.Posting),
		byLeg:    make(map[string]string),
	}
}

var _ domain.OrderRepository = (*OrderRepository)(nil)

func legKey(p *domain.Posting) string {
	return domain.IdempotencyKey(p.OrderID, p.PartyID, p.Leg)
}

func (r *OrderRepository) InsertOrderWithRecord(_ context.Context, o *domain.Order, rec *domain.SettlementRecord, p *domain.Posting) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.ID]; ok {
		return domain.E(domain.KindConflict, "insert order", fmt.Errorf("order %s already exists", o.ID))
	}
	k := recordKey{rec.OrderID, rec.PartyID}
	if _, ok := r.records[k]; ok {
		return domain.E(domain.KindConflict, "insert order", fmt.Errorf("record for %s/%s already exists", rec.OrderID, rec.PartyID))
	}
	if _, ok := r.byLeg[legKey(p)]; ok {
		return domain.E(domain.KindConflict, "insert order", fmt.Errorf("posting %s already exists", p.IdempotencyKey))
	}

	r.seq++
	oc, rc, pc := *o, *rec, *p
	r.orders[o.ID] = &oc
	r.order[o.ID] = r.seq
	r.records[k] = &rc
	r.postings[p.ID] = &pc
	r.byLeg[legKey(p)] = p.ID
	return nil
}

func (r *OrderRepository) Get(_ context.Context, orderID string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[orderID]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "get order", domain.ErrOrderNotFound).WithOrder(orderID)
	}
	c := *o
	return &c, nil
}

func (r *OrderRepository) FindPendingByID(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := r.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.IsPending() {
		return nil, domain.E(domain.KindNotFound, "find pending order", domain.ErrOrderNotFound).WithOrder(orderID)
	}
	return o, nil
}

func (r *OrderRepository) ListPending(_ context.Context) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Order, 0)
	for _, o := range r.orders {
		if o.IsPending() {
			c := *o
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return r.order[out[i].ID] < r.order[out[j].ID]
	})
	return out, nil
}

func (r *OrderRepository) GetRecord(_ context.Context, orderID, partyID string) (*domain.SettlementRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[recordKey{orderID, partyID}]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "get record", domain.ErrRecordNotFound).WithOrder(orderID)
	}
	c := *rec
	return &c, nil
}

func (r *OrderRepository) ListRecords(_ context.Context, orderID string) ([]*domain.SettlementRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.SettlementRecord, 0, 2)
	for k, rec := range r.records {
		if k.orderID == orderID {
			c := *rec
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *OrderRepository) UpdateStatusIfExpected(_ context.Context, ch *domain.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[ch.OrderID]
	if !ok {
		return domain.E(domain.KindNotFound, "update status", domain.ErrOrderNotFound).WithOrder(ch.OrderID)
	}
	if o.Status != ch.From {
		return domain.E(domain.KindConflict, "update status", domain.ErrStatusChanged).WithOrder(ch.OrderID)
	}

	// 先校验，再修改，保证失败时不留下部分变更
	for _, party := range ch.RecordParties {
		if _, ok := r.records[recordKey{ch.OrderID, party}]; !ok {
			return domain.E(domain.KindNotFound, "update status", domain.ErrRecordNotFound).WithOrder(ch.OrderID)
		}
	}
	for _, rec := range ch.NewRecords {
		if _, ok := r.records[recordKey{rec.OrderID, rec.PartyID}]; ok {
			return domain.E(domain.KindConflict, "update status", fmt.Errorf("record for %s/%s already exists", rec.OrderID, rec.PartyID))
		}
	}
	for _, p := range ch.NewPostings {
		if id, ok := r.byLeg[legKey(p)]; ok && r.postings[id].Status != domain.PostingRejected {
			return domain.E(domain.KindConflict, "update status", fmt.Errorf("posting %s already exists", p.IdempotencyKey))
		}
	}

	o.Status = ch.To
	o.UpdatedAt = ch.At
	for _, party := range ch.RecordParties {
		rec := r.records[recordKey{ch.OrderID, party}]
		rec.Status = ch.RecordStatus
		rec.UpdatedAt = ch.At
	}
	for _, party := range ch.RemoveRecordParties {
		delete(r.records, recordKey{ch.OrderID, party})
	}
	for _, rec := range ch.NewRecords {
		c := *rec
		r.records[recordKey{rec.OrderID, rec.PartyID}] = &c
	}
	for _, p := range ch.NewPostings {
		if id, ok := r.byLeg[legKey(p)]; ok {
			// 复用被拒绝的记账行，以新幂等键重新发起
			prev := r.postings[id]
			p.ID = id
			p.CreatedAt = prev.CreatedAt
			p.Reissue(prev.Revision + 1)
		}
		c := *p
		r.postings[c.ID] = &c
		r.byLeg[legKey(p)] = c.ID
	}
	for _, p := range ch.UpdatedPostings {
		if existing, ok := r.postings[p.ID]; ok {
			existing.Status = p.Status
			existing.Attempts = p.Attempts
			existing.LastError = p.LastError
			existing.UpdatedAt = ch.At
		}
	}
	return nil
}

func (r *OrderRepository) ListPostings(_ context.Context, orderID string) ([]*domain.Posting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Posting, 0, 4)
	for _, p := range r.postings {
		if p.OrderID == orderID {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Leg.Order() < out[j].Leg.Order() })
	return out, nil
}

func (r *OrderRepository) ListPendingPostings(_ context.Context, before time.Time, limit int) ([]*domain.Posting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Posting, 0)
	for _, p := range r.postings {
		if p.Status == domain.PostingPending && p.UpdatedAt.Before(before) {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].Leg.Order() < out[j].Leg.Order()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OrderRepository) CountPendingPostings(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, p := range r.postings {
		if p.Status == domain.PostingPending {
			n++
		}
	}
	return n, nil
}

func (r *OrderRepository) UpdatePosting(_ context.Context, p *domain.Posting) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.postings[p.ID]
	if !ok {
		return domain.E(domain.KindNotFound, "update posting", fmt.Errorf("posting %s not found", p.ID)).WithOrder(p.OrderID)
	}
	existing.Status = p.Status
	existing.Attempts = p.Attempts
	existing.LastError = p.LastError
	existing.UpdatedAt = p.UpdatedAt
	return nil
}
