package mysql

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/fxsettlement/internal/order/domain"
	"github.com/wyfcoding/fxsettlement/pkg/db"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) domain.OrderRepository {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "orders.db")), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatal(err)
	}
	// sqlite 单写者，串行化连接避免 database is locked
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewOrderRepository(&db.DB{DB: gdb})
}

func seedOrder(t *testing.T, repo domain.OrderRepository, id string, at time.Time) {
	t.Helper()
	o := &domain.Order{
		ID: id, InitiatorID: "alice", Direction: domain.DirectionBuy, BaseCurrency: "NGN", QuoteCurrency: "USD",
		Amount: decimal.NewFromInt(100), TotalCost: decimal.NewFromInt(100), ExchangeRate: decimal.NewFromInt(1),
		Status: domain.OrderStatusPending, CreatedAt: at, UpdatedAt: at,
	}
	rec := &domain.SettlementRecord{
		ID: id + "-r", OrderID: id, PartyID: "alice", Amount: o.Amount, ExchangeRate: o.ExchangeRate, TotalCost: o.TotalCost,
		Status: domain.OrderStatusPending, CreatedAt: at, UpdatedAt: at,
	}
	p := posting(id+"-p", id, "alice", domain.LegInitiatorDebit, "USD", domain.Withdraw, at)
	if err := repo.InsertOrderWithRecord(context.Background(), o, rec, p); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func posting(id, orderID, party string, leg domain.LegKind, ccy string, dir domain.WalletDirection, at time.Time) *domain.Posting {
	w := &domain.Wallet{ID: "w-" + party + "-" + ccy, UserID: party, Currency: ccy}
	return domain.NewPosting(id, orderID, party, leg, w, dir, decimal.NewFromInt(100), at)
}

func fulfillChange(orderID, fulfiller, suffix string, at time.Time) *domain.StatusChange {
	return &domain.StatusChange{
		OrderID:       orderID,
		From:          domain.OrderStatusPending,
		To:            domain.OrderStatusCompleted,
		RecordParties: []string{"alice"},
		RecordStatus:  domain.OrderStatusCompleted,
		NewRecords: []*domain.SettlementRecord{{
			ID: orderID + "-r-" + suffix, OrderID: orderID, PartyID: fulfiller,
			Amount: decimal.NewFromInt(100), ExchangeRate: decimal.NewFromInt(1), TotalCost: decimal.NewFromInt(100),
			Status: domain.OrderStatusCompleted, CreatedAt: at, UpdatedAt: at,
		}},
		NewPostings: []*domain.Posting{
			posting(orderID+"-fd-"+suffix, orderID, fulfiller, domain.LegFulfillerDebit, "NGN", domain.Withdraw, at),
			posting(orderID+"-fc-"+suffix, orderID, fulfiller, domain.LegFulfillerCredit, "USD", domain.Deposit, at),
			posting(orderID+"-ic-"+suffix, orderID, "alice", domain.LegInitiatorCredit, "NGN", domain.Deposit, at),
		},
		At: at,
	}
}

func TestInsertAndQuery(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedOrder(t, repo, "o2", t0.Add(time.Minute))
	seedOrder(t, repo, "o1", t0)

	o, err := repo.Get(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != domain.OrderStatusPending || !o.TotalCost.Equal(decimal.NewFromInt(100)) {
		t.Errorf("order = %+v", o)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.NotFound) {
		t.Errorf("missing order: %v", err)
	}

	pending, err := repo.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ID != "o1" || pending[1].ID != "o2" {
		t.Fatalf("pending = %+v", pending)
	}

	postings, _ := repo.ListPostings(ctx, "o1")
	if len(postings) != 1 || postings[0].IdempotencyKey != "o1:alice:initiator_debit" || postings[0].Revision != 0 {
		t.Errorf("postings = %+v", postings)
	}
}

func TestDuplicateOrderConflicts(t *testing.T) {
	repo := newTestRepo(t)
	seedOrder(t, repo, "o1", t0)

	o := &domain.Order{ID: "o1", InitiatorID: "alice", Status: domain.OrderStatusPending, CreatedAt: t0, UpdatedAt: t0}
	rec := &domain.SettlementRecord{ID: "other", OrderID: "o1", PartyID: "carol", Status: domain.OrderStatusPending}
	p := posting("other-p", "o1", "carol", domain.LegInitiatorDebit, "USD", domain.Withdraw, t0)
	if err := repo.InsertOrderWithRecord(context.Background(), o, rec, p); !errors.Is(err, domain.Conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := repo.GetRecord(context.Background(), "o1", "carol"); !errors.Is(err, domain.NotFound) {
		t.Errorf("partial insert left a record behind: %v", err)
	}
}

func TestConcurrentTransitionExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedOrder(t, repo, "o1", t0)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			party := fmt.Sprintf("bob%d", i)
			errs[i] = repo.UpdateStatusIfExpected(ctx, fulfillChange("o1", party, party, t0.Add(time.Minute)))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, domain.Conflict):
			t.Errorf("loser error = %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d", wins)
	}

	records, _ := repo.ListRecords(ctx, "o1")
	postings, _ := repo.ListPostings(ctx, "o1")
	if len(records) != 2 || len(postings) != 4 {
		t.Errorf("records=%d postings=%d", len(records), len(postings))
	}
}

func TestTransitionErrors(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedOrder(t, repo, "o1", t0)

	err := repo.UpdateStatusIfExpected(ctx, &domain.StatusChange{
		OrderID: "missing", From: domain.OrderStatusPending, To: domain.OrderStatusCancelled, At: t0,
	})
	if !errors.Is(err, domain.NotFound) {
		t.Errorf("missing order: %v", err)
	}

	// 结算记录数量不符时整体回滚
	err = repo.UpdateStatusIfExpected(ctx, &domain.StatusChange{
		OrderID:       "o1",
		From:          domain.OrderStatusPending,
		To:            domain.OrderStatusCancelled,
		RecordParties: []string{"alice", "ghost"},
		RecordStatus:  domain.OrderStatusCancelled,
		At:            t0,
	})
	if !errors.Is(err, domain.NotFound) {
		t.Errorf("record mismatch: %v", err)
	}
	o, _ := repo.Get(ctx, "o1")
	rec, _ := repo.GetRecord(ctx, "o1", "alice")
	if o.Status != domain.OrderStatusPending || rec.Status != domain.OrderStatusPending {
		t.Errorf("transition not rolled back: order %s record %s", o.Status, rec.Status)
	}

	// 未被拒绝的同一条腿不能再次写入
	err = repo.UpdateStatusIfExpected(ctx, &domain.StatusChange{
		OrderID:     "o1",
		From:        domain.OrderStatusPending,
		To:          domain.OrderStatusCancelled,
		NewPostings: []*domain.Posting{posting("dup", "o1", "alice", domain.LegInitiatorDebit, "USD", domain.Withdraw, t0)},
		At:          t0,
	})
	if !errors.Is(err, domain.Conflict) {
		t.Errorf("duplicate leg: %v", err)
	}
	if o, _ := repo.Get(ctx, "o1"); o.Status != domain.OrderStatusPending {
		t.Errorf("status after duplicate leg = %s", o.Status)
	}
}

func TestRejectedPostingIsReissued(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedOrder(t, repo, "o1", t0)

	first := fulfillChange("o1", "bob", "1", t0.Add(time.Minute))
	if err := repo.UpdateStatusIfExpected(ctx, first); err != nil {
		t.Fatal(err)
	}
	for _, p := range first.NewPostings {
		p.Status = domain.PostingRejected
		p.LastError = "wallet locked"
	}
	err := repo.UpdateStatusIfExpected(ctx, &domain.StatusChange{
		OrderID:             "o1",
		From:                domain.OrderStatusCompleted,
		To:                  domain.OrderStatusPending,
		RecordParties:       []string{"alice"},
		RecordStatus:        domain.OrderStatusPending,
		RemoveRecordParties: []string{"bob"},
		UpdatedPostings:     first.NewPostings,
		At:                  t0.Add(2 * time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}

	second := fulfillChange("o1", "bob", "2", t0.Add(3*time.Minute))
	if err := repo.UpdateStatusIfExpected(ctx, second); err != nil {
		t.Fatalf("refulfill: %v", err)
	}
	for i, p := range second.NewPostings {
		if p.ID != first.NewPostings[i].ID || p.Revision != 1 || !strings.HasSuffix(p.IdempotencyKey, ":r1") {
			t.Errorf("%s reissued as id %s key %s revision %d", p.Leg, p.ID, p.IdempotencyKey, p.Revision)
		}
	}

	postings, _ := repo.ListPostings(ctx, "o1")
	if len(postings) != 4 {
		t.Fatalf("postings = %d", len(postings))
	}
	for _, p := range postings[1:] {
		if p.Status != domain.PostingPending || p.Revision != 1 || p.LastError != "" {
			t.Errorf("%s = status %s revision %d error %q", p.Leg, p.Status, p.Revision, p.LastError)
		}
	}
	if postings[1].IdempotencyKey != "o1:bob:fulfiller_debit:r1" {
		t.Errorf("fulfiller debit key = %s", postings[1].IdempotencyKey)
	}
}

func TestListPendingPostingsRespectsCutoff(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedOrder(t, repo, "old", t0)
	seedOrder(t, repo, "new", t0.Add(10*time.Minute))

	list, err := repo.ListPendingPostings(ctx, t0.Add(5*time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].OrderID != "old" {
		t.Fatalf("pending postings = %+v", list)
	}

	p := list[0]
	p.Status = domain.PostingApplied
	p.Attempts = 1
	p.UpdatedAt = t0.Add(time.Minute)
	if err := repo.UpdatePosting(ctx, p); err != nil {
		t.Fatal(err)
	}
	if n, _ := repo.CountPendingPostings(ctx); n != 1 {
		t.Errorf("pending count = %d", n)
	}

	p.ID = "missing"
	if err := repo.UpdatePosting(ctx, p); !errors.Is(err, domain.NotFound) {
		t.Errorf("missing posting: %v", err)
	}
}

func TestLastErrorTruncatedOnRuneBoundary(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedOrder(t, repo, "o1", t0)

	postings, _ := repo.ListPostings(ctx, "o1")
	p := postings[0]
	p.Attempts = 1
	p.LastError = "a" + strings.Repeat("账本拒绝", 200)
	p.UpdatedAt = t0
	if err := repo.UpdatePosting(ctx, p); err != nil {
		t.Fatal(err)
	}

	postings, _ = repo.ListPostings(ctx, "o1")
	got := postings[0].LastError
	if len(got) > maxLastErrorLen || !utf8.ValidString(got) || !strings.HasPrefix(got, "a账本") {
		t.Errorf("stored last error: len %d valid %v", len(got), utf8.ValidString(got))
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"a账本", 2, "a"},
		{"a账本", 4, "a账"},
		{"账本", 0, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
