package application

import (
	"context"
	"testing"
	"time"

	"github.com/wyfcoding/fxsettlement/internal/order/domain"
)

func TestReconcilerRespectsGrace(t *testing.T) {
	h := newHarness(t)
	h.ledger.fund("alice", "USD", "100")
	h.ledger.fund("alice", "NGN", "0")
	h.ledger.fund("bob", "NGN", "100")
	h.ledger.fund("bob", "USD", "0")
	h.rates.set("NGN", map[string]string{"USD": "1"})
	o := h.create(t, "alice", "buy", "NGN", "USD", "100")

	h.ledger.fail(domain.IdempotencyKey(o.ID, "bob", domain.LegFulfillerCredit), transient(), transient(), transient())
	if _, err := h.manager.FulfillOrder(context.Background(), "bob", o.ID, "tok"); err == nil {
		t.Fatal("expected fulfillment to stop on unknown credit")
	}

	r := NewReconciler(h.repo, h.manager, ReconcilerConfig{Grace: time.Minute, Batch: 10, ServiceToken: "svc"}, nil, h.manager.logger)

	// 未超过宽限期的记账不处理
	r.RunOnce(context.Background())
	if n, _ := h.repo.CountPendingPostings(context.Background()); n != 2 {
		t.Fatalf("pending postings = %d, want 2", n)
	}
	h.notifier.none(t)

	r.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if unresolved := r.RunOnce(context.Background()); unresolved != 0 {
		t.Fatalf("unresolved = %d", unresolved)
	}
	if n, _ := h.repo.CountPendingPostings(context.Background()); n != 0 {
		t.Errorf("pending postings after reconcile = %d", n)
	}
	if !h.ledger.balance("bob", "USD").Equal(dec("100")) || !h.ledger.balance("alice", "NGN").Equal(dec("100")) {
		t.Errorf("credits not applied: bob USD %s, alice NGN %s", h.ledger.balance("bob", "USD"), h.ledger.balance("alice", "NGN"))
	}
	if n := h.notifier.wait(t); n.orderID != o.ID {
		t.Errorf("notification for %s", n.orderID)
	}
}

func TestReconcilerReportsStillUnresolved(t *testing.T) {
	h := newHarness(t)
	h.ledger.fund("alice", "USD", "100")
	h.rates.set("NGN", map[string]string{"USD": "1"})
	h.manager.newID = sequentialIDs("o1", "r1", "p1")
	key := domain.IdempotencyKey("o1", "alice", domain.LegInitiatorDebit)
	// 创建时三次加对账时三次均超时
	h.ledger.fail(key, transient(), transient(), transient(), transient(), transient(), transient())

	if _, err := h.manager.CreateOrder(context.Background(), &CreateOrderRequest{
		InitiatorID: "alice", Direction: "buy", BaseCurrency: "NGN", QuoteCurrency: "USD", Amount: "10",
	}); err == nil {
		t.Fatal("expected inconsistent create")
	}

	r := NewReconciler(h.repo, h.manager, ReconcilerConfig{Batch: 10}, nil, h.manager.logger)
	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	if unresolved := r.RunOnce(context.Background()); unresolved != 1 {
		t.Fatalf("unresolved = %d, want 1", unresolved)
	}

	h.ledger.clearScript()
	if unresolved := r.RunOnce(context.Background()); unresolved != 0 {
		t.Fatalf("unresolved after recovery = %d", unresolved)
	}
	if !h.ledger.balance("alice", "USD").Equal(dec("90")) {
		t.Errorf("balance = %s", h.ledger.balance("alice", "USD"))
	}
}

func TestReconcilerStartStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	r := NewReconciler(h.repo, h.manager, ReconcilerConfig{Interval: time.Millisecond}, nil, h.manager.logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
