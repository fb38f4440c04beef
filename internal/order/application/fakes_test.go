package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/fxsettlement/internal/order/domain"
	"github.com/wyfcoding/fxsettlement/internal/order/infrastructure/persistence/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// ledgerStep 一次排队的账本应答；applied 为真时先执行变更再返回错误，模拟应答丢失
type ledgerStep struct {
	err     error
	applied bool
}

// fakeLedger 内存账本，按幂等键去重，可按键注入错误
type fakeLedger struct {
	mu        sync.Mutex
	wallets   map[string]*domain.Wallet
	applied   map[string]*domain.WalletMutation
	mutations []*domain.WalletMutation
	reads     int
	updates   int
	// 按幂等键排队的应答，出队后才真正执行
	script map[string][]ledgerStep
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		wallets: make(map[string]*domain.Wallet),
		applied: make(map[string]*domain.WalletMutation),
		script:  make(map[string][]ledgerStep),
	}
}

func walletKey(userID, currency string) string { return userID + "/" + currency }

func (l *fakeLedger) fund(userID, currency, balance string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wallets[walletKey(userID, currency)] = &domain.Wallet{
		ID: "w-" + userID + "-" + currency, UserID: userID, Currency: currency, Balance: dec(balance),
	}
}

func (l *fakeLedger) balance(userID, currency string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wallets[walletKey(userID, currency)].Balance
}

// fail 排队若干次未执行的失败应答
func (l *fakeLedger) fail(key string, errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, err := range errs {
		l.script[key] = append(l.script[key], ledgerStep{err: err})
	}
}

// lose 排队若干次已执行但应答丢失的调用
func (l *fakeLedger) lose(key string, errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, err := range errs {
		l.script[key] = append(l.script[key], ledgerStep{err: err, applied: true})
	}
}

func (l *fakeLedger) clearScript() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.script = make(map[string][]ledgerStep)
}

func (l *fakeLedger) appliedKey(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.applied[key]
	return ok
}

func (l *fakeLedger) mutationCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.mutations)
}

func (l *fakeLedger) updateCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updates
}

func (l *fakeLedger) GetWalletByCurrency(_ context.Context, _, userID, currency string) (*domain.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	w, ok := l.wallets[walletKey(userID, currency)]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "ledger.get_wallet", fmt.Errorf("no %s wallet for %s", currency, userID))
	}
	c := *w
	return &c, nil
}

func (l *fakeLedger) UpdateWallet(_ context.Context, _ string, m *domain.WalletMutation) (*domain.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates++

	var step *ledgerStep
	if q := l.script[m.IdempotencyKey]; len(q) > 0 {
		l.script[m.IdempotencyKey] = q[1:]
		step = &q[0]
		if !step.applied {
			return nil, step.err
		}
	}

	var w *domain.Wallet
	for _, candidate := range l.wallets {
		if candidate.ID == m.WalletID {
			w = candidate
		}
	}
	if w == nil {
		return nil, domain.E(domain.KindNotFound, "ledger.update_wallet", fmt.Errorf("wallet %s", m.WalletID))
	}
	if _, ok := l.applied[m.IdempotencyKey]; !ok {
		if m.Direction == domain.Withdraw {
			if w.Balance.LessThan(m.Amount) {
				return nil, domain.E(domain.KindForbidden, "ledger.update_wallet", domain.ErrInsufficientFunds)
			}
			w.Balance = w.Balance.Sub(m.Amount)
		} else {
			w.Balance = w.Balance.Add(m.Amount)
		}
		mc := *m
		l.applied[m.IdempotencyKey] = &mc
		l.mutations = append(l.mutations, &mc)
	}
	if step != nil {
		return nil, step.err
	}
	c := *w
	return &c, nil
}

// deltas 按币种汇总已执行的余额变动
func (l *fakeLedger) deltas(orderID string) map[string]decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]decimal.Decimal)
	for _, m := range l.mutations {
		if len(m.IdempotencyKey) < len(orderID) || m.IdempotencyKey[:len(orderID)] != orderID {
			continue
		}
		var currency string
		for _, w := range l.wallets {
			if w.ID == m.WalletID {
				currency = w.Currency
			}
		}
		amt := m.Amount
		if m.Direction == domain.Withdraw {
			amt = amt.Neg()
		}
		out[currency] = out[currency].Add(amt)
	}
	return out
}

type fakeRates struct {
	mu     sync.Mutex
	tables map[string]*domain.RateTable
	calls  int
}

func newFakeRates() *fakeRates {
	return &fakeRates{tables: make(map[string]*domain.RateTable)}
}

func (r *fakeRates) set(base string, rates map[string]string) {
	conv := make(map[string]decimal.Decimal, len(rates))
	for k, v := range rates {
		conv[k] = dec(v)
	}
	r.mu.Lock()
	r.tables[base] = &domain.RateTable{BaseCode: base, ConversionRates: conv}
	r.mu.Unlock()
}

func (r *fakeRates) GetRates(_ context.Context, _, base string) (*domain.RateTable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	t, ok := r.tables[base]
	if !ok {
		return nil, domain.E(domain.KindInvalid, "rates.get", domain.ErrRateNotFound)
	}
	return t, nil
}

type sentNotification struct {
	event, userID, orderID string
}

type fakeNotifier struct {
	ch  chan sentNotification
	err error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{ch: make(chan sentNotification, 8)}
}

func (n *fakeNotifier) Enqueue(_ context.Context, event, userID, orderID string) error {
	n.ch <- sentNotification{event, userID, orderID}
	return n.err
}

func (n *fakeNotifier) wait(t *testing.T) sentNotification {
	t.Helper()
	select {
	case s := <-n.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("notification not enqueued")
		return sentNotification{}
	}
}

func (n *fakeNotifier) none(t *testing.T) {
	t.Helper()
	select {
	case s := <-n.ch:
		t.Fatalf("unexpected notification %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

type harness struct {
	repo     *memory.OrderRepository
	ledger   *fakeLedger
	rates    *fakeRates
	notifier *fakeNotifier
	manager  *OrderManager
	query    *OrderQuery
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:     memory.NewOrderRepository(),
		ledger:   newFakeLedger(),
		rates:    newFakeRates(),
		notifier: newFakeNotifier(),
	}
	h.build(h.repo, ManagerConfig{}, ExecutorConfig{})
	h.query = NewOrderQuery(h.repo)
	return h
}

// build 以给定仓储与配置重建执行器和订单管理，零值配置项使用测试默认值
func (h *harness) build(repo domain.OrderRepository, mcfg ManagerConfig, ecfg ExecutorConfig) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if ecfg.CallTimeout == 0 {
		ecfg.CallTimeout = 100 * time.Millisecond
	}
	if ecfg.MaxAttempts == 0 {
		ecfg.MaxAttempts = 3
	}
	if ecfg.InitialInterval == 0 {
		ecfg.InitialInterval = time.Millisecond
	}
	if ecfg.MaxInterval == 0 {
		ecfg.MaxInterval = 2 * time.Millisecond
	}
	if mcfg.Currencies == nil {
		mcfg.Currencies = []string{"NGN", "USD"}
	}
	exec := NewPostingExecutor(h.ledger, repo, ecfg, nil, log)
	h.manager = NewOrderManager(repo, h.ledger, h.rates, h.notifier, exec, mcfg, nil, log)
}

func (h *harness) create(t *testing.T, initiator, direction, base, quote, amount string) *domain.Order {
	t.Helper()
	o, err := h.manager.CreateOrder(context.Background(), &CreateOrderRequest{
		InitiatorID: initiator, Direction: direction, BaseCurrency: base, QuoteCurrency: quote, Amount: amount, Credential: "Bearer " + initiator,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func transient() error {
	return domain.E(domain.KindUpstreamUnavailable, "ledger.update_wallet", fmt.Errorf("deadline exceeded"))
}

func credentialRejected() error {
	return domain.E(domain.KindForbidden, "ledger.update_wallet", fmt.Errorf("%w: token expired", domain.ErrCredentialRejected))
}

// flakyRepo 让指定的订单状态迁移失败若干次，模拟补偿写入失败或进程在写入前退出
type flakyRepo struct {
	*memory.OrderRepository
	mu       sync.Mutex
	from, to domain.OrderStatus
	failures int
}

func (r *flakyRepo) UpdateStatusIfExpected(ctx context.Context, ch *domain.StatusChange) error {
	r.mu.Lock()
	if r.failures > 0 && ch.From == r.from && ch.To == r.to {
		r.failures--
		r.mu.Unlock()
		return domain.E(domain.KindUpstreamUnavailable, "update_status", fmt.Errorf("connection reset"))
	}
	r.mu.Unlock()
	return r.OrderRepository.UpdateStatusIfExpected(ctx, ch)
}
