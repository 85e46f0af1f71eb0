package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"transactionService/config"
	"transactionService/models"
	"transactionService/utils"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
)

// memoryStore - TransactionStore в памяти
type memoryStore struct {
	mu      sync.Mutex
	txs     map[string]models.Transaction
	legs    []models.TransactionLeg
	nextID  uint
	nextLeg uint
	creates int

	updateErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{txs: make(map[string]models.Transaction)}
}

func (m *memoryStore) Create(ctx context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[tx.TransactionID]; ok {
		return ErrDuplicateTransactionID
	}
	m.nextID++
	m.creates++
	tx.ID = m.nextID
	tx.Version = 0
	if tx.CreatedDate.IsZero() {
		tx.CreatedDate = time.Now()
	}
	tx.ModifiedDate = time.Now()
	m.txs[tx.TransactionID] = *tx
	return nil
}

func (m *memoryStore) Update(ctx context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	current, ok := m.txs[tx.TransactionID]
	if !ok {
		return ErrTransactionNotFound
	}
	if current.Version != tx.Version {
		return ErrStaleTransaction
	}
	tx.Version++
	tx.ModifiedDate = time.Now()
	m.txs[tx.TransactionID] = *tx
	return nil
}

func (m *memoryStore) FindByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return &tx, nil
}

func (m *memoryStore) FindByReference(ctx context.Context, referenceNumber string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.ReferenceNumber == referenceNumber {
			return &tx, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (m *memoryStore) FindHistory(ctx context.Context, accountID int64, page, size int) ([]models.Transaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []models.Transaction
	for _, tx := range m.txs {
		if tx.FromAccountID == accountID || tx.ToAccountID == accountID {
			all = append(all, tx)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedDate.Equal(all[j].CreatedDate) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedDate.After(all[j].CreatedDate)
	})
	from := page * size
	if from >= len(all) {
		return nil, int64(len(all)), nil
	}
	to := min(from+size, len(all))
	return all[from:to], int64(len(all)), nil
}

func (m *memoryStore) SumDebits(ctx context.Context, accountID int64, from, to time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, tx := range m.txs {
		if tx.FromAccountID == accountID && tx.Status == models.TransactionStatusSuccess &&
			!tx.CreatedDate.Before(from) && tx.CreatedDate.Before(to) {
			sum = sum.Add(tx.TotalAmount)
		}
	}
	return sum, nil
}

func (m *memoryStore) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, tx := range m.txs {
		if tx.Status == models.TransactionStatusPending && tx.ModifiedDate.Before(olderThan) {
			out = append(out, tx)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) SaveLeg(ctx context.Context, leg *models.TransactionLeg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if leg.ID == 0 {
		m.nextLeg++
		leg.ID = m.nextLeg
		m.legs = append(m.legs, *leg)
		return nil
	}
	for i := range m.legs {
		if m.legs[i].ID == leg.ID {
			m.legs[i] = *leg
		}
	}
	return nil
}

func (m *memoryStore) FindLegs(ctx context.Context, transactionID string) ([]models.TransactionLeg, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TransactionLeg
	for _, leg := range m.legs {
		if leg.TransactionID == transactionID {
			out = append(out, leg)
		}
	}
	return out, nil
}

// put сохраняет транзакцию как есть, для подготовки данных теста
func (m *memoryStore) put(tx models.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	tx.ID = m.nextID
	m.txs[tx.TransactionID] = tx
}

func (m *memoryStore) get(t *testing.T, transactionID string) models.Transaction {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[transactionID]
	if !ok {
		t.Fatalf("transaction %s not stored", transactionID)
	}
	return tx
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

// ledgerOp - проводка, принятая фейковым реестром
type ledgerOp struct {
	op        string
	accountID int64
	amount    decimal.Decimal
	ref       string
}

// fakeGateway - реестр счетов в памяти
type fakeGateway struct {
	mu       sync.Mutex
	accounts map[int64]*models.AccountBalance
	ops      []ledgerOp
	reads    int
	fail     func(op string, accountID int64, ref string) error
	// lost возвращает ошибку уже после применения проводки: ответ реестра потерян
	lost func(op string, accountID int64, ref string) error
}

func newFakeGateway(accounts ...models.AccountBalance) *fakeGateway {
	g := &fakeGateway{accounts: make(map[int64]*models.AccountBalance)}
	for i := range accounts {
		a := accounts[i]
		g.accounts[a.AccountID] = &a
	}
	return g
}

func (g *fakeGateway) GetBalance(ctx context.Context, accountID int64) (*models.AccountBalance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads++
	a, ok := g.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *a
	return &copied, nil
}

func (g *fakeGateway) GetBalanceByNumber(ctx context.Context, accountNumber string) (*models.AccountBalance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads++
	for _, a := range g.accounts {
		if a.AccountNumber == accountNumber {
			copied := *a
			return &copied, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (g *fakeGateway) Credit(ctx context.Context, accountID int64, amount decimal.Decimal, ledgerRef, description string) error {
	return g.apply("credit", accountID, amount, ledgerRef)
}

func (g *fakeGateway) Debit(ctx context.Context, accountID int64, amount decimal.Decimal, ledgerRef, description string) error {
	return g.apply("debit", accountID, amount, ledgerRef)
}

func (g *fakeGateway) apply(op string, accountID int64, amount decimal.Decimal, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		if err := g.fail(op, accountID, ref); err != nil {
			return err
		}
	}
	a, ok := g.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	if op == "debit" {
		if a.Balance.LessThan(amount) {
			return fmt.Errorf("%w: insufficient funds", ErrLedgerRejected)
		}
		a.Balance = a.Balance.Sub(amount)
	} else {
		a.Balance = a.Balance.Add(amount)
	}
	g.ops = append(g.ops, ledgerOp{op: op, accountID: accountID, amount: amount, ref: ref})
	if g.lost != nil {
		return g.lost(op, accountID, ref)
	}
	return nil
}

func (g *fakeGateway) balance(accountID int64) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.accounts[accountID].Balance
}

func (g *fakeGateway) mutations() []ledgerOp {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ledgerOp(nil), g.ops...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.TransactionEvent
}

func (p *fakePublisher) Publish(ctx context.Context, event models.TransactionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *fakePublisher) types() []models.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.EventType
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (a *fakeAudit) Log(ctx context.Context, entry models.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *fakeAudit) actions(transactionID string) []models.AuditAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditAction
	for _, e := range a.entries {
		if e.TransactionID == transactionID && e.Action != models.AuditBalanceUpdated {
			out = append(out, e.Action)
		}
	}
	return out
}

func (a *fakeAudit) has(action models.AuditAction) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.entries {
		if e.Action == action {
			return true
		}
	}
	return false
}

type fakeNotifier struct {
	mu           sync.Mutex
	compensation int
	stuck        int
}

func (n *fakeNotifier) NotifyCompensationFailed(ctx context.Context, tx *models.Transaction, cause error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.compensation++
	return nil
}

func (n *fakeNotifier) NotifyStuckTransaction(ctx context.Context, tx *models.Transaction, legs []models.TransactionLeg) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stuck++
	return nil
}

const (
	sourceID     int64 = 1
	sourceNumber       = "1000000001"
	destID       int64 = 2
	destNumber         = "1000000002"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Limits = testLimits()
	cfg.Charges = testChargesConfig()
	cfg.Transfer = allModes()
	cfg.Idempotency.TTL = time.Hour
	cfg.Cache.TTL = time.Minute
	cfg.Cache.MaxSize = 100
	cfg.Recovery.StaleAfter = time.Minute
	cfg.Recovery.BatchSize = 10
	return cfg
}

type harness struct {
	svc       *TransactionService
	store     *memoryStore
	gateway   *fakeGateway
	keys      *BoltIdempotencyStore
	publisher *fakePublisher
	audit     *fakeAudit
	notifier  *fakeNotifier
	metrics   *utils.Metrics
	registry  *prometheus.Registry
	cfg       *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	registry := prometheus.NewRegistry()
	h := &harness{
		store: newMemoryStore(),
		gateway: newFakeGateway(
			models.AccountBalance{AccountID: sourceID, AccountNumber: sourceNumber, Balance: dec("50000"), AccountStatus: "ACTIVE", Currency: "INR"},
			models.AccountBalance{AccountID: destID, AccountNumber: destNumber, Balance: dec("1000"), AccountStatus: "active", Currency: "INR"},
		),
		keys:      newTestBoltStore(t),
		publisher: &fakePublisher{},
		audit:     &fakeAudit{},
		notifier:  &fakeNotifier{},
		metrics:   utils.NewMetrics(registry),
		registry:  registry,
		cfg:       testConfig(),
	}
	h.svc = NewTransactionService(h.cfg, Dependencies{
		Store:       h.store,
		Gateway:     h.gateway,
		Idempotency: h.keys,
		Publisher:   h.publisher,
		Audit:       h.audit,
		Notifier:    h.notifier,
		Metrics:     h.metrics,
	})
	return h
}

// counterValue возвращает значение счетчика с заданными метками
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v != pair.GetValue() {
			return false
		}
	}
	return true
}

func transferRequest(amount string, mode models.TransferMode) TransferRequest {
	return TransferRequest{
		FromAccountID:   sourceID,
		ToAccountNumber: destNumber,
		Amount:          dec(amount),
		TransferMode:    mode,
	}
}

var testMeta = RequestMeta{InitiatedBy: "alice", IPAddress: "10.0.0.1", UserAgent: "test"}
