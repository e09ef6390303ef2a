package engine_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/giftwell/gift-automation/internal/config"
	"github.com/giftwell/gift-automation/internal/domain"
	"github.com/giftwell/gift-automation/internal/engine"
	"github.com/giftwell/gift-automation/internal/gateway/notify"
	"github.com/giftwell/gift-automation/internal/service/wallet"
)

// ---- in-memory wallet repository (drives a real wallet.Service) ----

type walletRepo struct {
	mu        sync.Mutex
	owners    map[string]*domain.WalletOwner
	txs       []*domain.WalletTransaction
	creditErr error // injected failure for Credit
}

func newWalletRepo() *walletRepo {
	return &walletRepo{owners: make(map[string]*domain.WalletOwner)}
}

func (m *walletRepo) addOwner(o domain.WalletOwner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := o
	m.owners[o.UserID] = &cp
}

func (m *walletRepo) Owner(_ context.Context, userID string) (*domain.WalletOwner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.owners[userID]
	if !ok {
		return nil, wallet.ErrOwnerNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *walletRepo) SetAutoReload(_ context.Context, userID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.owners[userID]
	if !ok {
		return wallet.ErrOwnerNotFound
	}
	o.AutoReloadEnabled = enabled
	return nil
}

func (m *walletRepo) PendingReservation(_ context.Context, giftID string) (*domain.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.Type == domain.TxReservation && tx.Status == domain.TxPending &&
			tx.ScheduledGiftID != nil && *tx.ScheduledGiftID == giftID {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, wallet.ErrNoPendingReservation
}

func (m *walletRepo) PendingTotal(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, tx := range m.txs {
		if tx.UserID == userID && tx.Type == domain.TxReservation && tx.Status == domain.TxPending {
			total += tx.AmountCents
		}
	}
	return total, nil
}

func (m *walletRepo) CompletedCharge(_ context.Context, giftID string) (*domain.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.txs) - 1; i >= 0; i-- {
		tx := m.txs[i]
		if tx.Type == domain.TxCharge && tx.Status == domain.TxCompleted &&
			tx.ScheduledGiftID != nil && *tx.ScheduledGiftID == giftID {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, wallet.ErrNoChargeFound
}

func (m *walletRepo) RefundOfCharge(_ context.Context, chargeID string) (*domain.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.Type == domain.TxRefund && tx.Status == domain.TxCompleted &&
			tx.RelatedTxID != nil && *tx.RelatedTxID == chargeID {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *walletRepo) Insert(_ context.Context, tx *domain.WalletTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tx
	m.txs = append(m.txs, &cp)
	return nil
}

func (m *walletRepo) Capture(_ context.Context, reservationID, userID string, amountCents int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.ID == reservationID && tx.Status == domain.TxPending {
			balanceAfter := m.owners[userID].BalanceCents - amountCents
			if balanceAfter < 0 {
				return 0, wallet.ErrInsufficientFunds
			}
			tx.Type = domain.TxCharge
			tx.Status = domain.TxCompleted
			tx.AmountCents = -tx.AmountCents
			tx.BalanceAfterCents = balanceAfter
			m.owners[userID].BalanceCents = balanceAfter
			return balanceAfter, nil
		}
	}
	return 0, wallet.ErrNoPendingReservation
}

func (m *walletRepo) Cancel(_ context.Context, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.ID == reservationID && tx.Status == domain.TxPending {
			tx.Status = domain.TxCancelled
			return nil
		}
	}
	return wallet.ErrNoPendingReservation
}

func (m *walletRepo) Credit(_ context.Context, tx *domain.WalletTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creditErr != nil {
		return m.creditErr
	}
	o, ok := m.owners[tx.UserID]
	if !ok {
		return wallet.ErrOwnerNotFound
	}
	o.BalanceCents += tx.AmountCents
	tx.BalanceAfterCents = o.BalanceCents
	cp := *tx
	m.txs = append(m.txs, &cp)
	return nil
}

func (m *walletRepo) Transactions(_ context.Context, userID string, limit int) ([]domain.WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WalletTransaction
	for i := len(m.txs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.txs[i].UserID == userID {
			out = append(out, *m.txs[i])
		}
	}
	return out, nil
}

// rows returns every ledger row of a type/status pair, oldest first.
func (m *walletRepo) rows(typ domain.TransactionType, status domain.TransactionStatus) []domain.WalletTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WalletTransaction
	for _, tx := range m.txs {
		if tx.Type == typ && tx.Status == status {
			out = append(out, *tx)
		}
	}
	return out
}

// ---- gift / recipient stores ----

type memGifts struct {
	mu       sync.Mutex
	gifts    map[string]*domain.ScheduledGift
	stranded map[string]bool // ids returned by ListChargedUnfulfilled
}

func newMemGifts() *memGifts {
	return &memGifts{gifts: make(map[string]*domain.ScheduledGift), stranded: make(map[string]bool)}
}

func (m *memGifts) add(g domain.ScheduledGift) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := g
	m.gifts[g.ID] = &cp
}

func (m *memGifts) get(t *testing.T, id string) domain.ScheduledGift {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gifts[id]
	if !ok {
		t.Fatalf("gift %s not found", id)
	}
	return *g
}

func (m *memGifts) ListAutomated(_ context.Context, limit int) ([]domain.ScheduledGift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScheduledGift
	for _, g := range m.gifts {
		if g.AutomationEnabled && !g.IsTerminal() {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DeliveryDate.Equal(out[j].DeliveryDate) {
			return out[i].DeliveryDate.Before(out[j].DeliveryDate)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memGifts) Update(_ context.Context, g *domain.ScheduledGift) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.gifts[g.ID] = &cp
	return nil
}

func (m *memGifts) ListChargedUnfulfilled(_ context.Context, limit int) ([]domain.ScheduledGift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScheduledGift
	for id := range m.stranded {
		if g, ok := m.gifts[id]; ok {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memRecipients struct {
	mu sync.Mutex
	m  map[string]*domain.Recipient
}

func newMemRecipients() *memRecipients {
	return &memRecipients{m: make(map[string]*domain.Recipient)}
}

func (r *memRecipients) add(rec domain.Recipient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := rec
	r.m[rec.ID] = &cp
}

func (r *memRecipients) setAddress(id string, a domain.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.m[id]
	rec.Street, rec.City, rec.State, rec.Zip, rec.Country = a.Street, a.City, a.State, a.Zip, a.Country
}

func (r *memRecipients) Recipient(_ context.Context, id string) (*domain.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.m[id]
	if !ok {
		return nil, fmt.Errorf("recipient %s not found", id)
	}
	cp := *rec
	return &cp, nil
}

// ---- gateway fakes ----

type fakeFulfiller struct {
	mu       sync.Mutex
	orders   map[string]string
	fail     error
	panicMsg string
	calls    int
}

func newFakeFulfiller() *fakeFulfiller {
	return &fakeFulfiller{orders: make(map[string]string)}
}

func (f *fakeFulfiller) PlaceOrder(_ context.Context, giftID string, _ domain.Address) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if ref, ok := f.orders[giftID]; ok {
		return ref, nil
	}
	if f.fail != nil {
		return "", f.fail
	}
	ref := fmt.Sprintf("ord-%s", giftID)
	f.orders[giftID] = ref
	return ref, nil
}

type fakeCharger struct {
	mu         sync.Mutex
	fail       error
	calls      int
	lastAmount int64
}

func (f *fakeCharger) Charge(_ context.Context, userID string, amountCents int64, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastAmount = amountCents
	if f.fail != nil {
		return "", f.fail
	}
	return fmt.Sprintf("chg-%s-%d", userID, f.calls), nil
}

type fakeDispatcher struct {
	mu    sync.Mutex
	kinds []notify.Kind
}

func (f *fakeDispatcher) Send(_ context.Context, kind notify.Kind, _ string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
	return nil
}

func (f *fakeDispatcher) count(kind notify.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AutomationLogEntry
}

func (a *memAudit) Record(_ context.Context, e *domain.AutomationLogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *e)
	return nil
}

func (a *memAudit) byStage(stage domain.Stage, action domain.LogAction) []domain.AutomationLogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AutomationLogEntry
	for _, e := range a.entries {
		if e.Stage == stage && e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// ---- harness ----

type harness struct {
	eng    *engine.Engine
	ledger *wallet.Service
	wrepo  *walletRepo
	gifts  *memGifts
	recips *memRecipients
	ful    *fakeFulfiller
	chg    *fakeCharger
	sent   *fakeDispatcher
	audit  *memAudit
	today  time.Time
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		ReserveDaysBefore:        14,
		AddressRequestDaysBefore: 10,
		EscalateDaysBefore:       1,
		ReservationDwellDays:     3,
		AddressDwellDays:         1,
		ReminderAfterDays:        3,
		ReminderMinDaysLeft:      2,
		GatewayTimeoutSeconds:    5,
		BatchLimit:               100,
		UserConcurrency:          2,
	}
}

func newHarness() *harness {
	h := &harness{
		wrepo:  newWalletRepo(),
		gifts:  newMemGifts(),
		recips: newMemRecipients(),
		ful:    newFakeFulfiller(),
		chg:    &fakeCharger{},
		sent:   &fakeDispatcher{},
		audit:  &memAudit{},
		today:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	h.ledger = wallet.NewService(h.wrepo)
	h.eng = engine.New(h.gifts, h.recips, h.ledger, h.ful, h.chg, h.sent, h.audit, testEngineConfig())
	h.eng.SetClock(func() time.Time { return h.today })
	return h
}

// seedUser creates a wallet owner and a recipient for them.
func (h *harness) seedUser(userID string, balanceCents int64, withAddress bool) string {
	h.wrepo.addOwner(domain.WalletOwner{
		UserID: userID,
		Email:        userID + "@example.com",
		BalanceCents: balanceCents,
	})
	rec := domain.Recipient{
		ID:               "rec-" + userID,
		UserID:           userID,
		Name:             "Jamie",
		DefaultGiftCents: 4000,
	}
	if withAddress {
		rec.Street, rec.City, rec.State, rec.Zip, rec.Country =
			"12 Birch Ln", "Portland", "OR", "97201", "US"
	}
	h.recips.add(rec)
	return rec.ID
}

// seedGift creates an automation-enabled gift delivering daysOut days from
// the harness clock.
func (h *harness) seedGift(id, userID, recipientID string, daysOut int, priceCents int64) domain.ScheduledGift {
	delivery := h.today.AddDate(0, 0, daysOut)
	g := domain.ScheduledGift{
		ID:                id,
		UserID:            userID,
		RecipientID:       recipientID,
		OccasionDate:      delivery.AddDate(0, 0, domain.DeliveryLeadDays),
		DeliveryDate:      delivery,
		Status:            domain.GiftScheduled,
		PaymentStatus:     domain.PaymentUnpaid,
		AutomationEnabled: true,
		PriceCents:        priceCents,
		CreatedAt:         h.today,
		UpdatedAt:         h.today,
	}
	h.gifts.add(g)
	return g
}

// reserve puts a real pending reservation in the ledger and back-dates the
// gift's reservation markers by dwellDaysAgo.
func (h *harness) reserve(t *testing.T, g domain.ScheduledGift, dwellDaysAgo int) {
	t.Helper()
	if _, err := h.ledger.Reserve(context.Background(), g.UserID, g.ID, g.PriceCents); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}
	when := h.today.AddDate(0, 0, -dwellDaysAgo)
	g.WalletReserved = true
	g.WalletReservationCents = g.PriceCents
	g.WalletReservationDate = &when
	h.gifts.add(g)
}

func (h *harness) run(t *testing.T) engine.Stats {
	t.Helper()
	stats, err := h.eng.Run(context.Background())
	if err != nil {
		t.Fatalf("engine run: %v", err)
	}
	return stats
}

func (h *harness) available(t *testing.T, userID string) int64 {
	t.Helper()
	avail, err := h.ledger.AvailableBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("available balance: %v", err)
	}
	return avail
}

// ---- batch mechanics ----

func TestRunEmptyBatch(t *testing.T) {
	h := newHarness()
	stats := h.run(t)
	if stats.Processed != 0 || stats.Executed != 0 || stats.Errors != 0 {
		t.Fatalf("empty batch produced stats %+v", stats)
	}
}

func TestRunSkipsGiftsOutsideEveryWindow(t *testing.T) {
	h := newHarness()
	rec := h.seedUser("u1", 10000, true)
	h.seedGift("g1", "u1", rec, 30, 4000) // 30 days out, nothing to do yet

	stats := h.run(t)
	if stats.Processed != 1 || stats.Executed != 0 {
		t.Fatalf("stats = %+v, want processed=1 executed=0", stats)
	}
	if g := h.gifts.get(t, "g1"); g.WalletReserved || g.Status != domain.GiftScheduled {
		t.Fatalf("gift mutated outside every window: %+v", g)
	}
}

func TestOneGiftFailureDoesNotAbortBatch(t *testing.T) {
	h := newHarness()
	rec := h.seedUser("u1", 10000, true)
	h.seedGift("g1", "u1", rec, 14, 4000)
	// g2 references a recipient that doesn't exist.
	h.seedGift("g2", "u2", "rec-missing", 14, 4000)
	h.wrepo.addOwner(domain.WalletOwner{UserID: "u2", Email: "u2@example.com", BalanceCents: 10000})

	stats := h.run(t)
	if stats.Errors != 1 {
		t.Fatalf("errors = %d, want 1", stats.Errors)
	}
	if g := h.gifts.get(t, "g1"); !g.WalletReserved {
		t.Fatal("healthy gift was not processed after the broken one")
	}
}

func TestPanicIsLoggedAgainstTheRunningStage(t *testing.T) {
	h := newHarness()
	rec := h.seedUser("u1", 10000, true)
	g := h.seedGift("g1", "u1", rec, 11, 4000)
	h.reserve(t, g, 3)
	g = h.gifts.get(t, "g1")
	g.Status = domain.GiftConfirmed
	confirmed := h.today.AddDate(0, 0, -1)
	g.AddressConfirmedAt = &confirmed
	h.gifts.add(g)
	h.ful.panicMsg = "gateway client bug"

	stats := h.run(t)
	if stats.Errors != 1 {
		t.Fatalf("errors = %d, want 1", stats.Errors)
	}

	// The recovered panic is attributed to the stage that was running,
	// not to some unrelated one.
	rows := h.audit.byStage(domain.StageFulfillment, domain.ActionError)
	if len(rows) != 1 {
		t.Fatalf("fulfillment error rows = %d, want 1", len(rows))
	}
	if !strings.Contains(rows[0].Outcome, "gateway client bug") {
		t.Fatalf("outcome = %q, want the panic message", rows[0].Outcome)
	}
	if others := h.audit.byStage(domain.StageExpire, domain.ActionError); len(others) != 0 {
		t.Fatalf("panic mislabeled with stage expire: %+v", others)
	}
}
