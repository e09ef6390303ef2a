package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/giftwell/gift-automation/internal/domain"
	"github.com/giftwell/gift-automation/internal/gateway/notify"
)

// strandGift reproduces the crash window: the reservation was charged but
// the process died before the order was placed, so the gift still reads
// confirmed/unpaid.
func (h *harness) strandGift(t *testing.T, id, userID string, rec string, priceCents int64) {
	t.Helper()
	g := h.seedGift(id, userID, rec, 5, priceCents)
	h.reserve(t, g, 3)
	if _, err := h.ledger.ChargeReservation(context.Background(), id); err != nil {
		t.Fatalf("seed charge: %v", err)
	}
	g = h.gifts.get(t, id)
	g.Status = domain.GiftConfirmed
	confirmed := h.today.AddDate(0, 0, -1)
	g.AddressConfirmedAt = &confirmed
	h.gifts.add(g)
	h.gifts.stranded[id] = true
}

func TestReconcileSettlesStrandedCharge(t *testing.T) {
	h := newHarness()
	rec := h.seedUser("u1", 10000, true)
	h.strandGift(t, "g1", "u1", rec, 4000)

	stats, err := h.eng.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if stats.Processed != 1 || stats.Executed != 1 {
		t.Fatalf("stats = %+v, want one settled gift", stats)
	}

	g := h.gifts.get(t, "g1")
	if g.Status != domain.GiftOrdered || g.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("gift = %s/%s, want ordered/paid", g.Status, g.PaymentStatus)
	}
	if g.OrderReference == "" {
		t.Fatal("order reference not recorded")
	}
	if n := len(h.audit.byStage(domain.StageReconcile, domain.ActionReconcile)); n != 1 {
		t.Fatalf("reconcile audit rows = %d, want 1", n)
	}
	if h.sent.count(notify.KindGiftShipped) != 1 {
		t.Fatalf("notifications = %v", h.sent.kinds)
	}
	// Money moved exactly once.
	if bal, _ := h.ledger.Balance(context.Background(), "u1"); bal != 6000 {
		t.Fatalf("balance = %d, want 6000", bal)
	}
}

func TestReconcileRefundsWhenRetryFails(t *testing.T) {
	h := newHarness()
	rec := h.seedUser("u1", 10000, true)
	h.strandGift(t, "g1", "u1", rec, 4000)
	h.ful.fail = errors.New("warehouse unavailable")

	stats, err := h.eng.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if stats.Executed != 1 {
		t.Fatalf("stats = %+v, want the stranded charge settled by refund", stats)
	}

	if refunds := h.wrepo.rows(domain.TxRefund, domain.TxCompleted); len(refunds) != 1 || refunds[0].AmountCents != 4000 {
		t.Fatalf("refunds = %+v, want one of 4000", refunds)
	}
	if bal, _ := h.ledger.Balance(context.Background(), "u1"); bal != 10000 {
		t.Fatalf("balance = %d, want 10000 restored", bal)
	}
	// Funds re-reserved so the next engine pass can retry cleanly.
	if pend := h.wrepo.rows(domain.TxReservation, domain.TxPending); len(pend) != 1 {
		t.Fatalf("pending reservations = %d, want 1", len(pend))
	}
	g := h.gifts.get(t, "g1")
	if g.Status != domain.GiftConfirmed || g.PaymentStatus != domain.PaymentUnpaid {
		t.Fatalf("gift = %s/%s, want confirmed/unpaid for retry", g.Status, g.PaymentStatus)
	}
	if n := len(h.audit.byStage(domain.StageReconcile, domain.ActionReconcile)); n != 1 {
		t.Fatalf("reconcile audit rows = %d, want 1", n)
	}
}

func TestReconcileRefundFailureLeavesGiftStranded(t *testing.T) {
	h := newHarness()
	rec := h.seedUser("u1", 10000, true)
	h.strandGift(t, "g1", "u1", rec, 4000)
	h.ful.fail = errors.New("warehouse unavailable")
	h.wrepo.creditErr = errors.New("ledger write failed")

	stats, err := h.eng.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	// Neither the retry nor the refund landed: the gift is not settled
	// and must stay visible to the next reconcile pass.
	if stats.Executed != 0 || stats.Errors != 1 {
		t.Fatalf("stats = %+v, want errors=1 executed=0", stats)
	}
	if refunds := h.wrepo.rows(domain.TxRefund, domain.TxCompleted); len(refunds) != 0 {
		t.Fatalf("refunds = %+v, want none", refunds)
	}
	if n := len(h.audit.byStage(domain.StageReconcile, domain.ActionReconcile)); n != 0 {
		t.Fatalf("settled audit rows = %d, want 0", n)
	}
	g := h.gifts.get(t, "g1")
	if g.Status != domain.GiftConfirmed || g.PaymentStatus != domain.PaymentUnpaid {
		t.Fatalf("gift = %s/%s, want confirmed/unpaid", g.Status, g.PaymentStatus)
	}

	// Ledger recovers; the same pass now settles it by refund.
	h.wrepo.creditErr = nil
	stats, err = h.eng.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if stats.Executed != 1 {
		t.Fatalf("stats = %+v, want the charge settled", stats)
	}
	if bal, _ := h.ledger.Balance(context.Background(), "u1"); bal != 10000 {
		t.Fatalf("balance = %d, want 10000 restored", bal)
	}
}

func TestReconcileEmptyWindow(t *testing.T) {
	h := newHarness()
	stats, err := h.eng.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if stats.Processed != 0 {
		t.Fatalf("stats = %+v, want nothing to do", stats)
	}
}
