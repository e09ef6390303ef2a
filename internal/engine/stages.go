package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/giftwell/gift-automation/internal/domain"
	"github.com/giftwell/gift-automation/internal/gateway/notify"
	"github.com/giftwell/gift-automation/internal/pkg/logger"
	"github.com/giftwell/gift-automation/internal/service/wallet"
)

// stage pairs a predicate with a handler. The table below is evaluated in
// order and the first matching stage runs; everything after it waits for a
// later pass.
type stage struct {
	name domain.Stage
	when func(*giftCtx) bool
	run  func(context.Context, *giftCtx) (string, error)
}

func (e *Engine) stages() []stage {
	return []stage{
		{domain.StageExpire, e.whenExpired, e.expire},
		{domain.StageReserveFunds, e.whenReservable, e.reserveFunds},
		{domain.StageAutoConfirm, e.whenConfirmable, e.autoConfirm},
		{domain.StageRequestAddress, e.whenAddressNeeded, e.requestAddress},
		{domain.StageAddressAutoConfirm, e.whenAddressArrived, e.addressAutoConfirm},
		{domain.StageAddressReminder, e.whenReminderDue, e.addressReminder},
		{domain.StageFulfillment, e.whenFulfillable, e.stageFulfill},
		{domain.StageEscalate, e.whenEscalatable, e.escalate},
	}
}

// Expire: the occasion came and went without payment. Release any held
// funds exactly once and close the gift out. An unpaid gift can also carry
// a completed charge with no order behind it (crash between capture and
// order placement); expiring it without refunding would strand that charge
// past the reach of the reconcile pass, so the refund happens here.
func (e *Engine) whenExpired(gc *giftCtx) bool {
	return gc.gift.OccasionPassed(gc.today) && gc.gift.PaymentStatus == domain.PaymentUnpaid
}

func (e *Engine) expire(ctx context.Context, gc *giftCtx) (string, error) {
	g := gc.gift
	if g.WalletReserved {
		if err := e.ledger.ReleaseReservation(ctx, g.ID); err != nil {
			return "", fmt.Errorf("release reservation: %w", err)
		}
		g.WalletReserved = false
	}
	if _, err := e.ledger.Refund(ctx, g.ID); err != nil && !errors.Is(err, wallet.ErrNoChargeFound) {
		return "", fmt.Errorf("refund stranded charge: %w", err)
	}
	g.Status = domain.GiftExpired
	g.UpdatedAt = e.now().UTC()
	if err := e.gifts.Update(ctx, g); err != nil {
		return "", fmt.Errorf("mark expired: %w", err)
	}
	e.notifyUser(ctx, gc, notify.KindGiftExpired, nil)
	return "occasion passed unpaid, gift expired and reservation released", nil
}

// ReserveFunds: earmark the gift's price once the reservation window opens.
// The day mark is a lower bound, not an exact match, so a gift that missed
// a batch (or failed on low balance) is retried every pass until it lands.
func (e *Engine) whenReservable(gc *giftCtx) bool {
	return gc.gift.Status == domain.GiftScheduled &&
		!gc.gift.WalletReserved &&
		gc.daysUntil <= e.cfg.ReserveDaysBefore &&
		gc.daysUntil > 0
}

func (e *Engine) reserveFunds(ctx context.Context, gc *giftCtx) (string, error) {
	g := gc.gift
	if g.PriceCents <= 0 {
		return "", fmt.Errorf("gift %s has no price", g.ID)
	}

	tx, err := e.ledger.Reserve(ctx, g.UserID, g.ID, g.PriceCents)
	if errors.Is(err, wallet.ErrInsufficientFunds) {
		tx, err = e.tryAutoReload(ctx, gc)
	}
	if errors.Is(err, wallet.ErrInsufficientFunds) {
		e.notifyUser(ctx, gc, notify.KindLowBalance, map[string]any{
			"required_cents": g.PriceCents,
		})
		return "", fmt.Errorf("reserve %d cents: %w", g.PriceCents, err)
	}
	if err != nil {
		return "", fmt.Errorf("reserve %d cents: %w", g.PriceCents, err)
	}

	now := e.now().UTC()
	g.WalletReserved = true
	g.WalletReservationCents = tx.AmountCents
	g.WalletReservationDate = &now
	g.UpdatedAt = now
	if err := e.gifts.Update(ctx, g); err != nil {
		return "", fmt.Errorf("persist reservation marker: %w", err)
	}
	return fmt.Sprintf("reserved %d cents at %d days out", tx.AmountCents, gc.daysUntil), nil
}

// AutoConfirm: once the address is on file and the reservation has dwelled
// long enough for the user to intervene, confirm and try to fulfill in the
// same pass so reserved funds don't sit idle.
func (e *Engine) whenConfirmable(gc *giftCtx) bool {
	g := gc.gift
	return g.WalletReserved &&
		g.Status != domain.GiftConfirmed &&
		g.PaymentStatus == domain.PaymentUnpaid &&
		gc.recipient.AddressComplete() &&
		g.WalletReservationDate != nil &&
		domain.DaysBetween(*g.WalletReservationDate, gc.today) >= e.cfg.ReservationDwellDays
}

func (e *Engine) autoConfirm(ctx context.Context, gc *giftCtx) (string, error) {
	if err := e.confirm(ctx, gc); err != nil {
		return "", err
	}
	e.attemptFulfillment(ctx, gc)
	return "gift auto-confirmed after reservation dwell", nil
}

// confirm marks the gift confirmed and its address settled, then notifies.
func (e *Engine) confirm(ctx context.Context, gc *giftCtx) error {
	g := gc.gift
	now := e.now().UTC()
	g.Status = domain.GiftConfirmed
	if g.AddressConfirmedAt == nil {
		g.AddressConfirmedAt = &now
	}
	g.UpdatedAt = now
	if err := e.gifts.Update(ctx, g); err != nil {
		return fmt.Errorf("mark confirmed: %w", err)
	}
	e.notifyUser(ctx, gc, notify.KindGiftConfirmed, map[string]any{
		"amount_cents": g.WalletReservationCents,
	})
	return nil
}

// RequestAddress: the address window opened and we still haven't asked.
// When the address is already complete this behaves as auto-confirm
// instead, skipping the request round-trip entirely.
func (e *Engine) whenAddressNeeded(gc *giftCtx) bool {
	g := gc.gift
	return g.WalletReserved &&
		g.Status != domain.GiftConfirmed &&
		g.AddressRequestedAt == nil &&
		gc.daysUntil <= e.cfg.AddressRequestDaysBefore &&
		gc.daysUntil > 0
}

func (e *Engine) requestAddress(ctx context.Context, gc *giftCtx) (string, error) {
	g := gc.gift
	if gc.recipient.AddressComplete() {
		if err := e.confirm(ctx, gc); err != nil {
			return "", err
		}
		e.attemptFulfillment(ctx, gc)
		return "address already on file, confirmed without request", nil
	}

	now := e.now().UTC()
	g.AddressRequestedAt = &now
	g.UpdatedAt = now
	if err := e.gifts.Update(ctx, g); err != nil {
		return "", fmt.Errorf("mark address requested: %w", err)
	}
	e.notifyUser(ctx, gc, notify.KindNeedAddress, nil)
	return "shipping address requested from user", nil
}

// AddressAutoConfirm: the address arrived after we asked for it. A one-day
// dwell keeps a same-day edit from triggering an instant charge.
func (e *Engine) whenAddressArrived(gc *giftCtx) bool {
	g := gc.gift
	return g.WalletReserved &&
		g.AddressRequestedAt != nil &&
		g.AddressConfirmedAt == nil &&
		gc.recipient.AddressComplete() &&
		domain.DaysBetween(*g.AddressRequestedAt, gc.today) >= e.cfg.AddressDwellDays
}

func (e *Engine) addressAutoConfirm(ctx context.Context, gc *giftCtx) (string, error) {
	if err := e.confirm(ctx, gc); err != nil {
		return "", err
	}
	e.attemptFulfillment(ctx, gc)
	return "address supplied after request, gift confirmed", nil
}

// AddressReminder: one nudge, a fixed number of days after the request,
// only while there is still time to act on it.
func (e *Engine) whenReminderDue(gc *giftCtx) bool {
	g := gc.gift
	return g.AddressRequestedAt != nil &&
		g.AddressConfirmedAt == nil &&
		!g.AddressReminderSent &&
		!gc.recipient.AddressComplete() &&
		domain.DaysBetween(*g.AddressRequestedAt, gc.today) == e.cfg.ReminderAfterDays &&
		gc.daysUntil > e.cfg.ReminderMinDaysLeft
}

func (e *Engine) addressReminder(ctx context.Context, gc *giftCtx) (string, error) {
	g := gc.gift
	g.AddressReminderSent = true
	g.UpdatedAt = e.now().UTC()
	if err := e.gifts.Update(ctx, g); err != nil {
		return "", fmt.Errorf("mark reminder sent: %w", err)
	}
	e.notifyUser(ctx, gc, notify.KindAddressReminder, nil)
	return "address reminder sent", nil
}

// Fulfillment: charge first, order second. A gateway failure after the
// charge drives a compensating refund and re-reservation so the gift is
// back exactly where it started, still confirmed and retryable.
func (e *Engine) whenFulfillable(gc *giftCtx) bool {
	g := gc.gift
	return g.WalletReserved &&
		g.Status == domain.GiftConfirmed &&
		g.AddressConfirmedAt != nil &&
		g.PaymentStatus == domain.PaymentUnpaid &&
		gc.daysUntil > 0
}

func (e *Engine) stageFulfill(ctx context.Context, gc *giftCtx) (string, error) {
	if err := e.fulfill(ctx, gc); err != nil {
		return "", err
	}
	return fmt.Sprintf("order %s placed, %d cents charged",
		gc.gift.OrderReference, gc.gift.PriceCents), nil
}

// attemptFulfillment runs fulfillment chained off a confirmation in the
// same pass. It writes its own log row; a chained failure never undoes the
// confirmation that preceded it.
func (e *Engine) attemptFulfillment(ctx context.Context, gc *giftCtx) {
	if !e.whenFulfillable(gc) {
		return
	}
	if err := e.fulfill(ctx, gc); err != nil {
		e.record(ctx, gc.gift, domain.StageFulfillment, domain.ActionError, err.Error(), nil)
		logger.Warn("chained fulfillment failed", "gift_id", gc.gift.ID, "error", err.Error())
		return
	}
	e.record(ctx, gc.gift, domain.StageFulfillment, domain.ActionExecuted,
		fmt.Sprintf("order %s placed, %d cents charged", gc.gift.OrderReference, gc.gift.PriceCents), nil)
}

// fulfill converts the pending reservation into a completed charge, places
// the order, and persists the ordered/paid state. On gateway failure the
// charge is refunded and the funds re-reserved.
func (e *Engine) fulfill(ctx context.Context, gc *giftCtx) error {
	g := gc.gift

	charged, err := e.ledger.ChargeReservation(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("charge reservation: %w", err)
	}
	amount := -charged.AmountCents

	octx, cancel := e.gatewayCtx(ctx)
	ref, orderErr := e.fulfiller.PlaceOrder(octx, g.ID, gc.recipient.ShippingAddress())
	cancel()
	if orderErr != nil {
		e.compensate(ctx, gc, amount, orderErr)
		return fmt.Errorf("place order: %w", orderErr)
	}

	now := e.now().UTC()
	g.Status = domain.GiftOrdered
	g.PaymentStatus = domain.PaymentPaid
	g.OrderReference = ref
	g.UpdatedAt = now
	if err := e.gifts.Update(ctx, g); err != nil {
		// The order exists; the reconcile pass will settle the row via
		// the gateway's order-state check.
		return fmt.Errorf("persist order %s: %w", ref, err)
	}
	e.notifyUser(ctx, gc, notify.KindGiftShipped, map[string]any{
		"order_reference": ref,
		"amount_cents":    amount,
	})
	return nil
}

// compensate refunds a charge whose order never went through, then
// re-reserves the same amount so the wallet is back in its pre-charge
// shape: reservation pending, gift confirmed and unpaid. Returns whether
// the refund actually landed.
func (e *Engine) compensate(ctx context.Context, gc *giftCtx, amountCents int64, cause error) bool {
	g := gc.gift
	if _, err := e.ledger.Refund(ctx, g.ID); err != nil {
		// Funds are captured with no order behind them. Loudest
		// possible log; the reconcile pass picks this up.
		e.record(ctx, g, domain.StageFulfillment, domain.ActionError,
			fmt.Sprintf("refund after failed order also failed: %v (order error: %v)", err, cause),
			map[string]any{"amount_cents": amountCents, "needs_reconcile": true})
		logger.Error("compensating refund failed", "gift_id", g.ID, "error", err.Error())
		return false
	}
	if _, err := e.ledger.Reserve(ctx, g.UserID, g.ID, amountCents); err != nil {
		logger.Warn("re-reserve after refund failed", "gift_id", g.ID, "error", err.Error())
		g.WalletReserved = false
		g.WalletReservationDate = nil
		if uerr := e.gifts.Update(ctx, g); uerr != nil {
			logger.Error("clear reservation marker failed", "gift_id", g.ID, "error", uerr.Error())
		}
	}
	e.notifyUser(ctx, gc, notify.KindOrderFailed, map[string]any{
		"amount_cents": amountCents,
		"error":        cause.Error(),
	})
	return true
}

// Escalate: the day before delivery with no usable address. Hand the gift
// back to the user: stop automating it and free the held funds.
func (e *Engine) whenEscalatable(gc *giftCtx) bool {
	g := gc.gift
	return g.WalletReserved &&
		g.AddressRequestedAt != nil &&
		g.AddressConfirmedAt == nil &&
		!gc.recipient.AddressComplete() &&
		gc.daysUntil <= e.cfg.EscalateDaysBefore
}

func (e *Engine) escalate(ctx context.Context, gc *giftCtx) (string, error) {
	g := gc.gift
	if err := e.ledger.ReleaseReservation(ctx, g.ID); err != nil {
		return "", fmt.Errorf("release reservation: %w", err)
	}
	g.WalletReserved = false
	g.AutomationEnabled = false
	g.UpdatedAt = e.now().UTC()
	if err := e.gifts.Update(ctx, g); err != nil {
		return "", fmt.Errorf("disable automation: %w", err)
	}
	e.notifyUser(ctx, gc, notify.KindAutomationFailed, map[string]any{
		"reason": "no shipping address one day before delivery",
	})
	return "no address on delivery eve, automation disabled and funds released", nil
}
