package engine

import (
	"context"
	"fmt"

	"github.com/giftwell/gift-automation/internal/domain"
	"github.com/giftwell/gift-automation/internal/gateway/notify"
	"github.com/giftwell/gift-automation/internal/pkg/logger"
)

// Reconcile settles gifts stranded in the crash window between a wallet
// charge and an order placement: the ledger shows a completed charge but
// the gift was never marked ordered. For each one, fulfillment is retried
// once (the gateway checks existing order state first, so a crash after
// the order went out resolves without a second order); if the retry fails
// the charge is refunded and the funds re-reserved.
func (e *Engine) Reconcile(ctx context.Context) (Stats, error) {
	var stats Stats

	gifts, err := e.gifts.ListChargedUnfulfilled(ctx, e.cfg.BatchLimit)
	if err != nil {
		return stats, fmt.Errorf("list charged-unfulfilled gifts: %w", err)
	}

	for i := range gifts {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Processed++
		if e.reconcileGift(ctx, &gifts[i]) {
			stats.Executed++
		} else {
			stats.Errors++
		}
	}

	logger.Info("reconcile pass complete",
		"processed", stats.Processed, "settled", stats.Executed, "errors", stats.Errors)
	return stats, nil
}

func (e *Engine) reconcileGift(ctx context.Context, g *domain.ScheduledGift) (settled bool) {
	defer func() {
		if r := recover(); r != nil {
			settled = false
			e.record(ctx, g, domain.StageReconcile, domain.ActionError,
				fmt.Sprintf("panic: %v", r), nil)
		}
	}()

	gc, err := e.buildContext(ctx, g)
	if err != nil {
		e.record(ctx, g, domain.StageReconcile, domain.ActionError, err.Error(), nil)
		return false
	}

	octx, cancel := e.gatewayCtx(ctx)
	ref, orderErr := e.fulfiller.PlaceOrder(octx, g.ID, gc.recipient.ShippingAddress())
	cancel()

	if orderErr != nil {
		// Give the money back; the next engine pass reattempts the whole
		// charge-then-order pair from a clean slate. If the refund itself
		// fails the gift stays stranded for the next reconcile pass.
		if !e.compensate(ctx, gc, g.PriceCents, orderErr) {
			return false
		}
		e.record(ctx, g, domain.StageReconcile, domain.ActionReconcile,
			fmt.Sprintf("stranded charge refunded after retry failed: %v", orderErr),
			map[string]any{"amount_cents": g.PriceCents})
		return true
	}

	now := e.now().UTC()
	g.Status = domain.GiftOrdered
	g.PaymentStatus = domain.PaymentPaid
	g.OrderReference = ref
	g.UpdatedAt = now
	if err := e.gifts.Update(ctx, g); err != nil {
		e.record(ctx, g, domain.StageReconcile, domain.ActionError,
			fmt.Sprintf("order %s placed but gift update failed: %v", ref, err), nil)
		return false
	}
	e.record(ctx, g, domain.StageReconcile, domain.ActionReconcile,
		fmt.Sprintf("stranded charge settled, order %s", ref),
		map[string]any{"order_reference": ref})
	e.notifyUser(ctx, gc, notify.KindGiftShipped, map[string]any{
		"order_reference": ref,
		"amount_cents":    g.PriceCents,
	})
	return true
}
