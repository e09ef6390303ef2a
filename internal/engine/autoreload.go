package engine

import (
	"context"
	"fmt"

	"github.com/giftwell/gift-automation/internal/domain"
	"github.com/giftwell/gift-automation/internal/gateway/notify"
	"github.com/giftwell/gift-automation/internal/pkg/logger"
	"github.com/giftwell/gift-automation/internal/service/wallet"
)

// tryAutoReload tops the wallet up after a reservation bounced on
// insufficient funds, then retries the reservation exactly once. It only
// ever runs from the reserve-funds stage.
//
// The external charge and the ledger deposit are a best-effort unit: if the
// charge lands but the deposit write fails, the inconsistency is flagged in
// the automation log for manual reconciliation and the deposit is never
// retried on its own, so the user can't be credited twice.
func (e *Engine) tryAutoReload(ctx context.Context, gc *giftCtx) (*domain.WalletTransaction, error) {
	g := gc.gift
	owner := gc.owner

	if !owner.AutoReloadEnabled || owner.PaymentInstrumentRef == "" {
		return nil, wallet.ErrInsufficientFunds
	}

	// Charge at least the configured top-up, more if the gift costs more
	// than one top-up would cover.
	amount := owner.AutoReloadAmountCents
	if g.PriceCents > amount {
		amount = g.PriceCents
	}
	if amount <= 0 {
		return nil, wallet.ErrInsufficientFunds
	}

	cctx, cancel := e.gatewayCtx(ctx)
	chargeRef, err := e.charger.Charge(cctx, owner.UserID, amount, owner.PaymentInstrumentRef)
	cancel()
	if err != nil {
		// Disable before notifying so a notification failure can't leave
		// the flag set and the card being hammered every pass.
		if derr := e.ledger.DisableAutoReload(ctx, owner.UserID); derr != nil {
			logger.Error("disable auto-reload failed", "user_id", owner.UserID, "error", derr.Error())
		}
		e.notifyUser(ctx, gc, notify.KindAutoReloadFailed, map[string]any{
			"amount_cents": amount,
			"error":        err.Error(),
		})
		return nil, wallet.ErrInsufficientFunds
	}

	desc := fmt.Sprintf("auto-reload via %s", chargeRef)
	if _, err := e.ledger.Deposit(ctx, owner.UserID, amount, domain.TxAutoReload, desc); err != nil {
		e.record(ctx, g, domain.StageReserveFunds, domain.ActionError,
			fmt.Sprintf("auto-reload charge %s succeeded but deposit write failed: %v", chargeRef, err),
			map[string]any{
				"charge_ref":   chargeRef,
				"amount_cents": amount,
				"needs_manual": true,
			})
		return nil, fmt.Errorf("deposit after auto-reload charge %s: %w", chargeRef, err)
	}

	logger.Info("auto-reload applied", "user_id", owner.UserID,
		"amount_cents", amount, "charge_ref", chargeRef)
	return e.ledger.Reserve(ctx, g.UserID, g.ID, g.PriceCents)
}
