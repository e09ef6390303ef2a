package wallet

import (
	"context"

	"github.com/giftwell/gift-automation/internal/domain"
)

// Repository defines the data access contract for the wallet ledger.
// Implementations must be safe for concurrent use. Multi-row operations
// (Capture, Credit) must execute inside a single database transaction so
// the ledger and the cached balance can never drift apart.
type Repository interface {
	// Owner returns a user's wallet profile. Returns ErrOwnerNotFound if
	// the user has no wallet.
	Owner(ctx context.Context, userID string) (*domain.WalletOwner, error)

	// SetAutoReload flips the owner's auto-reload flag.
	SetAutoReload(ctx context.Context, userID string, enabled bool) error

	// PendingReservation returns the single pending reservation row for a
	// gift, or ErrNoPendingReservation.
	PendingReservation(ctx context.Context, giftID string) (*domain.WalletTransaction, error)

	// PendingTotal returns the sum of all pending reservation amounts for
	// a user.
	PendingTotal(ctx context.Context, userID string) (int64, error)

	// CompletedCharge returns the most recent completed charge row for a
	// gift, or ErrNoChargeFound. A gift charged, refunded, and charged
	// again has multiple charge rows; the latest is the live one.
	CompletedCharge(ctx context.Context, giftID string) (*domain.WalletTransaction, error)

	// RefundOfCharge returns the completed refund compensating the given
	// charge row, or (nil, nil) when none exists.
	RefundOfCharge(ctx context.Context, chargeID string) (*domain.WalletTransaction, error)

	// Insert appends a new ledger row without touching the cached balance.
	Insert(ctx context.Context, tx *domain.WalletTransaction) error

	// Capture re-types a pending reservation to charge/completed, negates
	// its amount, and decrements the owner's cached balance by amountCents,
	// recomputing the new balance under the owner row lock so a concurrent
	// credit in another process is never overwritten. Returns the balance
	// after the charge, or ErrInsufficientFunds if the charge would push
	// it negative.
	Capture(ctx context.Context, reservationID, userID string, amountCents int64) (int64, error)

	// Cancel marks a pending reservation cancelled. The cached balance is
	// untouched since a reservation never decremented it.
	Cancel(ctx context.Context, reservationID string) error

	// Credit inserts a completed credit row (deposit, auto_reload, refund)
	// and bumps the owner's cached balance — one atomic unit.
	Credit(ctx context.Context, tx *domain.WalletTransaction) error

	// Transactions returns a user's most recent ledger rows, newest first.
	Transactions(ctx context.Context, userID string, limit int) ([]domain.WalletTransaction, error)
}
