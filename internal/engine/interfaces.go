package engine

import (
	"context"

	"github.com/giftwell/gift-automation/internal/domain"
)

// GiftStore is the engine's persistence contract for scheduled gifts.
// Implementations must be safe for concurrent use.
type GiftStore interface {
	// ListAutomated returns automation-enabled, non-terminal gifts,
	// ordered by delivery date then id for deterministic batches.
	ListAutomated(ctx context.Context, limit int) ([]domain.ScheduledGift, error)

	// Update persists the lifecycle fields of a gift (status, payment
	// status, reservation and address markers, order reference).
	Update(ctx context.Context, g *domain.ScheduledGift) error

	// ListChargedUnfulfilled returns gifts whose ledger shows a completed
	// charge but which were never marked ordered — the crash window
	// between charging and placing the order.
	ListChargedUnfulfilled(ctx context.Context, limit int) ([]domain.ScheduledGift, error)
}

// RecipientStore provides read access to recipients and their addresses.
type RecipientStore interface {
	Recipient(ctx context.Context, id string) (*domain.Recipient, error)
}

// Ledger is the slice of the wallet service the engine drives.
// *wallet.Service satisfies it.
type Ledger interface {
	Owner(ctx context.Context, userID string) (*domain.WalletOwner, error)
	Reserve(ctx context.Context, userID, giftID string, amountCents int64) (*domain.WalletTransaction, error)
	ChargeReservation(ctx context.Context, giftID string) (*domain.WalletTransaction, error)
	Refund(ctx context.Context, giftID string) (*domain.WalletTransaction, error)
	Deposit(ctx context.Context, userID string, amountCents int64, source domain.TransactionType, description string) (*domain.WalletTransaction, error)
	ReleaseReservation(ctx context.Context, giftID string) error
	DisableAutoReload(ctx context.Context, userID string) error
}

// Fulfiller places purchase orders. Implementations must be idempotent per
// gift id from the engine's perspective.
type Fulfiller interface {
	PlaceOrder(ctx context.Context, giftID string, dest domain.Address) (string, error)
}

// Charger bills a stored payment instrument for auto-reload.
type Charger interface {
	Charge(ctx context.Context, userID string, amountCents int64, instrumentRef string) (string, error)
}

// AuditLog records every stage transition attempted. Write-only from the
// engine's perspective; operators and tests read it.
type AuditLog interface {
	Record(ctx context.Context, e *domain.AutomationLogEntry) error
}
