package gift

import (
	"context"

	"github.com/giftwell/gift-automation/internal/domain"
)

// Repository defines the data access contract for scheduled gifts.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single gift. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.ScheduledGift, error)

	// ListForUser returns a user's gifts, newest occasion first.
	ListForUser(ctx context.Context, userID string, limit int) ([]domain.ScheduledGift, error)

	// Create inserts a new scheduled gift and returns its ID.
	Create(ctx context.Context, g *domain.ScheduledGift) (string, error)

	// SetStatus transitions a gift's lifecycle status.
	SetStatus(ctx context.Context, id string, status domain.GiftStatus) error
}

// RecipientStore provides read access to recipients for price derivation.
type RecipientStore interface {
	// Recipient returns a recipient. Returns ErrRecipientNotFound if it
	// doesn't exist.
	Recipient(ctx context.Context, id string) (*domain.Recipient, error)
}

// ReservationReleaser is the slice of the wallet service cancellation needs.
type ReservationReleaser interface {
	ReleaseReservation(ctx context.Context, giftID string) error
}
