package gift

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/giftwell/gift-automation/internal/domain"
	"github.com/giftwell/gift-automation/internal/pkg/logger"
)

// Service implements gift scheduling and cancellation.
type Service struct {
	repo       Repository
	recipients RecipientStore
	wallet     ReservationReleaser
}

// NewService creates a gift service.
func NewService(repo Repository, recipients RecipientStore, wallet ReservationReleaser) *Service {
	return &Service{repo: repo, recipients: recipients, wallet: wallet}
}

// ScheduleInput holds the fields for scheduling a new gift.
type ScheduleInput struct {
	UserID            string    `json:"user_id"`
	RecipientID       string    `json:"recipient_id"`
	OccasionDate      time.Time `json:"occasion_date"`
	AutomationEnabled bool      `json:"automation_enabled"`
}

// Get returns a single scheduled gift.
func (s *Service) Get(ctx context.Context, id string) (*domain.ScheduledGift, error) {
	return s.repo.Get(ctx, id)
}

// ListForUser returns a user's gifts.
func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]domain.ScheduledGift, error) {
	return s.repo.ListForUser(ctx, userID, limit)
}

// Schedule validates and persists a new scheduled gift. The delivery date
// is derived from the occasion date minus the fixed delivery lead, and the
// price is fixed here from the recipient's default gift preference — the
// engine never re-derives it later.
func (s *Service) Schedule(ctx context.Context, input ScheduleInput) (*domain.ScheduledGift, error) {
	if input.OccasionDate.Before(time.Now().UTC()) {
		return nil, ErrPastOccasion
	}

	r, err := s.recipients.Recipient(ctx, input.RecipientID)
	if err != nil {
		return nil, err
	}
	if r.UserID != input.UserID {
		return nil, ErrRecipientNotFound
	}
	if r.DefaultGiftCents <= 0 {
		return nil, ErrNoPrice
	}

	now := time.Now().UTC()
	g := &domain.ScheduledGift{
		ID:                uuid.New().String(),
		UserID:            input.UserID,
		RecipientID:       input.RecipientID,
		OccasionDate:      input.OccasionDate,
		DeliveryDate:      input.OccasionDate.AddDate(0, 0, -domain.DeliveryLeadDays),
		Status:            domain.GiftScheduled,
		PaymentStatus:     domain.PaymentUnpaid,
		AutomationEnabled: input.AutomationEnabled,
		PriceCents:        r.DefaultGiftCents,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	id, err := s.repo.Create(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("create gift: %w", err)
	}
	g.ID = id

	logger.Info("gift scheduled", "gift_id", g.ID, "user_id", g.UserID,
		"recipient_id", g.RecipientID, "price_cents", g.PriceCents)
	return g, nil
}

// Cancel releases any pending reservation and marks the gift cancelled.
// Cancelling a terminal gift fails with ErrTerminal; the engine treats
// cancelled gifts as terminal and skips them on all subsequent runs.
func (s *Service) Cancel(ctx context.Context, id string) error {
	g, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if g.IsTerminal() {
		return ErrTerminal
	}

	// Release before flipping status: if the release fails the gift stays
	// live and cancellation can be retried without stranding funds.
	if err := s.wallet.ReleaseReservation(ctx, id); err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}

	if err := s.repo.SetStatus(ctx, id, domain.GiftCancelled); err != nil {
		return fmt.Errorf("set cancelled: %w", err)
	}

	logger.Info("gift cancelled", "gift_id", id, "user_id", g.UserID)
	return nil
}
