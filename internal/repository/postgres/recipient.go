package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/giftwell/gift-automation/internal/domain"
	"github.com/giftwell/gift-automation/internal/service/gift"
)

// RecipientRepo provides read access to recipients. Address edits happen in
// the user-facing product, so this side only ever reads.
type RecipientRepo struct{ db *sql.DB }

// NewRecipientRepo creates a Postgres-backed recipient store.
func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

func (r *RecipientRepo) Recipient(ctx context.Context, id string) (*domain.Recipient, error) {
	rec := &domain.Recipient{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name,
		       COALESCE(street,''), COALESCE(city,''), COALESCE(state,''),
		       COALESCE(zip,''), COALESCE(country,''),
		       default_gift_cents, created_at, updated_at
		FROM recipients
		WHERE id = $1
	`, id).Scan(
		&rec.ID, &rec.UserID, &rec.Name,
		&rec.Street, &rec.City, &rec.State,
		&rec.Zip, &rec.Country,
		&rec.DefaultGiftCents, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, gift.ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	return rec, nil
}
