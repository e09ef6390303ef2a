package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/giftwell/gift-automation/internal/domain"
	"github.com/giftwell/gift-automation/internal/service/gift"
)

// GiftRepo implements gift.Repository and the engine's gift store against
// PostgreSQL.
type GiftRepo struct{ db *sql.DB }

// NewGiftRepo creates a Postgres-backed gift repository.
func NewGiftRepo(db *sql.DB) *GiftRepo { return &GiftRepo{db: db} }

const giftColumns = `id, user_id, recipient_id, occasion_date, delivery_date,
	status, payment_status, automation_enabled, price_cents,
	wallet_reserved, wallet_reservation_cents, wallet_reservation_date,
	address_requested_at, address_confirmed_at, address_reminder_sent,
	COALESCE(order_reference,''), created_at, updated_at`

func scanGift(row interface{ Scan(...any) error }) (*domain.ScheduledGift, error) {
	g := &domain.ScheduledGift{}
	err := row.Scan(
		&g.ID, &g.UserID, &g.RecipientID, &g.OccasionDate, &g.DeliveryDate,
		&g.Status, &g.PaymentStatus, &g.AutomationEnabled, &g.PriceCents,
		&g.WalletReserved, &g.WalletReservationCents, &g.WalletReservationDate,
		&g.AddressRequestedAt, &g.AddressConfirmedAt, &g.AddressReminderSent,
		&g.OrderReference, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (r *GiftRepo) Get(ctx context.Context, id string) (*domain.ScheduledGift, error) {
	g, err := scanGift(r.db.QueryRowContext(ctx, `
		SELECT `+giftColumns+` FROM scheduled_gifts WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, gift.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get gift: %w", err)
	}
	return g, nil
}

func (r *GiftRepo) ListForUser(ctx context.Context, userID string, limit int) ([]domain.ScheduledGift, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+giftColumns+`
		FROM scheduled_gifts
		WHERE user_id = $1
		ORDER BY occasion_date DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list gifts: %w", err)
	}
	defer rows.Close()
	return collectGifts(rows)
}

func (r *GiftRepo) Create(ctx context.Context, g *domain.ScheduledGift) (string, error) {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scheduled_gifts
			(id, user_id, recipient_id, occasion_date, delivery_date,
			 status, payment_status, automation_enabled, price_cents,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`, g.ID, g.UserID, g.RecipientID, g.OccasionDate, g.DeliveryDate,
		g.Status, g.PaymentStatus, g.AutomationEnabled, g.PriceCents)
	if err != nil {
		return "", fmt.Errorf("create gift: %w", err)
	}
	return g.ID, nil
}

func (r *GiftRepo) SetStatus(ctx context.Context, id string, status domain.GiftStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_gifts SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("set gift status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gift.ErrNotFound
	}
	return nil
}

// ListAutomated returns automation-enabled, non-terminal gifts ordered by
// delivery date then id so batches are deterministic.
func (r *GiftRepo) ListAutomated(ctx context.Context, limit int) ([]domain.ScheduledGift, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+giftColumns+`
		FROM scheduled_gifts
		WHERE automation_enabled = TRUE
		  AND status NOT IN ('delivered', 'cancelled', 'expired')
		ORDER BY delivery_date, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list automated gifts: %w", err)
	}
	defer rows.Close()
	return collectGifts(rows)
}

// Update persists every lifecycle field the engine mutates.
func (r *GiftRepo) Update(ctx context.Context, g *domain.ScheduledGift) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_gifts
		SET status = $2, payment_status = $3, automation_enabled = $4,
		    wallet_reserved = $5, wallet_reservation_cents = $6,
		    wallet_reservation_date = $7, address_requested_at = $8,
		    address_confirmed_at = $9, address_reminder_sent = $10,
		    order_reference = $11, updated_at = NOW()
		WHERE id = $1
	`, g.ID, g.Status, g.PaymentStatus, g.AutomationEnabled,
		g.WalletReserved, g.WalletReservationCents,
		g.WalletReservationDate, g.AddressRequestedAt,
		g.AddressConfirmedAt, g.AddressReminderSent,
		g.OrderReference)
	if err != nil {
		return fmt.Errorf("update gift: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return gift.ErrNotFound
	}
	return nil
}

// ListChargedUnfulfilled finds gifts stranded between a completed wallet
// charge and an order placement, the crash window the reconcile pass owns.
func (r *GiftRepo) ListChargedUnfulfilled(ctx context.Context, limit int) ([]domain.ScheduledGift, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+giftColumns+`
		FROM scheduled_gifts g
		WHERE g.payment_status = 'unpaid'
		  AND g.status NOT IN ('ordered', 'delivered', 'cancelled', 'expired')
		  AND EXISTS (
			SELECT 1 FROM wallet_transactions t
			WHERE t.scheduled_gift_id = g.id
			  AND t.transaction_type = 'charge' AND t.status = 'completed'
			  AND NOT EXISTS (
				SELECT 1 FROM wallet_transactions rf
				WHERE rf.related_tx_id = t.id
				  AND rf.transaction_type = 'refund' AND rf.status = 'completed'
			  )
		  )
		ORDER BY g.delivery_date, g.id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list charged-unfulfilled gifts: %w", err)
	}
	defer rows.Close()
	return collectGifts(rows)
}

func collectGifts(rows *sql.Rows) ([]domain.ScheduledGift, error) {
	var out []domain.ScheduledGift
	for rows.Next() {
		g, err := scanGift(rows)
		if err != nil {
			return nil, fmt.Errorf("scan gift: %w", err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}
