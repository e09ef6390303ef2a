package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/giftwell/gift-automation/internal/domain"
	"github.com/giftwell/gift-automation/internal/service/wallet"
)

// WalletRepo implements wallet.Repository against PostgreSQL. Capture and
// Credit run inside a transaction with the owner row locked, so the cached
// balance and the ledger move together even across processes.
type WalletRepo struct{ db *sql.DB }

// NewWalletRepo creates a Postgres-backed wallet repository.
func NewWalletRepo(db *sql.DB) *WalletRepo { return &WalletRepo{db: db} }

const txColumns = `id, user_id, amount_cents, balance_after_cents,
	transaction_type, status, scheduled_gift_id, related_tx_id,
	COALESCE(description,''), created_at, updated_at`

func scanTx(row interface{ Scan(...any) error }) (*domain.WalletTransaction, error) {
	t := &domain.WalletTransaction{}
	err := row.Scan(
		&t.ID, &t.UserID, &t.AmountCents, &t.BalanceAfterCents,
		&t.Type, &t.Status, &t.ScheduledGiftID, &t.RelatedTxID,
		&t.Description, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *WalletRepo) Owner(ctx context.Context, userID string) (*domain.WalletOwner, error) {
	o := &domain.WalletOwner{}
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, email, balance_cents,
		       auto_reload_enabled, auto_reload_threshold_cents,
		       auto_reload_amount_cents, COALESCE(payment_instrument_ref,''),
		       created_at, updated_at
		FROM wallet_owners
		WHERE user_id = $1
	`, userID).Scan(
		&o.UserID, &o.Email, &o.BalanceCents,
		&o.AutoReloadEnabled, &o.AutoReloadThresholdCents,
		&o.AutoReloadAmountCents, &o.PaymentInstrumentRef,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, wallet.ErrOwnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet owner: %w", err)
	}
	return o, nil
}

func (r *WalletRepo) SetAutoReload(ctx context.Context, userID string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE wallet_owners SET auto_reload_enabled = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, enabled)
	if err != nil {
		return fmt.Errorf("set auto-reload: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wallet.ErrOwnerNotFound
	}
	return nil
}

func (r *WalletRepo) PendingReservation(ctx context.Context, giftID string) (*domain.WalletTransaction, error) {
	t, err := scanTx(r.db.QueryRowContext(ctx, `
		SELECT `+txColumns+`
		FROM wallet_transactions
		WHERE scheduled_gift_id = $1
		  AND transaction_type = 'reservation' AND status = 'pending'
	`, giftID))
	if err == sql.ErrNoRows {
		return nil, wallet.ErrNoPendingReservation
	}
	if err != nil {
		return nil, fmt.Errorf("get pending reservation: %w", err)
	}
	return t, nil
}

func (r *WalletRepo) PendingTotal(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM wallet_transactions
		WHERE user_id = $1
		  AND transaction_type = 'reservation' AND status = 'pending'
	`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum pending reservations: %w", err)
	}
	return total, nil
}

func (r *WalletRepo) CompletedCharge(ctx context.Context, giftID string) (*domain.WalletTransaction, error) {
	t, err := scanTx(r.db.QueryRowContext(ctx, `
		SELECT `+txColumns+`
		FROM wallet_transactions
		WHERE scheduled_gift_id = $1
		  AND transaction_type = 'charge' AND status = 'completed'
		ORDER BY created_at DESC
		LIMIT 1
	`, giftID))
	if err == sql.ErrNoRows {
		return nil, wallet.ErrNoChargeFound
	}
	if err != nil {
		return nil, fmt.Errorf("get completed charge: %w", err)
	}
	return t, nil
}

func (r *WalletRepo) RefundOfCharge(ctx context.Context, chargeID string) (*domain.WalletTransaction, error) {
	t, err := scanTx(r.db.QueryRowContext(ctx, `
		SELECT `+txColumns+`
		FROM wallet_transactions
		WHERE related_tx_id = $1
		  AND transaction_type = 'refund' AND status = 'completed'
	`, chargeID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get refund of charge: %w", err)
	}
	return t, nil
}

func (r *WalletRepo) Insert(ctx context.Context, t *domain.WalletTransaction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wallet_transactions
			(id, user_id, amount_cents, balance_after_cents,
			 transaction_type, status, scheduled_gift_id, related_tx_id,
			 description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.ID, t.UserID, t.AmountCents, t.BalanceAfterCents,
		t.Type, t.Status, t.ScheduledGiftID, t.RelatedTxID,
		t.Description, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *WalletRepo) Capture(ctx context.Context, reservationID, userID string, amountCents int64) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin capture: %w", err)
	}
	defer tx.Rollback()

	// The new balance is derived from the locked row, never from a read
	// taken before the transaction began.
	var current int64
	if err := tx.QueryRowContext(ctx, `
		SELECT balance_cents FROM wallet_owners WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return 0, wallet.ErrOwnerNotFound
		}
		return 0, fmt.Errorf("lock owner row: %w", err)
	}
	balanceAfter := current - amountCents
	if balanceAfter < 0 {
		return 0, wallet.ErrInsufficientFunds
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE wallet_transactions
		SET transaction_type = 'charge', status = 'completed',
		    amount_cents = -amount_cents, balance_after_cents = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, reservationID, balanceAfter)
	if err != nil {
		return 0, fmt.Errorf("capture reservation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, wallet.ErrNoPendingReservation
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE wallet_owners SET balance_cents = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, balanceAfter); err != nil {
		return 0, fmt.Errorf("write balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit capture: %w", err)
	}
	return balanceAfter, nil
}

func (r *WalletRepo) Cancel(ctx context.Context, reservationID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE wallet_transactions
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, reservationID)
	if err != nil {
		return fmt.Errorf("cancel reservation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wallet.ErrNoPendingReservation
	}
	return nil
}

func (r *WalletRepo) Credit(ctx context.Context, t *domain.WalletTransaction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin credit: %w", err)
	}
	defer tx.Rollback()

	var current int64
	if err := tx.QueryRowContext(ctx, `
		SELECT balance_cents FROM wallet_owners WHERE user_id = $1 FOR UPDATE
	`, t.UserID).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return wallet.ErrOwnerNotFound
		}
		return fmt.Errorf("lock owner row: %w", err)
	}
	t.BalanceAfterCents = current + t.AmountCents

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions
			(id, user_id, amount_cents, balance_after_cents,
			 transaction_type, status, scheduled_gift_id, related_tx_id,
			 description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.ID, t.UserID, t.AmountCents, t.BalanceAfterCents,
		t.Type, t.Status, t.ScheduledGiftID, t.RelatedTxID,
		t.Description, t.CreatedAt, t.UpdatedAt); err != nil {
		return fmt.Errorf("insert credit row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE wallet_owners SET balance_cents = $2, updated_at = NOW()
		WHERE user_id = $1
	`, t.UserID, t.BalanceAfterCents); err != nil {
		return fmt.Errorf("write balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credit: %w", err)
	}
	return nil
}

func (r *WalletRepo) Transactions(ctx context.Context, userID string, limit int) ([]domain.WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+txColumns+`
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.WalletTransaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
