package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/giftwell/gift-automation/internal/domain"
)

// AutomationLogRepo persists automation-log rows. The table is append-only
// from the engine's side; deletes only happen through the archiver after
// rows are safely exported.
type AutomationLogRepo struct{ db *sql.DB }

// NewAutomationLogRepo creates a Postgres-backed automation log.
func NewAutomationLogRepo(db *sql.DB) *AutomationLogRepo { return &AutomationLogRepo{db: db} }

func (r *AutomationLogRepo) Record(ctx context.Context, e *domain.AutomationLogEntry) error {
	var detail []byte
	if e.Detail != nil {
		var err error
		detail, err = json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshal log detail: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO automation_log
			(id, user_id, recipient_id, scheduled_gift_id, stage, action,
			 outcome, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.UserID, e.RecipientID, e.ScheduledGiftID, e.Stage, e.Action,
		e.Outcome, detail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

const logColumns = `id, user_id, recipient_id, scheduled_gift_id, stage,
	action, outcome, detail, created_at`

func scanLogEntry(row interface{ Scan(...any) error }) (*domain.AutomationLogEntry, error) {
	e := &domain.AutomationLogEntry{}
	var detail []byte
	err := row.Scan(
		&e.ID, &e.UserID, &e.RecipientID, &e.ScheduledGiftID, &e.Stage,
		&e.Action, &e.Outcome, &detail, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &e.Detail); err != nil {
			return nil, fmt.Errorf("unmarshal log detail: %w", err)
		}
	}
	return e, nil
}

// ListForGift returns a gift's log rows, newest first.
func (r *AutomationLogRepo) ListForGift(ctx context.Context, giftID string, limit int) ([]domain.AutomationLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+logColumns+`
		FROM automation_log
		WHERE scheduled_gift_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, giftID, limit)
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	defer rows.Close()
	return collectLogEntries(rows)
}

// OlderThan returns log rows created before the cutoff, oldest first, for
// the archiver to export.
func (r *AutomationLogRepo) OlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.AutomationLogEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+logColumns+`
		FROM automation_log
		WHERE created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list old log entries: %w", err)
	}
	defer rows.Close()
	return collectLogEntries(rows)
}

// Delete removes archived rows by id.
func (r *AutomationLogRepo) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM automation_log WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("delete log entries: %w", err)
	}
	return nil
}

func collectLogEntries(rows *sql.Rows) ([]domain.AutomationLogEntry, error) {
	var out []domain.AutomationLogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
