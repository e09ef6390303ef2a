package domain

import (
	"time"
)

// Stage names the steps of the gift automation lifecycle, in priority order.
type Stage string

const (
	StageExpire             Stage = "expire"
	StageReserveFunds       Stage = "reserve_funds"
	StageAutoConfirm        Stage = "auto_confirm"
	StageRequestAddress     Stage = "request_address"
	StageAddressAutoConfirm Stage = "address_auto_confirm"
	StageAddressReminder    Stage = "address_reminder"
	StageFulfillment        Stage = "fulfillment"
	StageEscalate           Stage = "escalate"
	StageReconcile          Stage = "reconcile"
)

// LogAction classifies the outcome recorded for a stage attempt.
type LogAction string

const (
	ActionExecuted  LogAction = "executed"
	ActionError     LogAction = "error"
	ActionReconcile LogAction = "reconciled"
)

// AutomationLogEntry is one immutable audit row. The engine only ever writes
// these; operators and tests read them.
type AutomationLogEntry struct {
	ID              string         `json:"id" db:"id"`
	UserID          string         `json:"user_id" db:"user_id"`
	RecipientID     string         `json:"recipient_id" db:"recipient_id"`
	ScheduledGiftID string         `json:"scheduled_gift_id" db:"scheduled_gift_id"`
	Stage           Stage          `json:"stage" db:"stage"`
	Action          LogAction      `json:"action" db:"action"`
	Outcome         string         `json:"outcome" db:"outcome"`
	Detail          map[string]any `json:"detail" db:"detail"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}
