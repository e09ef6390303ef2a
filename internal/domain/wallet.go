package domain

import (
	"time"
)

// TransactionType enumerates the kinds of wallet ledger rows.
type TransactionType string

const (
	TxReservation TransactionType = "reservation"
	TxCharge      TransactionType = "charge"
	TxRefund      TransactionType = "refund"
	TxDeposit     TransactionType = "deposit"
	TxAutoReload  TransactionType = "auto_reload"
)

// TransactionStatus enumerates ledger row states. Only a pending reservation
// ever changes state: to charge/completed when captured, or to cancelled
// when released. Every other row is immutable once inserted.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxCancelled TransactionStatus = "cancelled"
)

// WalletTransaction is one append-only ledger row. Amounts are signed cents:
// positive for deposits/refunds, negative for charges. Reservations carry a
// positive amount but do not move the balance until charged; they reduce
// availability only.
type WalletTransaction struct {
	ID                string            `json:"id" db:"id"`
	UserID            string            `json:"user_id" db:"user_id"`
	AmountCents       int64             `json:"amount_cents" db:"amount_cents"`
	BalanceAfterCents int64             `json:"balance_after_cents" db:"balance_after_cents"`
	Type              TransactionType   `json:"transaction_type" db:"transaction_type"`
	Status            TransactionStatus `json:"status" db:"status"`
	ScheduledGiftID   *string           `json:"scheduled_gift_id" db:"scheduled_gift_id"`
	// RelatedTxID links a refund to the charge it compensates. A gift can
	// be charged more than once across failed fulfillment attempts, so
	// refund idempotency is per charge, not per gift.
	RelatedTxID *string `json:"related_tx_id,omitempty" db:"related_tx_id"`
	Description       string            `json:"description" db:"description"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}

// WalletOwner is the per-user wallet profile: a denormalized balance cache
// plus auto-reload configuration. BalanceCents is only ever written through
// the wallet service's atomic operations.
type WalletOwner struct {
	UserID       string `json:"user_id" db:"user_id"`
	Email        string `json:"email" db:"email"`
	BalanceCents int64  `json:"balance_cents" db:"balance_cents"`

	AutoReloadEnabled        bool   `json:"auto_reload_enabled" db:"auto_reload_enabled"`
	AutoReloadThresholdCents int64  `json:"auto_reload_threshold_cents" db:"auto_reload_threshold_cents"`
	AutoReloadAmountCents    int64  `json:"auto_reload_amount_cents" db:"auto_reload_amount_cents"`
	PaymentInstrumentRef     string `json:"payment_instrument_ref" db:"payment_instrument_ref"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
