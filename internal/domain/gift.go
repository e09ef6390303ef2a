package domain

import (
	"time"
)

// GiftStatus enumerates the lifecycle states of a scheduled gift.
type GiftStatus string

const (
	GiftScheduled GiftStatus = "scheduled"
	GiftConfirmed GiftStatus = "confirmed"
	GiftOrdered   GiftStatus = "ordered"
	GiftDelivered GiftStatus = "delivered"
	GiftCancelled GiftStatus = "cancelled"
	GiftExpired   GiftStatus = "expired"
)

// PaymentStatus tracks whether the gift's funds have been captured.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// DeliveryLeadDays is how many days before the occasion a gift should arrive.
// delivery_date is always derived as occasion_date minus this lead.
const DeliveryLeadDays = 2

// ScheduledGift is one gift instance tied to one occasion for one recipient.
// Once automation is enabled it is mutated exclusively by the lifecycle
// engine until it reaches a terminal status.
type ScheduledGift struct {
	ID          string `json:"id" db:"id"`
	UserID      string `json:"user_id" db:"user_id"`
	RecipientID string `json:"recipient_id" db:"recipient_id"`

	OccasionDate time.Time `json:"occasion_date" db:"occasion_date"`
	DeliveryDate time.Time `json:"delivery_date" db:"delivery_date"`

	Status            GiftStatus    `json:"status" db:"status"`
	PaymentStatus     PaymentStatus `json:"payment_status" db:"payment_status"`
	AutomationEnabled bool          `json:"automation_enabled" db:"automation_enabled"`

	// PriceCents is the authoritative price for this gift, fixed at
	// scheduling time from the recipient's default gift preference. The
	// engine never re-derives it mid-lifecycle.
	PriceCents int64 `json:"price_cents" db:"price_cents"`

	WalletReserved           bool       `json:"wallet_reserved" db:"wallet_reserved"`
	WalletReservationCents   int64      `json:"wallet_reservation_cents" db:"wallet_reservation_cents"`
	WalletReservationDate    *time.Time `json:"wallet_reservation_date" db:"wallet_reservation_date"`
	AddressRequestedAt       *time.Time `json:"address_requested_at" db:"address_requested_at"`
	AddressConfirmedAt       *time.Time `json:"address_confirmed_at" db:"address_confirmed_at"`
	AddressReminderSent      bool       `json:"address_reminder_sent" db:"address_reminder_sent"`
	OrderReference           string     `json:"order_reference" db:"order_reference"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the gift is in a final state and must be
// skipped by all subsequent engine runs.
func (g *ScheduledGift) IsTerminal() bool {
	return g.Status == GiftDelivered || g.Status == GiftCancelled || g.Status == GiftExpired
}

// DaysUntilDelivery returns whole calendar days between today and the
// delivery date. Negative when the delivery date has passed.
func (g *ScheduledGift) DaysUntilDelivery(today time.Time) int {
	return DaysBetween(today, g.DeliveryDate)
}

// OccasionPassed reports whether the occasion date is strictly before today.
func (g *ScheduledGift) OccasionPassed(today time.Time) bool {
	return midnight(g.OccasionDate).Before(midnight(today))
}

// DaysBetween returns whole calendar days from one instant to another.
// Both sides are truncated to midnight UTC so the result is stable across
// a single day, no matter what time of day the batch runs.
func DaysBetween(from, to time.Time) int {
	d := midnight(to).Sub(midnight(from))
	return int(d.Hours() / 24)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
