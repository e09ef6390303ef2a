package domain

import (
	"strings"
	"time"
)

// Recipient is a person a user sends gifts to. The shipping address lives
// here; completeness is always derived via AddressComplete, never stored as
// a boolean, to avoid staleness when fields are edited.
type Recipient struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`
	Name   string `json:"name" db:"name"`

	Street  string `json:"street" db:"street"`
	City    string `json:"city" db:"city"`
	State   string `json:"state" db:"state"`
	Zip     string `json:"zip" db:"zip"`
	Country string `json:"country" db:"country"`

	// DefaultGiftCents seeds ScheduledGift.PriceCents at scheduling time.
	DefaultGiftCents int64 `json:"default_gift_cents" db:"default_gift_cents"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AddressComplete reports whether every shipping field required to place an
// order is present. Pure predicate; no side effects.
func (r *Recipient) AddressComplete() bool {
	for _, f := range []string{r.Street, r.City, r.State, r.Zip, r.Country} {
		if strings.TrimSpace(f) == "" {
			return false
		}
	}
	return true
}

// Address is the destination submitted to the fulfillment gateway.
type Address struct {
	Name    string `json:"name"`
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

// ShippingAddress builds the fulfillment destination from the recipient's
// stored fields.
func (r *Recipient) ShippingAddress() Address {
	return Address{
		Name:    r.Name,
		Street:  r.Street,
		City:    r.City,
		State:   r.State,
		Zip:     r.Zip,
		Country: r.Country,
	}
}
