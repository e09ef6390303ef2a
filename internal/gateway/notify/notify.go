// Package notify delivers user-facing notifications emitted by the
// lifecycle engine. Delivery is strictly best-effort: the engine logs
// failures but never blocks a stage transition on one.
package notify

import (
	"context"
)

// Kind identifies the message template on the receiving side. The engine
// only ever supplies a kind plus structured data; rendering lives with the
// product, not here.
type Kind string

const (
	KindLowBalance       Kind = "low_balance"
	KindGiftConfirmed    Kind = "gift_confirmed"
	KindNeedAddress      Kind = "need_address"
	KindAddressReminder  Kind = "address_reminder"
	KindGiftShipped      Kind = "gift_shipped"
	KindOrderFailed      Kind = "order_failed"
	KindGiftExpired      Kind = "gift_expired"
	KindAutomationFailed Kind = "automation_failed"
	KindAutoReloadFailed Kind = "auto_reload_failed"
)

// Dispatcher sends a templated message to a user contact. Implementations
// must respect ctx deadlines; a slow provider is a failed send, not a
// stalled batch.
type Dispatcher interface {
	Send(ctx context.Context, kind Kind, contact string, data map[string]any) error
}

// Noop discards every notification. Used in tests and dry runs.
type Noop struct{}

// Send implements Dispatcher.
func (Noop) Send(context.Context, Kind, string, map[string]any) error { return nil }
