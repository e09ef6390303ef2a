// Package gift implements scheduled-gift management outside the lifecycle
// engine: creating a scheduled gift, reading it back for the operator API,
// and cancelling it mid-lifecycle.
//
// Cancellation releases any pending wallet reservation before marking the
// gift cancelled, and cancelled gifts are terminal — the engine skips them
// on every subsequent run. The engine itself never calls into this package;
// it owns its own repository contract.
package gift
