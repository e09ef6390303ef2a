// Package engine implements the gift automation lifecycle engine.
//
// One Run processes every automation-enabled, non-terminal gift exactly
// once: the gift's day-offset relative to its delivery date is computed and
// an ordered table of (predicate, handler) pairs is evaluated in priority
// order, executing at most one stage transition per gift per run. The only
// chaining exception is confirmation, which attempts fulfillment in the
// same pass so reserved funds don't sit idle waiting for the next batch.
//
// Each gift is processed inside its own error boundary: a failure (or
// panic) in one gift's handler is written to the automation log and the
// batch moves on. Gifts of the same user run sequentially so wallet math
// stays serialized; different users run in parallel.
//
// The charge-then-order pair in the fulfillment stage is a compensating
// transaction, not a two-phase commit: the wallet charge lands first, and a
// gateway failure drives an explicit refund. A crash between the two leaves
// a charged-but-unfulfilled gift that Reconcile detects and settles.
package engine
