// Package wallet implements the prepaid wallet ledger.
//
// The ledger is an append-only transaction log plus a denormalized cached
// balance per user. Funds move through reserve → charge → (refund) steps;
// a reservation reduces availability without touching the balance, and only
// converting it to a charge moves money. The service layer owns every
// mutation of the cached balance — nothing else in the codebase may write
// it directly.
//
// All mutating operations for one user are serialized through a per-user
// lock, which keeps the available-balance computation (balance minus pending
// reservations) correct under concurrent batch processing of that user's
// gifts. Repository implementations live in repository/postgres/.
package wallet
