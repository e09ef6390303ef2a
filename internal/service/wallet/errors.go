package wallet

import "errors"

// Sentinel errors for the wallet service layer.
var (
	ErrInsufficientFunds    = errors.New("insufficient available balance")
	ErrNoPendingReservation = errors.New("no pending reservation for gift")
	ErrNoChargeFound        = errors.New("no completed charge for gift")
	ErrOwnerNotFound        = errors.New("wallet owner not found")
	ErrInvalidAmount        = errors.New("amount must be positive")
)
