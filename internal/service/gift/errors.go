package gift

import "errors"

// Sentinel errors for the gift service layer.
var (
	ErrNotFound          = errors.New("scheduled gift not found")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrTerminal          = errors.New("gift is in a terminal state")
	ErrPastOccasion      = errors.New("occasion date is in the past")
	ErrNoPrice           = errors.New("recipient has no default gift price")
)
