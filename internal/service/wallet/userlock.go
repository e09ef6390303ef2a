package wallet

import "sync"

// userLocks hands out one mutex per user so ledger mutations for a single
// user are serialized while different users proceed in parallel. Locks are
// never evicted; the per-user footprint is one mutex, and the engine's
// batch scope bounds how many users appear per process lifetime.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the given user's mutex and returns the unlock func.
func (ul *userLocks) acquire(userID string) func() {
	ul.mu.Lock()
	l, ok := ul.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		ul.locks[userID] = l
	}
	ul.mu.Unlock()

	l.Lock()
	return l.Unlock
}
