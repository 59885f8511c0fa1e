package matching

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// PassLock serializes auto-match passes per user: §5 requires an
// auto-match pass to be a single-writer critical section per user, while
// passes for different users run concurrently. Adapted from the
// gateway's KeyedMutex (middleware/concurrency.go), narrowed to the one
// key type (user id) this engine ever locks on.
type PassLock struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*passEntry
}

type passEntry struct {
	mu      sync.Mutex
	waiters int32
}

// NewPassLock creates an empty per-user lock manager.
func NewPassLock() *PassLock {
	return &PassLock{locks: make(map[uuid.UUID]*passEntry)}
}

// Lock blocks until the pass lock for userID is free, then returns an
// unlock function the caller must call exactly once.
func (pl *PassLock) Lock(userID uuid.UUID) func() {
	pl.mu.Lock()
	entry, ok := pl.locks[userID]
	if !ok {
		entry = &passEntry{}
		pl.locks[userID] = entry
	}
	atomic.AddInt32(&entry.waiters, 1)
	pl.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		pl.mu.Lock()
		if atomic.AddInt32(&entry.waiters, -1) == 0 {
			delete(pl.locks, userID)
		}
		pl.mu.Unlock()
	}
}
