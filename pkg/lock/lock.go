package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked is returned when a lease is held by another owner.
var ErrLocked = errors.New("lease held by another owner")

// Locker grants short-lived, owner-checked leases keyed by name.
// Acquiring a lease already held by the same owner refreshes its ttl.
type Locker interface {
	TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

type lease struct {
	owner   string
	expires time.Time
}

// MemoryLocker is an in-process Locker.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]lease), now: time.Now}
}

func (l *MemoryLocker) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be > 0")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cur, held := l.leases[key]
	if held && cur.owner != owner && now.Before(cur.expires) {
		return false, nil
	}
	l.leases[key] = lease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

// Release drops the lease. Releasing a missing or expired lease succeeds;
// releasing a lease held by another owner returns ErrLocked.
func (l *MemoryLocker) Release(ctx context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, held := l.leases[key]
	if !held {
		return nil
	}
	if cur.owner != owner {
		if l.now().Before(cur.expires) {
			return ErrLocked
		}
		return nil
	}
	delete(l.leases, key)
	return nil
}
