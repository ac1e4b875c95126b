// Package lease provides short-lived exclusive leases so that only one
// process runs a periodic job at a time.
package lease

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHeld is returned when another holder owns the lease.
var ErrHeld = errors.New("lease is held by another holder")

// Release gives a lease back before its TTL runs out. Releasing a lease that
// has already expired and been taken by someone else is a no-op.
type Release func(ctx context.Context) error

// Locker hands out leases keyed by name.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// Local is an in-process Locker, used when no Redis is configured.
type Local struct {
	mu     sync.Mutex
	now    func() time.Time
	leases map[string]localLease
	seq    uint64
}

type localLease struct {
	token   uint64
	expires time.Time
}

func NewLocal() *Local {
	return &Local{now: time.Now, leases: make(map[string]localLease)}
}

func (l *Local) TryAcquire(_ context.Context, key string, ttl time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.leases[key]; ok && now.Before(cur.expires) {
		return nil, ErrHeld
	}
	l.seq++
	token := l.seq
	l.leases[key] = localLease{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.leases[key]; ok && cur.token == token {
			delete(l.leases, key)
		}
		return nil
	}, nil
}
