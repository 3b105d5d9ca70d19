package lock

import (
	"context"
	"sync"
	"time"

	"github.com/manawiki/sitepulse/pkg/observability"
)

// LocalLocker is an in-process lock table used when no Redis is configured.
// It only prevents overlap within one process.
type LocalLocker struct {
	mu      sync.Mutex
	leases  map[string]lease
	seq     uint64
	metrics *observability.Metrics
	now     func() time.Time
}

type lease struct {
	id      uint64
	expires time.Time
}

// NewLocalLocker creates a LocalLocker
func NewLocalLocker(metrics *observability.Metrics) *LocalLocker {
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return &LocalLocker{
		leases:  make(map[string]lease),
		metrics: metrics,
		now:     time.Now,
	}
}

// TryLock takes key unless an unexpired lease holds it
func (l *LocalLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.leases[key]; ok && now.Before(cur.expires) {
		l.metrics.LockAcquisitionsTotal.WithLabelValues("contended").Inc()
		return nil, false, nil
	}

	l.seq++
	mine := lease{id: l.seq, expires: now.Add(ttl)}
	l.leases[key] = mine
	l.metrics.LockAcquisitionsTotal.WithLabelValues("acquired").Inc()

	unlock := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.leases[key]; !ok || cur.id != mine.id {
			return ErrNotHeld
		}
		delete(l.leases, key)
		return nil
	}
	return unlock, true, nil
}
