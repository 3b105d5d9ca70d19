// Package lock provides the best-effort named leases that keep analytics
// dispatches from overlapping.
//
// RedisLocker uses SET NX PX with a random token and releases through a
// compare-and-delete script, so a holder whose lease expired cannot release
// somebody else's lease. LocalLocker offers the same contract within a single
// process.
//
//	unlock, ok, err := locker.TryLock(ctx, "sitepulse:dispatch", time.Hour)
//	if err == nil && ok {
//		defer unlock(ctx)
//	}
package lock
