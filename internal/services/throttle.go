package services

import (
	"context"
	"time"
)

// ThrottleKey buckets attempts by the submitted username (exact case) and client origin.
func ThrottleKey(username, origin string) string {
	return username + "|" + origin
}

// Throttle locks a key out for the rest of its window after maxAttempts failures.
// A non-positive maxAttempts disables locking.
type Throttle struct {
	store       AttemptStore
	maxAttempts int64
	lockout     time.Duration
}

func NewThrottle(store AttemptStore, maxAttempts int, lockout time.Duration) *Throttle {
	return &Throttle{
		store:       store,
		maxAttempts: int64(maxAttempts),
		lockout:     lockout,
	}
}

func (t *Throttle) IsLockedOut(ctx context.Context, key string) (bool, error) {
	d, err := t.RetryAfter(ctx, key)
	return d > 0, err
}

// RetryAfter returns the remaining lockout, or zero when the key is not locked.
func (t *Throttle) RetryAfter(ctx context.Context, key string) (time.Duration, error) {
	if t.maxAttempts <= 0 {
		return 0, nil
	}

	attempts, ttl, err := t.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if attempts < t.maxAttempts {
		return 0, nil
	}
	if ttl <= 0 {
		// a counter without an expiry would lock forever
		return 0, t.store.Delete(ctx, key)
	}
	return ttl, nil
}

// Check returns a *LockedOutError while key is locked.
func (t *Throttle) Check(ctx context.Context, key string) error {
	d, err := t.RetryAfter(ctx, key)
	if err != nil {
		return err
	}
	if d > 0 {
		return &LockedOutError{RetryAfter: d}
	}
	return nil
}

// Reserve counts an attempt before its credentials are checked, so concurrent
// requests cannot all pass a stale check. It returns a *LockedOutError once
// the count passes maxAttempts; a later success should Clear the key.
func (t *Throttle) Reserve(ctx context.Context, key string) (int64, error) {
	n, err := t.store.Increment(ctx, key, t.lockout)
	if err != nil {
		return 0, err
	}
	if t.maxAttempts <= 0 || n <= t.maxAttempts {
		return n, nil
	}

	_, ttl, err := t.store.Get(ctx, key)
	if err != nil {
		return n, err
	}
	if ttl <= 0 {
		ttl = t.lockout
	}
	return n, &LockedOutError{RetryAfter: ttl}
}

func (t *Throttle) Clear(ctx context.Context, key string) error {
	return t.store.Delete(ctx, key)
}

func (t *Throttle) MaxAttempts() int { return int(t.maxAttempts) }
