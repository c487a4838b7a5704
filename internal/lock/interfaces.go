// Package lock provides distributed and local locking abstractions.
// A single bot instance uses memory locks; several instances sharing one
// database coordinate through Redis.
package lock

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLockLost is the cancellation cause of a KeepAlive context whose lock
// was taken over or expired.
var ErrLockLost = errors.New("lock lost")

// Locker defines the interface for distributed/local locking.
// This abstraction allows switching between in-memory locks (single-node)
// and Redis-based locks (distributed) without changing business logic.
//
// Every holder identifies itself with a token. Release and Extend only
// act on a lock that still carries the caller's token, so a holder whose
// lock expired cannot release or extend the lock of the next holder.
type Locker interface {
	// Acquire attempts to acquire a lock for token.
	// Returns true if the lock was acquired, false if it's held by another holder.
	// The lock will automatically expire after the specified TTL.
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// AcquireWithRetry attempts to acquire a lock with retries.
	// Will retry up to maxRetries times with retryDelay between attempts.
	AcquireWithRetry(ctx context.Context, key, token string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error)

	// Release releases a lock.
	// Returns true if the lock was released, false if token did not hold it.
	Release(ctx context.Context, key, token string) (bool, error)

	// Extend extends the TTL of a held lock.
	// Returns true if the lock was extended, false if token does not hold it.
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// IsHeld checks if the lock is currently held by anyone.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// Lock is a convenience wrapper for a specific lock instance.
// Each Lock carries its own holder token.
type Lock struct {
	locker Locker
	key    string
	token  string

	mu   sync.Mutex
	held bool
}

// NewLock creates a new Lock instance.
func NewLock(locker Locker, key string) *Lock {
	return &Lock{
		locker: locker,
		key:    key,
		token:  uuid.NewString(),
	}
}

// Acquire attempts to acquire the lock.
func (l *Lock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	acquired, err := l.locker.Acquire(ctx, l.key, l.token, ttl)
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	l.held = acquired
	l.mu.Unlock()
	return acquired, nil
}

// Release releases the lock.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	held := l.held
	l.held = false
	l.mu.Unlock()

	if !held {
		return nil
	}
	_, err := l.locker.Release(ctx, l.key, l.token)
	return err
}

// Extend extends the lock TTL.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	if !l.IsHeld() {
		return nil
	}
	extended, err := l.locker.Extend(ctx, l.key, l.token, ttl)
	if err != nil {
		return err
	}
	if !extended {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
	}
	return nil
}

// IsHeld returns whether the lock is held.
func (l *Lock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// KeepAlive extends the lock by ttl every ttl/3 until the returned cancel
// function is called or ctx ends. The returned context is canceled with
// ErrLockLost once the lock is no longer held. Transient extension errors
// are retried on the next tick.
func (l *Lock) KeepAlive(ctx context.Context, ttl time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancelCause(ctx)

	interval := ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := l.Extend(runCtx, ttl); err != nil {
					continue
				}
				if !l.IsHeld() {
					cancel(ErrLockLost)
					return
				}
			}
		}
	}()

	return runCtx, func() { cancel(context.Canceled) }
}

// =============================================================================
// Common Lock Keys
// =============================================================================

// Keys provides lock key generation for common scenarios.
var Keys = lockKeys{}

type lockKeys struct{}

// Provision returns the per-user provisioning lock key.
// Serializes concurrent provisioning requests of one user.
func (lockKeys) Provision(userID int64) string {
	return "lock:provision:" + strconv.FormatInt(userID, 10)
}

// Reconcile returns the lock key for the reconciliation job.
func (lockKeys) Reconcile() string {
	return "lock:reconcile"
}
