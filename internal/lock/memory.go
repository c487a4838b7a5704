package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker implements Locker with process-local locks.
// Locks are not shared across restarts or between bot instances.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
	now   func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
}

// lockEntry represents a single lock.
type lockEntry struct {
	expiresAt time.Time
	token     string
}

// NewMemoryLocker creates a new in-memory locker and starts expiry cleanup.
func NewMemoryLocker() *MemoryLocker {
	ml := &MemoryLocker{
		locks:    make(map[string]*lockEntry),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	go ml.cleanupLoop(30 * time.Second)

	return ml
}

// Close stops the cleanup goroutine.
func (m *MemoryLocker) Close() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

func (m *MemoryLocker) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *MemoryLocker) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, entry := range m.locks {
		if !now.Before(entry.expiresAt) {
			delete(m.locks, key)
		}
	}
}

// liveLocked returns the unexpired entry for key, dropping it if expired.
// m.mu must be held.
func (m *MemoryLocker) liveLocked(key string) *lockEntry {
	entry, ok := m.locks[key]
	if !ok {
		return nil
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.locks, key)
		return nil
	}
	return entry
}

// Acquire attempts to acquire a lock.
func (m *MemoryLocker) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.liveLocked(key) != nil {
		return false, nil
	}

	m.locks[key] = &lockEntry{
		expiresAt: m.now().Add(ttl),
		token:     token,
	}
	return true, nil
}

// AcquireWithRetry attempts to acquire a lock with retries.
func (m *MemoryLocker) AcquireWithRetry(ctx context.Context, key, token string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	return acquireWithRetry(ctx, m, key, token, ttl, maxRetries, retryDelay)
}

// Release releases a lock held by token.
func (m *MemoryLocker) Release(ctx context.Context, key, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.liveLocked(key)
	if entry == nil || entry.token != token {
		return false, nil
	}
	delete(m.locks, key)
	return true, nil
}

// Extend extends the TTL of a lock held by token.
func (m *MemoryLocker) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.liveLocked(key)
	if entry == nil || entry.token != token {
		return false, nil
	}
	entry.expiresAt = m.now().Add(ttl)
	return true, nil
}

// IsHeld checks if a lock is currently held.
func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.liveLocked(key) != nil, nil
}

// acquireWithRetry retries Acquire up to maxRetries times, sleeping retryDelay in between.
func acquireWithRetry(ctx context.Context, l Locker, key, token string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	for i := 0; i <= maxRetries; i++ {
		acquired, err := l.Acquire(ctx, key, token, ttl)
		if err != nil {
			return false, err
		}
		if acquired {
			return true, nil
		}

		if i < maxRetries {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return false, nil
}

// Ensure MemoryLocker implements Locker.
var _ Locker = (*MemoryLocker)(nil)
