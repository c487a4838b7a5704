package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps per-user request timestamps in process memory.
type MemoryLimiter struct {
	cfg Config
	now func() time.Time

	mu     sync.Mutex
	events map[int64][]time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewMemoryLimiter creates an in-memory sliding window limiter.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		events: make(map[int64][]time.Time),
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, userID int64) (bool, error) {
	now := l.now()
	cutoff := now.Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := prune(l.events[userID], cutoff)
	if len(recent) >= l.cfg.Limit {
		l.events[userID] = recent
		return false, nil
	}

	if _, tracked := l.events[userID]; !tracked && len(l.events) >= l.cfg.MaxKeys {
		l.sweepLocked(cutoff)
		if len(l.events) >= l.cfg.MaxKeys {
			// Every tracked user is active; forget the least recent one
			// rather than refuse a user with no requests.
			l.evictOldestLocked()
		}
	}

	l.events[userID] = append(recent, now)
	return true, nil
}

// Sweep drops users with no requests inside the window.
func (l *MemoryLimiter) Sweep() {
	cutoff := l.now().Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(cutoff)
}

// Len returns the number of tracked users.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *MemoryLimiter) sweepLocked(cutoff time.Time) {
	for id, ts := range l.events {
		recent := prune(ts, cutoff)
		if len(recent) == 0 {
			delete(l.events, id)
			continue
		}
		l.events[id] = recent
	}
}

// evictOldestLocked drops the user whose latest request is the oldest.
func (l *MemoryLimiter) evictOldestLocked() {
	var (
		oldestID int64
		oldestAt time.Time
		found    bool
	)
	for id, ts := range l.events {
		if len(ts) == 0 {
			delete(l.events, id)
			return
		}
		last := ts[len(ts)-1]
		if !found || last.Before(oldestAt) {
			oldestID, oldestAt, found = id, last, true
		}
	}
	if found {
		delete(l.events, oldestID)
	}
}

// Start runs Sweep periodically until Stop is called.
func (l *MemoryLimiter) Start(interval time.Duration) {
	l.stopChan = make(chan struct{})
	l.doneChan = make(chan struct{})

	go func() {
		defer close(l.doneChan)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-l.stopChan:
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

// Stop halts the sweep loop started by Start.
func (l *MemoryLimiter) Stop() {
	if l.stopChan == nil {
		return
	}
	close(l.stopChan)
	<-l.doneChan
	l.stopChan = nil
}

// prune drops timestamps at or before cutoff. ts is ordered oldest first.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
