package core

// diff_limiter.go bounds how many imports may wait on the diff service at
// once. Diff calls can take up to the configured diff timeout, so unbounded
// fan-out would tie up server goroutines and the diff service alike. When all
// slots are taken a request waits up to maxWait and then fails with
// ErrTooManyDiffs. WaitForDrain lets shutdown wait for in-flight diffs.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyDiffs is returned when no diff slot frees up in time.
var ErrTooManyDiffs = errors.New("too many imports being diffed, please try again later")

const (
	defaultMaxConcurrentDiffs = 4
	defaultDiffWaitTime       = 30 * time.Second
)

// DiffLimiter is a counting semaphore around Differ calls.
type DiffLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewDiffLimiter allows at most maxConcurrent diffs at once.
func NewDiffLimiter(maxConcurrent int, maxWait time.Duration) *DiffLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentDiffs
	}
	if maxWait <= 0 {
		maxWait = defaultDiffWaitTime
	}
	return &DiffLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire takes a slot. Callers must Release it.
func (l *DiffLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyDiffs
	}
}

// Release frees a slot taken by Acquire.
func (l *DiffLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
	<-l.semaphore
}

// ActiveCount returns the number of diffs in flight.
func (l *DiffLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WaitForDrain blocks until no diff is in flight or ctx ends.
func (l *DiffLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DiffLimiterStatus is a point-in-time view of the limiter.
type DiffLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status reports current usage.
func (l *DiffLimiter) Status() DiffLimiterStatus {
	active := l.ActiveCount()
	return DiffLimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}
