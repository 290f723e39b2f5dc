package core

// limiter.go implements the concurrency controls used by the service.
//
// Limiter is a counting semaphore: at most N holders at once, and callers
// that cannot get a slot within maxWait fail with ErrBusy. Exports run under
// a Limiter so a burst of large reports cannot exhaust the database pool.
//
// CriticalSection is a Limiter of capacity one that serializes the
// check-then-insert step of submission creation.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBusy is returned when every slot is taken and the wait timeout expires.
// Clients should retry after a short delay.
var ErrBusy = errors.New("too many concurrent operations, please try again later")

// DefaultMaxConcurrent is the default slot count for a Limiter.
const DefaultMaxConcurrent = 4

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// Limiter bounds concurrent work with a channel semaphore.
type Limiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewLimiter creates a limiter that admits at most maxConcurrent holders.
// Callers that cannot acquire a slot within maxWait get ErrBusy.
func NewLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &Limiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire waits for a slot. It returns ctx.Err() if ctx ends first and
// ErrBusy if maxWait elapses. The caller MUST call Release on success.
func (l *Limiter) Acquire(ctx context.Context) error {
	// A cancelled caller never takes a slot, even if one is free.
	if err := ctx.Err(); err != nil {
		return err
	}

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
		return ErrBusy
	}
}

// TryAcquire takes a slot without blocking and reports whether it did.
func (l *Limiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of current holders.
func (l *Limiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// MaxConcurrent returns the slot count.
func (l *Limiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// Available returns the number of free slots.
func (l *Limiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until no slot is held or ctx ends. Used during
// graceful shutdown.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
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

// LimiterStatus is a snapshot of a limiter's state.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state for monitoring.
func (l *Limiter) Status() LimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return LimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}

// CriticalSection runs functions one at a time within this process.
//
// It only serializes callers that share this value. Separate server
// instances each have their own, so the storage layer must still enforce
// uniqueness; the section saves the duplicate insert round trip and the
// constraint error in the single-instance case.
type CriticalSection struct {
	lock *Limiter
}

// NewCriticalSection creates a section whose callers give up after maxWait.
func NewCriticalSection(maxWait time.Duration) *CriticalSection {
	return &CriticalSection{lock: NewLimiter(1, maxWait)}
}

// Do waits to enter the section and runs fn inside it.
//
// If ctx ends before entry, fn never runs and ctx.Err() is returned. Once
// entered, fn runs to completion on a context detached from ctx's
// cancellation, and the section is released as soon as fn returns.
func (cs *CriticalSection) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cs.lock.Acquire(ctx); err != nil {
		return err
	}
	defer cs.lock.Release()

	return fn(context.WithoutCancel(ctx))
}
