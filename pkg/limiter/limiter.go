// Package limiter provides simple concurrency and rate limiters.
package limiter

import (
	"sync"
	"sync/atomic"
	"time"
)

// ConcurrencyLimiter bounds how many callers may hold a ticket at once.
type ConcurrencyLimiter struct {
	tickets    chan struct{}
	inProgress atomic.Int32
}

// NewConcurrencyLimiter allocates a ConcurrencyLimiter allowing limit
// concurrent holders.
func NewConcurrencyLimiter(limit int) *ConcurrencyLimiter {
	limiter := &ConcurrencyLimiter{
		tickets: make(chan struct{}, limit),
	}

	for i := 0; i < limit; i++ {
		limiter.tickets <- struct{}{}
	}

	return limiter
}

// Wait blocks until a ticket is available. Callers must release it with
// FreeTicket.
func (l *ConcurrencyLimiter) Wait() {
	<-l.tickets
	l.inProgress.Add(1)
}

// FreeTicket returns a ticket to the pool.
func (l *ConcurrencyLimiter) FreeTicket() {
	l.tickets <- struct{}{}
	l.inProgress.Add(-1)
}

// InProgress returns how many tickets are currently held.
func (l *ConcurrencyLimiter) InProgress() int32 {
	return l.inProgress.Load()
}

// DurationLimiter allows an operation to run at most limit times per
// duration, blocking callers once the window is exhausted.
type DurationLimiter struct {
	mu sync.Mutex

	limit    int32
	duration time.Duration

	resetsAt  time.Time
	available int32
}

// NewDurationLimiter creates a DurationLimiter allowing limit operations per
// duration.
func NewDurationLimiter(limit int32, duration time.Duration) *DurationLimiter {
	return &DurationLimiter{
		limit:    limit,
		duration: duration,
	}
}

// Lock blocks until a slot is available in the current window.
func (l *DurationLimiter) Lock() {
	for {
		l.mu.Lock()

		now := time.Now()

		if !l.resetsAt.After(now) {
			l.resetsAt = now.Add(l.duration)
			l.available = l.limit
		}

		if l.available > 0 {
			l.available--
			l.mu.Unlock()

			return
		}

		wait := l.resetsAt.Sub(now)
		l.mu.Unlock()

		time.Sleep(wait)
	}
}

// Reset starts a fresh window immediately.
func (l *DurationLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.resetsAt = time.Now().Add(l.duration)
	l.available = l.limit
}
