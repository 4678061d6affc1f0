package importer

// limiter.go bounds the number of file imports processed at once.
//
// Each import holds one slot of a semaphore for its whole run. When every
// slot is taken a new import waits up to maxWait before failing with
// ErrTooManyImports. WaitForDrain lets shutdown wait for running imports.

import (
	"context"
	"sync"
	"time"

	"github.com/JonMunkholm/contacthub/internal/apperror"
)

// ErrTooManyImports is returned when no slot frees up within the wait time.
// Clients should retry after a short delay.
var ErrTooManyImports = apperror.Unavailable("too many imports in progress, please try again later")

const (
	DefaultMaxConcurrentImports = 5
	DefaultMaxWaitTime          = 30 * time.Second
)

// Limiter is a counting semaphore with a bounded wait.
type Limiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu       sync.RWMutex
	active   int
	onChange func(active int)
}

// NewLimiter allows at most maxConcurrent simultaneous imports. Zero values
// select the defaults.
func NewLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &Limiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// OnChange registers fn to be called with the active count after every
// acquire and release. Register it before the limiter is shared.
func (l *Limiter) OnChange(fn func(active int)) {
	l.onChange = fn
}

// Acquire takes a slot, waiting up to the limiter's maxWait. The caller must
// Release the slot when done.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.adjust(1)
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyImports
	}
}

// TryAcquire takes a slot if one is free, without waiting.
func (l *Limiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.adjust(1)
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *Limiter) Release() {
	l.adjust(-1)
	<-l.semaphore
}

func (l *Limiter) adjust(delta int) {
	l.mu.Lock()
	l.active += delta
	active := l.active
	l.mu.Unlock()

	if l.onChange != nil {
		l.onChange(active)
	}
}

// ActiveCount returns the number of running imports.
func (l *Limiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// Available returns the number of free slots.
func (l *Limiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until no import is running or ctx is done.
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

// LimiterStatus is a snapshot of the limiter for health output.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

func (l *Limiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:        l.ActiveCount(),
		Available:     l.Available(),
		MaxConcurrent: cap(l.semaphore),
	}
}
