package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/contacthub/internal/reqctx"
)

// writeTimeout bounds one sink write so a hung backend cannot stall the queue.
const writeTimeout = 5 * time.Second

// Recorder queues entries and writes them to a Sink in the background.
type Recorder struct {
	sink  Sink
	queue chan Entry

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewRecorder starts a recorder with room for buffer pending entries.
func NewRecorder(sink Sink, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 1
	}
	r := &Recorder{
		sink:  sink,
		queue: make(chan Entry, buffer),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enriches e from ctx and enqueues it without blocking.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityOf(e.Action)
	}
	if id, ok := reqctx.IdentityFrom(ctx); ok {
		if e.TenantID == uuid.Nil {
			e.TenantID = id.TenantID
		}
		if e.UserID == uuid.Nil {
			e.UserID = id.UserID
		}
	}
	if e.IPAddress == "" {
		e.IPAddress = reqctx.IPAddress(ctx)
	}
	if e.UserAgent == "" {
		e.UserAgent = reqctx.UserAgent(ctx)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.queue <- e:
	default:
		r.dropped.Add(1)
		slog.Warn("audit buffer full, entry dropped", "action", e.Action, "entity_id", e.EntityID)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.sink.Write(ctx, e); err != nil {
			r.failed.Add(1)
			slog.Warn("audit write failed", "action", e.Action, "entity_id", e.EntityID, "error", err)
		}
		cancel()
	}
}

// Close stops accepting entries and waits for queued ones to be written,
// or for ctx to expire.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports entries dropped on a full buffer and failed sink writes.
func (r *Recorder) Stats() (dropped, failed int64) {
	return r.dropped.Load(), r.failed.Load()
}
