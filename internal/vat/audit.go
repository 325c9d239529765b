package vat

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/boohpay/vatcore/internal/logger"
)

// AuditSink accepts audit entries without blocking the caller.
type AuditSink interface {
	Record(e AuditEntry)
}

// Auditor writes audit entries from a bounded queue on a fixed set of
// workers. Record never blocks and never fails: a full queue drops the
// entry, a failed write is logged. Neither is retried.
type Auditor struct {
	store   AuditStore
	metrics Recorder
	logger  *logger.Logger

	queue chan AuditEntry
	wg    conc.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAuditor starts workers goroutines draining a queue of size buffer.
func NewAuditor(store AuditStore, buffer, workers int, metrics Recorder, log *logger.Logger) *Auditor {
	if workers < 1 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	if metrics == nil {
		metrics = NopRecorder()
	}
	if log == nil {
		log = logger.NewNop()
	}

	a := &Auditor{
		store:   store,
		metrics: metrics,
		logger:  log,
		queue:   make(chan AuditEntry, buffer),
	}
	for i := 0; i < workers; i++ {
		a.wg.Go(a.run)
	}
	return a
}

// Record enqueues e. Missing ID and timestamp are filled in here so the
// stored time is the decision time, not the write time.
func (a *Auditor) Record(e AuditEntry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.drop(e, "auditor closed")
		return
	}
	select {
	case a.queue <- e:
	default:
		a.drop(e, "audit queue full")
	}
}

// Close stops accepting entries and waits for the queue to drain or ctx
// to end, whichever comes first.
func (a *Auditor) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "draining audit queue")
	}
}

func (a *Auditor) run() {
	for e := range a.queue {
		// Writes outlive the request that produced them.
		if err := a.store.InsertAudit(context.Background(), e); err != nil {
			a.metrics.AuditFailed()
			a.logger.Errorw("audit write failed",
				"audit_id", e.ID,
				"action", e.Action,
				"transaction_id", e.TransactionID,
				"error", err,
			)
		}
	}
}

func (a *Auditor) drop(e AuditEntry, why string) {
	a.metrics.AuditDropped()
	a.logger.Warnw("audit entry dropped",
		"reason", why,
		"action", e.Action,
		"transaction_id", e.TransactionID,
	)
}

// SyncAuditSink writes entries inline. Errors are logged and swallowed
// like the async path. Used by the command-line tools and tests.
type SyncAuditSink struct {
	Store  AuditStore
	Logger *logger.Logger
}

func (s SyncAuditSink) Record(e AuditEntry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := s.Store.InsertAudit(context.Background(), e); err != nil && s.Logger != nil {
		s.Logger.Errorw("audit write failed", "action", e.Action, "error", err)
	}
}
