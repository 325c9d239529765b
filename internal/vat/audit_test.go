package vat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditor_DrainsOnClose(t *testing.T) {
	store := newMemStore()
	a := NewAuditor(store, 64, 3, nil, nil)

	for i := 0; i < 50; i++ {
		id := uuid.New()
		a.Record(AuditEntry{TransactionID: &id, Action: ActionCalculation, ActorType: ActorSystem})
	}
	require.NoError(t, a.Close(context.Background()))

	assert.Equal(t, 50, store.auditCount())
	for _, e := range store.audit {
		assert.NotEqual(t, uuid.Nil, e.ID)
		assert.False(t, e.CreatedAt.IsZero())
	}
}

type blockingAuditStore struct {
	*memStore
	gate chan struct{}
}

func (b blockingAuditStore) InsertAudit(ctx context.Context, e AuditEntry) error {
	<-b.gate
	return b.memStore.InsertAudit(ctx, e)
}

func TestAuditor_FullQueueDrops(t *testing.T) {
	store := blockingAuditStore{memStore: newMemStore(), gate: make(chan struct{})}
	rec := newCountingRecorder()
	a := NewAuditor(store, 1, 1, rec, nil)

	// One entry is held by the worker, one sits in the queue, the rest drop.
	for i := 0; i < 10; i++ {
		a.Record(AuditEntry{Action: ActionCalculation, ActorType: ActorSystem})
	}
	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.auditDrops >= 8
	}, time.Second, 5*time.Millisecond)

	close(store.gate)
	require.NoError(t, a.Close(context.Background()))

	rec.mu.Lock()
	drops := rec.auditDrops
	rec.mu.Unlock()
	assert.Equal(t, 10, store.auditCount()+drops)
}

func TestAuditor_WriteFailureIsContained(t *testing.T) {
	store := newMemStore()
	store.auditErr = errors.New("disk full")
	rec := newCountingRecorder()
	a := NewAuditor(store, 8, 1, rec, nil)

	a.Record(AuditEntry{Action: ActionCalculation, ActorType: ActorSystem})
	a.Record(AuditEntry{Action: ActionCalculation, ActorType: ActorSystem})
	require.NoError(t, a.Close(context.Background()))

	assert.Equal(t, 2, rec.auditFailed)
	assert.Equal(t, 0, store.auditCount())
}

func TestAuditor_RecordAfterCloseDoesNotPanic(t *testing.T) {
	rec := newCountingRecorder()
	a := NewAuditor(newMemStore(), 4, 1, rec, nil)
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))

	assert.NotPanics(t, func() {
		a.Record(AuditEntry{Action: ActionCalculation, ActorType: ActorSystem})
	})
	assert.Equal(t, 1, rec.auditDrops)
}

func TestAuditor_CloseHonoursContext(t *testing.T) {
	store := blockingAuditStore{memStore: newMemStore(), gate: make(chan struct{})}
	defer close(store.gate)
	a := NewAuditor(store, 4, 1, nil, nil)
	a.Record(AuditEntry{Action: ActionCalculation, ActorType: ActorSystem})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := a.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCalculate_AuditFailureDoesNotFailCalculation(t *testing.T) {
	store := newMemStore()
	store.addRate("FR", DefaultCategory, "0.20", jan2024, nil)
	store.auditErr = errors.New("audit table locked")
	rec := newCountingRecorder()

	auditor := NewAuditor(store, 8, 1, rec, nil)
	opts := DefaultOptions()
	opts.Now = func() time.Time { return jul2025 }
	svc := NewService(store, nil, nil, auditor, rec, nil, opts)

	res, err := svc.Calculate(context.Background(), calcRequest("pay_audit_fail", 12000))
	require.NoError(t, err)
	assert.Equal(t, int64(2000), res.VatAmount)

	require.NoError(t, auditor.Close(context.Background()))
	assert.Equal(t, 1, rec.auditFailed)
}
