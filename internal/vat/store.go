package vat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TransactionStore persists VatTransactions. InsertOrGet is the only write
// path and must be a single atomic insert-or-fetch keyed on PaymentID.
type TransactionStore interface {
	// InsertOrGet stores t unless a row for t.PaymentID exists. It returns
	// the stored row and whether this call created it.
	InsertOrGet(ctx context.Context, t VatTransaction) (VatTransaction, bool, error)
	GetByPaymentID(ctx context.Context, paymentID string) (VatTransaction, error)
	ListByMerchant(ctx context.Context, merchantID string, f TransactionFilter) ([]VatTransaction, error)
}

// AdjustmentStore is the refund ledger.
type AdjustmentStore interface {
	// InsertAdjustment stores a unless a row for a.RefundID exists, with the
	// same contract as TransactionStore.InsertOrGet.
	InsertAdjustment(ctx context.Context, a RefundAdjustment) (RefundAdjustment, bool, error)
	ListAdjustments(ctx context.Context, transactionID uuid.UUID) ([]RefundAdjustment, error)
}

// AuditStore is the append-only audit log.
type AuditStore interface {
	InsertAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, transactionID uuid.UUID) ([]AuditEntry, error)
}

// RateStore reads the externally administered rate table.
type RateStore interface {
	// FindActiveRate returns the rate active on asOf with the latest
	// effective_from, or ErrNotFound.
	FindActiveRate(ctx context.Context, country, category string, asOf time.Time) (VatRate, error)
}

// RateAdmin writes rates. Only the seeding command and tests use it.
type RateAdmin interface {
	RateStore
	CreateRate(ctx context.Context, r VatRate) (VatRate, bool, error)
	ListRates(ctx context.Context, country string) ([]VatRate, error)
}

// Store bundles everything the Service needs.
type Store interface {
	TransactionStore
	AdjustmentStore
	AuditStore
	RateStore
}
