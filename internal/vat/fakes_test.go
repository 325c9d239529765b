package vat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory Store. Its unique-key behaviour mirrors the
// database indexes: one transaction per payment, one adjustment per refund.
type memStore struct {
	mu           sync.Mutex
	transactions map[string]VatTransaction
	adjustments  map[string]RefundAdjustment
	audit        []AuditEntry
	rates        []VatRate

	rateQueries int
	auditErr    error
	insertHook  func() // runs before InsertOrGet takes the lock
}

func newMemStore() *memStore {
	return &memStore{
		transactions: make(map[string]VatTransaction),
		adjustments:  make(map[string]RefundAdjustment),
	}
}

func (m *memStore) addRate(country, category, rate string, from time.Time, to *time.Time) VatRate {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := VatRate{
		ID:              uuid.New(),
		CountryCode:     country,
		ProductCategory: category,
		Rate:            decimal.RequireFromString(rate),
		EffectiveFrom:   from,
		EffectiveTo:     to,
		CreatedAt:       time.Now(),
	}
	m.rates = append(m.rates, r)
	return r
}

func (m *memStore) InsertOrGet(_ context.Context, t VatTransaction) (VatTransaction, bool, error) {
	if m.insertHook != nil {
		m.insertHook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.transactions[t.PaymentID]; ok {
		return existing, false, nil
	}
	m.transactions[t.PaymentID] = t
	return t, true, nil
}

func (m *memStore) GetByPaymentID(_ context.Context, paymentID string) (VatTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[paymentID]
	if !ok {
		return VatTransaction{}, errors.Mark(errors.Newf("payment %s", paymentID), ErrNotFound)
	}
	return t, nil
}

func (m *memStore) ListByMerchant(_ context.Context, merchantID string, f TransactionFilter) ([]VatTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []VatTransaction
	for _, t := range m.transactions {
		if t.MerchantID != merchantID {
			continue
		}
		if f.From != nil && t.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !t.CreatedAt.Before(*f.To) {
			continue
		}
		if f.Country != "" && t.SellerCountry != f.Country && (t.BuyerCountry == nil || *t.BuyerCountry != f.Country) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) InsertAdjustment(_ context.Context, a RefundAdjustment) (RefundAdjustment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.adjustments[a.RefundID]; ok {
		return existing, false, nil
	}
	m.adjustments[a.RefundID] = a
	return a, true, nil
}

func (m *memStore) ListAdjustments(_ context.Context, transactionID uuid.UUID) ([]RefundAdjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RefundAdjustment
	for _, a := range m.adjustments {
		if a.VatTransactionID == transactionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) InsertAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.auditErr != nil {
		return m.auditErr
	}
	m.audit = append(m.audit, e)
	return nil
}

func (m *memStore) ListAudit(_ context.Context, transactionID uuid.UUID) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuditEntry
	for _, e := range m.audit {
		if e.TransactionID != nil && *e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) auditCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.audit)
}

func (m *memStore) FindActiveRate(_ context.Context, country, category string, asOf time.Time) (VatRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateQueries++

	var best *VatRate
	for i := range m.rates {
		r := m.rates[i]
		if r.CountryCode != country || r.ProductCategory != category || !r.ActiveOn(asOf) {
			continue
		}
		if best == nil || r.EffectiveFrom.After(best.EffectiveFrom) {
			best = &r
		}
	}
	if best == nil {
		return VatRate{}, errors.Mark(errors.Newf("rate %s/%s", country, category), ErrNotFound)
	}
	return *best, nil
}

// countingRecorder counts metric calls.
type countingRecorder struct {
	mu          sync.Mutex
	calculated  map[string]int
	replays     int
	cacheHits   int
	cacheMisses int
	gaps        []string
	auditFailed int
	auditDrops  int
	refunds     map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{calculated: map[string]int{}, refunds: map[string]int{}}
}

func (c *countingRecorder) CalculationRecorded(rule string, replayed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if replayed {
		c.replays++
		return
	}
	c.calculated[rule]++
}

func (c *countingRecorder) CalculationDuration(time.Duration) {}

func (c *countingRecorder) RateCacheLookup(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.cacheHits++
	} else {
		c.cacheMisses++
	}
}

func (c *countingRecorder) RateGap(country string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gaps = append(c.gaps, country)
}

func (c *countingRecorder) AuditFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auditFailed++
}

func (c *countingRecorder) AuditDropped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auditDrops++
}

func (c *countingRecorder) RefundAdjusted(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refunds[kind]++
}

// captureSink keeps audit entries in memory.
type captureSink struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureSink) Record(e AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func (c *captureSink) all() []AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]AuditEntry(nil), c.entries...)
}
