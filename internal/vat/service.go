package vat

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/boohpay/vatcore/internal/logger"
)

// Options are the engine's policy settings.
type Options struct {
	EngineVersion   string
	DefaultCategory string

	// FailOpenUnknownCountry lets a B2B sale involving a country missing
	// from the region table proceed as destination_based. When false such
	// a request is rejected with ErrUnknownJurisdiction.
	FailOpenUnknownCountry bool

	// ZeroVATWhenRateMissing records a zero-VAT no_vat transaction when no
	// rate exists. When false the request fails with ErrRateUnavailable.
	ZeroVATWhenRateMissing bool

	// Now is the clock used for rate selection. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns the production policy.
func DefaultOptions() Options {
	return Options{
		EngineVersion:          "v1.0.0",
		DefaultCategory:        DefaultCategory,
		FailOpenUnknownCountry: true,
		ZeroVATWhenRateMissing: true,
	}
}

// Service computes, persists and audits VAT splits. It holds no per-payment
// state, so any number of instances may run against the same database.
type Service struct {
	store    Store
	rates    *RateLookup
	resolver *Resolver
	audit    AuditSink
	metrics  Recorder
	logger   *logger.Logger
	opts     Options
}

// NewService wires the engine. Nil metrics and logger are replaced with
// no-op implementations.
func NewService(store Store, rates *RateLookup, resolver *Resolver, audit AuditSink, metrics Recorder, log *logger.Logger, opts Options) *Service {
	if resolver == nil {
		resolver = NewResolver(nil)
	}
	if metrics == nil {
		metrics = NopRecorder()
	}
	if log == nil {
		log = logger.NewNop()
	}
	if audit == nil {
		audit = SyncAuditSink{Store: store, Logger: log}
	}
	if rates == nil {
		rates = NewRateLookup(store, nil, opts.DefaultCategory, metrics, log)
	}
	if opts.EngineVersion == "" {
		opts.EngineVersion = DefaultOptions().EngineVersion
	}
	if opts.DefaultCategory == "" {
		opts.DefaultCategory = DefaultCategory
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:    store,
		rates:    rates,
		resolver: resolver,
		audit:    audit,
		metrics:  metrics,
		logger:   log,
		opts:     opts,
	}
}

// Calculate taxes a payment at most once. A repeat call for a payment that
// already has a transaction returns the stored result, whatever the new
// inputs say.
func (s *Service) Calculate(ctx context.Context, req CalculationRequest) (CalculationResult, error) {
	start := time.Now()
	defer func() { s.metrics.CalculationDuration(time.Since(start)) }()

	req = normalizeCalculation(req, s.opts.DefaultCategory)
	if err := validateRequest(req); err != nil {
		return CalculationResult{}, err
	}

	log := s.logger.With("payment_id", req.PaymentID, "idempotency_key", req.IdempotencyKey)

	// Fast path only; the insert below is what guarantees uniqueness.
	existing, err := s.store.GetByPaymentID(ctx, req.PaymentID)
	switch {
	case err == nil:
		return s.replay(log, existing, req), nil
	case !errors.Is(err, ErrNotFound):
		return CalculationResult{}, errors.Wrapf(err, "checking existing vat transaction for %s", req.PaymentID)
	}

	vatNumber := sanitizeVATNumber(req.BuyerVATNumber)
	isB2B := IsB2BNumber(vatNumber)

	decision := s.resolver.Resolve(RuleInput{
		SellerCountry:  req.SellerCountry,
		BuyerCountry:   req.BuyerCountry,
		Amount:         req.Amount,
		IsB2B:          isB2B,
		BuyerVATNumber: vatNumber,
	})

	if decision.UnmappedCountry != "" {
		if !s.opts.FailOpenUnknownCountry {
			return CalculationResult{}, errors.WithHint(
				errors.Mark(
					errors.Mark(errors.Newf("country %s is not in region table %s", decision.UnmappedCountry, s.resolver.Regions().Version()), ErrUnknownJurisdiction),
					ErrValidation,
				),
				"add the country to the region table or enable fail-open",
			)
		}
		log.Warnw("country missing from region table, failing open",
			"country", decision.UnmappedCountry,
			"rule", decision.Rule,
		)
	}

	var (
		amounts Amounts
		rate    *VatRate
	)
	switch decision.Rule {
	case RuleReverseCharge:
		amounts = ZeroVAT(req.Amount)
	default:
		taxCountry := req.BuyerCountry
		if decision.Rule == RuleOriginBased {
			taxCountry = req.SellerCountry
		}

		rate, err = s.rates.FindRate(ctx, taxCountry, req.ProductCategory, s.opts.Now())
		if err != nil {
			return CalculationResult{}, err
		}
		if rate == nil {
			if !s.opts.ZeroVATWhenRateMissing {
				return CalculationResult{}, errors.WithHint(
					errors.Mark(errors.Newf("no vat rate for %s/%s", taxCountry, req.ProductCategory), ErrRateUnavailable),
					"create a rate for this country and category",
				)
			}
			decision.Rule = RuleNoVAT
			decision.Reason = "no rate for " + taxCountry + ", zero VAT applied"
			amounts = ZeroVAT(req.Amount)
		} else {
			amounts, err = Split(req.Amount, rate.Rate, req.PriceIncludesVAT)
			if err != nil {
				log.Errorw("vat split failed, nothing persisted",
					"amount", req.Amount,
					"rate", rate.Rate.String(),
					"error", err,
				)
				return CalculationResult{}, err
			}
		}
	}

	tx := VatTransaction{
		ID:                 uuid.New(),
		PaymentID:          req.PaymentID,
		MerchantID:         req.SellerID,
		BuyerCountry:       optionalString(req.BuyerCountry),
		SellerCountry:      req.SellerCountry,
		Currency:           req.Currency,
		AmountGross:        amounts.Gross,
		AmountNet:          amounts.Net,
		VatAmount:          amounts.VAT,
		CalculationVersion: s.opts.EngineVersion,
		VatIncluded:        req.PriceIncludesVAT,
		AppliedRule:        decision.Rule,
		BuyerVatNumber:     optionalString(vatNumber),
		IsB2B:              isB2B,
		ProductCategory:    req.ProductCategory,
		CreatedAt:          time.Now().UTC(),
	}
	if rate != nil {
		id := rate.ID
		tx.VatRateID = &id
		tx.Rate = rate.Rate
	}
	if err := tx.CheckInvariants(); err != nil {
		return CalculationResult{}, err
	}

	stored, created, err := s.store.InsertOrGet(ctx, tx)
	if err != nil {
		return CalculationResult{}, errors.Wrapf(err, "persisting vat transaction for %s", req.PaymentID)
	}
	if !created {
		// Lost the race to a concurrent first call.
		return s.replay(log, stored, req), nil
	}

	s.metrics.CalculationRecorded(string(stored.AppliedRule), false)
	s.audit.Record(AuditEntry{
		TransactionID: &stored.ID,
		Action:        ActionCalculation,
		Payload:       calculationPayload(req, decision, rate, stored, s.resolver.Regions().Version()),
		ActorID:       optionalString(req.IdempotencyKey),
		ActorType:     ActorExternalEvent,
	})
	log.Infow("vat calculated",
		"transaction_id", stored.ID,
		"rule", stored.AppliedRule,
		"reason", decision.Reason,
		"gross", stored.AmountGross,
		"net", stored.AmountNet,
		"vat", stored.VatAmount,
	)

	return resultFromTransaction(stored, false), nil
}

func (s *Service) replay(log *logger.Logger, stored VatTransaction, req CalculationRequest) CalculationResult {
	s.metrics.CalculationRecorded(string(stored.AppliedRule), true)
	if stored.AmountGross != req.Amount && stored.AmountNet != req.Amount {
		log.Warnw("replayed payment with different amount, returning stored result",
			"stored_gross", stored.AmountGross,
			"requested_amount", req.Amount,
		)
	} else {
		log.Debugw("replayed payment", "transaction_id", stored.ID)
	}
	return resultFromTransaction(stored, true)
}

// GetTransaction returns the transaction of a payment owned by merchantID.
// A payment owned by another merchant is reported as not found.
func (s *Service) GetTransaction(ctx context.Context, paymentID, merchantID string) (VatTransaction, error) {
	tx, err := s.store.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return VatTransaction{}, err
	}
	if merchantID != "" && tx.MerchantID != merchantID {
		return VatTransaction{}, errors.Mark(errors.Newf("vat transaction for payment %s", paymentID), ErrNotFound)
	}
	return tx, nil
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ListTransactions returns a merchant's transactions, newest first.
func (s *Service) ListTransactions(ctx context.Context, merchantID string, f TransactionFilter) ([]VatTransaction, error) {
	if merchantID == "" {
		return nil, validationErrorf("merchant id is required")
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, validationErrorf("from %s is after to %s", f.From.Format(time.RFC3339), f.To.Format(time.RFC3339))
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultListLimit
	case f.Limit > maxListLimit:
		f.Limit = maxListLimit
	}
	f.Country = strings.ToUpper(f.Country)
	return s.store.ListByMerchant(ctx, merchantID, f)
}

// VATPosition is a payment's VAT after refunds.
type VATPosition struct {
	TransactionID uuid.UUID `json:"transactionId"`
	OriginalVAT   int64     `json:"originalVat"`
	Adjustments   int64     `json:"adjustments"`
	NetVAT        int64     `json:"netVat"`
}

// NetVATPosition sums the original VAT and every adjustment of a payment.
func (s *Service) NetVATPosition(ctx context.Context, paymentID string) (VATPosition, error) {
	tx, err := s.store.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return VATPosition{}, err
	}
	adjs, err := s.store.ListAdjustments(ctx, tx.ID)
	if err != nil {
		return VATPosition{}, errors.Wrapf(err, "listing adjustments of %s", tx.ID)
	}

	pos := VATPosition{TransactionID: tx.ID, OriginalVAT: tx.VatAmount}
	for _, a := range adjs {
		pos.Adjustments += a.AdjustmentAmount
	}
	pos.NetVAT = pos.OriginalVAT + pos.Adjustments
	return pos, nil
}

// ListAdjustments returns the refund ledger of a transaction, oldest first.
func (s *Service) ListAdjustments(ctx context.Context, transactionID uuid.UUID) ([]RefundAdjustment, error) {
	return s.store.ListAdjustments(ctx, transactionID)
}

// AuditTrail returns the audit entries of a transaction, oldest first.
func (s *Service) AuditTrail(ctx context.Context, transactionID uuid.UUID) ([]AuditEntry, error) {
	return s.store.ListAudit(ctx, transactionID)
}

var reportActions = map[string]bool{
	ActionReportGenerated: true,
	ActionReportSubmitted: true,
	ActionReportPaid:      true,
}

// RecordReportTransition audits a report lifecycle step on behalf of the
// reporting collaborator.
func (s *Service) RecordReportTransition(reportID uuid.UUID, action string, actorID string, actorType ActorType, payload map[string]interface{}) error {
	if !reportActions[action] {
		return validationErrorf("unknown report action %q", action)
	}
	switch actorType {
	case ActorUser, ActorSystem, ActorExternalEvent:
	default:
		return validationErrorf("unknown actor type %q", actorType)
	}
	s.audit.Record(AuditEntry{
		ReportID:  &reportID,
		Action:    action,
		Payload:   payload,
		ActorID:   optionalString(actorID),
		ActorType: actorType,
	})
	return nil
}

func normalizeCalculation(req CalculationRequest, defaultCategory string) CalculationRequest {
	req.SellerCountry = strings.ToUpper(strings.TrimSpace(req.SellerCountry))
	req.BuyerCountry = strings.ToUpper(strings.TrimSpace(req.BuyerCountry))
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.ProductCategory = strings.TrimSpace(req.ProductCategory)
	if req.ProductCategory == "" {
		req.ProductCategory = defaultCategory
	}
	return req
}

func calculationPayload(req CalculationRequest, d Decision, rate *VatRate, tx VatTransaction, regionsVersion string) map[string]interface{} {
	p := map[string]interface{}{
		"input": map[string]interface{}{
			"seller_country":     req.SellerCountry,
			"buyer_country":      req.BuyerCountry,
			"amount":             req.Amount,
			"price_includes_vat": req.PriceIncludesVAT,
			"product_category":   req.ProductCategory,
			"currency":           req.Currency,
			"is_b2b":             tx.IsB2B,
		},
		"rule":           string(d.Rule),
		"reason":         d.Reason,
		"engine_version": tx.CalculationVersion,
		"region_table":   regionsVersion,
		"amount_gross":   tx.AmountGross,
		"amount_net":     tx.AmountNet,
		"vat_amount":     tx.VatAmount,
	}
	if d.Threshold != nil {
		p["threshold"] = *d.Threshold
	}
	if d.SellerRegion != "" {
		p["seller_region"] = string(d.SellerRegion)
		p["buyer_region"] = string(d.BuyerRegion)
	}
	if rate != nil {
		p["rate"] = rate.Rate.String()
		p["rate_id"] = rate.ID.String()
	} else {
		p["rate"] = decimal.Zero.String()
	}
	return p
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
