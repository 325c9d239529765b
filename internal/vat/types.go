package vat

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TaxRule is the regime applied to a payment.
type TaxRule string

const (
	RuleDestinationBased TaxRule = "destination_based" // buyer's jurisdiction rate
	RuleOriginBased      TaxRule = "origin_based"      // seller's jurisdiction rate
	RuleReverseCharge    TaxRule = "reverse_charge"    // buyer self-assesses, seller collects zero
	RuleNoVAT            TaxRule = "no_vat"
)

// Valid reports whether r is one of the known rules.
func (r TaxRule) Valid() bool {
	switch r {
	case RuleDestinationBased, RuleOriginBased, RuleReverseCharge, RuleNoVAT:
		return true
	}
	return false
}

// ActorType identifies who triggered an audited action.
type ActorType string

const (
	ActorUser          ActorType = "user"
	ActorSystem        ActorType = "system"
	ActorExternalEvent ActorType = "external_event"
)

// Audit actions.
const (
	ActionCalculation      = "calculation"
	ActionRefundAdjustment = "refund_adjustment"
	ActionReportGenerated  = "report_generated"
	ActionReportSubmitted  = "report_submitted"
	ActionReportPaid       = "report_paid"
)

// AdjustmentKind tags a refund ledger entry.
type AdjustmentKind string

const (
	AdjustmentFullRefund    AdjustmentKind = "full_refund"
	AdjustmentPartialRefund AdjustmentKind = "partial_refund"
)

// DefaultCategory is the product category used when none is given.
const DefaultCategory = "default"

// VatRate is a rate row administered outside the engine.
// Rate is a fraction: 0.18 means 18%.
type VatRate struct {
	ID              uuid.UUID
	CountryCode     string
	Region          *string
	ProductCategory string
	Rate            decimal.Decimal
	EffectiveFrom   time.Time
	EffectiveTo     *time.Time
	CreatedAt       time.Time
}

// ActiveOn reports whether the rate applies on the calendar day of t (UTC).
func (r VatRate) ActiveOn(t time.Time) bool {
	day := truncateDay(t)
	if truncateDay(r.EffectiveFrom).After(day) {
		return false
	}
	if r.EffectiveTo != nil && truncateDay(*r.EffectiveTo).Before(day) {
		return false
	}
	return true
}

// VatTransaction is the single, immutable tax record of a payment.
type VatTransaction struct {
	ID                 uuid.UUID
	PaymentID          string
	MerchantID         string
	BuyerCountry       *string
	SellerCountry      string
	Currency           string
	AmountGross        int64
	AmountNet          int64
	VatAmount          int64
	VatRateID          *uuid.UUID
	Rate               decimal.Decimal // joined from vat_rates, zero when no rate applied
	CalculationVersion string
	VatIncluded        bool
	AppliedRule        TaxRule
	BuyerVatNumber     *string
	IsB2B              bool
	ProductCategory    string
	CreatedAt          time.Time
}

// CheckInvariants returns an invariant error when the stored amounts are
// inconsistent.
func (t VatTransaction) CheckInvariants() error {
	return checkSplit(t.AmountGross, t.AmountNet, t.VatAmount)
}

// AuditEntry is an append-only record of a decision.
type AuditEntry struct {
	ID            uuid.UUID
	TransactionID *uuid.UUID
	ReportID      *uuid.UUID
	Action        string
	Payload       map[string]interface{}
	ActorID       *string
	ActorType     ActorType
	CreatedAt     time.Time
}

// RefundAdjustment is an append-only VAT reversal. AdjustmentAmount is
// negative (or zero when the original carried no VAT).
type RefundAdjustment struct {
	ID               uuid.UUID
	RefundID         string
	VatTransactionID uuid.UUID
	RefundAmount     int64
	AdjustmentAmount int64
	AdjustmentType   AdjustmentKind
	CreatedAt        time.Time
}

// CalculationRequest is what the payment pipeline sends once a payment is
// authorized. PaymentID is the idempotency key of the calculation.
type CalculationRequest struct {
	IdempotencyKey   string `json:"idempotencyKey" validate:"required,max=255"`
	PaymentID        string `json:"paymentId" validate:"required,max=255"`
	SellerID         string `json:"sellerId" validate:"required,max=255"`
	SellerCountry    string `json:"sellerCountry" validate:"required,iso3166_1_alpha2"`
	BuyerCountry     string `json:"buyerCountry,omitempty" validate:"omitempty,iso3166_1_alpha2"`
	Currency         string `json:"currency" validate:"required,iso4217"`
	Amount           int64  `json:"amount" validate:"gt=0"`
	PriceIncludesVAT bool   `json:"priceIncludesVat"`
	ProductCategory  string `json:"productCategory,omitempty" validate:"omitempty,max=64"`
	BuyerVATNumber   string `json:"buyerVatNumber,omitempty" validate:"omitempty,max=32"`
}

// CalculationResult is returned for fresh and replayed calculations alike.
type CalculationResult struct {
	TransactionID      uuid.UUID       `json:"transactionId"`
	PaymentID          string          `json:"paymentId"`
	AmountGross        int64           `json:"amountGross"`
	AmountNet          int64           `json:"amountNet"`
	VatAmount          int64           `json:"vatAmount"`
	VatRate            decimal.Decimal `json:"vatRate"`
	VatRateID          *uuid.UUID      `json:"vatRateId,omitempty"`
	CalculationVersion string          `json:"calculationVersion"`
	AppliedRule        TaxRule         `json:"appliedRule"`
	IsB2B              bool            `json:"isB2B"`
	Replayed           bool            `json:"replayed"`
}

func resultFromTransaction(t VatTransaction, replayed bool) CalculationResult {
	return CalculationResult{
		TransactionID:      t.ID,
		PaymentID:          t.PaymentID,
		AmountGross:        t.AmountGross,
		AmountNet:          t.AmountNet,
		VatAmount:          t.VatAmount,
		VatRate:            t.Rate,
		VatRateID:          t.VatRateID,
		CalculationVersion: t.CalculationVersion,
		AppliedRule:        t.AppliedRule,
		IsB2B:              t.IsB2B,
		Replayed:           replayed,
	}
}

// RefundRequest comes from the refund processor once a refund succeeded.
type RefundRequest struct {
	PaymentID    string `json:"paymentId" validate:"required,max=255"`
	RefundID     string `json:"refundId" validate:"required,max=255"`
	RefundAmount int64  `json:"refundAmount" validate:"gt=0"`
	IsFullRefund bool   `json:"isFullRefund"`
}

// TransactionFilter narrows ListTransactions. Zero values mean no bound.
type TransactionFilter struct {
	From    *time.Time
	To      *time.Time
	Country string // matches buyer or seller country
	Limit   int
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
