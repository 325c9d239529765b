package vat

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// AdjustForRefund appends the VAT reversal of a refund to the ledger.
//
// The adjustment is round(-vat * refund / gross), half to even. Refunds of
// one payment may not add up to more than its gross; the refund that
// completes the gross reverses whatever VAT is left, so the net position
// ends at exactly zero. A payment that was never taxed yields (nil, nil).
// Replaying a refund ID returns the stored entry. The original transaction
// is never modified.
func (s *Service) AdjustForRefund(ctx context.Context, req RefundRequest) (*RefundAdjustment, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	log := s.logger.With("payment_id", req.PaymentID, "refund_id", req.RefundID)

	tx, err := s.store.GetByPaymentID(ctx, req.PaymentID)
	if errors.Is(err, ErrNotFound) {
		log.Infow("refund for untaxed payment, nothing to adjust")
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading vat transaction for refund %s", req.RefundID)
	}

	prior, err := s.store.ListAdjustments(ctx, tx.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "listing adjustments of %s", tx.ID)
	}
	var refunded, reversed int64
	for _, p := range prior {
		if p.RefundID == req.RefundID {
			log.Debugw("replayed refund adjustment", "adjustment_id", p.ID)
			return &p, nil
		}
		refunded += p.RefundAmount
		reversed += p.AdjustmentAmount
	}

	if refunded+req.RefundAmount > tx.AmountGross {
		return nil, errors.WithHint(
			validationErrorf("refund %d on top of %d already refunded exceeds gross %d of payment %s",
				req.RefundAmount, refunded, tx.AmountGross, req.PaymentID),
			"refunds of a payment must not exceed its gross amount",
		)
	}

	kind := AdjustmentPartialRefund
	if req.RefundAmount == tx.AmountGross {
		kind = AdjustmentFullRefund
	}
	if req.IsFullRefund != (kind == AdjustmentFullRefund) {
		log.Warnw("full-refund flag disagrees with amounts, using amounts",
			"flag", req.IsFullRefund,
			"refund_amount", req.RefundAmount,
			"gross", tx.AmountGross,
		)
	}

	// VAT not yet reversed by earlier refunds.
	remaining := tx.VatAmount + reversed

	var amount int64
	if refunded+req.RefundAmount == tx.AmountGross {
		// The refund that completes the gross reverses exactly what is left.
		amount = -remaining
	} else {
		amount, err = ProportionalAdjustment(tx.VatAmount, req.RefundAmount, tx.AmountGross)
		if err != nil {
			return nil, err
		}
		if -amount > remaining {
			amount = -remaining
		}
	}
	if amount > 0 || remaining < 0 || -amount > remaining {
		return nil, invariantErrorf("adjustment %d out of range for remaining vat %d", amount, remaining)
	}

	adj := RefundAdjustment{
		ID:               uuid.New(),
		RefundID:         req.RefundID,
		VatTransactionID: tx.ID,
		RefundAmount:     req.RefundAmount,
		AdjustmentAmount: amount,
		AdjustmentType:   kind,
		CreatedAt:        time.Now().UTC(),
	}

	stored, created, err := s.store.InsertAdjustment(ctx, adj)
	if err != nil {
		return nil, errors.Wrapf(err, "persisting refund adjustment %s", req.RefundID)
	}
	if !created {
		if stored.VatTransactionID != tx.ID {
			return nil, errors.WithHint(
				validationErrorf("refund %s already applied to another payment", req.RefundID),
				"refund references must be unique across payments",
			)
		}
		log.Debugw("replayed refund adjustment", "adjustment_id", stored.ID)
		return &stored, nil
	}

	s.metrics.RefundAdjusted(string(stored.AdjustmentType))
	s.audit.Record(AuditEntry{
		TransactionID: &tx.ID,
		Action:        ActionRefundAdjustment,
		Payload: map[string]interface{}{
			"refund_id":         stored.RefundID,
			"refund_amount":     stored.RefundAmount,
			"adjustment_amount": stored.AdjustmentAmount,
			"adjustment_type":   string(stored.AdjustmentType),
			"original_gross":    tx.AmountGross,
			"original_vat":      tx.VatAmount,
			"engine_version":    s.opts.EngineVersion,
		},
		ActorID:   optionalString(req.RefundID),
		ActorType: ActorExternalEvent,
	})
	log.Infow("refund adjustment recorded",
		"adjustment_id", stored.ID,
		"kind", stored.AdjustmentType,
		"adjustment", stored.AdjustmentAmount,
	)

	return &stored, nil
}
