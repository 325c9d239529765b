package vat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore implements Store and RateAdmin on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an open pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var (
	_ Store     = (*PostgresStore)(nil)
	_ RateAdmin = (*PostgresStore)(nil)
)

const transactionColumns = `
	t.id, t.payment_id, t.merchant_id, t.buyer_country, t.seller_country, t.currency,
	t.amount_gross, t.amount_net, t.vat_amount, t.vat_rate_id, COALESCE(r.rate::text, '0'),
	t.calculation_version, t.vat_included, t.applied_rule, t.buyer_vat_number, t.is_b2b,
	t.product_category, t.created_at`

const transactionFrom = `
	FROM vat_transactions t
	LEFT JOIN vat_rates r ON r.id = t.vat_rate_id`

// InsertOrGet inserts t, or returns the row that already holds its
// payment_id. The unique index decides the winner between concurrent
// callers; the loser reads the winner's row.
func (s *PostgresStore) InsertOrGet(ctx context.Context, t VatTransaction) (VatTransaction, bool, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO vat_transactions (
			id, payment_id, merchant_id, buyer_country, seller_country, currency,
			amount_gross, amount_net, vat_amount, vat_rate_id, calculation_version,
			vat_included, applied_rule, buyer_vat_number, is_b2b, product_category, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING id
	`,
		t.ID, t.PaymentID, t.MerchantID, t.BuyerCountry, t.SellerCountry, t.Currency,
		t.AmountGross, t.AmountNet, t.VatAmount, t.VatRateID, t.CalculationVersion,
		t.VatIncluded, string(t.AppliedRule), t.BuyerVatNumber, t.IsB2B, t.ProductCategory, t.CreatedAt,
	).Scan(&id)

	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := s.GetByPaymentID(ctx, t.PaymentID)
		if getErr != nil {
			return VatTransaction{}, false, errors.Wrapf(getErr, "reading winner row for payment %s", t.PaymentID)
		}
		return existing, false, nil
	}
	if err != nil {
		return VatTransaction{}, false, errors.Wrapf(err, "inserting vat transaction for payment %s", t.PaymentID)
	}

	stored, err := s.GetByPaymentID(ctx, t.PaymentID)
	if err != nil {
		return VatTransaction{}, false, err
	}
	return stored, true, nil
}

// GetByPaymentID returns ErrNotFound when the payment was never taxed.
func (s *PostgresStore) GetByPaymentID(ctx context.Context, paymentID string) (VatTransaction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+transactionColumns+transactionFrom+` WHERE t.payment_id = $1`, paymentID)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return VatTransaction{}, errors.Mark(errors.Newf("vat transaction for payment %s", paymentID), ErrNotFound)
	}
	if err != nil {
		return VatTransaction{}, errors.Wrapf(err, "getting vat transaction for payment %s", paymentID)
	}
	return t, nil
}

// ListByMerchant returns a merchant's transactions, newest first.
func (s *PostgresStore) ListByMerchant(ctx context.Context, merchantID string, f TransactionFilter) ([]VatTransaction, error) {
	where := []string{"t.merchant_id = $1"}
	args := []interface{}{merchantID}

	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("t.created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("t.created_at < $%d", len(args)))
	}
	if f.Country != "" {
		args = append(args, f.Country)
		where = append(where, fmt.Sprintf("(t.buyer_country = $%d OR t.seller_country = $%d)", len(args), len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	query := `SELECT ` + transactionColumns + transactionFrom +
		` WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY t.created_at DESC, t.id LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "listing vat transactions of merchant %s", merchantID)
	}
	defer rows.Close()

	var out []VatTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning vat transaction")
		}
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "iterating vat transactions")
}

func scanTransaction(row pgx.Row) (VatTransaction, error) {
	var (
		t    VatTransaction
		rate string
		rule string
	)
	err := row.Scan(
		&t.ID, &t.PaymentID, &t.MerchantID, &t.BuyerCountry, &t.SellerCountry, &t.Currency,
		&t.AmountGross, &t.AmountNet, &t.VatAmount, &t.VatRateID, &rate,
		&t.CalculationVersion, &t.VatIncluded, &rule, &t.BuyerVatNumber, &t.IsB2B,
		&t.ProductCategory, &t.CreatedAt,
	)
	if err != nil {
		return VatTransaction{}, err
	}
	t.AppliedRule = TaxRule(rule)
	if t.Rate, err = decimal.NewFromString(rate); err != nil {
		return VatTransaction{}, errors.Wrapf(err, "parsing stored rate %q", rate)
	}
	return t, nil
}

// InsertAdjustment inserts a, or returns the row already holding its
// refund_id.
func (s *PostgresStore) InsertAdjustment(ctx context.Context, a RefundAdjustment) (RefundAdjustment, bool, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO vat_refund_adjustments (
			id, refund_id, vat_transaction_id, refund_amount, adjustment_amount, adjustment_type, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (refund_id) DO NOTHING
		RETURNING id
	`, a.ID, a.RefundID, a.VatTransactionID, a.RefundAmount, a.AdjustmentAmount, string(a.AdjustmentType), a.CreatedAt).Scan(&id)

	created := true
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		created = false
	case errors.As(err, &pgErr) && pgErr.Code == "23514": // check_violation
		// A concurrent replay of the same refund may have won the row.
		if stored, getErr := s.getAdjustment(ctx, a.RefundID); getErr == nil {
			return stored, false, nil
		}
		return RefundAdjustment{}, false, errors.WithHint(
			errors.Mark(errors.Wrapf(err, "refund %s rejected", a.RefundID), ErrValidation),
			"refunds of a payment must not exceed its gross amount",
		)
	case err != nil:
		return RefundAdjustment{}, false, errors.Wrapf(err, "inserting refund adjustment %s", a.RefundID)
	}

	stored, err := s.getAdjustment(ctx, a.RefundID)
	if err != nil {
		return RefundAdjustment{}, false, err
	}
	return stored, created, nil
}

const adjustmentColumns = `id, refund_id, vat_transaction_id, refund_amount, adjustment_amount, adjustment_type, created_at`

func (s *PostgresStore) getAdjustment(ctx context.Context, refundID string) (RefundAdjustment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+adjustmentColumns+` FROM vat_refund_adjustments WHERE refund_id = $1`, refundID)
	a, err := scanAdjustment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefundAdjustment{}, errors.Mark(errors.Newf("refund adjustment %s", refundID), ErrNotFound)
	}
	if err != nil {
		return RefundAdjustment{}, errors.Wrapf(err, "getting refund adjustment %s", refundID)
	}
	return a, nil
}

// ListAdjustments returns a transaction's ledger, oldest first.
func (s *PostgresStore) ListAdjustments(ctx context.Context, transactionID uuid.UUID) ([]RefundAdjustment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+adjustmentColumns+`
		FROM vat_refund_adjustments
		WHERE vat_transaction_id = $1
		ORDER BY created_at, id
	`, transactionID)
	if err != nil {
		return nil, errors.Wrapf(err, "listing adjustments of %s", transactionID)
	}
	defer rows.Close()

	var out []RefundAdjustment
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning refund adjustment")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "iterating refund adjustments")
}

func scanAdjustment(row pgx.Row) (RefundAdjustment, error) {
	var (
		a    RefundAdjustment
		kind string
	)
	if err := row.Scan(&a.ID, &a.RefundID, &a.VatTransactionID, &a.RefundAmount, &a.AdjustmentAmount, &kind, &a.CreatedAt); err != nil {
		return RefundAdjustment{}, err
	}
	a.AdjustmentType = AdjustmentKind(kind)
	return a, nil
}

// InsertAudit appends one audit entry.
func (s *PostgresStore) InsertAudit(ctx context.Context, e AuditEntry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return errors.Wrapf(err, "encoding audit payload for %s", e.Action)
	}
	if e.Payload == nil {
		payload = []byte("{}")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO vat_audit_logs (id, transaction_id, report_id, action, payload, actor_id, actor_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.TransactionID, e.ReportID, e.Action, payload, e.ActorID, string(e.ActorType), e.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "inserting audit entry %s", e.Action)
	}
	return nil
}

// ListAudit returns a transaction's audit entries, oldest first.
func (s *PostgresStore) ListAudit(ctx context.Context, transactionID uuid.UUID) ([]AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, transaction_id, report_id, action, payload, actor_id, actor_type, created_at
		FROM vat_audit_logs
		WHERE transaction_id = $1
		ORDER BY created_at, id
	`, transactionID)
	if err != nil {
		return nil, errors.Wrapf(err, "listing audit entries of %s", transactionID)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e         AuditEntry
			payload   []byte
			actorType string
		)
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.ReportID, &e.Action, &payload, &e.ActorID, &actorType, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning audit entry")
		}
		e.ActorType = ActorType(actorType)
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, errors.Wrapf(err, "decoding audit payload %s", e.ID)
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterating audit entries")
}

const rateColumns = `id, country_code, region, product_category, rate::text, effective_from, effective_to, created_at`

// FindActiveRate picks the rate active on asOf's calendar day; the latest
// effective_from wins when windows overlap.
func (s *PostgresStore) FindActiveRate(ctx context.Context, country, category string, asOf time.Time) (VatRate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+rateColumns+`
		FROM vat_rates
		WHERE country_code = $1
		  AND product_category = $2
		  AND effective_from <= $3::date
		  AND (effective_to IS NULL OR effective_to >= $3::date)
		ORDER BY effective_from DESC
		LIMIT 1
	`, country, category, truncateDay(asOf))

	r, err := scanRate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return VatRate{}, errors.Mark(errors.Newf("vat rate %s/%s", country, category), ErrNotFound)
	}
	if err != nil {
		return VatRate{}, errors.Wrapf(err, "finding vat rate %s/%s", country, category)
	}
	return r, nil
}

// CreateRate inserts r unless a rate with the same country, category and
// start date exists, in which case the existing row is returned.
func (s *PostgresStore) CreateRate(ctx context.Context, r VatRate) (VatRate, bool, error) {
	if _, err := ScaleRate(r.Rate); err != nil {
		return VatRate{}, false, err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.ProductCategory == "" {
		r.ProductCategory = DefaultCategory
	}

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO vat_rates (id, country_code, region, product_category, rate, effective_from, effective_to)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::date, $7::date)
		ON CONFLICT (country_code, product_category, effective_from) DO NOTHING
		RETURNING id
	`, r.ID, strings.ToUpper(r.CountryCode), r.Region, r.ProductCategory, r.Rate.String(), truncateDay(r.EffectiveFrom), r.EffectiveTo).Scan(&id)

	created := true
	if errors.Is(err, pgx.ErrNoRows) {
		created = false
	} else if err != nil {
		return VatRate{}, false, errors.Wrapf(err, "creating vat rate %s/%s", r.CountryCode, r.ProductCategory)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT `+rateColumns+`
		FROM vat_rates
		WHERE country_code = $1 AND product_category = $2 AND effective_from = $3::date
	`, strings.ToUpper(r.CountryCode), r.ProductCategory, truncateDay(r.EffectiveFrom))
	stored, err := scanRate(row)
	if err != nil {
		return VatRate{}, false, errors.Wrap(err, "reading created vat rate")
	}
	return stored, created, nil
}

// ListRates returns the rates of a country, or all rates when country is
// empty, ordered by country, category and start date.
func (s *PostgresStore) ListRates(ctx context.Context, country string) ([]VatRate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+rateColumns+`
		FROM vat_rates
		WHERE $1 = '' OR country_code = $1
		ORDER BY country_code, product_category, effective_from
	`, strings.ToUpper(country))
	if err != nil {
		return nil, errors.Wrap(err, "listing vat rates")
	}
	defer rows.Close()

	var out []VatRate
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning vat rate")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterating vat rates")
}

func scanRate(row pgx.Row) (VatRate, error) {
	var (
		r    VatRate
		rate string
	)
	if err := row.Scan(&r.ID, &r.CountryCode, &r.Region, &r.ProductCategory, &rate, &r.EffectiveFrom, &r.EffectiveTo, &r.CreatedAt); err != nil {
		return VatRate{}, err
	}
	var err error
	if r.Rate, err = decimal.NewFromString(rate); err != nil {
		return VatRate{}, errors.Wrapf(err, "parsing rate %q", rate)
	}
	return r, nil
}
