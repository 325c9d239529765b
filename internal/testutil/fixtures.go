package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/boohpay/vatcore/internal/vat"
)

// Jan2024 is the start of every fixture rate.
var Jan2024 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// FixtureRate inserts an open-ended default-category rate and returns it.
func (tdb *TestDB) FixtureRate(t *testing.T, country, rate string) vat.VatRate {
	t.Helper()
	return tdb.FixtureRateWindow(t, country, vat.DefaultCategory, rate, Jan2024, nil)
}

// FixtureRateWindow inserts a rate with an explicit category and window.
func (tdb *TestDB) FixtureRateWindow(t *testing.T, country, category, rate string, from time.Time, to *time.Time) vat.VatRate {
	t.Helper()
	store := vat.NewPostgresStore(tdb.Pool)

	r, _, err := store.CreateRate(context.Background(), vat.VatRate{
		ID:              uuid.New(),
		CountryCode:     country,
		ProductCategory: category,
		Rate:            decimal.RequireFromString(rate),
		EffectiveFrom:   from,
		EffectiveTo:     to,
	})
	if err != nil {
		t.Fatalf("creating fixture rate %s/%s: %v", country, category, err)
	}
	return r
}

// SeedReferenceRates inserts the rates used by the worked examples.
func (tdb *TestDB) SeedReferenceRates(t *testing.T) map[string]vat.VatRate {
	t.Helper()
	out := make(map[string]vat.VatRate)
	for country, rate := range map[string]string{"GA": "0.18", "FR": "0.18", "DE": "0.19", "CM": "0.1925"} {
		out[country] = tdb.FixtureRate(t, country, rate)
	}
	return out
}
