package vat

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/boohpay/vatcore/internal/logger"
)

// RateLookup resolves the rate for a country, category and day, reading
// through a RateCache. No lock guards population: two concurrent misses
// both hit the store and both write the same value.
type RateLookup struct {
	store           RateStore
	cache           *RateCache
	defaultCategory string
	metrics         Recorder
	logger          *logger.Logger
}

// NewRateLookup wires a lookup. A nil cache disables caching.
func NewRateLookup(store RateStore, cache *RateCache, defaultCategory string, metrics Recorder, log *logger.Logger) *RateLookup {
	if defaultCategory == "" {
		defaultCategory = DefaultCategory
	}
	if metrics == nil {
		metrics = NopRecorder()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RateLookup{
		store:           store,
		cache:           cache,
		defaultCategory: defaultCategory,
		metrics:         metrics,
		logger:          log,
	}
}

// FindRate returns the active rate, or nil when none exists. A missing
// rate for a specific category falls back to the default category before
// it is reported as a gap. Store failures are returned as errors.
func (l *RateLookup) FindRate(ctx context.Context, country, category string, asOf time.Time) (*VatRate, error) {
	country = strings.ToUpper(country)
	if category == "" {
		category = l.defaultCategory
	}

	rate, err := l.find(ctx, country, category, asOf)
	if err != nil {
		return nil, err
	}
	if rate == nil && category != l.defaultCategory {
		l.logger.Debugw("no rate for category, trying default",
			"country", country,
			"category", category,
		)
		rate, err = l.find(ctx, country, l.defaultCategory, asOf)
		if err != nil {
			return nil, err
		}
	}

	if rate == nil {
		l.metrics.RateGap(country)
		l.logger.Warnw("vat rate missing, rate table needs an entry",
			"country", country,
			"category", category,
			"as_of", asOf.UTC().Format("2006-01-02"),
		)
	}
	return rate, nil
}

func (l *RateLookup) find(ctx context.Context, country, category string, asOf time.Time) (*VatRate, error) {
	if l.cache != nil {
		if r, ok := l.cache.Get(country, category, asOf); ok {
			l.metrics.RateCacheLookup(true)
			return &r, nil
		}
		l.metrics.RateCacheLookup(false)
	}

	r, err := l.store.FindActiveRate(ctx, country, category, asOf)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "looking up vat rate for %s/%s", country, category)
	}

	if l.cache != nil {
		l.cache.Set(country, category, asOf, r)
	}
	return &r, nil
}
