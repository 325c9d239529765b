package vat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jan2024 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jul2025 = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
)

func TestRateLookup_PicksLatestActive(t *testing.T) {
	store := newMemStore()
	end := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	store.addRate("FR", DefaultCategory, "0.196", time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), nil)
	store.addRate("FR", DefaultCategory, "0.20", jan2024, &end)
	store.addRate("FR", DefaultCategory, "0.21", jul2025, nil)

	l := NewRateLookup(store, nil, "", nil, nil)

	got, err := l.FindRate(context.Background(), "FR", "", time.Date(2025, 6, 30, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "0.2", got.Rate.String(), "effective_to is inclusive")

	got, err = l.FindRate(context.Background(), "fr", DefaultCategory, jul2025)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "0.21", got.Rate.String(), "overlapping windows resolve to latest start")

	got, err = l.FindRate(context.Background(), "FR", DefaultCategory, time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "0.196", got.Rate.String(), "only the historical rate was active")
}

func TestRateLookup_CategoryFallsBackToDefault(t *testing.T) {
	store := newMemStore()
	store.addRate("FR", DefaultCategory, "0.20", jan2024, nil)
	store.addRate("FR", "books", "0.055", jan2024, nil)
	rec := newCountingRecorder()
	l := NewRateLookup(store, nil, "", rec, nil)

	got, err := l.FindRate(context.Background(), "FR", "books", jul2025)
	require.NoError(t, err)
	assert.Equal(t, "0.055", got.Rate.String())

	got, err = l.FindRate(context.Background(), "FR", "software", jul2025)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "0.2", got.Rate.String())
	assert.Empty(t, rec.gaps)
}

func TestRateLookup_MissingRateIsNotAnError(t *testing.T) {
	rec := newCountingRecorder()
	l := NewRateLookup(newMemStore(), nil, "", rec, nil)

	got, err := l.FindRate(context.Background(), "GA", "", jul2025)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, []string{"GA"}, rec.gaps)
}

func TestRateLookup_CachesHitsOnly(t *testing.T) {
	store := newMemStore()
	store.addRate("DE", DefaultCategory, "0.19", jan2024, nil)
	rec := newCountingRecorder()
	l := NewRateLookup(store, NewRateCache(time.Hour), "", rec, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := l.FindRate(ctx, "DE", "", jul2025)
		require.NoError(t, err)
		require.NotNil(t, got)
	}
	assert.Equal(t, 1, store.rateQueries)
	assert.Equal(t, 2, rec.cacheHits)
	assert.Equal(t, 1, rec.cacheMisses)

	for i := 0; i < 2; i++ {
		got, err := l.FindRate(ctx, "GA", "", jul2025)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Equal(t, 3, store.rateQueries, "gaps are not cached")
}

type failingRateStore struct{}

func (failingRateStore) FindActiveRate(context.Context, string, string, time.Time) (VatRate, error) {
	return VatRate{}, errors.New("connection refused")
}

func TestRateLookup_StoreErrorPropagates(t *testing.T) {
	l := NewRateLookup(failingRateStore{}, nil, "", nil, nil)

	got, err := l.FindRate(context.Background(), "FR", "", jul2025)
	assert.Nil(t, got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
