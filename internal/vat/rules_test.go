package vat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_DecisionOrder(t *testing.T) {
	r := NewResolver(DefaultRegionTable())

	tests := []struct {
		name       string
		in         RuleInput
		wantRule   TaxRule
		wantReason string
	}{
		{
			name:       "no buyer country",
			in:         RuleInput{SellerCountry: "GA", Amount: 10000},
			wantRule:   RuleOriginBased,
			wantReason: ReasonNoBuyerCountry,
		},
		{
			name:       "same country even when B2B",
			in:         RuleInput{SellerCountry: "FR", BuyerCountry: "fr", Amount: 50000, IsB2B: true, BuyerVATNumber: "FR1"},
			wantRule:   RuleDestinationBased,
			wantReason: ReasonSameCountry,
		},
		{
			name:       "cross-border consumer",
			in:         RuleInput{SellerCountry: "GA", BuyerCountry: "FR", Amount: 10000},
			wantRule:   RuleDestinationBased,
			wantReason: ReasonConsumerSale,
		},
		{
			name:       "B2B flag without number",
			in:         RuleInput{SellerCountry: "FR", BuyerCountry: "DE", Amount: 50000, IsB2B: true},
			wantRule:   RuleDestinationBased,
			wantReason: ReasonConsumerSale,
		},
		{
			name:       "EU B2B above threshold",
			in:         RuleInput{SellerCountry: "FR", BuyerCountry: "DE", Amount: 50000, IsB2B: true, BuyerVATNumber: "DE123456789"},
			wantRule:   RuleReverseCharge,
			wantReason: ReasonReverseCharge,
		},
		{
			name:       "EU B2B below threshold",
			in:         RuleInput{SellerCountry: "FR", BuyerCountry: "DE", Amount: 5000, IsB2B: true, BuyerVATNumber: "DE123456789"},
			wantRule:   RuleDestinationBased,
			wantReason: ReasonBelowThreshold,
		},
		{
			name:       "cross region B2B",
			in:         RuleInput{SellerCountry: "GA", BuyerCountry: "FR", Amount: 900000, IsB2B: true, BuyerVATNumber: "FR123"},
			wantRule:   RuleDestinationBased,
			wantReason: ReasonCrossRegion,
		},
		{
			name:       "CEMAC B2B",
			in:         RuleInput{SellerCountry: "GA", BuyerCountry: "CM", Amount: 500000, IsB2B: true, BuyerVATNumber: "M123"},
			wantRule:   RuleReverseCharge,
			wantReason: ReasonReverseCharge,
		},
		{
			name:       "both unmapped",
			in:         RuleInput{SellerCountry: "US", BuyerCountry: "CA", Amount: 900000, IsB2B: true, BuyerVATNumber: "X1"},
			wantRule:   RuleDestinationBased,
			wantReason: ReasonCrossRegion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Resolve(tt.in)
			assert.Equal(t, tt.wantRule, d.Rule)
			assert.Equal(t, tt.wantReason, d.Reason)
		})
	}
}

func TestResolver_ThresholdBoundary(t *testing.T) {
	r := NewResolver(nil)
	table := r.Regions()

	pairs := map[Region][2]string{
		RegionEU:    {"FR", "DE"},
		RegionCEMAC: {"GA", "CM"},
		RegionUEMOA: {"SN", "CI"},
		RegionEAC:   {"KE", "UG"},
		RegionSADC:  {"ZA", "BW"},
	}
	for region, pair := range pairs {
		threshold, ok := table.Threshold(region)
		require.True(t, ok, region)
		require.Positive(t, threshold, region)

		at := r.Resolve(RuleInput{SellerCountry: pair[0], BuyerCountry: pair[1], Amount: threshold, IsB2B: true, BuyerVATNumber: "VAT1"})
		assert.Equal(t, RuleReverseCharge, at.Rule, "%s at threshold", region)
		require.NotNil(t, at.Threshold)
		assert.Equal(t, threshold, *at.Threshold)

		below := r.Resolve(RuleInput{SellerCountry: pair[0], BuyerCountry: pair[1], Amount: threshold - 1, IsB2B: true, BuyerVATNumber: "VAT1"})
		assert.Equal(t, RuleDestinationBased, below.Rule, "%s below threshold", region)
		assert.Equal(t, ReasonBelowThreshold, below.Reason)
	}
}

func TestResolver_UnmappedCountryIsReported(t *testing.T) {
	r := NewResolver(nil)

	d := r.Resolve(RuleInput{SellerCountry: "FR", BuyerCountry: "US", Amount: 50000, IsB2B: true, BuyerVATNumber: "US1"})
	assert.Equal(t, RuleDestinationBased, d.Rule)
	assert.Equal(t, "US", d.UnmappedCountry)
	assert.Equal(t, RegionEU, d.SellerRegion)
	assert.Equal(t, RegionNone, d.BuyerRegion)
	assert.Nil(t, d.Threshold)

	// Consumer sales never consult the region table.
	d = r.Resolve(RuleInput{SellerCountry: "FR", BuyerCountry: "US", Amount: 50000})
	assert.Empty(t, d.UnmappedCountry)
}

func TestResolver_IsDeterministic(t *testing.T) {
	r := NewResolver(nil)
	in := RuleInput{SellerCountry: "FR", BuyerCountry: "DE", Amount: 10000, IsB2B: true, BuyerVATNumber: "DE123456789"}

	first := r.Resolve(in)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, r.Resolve(in))
	}
}

func TestResolver_UsesInjectedTable(t *testing.T) {
	table, err := NewRegionTable("test-1", map[string]Region{"US": "NAFTA", "CA": "NAFTA"}, map[Region]int64{"NAFTA": 100})
	require.NoError(t, err)
	r := NewResolver(table)

	d := r.Resolve(RuleInput{SellerCountry: "US", BuyerCountry: "CA", Amount: 100, IsB2B: true, BuyerVATNumber: "CA1"})
	assert.Equal(t, RuleReverseCharge, d.Rule)

	// FR/DE are unknown to this table.
	d = r.Resolve(RuleInput{SellerCountry: "FR", BuyerCountry: "DE", Amount: 50000, IsB2B: true, BuyerVATNumber: "DE1"})
	assert.Equal(t, RuleDestinationBased, d.Rule)
	assert.Equal(t, ReasonCrossRegion, d.Reason)
}

func TestResolver_RegionWithoutThresholdKeepsVAT(t *testing.T) {
	// Tables built through NewRegionTable cannot lack a threshold; this one
	// bypasses the constructor.
	table := &RegionTable{
		version:    "partial",
		countries:  map[string]Region{"FR": RegionEU, "DE": RegionEU},
		thresholds: map[Region]int64{RegionNone: 0},
	}
	r := NewResolver(table)

	d := r.Resolve(RuleInput{SellerCountry: "FR", BuyerCountry: "DE", Amount: 1, IsB2B: true, BuyerVATNumber: "DE1"})
	assert.Equal(t, RuleDestinationBased, d.Rule)
	assert.Equal(t, ReasonNoThreshold, d.Reason)
	assert.Nil(t, d.Threshold)
}
