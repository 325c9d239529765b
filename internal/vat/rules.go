package vat

import "strings"

// Rule decision reasons. They end up in audit payloads.
const (
	ReasonNoBuyerCountry = "no buyer country, taxing at seller's rate"
	ReasonSameCountry    = "same-country sale"
	ReasonConsumerSale   = "cross-border consumer sale"
	ReasonBelowThreshold = "below reverse-charge threshold"
	ReasonReverseCharge  = "same-region B2B sale at or above threshold"
	ReasonCrossRegion    = "cross-region, reverse charge not applicable"
	ReasonNoThreshold    = "region has no reverse-charge threshold"
)

// RuleInput is everything the resolver looks at.
type RuleInput struct {
	SellerCountry  string
	BuyerCountry   string // empty when unknown
	Amount         int64
	IsB2B          bool
	BuyerVATNumber string
}

// Decision is the resolver's output.
type Decision struct {
	Rule   TaxRule
	Reason string

	// Threshold is set only when a region threshold was compared.
	Threshold    *int64
	SellerRegion Region
	BuyerRegion  Region

	// UnmappedCountry is set when the reverse-charge path met a country
	// missing from the region table.
	UnmappedCountry string
}

// Resolver decides the tax regime of a sale. It performs no I/O and
// returns the same decision for the same input and table.
type Resolver struct {
	regions *RegionTable
}

// NewResolver returns a resolver over the given table. A nil table means
// DefaultRegionTable.
func NewResolver(regions *RegionTable) *Resolver {
	if regions == nil {
		regions = DefaultRegionTable()
	}
	return &Resolver{regions: regions}
}

// Regions exposes the table the resolver was built with.
func (r *Resolver) Regions() *RegionTable { return r.regions }

// Resolve never fails; unknown inputs degrade to destination_based or
// origin_based.
func (r *Resolver) Resolve(in RuleInput) Decision {
	seller := strings.ToUpper(in.SellerCountry)
	buyer := strings.ToUpper(in.BuyerCountry)

	if buyer == "" {
		return Decision{Rule: RuleOriginBased, Reason: ReasonNoBuyerCountry}
	}
	if seller == buyer {
		return Decision{Rule: RuleDestinationBased, Reason: ReasonSameCountry}
	}
	if in.IsB2B && strings.TrimSpace(in.BuyerVATNumber) != "" {
		return r.reverseCharge(seller, buyer, in.Amount)
	}
	return Decision{Rule: RuleDestinationBased, Reason: ReasonConsumerSale}
}

func (r *Resolver) reverseCharge(seller, buyer string, amount int64) Decision {
	d := Decision{
		SellerRegion: r.regions.RegionOf(seller),
		BuyerRegion:  r.regions.RegionOf(buyer),
	}

	switch {
	case d.SellerRegion == RegionNone:
		d.UnmappedCountry = seller
	case d.BuyerRegion == RegionNone:
		d.UnmappedCountry = buyer
	}

	if d.UnmappedCountry != "" || d.SellerRegion != d.BuyerRegion {
		d.Rule = RuleDestinationBased
		d.Reason = ReasonCrossRegion
		return d
	}

	threshold, ok := r.regions.Threshold(d.SellerRegion)
	if !ok {
		d.Rule = RuleDestinationBased
		d.Reason = ReasonNoThreshold
		return d
	}
	d.Threshold = &threshold
	if amount < threshold {
		d.Rule = RuleDestinationBased
		d.Reason = ReasonBelowThreshold
		return d
	}

	d.Rule = RuleReverseCharge
	d.Reason = ReasonReverseCharge
	return d
}
