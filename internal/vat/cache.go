package vat

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const rateCacheKeyPrefix = "vat_rate:v1"

// RateCache is a TTL cache of resolved rates keyed by country, category
// and calendar day. go-cache is safe for concurrent use; concurrent misses
// on the same key simply populate it twice.
type RateCache struct {
	cache *gocache.Cache
	ttl   time.Duration
}

// NewRateCache creates a cache whose entries expire after ttl. Expired
// entries are swept every 2*ttl.
func NewRateCache(ttl time.Duration) *RateCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RateCache{
		cache: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// Get returns a copy of the cached rate, if any.
func (c *RateCache) Get(country, category string, asOf time.Time) (VatRate, bool) {
	v, ok := c.cache.Get(rateCacheKey(country, category, asOf))
	if !ok {
		return VatRate{}, false
	}
	rate, ok := v.(VatRate)
	return rate, ok
}

// Set stores a rate under the given lookup key.
func (c *RateCache) Set(country, category string, asOf time.Time, rate VatRate) {
	c.cache.Set(rateCacheKey(country, category, asOf), rate, gocache.DefaultExpiration)
}

// InvalidateCountry drops every cached entry of a country, whatever the
// category or day.
func (c *RateCache) InvalidateCountry(country string) {
	prefix := rateCacheKeyPrefix + ":" + strings.ToUpper(country) + ":"
	for k := range c.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			c.cache.Delete(k)
		}
	}
}

// Flush empties the cache.
func (c *RateCache) Flush() {
	c.cache.Flush()
}

// Len returns the number of entries, expired ones included until swept.
func (c *RateCache) Len() int {
	return c.cache.ItemCount()
}

func rateCacheKey(country, category string, asOf time.Time) string {
	return strings.Join([]string{
		rateCacheKeyPrefix,
		strings.ToUpper(country),
		category,
		asOf.UTC().Format("2006-01-02"),
	}, ":")
}
