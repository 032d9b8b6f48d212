package geo

import (
	"context"
	"time"

	"github.com/quotehive/quotehive/internal/cache"
)

// Postcode coordinates effectively never change, so a long TTL is safe.
const geocodeTTL = 24 * time.Hour

// CachingGeocoder memoizes successful lookups per normalized postcode.
// Failures are never cached; a flaky upstream should stay retryable.
type CachingGeocoder struct {
	next      Geocoder
	locations cache.Cache[string, Location]
}

func NewCachingGeocoder(next Geocoder) *CachingGeocoder {
	return &CachingGeocoder{
		next:      next,
		locations: cache.NewTTLCache[string, Location](),
	}
}

func (g *CachingGeocoder) Lookup(ctx context.Context, postcode string) (*Location, error) {
	key := NormalizePostcode(postcode)
	if key == "" {
		return nil, ErrPostcodeNotFound
	}

	if loc, ok := g.locations.Get(key); ok {
		return &loc, nil
	}

	loc, err := g.next.Lookup(ctx, postcode)
	if err != nil {
		return nil, err
	}
	g.locations.Set(key, *loc, geocodeTTL)
	return loc, nil
}
