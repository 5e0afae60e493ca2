// Package place provides the persistent place store and the tag reverse
// index that the lookup stage queries.
package place

import "context"

// Place is one stored location. DistanceKm is populated by geo queries
// relative to the query point.
type Place struct {
	ID         string
	Name       string
	Lat        float64
	Lon        float64
	DistanceKm float64
}

// Store is the persistent geo store queried by the lookup stage.
type Store interface {
	// ByGeoAndIDs returns places within radiusKm of (lat, lon) restricted to
	// the given ids, ordered by distance ascending.
	ByGeoAndIDs(ctx context.Context, lat, lon, radiusKm float64, ids []string) ([]Place, error)
	// RandomByGeo returns a randomized selection of places within radiusKm
	// of (lat, lon); the pure-geo fallback when no candidate ids exist.
	RandomByGeo(ctx context.Context, lat, lon, radiusKm float64) ([]Place, error)
	// TagsFor returns the tags of each given place id. Ids without tags are
	// simply absent from the map.
	TagsFor(ctx context.Context, ids []string) (map[string][]string, error)
}
