package place

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/placeflow/placeflow/pkg/postgres"
)

// defaultLimit caps how many places a single lookup returns.
const defaultLimit = 20

// haversine distance in kilometers between ($1, $2) and the row's
// coordinates.
const distanceExpr = `6371 * 2 * asin(sqrt(
	power(sin(radians(($1 - lat) / 2)), 2) +
	cos(radians($1)) * cos(radians(lat)) *
	power(sin(radians(($2 - lon) / 2)), 2)))`

// PGStore is the PostgreSQL-backed place store.
type PGStore struct {
	db     *postgres.Client
	limit  int
	logger *slog.Logger
}

// NewPGStore creates a PGStore. limit bounds result sizes; <=0 uses the
// default.
func NewPGStore(db *postgres.Client, limit int) *PGStore {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &PGStore{
		db:     db,
		limit:  limit,
		logger: slog.Default().With("component", "place-store"),
	}
}

func (s *PGStore) ByGeoAndIDs(ctx context.Context, lat, lon, radiusKm float64, ids []string) ([]Place, error) {
	query := fmt.Sprintf(`
		SELECT id, name, lat, lon, dist FROM (
			SELECT id, name, lat, lon, %s AS dist
			FROM places
			WHERE id = ANY($3)
		) candidates
		WHERE dist <= $4
		ORDER BY dist ASC
		LIMIT $5`, distanceExpr)

	rows, err := s.db.DB.QueryContext(ctx, query, lat, lon, pq.Array(ids), radiusKm, s.limit)
	if err != nil {
		return nil, fmt.Errorf("querying places by geo and ids: %w", err)
	}
	defer rows.Close()
	return scanPlaces(rows)
}

func (s *PGStore) RandomByGeo(ctx context.Context, lat, lon, radiusKm float64) ([]Place, error) {
	query := fmt.Sprintf(`
		SELECT id, name, lat, lon, dist FROM (
			SELECT id, name, lat, lon, %s AS dist
			FROM places
		) candidates
		WHERE dist <= $3
		ORDER BY random()
		LIMIT $4`, distanceExpr)

	rows, err := s.db.DB.QueryContext(ctx, query, lat, lon, radiusKm, s.limit)
	if err != nil {
		return nil, fmt.Errorf("querying random places by geo: %w", err)
	}
	defer rows.Close()
	return scanPlaces(rows)
}

func (s *PGStore) TagsFor(ctx context.Context, ids []string) (map[string][]string, error) {
	if len(ids) == 0 {
		return map[string][]string{}, nil
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT place_id, tag FROM place_tags WHERE place_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("querying place tags: %w", err)
	}
	defer rows.Close()

	tags := make(map[string][]string)
	for rows.Next() {
		var placeID, tag string
		if err := rows.Scan(&placeID, &tag); err != nil {
			return nil, fmt.Errorf("scanning place tag: %w", err)
		}
		tags[placeID] = append(tags[placeID], tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating place tags: %w", err)
	}
	return tags, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPlaces(rows rowScanner) ([]Place, error) {
	var places []Place
	for rows.Next() {
		var p Place
		if err := rows.Scan(&p.ID, &p.Name, &p.Lat, &p.Lon, &p.DistanceKm); err != nil {
			return nil, fmt.Errorf("scanning place row: %w", err)
		}
		places = append(places, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating place rows: %w", err)
	}
	return places, nil
}
