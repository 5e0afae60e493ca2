// The seed tool creates the place tables and loads a small sample dataset,
// indexing each place's tags into the Redis reverse index.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/placeflow/placeflow/internal/place"
	"github.com/placeflow/placeflow/pkg/config"
	"github.com/placeflow/placeflow/pkg/logger"
	"github.com/placeflow/placeflow/pkg/postgres"
	"github.com/placeflow/placeflow/pkg/redis"
)

const schema = `
CREATE TABLE IF NOT EXISTS places (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	lat  DOUBLE PRECISION NOT NULL,
	lon  DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS place_tags (
	place_id TEXT NOT NULL REFERENCES places(id),
	tag      TEXT NOT NULL,
	PRIMARY KEY (place_id, tag)
);
`

type seedPlace struct {
	id   string
	name string
	lat  float64
	lon  float64
	tags []string
}

var samplePlaces = []seedPlace{
	{"p-001", "Sunrise Coffee", 36.101, -115.205, []string{"cafe", "coffee_shop"}},
	{"p-002", "Desert Bean Roasters", 36.108, -115.196, []string{"coffee_shop"}},
	{"p-003", "The Copper Tap", 36.095, -115.211, []string{"bar"}},
	{"p-004", "Mesa Verde Grill", 36.112, -115.188, []string{"restaurant", "mexican"}},
	{"p-005", "Lotus Thai Kitchen", 36.104, -115.219, []string{"restaurant", "thai"}},
	{"p-006", "Red Rock Books", 36.099, -115.202, []string{"bookstore"}},
	{"p-007", "Canyon Trail Park", 36.117, -115.207, []string{"park"}},
	{"p-008", "Night Owl Lounge", 36.092, -115.193, []string{"bar", "music_venue"}},
	{"p-009", "Morning Glory Bakery", 36.106, -115.213, []string{"bakery", "cafe"}},
	{"p-010", "Silver State Sushi", 36.110, -115.200, []string{"restaurant", "sushi"}},
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.WithComponent("seed")

	ctx := context.Background()

	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		log.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	if _, err := pg.DB.ExecContext(ctx, schema); err != nil {
		log.Error("creating schema", "error", err)
		os.Exit(1)
	}

	tagIndex := place.NewTagIndex(redisClient)
	err = pg.InTx(ctx, func(tx *sql.Tx) error {
		for _, p := range samplePlaces {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO places (id, name, lat, lon) VALUES ($1, $2, $3, $4)
				 ON CONFLICT (id) DO NOTHING`,
				p.id, p.name, p.lat, p.lon); err != nil {
				return fmt.Errorf("inserting place %s: %w", p.id, err)
			}
			for _, tag := range p.tags {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO place_tags (place_id, tag) VALUES ($1, $2)
					 ON CONFLICT DO NOTHING`,
					p.id, tag); err != nil {
					return fmt.Errorf("inserting tag %s for %s: %w", tag, p.id, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		log.Error("seeding places", "error", err)
		os.Exit(1)
	}

	allTags := make(map[string]struct{})
	for _, p := range samplePlaces {
		for _, tag := range p.tags {
			allTags[tag] = struct{}{}
		}
	}
	tags := make([]string, 0, len(allTags))
	for tag := range allTags {
		tags = append(tags, tag)
	}
	if err := tagIndex.Reset(ctx, tags...); err != nil {
		log.Error("resetting tag index", "error", err)
		os.Exit(1)
	}
	for _, p := range samplePlaces {
		if err := tagIndex.Add(ctx, p.id, p.tags...); err != nil {
			log.Error("indexing place tags", "place_id", p.id, "error", err)
			os.Exit(1)
		}
	}

	log.Info("seed complete", "places", len(samplePlaces))
}
