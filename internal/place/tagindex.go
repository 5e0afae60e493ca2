package place

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"
)

const tagKeyPrefix = "tag:"

// SetStore is the set storage behind the reverse index, backed by Redis sets
// in production. Only single-key operations are used; a concurrent
// read-then-write can drop an id from a lookup, which degrades ranking but
// not safety.
type SetStore interface {
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Del(ctx context.Context, keys ...string) error
}

// TagIndex is the reverse index from tag to the set of place ids carrying
// it. It is shared by all workers and survives restarts.
type TagIndex struct {
	sets  SetStore
	group singleflight.Group
}

// NewTagIndex creates a TagIndex over the given set store.
func NewTagIndex(sets SetStore) *TagIndex {
	return &TagIndex{sets: sets}
}

// IDsForTag returns the place ids registered under the tag. An unknown tag
// yields an empty set, not an error. Concurrent lookups for the same tag are
// collapsed into one set read.
func (t *TagIndex) IDsForTag(ctx context.Context, tag string) ([]string, error) {
	key := tagKey(tag)
	v, err, _ := t.group.Do(key, func() (any, error) {
		return t.sets.SMembers(ctx, key)
	})
	if err != nil {
		return nil, fmt.Errorf("reading reverse index for tag %q: %w", tag, err)
	}
	return v.([]string), nil
}

// Add registers the place id under each tag.
func (t *TagIndex) Add(ctx context.Context, placeID string, tags ...string) error {
	for _, tag := range tags {
		if err := t.sets.SAdd(ctx, tagKey(tag), placeID); err != nil {
			return fmt.Errorf("indexing place %s under tag %q: %w", placeID, tag, err)
		}
	}
	return nil
}

// Reset drops the index entries for the given tags so a reseed starts from
// a clean set instead of accumulating stale ids.
func (t *TagIndex) Reset(ctx context.Context, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, len(tags))
	for i, tag := range tags {
		keys[i] = tagKey(tag)
	}
	if err := t.sets.Del(ctx, keys...); err != nil {
		return fmt.Errorf("resetting reverse index: %w", err)
	}
	return nil
}

func tagKey(tag string) string {
	return tagKeyPrefix + strings.ToLower(strings.TrimSpace(tag))
}
