package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tablio.com/tablio/pos/model"
)

// CacheMenu replaces the cached menu snapshot.
func (s *Store) CacheMenu(ctx context.Context, payload json.RawMessage) error {
	return s.cacheResource(ctx, model.ResourceMenu, payload)
}

// CachedMenu returns the cached menu, or ErrNotFound when the slot is empty
// or older than the menu TTL.
func (s *Store) CachedMenu(ctx context.Context) (json.RawMessage, error) {
	return s.cachedResource(ctx, model.ResourceMenu)
}

// CacheTables replaces the cached table layout snapshot.
func (s *Store) CacheTables(ctx context.Context, payload json.RawMessage) error {
	return s.cacheResource(ctx, model.ResourceTables, payload)
}

// CachedTables returns the cached table layout within its TTL.
func (s *Store) CachedTables(ctx context.Context) (json.RawMessage, error) {
	return s.cachedResource(ctx, model.ResourceTables)
}

// CacheSettings replaces the cached tenant settings snapshot.
func (s *Store) CacheSettings(ctx context.Context, payload json.RawMessage) error {
	return s.cacheResource(ctx, model.ResourceSettings, payload)
}

// CachedSettings returns the cached tenant settings within their TTL.
func (s *Store) CachedSettings(ctx context.Context) (json.RawMessage, error) {
	return s.cachedResource(ctx, model.ResourceSettings)
}

// CacheResource writes a cache slot by resource name; unknown resources are
// rejected.
func (s *Store) CacheResource(ctx context.Context, resource string, payload json.RawMessage) error {
	if _, ok := s.ttls[resource]; !ok {
		return fmt.Errorf("unknown cache resource %q", resource)
	}
	return s.cacheResource(ctx, resource, payload)
}

// CachedResource reads a cache slot by resource name, honoring its TTL.
func (s *Store) CachedResource(ctx context.Context, resource string) (json.RawMessage, error) {
	if _, ok := s.ttls[resource]; !ok {
		return nil, fmt.Errorf("unknown cache resource %q", resource)
	}
	return s.cachedResource(ctx, resource)
}

func (s *Store) cacheResource(ctx context.Context, resource string, payload json.RawMessage) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	entry := model.CacheEntry{
		Resource:  resource,
		Payload:   payload,
		UpdatedAt: s.now(),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource"}},
		UpdateAll: true,
	}).Create(&entry).Error; err != nil {
		return fmt.Errorf("cache %s: %w", resource, err)
	}
	return nil
}

// An expired entry is treated as absent, never served stale.
func (s *Store) cachedResource(ctx context.Context, resource string) (json.RawMessage, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var entry model.CacheEntry
	if err := db.First(&entry, "resource = ?", resource).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("cache %s: %w", resource, ErrNotFound)
		}
		return nil, fmt.Errorf("read cache %s: %w", resource, err)
	}

	if s.now().Sub(entry.UpdatedAt) > s.ttls[resource] {
		return nil, fmt.Errorf("cache %s expired: %w", resource, ErrNotFound)
	}
	return entry.Payload, nil
}
