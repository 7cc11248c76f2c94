package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GeocodeCache keeps reverse-geocoded addresses by "lat,lng" key with no expiry.
type GeocodeCache struct {
	s        *Store
	provider string
}

func (s *Store) GeocodeCache(provider string) *GeocodeCache {
	return &GeocodeCache{s: s, provider: provider}
}

func (c *GeocodeCache) Lookup(ctx context.Context, key string) (string, bool, error) {
	var addr string
	err := c.s.db.GetContext(ctx, &addr, `SELECT address FROM geocode_cache WHERE coord_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read geocode cache: %w", err)
	}
	return addr, true, nil
}

// Remember writes an address. Concurrent writers of the same key are last-write-wins.
func (c *GeocodeCache) Remember(ctx context.Context, key, address string) error {
	_, err := c.s.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (coord_key, address, provider, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(coord_key) DO UPDATE SET address = excluded.address, provider = excluded.provider`,
		key, address, c.provider, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write geocode cache: %w", err)
	}
	return nil
}
