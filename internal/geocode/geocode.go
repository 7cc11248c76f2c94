package geocode

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"resbac/internal/models"
)

var ErrNoResult = errors.New("no address for coordinate")

// Cache holds addresses by coordinate key.
type Cache interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Remember(ctx context.Context, key, address string) error
}

// Provider resolves a coordinate to a human address.
type Provider interface {
	Name() string
	Reverse(ctx context.Context, c models.Coordinate) (string, error)
}

// Geocoder resolves addresses through a cache. Cached entries never expire.
type Geocoder struct {
	provider Provider
	cache    Cache
	logger   *zap.Logger
}

func New(provider Provider, cache Cache, logger *zap.Logger) *Geocoder {
	return &Geocoder{provider: provider, cache: cache, logger: logger}
}

// Address returns the address for c. It never fails: when the provider cannot
// answer, the coordinate label is returned and nothing is cached.
func (g *Geocoder) Address(ctx context.Context, c models.Coordinate) string {
	key := c.Key()
	if g.cache != nil {
		addr, ok, err := g.cache.Lookup(ctx, key)
		if err != nil {
			g.logger.Warn("Geocode cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return addr
		}
	}

	addr, err := g.provider.Reverse(ctx, c)
	if err != nil {
		g.logger.Warn("Reverse geocoding failed",
			zap.String("provider", g.provider.Name()), zap.String("key", key), zap.Error(err))
		return c.Label()
	}

	if g.cache != nil {
		if err := g.cache.Remember(ctx, key, addr); err != nil {
			g.logger.Warn("Geocode cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return addr
}
