package weather

import (
	"context"

	"go.uber.org/zap"
)

// Service is the read path for ad-hoc weather lookups: cache first, provider
// on miss. The cache is optional; without one every read hits the provider.
type Service struct {
	client *Client
	cache  *Cache
	logger *zap.Logger
}

func NewService(client *Client, cache *Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: client, cache: cache, logger: logger}
}

// Current returns the current conditions for a named place, serving from the
// cache when the entry is still fresh.
func (s *Service) Current(ctx context.Context, placeName string, lat, lon float64) (*CurrentConditions, error) {
	if s.cache != nil {
		if conditions, ok := s.cache.GetCurrent(ctx, placeName); ok {
			return conditions, nil
		}
	}

	conditions, err := s.client.FetchCurrent(ctx, lat, lon)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetCurrent(ctx, placeName, conditions)
	}

	return conditions, nil
}
