package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache keeps recently fetched current conditions in redis so ad-hoc weather
// reads do not hammer the provider between scheduled refreshes. All cache
// failures are soft: the caller falls through to a direct fetch.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCache(addr, password string, db int, ttl time.Duration, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Cache{client: client, ttl: ttl, logger: logger}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func cacheKey(placeName string) string {
	return "weather:current:" + strings.ToLower(placeName)
}

// GetCurrent returns the cached conditions for a place, or false on miss.
func (c *Cache) GetCurrent(ctx context.Context, placeName string) (*CurrentConditions, bool) {
	payload, err := c.client.Get(ctx, cacheKey(placeName)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("place", placeName), zap.Error(err))
		return nil, false
	}

	var conditions CurrentConditions
	if err := json.Unmarshal(payload, &conditions); err != nil {
		c.logger.Warn("cache entry corrupt", zap.String("place", placeName), zap.Error(err))
		return nil, false
	}

	return &conditions, true
}

// SetCurrent stores conditions for a place under the configured TTL.
func (c *Cache) SetCurrent(ctx context.Context, placeName string, conditions *CurrentConditions) {
	payload, err := json.Marshal(conditions)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(placeName), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("place", placeName), zap.Error(err))
	}
}
