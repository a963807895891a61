package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "stealth-vision:analysis:"

// ResultCache keeps URL analyses in Redis so repeated requests skip the
// download and inference round trip.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(ctx context.Context, addr, password string, db int, ttl time.Duration) (*ResultCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &ResultCache{client: client, ttl: ttl}, nil
}

// Get implements analysis.Cache.
func (c *ResultCache) Get(ctx context.Context, url string) (string, bool, error) {
	val, err := c.client.Get(ctx, key(url)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set implements analysis.Cache.
func (c *ResultCache) Set(ctx context.Context, url, result string) error {
	return c.client.Set(ctx, key(url), result, c.ttl).Err()
}

// Check implements middleware.HealthChecker.
func (c *ResultCache) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *ResultCache) Close() error {
	return c.client.Close()
}

// key hashes the normalized URL so arbitrary user input never ends up in a key.
func key(url string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(url)))
	return keyPrefix + hex.EncodeToString(sum[:])
}
