// Package cache keeps the backend voice catalog in Redis so that page loads
// across sessions and restarts do not each hit the voice-listing endpoint.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/tolatu/internal/tts"
	"github.com/redis/go-redis/v9"
)

const defaultTTL = time.Hour

// ErrAddrEmpty is returned when no Redis address is configured.
var ErrAddrEmpty = errors.New("redis address required")

// Options configure a VoiceCache.
type Options struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// VoiceCache implements tts.VoiceCache on top of a Redis key.
type VoiceCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewVoiceCache connects to Redis and verifies the connection.
func NewVoiceCache(ctx context.Context, opts Options) (*VoiceCache, error) {
	if opts.Addr == "" {
		return nil, ErrAddrEmpty
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	err := client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &VoiceCache{
		client: client,
		key:    opts.Key,
		ttl:    ttl,
	}, nil
}

// Get returns the cached voices. ok is false on a miss.
func (c *VoiceCache) Get(ctx context.Context) ([]tts.Voice, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to read voice cache: %w", err)
	}

	var voices []tts.Voice

	err = json.Unmarshal(raw, &voices)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode voice cache: %w", err)
	}

	return voices, true, nil
}

// Set stores voices for the configured TTL.
func (c *VoiceCache) Set(ctx context.Context, voices []tts.Voice) error {
	data, err := json.Marshal(voices)
	if err != nil {
		return fmt.Errorf("failed to encode voice cache: %w", err)
	}

	err = c.client.Set(ctx, c.key, data, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to write voice cache: %w", err)
	}

	return nil
}

// Invalidate removes the cached catalog.
func (c *VoiceCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}

// Close closes the Redis client.
func (c *VoiceCache) Close() error {
	return c.client.Close()
}
