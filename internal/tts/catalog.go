package tts

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/book-expert/logger"
)

// VoiceFetcher retrieves the raw voice list from the backend.
type VoiceFetcher interface {
	FetchVoices(ctx context.Context) ([]Voice, error)
}

// VoiceCache stores a fetched voice list between loads.
type VoiceCache interface {
	Get(ctx context.Context) ([]Voice, bool, error)
	Set(ctx context.Context, voices []Voice) error
}

// Catalog holds the sorted voice list of one session. It is read-only after
// a successful Load.
type Catalog struct {
	fetcher   VoiceFetcher
	cache     VoiceCache
	preferred string
	log       *logger.Logger

	mu     sync.RWMutex
	voices []Voice
}

// NewCatalog creates an empty catalog. cache may be nil.
func NewCatalog(fetcher VoiceFetcher, cache VoiceCache, preferredCountry string, log *logger.Logger) *Catalog {
	return &Catalog{
		fetcher:   fetcher,
		cache:     cache,
		preferred: preferredCountry,
		log:       log,
	}
}

// Load fetches, sorts and stores the voice list. On failure the catalog is
// left empty and the returned error wraps ErrCatalogUnavailable.
func (c *Catalog) Load(ctx context.Context) error {
	voices, err := c.lookup(ctx)
	if err != nil {
		c.mu.Lock()
		c.voices = nil
		c.mu.Unlock()

		return err
	}

	SortVoices(voices, c.preferred)

	c.mu.Lock()
	c.voices = voices
	c.mu.Unlock()

	return nil
}

// Voices returns a copy of the sorted voice list.
func (c *Catalog) Voices() []Voice {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.voices)
}

// Default returns the first sorted voice, if any.
func (c *Catalog) Default() (Voice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.voices) == 0 {
		return Voice{}, false
	}

	return c.voices[0], true
}

// Find returns the voice with the given identifier.
func (c *Catalog) Find(id string) (Voice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, voice := range c.voices {
		if voice.ID == id {
			return voice, true
		}
	}

	return Voice{}, false
}

func (c *Catalog) lookup(ctx context.Context) ([]Voice, error) {
	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx)
		if err != nil {
			c.log.Warn("Voice cache read failed: %v", err)
		} else if ok {
			return normalizeVoices(cached), nil
		}
	}

	voices, err := c.fetcher.FetchVoices(ctx)
	if err != nil {
		if !errors.Is(err, ErrCatalogUnavailable) {
			err = fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
		}

		c.log.Error("Failed to fetch voices: %v", err)

		return nil, err
	}

	if c.cache != nil {
		setErr := c.cache.Set(ctx, voices)
		if setErr != nil {
			c.log.Warn("Voice cache write failed: %v", setErr)
		}
	}

	c.log.Info("Loaded %d voices", len(voices))

	return voices, nil
}
