package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tolatu/internal/audio"
	"github.com/book-expert/tolatu/internal/controller"
	"github.com/book-expert/tolatu/internal/session"
	"github.com/book-expert/tolatu/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticFetcher struct{}

func (staticFetcher) FetchVoices(context.Context) ([]tts.Voice, error) {
	return []tts.Voice{{Name: "Abeo", Gender: "male", Country: "Nigeria", ID: "en-NG-Abeo"}}, nil
}

type staticSpeech struct{}

func (staticSpeech) SynthesizeText(context.Context, string, string) (*tts.Response, error) {
	return &tts.Response{Body: []byte("mp3"), ContentType: "audio/mpeg", Encoding: tts.EncodingBinary}, nil
}

func (staticSpeech) SynthesizeImage(context.Context, tts.Image) (*tts.Response, error) {
	return &tts.Response{Body: []byte("mp3"), ContentType: "audio/mpeg", Encoding: tts.EncodingBinary}, nil
}

func newRegistry(t *testing.T, ttl time.Duration) (*session.Registry, *audio.MemoryStore) {
	t.Helper()

	log, err := logger.New(t.TempDir(), "session.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	store := audio.NewMemoryStore()

	factory := func(ctx context.Context) *controller.Controller {
		ctrl := controller.New(controller.Options{
			Catalog: tts.NewCatalog(staticFetcher{}, nil, "Nigeria", log),
			Speech:  staticSpeech{},
			Audio:   audio.NewManager(store, "/audio", nil),
			Logger:  log,
		})
		ctrl.LoadVoices(ctx)

		return ctrl
	}

	return session.NewRegistry(factory, ttl, log), store
}

func TestRegistry_GetReusesSession(t *testing.T) {
	t.Parallel()

	registry, _ := newRegistry(t, time.Minute)
	ctx := context.Background()

	id, first := registry.Get(ctx, "")
	require.NotEmpty(t, id)

	sameID, second := registry.Get(ctx, id)
	assert.Equal(t, id, sameID)
	assert.Same(t, first, second)

	otherID, third := registry.Get(ctx, "unknown-session")
	assert.NotEqual(t, id, otherID)
	assert.NotSame(t, first, third)
	assert.Equal(t, 2, registry.Len())

	voice, ok := first.SelectedVoice()
	require.True(t, ok)
	assert.Equal(t, "en-NG-Abeo", voice.ID)
}

func TestRegistry_SweepReleasesAudio(t *testing.T) {
	t.Parallel()

	registry, store := newRegistry(t, time.Minute)
	ctx := context.Background()

	_, ctrl := registry.Get(ctx, "")
	_, err := ctrl.SubmitText(ctx, "hello", "")
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	assert.Zero(t, registry.Sweep(ctx, time.Now()))
	assert.Equal(t, 1, registry.Len())

	assert.Equal(t, 1, registry.Sweep(ctx, time.Now().Add(2*time.Minute)))
	assert.Zero(t, registry.Len())
	assert.Zero(t, store.Len())
}

func TestRegistry_RunClosesOnCancel(t *testing.T) {
	t.Parallel()

	registry, store := newRegistry(t, time.Hour)

	_, ctrl := registry.Get(context.Background(), "")
	_, err := ctrl.SubmitImage(context.Background(), tts.Image{Data: []byte("png")})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- registry.Run(ctx, 10*time.Millisecond) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Zero(t, registry.Len())
	assert.Zero(t, store.Len())
}

func TestRegistry_LookupKeepsSessionAlive(t *testing.T) {
	t.Parallel()

	registry, _ := newRegistry(t, time.Minute)
	ctx := context.Background()

	start := time.Now()
	activeID, active := registry.Get(ctx, "")
	idleID, _ := registry.Get(ctx, "")

	time.Sleep(100 * time.Millisecond)

	found, ok := registry.Lookup(activeID)
	require.True(t, ok)
	assert.Same(t, active, found)

	assert.Equal(t, 1, registry.Sweep(ctx, start.Add(time.Minute+50*time.Millisecond)))

	_, ok = registry.Lookup(activeID)
	assert.True(t, ok, "a session seen recently survives the sweep")

	_, ok = registry.Lookup(idleID)
	assert.False(t, ok)
}

func TestRegistry_LookupNeverCreates(t *testing.T) {
	t.Parallel()

	registry, _ := newRegistry(t, time.Minute)

	for _, id := range []string{"", "unknown-session"} {
		ctrl, ok := registry.Lookup(id)
		assert.False(t, ok)
		assert.Nil(t, ctrl)
	}

	assert.Zero(t, registry.Len())
}
