package tts_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/tolatu/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const preferred = "Nigeria"

func TestSortVoices_PreferredFirstThenByName(t *testing.T) {
	t.Parallel()

	voices := []tts.Voice{
		{Name: "Zuri", Country: "Kenya", ID: "1"},
		{Name: "Ezinne", Country: preferred, ID: "2"},
		{Name: "Aria", Country: "United States", ID: "3"},
		{Name: "Abeo", Country: preferred, ID: "4"},
		{Name: "aaron", Country: "Canada", ID: "5"},
	}

	tts.SortVoices(voices, preferred)

	ids := make([]string, 0, len(voices))
	for _, voice := range voices {
		ids = append(ids, voice.ID)
	}

	// Uppercase sorts before lowercase in a byte-wise comparison.
	assert.Equal(t, []string{"4", "2", "3", "1", "5"}, ids)
}

func TestSortVoices_Stable(t *testing.T) {
	t.Parallel()

	voices := []tts.Voice{
		{Name: "Same", Country: "Ghana", ID: "first"},
		{Name: "Same", Country: preferred, ID: "p1"},
		{Name: "Same", Country: "Kenya", ID: "second"},
		{Name: "Same", Country: preferred, ID: "p2"},
	}

	tts.SortVoices(voices, preferred)

	assert.Equal(t, "p1", voices[0].ID)
	assert.Equal(t, "p2", voices[1].ID)
	assert.Equal(t, "first", voices[2].ID)
	assert.Equal(t, "second", voices[3].ID)
}

func TestSortVoices_GroupsAreOrdered(t *testing.T) {
	t.Parallel()

	names := []string{"Kemi", "Ade", "Bola", "Tunde", "Chidi", "Ngozi", "Ada", "Emeka"}
	countries := []string{preferred, "Ghana", "Kenya"}

	rng := rand.New(rand.NewSource(42))

	for range 50 {
		voices := make([]tts.Voice, 0, 12)
		for i := range 12 {
			voices = append(voices, tts.Voice{
				Name:    names[rng.Intn(len(names))],
				Country: countries[rng.Intn(len(countries))],
				ID:      string(rune('a' + i)),
			})
		}

		voices = append(voices,
			tts.Voice{Name: "Fixed", Country: preferred, ID: "p"},
			tts.Voice{Name: "Fixed", Country: "Ghana", ID: "o"},
		)

		tts.SortVoices(voices, preferred)

		seenOther := false

		for i, voice := range voices {
			isPreferred := voice.Country == preferred
			if !isPreferred {
				seenOther = true
			}

			require.False(t, isPreferred && seenOther, "preferred voice after other voices")

			if i > 0 && (voices[i-1].Country == preferred) == isPreferred {
				require.LessOrEqual(t, voices[i-1].Name, voice.Name)
			}
		}
	}
}

func TestVoice_Label(t *testing.T) {
	t.Parallel()

	voice := tts.Voice{Name: "Abeo", Gender: "male", Country: preferred, ID: "en-NG-AbeoNeural"}
	assert.Equal(t, "Abeo (male, Nigeria)", voice.Label())
}

type stubFetcher struct {
	voices []tts.Voice
	err    error
	calls  int
}

func (s *stubFetcher) FetchVoices(context.Context) ([]tts.Voice, error) {
	s.calls++

	return s.voices, s.err
}

type stubCache struct {
	stored []tts.Voice
	hit    bool
}

func (s *stubCache) Get(context.Context) ([]tts.Voice, bool, error) {
	return s.stored, s.hit, nil
}

func (s *stubCache) Set(_ context.Context, voices []tts.Voice) error {
	s.stored = voices
	s.hit = true

	return nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	lg, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = lg.Close() })

	return lg
}

func TestCatalog_LoadSortsAndDefaults(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{voices: []tts.Voice{
		{Name: "Jenny", Country: "United States", ID: "en-US-Jenny"},
		{Name: "Ezinne", Country: preferred, ID: "en-NG-Ezinne"},
	}}

	catalog := tts.NewCatalog(fetcher, nil, preferred, newTestLogger(t))

	_, ok := catalog.Default()
	assert.False(t, ok)

	require.NoError(t, catalog.Load(context.Background()))

	def, ok := catalog.Default()
	require.True(t, ok)
	assert.Equal(t, "en-NG-Ezinne", def.ID)

	found, ok := catalog.Find("en-US-Jenny")
	require.True(t, ok)
	assert.Equal(t, "Jenny", found.Name)

	_, ok = catalog.Find("missing")
	assert.False(t, ok)
	assert.Len(t, catalog.Voices(), 2)
}

func TestCatalog_LoadFailureLeavesEmpty(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{voices: []tts.Voice{{Name: "A", ID: "a"}}}
	catalog := tts.NewCatalog(fetcher, nil, preferred, newTestLogger(t))

	require.NoError(t, catalog.Load(context.Background()))

	fetcher.err = errors.New("connection reset")

	err := catalog.Load(context.Background())
	require.ErrorIs(t, err, tts.ErrCatalogUnavailable)
	assert.Empty(t, catalog.Voices())

	_, ok := catalog.Default()
	assert.False(t, ok)
}

func TestCatalog_UsesCache(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{voices: []tts.Voice{{Name: "A", Country: "Ghana", ID: "a"}}}
	cache := &stubCache{}

	first := tts.NewCatalog(fetcher, cache, preferred, newTestLogger(t))
	require.NoError(t, first.Load(context.Background()))

	second := tts.NewCatalog(fetcher, cache, preferred, newTestLogger(t))
	require.NoError(t, second.Load(context.Background()))

	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, first.Voices(), second.Voices())
}
