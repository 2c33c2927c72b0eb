package controller_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tolatu/internal/audio"
	"github.com/book-expert/tolatu/internal/controller"
	"github.com/book-expert/tolatu/internal/flow"
	"github.com/book-expert/tolatu/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockFetch = errors.New("mock fetch error")

type mockFetcher struct {
	voices []tts.Voice
	err    error
}

func (m *mockFetcher) FetchVoices(context.Context) ([]tts.Voice, error) {
	return m.voices, m.err
}

// mockSpeech records calls. Text calls signal started and block until
// release is closed when those channels are set.
type mockSpeech struct {
	mu        sync.Mutex
	textCalls int
	imgCalls  int
	lastVoice string
	response  *tts.Response
	err       error
	started   chan struct{}
	release   chan struct{}
}

func (m *mockSpeech) SynthesizeText(ctx context.Context, _ string, voiceID string) (*tts.Response, error) {
	m.mu.Lock()
	m.textCalls++
	m.lastVoice = voiceID
	m.mu.Unlock()

	return m.wait(ctx)
}

func (m *mockSpeech) SynthesizeImage(ctx context.Context, _ tts.Image) (*tts.Response, error) {
	m.mu.Lock()
	m.imgCalls++
	m.mu.Unlock()

	return m.response, m.err
}

func (m *mockSpeech) wait(ctx context.Context) (*tts.Response, error) {
	if m.started != nil {
		m.started <- struct{}{}
	}

	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return m.response, m.err
}

func binaryResponse() *tts.Response {
	return &tts.Response{Body: []byte("mp3"), ContentType: "audio/mpeg", Encoding: tts.EncodingBinary}
}

func setupController(t *testing.T, speech *mockSpeech, fetcher *mockFetcher) (*controller.Controller, *audio.MemoryStore) {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	if fetcher == nil {
		fetcher = &mockFetcher{voices: []tts.Voice{
			{Name: "Jenny", Gender: "female", Country: "United States", ID: "en-US-Jenny"},
			{Name: "Abeo", Gender: "male", Country: "Nigeria", ID: "en-NG-Abeo"},
		}}
	}

	store := audio.NewMemoryStore()

	ctrl := controller.New(controller.Options{
		Catalog: tts.NewCatalog(fetcher, nil, "Nigeria", log),
		Speech:  speech,
		Audio:   audio.NewManager(store, "/audio", []string{"audio"}),
		Logger:  log,
	})
	ctrl.LoadVoices(context.Background())

	return ctrl, store
}

func TestController_LoadVoicesSelectsDefault(t *testing.T) {
	t.Parallel()

	ctrl, _ := setupController(t, &mockSpeech{}, nil)

	voice, ok := ctrl.SelectedVoice()
	require.True(t, ok)
	assert.Equal(t, "en-NG-Abeo", voice.ID)
	assert.Empty(t, ctrl.Notice())

	require.NoError(t, ctrl.SelectVoice("en-US-Jenny"))
	require.ErrorIs(t, ctrl.SelectVoice("nope"), controller.ErrUnknownVoice)

	voice, _ = ctrl.SelectedVoice()
	assert.Equal(t, "en-US-Jenny", voice.ID)
}

func TestController_CatalogUnavailable(t *testing.T) {
	t.Parallel()

	speech := &mockSpeech{response: binaryResponse()}
	ctrl, _ := setupController(t, speech, &mockFetcher{err: errMockFetch})

	assert.NotEmpty(t, ctrl.Notice())
	assert.Empty(t, ctrl.Voices())

	_, ok := ctrl.SelectedVoice()
	assert.False(t, ok)
	assert.False(t, ctrl.CanSubmitText("hello"))

	view, err := ctrl.SubmitText(context.Background(), "hello", "")
	require.NoError(t, err)
	assert.Equal(t, flow.Idle, view.State)
	assert.NotEmpty(t, view.Message)
	assert.Zero(t, speech.textCalls)
}

func TestController_SubmitText_Success(t *testing.T) {
	t.Parallel()

	speech := &mockSpeech{response: binaryResponse()}
	ctrl, store := setupController(t, speech, nil)

	view, err := ctrl.SubmitText(context.Background(), "Good morning", "")
	require.NoError(t, err)

	assert.Equal(t, flow.Succeeded, view.State)
	require.NotNil(t, view.Audio)
	assert.Equal(t, "generated.mp3", view.Audio.DownloadName)
	assert.Equal(t, "en-NG-Abeo", speech.lastVoice)
	assert.Equal(t, 1, store.Len())

	_, err = ctrl.SubmitText(context.Background(), "Good evening", "en-US-Jenny")
	require.NoError(t, err)
	assert.Equal(t, "en-US-Jenny", speech.lastVoice)
	assert.Equal(t, 1, store.Len(), "the superseded resource is released")

	require.NoError(t, ctrl.Close(context.Background()))
	assert.Zero(t, store.Len())
}

func TestController_SubmitText_BlankMakesNoCall(t *testing.T) {
	t.Parallel()

	speech := &mockSpeech{response: binaryResponse()}
	ctrl, _ := setupController(t, speech, nil)

	for _, text := range []string{"", "   "} {
		view, err := ctrl.SubmitText(context.Background(), text, "")
		require.NoError(t, err)
		assert.Equal(t, flow.Idle, view.State)
		assert.Equal(t, "Please enter some text to convert.", view.Message)
	}

	assert.Zero(t, speech.textCalls)
}

func TestController_SubmitText_BackendErrorMessage(t *testing.T) {
	t.Parallel()

	speech := &mockSpeech{err: &tts.BackendError{StatusCode: 500, Detail: "voice not found"}}
	ctrl, _ := setupController(t, speech, nil)

	view, err := ctrl.SubmitText(context.Background(), "hello", "")
	require.NoError(t, err)

	assert.Equal(t, flow.Failed, view.State)
	assert.Contains(t, view.Message, "500")
	assert.Contains(t, view.Message, "voice not found")
	assert.True(t, ctrl.CanSubmitText("hello"), "submit stays usable after a failure")
}

func TestController_LongInputAdvisory(t *testing.T) {
	t.Parallel()

	speech := &mockSpeech{response: binaryResponse()}
	ctrl, _ := setupController(t, speech, nil)

	view, err := ctrl.SubmitText(context.Background(), strings.Repeat("a", 200), "")
	require.NoError(t, err)
	assert.Equal(t, flow.Succeeded, view.State)
	assert.False(t, view.LongInput)

	view, err = ctrl.SubmitText(context.Background(), strings.Repeat("a", 201), "")
	require.NoError(t, err)
	assert.True(t, view.LongInput)

	speech.err = tts.ErrNetwork
	view, err = ctrl.SubmitText(context.Background(), strings.Repeat("b", 250), "")
	require.NoError(t, err)
	assert.Equal(t, flow.Failed, view.State)
	assert.True(t, view.LongInput)
}

func TestController_RejectsConcurrentSubmitInSameFlow(t *testing.T) {
	t.Parallel()

	speech := &mockSpeech{
		response: binaryResponse(),
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	ctrl, _ := setupController(t, speech, nil)

	done := make(chan flow.View, 1)

	go func() {
		view, _ := ctrl.SubmitText(context.Background(), "first", "")
		done <- view
	}()

	select {
	case <-speech.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first submission never reached the backend")
	}

	view, err := ctrl.SubmitText(context.Background(), "second", "")
	require.ErrorIs(t, err, flow.ErrBusy)
	assert.True(t, view.Busy)

	// An empty submission while busy is also refused rather than reset to idle.
	_, err = ctrl.SubmitText(context.Background(), "", "")
	require.ErrorIs(t, err, flow.ErrBusy)

	// The image flow is independent of the text flow.
	imageView, err := ctrl.SubmitImage(context.Background(), tts.Image{Data: []byte("png")})
	require.NoError(t, err)
	assert.Equal(t, flow.Succeeded, imageView.State)

	close(speech.release)

	final := <-done
	assert.Equal(t, flow.Succeeded, final.State)
	assert.Equal(t, 1, speech.textCalls)
}

func TestController_CloseDuringSubmitReleasesLateAudio(t *testing.T) {
	t.Parallel()

	speech := &mockSpeech{
		response: binaryResponse(),
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	ctrl, store := setupController(t, speech, nil)

	done := make(chan flow.View, 1)

	go func() {
		view, _ := ctrl.SubmitText(context.Background(), "hello", "")
		done <- view
	}()

	select {
	case <-speech.started:
	case <-time.After(5 * time.Second):
		t.Fatal("submission never reached the backend")
	}

	require.NoError(t, ctrl.Close(context.Background()))
	close(speech.release)

	final := <-done
	assert.False(t, final.Busy)
	assert.Nil(t, final.Audio)
	assert.Zero(t, store.Len(), "audio finished after close must not stay in the store")
}

func TestController_SubmitImage(t *testing.T) {
	t.Parallel()

	speech := &mockSpeech{response: &tts.Response{
		Body:     []byte(`{"audio":"SUQzBAA="}`),
		Encoding: tts.EncodingEmbedded,
	}}
	ctrl, store := setupController(t, speech, nil)

	view, err := ctrl.SubmitImage(context.Background(), tts.Image{})
	require.NoError(t, err)
	assert.Equal(t, flow.Idle, view.State)
	assert.Equal(t, "Please select an image first.", view.Message)
	assert.Zero(t, speech.imgCalls)

	view, err = ctrl.SubmitImage(context.Background(), tts.Image{Data: []byte("png"), Name: "a.png"})
	require.NoError(t, err)
	assert.Equal(t, flow.Succeeded, view.State)
	require.NotNil(t, view.Audio)
	assert.True(t, strings.HasPrefix(view.Audio.SourceURL, "data:audio/mpeg;base64,"))
	assert.Equal(t, "image_speech.mp3", view.Audio.DownloadName)
	assert.Zero(t, store.Len())

	speech.response = &tts.Response{Body: []byte(`{"caption":"no audio"}`), Encoding: tts.EncodingEmbedded}

	view, err = ctrl.SubmitImage(context.Background(), tts.Image{Data: []byte("png")})
	require.NoError(t, err)
	assert.Equal(t, flow.Failed, view.State)
	assert.NotEmpty(t, view.Message)
}

func TestMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Request failed (status 500): voice not found",
		controller.Message(&tts.BackendError{StatusCode: 500, Detail: "voice not found"}))
	assert.Equal(t, "Request failed (status 503).",
		controller.Message(&tts.BackendError{StatusCode: 503}))
	assert.Contains(t, controller.Message(tts.ErrNetwork), "connection")
	assert.Contains(t, controller.Message(tts.ErrDecode), "could not be played")
	assert.Contains(t, controller.Message(tts.ErrCatalogUnavailable), "Voices")
	assert.Contains(t, controller.Message(errMockFetch), "mock fetch error")
}
