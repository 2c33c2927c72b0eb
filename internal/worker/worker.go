// Package worker provides a NATS worker that turns pipeline events into speech
// through the same backend the web front end uses.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/tolatu/internal/audio"
	"github.com/book-expert/tolatu/internal/core"
	"github.com/book-expert/tolatu/internal/tts"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	handleMessageTimeout = 3 * time.Minute
	audioKeyExtension    = ".mp3"
	pngMimeType          = "image/png"
)

var (
	// ErrSourceKeyEmpty indicates an event with neither a text nor a PNG key.
	ErrSourceKeyEmpty = errors.New("event has no text or png key")
	// ErrEmptyPage indicates a text object with nothing to read.
	ErrEmptyPage = errors.New("page text is empty")
	// ErrVoiceEmpty indicates that no voice was given and none is available.
	ErrVoiceEmpty = errors.New("voice cannot be empty")
	// ErrUnsupportedVoice indicates that the requested voice is not in the catalog.
	ErrUnsupportedVoice = errors.New("unsupported voice")
)

// Synthesizer is the speech backend used by the worker.
type Synthesizer interface {
	SynthesizeText(ctx context.Context, text, voiceID string) (*tts.Response, error)
	SynthesizeImage(ctx context.Context, img tts.Image) (*tts.Response, error)
}

// Voices resolves the voice of an event.
type Voices interface {
	Voices() []tts.Voice
	Default() (tts.Voice, bool)
	Find(id string) (tts.Voice, bool)
}

// Options configure a NatsWorker.
type Options struct {
	Subject       string
	Store         core.ObjectStore
	Speech        Synthesizer
	Voices        Voices
	EmbeddedPaths []string
	Logger        *logger.Logger
}

// NatsWorker listens for synthesis requests on a NATS subject.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	speech         Synthesizer
	voices         Voices
	embeddedPaths  []string
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(natsConnection *nats.Conn, opts Options) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        opts.Subject,
		store:          opts.Store,
		speech:         opts.Speech,
		voices:         opts.Voices,
		embeddedPaths:  opts.EmbeddedPaths,
		log:            opts.Logger,
	}
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Worker listening on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse event: %v", err)

		return
	}

	audioKey, err := w.process(ctx, event)
	if err != nil {
		w.log.Error("Failed to synthesize page %d of workflow %s: %v",
			event.PageNumber, event.Header.WorkflowID, err)

		return
	}

	reply := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = publishReply(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// process downloads the event's source, synthesizes it and uploads the audio.
func (w *NatsWorker) process(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	resp, err := w.synthesize(ctx, event)
	if err != nil {
		return "", err
	}

	audioData, _, err := audio.Decode(resp.Body, resp.Encoding, resp.ContentType, w.embeddedPaths)
	if err != nil {
		return "", fmt.Errorf("failed to decode speech response: %w", err)
	}

	audioKey := uuid.NewString() + audioKeyExtension

	err = w.store.Upload(ctx, audioKey, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	w.log.Info("Workflow %s page %d/%d -> %s (%s)", event.Header.WorkflowID,
		event.PageNumber, event.TotalPages, audioKey, audio.FormatSize(int64(len(audioData))))

	return audioKey, nil
}

func (w *NatsWorker) synthesize(ctx context.Context, event *events.TextProcessedEvent) (*tts.Response, error) {
	if event.TextKey == "" && event.PNGKey == "" {
		return nil, ErrSourceKeyEmpty
	}

	if event.TextKey == "" {
		image, err := w.store.Download(ctx, event.PNGKey)
		if err != nil {
			return nil, fmt.Errorf("failed to download png data for key '%s': %w", event.PNGKey, err)
		}

		return w.speech.SynthesizeImage(ctx, tts.Image{Data: image, Name: event.PNGKey, MimeType: pngMimeType})
	}

	voiceID, err := w.resolveVoice(event.Voice)
	if err != nil {
		return nil, err
	}

	text, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	cleaned := cleanPageText(string(text))
	if cleaned == "" {
		return nil, fmt.Errorf("%w: '%s'", ErrEmptyPage, event.TextKey)
	}

	return w.speech.SynthesizeText(ctx, cleaned, voiceID)
}

// resolveVoice falls back to the catalog default. A named voice must be in
// the catalog unless the catalog is empty.
func (w *NatsWorker) resolveVoice(requested string) (string, error) {
	if requested == "" {
		def, ok := w.voices.Default()
		if !ok {
			return "", ErrVoiceEmpty
		}

		return def.ID, nil
	}

	if len(w.voices.Voices()) == 0 {
		return requested, nil
	}

	if _, ok := w.voices.Find(requested); !ok {
		return "", fmt.Errorf("%w: '%s'", ErrUnsupportedVoice, requested)
	}

	return requested, nil
}

// publishReply marshals and responds with the AudioChunkCreatedEvent.
func publishReply(msg *nats.Msg, reply *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}
