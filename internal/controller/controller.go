// Package controller coordinates the text and image conversion flows of one
// browser session: it validates input, drives the flow state machines, calls
// the speech backend and materializes the results.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/tolatu/internal/audio"
	"github.com/book-expert/tolatu/internal/core"
	"github.com/book-expert/tolatu/internal/flow"
	"github.com/book-expert/tolatu/internal/tts"
)

// User-visible messages.
const (
	msgEmptyText          = "Please enter some text to convert."
	msgNoVoice            = "Please select a voice."
	msgUnknownVoice       = "The selected voice is not available."
	msgEmptyImage         = "Please select an image first."
	msgCatalogUnavailable = "Voices could not be loaded. Please refresh the page to try again."
	msgNetwork            = "Could not reach the speech service. Please check your connection and try again."
	msgSessionClosed      = "This session has ended. Please reload the page."
	msgDecode             = "The speech service returned audio that could not be played. Please try again."
	msgFmtBackend         = "Request failed (status %d): %s"
	msgFmtBackendNoDetail = "Request failed (status %d)."
	msgFmtUnexpected      = "Something went wrong: %v"
)

// ErrUnknownVoice is returned by SelectVoice for an identifier not in the catalog.
var ErrUnknownVoice = errors.New("unknown voice")

// Synthesizer is the speech backend as seen by the controller.
type Synthesizer interface {
	SynthesizeText(ctx context.Context, text, voiceID string) (*tts.Response, error)
	SynthesizeImage(ctx context.Context, img tts.Image) (*tts.Response, error)
}

// Snapshot is the full page state of a session.
type Snapshot struct {
	Text          flow.View `json:"text"`
	Image         flow.View `json:"image"`
	SelectedVoice string    `json:"selectedVoice,omitempty"`
	Notice        string    `json:"notice,omitempty"`
}

// Options configure a Controller.
type Options struct {
	Catalog        *tts.Catalog
	Speech         Synthesizer
	Audio          *audio.Manager
	Logger         *logger.Logger
	LongInputRunes int
}

// Controller is the interaction controller of one session.
type Controller struct {
	catalog *tts.Catalog
	speech  Synthesizer
	audio   *audio.Manager
	log     *logger.Logger
	text    *flow.Flow
	image   *flow.Flow

	mu       sync.RWMutex
	selected string
	notice   string
	closed   bool
}

// New creates a Controller with both flows idle and an empty catalog.
func New(opts Options) *Controller {
	return &Controller{
		catalog: opts.Catalog,
		speech:  opts.Speech,
		audio:   opts.Audio,
		log:     opts.Logger,
		text:    flow.New(core.KindText, opts.LongInputRunes),
		image:   flow.New(core.KindImage, opts.LongInputRunes),
	}
}

// LoadVoices loads the catalog and selects its default voice. A failure is
// kept as a notice and leaves the catalog empty.
func (c *Controller) LoadVoices(ctx context.Context) {
	err := c.catalog.Load(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.notice = Message(err)
		c.selected = ""

		return
	}

	c.notice = ""

	if _, ok := c.catalog.Find(c.selected); ok {
		return
	}

	c.selected = ""
	if def, ok := c.catalog.Default(); ok {
		c.selected = def.ID
	}
}

// Voices returns the sorted catalog.
func (c *Controller) Voices() []tts.Voice {
	return c.catalog.Voices()
}

// Notice returns the catalog notice, empty when voices loaded.
func (c *Controller) Notice() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.notice
}

// SelectVoice changes the selected voice.
func (c *Controller) SelectVoice(id string) error {
	if _, ok := c.catalog.Find(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVoice, id)
	}

	c.mu.Lock()
	c.selected = id
	c.mu.Unlock()

	return nil
}

// SelectedVoice returns the selected voice, if any.
func (c *Controller) SelectedVoice() (tts.Voice, bool) {
	c.mu.RLock()
	id := c.selected
	c.mu.RUnlock()

	if id == "" {
		return tts.Voice{}, false
	}

	return c.catalog.Find(id)
}

// CanSubmitText reports whether the text submit control should be enabled.
func (c *Controller) CanSubmitText(text string) bool {
	_, hasVoice := c.SelectedVoice()

	return c.text.CanSubmit(strings.TrimSpace(text) != "" && hasVoice)
}

// CanSubmitImage reports whether the image submit control should be enabled.
func (c *Controller) CanSubmitImage(hasImage bool) bool {
	return c.image.CanSubmit(hasImage)
}

// SubmitText converts text. An empty voiceID uses the selected voice. Only
// flow.ErrBusy is returned; every other outcome is recorded in the view.
func (c *Controller) SubmitText(ctx context.Context, text, voiceID string) (flow.View, error) {
	if voiceID != "" {
		err := c.SelectVoice(voiceID)
		if err != nil {
			return c.reject(c.text, msgUnknownVoice)
		}
	}

	voice, hasVoice := c.SelectedVoice()

	switch {
	case strings.TrimSpace(text) == "":
		return c.reject(c.text, msgEmptyText)
	case !hasVoice:
		return c.reject(c.text, msgNoVoice)
	}

	err := c.text.Begin(text)
	if err != nil {
		return c.text.Snapshot(), err
	}

	c.log.Info("Text conversion started (%d characters, voice %s)", len([]rune(text)), voice.ID)

	resp, err := c.speech.SynthesizeText(ctx, text, voice.ID)

	return c.finish(ctx, c.text, resp, err), nil
}

// SubmitImage converts an image. Only flow.ErrBusy is returned.
func (c *Controller) SubmitImage(ctx context.Context, img tts.Image) (flow.View, error) {
	if len(img.Data) == 0 {
		return c.reject(c.image, msgEmptyImage)
	}

	err := c.image.Begin("")
	if err != nil {
		return c.image.Snapshot(), err
	}

	c.log.Info("Image conversion started (%s, %d bytes)", img.Name, len(img.Data))

	resp, err := c.speech.SynthesizeImage(ctx, img)

	return c.finish(ctx, c.image, resp, err), nil
}

// Snapshot returns the state of both flows.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Text:          c.text.Snapshot(),
		Image:         c.image.Snapshot(),
		SelectedVoice: c.selected,
		Notice:        c.notice,
	}
}

// Close releases the audio held by the session. Requests still in flight
// release their own result when they complete.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.text.Clear()
	c.image.Clear()

	return c.audio.ReleaseAll(ctx)
}

func (c *Controller) reject(f *flow.Flow, message string) (flow.View, error) {
	if !f.CanSubmit(true) {
		return f.Snapshot(), flow.ErrBusy
	}

	f.Reject(message)

	return f.Snapshot(), nil
}

func (c *Controller) finish(ctx context.Context, f *flow.Flow, resp *tts.Response, err error) flow.View {
	kind := f.Kind()

	if err != nil {
		c.log.Error("%s conversion failed (retryable: %t): %v", kind, tts.Retryable(err), err)
		f.Fail(Message(err))

		return f.Snapshot()
	}

	res, err := c.audio.Materialize(ctx, kind, resp.Body, resp.Encoding, resp.ContentType)
	if res == nil {
		c.log.Error("%s conversion could not be decoded: %v", kind, err)
		f.Fail(Message(err))

		return f.Snapshot()
	}

	if err != nil {
		c.log.Warn("Previous %s audio was not released: %v", kind, err)
	}

	if c.isClosed() {
		c.discard(ctx, f)

		return f.Snapshot()
	}

	c.log.Info("%s conversion succeeded (%s, %s)", kind, res.ContentType, res.SizeLabel)
	f.Succeed(res)

	return f.Snapshot()
}

func (c *Controller) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.closed
}

// discard drops a result that arrived after the session was closed.
func (c *Controller) discard(ctx context.Context, f *flow.Flow) {
	kind := f.Kind()

	err := c.audio.Release(ctx, kind)
	if err != nil {
		c.log.Warn("Failed to release %s audio of a closed session: %v", kind, err)
	}

	c.log.Info("%s conversion finished after the session closed; audio released", kind)
	f.Fail(msgSessionClosed)
	f.Clear()
}

// Message maps an error to the text shown to the user.
func Message(err error) string {
	if errors.Is(err, tts.ErrCatalogUnavailable) {
		return msgCatalogUnavailable
	}

	if backendErr, ok := tts.IsBackendError(err); ok {
		if backendErr.Detail == "" {
			return fmt.Sprintf(msgFmtBackendNoDetail, backendErr.StatusCode)
		}

		return fmt.Sprintf(msgFmtBackend, backendErr.StatusCode, backendErr.Detail)
	}

	switch {
	case errors.Is(err, tts.ErrNetwork):
		return msgNetwork
	case errors.Is(err, tts.ErrDecode):
		return msgDecode
	case errors.Is(err, tts.ErrInvalidInput):
		return strings.TrimPrefix(err.Error(), tts.ErrInvalidInput.Error()+": ")
	default:
		return fmt.Sprintf(msgFmtUnexpected, err)
	}
}
