// Package flow implements the per-flow submission state machine:
// Idle -> Submitting -> {Succeeded, Failed}, with a new submission accepted
// from any state except Submitting.
package flow

import (
	"errors"
	"sync"
	"unicode/utf8"

	"github.com/book-expert/tolatu/internal/audio"
	"github.com/book-expert/tolatu/internal/core"
)

// ErrBusy is returned by Begin while a submission of the same flow is in flight.
var ErrBusy = errors.New("a conversion is already in progress")

// DefaultLongInputRunes is the text length above which the latency advisory is shown.
const DefaultLongInputRunes = 200

// State is the position of a flow in its state machine.
type State int

const (
	// Idle accepts edits and submissions.
	Idle State = iota
	// Submitting has one request in flight.
	Submitting
	// Succeeded holds a playable resource.
	Succeeded
	// Failed holds an error message.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// View is a copy of a flow's state for rendering.
type View struct {
	Kind      core.Kind       `json:"kind"`
	State     State           `json:"state"`
	Busy      bool            `json:"busy"`
	Message   string          `json:"message,omitempty"`
	LongInput bool            `json:"longInput"`
	Audio     *audio.Resource `json:"audio,omitempty"`
}

// Flow is one independent conversion pipeline. It is safe for concurrent use.
type Flow struct {
	kind           core.Kind
	longInputRunes int

	mu        sync.Mutex
	state     State
	message   string
	longInput bool
	resource  *audio.Resource
}

// New creates an idle flow. longInputRunes <= 0 selects DefaultLongInputRunes.
func New(kind core.Kind, longInputRunes int) *Flow {
	if longInputRunes <= 0 {
		longInputRunes = DefaultLongInputRunes
	}

	return &Flow{
		kind:           kind,
		longInputRunes: longInputRunes,
	}
}

// Kind returns the flow kind.
func (f *Flow) Kind() core.Kind {
	return f.kind
}

// Begin admits a submission. It fails with ErrBusy while another submission
// is in flight; otherwise it clears the previous error and records whether
// text exceeds the long-input threshold.
func (f *Flow) Begin(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == Submitting {
		return ErrBusy
	}

	f.state = Submitting
	f.message = ""
	f.longInput = utf8.RuneCountInString(text) > f.longInputRunes

	return nil
}

// Reject records a local validation failure. The flow stays Idle and the
// previous result is kept.
func (f *Flow) Reject(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == Submitting {
		return
	}

	f.state = Idle
	f.message = message
	f.longInput = false
}

// Succeed stores the resource of the finished submission.
func (f *Flow) Succeed(res *audio.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = Succeeded
	f.message = ""
	f.resource = res
}

// Fail stores the message of the failed submission. The previous resource
// stays visible until replaced.
func (f *Flow) Fail(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = Failed
	f.message = message
}

// Clear drops the stored resource, e.g. after it was released.
func (f *Flow) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resource = nil
}

// CanSubmit reports whether the submit control should be enabled.
func (f *Flow) CanSubmit(hasInput bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return hasInput && f.state != Submitting
}

// Snapshot returns a copy of the current state.
func (f *Flow) Snapshot() View {
	f.mu.Lock()
	defer f.mu.Unlock()

	view := View{
		Kind:      f.kind,
		State:     f.state,
		Busy:      f.state == Submitting,
		Message:   f.message,
		LongInput: f.longInput,
	}

	if f.resource != nil {
		res := *f.resource
		view.Audio = &res
	}

	return view
}
