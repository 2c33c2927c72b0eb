// Package session keeps one interaction controller per browser session and
// closes the ones that have gone idle.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tolatu/internal/controller"
	"github.com/google/uuid"
)

const defaultSweepInterval = time.Minute

// Factory builds the controller of a new session.
type Factory func(ctx context.Context) *controller.Controller

type entry struct {
	ctrl     *controller.Controller
	lastSeen time.Time
}

// Registry maps session identifiers to controllers.
type Registry struct {
	factory Factory
	ttl     time.Duration
	log     *logger.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewRegistry creates a Registry. Sessions idle for longer than ttl are
// closed by Sweep.
func NewRegistry(factory Factory, ttl time.Duration, log *logger.Logger) *Registry {
	return &Registry{
		factory:  factory,
		ttl:      ttl,
		log:      log,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Get returns the controller of id, creating a new session when id is empty
// or unknown. The returned id is the one the caller should keep.
func (r *Registry) Get(ctx context.Context, id string) (string, *controller.Controller) {
	r.mu.Lock()

	if e, ok := r.sessions[id]; ok && id != "" {
		e.lastSeen = r.now()
		r.mu.Unlock()

		return id, e.ctrl
	}

	r.mu.Unlock()

	// The catalog is loaded outside the lock since it may call the backend.
	ctrl := r.factory(ctx)
	newID := uuid.New().String()

	r.mu.Lock()
	r.sessions[newID] = &entry{ctrl: ctrl, lastSeen: r.now()}
	r.mu.Unlock()

	r.log.Info("Session %s created", newID)

	return newID, ctrl
}

// Lookup returns the controller of an existing session and marks it as seen.
// It never creates a session.
func (r *Registry) Lookup(id string) (*controller.Controller, bool) {
	if id == "" {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}

	e.lastSeen = r.now()

	return e.ctrl, true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// Sweep closes sessions idle since before now minus the TTL and returns how
// many were closed.
func (r *Registry) Sweep(ctx context.Context, now time.Time) int {
	r.mu.Lock()

	var expired []*controller.Controller

	for id, e := range r.sessions {
		if now.Sub(e.lastSeen) > r.ttl {
			expired = append(expired, e.ctrl)
			delete(r.sessions, id)
		}
	}

	r.mu.Unlock()

	r.closeAll(ctx, expired)

	return len(expired)
}

// Run sweeps periodically until ctx is done, then closes every session.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Close(context.WithoutCancel(ctx))

			return nil
		case t := <-ticker.C:
			if n := r.Sweep(ctx, t); n > 0 {
				r.log.Info("Closed %d idle sessions", n)
			}
		}
	}
}

// Close closes every session.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()

	all := make([]*controller.Controller, 0, len(r.sessions))
	for id, e := range r.sessions {
		all = append(all, e.ctrl)
		delete(r.sessions, id)
	}

	r.mu.Unlock()

	r.closeAll(ctx, all)
}

func (r *Registry) closeAll(ctx context.Context, ctrls []*controller.Controller) {
	for _, ctrl := range ctrls {
		err := ctrl.Close(ctx)
		if err != nil {
			r.log.Warn("Failed to release session audio: %v", err)
		}
	}
}
