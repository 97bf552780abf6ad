package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/xiaot623/gochat/internal/domain"
)

// Loader hydrates a new session from persisted history.
type Loader interface {
	LoadRecent(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
}

// Stats is a snapshot of registry occupancy.
type Stats struct {
	Sessions   int `json:"sessions"`
	Connected  int `json:"connections"`
	Generating int `json:"generating"`
}

// DefaultLoadTimeout bounds history hydration for a new session.
const DefaultLoadTimeout = 5 * time.Second

// Registry maps session ids to sessions. Lock order is registry, then session.
type Registry struct {
	loader      Loader
	maxTurns    int
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*entry
}

// entry is closed over ready once its session is hydrated or the load failed.
type entry struct {
	session *Session
	err     error
	ready   chan struct{}
}

func (e *entry) loaded() bool {
	select {
	case <-e.ready:
		return e.session != nil
	default:
		return false
	}
}

// NewRegistry creates a registry whose sessions keep maxTurns recent turns and are
// evicted after idleTimeout without a channel or generation.
func NewRegistry(loader Loader, maxTurns int, idleTimeout time.Duration) *Registry {
	return &Registry{
		loader:      loader,
		maxTurns:    maxTurns,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*entry),
	}
}

// GetOrCreate returns the session for id, creating and hydrating it on first use.
// Concurrent callers for the same id share one load and receive the same session.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	if e, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		return e.session, nil
	}
	e := &entry{ready: make(chan struct{})}
	r.sessions[id] = e
	r.mu.Unlock()

	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultLoadTimeout)
	turns, err := r.loader.LoadRecent(loadCtx, id, r.maxTurns)
	cancel()

	r.mu.Lock()
	if err != nil {
		e.err = fmt.Errorf("failed to load session %s: %w", id, err)
		delete(r.sessions, id)
	} else {
		e.session = newSession(id, r.maxTurns, turns)
	}
	r.mu.Unlock()
	close(e.ready)

	if e.err != nil {
		return nil, e.err
	}
	log.Printf("Session created: %s (hydrated %d turns)", id, len(turns))
	return e.session, nil
}

// AttachChannel binds ch to the session for id, force-closing any previously bound
// channel. Resolution and binding are atomic with respect to eviction.
func (r *Registry) AttachChannel(ctx context.Context, id string, ch Channel) (*Session, error) {
	for {
		sess, err := r.GetOrCreate(ctx, id)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		e, ok := r.sessions[id]
		if !ok || e.session != sess {
			// Evicted between lookup and bind.
			r.mu.Unlock()
			continue
		}
		prev := sess.swapChannel(ch)
		if prev != nil && prev != ch {
			prev.Close(ReasonSuperseded)
			log.Printf("Channel %s superseded by %s (session: %s)", prev.ID(), ch.ID(), id)
		}
		r.mu.Unlock()

		return sess, nil
	}
}

// DetachChannel unbinds ch from the session for id if it is still the bound channel.
func (r *Registry) DetachChannel(id string, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || !e.loaded() {
		return false
	}
	return e.session.detach(ch)
}

// Lookup returns a hydrated session without creating one.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || !e.loaded() {
		return nil, false
	}
	return e.session, true
}

// EvictIdle removes sessions with no channel, no generation, and no activity since
// now minus the idle timeout. It returns the number of evicted sessions.
func (r *Registry) EvictIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, e := range r.sessions {
		if !e.loaded() {
			continue
		}
		if e.session.evictable(now, r.idleTimeout) {
			delete(r.sessions, id)
			evicted++
		}
	}
	return evicted
}

// Stats returns the number of sessions, connected sessions, and generating sessions.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var st Stats
	for _, e := range r.sessions {
		if !e.loaded() {
			continue
		}
		st.Sessions++
		if e.session.Connected() {
			st.Connected++
		}
		if e.session.Generating() {
			st.Generating++
		}
	}
	return st
}
