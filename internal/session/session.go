// Package session keeps the in-memory state of chat sessions and their live channels.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xiaot623/gochat/internal/domain"
)

var (
	// ErrGenerationInProgress is returned when a session already runs a generation.
	ErrGenerationInProgress = errors.New("generation already in progress")
	// ErrSessionNotFound is returned when a session is not in the registry.
	ErrSessionNotFound = errors.New("session not found")
)

// ReasonSuperseded is passed to Channel.Close when a newer connection takes over a session.
const ReasonSuperseded = "superseded"

// Channel is the live client connection a session delivers events to.
type Channel interface {
	ID() string
	Send(v interface{}) error
	Close(reason string)
}

// Session is one logical conversation thread, independent of any physical connection.
type Session struct {
	id       string
	maxTurns int

	mu           sync.Mutex
	recent       []domain.Turn
	channel      Channel
	state        domain.GenerationState
	cancel       context.CancelCauseFunc
	lastActivity time.Time
}

func newSession(id string, maxTurns int, turns []domain.Turn) *Session {
	s := &Session{
		id:           id,
		maxTurns:     maxTurns,
		state:        domain.GenerationIdle,
		lastActivity: time.Now(),
	}
	s.appendLocked(turns)
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// RecentTurns returns a copy of the bounded in-memory transcript, oldest first.
func (s *Session) RecentTurns() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Turn, len(s.recent))
	copy(out, s.recent)
	return out
}

// AppendTurns adds turns to the in-memory transcript, evicting the oldest beyond the bound.
func (s *Session) AppendTurns(turns ...domain.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(turns)
	s.lastActivity = time.Now()
}

func (s *Session) appendLocked(turns []domain.Turn) {
	s.recent = append(s.recent, turns...)
	if over := len(s.recent) - s.maxTurns; over > 0 {
		s.recent = append([]domain.Turn(nil), s.recent[over:]...)
	}
}

// ClearRecent drops the in-memory transcript. Persisted turns are untouched.
func (s *Session) ClearRecent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = nil
}

// BeginGeneration moves the session to Requested. cancel is invoked by Interrupt.
func (s *Session) BeginGeneration(cancel context.CancelCauseFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Active() {
		return ErrGenerationInProgress
	}
	s.state = domain.GenerationRequested
	s.cancel = cancel
	s.lastActivity = time.Now()
	return nil
}

// MarkRunning records that the request was handed to the model.
func (s *Session) MarkRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == domain.GenerationRequested {
		s.state = domain.GenerationRunning
	}
}

// EndGeneration records the outcome of the current generation and accepts the next one.
// Non-terminal outcomes are recorded as failed.
func (s *Session) EndGeneration(outcome domain.GenerationState) {
	if !outcome.Terminal() {
		outcome = domain.GenerationFailed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = outcome
	s.cancel = nil
	s.lastActivity = time.Now()
}

// Generating reports whether a generation is in progress.
func (s *Session) Generating() bool {
	return s.State().Active()
}

// State returns the generation state. After a generation ends it holds the outcome
// until the next one begins.
func (s *Session) State() domain.GenerationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Interrupt cancels the in-flight generation with cause. It reports whether a
// generation was running; interrupting an idle session does nothing.
func (s *Session) Interrupt(cause error) bool {
	s.mu.Lock()
	cancel := s.cancel
	active := s.state.Active()
	s.mu.Unlock()

	if !active || cancel == nil {
		return false
	}
	cancel(cause)
	return true
}

// Emit sends v to the bound channel. It reports false if no channel is attached
// or the send failed.
func (s *Session) Emit(v interface{}) bool {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()

	if ch == nil {
		return false
	}
	return ch.Send(v) == nil
}

// Channel returns the bound channel, or nil.
func (s *Session) Channel() Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// Connected reports whether a channel is bound.
func (s *Session) Connected() bool {
	return s.Channel() != nil
}

// LastActivity returns the time of the last attach, detach, append or generation change.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) swapChannel(ch Channel) Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.channel
	s.channel = ch
	s.lastActivity = time.Now()
	return prev
}

func (s *Session) detach(ch Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil || s.channel != ch {
		return false
	}
	s.channel = nil
	s.lastActivity = time.Now()
	return true
}

func (s *Session) evictable(now time.Time, idle time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel == nil && !s.state.Active() && now.Sub(s.lastActivity) >= idle
}
