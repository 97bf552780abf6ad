// Package service coordinates chat generations for sessions.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xiaot623/gochat/internal/adapter/llm"
	"github.com/xiaot623/gochat/internal/config"
	"github.com/xiaot623/gochat/internal/domain"
	"github.com/xiaot623/gochat/internal/policy"
	"github.com/xiaot623/gochat/internal/protocol"
	"github.com/xiaot623/gochat/internal/repository"
	"github.com/xiaot623/gochat/internal/session"
)

// persistTimeout bounds the store write that follows a completed generation.
const persistTimeout = 5 * time.Second

type Service struct {
	store        store.Store
	llmClient    llm.InferenceClient
	registry     *session.Registry
	config       *config.Config
	policyEngine *policy.Engine

	presetsMu sync.RWMutex
	presets   map[string]domain.GenerationStyle

	baseCtx context.Context
	stop    context.CancelCauseFunc

	mu      sync.Mutex
	closed  bool
	running sync.WaitGroup
}

func New(st store.Store, llmClient llm.InferenceClient, registry *session.Registry, cfg *config.Config, policyEngine *policy.Engine) *Service {
	baseCtx, stop := context.WithCancelCause(context.Background())
	presets := cfg.Presets
	if len(presets) == 0 {
		presets = domain.DefaultGenerationStyles()
	}
	return &Service{
		store:        st,
		llmClient:    llmClient,
		registry:     registry,
		config:       cfg,
		policyEngine: policyEngine,
		presets:      presets,
		baseCtx:      baseCtx,
		stop:         stop,
	}
}

// Registry returns the session registry the service works on.
func (s *Service) Registry() *session.Registry {
	return s.registry
}

// SetPresets replaces the generation style table. Styles missing a balanced entry keep
// the built-in balanced style.
func (s *Service) SetPresets(presets map[string]domain.GenerationStyle) {
	next := make(map[string]domain.GenerationStyle, len(presets)+1)
	for name, style := range presets {
		next[name] = style
	}
	if _, ok := next[domain.DefaultStyleName]; !ok {
		next[domain.DefaultStyleName] = domain.DefaultGenerationStyles()[domain.DefaultStyleName]
	}

	s.presetsMu.Lock()
	s.presets = next
	s.presetsMu.Unlock()
	log.Printf("Generation styles updated: %d styles", len(next))
}

// Presets returns the generation styles sorted by name.
func (s *Service) Presets() []domain.GenerationStyle {
	s.presetsMu.RLock()
	defer s.presetsMu.RUnlock()

	out := make([]domain.GenerationStyle, 0, len(s.presets))
	for _, style := range s.presets {
		out = append(out, style)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Style resolves a style name, falling back to balanced for empty or unknown names.
func (s *Service) Style(name string) domain.GenerationStyle {
	s.presetsMu.RLock()
	defer s.presetsMu.RUnlock()

	if style, ok := s.presets[strings.ToLower(strings.TrimSpace(name))]; ok {
		return style
	}
	if style, ok := s.presets[domain.DefaultStyleName]; ok {
		return style
	}
	return domain.DefaultGenerationStyles()[domain.DefaultStyleName]
}

// generation is one admitted request.
type generation struct {
	message string
	model   string
	style   string
	params  llm.Params
	prompt  string
	started time.Time
}

// Submit admits a chat request for sess and starts its generation. It returns an error
// without changing session state if the request is rejected.
func (s *Service) Submit(ctx context.Context, sess *session.Session, req *protocol.ChatRequest) error {
	if req == nil || strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("%w: message", protocol.ErrMissingField)
	}

	result, err := s.policyEngine.Evaluate(ctx, policy.Input{
		Message:         req.Message,
		ModelName:       req.ModelName,
		GenerationStyle: req.GenerationStyle,
		MaxMessageChars: s.config.MaxMessageChars,
	})
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}
	if !result.Allowed() {
		return fmt.Errorf("%w: %s", ErrPolicyBlocked, result.Reason)
	}

	gen := s.prepare(req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShuttingDown
	}

	genCtx, cancel := context.WithCancelCause(s.baseCtx)
	genCtx, cancelTimeout := context.WithTimeoutCause(genCtx, s.config.GenerationTimeout, ErrGenerationTimeout)
	release := func() {
		cancelTimeout()
		cancel(nil)
	}

	if err := sess.BeginGeneration(cancel); err != nil {
		release()
		return err
	}

	gen.prompt = BuildPrompt(sess.RecentTurns(), gen.message, s.config.ContextTurns, s.config.ContextMaxChars)
	gen.started = time.Now()
	log.Printf("Generation started (session: %s, model: %s, style: %s)", sess.ID(), gen.model, gen.style)
	sess.Emit(protocol.GenerationStart())

	s.running.Add(1)
	go s.run(genCtx, release, sess, gen)
	return nil
}

func (s *Service) prepare(req *protocol.ChatRequest) *generation {
	model := strings.TrimSpace(req.ModelName)
	if model == "" {
		model = s.config.DefaultModel
	}
	style := s.Style(req.GenerationStyle)

	params := llm.Params{
		Temperature:   s.config.DefaultTemperature,
		TopP:          style.TopP,
		TopK:          style.TopK,
		RepeatPenalty: style.RepeatPenalty,
		MaxTokens:     s.config.DefaultMaxTokens,
	}
	if req.Settings != nil {
		if req.Settings.Temperature != nil {
			params.Temperature = *req.Settings.Temperature
		}
		if req.Settings.MaxTokens != nil {
			params.MaxTokens = *req.Settings.MaxTokens
		}
	}

	return &generation{
		message: req.Message,
		model:   model,
		style:   style.Name,
		params:  params,
	}
}

// Interrupt cancels the in-flight generation of sess. It reports whether one was running.
func (s *Service) Interrupt(sess *session.Session) bool {
	if !sess.Interrupt(ErrInterrupted) {
		return false
	}
	log.Printf("Interrupt requested (session: %s)", sess.ID())
	return true
}

// InterruptSession interrupts the generation of a registered session by id.
func (s *Service) InterruptSession(sessionID string) (bool, error) {
	sess, ok := s.registry.Lookup(sessionID)
	if !ok {
		return false, session.ErrSessionNotFound
	}
	return s.Interrupt(sess), nil
}

// Notify pushes a system notice to the live channel of a session. It reports whether
// the notice was handed to a channel.
func (s *Service) Notify(sessionID, message string) (bool, error) {
	sess, ok := s.registry.Lookup(sessionID)
	if !ok {
		return false, session.ErrSessionNotFound
	}
	return sess.Emit(protocol.System(sessionID, message)), nil
}

// Shutdown cancels all running generations and waits for them to finish.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stop(ErrShuttingDown)

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errorMessage(code string, err error) string {
	switch code {
	case protocol.ErrorCodeInferenceTimeout:
		return "The model took too long to respond, please try again"
	case protocol.ErrorCodeInferenceUnreachable:
		return "Unable to connect to the model service, please check that Ollama is running"
	case protocol.ErrorCodeModelError:
		var failure *llm.Failure
		if errors.As(err, &failure) {
			return "Model error: " + failure.Detail
		}
	}
	return err.Error()
}
