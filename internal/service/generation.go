package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/xiaot623/gochat/internal/domain"
	"github.com/xiaot623/gochat/internal/protocol"
	"github.com/xiaot623/gochat/internal/session"
)

var progressMessages = []string{
	"Model is thinking... please wait",
	"Processing your request...",
	"Generating response... (large models may take 20-30 seconds)",
	"Still working on your response...",
	"Almost done, please be patient...",
}

// HeartbeatMessage returns the progress text of the n-th heartbeat (1-based).
func HeartbeatMessage(n int, elapsed time.Duration) string {
	idx := n - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(progressMessages) {
		idx = len(progressMessages) - 1
	}
	return fmt.Sprintf("%s (%ds)", progressMessages[idx], int(elapsed.Round(time.Second)/time.Second))
}

type inferenceResult struct {
	text string
	err  error
}

// run waits for the inference call while emitting heartbeats. Every event of one
// generation is emitted from this goroutine, after generation_start. Cancellation stops
// the wait even if the model call has not returned; its late result is dropped.
func (s *Service) run(ctx context.Context, release func(), sess *session.Session, gen *generation) {
	defer s.running.Done()
	defer release()

	sess.MarkRunning()

	done := make(chan inferenceResult, 1)
	go func() {
		text, err := s.llmClient.Generate(ctx, gen.model, gen.prompt, gen.params)
		done <- inferenceResult{text: text, err: err}
	}()

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	beats := 0
	for {
		select {
		case <-ticker.C:
			beats++
			sess.Emit(protocol.System(sess.ID(), HeartbeatMessage(beats, time.Since(gen.started))))
		case res := <-done:
			s.finish(ctx, sess, gen, res)
			return
		case <-ctx.Done():
			s.finish(ctx, sess, gen, inferenceResult{err: context.Cause(ctx)})
			return
		}
	}
}

// finish moves the session to a terminal state. The generation slot is released before
// the terminal event is emitted so the client may submit again as soon as it sees it.
func (s *Service) finish(ctx context.Context, sess *session.Session, gen *generation, res inferenceResult) {
	elapsed := time.Since(gen.started).Round(time.Millisecond)

	if cause := context.Cause(ctx); cause != nil {
		if res.err == nil {
			log.Printf("Dropping model result that arrived after cancellation (session: %s)", sess.ID())
		}
		s.cancelled(sess, cause, elapsed)
		return
	}

	if res.err != nil {
		s.fail(sess, res.err, elapsed)
		return
	}
	s.complete(ctx, sess, gen, res.text, elapsed)
}

func (s *Service) cancelled(sess *session.Session, cause error, elapsed time.Duration) {
	switch {
	case errors.Is(cause, ErrInterrupted):
		sess.EndGeneration(domain.GenerationInterrupted)
		log.Printf("Generation interrupted (session: %s, elapsed: %s)", sess.ID(), elapsed)
		sess.Emit(protocol.GenerationInterrupted())

	case errors.Is(cause, ErrShuttingDown):
		sess.EndGeneration(domain.GenerationFailed)
		log.Printf("Generation cancelled by shutdown (session: %s)", sess.ID())
		sess.Emit(protocol.Error(protocol.ErrorCodeInternalError, "server is shutting down"))

	case errors.Is(cause, ErrGenerationTimeout):
		s.fail(sess, fmt.Errorf("%w after %s", ErrGenerationTimeout, s.config.GenerationTimeout), elapsed)

	default:
		s.fail(sess, cause, elapsed)
	}
}

func (s *Service) fail(sess *session.Session, err error, elapsed time.Duration) {
	code := ErrorCode(err)
	sess.EndGeneration(domain.GenerationFailed)
	log.Printf("WARN: generation failed (session: %s, code: %s, elapsed: %s): %v", sess.ID(), code, elapsed, err)
	sess.Emit(protocol.Error(code, errorMessage(code, err)))
}

// complete persists the exchange, then records it in memory and delivers the answer.
// A failed write ends the generation as failed and nothing is delivered or remembered.
func (s *Service) complete(ctx context.Context, sess *session.Session, gen *generation, text string, elapsed time.Duration) {
	user := domain.NewTurn(domain.RoleUser, gen.message)
	user.Timestamp = gen.started
	assistant := domain.NewTurn(domain.RoleAssistant, text)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	err := s.store.AppendTurns(persistCtx, sess.ID(), user, assistant)
	cancel()
	if err != nil {
		sess.EndGeneration(domain.GenerationFailed)
		log.Printf("WARN: failed to persist exchange (session: %s): %v", sess.ID(), err)
		sess.Emit(protocol.Error(protocol.ErrorCodePersistenceFailed, "Failed to save the conversation, the answer was discarded"))
		return
	}

	sess.AppendTurns(user, assistant)
	sess.EndGeneration(domain.GenerationCompleted)
	log.Printf("Generation completed (session: %s, elapsed: %s, chars: %d)", sess.ID(), elapsed, len(text))

	if !sess.Emit(protocol.AIResponse(text, assistant.Timestamp)) {
		log.Printf("Session %s has no live channel, response stored without delivery", sess.ID())
	}
}
