package service

import (
	"errors"

	"github.com/xiaot623/gochat/internal/adapter/llm"
	"github.com/xiaot623/gochat/internal/protocol"
	"github.com/xiaot623/gochat/internal/session"
)

var (
	// ErrPolicyBlocked is returned when the chat policy rejects a request.
	ErrPolicyBlocked = errors.New("message blocked by policy")
	// ErrInterrupted is the cancellation cause of a client interrupt.
	ErrInterrupted = errors.New("generation interrupted")
	// ErrGenerationTimeout is the cancellation cause when a generation hits its ceiling.
	ErrGenerationTimeout = errors.New("generation timed out")
	// ErrShuttingDown is the cancellation cause when the server stops.
	ErrShuttingDown = errors.New("server shutting down")
)

// ErrorCode maps an error returned by Submit or a generation failure to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, protocol.ErrInvalidJSON),
		errors.Is(err, protocol.ErrMissingField),
		errors.Is(err, protocol.ErrInvalidField),
		errors.Is(err, protocol.ErrUnknownType):
		return protocol.ErrorCodeInvalidMessage
	case errors.Is(err, ErrPolicyBlocked):
		return protocol.ErrorCodePolicyBlocked
	case errors.Is(err, session.ErrGenerationInProgress):
		return protocol.ErrorCodeGenerationInProgress
	case errors.Is(err, ErrGenerationTimeout):
		return protocol.ErrorCodeInferenceTimeout
	}

	switch llm.KindOf(err) {
	case llm.FailureTimeout:
		return protocol.ErrorCodeInferenceTimeout
	case llm.FailureUnreachable:
		return protocol.ErrorCodeInferenceUnreachable
	case llm.FailureModelError:
		return protocol.ErrorCodeModelError
	}
	return protocol.ErrorCodeInternalError
}
