// Package llm provides an abstraction over the local model-serving backend.
package llm

import "context"

// Params are the sampling parameters of one generation.
type Params struct {
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
	MaxTokens     int
}

// Model describes a model available on the backend.
type Model struct {
	Name        string `json:"name"`
	ModelID     string `json:"model_id"`
	Description string `json:"description"`
}

// InferenceClient defines the interface for model inference operations.
type InferenceClient interface {
	// Generate sends a prompt and returns the completion text. Errors are *Failure
	// unless ctx was cancelled by the caller, in which case ctx's error is returned.
	Generate(ctx context.Context, model, prompt string, params Params) (string, error)

	// ListModels retrieves the models installed on the backend.
	ListModels(ctx context.Context) ([]Model, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// Ensure Client implements InferenceClient interface.
var _ InferenceClient = (*Client)(nil)
