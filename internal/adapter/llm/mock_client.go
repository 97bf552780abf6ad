package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MockClient is a mock implementation of InferenceClient for local runs without a model.
type MockClient struct {
	// Delay simulates model latency.
	Delay time.Duration
}

// NewMockClient creates a new mock inference client.
func NewMockClient(delay time.Duration) *MockClient {
	return &MockClient{Delay: delay}
}

// Ensure MockClient implements InferenceClient interface.
var _ InferenceClient = (*MockClient)(nil)

// Generate returns a canned reply after Delay, honouring cancellation.
func (m *MockClient) Generate(ctx context.Context, model, prompt string, params Params) (string, error) {
	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", transportFailure(ctx, ctx.Err())
		case <-timer.C:
		}
	}

	last := lastUserLine(prompt)
	if last == "" {
		return "[MOCK] This is a mock response from the inference client.", nil
	}
	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(last, 100)), nil
}

// ListModels returns a fixed model list.
func (m *MockClient) ListModels(ctx context.Context) ([]Model, error) {
	return []Model{
		{Name: "mock-llm", ModelID: "mock-llm", Description: "Mock model"},
	}, nil
}

// Ping always succeeds.
func (m *MockClient) Ping(ctx context.Context) error {
	return nil
}

// lastUserLine extracts the newest user message from a context prompt.
func lastUserLine(prompt string) string {
	lines := strings.Split(prompt, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "User: ") {
			return strings.TrimPrefix(lines[i], "User: ")
		}
	}
	return strings.TrimSpace(prompt)
}

// truncate shortens s to at most maxLen runes.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
