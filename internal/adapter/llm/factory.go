package llm

import (
	"log"
	"time"
)

// ModeMock indicates the mock client should be used.
const ModeMock = "MOCK"

// NewInferenceClient creates an inference client for the given mode.
// In MOCK mode it returns a MockClient; otherwise a real Ollama Client.
func NewInferenceClient(mode, baseURL string, timeout time.Duration) InferenceClient {
	if mode == ModeMock {
		log.Println("CHAT_MODE=MOCK detected, using mock inference client")
		return NewMockClient(time.Second)
	}

	return NewClient(baseURL, timeout)
}
