package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultContextWindow is the num_ctx sent with every generate request.
const DefaultContextWindow = 4096

// Client is the Ollama HTTP client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Ollama client. A zero timeout leaves the wait bounded only by
// the request context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GenerateRequest is the request body for /api/generate.
type GenerateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Stream  bool     `json:"stream"`
	Options *Options `json:"options,omitempty"`
}

// Options contains model parameters for inference.
type Options struct {
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p,omitempty"`
	TopK          int     `json:"top_k,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
	NumPredict    int     `json:"num_predict,omitempty"`
	NumCtx        int     `json:"num_ctx,omitempty"`
}

// GenerateResponse is the non-streaming response from /api/generate.
type GenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// TagsResponse is the response from /api/tags.
type TagsResponse struct {
	Models []TagModel `json:"models"`
}

// TagModel is one installed model in /api/tags.
type TagModel struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Generate sends a non-streaming generate request.
func (c *Client) Generate(ctx context.Context, model, prompt string, params Params) (string, error) {
	req := &GenerateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
		Options: &Options{
			Temperature:   params.Temperature,
			TopP:          params.TopP,
			TopK:          params.TopK,
			RepeatPenalty: params.RepeatPenalty,
			NumPredict:    params.MaxTokens,
			NumCtx:        DefaultContextWindow,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", transportFailure(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportFailure(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			return "", &Failure{Kind: FailureModelError, Detail: fmt.Sprintf("model service error [%d]: %s", resp.StatusCode, errResp.Error)}
		}
		return "", &Failure{Kind: FailureModelError, Detail: fmt.Sprintf("model service error [%d]: %s", resp.StatusCode, string(respBody))}
	}

	var result GenerateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &Failure{Kind: FailureModelError, Detail: "malformed model response", Cause: err}
	}

	text := strings.TrimSpace(result.Response)
	if text == "" {
		return "", &Failure{Kind: FailureModelError, Detail: "empty model response"}
	}
	return text, nil
}

// ListModels retrieves the installed models from /api/tags.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportFailure(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportFailure(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Failure{Kind: FailureModelError, Detail: fmt.Sprintf("model service error [%d]: %s", resp.StatusCode, string(respBody))}
	}

	var tags TagsResponse
	if err := json.Unmarshal(respBody, &tags); err != nil {
		return nil, &Failure{Kind: FailureModelError, Detail: "malformed tags response", Cause: err}
	}

	models := make([]Model, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, Model{
			Name:        m.Name,
			ModelID:     m.Name,
			Description: fmt.Sprintf("Ollama Model - Size: %s", formatSize(m.Size)),
		})
	}
	return models, nil
}

// Ping checks that Ollama answers on its root endpoint.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return transportFailure(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Failure{Kind: FailureUnreachable, Detail: "unexpected status from model service: " + resp.Status}
	}
	return nil
}

func formatSize(size int64) string {
	const unit = 1024
	if size <= 0 {
		return "Unknown"
	}
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
