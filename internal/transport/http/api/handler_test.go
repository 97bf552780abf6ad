package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gochat/internal/adapter/llm"
	"github.com/xiaot623/gochat/internal/config"
	"github.com/xiaot623/gochat/internal/domain"
	"github.com/xiaot623/gochat/internal/policy"
	"github.com/xiaot623/gochat/internal/repository"
	"github.com/xiaot623/gochat/internal/service"
	"github.com/xiaot623/gochat/internal/session"
	"github.com/xiaot623/gochat/tests/helpers"
)

type stubLLM struct {
	models  []llm.Model
	listErr error
	pingErr error
}

func (s *stubLLM) Generate(ctx context.Context, model, prompt string, params llm.Params) (string, error) {
	return "ok", nil
}

func (s *stubLLM) ListModels(ctx context.Context) ([]llm.Model, error) {
	return s.models, s.listErr
}

func (s *stubLLM) Ping(ctx context.Context) error {
	return s.pingErr
}

func newTestHandler(t *testing.T, client llm.InferenceClient) (*Handler, *store.SQLiteStore, *session.Registry) {
	t.Helper()
	cfg := config.Default()
	db := helpers.NewTestSQLiteStore(t)
	policyEngine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	registry := session.NewRegistry(db, cfg.RecentTurns, cfg.SessionIdleTimeout)
	svc := service.New(db, client, registry, cfg, policyEngine)
	return NewHandler(svc), db, registry
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
}

func TestModelsFallsBackToDefault(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t, &stubLLM{listErr: errors.New("connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	rec := httptest.NewRecorder()
	if err := h.ListModels(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	var resp struct {
		Models []llm.Model `json:"models"`
	}
	decode(t, rec, &resp)
	if len(resp.Models) != 1 || resp.Models[0].ModelID != "gpt-oss:20b" {
		t.Fatalf("unexpected models: %+v", resp.Models)
	}
}

func TestModelsFromBackend(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t, &stubLLM{models: []llm.Model{{Name: "llama3", ModelID: "llama3"}}})

	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	rec := httptest.NewRecorder()
	if err := h.ListModels(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	var resp struct {
		Models []llm.Model `json:"models"`
	}
	decode(t, rec, &resp)
	if len(resp.Models) != 1 || resp.Models[0].ModelID != "llama3" {
		t.Fatalf("unexpected models: %+v", resp.Models)
	}
}

func TestStatusReportsBackend(t *testing.T) {
	e := echo.New()
	h, _, registry := newTestHandler(t, &stubLLM{pingErr: errors.New("down")})
	if _, err := registry.GetOrCreate(context.Background(), "s1"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	if err := h.Status(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	var resp service.StatusReport
	decode(t, rec, &resp)
	if resp.Ollama != "unreachable" || resp.Sessions != 1 || resp.Connections != 0 {
		t.Fatalf("unexpected status: %+v", resp)
	}
}

func TestPresets(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t, &stubLLM{})

	req := httptest.NewRequest(http.MethodGet, "/presets", nil)
	rec := httptest.NewRecorder()
	if err := h.ListPresets(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	var resp struct {
		Presets []domain.GenerationStyle `json:"presets"`
	}
	decode(t, rec, &resp)
	if len(resp.Presets) != 4 || resp.Presets[0].Name != "balanced" {
		t.Fatalf("unexpected presets: %+v", resp.Presets)
	}
}

func TestConversationLifecycle(t *testing.T) {
	e := echo.New()
	h, db, _ := newTestHandler(t, &stubLLM{})
	helpers.SeedExchange(t, db, "s1", "how do websockets reconnect?", "with a retry loop")
	time.Sleep(5 * time.Millisecond)
	helpers.SeedExchange(t, db, "s2", "what is a goroutine", "a lightweight thread")

	// List
	req := httptest.NewRequest(http.MethodGet, "/conversations?limit=10", nil)
	rec := httptest.NewRecorder()
	if err := h.ListConversations(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var list struct {
		Conversations []domain.Conversation `json:"conversations"`
		Total         int                   `json:"total"`
	}
	decode(t, rec, &list)
	if list.Total != 2 || list.Conversations[0].SessionID != "s2" {
		t.Fatalf("unexpected list: %+v", list)
	}

	// Search
	req = httptest.NewRequest(http.MethodGet, "/conversations/search?q=RETRY", nil)
	rec = httptest.NewRecorder()
	if err := h.SearchConversations(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var found struct {
		Conversations []domain.Conversation `json:"conversations"`
	}
	decode(t, rec, &found)
	if len(found.Conversations) != 1 || found.Conversations[0].SessionID != "s1" {
		t.Fatalf("unexpected search result: %+v", found)
	}

	// Get
	req = httptest.NewRequest(http.MethodGet, "/conversations/s1", nil)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("session_id")
	c.SetParamValues("s1")
	if err := h.GetConversation(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var conv domain.Conversation
	decode(t, rec, &conv)
	if conv.Title != "how do websockets reconnect?" || len(conv.Turns) != 2 {
		t.Fatalf("unexpected conversation: %+v", conv)
	}

	// Rename
	req = httptest.NewRequest(http.MethodPut, "/conversations/s1/title", strings.NewReader(`{"title":"Reconnects"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("session_id")
	c.SetParamValues("s1")
	if err := h.UpdateConversationTitle(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got, err := db.GetConversation(context.Background(), "s1")
	if err != nil || got == nil || got.Title != "Reconnects" {
		t.Fatalf("title not updated: %+v, %v", got, err)
	}

	// Delete
	req = httptest.NewRequest(http.MethodDelete, "/conversations/s1", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("session_id")
	c.SetParamValues("s1")
	if err := h.DeleteConversation(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/conversations/s1", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("session_id")
	c.SetParamValues("s1")
	if err := h.GetConversation(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestUpdateTitleValidation(t *testing.T) {
	e := echo.New()
	h, db, _ := newTestHandler(t, &stubLLM{})
	helpers.SeedExchange(t, db, "s1", "hello", "hi")

	cases := []struct {
		name string
		id   string
		body string
		want int
	}{
		{"empty title", "s1", `{"title":"   "}`, http.StatusBadRequest},
		{"bad json", "s1", `{"title":`, http.StatusBadRequest},
		{"unknown conversation", "nope", `{"title":"x"}`, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/conversations/"+tc.id+"/title", strings.NewReader(tc.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("session_id")
			c.SetParamValues(tc.id)
			if err := h.UpdateConversationTitle(c); err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	e := echo.New()
	h, _, _ := newTestHandler(t, &stubLLM{})

	req := httptest.NewRequest(http.MethodGet, "/conversations/search", nil)
	rec := httptest.NewRecorder()
	if err := h.SearchConversations(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSessionHistory(t *testing.T) {
	e := echo.New()
	h, db, registry := newTestHandler(t, &stubLLM{})

	// Unknown sessions are not created by reading their history.
	req := httptest.NewRequest(http.MethodGet, "/sessions/s1/history", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("session_id")
	c.SetParamValues("s1")
	if err := h.GetSessionHistory(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if _, ok := registry.Lookup("s1"); ok {
		t.Fatalf("history lookup must not create a session")
	}

	helpers.SeedExchange(t, db, "s1", "hello", "hi")
	if _, err := registry.GetOrCreate(context.Background(), "s1"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/sessions/s1/history", nil), rec)
	c.SetParamNames("session_id")
	c.SetParamValues("s1")
	if err := h.GetSessionHistory(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var resp struct {
		Turns           []domain.Turn          `json:"turns"`
		Count           int                    `json:"count"`
		Connected       bool                   `json:"connected"`
		GenerationState domain.GenerationState `json:"generation_state"`
	}
	decode(t, rec, &resp)
	if resp.Count != 2 || resp.Turns[0].Content != "hello" {
		t.Fatalf("unexpected history: %+v", resp)
	}
	if resp.Connected || resp.GenerationState != domain.GenerationIdle {
		t.Fatalf("expected an idle detached session, got %+v", resp)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/sessions/s1/history", nil), rec)
	c.SetParamNames("session_id")
	c.SetParamValues("s1")
	if err := h.ClearSessionHistory(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	sess, _ := registry.Lookup("s1")
	if len(sess.RecentTurns()) != 0 {
		t.Fatalf("expected in-memory history to be cleared")
	}
	turns, err := db.GetTurns(context.Background(), "s1")
	if err != nil || len(turns) != 2 {
		t.Fatalf("persisted turns must survive a memory clear: %d, %v", len(turns), err)
	}
}
