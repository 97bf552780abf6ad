package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gochat/internal/adapter/llm"
	"github.com/xiaot623/gochat/internal/config"
	"github.com/xiaot623/gochat/internal/domain"
	"github.com/xiaot623/gochat/internal/policy"
	"github.com/xiaot623/gochat/internal/protocol"
	"github.com/xiaot623/gochat/internal/repository"
	"github.com/xiaot623/gochat/internal/service"
	"github.com/xiaot623/gochat/internal/session"
	"github.com/xiaot623/gochat/tests/helpers"
)

type scriptedLLM struct {
	mu       sync.Mutex
	generate func(ctx context.Context, prompt string) (string, error)
}

func (f *scriptedLLM) Generate(ctx context.Context, model, prompt string, params llm.Params) (string, error) {
	f.mu.Lock()
	gen := f.generate
	f.mu.Unlock()
	return gen(ctx, prompt)
}

func (f *scriptedLLM) ListModels(ctx context.Context) ([]llm.Model, error) { return nil, nil }
func (f *scriptedLLM) Ping(ctx context.Context) error                      { return nil }

type testServer struct {
	url      string
	store    *store.SQLiteStore
	registry *session.Registry
	svc      *service.Service
}

func newTestServer(t *testing.T, generate func(context.Context, string) (string, error), mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.HeartbeatInterval = time.Hour
	if mutate != nil {
		mutate(cfg)
	}

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	db := helpers.NewTestSQLiteStore(t)
	registry := session.NewRegistry(db, cfg.RecentTurns, cfg.SessionIdleTimeout)
	svc := service.New(db, &scriptedLLM{generate: generate}, registry, cfg, engine)

	e := echo.New()
	NewServer(cfg, svc).Register(e)
	server := httptest.NewServer(e)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
		server.Close()
	})

	return &testServer{
		url:      "ws" + strings.TrimPrefix(server.URL, "http"),
		store:    db,
		registry: registry,
		svc:      svc,
	}
}

func (ts *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.url+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev protocol.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func readNonSystem(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()
	for {
		ev := readEvent(t, conn)
		if ev.Type != protocol.TypeSystem {
			return ev
		}
	}
}

func expectOnline(t *testing.T, conn *websocket.Conn, sessionID string) protocol.Event {
	t.Helper()
	ev := readEvent(t, conn)
	require.Equal(t, protocol.TypeSystem, ev.Type)
	if sessionID != "" {
		require.Equal(t, sessionID, ev.SessionID)
	}
	return ev
}

func expectQuiet(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(wait))
	var ev protocol.Event
	if err := conn.ReadJSON(&ev); err == nil {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func sendJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func blockUntilDone(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestChatRoundTrip(t *testing.T) {
	ts := newTestServer(t, func(context.Context, string) (string, error) { return "hi there", nil }, nil)
	conn := ts.dial(t, "/ws/s1")
	expectOnline(t, conn, "s1")

	sendJSON(t, conn, map[string]string{"type": "chat", "message": "hello"})

	assert.Equal(t, protocol.TypeGenerationStart, readEvent(t, conn).Type)
	resp := readEvent(t, conn)
	assert.Equal(t, protocol.TypeAIResponse, resp.Type)
	assert.Equal(t, "hi there", resp.Message)
	assert.NotEmpty(t, resp.Timestamp)

	require.Eventually(t, func() bool {
		turns, err := ts.store.GetTurns(context.Background(), "s1")
		return err == nil && len(turns) == 2
	}, 2*time.Second, 10*time.Millisecond)
	turns, err := ts.store.GetTurns(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, "hi there", turns[1].Content)
}

func TestChatThenInterrupt(t *testing.T) {
	ts := newTestServer(t, blockUntilDone, nil)
	conn := ts.dial(t, "/ws/s1")
	expectOnline(t, conn, "s1")

	sendJSON(t, conn, map[string]string{"type": "chat", "message": "write a novel"})
	assert.Equal(t, protocol.TypeGenerationStart, readEvent(t, conn).Type)

	time.Sleep(100 * time.Millisecond)
	sendJSON(t, conn, map[string]string{"type": "interrupt"})

	ev := readNonSystem(t, conn)
	assert.Equal(t, protocol.TypeGenerationInterrupted, ev.Type)

	sess, ok := ts.registry.Lookup("s1")
	require.True(t, ok)
	require.Eventually(t, func() bool { return !sess.Generating() }, time.Second, 5*time.Millisecond)

	turns, err := ts.store.GetTurns(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestSecondChatWhileGeneratingGetsError(t *testing.T) {
	ts := newTestServer(t, blockUntilDone, nil)
	conn := ts.dial(t, "/ws/s1")
	expectOnline(t, conn, "s1")

	sendJSON(t, conn, map[string]string{"type": "chat", "message": "one"})
	assert.Equal(t, protocol.TypeGenerationStart, readEvent(t, conn).Type)

	sendJSON(t, conn, map[string]string{"type": "chat", "message": "two"})
	ev := readNonSystem(t, conn)
	assert.Equal(t, protocol.TypeError, ev.Type)
	assert.Equal(t, protocol.ErrorCodeGenerationInProgress, ev.Code)
	assert.Equal(t, "generation already in progress", ev.Message)
}

func TestMalformedMessagesKeepConnectionOpen(t *testing.T) {
	ts := newTestServer(t, func(context.Context, string) (string, error) { return "ok", nil }, nil)
	conn := ts.dial(t, "/ws/s1")
	expectOnline(t, conn, "s1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ev := readEvent(t, conn)
	assert.Equal(t, protocol.TypeError, ev.Type)
	assert.Equal(t, protocol.ErrorCodeInvalidMessage, ev.Code)

	sendJSON(t, conn, map[string]string{"type": "dance"})
	ev = readEvent(t, conn)
	assert.Equal(t, protocol.ErrorCodeInvalidMessage, ev.Code)

	sendJSON(t, conn, map[string]string{"type": "chat"})
	ev = readEvent(t, conn)
	assert.Equal(t, protocol.ErrorCodeInvalidMessage, ev.Code)

	sendJSON(t, conn, map[string]string{"type": "interrupt"})
	expectQuiet(t, conn, 50*time.Millisecond)

	sendJSON(t, conn, map[string]string{"type": "chat", "message": "still there?"})
	assert.Equal(t, protocol.TypeGenerationStart, readEvent(t, conn).Type)
	assert.Equal(t, protocol.TypeAIResponse, readEvent(t, conn).Type)
}

func TestNewConnectionSupersedesOld(t *testing.T) {
	ts := newTestServer(t, func(context.Context, string) (string, error) { return "ok", nil }, nil)

	first := ts.dial(t, "/ws/s1")
	expectOnline(t, first, "s1")

	second := ts.dial(t, "/ws/s1")
	expectOnline(t, second, "s1")

	notice := readEvent(t, first)
	assert.Equal(t, protocol.TypeSystem, notice.Type)
	assert.Contains(t, notice.Message, "another connection")

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, protocol.CloseCodeSuperseded), "unexpected close: %v", err)

	sendJSON(t, second, map[string]string{"type": "chat", "message": "hello"})
	assert.Equal(t, protocol.TypeGenerationStart, readEvent(t, second).Type)
	assert.Equal(t, protocol.TypeAIResponse, readEvent(t, second).Type)

	st := ts.registry.Stats()
	assert.Equal(t, 1, st.Sessions)
	assert.Equal(t, 1, st.Connected)
}

func TestSupersededChannelFramesAreDropped(t *testing.T) {
	ts := newTestServer(t, blockUntilDone, nil)
	server := NewServer(config.Default(), ts.svc)

	old := newChannel("s1", nil)
	sess, err := ts.registry.AttachChannel(context.Background(), "s1", old)
	require.NoError(t, err)
	current := newChannel("s1", nil)
	_, err = ts.registry.AttachChannel(context.Background(), "s1", current)
	require.NoError(t, err)
	require.Equal(t, domain.ChannelClosing, old.State())

	server.handleMessage(old, sess, []byte(`{"type":"chat","message":"from the old window"}`))
	assert.False(t, sess.Generating(), "a superseded connection must not start generations")

	server.handleMessage(current, sess, []byte(`{"type":"chat","message":"from the new window"}`))
	require.True(t, sess.Generating())

	server.handleMessage(old, sess, []byte(`{"type":"interrupt"}`))
	assert.True(t, sess.Generating(), "a superseded connection must not interrupt the new one")

	server.handleMessage(current, sess, []byte(`{"type":"interrupt"}`))
	require.Eventually(t, func() bool { return !sess.Generating() }, 2*time.Second, 5*time.Millisecond)
}

func TestReconnectDoesNotReplayDetachedCompletion(t *testing.T) {
	release := make(chan struct{})
	ts := newTestServer(t, func(ctx context.Context, _ string) (string, error) {
		<-release
		return "late answer", nil
	}, nil)

	first := ts.dial(t, "/ws/s1")
	expectOnline(t, first, "s1")
	sendJSON(t, first, map[string]string{"type": "chat", "message": "hello"})
	assert.Equal(t, protocol.TypeGenerationStart, readEvent(t, first).Type)
	first.Close()

	sess, ok := ts.registry.Lookup("s1")
	require.True(t, ok)
	require.Eventually(t, func() bool { return !sess.Connected() }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, sess.Generating(), "a dropped connection must not cancel the generation")

	close(release)
	require.Eventually(t, func() bool { return !sess.Generating() }, 2*time.Second, 5*time.Millisecond)

	second := ts.dial(t, "/ws/s1")
	expectOnline(t, second, "s1")
	expectQuiet(t, second, 100*time.Millisecond)

	assert.Len(t, sess.RecentTurns(), 2)
	turns, err := ts.store.GetTurns(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestServerGeneratedSessionID(t *testing.T) {
	ts := newTestServer(t, func(context.Context, string) (string, error) { return "ok", nil }, nil)
	conn := ts.dial(t, "/ws")

	ev := expectOnline(t, conn, "")
	assert.True(t, strings.HasPrefix(ev.SessionID, "sess_"), "unexpected session id %q", ev.SessionID)
	_, ok := ts.registry.Lookup(ev.SessionID)
	assert.True(t, ok)
}

func TestRateLimitedFrames(t *testing.T) {
	ts := newTestServer(t, func(context.Context, string) (string, error) { return "ok", nil }, func(cfg *config.Config) {
		cfg.MessageRate = 0.001
		cfg.MessageBurst = 1
	})
	conn := ts.dial(t, "/ws/s1")
	expectOnline(t, conn, "s1")

	sendJSON(t, conn, map[string]string{"type": "interrupt"})
	sendJSON(t, conn, map[string]string{"type": "interrupt"})

	ev := readEvent(t, conn)
	assert.Equal(t, protocol.TypeError, ev.Type)
	assert.Equal(t, protocol.ErrorCodeRateLimited, ev.Code)
}

func TestChannelSendAfterClose(t *testing.T) {
	ch := newChannel("s1", nil)
	require.NoError(t, ch.Send(protocol.GenerationStart()))

	ch.Close("test")
	assert.ErrorIs(t, ch.Send(protocol.GenerationStart()), ErrChannelClosed)
	ch.Close("again")

	ch.markClosed()
	assert.Equal(t, "CLOSED", string(ch.State()))
}

func TestChannelBufferFullCloses(t *testing.T) {
	ch := newChannel("s1", nil)
	for i := 0; i < sendBufferSize; i++ {
		require.NoError(t, ch.Send(protocol.GenerationStart()))
	}
	assert.ErrorIs(t, ch.Send(protocol.GenerationStart()), ErrBufferFull)
	assert.Equal(t, "CLOSING", string(ch.State()))

	select {
	case <-ch.done:
	default:
		t.Fatalf("expected channel to be closing")
	}
}
