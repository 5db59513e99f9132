package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/room4-2/OrderDesk/audio"
	"github.com/room4-2/OrderDesk/auth"
	"github.com/room4-2/OrderDesk/config"
	"github.com/room4-2/OrderDesk/conversation"
	"github.com/room4-2/OrderDesk/functions"
	"github.com/room4-2/OrderDesk/llm"
	"github.com/room4-2/OrderDesk/metrics"
	"github.com/room4-2/OrderDesk/session"
	"github.com/room4-2/OrderDesk/store"
	"github.com/room4-2/OrderDesk/transcribe"
)

type echoModel struct{}

func (echoModel) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	last := req.Messages[len(req.Messages)-1]
	return &llm.Response{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: "you said: " + last.Content},
		FinishReason: "stop",
	}, nil
}

func (m echoModel) Stream(ctx context.Context, req llm.Request, onChunk llm.StreamFunc) (*llm.Response, error) {
	resp, err := m.Complete(ctx, req)
	if err == nil {
		onChunk(resp.Message.Content)
	}
	return resp, err
}

type silentSTT struct{}

func (silentSTT) Transcribe(context.Context, []byte, transcribe.Request) (string, error) {
	return "", nil
}

type wireMessage struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Payload   map[string]any `json:"payload"`
}

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*httptest.Server, *auth.Authenticator) {
	t.Helper()
	cfg := config.Default()
	cfg.AllowedOrigins = []string{"http://allowed.example"}

	m := metrics.New("orderdesk_test")
	repo := store.NewMemoryRepository()
	buffers := audio.NewManager(audio.Options{})
	scheduler := transcribe.NewScheduler(buffers, silentSTT{}, transcribe.Config{}, nil, m)
	orders := session.NewOrderStore(session.OrderStoreOptions{})
	executor := functions.NewLocalExecutor(functions.NewMenuCatalog(functions.DefaultMenu()), repo, nil, m)
	loop := conversation.NewLoop(echoModel{}, executor, functions.Declarations(), 5)
	turns := session.NewTurns(orders, loop, repo, session.TurnOptions{}, nil, m)

	handlers := session.Handlers{
		Voice:    session.NewVoice(buffers, scheduler, orders, turns, nil, m),
		Chat:     session.NewChat(orders, turns, nil, m),
		Realtime: session.NewRealtime(nil, orders, turns, session.RealtimeOptions{}, nil, m),
		Orders:   orders,
	}
	manager := session.NewManager(session.ManagerOptions{MaxSessions: 2, KeepAlive: time.Minute}, handlers, nil, nil, m)
	authenticator := auth.NewAuthenticator(testSecret, "")
	srv := NewServerWebsocket(cfg, manager, authenticator, m, nil)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		manager.Shutdown()
		ts.Close()
	})
	return ts, authenticator
}

func dial(t *testing.T, ts *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) wireMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("expected %s, read failed: %v", msgType, err)
		}
		var msg wireMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			t.Fatalf("expected JSON event, got %s", data)
		}
		if msg.Type == msgType {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	data, err := sonic.Marshal(map[string]any{"type": msgType, "payload": payload})
	if err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	ts, _ := newTestServer(t)

	_, resp, err := dial(t, ts, "")
	if err == nil {
		t.Fatalf("expected the upgrade to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}

	_, resp, err = dial(t, ts, "not-a-jwt")
	if err == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a garbage token")
	}
}

func TestWebSocketChatRoundTrip(t *testing.T) {
	ts, authenticator := newTestServer(t)
	token, err := authenticator.Issue(auth.Identity{UserID: "u1", TenantID: "t1"}, time.Minute)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	conn, _, err := dial(t, ts, token)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	status := readUntil(t, conn, "status")
	if status.Payload["status"] != "connected" {
		t.Fatalf("expected connected status, got %+v", status.Payload)
	}

	send(t, conn, "ping", nil)
	readUntil(t, conn, "pong")

	send(t, conn, "chat.message", map[string]any{"orderSessionId": "os-1", "text": "hello"})
	resp := readUntil(t, conn, "chat.response")
	if resp.Payload["text"] != "you said: hello" || resp.Payload["orderSessionId"] != "os-1" {
		t.Fatalf("unexpected chat response %+v", resp.Payload)
	}

	send(t, conn, "bogus.type", map[string]any{})
	errMsg := readUntil(t, conn, "error")
	if errMsg.Payload["code"] != "INVALID_MESSAGE" {
		t.Fatalf("expected INVALID_MESSAGE, got %+v", errMsg.Payload)
	}

	send(t, conn, "realtime.start", map[string]any{"sessionId": "r1"})
	errMsg = readUntil(t, conn, "error")
	if errMsg.Payload["code"] != "REALTIME_ERROR" {
		t.Fatalf("expected REALTIME_ERROR without a provider, got %+v", errMsg.Payload)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	ts, authenticator := newTestServer(t)
	token, _ := authenticator.Issue(auth.Identity{UserID: "u1", TenantID: "t1"}, time.Minute)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Origin", "http://evil.example")
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatalf("expected a foreign origin to be refused")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthy response, got %v %v", resp, err)
	}
	var body map[string]any
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&body); err != nil || body["status"] != "ok" {
		t.Fatalf("unexpected health body %+v %v", body, err)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("expected metrics endpoint, got %v %v", resp, err)
	}
	resp.Body.Close()
}
