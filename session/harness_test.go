package session

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/room4-2/OrderDesk/audio"
	"github.com/room4-2/OrderDesk/auth"
	"github.com/room4-2/OrderDesk/conversation"
	"github.com/room4-2/OrderDesk/functions"
	"github.com/room4-2/OrderDesk/llm"
	"github.com/room4-2/OrderDesk/messages"
	"github.com/room4-2/OrderDesk/store"
	"github.com/room4-2/OrderDesk/transcribe"
)

// recorder collects outbound events
type recorder struct {
	mu     sync.Mutex
	msgs   []*messages.ServerMessage
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 1)}
}

func (r *recorder) Send(msg *messages.ServerMessage) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) all() []*messages.ServerMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*messages.ServerMessage(nil), r.msgs...)
}

func (r *recorder) types() []string {
	var out []string
	for _, msg := range r.all() {
		out = append(out, msg.Type)
	}
	return out
}

func (r *recorder) find(msgType string) *messages.ServerMessage {
	for _, msg := range r.all() {
		if msg.Type == msgType {
			return msg
		}
	}
	return nil
}

func (r *recorder) waitFor(t *testing.T, msgType string) *messages.ServerMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if msg := r.find(msgType); msg != nil {
			return msg
		}
		select {
		case <-r.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("expected a %s event, got %v", msgType, r.types())
			return nil
		}
	}
}

func errorCode(msg *messages.ServerMessage) string {
	if msg == nil {
		return ""
	}
	payload, ok := msg.Payload.(messages.ErrorPayload)
	if !ok {
		return ""
	}
	return payload.Code
}

// stubSTT returns a fixed transcript and optionally blocks until released
type stubSTT struct {
	text    string
	err     error
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (s *stubSTT) Transcribe(ctx context.Context, _ []byte, _ transcribe.Request) (string, error) {
	s.calls.Add(1)
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	return s.text, s.err
}

// orderingModel asks for a cart on the first request of a turn and answers
// in plain text once the tool result is in
type orderingModel struct {
	calls atomic.Int32
	fail  error
}

func (m *orderingModel) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.calls.Add(1)
	if m.fail != nil {
		return nil, m.fail
	}
	usage := llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	last := req.Messages[len(req.Messages)-1]
	if last.Role == llm.RoleUser && len(req.Tools) > 0 {
		return &llm.Response{
			Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{
				ID:        "call-1",
				Name:      functions.CalculateCart,
				Arguments: `{"items":[{"name":"Classic Burger","quantity":2}]}`,
			}}},
			FinishReason: "tool_calls",
			Usage:        usage,
		}, nil
	}
	return &llm.Response{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: "Two classic burgers, that comes to 17 dollars."},
		FinishReason: "stop",
		Usage:        usage,
	}, nil
}

func (m *orderingModel) Stream(ctx context.Context, req llm.Request, onChunk llm.StreamFunc) (*llm.Response, error) {
	resp, err := m.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, word := range strings.SplitAfter(resp.Message.Content, " ") {
		onChunk(word)
	}
	return resp, nil
}

type harness struct {
	audio     *audio.Manager
	scheduler *transcribe.Scheduler
	orders    *OrderStore
	turns     *Turns
	voice     *Voice
	chat      *Chat
	model     *orderingModel
	stt       *stubSTT
	repo      *store.MemoryRepository
	out       *recorder
	peer      Peer
}

func newHarness(t *testing.T, stt *stubSTT) *harness {
	t.Helper()
	h := &harness{
		audio:  audio.NewManager(audio.Options{MaxBufferSize: 1024 * 1024}),
		orders: NewOrderStore(OrderStoreOptions{}),
		model:  &orderingModel{},
		stt:    stt,
		repo:   store.NewMemoryRepository(),
		out:    newRecorder(),
	}
	// partial passes are exercised in the transcribe package
	h.scheduler = transcribe.NewScheduler(h.audio, stt, transcribe.Config{Interval: time.Hour}, nil, nil)

	executor := functions.NewLocalExecutor(functions.NewMenuCatalog(functions.DefaultMenu()), h.repo, nil, nil)
	loop := conversation.NewLoop(h.model, executor, functions.Declarations(), 10)
	h.turns = NewTurns(h.orders, loop, h.repo, TurnOptions{}, nil, nil)
	h.voice = NewVoice(h.audio, h.scheduler, h.orders, h.turns, nil, nil)
	h.chat = NewChat(h.orders, h.turns, nil, nil)
	h.peer = Peer{
		ConnectionID: "conn-1",
		Identity:     auth.Identity{UserID: "user-1", TenantID: "tenant-1"},
		Out:          h.out,
	}
	return h
}

func chunkOf(size int) string {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return base64.StdEncoding.EncodeToString(data)
}
