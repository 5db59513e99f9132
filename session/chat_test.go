package session

import (
	"context"
	"strings"
	"testing"

	"github.com/room4-2/OrderDesk/messages"
)

func TestChatTurnUpdatesCart(t *testing.T) {
	h := newHarness(t, &stubSTT{})
	ctx := context.Background()

	h.chat.Start(ctx, h.peer, messages.ChatStartPayload{OrderSessionID: "os-1"})
	started := h.out.find(messages.TypeChatStarted)
	if started == nil || started.Payload.(*messages.ResponsePayload).Cart != nil {
		t.Fatalf("expected chat.started with an empty cart, got %+v", started)
	}

	h.chat.Send(ctx, h.peer, messages.ChatMessagePayload{OrderSessionID: "os-1", Text: "two classic burgers"})
	msg := h.out.find(messages.TypeChatResponse)
	if msg == nil {
		t.Fatalf("expected chat.response, got %v", h.out.types())
	}
	resp := msg.Payload.(*messages.ResponsePayload)
	if resp.Cart == nil || resp.Cart.Total != 17 || resp.Usage == nil || resp.Usage.TotalTokens != 30 {
		t.Fatalf("unexpected chat response %+v", resp)
	}

	// resuming reports the cart
	other := h.peer
	other.Out = newRecorder()
	h.chat.Start(ctx, other, messages.ChatStartPayload{OrderSessionID: "os-1"})
	resumed := other.Out.(*recorder).find(messages.TypeChatStarted).Payload.(*messages.ResponsePayload)
	if resumed.Cart == nil || len(resumed.Cart.Items) != 1 {
		t.Fatalf("expected resumed session to report its cart, got %+v", resumed)
	}
}

func TestChatStreamingSendsDeltas(t *testing.T) {
	h := newHarness(t, &stubSTT{})
	ctx := context.Background()

	h.chat.Send(ctx, h.peer, messages.ChatMessagePayload{OrderSessionID: "os-1", Text: "hello", Stream: true})

	var deltas []string
	for _, msg := range h.out.all() {
		if msg.Type == messages.TypeChatDelta {
			deltas = append(deltas, msg.Payload.(messages.DeltaPayload).Text)
		}
	}
	if len(deltas) < 2 {
		t.Fatalf("expected several deltas, got %v", h.out.types())
	}
	resp := h.out.find(messages.TypeChatResponse)
	if resp == nil {
		t.Fatalf("expected a final chat.response after deltas")
	}
	if strings.Join(deltas, "") != resp.Payload.(*messages.ResponsePayload).Text {
		t.Fatalf("expected deltas to add up to the reply, got %q", strings.Join(deltas, ""))
	}
	types := h.out.types()
	if types[len(types)-1] != messages.TypeChatResponse {
		t.Fatalf("expected chat.response last, got %v", types)
	}
}

func TestChatRejectsInvalidAndForeignSessions(t *testing.T) {
	h := newHarness(t, &stubSTT{})
	ctx := context.Background()

	h.chat.Send(ctx, h.peer, messages.ChatMessagePayload{OrderSessionID: "os-1", Text: "   "})
	if errorCode(h.out.find(messages.TypeError)) != messages.ErrCodeInvalidMessage {
		t.Fatalf("expected INVALID_MESSAGE for blank text")
	}

	h.chat.Start(ctx, h.peer, messages.ChatStartPayload{OrderSessionID: "os-1"})

	intruder := h.peer
	intruder.Identity.TenantID = "tenant-2"
	out := newRecorder()
	intruder.Out = out
	h.chat.Send(ctx, intruder, messages.ChatMessagePayload{OrderSessionID: "os-1", Text: "hi"})
	h.chat.Cancel(ctx, intruder, messages.ChatCancelPayload{OrderSessionID: "os-1"})
	for _, msg := range out.all() {
		if errorCode(msg) != messages.ErrCodeSessionNotFound {
			t.Fatalf("expected only SESSION_NOT_FOUND for another tenant, got %v", out.types())
		}
	}
	if len(out.all()) != 2 {
		t.Fatalf("expected two rejections, got %v", out.types())
	}
	if _, ok := h.orders.Get("os-1"); !ok {
		t.Fatalf("expected the session to survive a foreign cancel")
	}
	if h.model.calls.Load() != 0 {
		t.Fatalf("expected no model call for a foreign tenant")
	}
}

func TestChatCancelDiscardsSession(t *testing.T) {
	h := newHarness(t, &stubSTT{})
	ctx := context.Background()

	h.chat.Send(ctx, h.peer, messages.ChatMessagePayload{OrderSessionID: "os-1", Text: "two classic burgers"})
	h.chat.Cancel(ctx, h.peer, messages.ChatCancelPayload{OrderSessionID: "os-1"})
	if h.out.find(messages.TypeChatCancelled) == nil {
		t.Fatalf("expected chat.cancelled, got %v", h.out.types())
	}
	if _, ok := h.orders.Get("os-1"); ok {
		t.Fatalf("expected the order session to be gone")
	}
}
