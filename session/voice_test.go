package session

import (
	"context"
	"errors"
	"testing"

	"github.com/room4-2/OrderDesk/llm"
	"github.com/room4-2/OrderDesk/messages"
)

func startedPayload(t *testing.T, msg *messages.ServerMessage) messages.StartedPayload {
	t.Helper()
	if msg == nil {
		t.Fatalf("expected a started event")
	}
	p, ok := msg.Payload.(messages.StartedPayload)
	if !ok {
		t.Fatalf("expected StartedPayload, got %T", msg.Payload)
	}
	return p
}

func TestVoiceTurnEndToEnd(t *testing.T) {
	h := newHarness(t, &stubSTT{text: "  two classic burgers please "})
	ctx := context.Background()

	h.voice.Start(ctx, h.peer, messages.VoiceStartPayload{SessionID: "v1", Format: "webm"})
	started := startedPayload(t, h.out.find(messages.TypeVoiceStarted))
	if started.SessionID != "v1" || started.OrderSessionID == "" {
		t.Fatalf("unexpected started payload %+v", started)
	}

	for i := 0; i < 5; i++ {
		h.voice.Append(ctx, h.peer, messages.ChunkPayload{SessionID: "v1", Data: chunkOf(20 * 1024)})
	}
	h.voice.Stop(ctx, h.peer, messages.SessionPayload{SessionID: "v1"})

	types := h.out.types()
	want := []string{
		messages.TypeVoiceStarted,
		messages.TypeVoiceChunkReceived, messages.TypeVoiceChunkReceived, messages.TypeVoiceChunkReceived,
		messages.TypeVoiceChunkReceived, messages.TypeVoiceChunkReceived,
		messages.TypeVoiceTranscript,
		messages.TypeVoiceResponse,
	}
	if len(types) != len(want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, types)
		}
	}

	transcript := h.out.find(messages.TypeVoiceTranscript).Payload.(messages.TranscriptPayload)
	if transcript.Text != "two classic burgers please" || !transcript.IsFinal {
		t.Fatalf("unexpected transcript %+v", transcript)
	}

	resp := h.out.find(messages.TypeVoiceResponse).Payload.(*messages.ResponsePayload)
	if resp.Text == "" || resp.Transcript != transcript.Text {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Cart == nil || len(resp.Cart.Items) != 1 || resp.Cart.Total != 17 {
		t.Fatalf("expected priced cart in response, got %+v", resp.Cart)
	}

	if h.audio.Exists("v1") {
		t.Fatalf("expected audio session to be discarded after stop")
	}
	os, ok := h.orders.Get(started.OrderSessionID)
	if !ok {
		t.Fatalf("expected order session to survive the turn")
	}
	// user, assistant with tool call, tool result, final assistant
	if len(os.Messages) != 4 || os.Messages[0].Role != llm.RoleUser || os.Messages[2].Role != llm.RoleTool {
		t.Fatalf("unexpected order session history %+v", os.Messages)
	}
	chat, err := h.repo.FindChat(ctx, started.OrderSessionID)
	if err != nil || len(chat.Messages) != 4 {
		t.Fatalf("expected the turn to be persisted, got %+v %v", chat, err)
	}
}

func TestVoiceEmptyTranscriptSkipsConversation(t *testing.T) {
	h := newHarness(t, &stubSTT{text: "   "})
	ctx := context.Background()

	h.voice.Start(ctx, h.peer, messages.VoiceStartPayload{SessionID: "v1", Format: "webm"})
	for i := 0; i < 5; i++ {
		h.voice.Append(ctx, h.peer, messages.ChunkPayload{SessionID: "v1", Data: chunkOf(20 * 1024)})
	}
	h.voice.Stop(ctx, h.peer, messages.SessionPayload{SessionID: "v1"})

	if h.out.find(messages.TypeVoiceTranscript) != nil {
		t.Fatalf("expected no transcript event for empty speech, got %v", h.out.types())
	}
	resp := h.out.find(messages.TypeVoiceResponse)
	if resp == nil {
		t.Fatalf("expected a no-speech response, got %v", h.out.types())
	}
	payload := resp.Payload.(*messages.ResponsePayload)
	if !payload.NoSpeech || payload.Text != messages.NoSpeechReply {
		t.Fatalf("expected canned no-speech reply, got %+v", payload)
	}
	if calls := h.model.calls.Load(); calls != 0 {
		t.Fatalf("expected no model calls, got %d", calls)
	}
}

func TestVoiceDuplicateStartKeepsFirstBuffer(t *testing.T) {
	h := newHarness(t, &stubSTT{text: "hi"})
	ctx := context.Background()

	h.voice.Start(ctx, h.peer, messages.VoiceStartPayload{SessionID: "v1"})
	h.voice.Append(ctx, h.peer, messages.ChunkPayload{SessionID: "v1", Data: chunkOf(2048)})
	h.voice.Append(ctx, h.peer, messages.ChunkPayload{SessionID: "v1", Data: chunkOf(2048)})
	before, _ := h.audio.Stats("v1")

	h.voice.Start(ctx, h.peer, messages.VoiceStartPayload{SessionID: "v1"})

	last := h.out.all()[len(h.out.all())-1]
	if last.Type != messages.TypeError || errorCode(last) != messages.ErrCodeSessionExists {
		t.Fatalf("expected SESSION_EXISTS error, got %+v", last)
	}
	after, ok := h.audio.Stats("v1")
	if !ok || after.Chunks != before.Chunks || after.Bytes != before.Bytes || after.OrderSessionID != before.OrderSessionID {
		t.Fatalf("expected first buffer untouched, before %+v after %+v", before, after)
	}
}

func TestVoiceValidationAndOwnership(t *testing.T) {
	h := newHarness(t, &stubSTT{text: "hi"})
	ctx := context.Background()

	h.voice.Start(ctx, h.peer, messages.VoiceStartPayload{SessionID: "v1", Format: "aiff"})
	if errorCode(h.out.find(messages.TypeError)) != messages.ErrCodeInvalidMessage {
		t.Fatalf("expected unsupported format to be rejected, got %v", h.out.types())
	}
	if h.audio.Exists("v1") {
		t.Fatalf("expected no session for rejected start")
	}

	h.voice.Start(ctx, h.peer, messages.VoiceStartPayload{SessionID: "v1"})
	other := h.peer
	other.ConnectionID = "conn-2"
	other.Out = newRecorder()
	h.voice.Append(ctx, other, messages.ChunkPayload{SessionID: "v1", Data: chunkOf(16)})
	if errorCode(other.Out.(*recorder).find(messages.TypeError)) != messages.ErrCodeSessionNotFound {
		t.Fatalf("expected foreign connection to be refused")
	}

	h.voice.Append(ctx, h.peer, messages.ChunkPayload{SessionID: "v1", Data: "!!!"})
	msgs := h.out.all()
	if errorCode(msgs[len(msgs)-1]) != messages.ErrCodeInvalidChunk {
		t.Fatalf("expected INVALID_CHUNK, got %+v", msgs[len(msgs)-1])
	}
	if !h.audio.Exists("v1") {
		t.Fatalf("expected an invalid chunk to keep the session")
	}
}

func TestVoiceBufferLimitDiscardsRecording(t *testing.T) {
	h := newHarness(t, &stubSTT{text: "hi"})
	ctx := context.Background()

	h.voice.Start(ctx, h.peer, messages.VoiceStartPayload{SessionID: "v1"})
	orderSessionID := startedPayload(t, h.out.find(messages.TypeVoiceStarted)).OrderSessionID
	h.voice.Append(ctx, h.peer, messages.ChunkPayload{SessionID: "v1", Data: chunkOf(1024 * 1024)})
	h.voice.Append(ctx, h.peer, messages.ChunkPayload{SessionID: "v1", Data: chunkOf(1)})

	msgs := h.out.all()
	if errorCode(msgs[len(msgs)-1]) != messages.ErrCodeBufferLimitExceeded {
		t.Fatalf("expected BUFFER_LIMIT_EXCEEDED, got %v", h.out.types())
	}
	if h.audio.Exists("v1") {
		t.Fatalf("expected the recording to be discarded")
	}
	if _, ok := h.orders.Get(orderSessionID); !ok {
		t.Fatalf("expected the order session to survive a capacity error")
	}
}

func TestVoiceStopErrors(t *testing.T) {
	h := newHarness(t, &stubSTT{err: errors.New("stt down")})
	ctx := context.Background()

	h.voice.Stop(ctx, h.peer, messages.SessionPayload{SessionID: "missing"})
	if errorCode(h.out.find(messages.TypeError)) != messages.ErrCodeSessionNotFound {
		t.Fatalf("expected SESSION_NOT_FOUND for unknown session")
	}

	h.voice.Start(ctx, h.peer, messages.VoiceStartPayload{SessionID: "short"})
	h.voice.Append(ctx, h.peer, messages.ChunkPayload{SessionID: "short", Data: chunkOf(100)})
	h.voice.Stop(ctx, h.peer, messages.SessionPayload{SessionID: "short"})
	msgs := h.out.all()
	if errorCode(msgs[len(msgs)-1]) != messages.ErrCodeAudioTooShort {
		t.Fatalf("expected AUDIO_TOO_SHORT, got %+v", msgs[len(msgs)-1])
	}

	h.voice.Start(ctx, h.peer, messages.VoiceStartPayload{SessionID: "v2"})
	h.voice.Append(ctx, h.peer, messages.ChunkPayload{SessionID: "v2", Data: chunkOf(4096)})
	h.voice.Stop(ctx, h.peer, messages.SessionPayload{SessionID: "v2"})
	msgs = h.out.all()
	if errorCode(msgs[len(msgs)-1]) != messages.ErrCodeTranscriptionError {
		t.Fatalf("expected TRANSCRIPTION_ERROR, got %+v", msgs[len(msgs)-1])
	}
	if h.audio.Exists("v2") {
		t.Fatalf("expected audio session discarded after failed final pass")
	}
}

func TestVoiceCancelDuringFinalDropsResult(t *testing.T) {
	stt := &stubSTT{text: "one soda", entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := newHarness(t, stt)
	ctx := context.Background()

	h.voice.Start(ctx, h.peer, messages.VoiceStartPayload{SessionID: "v1"})
	h.voice.Append(ctx, h.peer, messages.ChunkPayload{SessionID: "v1", Data: chunkOf(4096)})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.voice.Stop(ctx, h.peer, messages.SessionPayload{SessionID: "v1"})
	}()

	<-stt.entered
	h.voice.Cancel(ctx, h.peer, messages.SessionPayload{SessionID: "v1"})
	close(stt.release)
	<-done

	if h.out.find(messages.TypeVoiceCancelled) == nil {
		t.Fatalf("expected cancel acknowledgement, got %v", h.out.types())
	}
	if h.out.find(messages.TypeVoiceTranscript) != nil || h.out.find(messages.TypeVoiceResponse) != nil {
		t.Fatalf("expected result of cancelled session to be dropped, got %v", h.out.types())
	}
	if h.model.calls.Load() != 0 {
		t.Fatalf("expected no conversation turn after cancel")
	}
}

func TestVoiceModelFailureKeepsOrderSession(t *testing.T) {
	h := newHarness(t, &stubSTT{text: "a burger"})
	h.model.fail = errors.New("boom")
	ctx := context.Background()

	h.voice.Start(ctx, h.peer, messages.VoiceStartPayload{SessionID: "v1", OrderSessionID: "os-1"})
	h.voice.Append(ctx, h.peer, messages.ChunkPayload{SessionID: "v1", Data: chunkOf(4096)})
	h.voice.Stop(ctx, h.peer, messages.SessionPayload{SessionID: "v1"})

	msgs := h.out.all()
	if errorCode(msgs[len(msgs)-1]) != messages.ErrCodeOrderProcessingError {
		t.Fatalf("expected ORDER_PROCESSING_ERROR, got %v", h.out.types())
	}
	os, ok := h.orders.Get("os-1")
	if !ok || len(os.Messages) != 0 {
		t.Fatalf("expected order session to survive untouched, got %+v %v", os, ok)
	}
}
