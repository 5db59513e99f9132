package messages

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/bytedance/sonic"
)

// Inbound event types
const (
	TypeVoiceStart  = "voice.start"
	TypeVoiceChunk  = "voice.chunk"
	TypeVoiceStop   = "voice.stop"
	TypeVoiceCancel = "voice.cancel"

	TypeChatStart   = "chat.start"
	TypeChatMessage = "chat.message"
	TypeChatCancel  = "chat.cancel"

	TypeRealtimeStart  = "realtime.start"
	TypeRealtimeChunk  = "realtime.chunk"
	TypeRealtimeStop   = "realtime.stop"
	TypeRealtimeCancel = "realtime.cancel"

	TypePing = "ping"
)

var (
	ErrMalformed      = errors.New("malformed message")
	ErrMissingField   = errors.New("missing required field")
	ErrUnknownMessage = errors.New("unknown message type")
)

// ClientMessage represents a message from frontend client
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// VoiceStartPayload begins a recording
type VoiceStartPayload struct {
	SessionID      string `json:"sessionId,omitempty"`
	OrderSessionID string `json:"orderSessionId,omitempty"`
	Format         string `json:"format,omitempty"` // "webm", "wav", "ogg", "pcm"
}

// ChunkPayload carries one base64 audio chunk
type ChunkPayload struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

// SessionPayload names the session a stop or cancel applies to
type SessionPayload struct {
	SessionID string `json:"sessionId"`
}

// ChatStartPayload opens or resumes a text chat
type ChatStartPayload struct {
	OrderSessionID string `json:"orderSessionId,omitempty"`
}

// ChatMessagePayload is one user text message
type ChatMessagePayload struct {
	OrderSessionID string `json:"orderSessionId"`
	Text           string `json:"text"`
	Stream         bool   `json:"stream,omitempty"`
}

// ChatCancelPayload discards a chat session
type ChatCancelPayload struct {
	OrderSessionID string `json:"orderSessionId"`
}

// RealtimeStartPayload begins a realtime transcription bridge
type RealtimeStartPayload struct {
	SessionID      string `json:"sessionId,omitempty"`
	OrderSessionID string `json:"orderSessionId,omitempty"`
	SampleRate     int    `json:"sampleRate,omitempty"`
}

// Parse decodes the envelope of an inbound frame
func Parse(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, ErrMalformed
	}
	if strings.TrimSpace(msg.Type) == "" {
		return nil, ErrMalformed
	}
	return &msg, nil
}

// Decode unmarshals the payload into v. A missing payload decodes to the zero value.
func (m *ClientMessage) Decode(v any) error {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return nil
	}
	if err := sonic.Unmarshal(m.Payload, v); err != nil {
		return ErrMalformed
	}
	return nil
}
