package messages

import (
	"time"

	"github.com/room4-2/OrderDesk/store"
)

// Error codes
const (
	ErrCodeSessionNotFound      = "SESSION_NOT_FOUND"
	ErrCodeSessionExists        = "SESSION_EXISTS"
	ErrCodeInvalidMessage       = "INVALID_MESSAGE"
	ErrCodeInvalidChunk         = "INVALID_CHUNK"
	ErrCodeAudioTooShort        = "AUDIO_TOO_SHORT"
	ErrCodeNoAudioData          = "NO_AUDIO_DATA"
	ErrCodeBufferLimitExceeded  = "BUFFER_LIMIT_EXCEEDED"
	ErrCodeTranscriptionError   = "TRANSCRIPTION_ERROR"
	ErrCodeOrderProcessingError = "ORDER_PROCESSING_ERROR"
	ErrCodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	ErrCodeRealtimeError        = "REALTIME_ERROR"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeRateLimited          = "RATE_LIMITED"
)

// Outbound event types
const (
	TypeVoiceStarted       = "voice.started"
	TypeVoiceChunkReceived = "voice.chunk_received"
	TypeVoicePartial       = "voice.partial"
	TypeVoiceTranscript    = "voice.transcript"
	TypeVoiceResponse      = "voice.response"
	TypeVoiceCancelled     = "voice.cancelled"

	TypeChatStarted   = "chat.started"
	TypeChatDelta     = "chat.delta"
	TypeChatResponse  = "chat.response"
	TypeChatCancelled = "chat.cancelled"

	TypeRealtimeStarted   = "realtime.started"
	TypeRealtimePartial   = "realtime.transcript.partial"
	TypeRealtimeFinal     = "realtime.transcript.final"
	TypeRealtimeCommitted = "realtime.committed"
	TypeRealtimeCancelled = "realtime.cancelled"
	TypeRealtimeClosed    = "realtime.closed"
	TypeRealtimeResponse  = "realtime.response"

	TypePong   = "pong"
	TypeStatus = "status"
	TypeError  = "error"
)

// NoSpeechReply is sent instead of a model reply when the transcript is empty
const NoSpeechReply = "I didn't catch anything. Could you say that again?"

// CappedReply is sent when the tool round limit ends a turn without any reply text
const CappedReply = "Sorry, I'm still working through that order. Could you confirm what you'd like?"

// ServerMessage represents a message sent to frontend client
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// StartedPayload acknowledges a start event
type StartedPayload struct {
	SessionID      string `json:"sessionId"`
	OrderSessionID string `json:"orderSessionId"`
	Format         string `json:"format,omitempty"`
}

// ChunkReceivedPayload acknowledges a chunk
type ChunkReceivedPayload struct {
	ChunkCount int `json:"chunkCount"`
	TotalSize  int `json:"totalSize"`
}

// TranscriptPayload carries a partial or final transcript
type TranscriptPayload struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// CartPayload is the cart view attached to turn responses
type CartPayload struct {
	Items    []store.OrderItem `json:"items"`
	Total    float64           `json:"total"`
	Currency string            `json:"currency,omitempty"`
}

// OrderPayload describes a placed order
type OrderPayload struct {
	OrderID     string  `json:"orderId"`
	OrderNumber string  `json:"orderNumber"`
	Total       float64 `json:"total"`
	Status      string  `json:"status,omitempty"`
}

// UsagePayload reports token usage for the turn
type UsagePayload struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ResponsePayload is the terminal event of a turn
type ResponsePayload struct {
	OrderSessionID string          `json:"orderSessionId"`
	Transcript     string          `json:"transcript,omitempty"`
	Text           string          `json:"text"`
	Cart           *CartPayload    `json:"cart,omitempty"`
	Order          *OrderPayload   `json:"order,omitempty"`
	Customer       *store.Customer `json:"customer,omitempty"`
	Completed      bool            `json:"completed"`
	Usage          *UsagePayload   `json:"usage,omitempty"`
	NoSpeech       bool            `json:"noSpeech,omitempty"`
}

// DeltaPayload is one streamed chat chunk
type DeltaPayload struct {
	OrderSessionID string `json:"orderSessionId"`
	Text           string `json:"text"`
}

// StatusPayload contains status updates
type StatusPayload struct {
	Status  string `json:"status"` // "connected", "disconnected"
	Message string `json:"message,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// New creates an outbound message stamped with the current time
func New(msgType, sessionID string, payload any) *ServerMessage {
	return &ServerMessage{
		Type:      msgType,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewStatusMessage creates a status message
func NewStatusMessage(sessionID, status, message string) *ServerMessage {
	return New(TypeStatus, sessionID, StatusPayload{Status: status, Message: message})
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return New(TypeError, sessionID, ErrorPayload{Code: code, Message: message})
}

// NewTranscriptMessage creates a partial or final transcript event
func NewTranscriptMessage(msgType, sessionID, text string, final bool) *ServerMessage {
	return New(msgType, sessionID, TranscriptPayload{Text: text, IsFinal: final})
}
