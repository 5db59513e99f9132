package messages

import (
	"errors"

	"github.com/room4-2/OrderDesk/audio"
	"github.com/room4-2/OrderDesk/conversation"
	"github.com/room4-2/OrderDesk/registry"
	"github.com/room4-2/OrderDesk/transcribe"
)

// Code maps an error to its stable wire code. Errors with no specific code
// get fallback.
func Code(err error, fallback string) string {
	switch {
	case err == nil:
		return fallback
	case errors.Is(err, ErrMalformed), errors.Is(err, ErrMissingField), errors.Is(err, ErrUnknownMessage):
		return ErrCodeInvalidMessage
	case errors.Is(err, audio.ErrSessionExists), errors.Is(err, registry.ErrExists):
		return ErrCodeSessionExists
	case errors.Is(err, audio.ErrSessionNotFound), errors.Is(err, registry.ErrNotFound),
		errors.Is(err, transcribe.ErrSessionGone):
		return ErrCodeSessionNotFound
	case errors.Is(err, audio.ErrInvalidChunk):
		return ErrCodeInvalidChunk
	case errors.Is(err, audio.ErrBufferLimitExceeded):
		return ErrCodeBufferLimitExceeded
	case errors.Is(err, audio.ErrNoAudioData):
		return ErrCodeNoAudioData
	case errors.Is(err, audio.ErrBufferTooSmall):
		return ErrCodeAudioTooShort
	case errors.Is(err, transcribe.ErrStreamClosed):
		return ErrCodeRealtimeError
	case conversation.IsUnavailable(err):
		return ErrCodeServiceUnavailable
	}
	var loopErr *conversation.Error
	if errors.As(err, &loopErr) {
		return ErrCodeOrderProcessingError
	}
	return fallback
}

// FromError builds an error event for err
func FromError(sessionID string, err error, fallback string) *ServerMessage {
	return NewErrorMessage(sessionID, Code(err, fallback), err.Error())
}
