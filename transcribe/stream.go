package transcribe

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned when writing to a stream that has shut down
var ErrStreamClosed = errors.New("transcription stream closed")

// StreamHandler receives events from a realtime transcription stream. Callbacks
// run on the stream's receive goroutine and must not block.
type StreamHandler struct {
	OnPartial func(text string)
	OnFinal   func(text string)
	// OnClose is called once when the remote side ends the stream. err is nil
	// for a clean close requested through Close.
	OnClose func(err error)
}

// Stream is one persistent connection to a low-latency transcription service
type Stream interface {
	SendAudio(audio []byte) error
	// Commit tells the service the utterance is complete so it flushes a final
	Commit() error
	Close() error
}

// StreamDialer opens realtime transcription streams
type StreamDialer interface {
	Dial(ctx context.Context, opts StreamOptions, handler StreamHandler) (Stream, error)
}

// StreamOptions describes the audio sent on a stream
type StreamOptions struct {
	SessionID  string
	Encoding   string
	SampleRate int
	Language   string
}
