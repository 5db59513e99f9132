package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/room4-2/OrderDesk/logging"
	"github.com/room4-2/OrderDesk/transcribe"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

const liveInstruction = `You are a silent transcription relay. Do not answer, greet or comment. Reply with nothing.`

// LiveDialer opens Gemini Live sessions used only for input transcription
type LiveDialer struct {
	client *genai.Client
	model  string
	logger *logging.Logger
}

// NewLiveDialer creates a dialer for realtime transcription over the Live API
func NewLiveDialer(client *genai.Client, model string, logger *logging.Logger) *LiveDialer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LiveDialer{client: client, model: model, logger: logger}
}

// Dial connects a Live session with input audio transcription enabled
func (d *LiveDialer) Dial(ctx context.Context, opts transcribe.StreamOptions, handler transcribe.StreamHandler) (transcribe.Stream, error) {
	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityText},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: liveInstruction}},
		},
		InputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}

	session, err := d.client.Live.Connect(ctx, d.model, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Live API: %w", classify(err))
	}

	rate := opts.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	stream := &LiveStream{
		session:  session,
		handler:  handler,
		mimeType: fmt.Sprintf("audio/pcm;rate=%d", rate),
		logger:   d.logger.Session(opts.SessionID),
	}
	stream.logger.Info("connected to Gemini Live", logrus.Fields{"model": d.model})

	go stream.receive()
	return stream, nil
}

// LiveStream is one Live session relaying input transcription
type LiveStream struct {
	session  *genai.Session
	handler  transcribe.StreamHandler
	mimeType string
	logger   *logging.Logger

	mu      sync.RWMutex
	closed  bool
	pending strings.Builder
}

func (s *LiveStream) receive() {
	for {
		msg, err := s.session.Receive()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.closed = true
			s.mu.Unlock()

			if closed {
				s.notifyClose(nil)
				return
			}
			s.logger.Warn("Gemini Live receive error", logrus.Fields{"error": err.Error()})
			s.notifyClose(err)
			return
		}
		s.handleMessage(msg)
	}
}

func (s *LiveStream) handleMessage(msg *genai.LiveServerMessage) {
	if msg.GoAway != nil {
		s.logger.Debug("Gemini Live sent go-away")
	}
	content := msg.ServerContent
	if content == nil {
		return
	}

	if tr := content.InputTranscription; tr != nil {
		if tr.Text != "" {
			s.mu.Lock()
			s.pending.WriteString(tr.Text)
			text := s.pending.String()
			s.mu.Unlock()
			if s.handler.OnPartial != nil {
				s.handler.OnPartial(strings.TrimSpace(text))
			}
		}
		if tr.Finished {
			s.flushFinal()
		}
	}

	if content.TurnComplete {
		s.flushFinal()
	}
}

func (s *LiveStream) flushFinal() {
	s.mu.Lock()
	text := strings.TrimSpace(s.pending.String())
	s.pending.Reset()
	s.mu.Unlock()

	if text != "" && s.handler.OnFinal != nil {
		s.handler.OnFinal(text)
	}
}

func (s *LiveStream) notifyClose(err error) {
	if s.handler.OnClose != nil {
		s.handler.OnClose(err)
	}
}

// SendAudio forwards one PCM chunk
func (s *LiveStream) SendAudio(audio []byte) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return transcribe.ErrStreamClosed
	}

	err := s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{
			MIMEType: s.mimeType,
			Data:     audio,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// Commit signals the end of the audio stream so Gemini finishes the transcription
func (s *LiveStream) Commit() error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return transcribe.ErrStreamClosed
	}

	if err := s.session.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true}); err != nil {
		return fmt.Errorf("failed to send audio stream end: %w", err)
	}
	return nil
}

// Close terminates the Live connection
func (s *LiveStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.session.Close()
}
