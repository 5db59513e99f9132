package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/room4-2/OrderDesk/logging"
	"github.com/room4-2/OrderDesk/transcribe"
	"github.com/sirupsen/logrus"
)

const (
	defaultListenURL = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"

	keepAliveInterval = 5 * time.Second

	typeFinalize  = "Finalize"
	typeKeepAlive = "KeepAlive"
	typeError     = "Error"
)

// Dialer opens Deepgram streaming transcription connections
type Dialer struct {
	APIKey string
	Model  string
	// URL overrides the listen endpoint
	URL    string
	Logger *logging.Logger
}

// NewDialer creates a dialer using the default endpoint and model
func NewDialer(apiKey string, logger *logging.Logger) *Dialer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dialer{APIKey: apiKey, Model: defaultModel, URL: defaultListenURL, Logger: logger}
}

func (d *Dialer) listenURL(opts transcribe.StreamOptions) (string, error) {
	base := d.URL
	if base == "" {
		base = defaultListenURL
	}
	listenURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid listen url: %w", err)
	}

	encoding := opts.Encoding
	if encoding == "" || encoding == "pcm" || encoding == "pcm16" {
		encoding = "linear16"
	}
	rate := opts.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	language := opts.Language
	if language == "" {
		language = "en"
	}
	model := d.Model
	if model == "" {
		model = defaultModel
	}

	query := listenURL.Query()
	query.Set("encoding", encoding)
	query.Set("sample_rate", strconv.Itoa(rate))
	query.Set("channels", "1")
	query.Set("model", model)
	query.Set("language", language)
	query.Set("smart_format", "true")
	query.Set("interim_results", "true")
	query.Set("utterance_end_ms", "1000")
	query.Set("endpointing", "300")
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}

// Dial connects and starts the receive loop
func (d *Dialer) Dial(ctx context.Context, opts transcribe.StreamOptions, handler transcribe.StreamHandler) (transcribe.Stream, error) {
	if d.APIKey == "" {
		return nil, fmt.Errorf("deepgram api key not configured")
	}
	target, err := d.listenURL(opts)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, http.Header{"Authorization": {"Token " + d.APIKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Stream{
		conn:      conn,
		handler:   handler,
		logger:    logger.Session(opts.SessionID),
		lastWrite: time.Now(),
		done:      make(chan struct{}),
	}
	go s.readMessages()
	go s.keepAlive()
	return s, nil
}

// Stream is one Deepgram listen connection
type Stream struct {
	conn    *websocket.Conn
	handler transcribe.StreamHandler
	logger  *logging.Logger

	connMu    sync.Mutex
	lastWrite time.Time

	mu          sync.Mutex
	accumulated []string
	committed   bool
	closed      bool

	done      chan struct{}
	closeOnce sync.Once
}

type controlMessage struct {
	Type string `json:"type"`
}

func (s *Stream) writeControl(msgType string) error {
	payload, err := sonic.Marshal(controlMessage{Type: msgType})
	if err != nil {
		return err
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.lastWrite = time.Now()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SendAudio forwards raw audio as a binary frame
func (s *Stream) SendAudio(audio []byte) error {
	if s.isClosed() {
		return transcribe.ErrStreamClosed
	}
	s.mu.Lock()
	s.committed = false
	s.mu.Unlock()

	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.lastWrite = time.Now()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram: %w", err)
	}
	return nil
}

// Commit asks Deepgram to finalize buffered audio; the next final result is
// delivered as the utterance transcript
func (s *Stream) Commit() error {
	if s.isClosed() {
		return transcribe.ErrStreamClosed
	}
	s.mu.Lock()
	s.committed = true
	s.mu.Unlock()

	if err := s.writeControl(typeFinalize); err != nil {
		return fmt.Errorf("failed to finalize deepgram stream: %w", err)
	}
	return nil
}

// Close sends CloseStream and tears the connection down
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.writeControl(string(api.TypeCloseStreamResponse))
	s.shutdown()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("failed to close deepgram stream: %w", err)
	}
	return nil
}

func (s *Stream) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.connMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.connMu.Unlock()
		_ = s.conn.Close()
	})
}

func (s *Stream) keepAlive() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			idle := time.Since(s.lastWrite)
			s.connMu.Unlock()
			if idle < keepAliveInterval {
				continue
			}
			if err := s.writeControl(typeKeepAlive); err != nil {
				s.logger.Debug("deepgram keepalive failed", logrus.Fields{"error": err.Error()})
			}
		}
	}
}

func (s *Stream) readMessages() {
	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			requested := s.isClosed()
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			s.shutdown()

			if requested || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.notifyClose(nil)
				return
			}
			s.logger.Warn("deepgram connection lost", logrus.Fields{"error": err.Error()})
			s.notifyClose(err)
			return
		}
		if msgType == websocket.BinaryMessage {
			continue
		}
		s.processMessage(msg)
	}
}

func (s *Stream) notifyClose(err error) {
	if s.handler.OnClose != nil {
		s.handler.OnClose(err)
	}
}

func (s *Stream) processMessage(msg []byte) {
	var parsed struct {
		Type        string `json:"type"`
		Description string `json:"description"`
		Message     string `json:"message"`
	}
	if err := sonic.Unmarshal(msg, &parsed); err != nil {
		s.logger.Warn("failed to unmarshal deepgram message", logrus.Fields{"error": err.Error()})
		return
	}

	switch api.TypeResponse(parsed.Type) {
	case api.TypeMessageResponse:
		var resp api.MessageResponse
		if err := sonic.Unmarshal(msg, &resp); err != nil {
			s.logger.Warn("failed to unmarshal deepgram result", logrus.Fields{"error": err.Error()})
			return
		}
		s.handleResult(&resp)

	case api.TypeUtteranceEndResponse:
		s.flushFinal()

	case typeError:
		s.logger.Error("deepgram reported an error", logrus.Fields{
			"description": parsed.Description,
			"message":     parsed.Message,
		})
	}
}

func (s *Stream) handleResult(resp *api.MessageResponse) {
	transcript := ""
	if len(resp.Channel.Alternatives) > 0 {
		transcript = strings.TrimSpace(resp.Channel.Alternatives[0].Transcript)
	}

	if !resp.IsFinal {
		if transcript == "" {
			return
		}
		s.mu.Lock()
		partial := strings.Join(append(append([]string{}, s.accumulated...), transcript), " ")
		s.mu.Unlock()
		if s.handler.OnPartial != nil {
			s.handler.OnPartial(partial)
		}
		return
	}

	s.mu.Lock()
	if transcript != "" {
		s.accumulated = append(s.accumulated, transcript)
	}
	flush := resp.SpeechFinal || s.committed
	current := strings.Join(s.accumulated, " ")
	s.mu.Unlock()

	if transcript != "" && !flush && s.handler.OnPartial != nil {
		s.handler.OnPartial(current)
	}
	if flush {
		s.flushFinal()
	}
}

func (s *Stream) flushFinal() {
	s.mu.Lock()
	text := strings.TrimSpace(strings.Join(s.accumulated, " "))
	s.accumulated = nil
	s.committed = false
	s.mu.Unlock()

	if text != "" && s.handler.OnFinal != nil {
		s.handler.OnFinal(text)
	}
}
