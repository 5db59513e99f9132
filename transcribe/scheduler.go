package transcribe

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/room4-2/OrderDesk/audio"
	"github.com/room4-2/OrderDesk/logging"
	"github.com/room4-2/OrderDesk/metrics"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrSessionGone is returned when the audio session disappeared while a
// transcription call was in flight
var ErrSessionGone = errors.New("audio session no longer exists")

// Request carries the hints sent with the audio
type Request struct {
	Format   string
	Language string
}

// Transcriber is the speech-to-text capability
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, req Request) (string, error)
}

// Partial is an incremental transcript for one audio session
type Partial struct {
	SessionID      string
	OrderSessionID string
	Text           string
	// Chunks is the number of chunks the transcript covers
	Chunks int
}

// Config holds the partial policy and the language hint
type Config struct {
	Interval  time.Duration
	MinChunks int
	MinBytes  int
	Language  string
	// CallTimeout bounds a single speech-to-text call
	CallTimeout time.Duration
}

// Scheduler runs partial passes alongside recording and the final pass on stop
type Scheduler struct {
	audio   *audio.Manager
	stt     Transcriber
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.Metrics

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler over the given buffers
func NewScheduler(buffers *audio.Manager, stt Transcriber, cfg Config, logger *logging.Logger, m *metrics.Metrics) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MinChunks <= 0 {
		cfg.MinChunks = 4
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 64 * 1024
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{
		audio:   buffers,
		stt:     stt,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// MaybePartial is called after every successful append. When the partial
// policy is met and no pass is in flight it starts one in the background and
// returns true. It never blocks on the transcriber.
func (s *Scheduler) MaybePartial(ctx context.Context, sessionID string, emit func(Partial)) bool {
	policy := audio.PartialPolicy{Interval: s.cfg.Interval, MinChunks: s.cfg.MinChunks}
	if !s.audio.ClaimPartial(sessionID, policy) {
		return false
	}

	// the pass outlives the triggering event but not the process
	ctx = context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.audio.EndPartial(sessionID)
		s.runPartial(ctx, sessionID, emit)
	}()
	return true
}

func (s *Scheduler) runPartial(ctx context.Context, sessionID string, emit func(Partial)) {
	log := s.logger.Session(sessionID)

	data, upTo, err := s.audio.SinceLastCheckpoint(sessionID)
	if err != nil {
		s.metrics.RecordPartial("gone")
		return
	}
	if len(data) < s.cfg.MinBytes {
		// not enough signal for a reliable partial
		s.metrics.RecordPartial("skipped")
		return
	}

	stats, _ := s.audio.Stats(sessionID)

	ctx, span := tracer.Start(ctx, "transcribe.partial")
	defer span.End()
	span.SetAttributes(attribute.Int("audio.bytes", len(data)), attribute.Int("audio.chunks", upTo))

	text, err := s.call(ctx, "partial", data, stats.Format)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("partial transcription failed", logrus.Fields{"error": err.Error()})
		s.metrics.RecordPartial("failed")
		return
	}

	if err := s.audio.MarkCheckpointAt(sessionID, upTo); err != nil {
		log.Debug("dropping partial for closed session")
		s.metrics.RecordPartial("gone")
		return
	}

	text = strings.TrimSpace(text)
	s.metrics.RecordPartial("ok")
	if text == "" || emit == nil {
		return
	}
	emit(Partial{
		SessionID:      sessionID,
		OrderSessionID: stats.OrderSessionID,
		Text:           text,
		Chunks:         upTo,
	})
}

// Final merges the whole buffer and transcribes it. The returned text is
// trimmed; an empty string means no speech was detected.
func (s *Scheduler) Final(ctx context.Context, sessionID string) (string, error) {
	merged, err := s.audio.MergeFinal(sessionID)
	if err != nil {
		return "", err
	}
	stats, _ := s.audio.Stats(sessionID)

	ctx, span := tracer.Start(ctx, "transcribe.final")
	defer span.End()
	span.SetAttributes(attribute.Int("audio.bytes", len(merged)), attribute.Int("audio.chunks", stats.Chunks))

	text, err := s.call(ctx, "final", merged, stats.Format)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if !s.audio.Exists(sessionID) {
		return "", ErrSessionGone
	}
	return strings.TrimSpace(text), nil
}

func (s *Scheduler) call(ctx context.Context, pass string, data []byte, format string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	text, err := s.stt.Transcribe(ctx, data, Request{Format: format, Language: s.cfg.Language})
	s.metrics.RecordTranscription(pass, time.Since(start))
	return text, err
}

// Wait blocks until every background partial pass has returned
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
