package session

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/room4-2/OrderDesk/audio"
	"github.com/room4-2/OrderDesk/logging"
	"github.com/room4-2/OrderDesk/messages"
	"github.com/room4-2/OrderDesk/metrics"
	"github.com/room4-2/OrderDesk/transcribe"
	"github.com/sirupsen/logrus"
)

// DefaultFormat is assumed when voice.start omits the container format
const DefaultFormat = "webm"

var supportedFormats = map[string]bool{
	"webm": true, "ogg": true, "wav": true, "mp3": true, "m4a": true, "flac": true, "pcm": true,
}

// Voice orchestrates recorded voice turns: buffer, partial passes, final
// transcription and the conversation turn
type Voice struct {
	audio     *audio.Manager
	scheduler *transcribe.Scheduler
	orders    *OrderStore
	turns     *Turns
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// NewVoice creates the voice orchestrator
func NewVoice(buffers *audio.Manager, scheduler *transcribe.Scheduler, orders *OrderStore, turns *Turns, logger *logging.Logger, m *metrics.Metrics) *Voice {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Voice{audio: buffers, scheduler: scheduler, orders: orders, turns: turns, logger: logger, metrics: m}
}

// Start opens an audio session and links it to an order session
func (v *Voice) Start(ctx context.Context, peer Peer, p messages.VoiceStartPayload) {
	format := strings.ToLower(strings.TrimSpace(p.Format))
	if format == "" {
		format = DefaultFormat
	}
	if !supportedFormats[format] {
		peer.reject(p.SessionID, messages.ErrCodeInvalidMessage, "unsupported audio format: "+format)
		return
	}

	id := p.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	orderSessionID := p.OrderSessionID
	if orderSessionID == "" {
		orderSessionID = uuid.NewString()
	}
	if existing, ok := v.orders.Get(orderSessionID); ok && existing.TenantID != peer.Identity.TenantID {
		peer.fail(id, ErrOrderSessionNotFound, messages.ErrCodeSessionNotFound)
		return
	}

	if !v.audio.Create(id, audio.Info{Format: format, OrderSessionID: orderSessionID, ConnectionID: peer.ConnectionID}) {
		peer.fail(id, audio.ErrSessionExists, messages.ErrCodeSessionExists)
		return
	}
	if _, _, err := v.orders.Resolve(orderSessionID, peer.Identity, peer.ConnectionID); err != nil {
		v.audio.Delete(id)
		peer.fail(id, err, messages.ErrCodeSessionNotFound)
		return
	}

	v.logger.Session(id).Info("voice session started", logrus.Fields{
		"order_session": logging.ShortID(orderSessionID),
		"format":        format,
		"tenant":        peer.Identity.TenantID,
	})
	peer.send(messages.New(messages.TypeVoiceStarted, id, messages.StartedPayload{
		SessionID:      id,
		OrderSessionID: orderSessionID,
		Format:         format,
	}))
}

// Append buffers one chunk and schedules a partial pass when due
func (v *Voice) Append(ctx context.Context, peer Peer, p messages.ChunkPayload) {
	if p.SessionID == "" {
		peer.fail("", messages.ErrMissingField, messages.ErrCodeInvalidMessage)
		return
	}
	if _, ok := v.owned(peer, p.SessionID); !ok {
		peer.fail(p.SessionID, audio.ErrSessionNotFound, messages.ErrCodeSessionNotFound)
		return
	}

	res, err := v.audio.Append(p.SessionID, p.Data)
	if err != nil {
		if errors.Is(err, audio.ErrBufferLimitExceeded) {
			// capacity errors end the recording
			v.audio.Delete(p.SessionID)
			v.logger.Session(p.SessionID).Warn("audio buffer limit exceeded, session discarded")
		}
		v.metrics.RecordError(messages.Code(err, messages.ErrCodeInvalidChunk))
		peer.fail(p.SessionID, err, messages.ErrCodeInvalidChunk)
		return
	}
	v.metrics.RecordAudio(res.ChunkSize)

	peer.send(messages.New(messages.TypeVoiceChunkReceived, p.SessionID, messages.ChunkReceivedPayload{
		ChunkCount: res.ChunkCount,
		TotalSize:  res.TotalSize,
	}))

	v.scheduler.MaybePartial(ctx, p.SessionID, func(partial transcribe.Partial) {
		peer.send(messages.NewTranscriptMessage(messages.TypeVoicePartial, partial.SessionID, partial.Text, false))
	})
}

// Stop runs the final transcription and the conversation turn. The audio
// session is always discarded.
func (v *Voice) Stop(ctx context.Context, peer Peer, p messages.SessionPayload) {
	if p.SessionID == "" {
		peer.fail("", messages.ErrMissingField, messages.ErrCodeInvalidMessage)
		return
	}
	stats, ok := v.owned(peer, p.SessionID)
	if !ok {
		peer.fail(p.SessionID, audio.ErrSessionNotFound, messages.ErrCodeSessionNotFound)
		return
	}
	log := v.logger.Session(p.SessionID)
	log.Info("voice session stopped", logrus.Fields{"chunks": stats.Chunks, "bytes": stats.Bytes})

	text, err := v.scheduler.Final(ctx, p.SessionID)
	if errors.Is(err, transcribe.ErrSessionGone) {
		log.Info("audio session cancelled during final transcription, dropping result")
		return
	}
	v.audio.Delete(p.SessionID)
	if err != nil {
		log.Error("final transcription failed", logrus.Fields{"error": err.Error()})
		v.metrics.RecordError(messages.Code(err, messages.ErrCodeTranscriptionError))
		peer.fail(p.SessionID, err, messages.ErrCodeTranscriptionError)
		return
	}

	if text == "" {
		peer.send(messages.New(messages.TypeVoiceResponse, p.SessionID, &messages.ResponsePayload{
			OrderSessionID: stats.OrderSessionID,
			Text:           messages.NoSpeechReply,
			NoSpeech:       true,
		}))
		return
	}

	peer.send(messages.NewTranscriptMessage(messages.TypeVoiceTranscript, p.SessionID, text, true))

	resp, err := v.turns.Run(ctx, TurnRequest{
		OrderSessionID: stats.OrderSessionID,
		Text:           text,
		Channel:        ChannelVoice,
	})
	if errors.Is(err, ErrOrderSessionNotFound) {
		peer.fail(p.SessionID, err, messages.ErrCodeSessionNotFound)
		return
	}
	if err != nil {
		code := messages.Code(err, messages.ErrCodeOrderProcessingError)
		v.metrics.RecordError(code)
		peer.reject(p.SessionID, code, "failed to process the order")
		return
	}
	resp.Transcript = text
	peer.send(messages.New(messages.TypeVoiceResponse, p.SessionID, resp))
}

// Cancel discards the recording. Calls already in flight finish and their
// results are dropped.
func (v *Voice) Cancel(ctx context.Context, peer Peer, p messages.SessionPayload) {
	if p.SessionID == "" {
		peer.fail("", messages.ErrMissingField, messages.ErrCodeInvalidMessage)
		return
	}
	if _, ok := v.owned(peer, p.SessionID); !ok || !v.audio.Delete(p.SessionID) {
		peer.fail(p.SessionID, audio.ErrSessionNotFound, messages.ErrCodeSessionNotFound)
		return
	}
	v.logger.Session(p.SessionID).Info("voice session cancelled")
	peer.send(messages.New(messages.TypeVoiceCancelled, p.SessionID, messages.SessionPayload{SessionID: p.SessionID}))
}

// Disconnect discards every recording of a connection
func (v *Voice) Disconnect(connectionID string) int {
	return len(v.audio.DeleteByConnection(connectionID))
}

func (v *Voice) owned(peer Peer, id string) (audio.Stats, bool) {
	stats, ok := v.audio.Stats(id)
	if !ok || stats.ConnectionID != peer.ConnectionID {
		return audio.Stats{}, false
	}
	return stats, true
}

// Len returns the number of open recordings
func (v *Voice) Len() int {
	return v.audio.Len()
}
