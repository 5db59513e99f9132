package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/room4-2/OrderDesk/audio"
	"github.com/room4-2/OrderDesk/logging"
	"github.com/room4-2/OrderDesk/messages"
	"github.com/room4-2/OrderDesk/metrics"
	"github.com/room4-2/OrderDesk/registry"
	"github.com/room4-2/OrderDesk/transcribe"
	"github.com/sirupsen/logrus"
)

// ErrRealtimeDisabled is returned when no realtime provider is configured
var ErrRealtimeDisabled = errors.New("realtime transcription is not enabled")

// Bridge is one realtime transcription session
type Bridge struct {
	ID             string
	OrderSessionID string
	ConnectionID   string
	Stream         transcribe.Stream
	// Committed is set on stop and cleared by the next chunk
	Committed bool

	queue *turnQueue
}

// turnQueue runs a bridge's turns one at a time in the order their finals
// arrived
type turnQueue struct {
	mu      sync.Mutex
	jobs    chan func()
	closed  bool
	aborted atomic.Bool
}

func newTurnQueue() *turnQueue {
	q := &turnQueue{jobs: make(chan func(), 16)}
	go q.run()
	return q
}

func (q *turnQueue) run() {
	for job := range q.jobs {
		if !q.aborted.Load() {
			job()
		}
	}
}

// push appends a job. Returns false once the queue is closed.
func (q *turnQueue) push(job func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.jobs <- job
	return true
}

// close stops accepting jobs. Queued jobs still run unless abort is set.
func (q *turnQueue) close(abort bool) {
	if q == nil {
		return
	}
	if abort {
		q.aborted.Store(true)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

// RealtimeOptions configures the realtime orchestrator
type RealtimeOptions struct {
	Language   string
	SampleRate int
	Timeout    time.Duration
}

// Realtime bridges client audio to a streaming transcription service and
// turns final transcripts into conversation turns
type Realtime struct {
	dialer  transcribe.StreamDialer
	bridges *registry.Registry[Bridge]
	orders  *OrderStore
	turns   *Turns
	opts    RealtimeOptions
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewRealtime creates the realtime orchestrator. A nil dialer disables it.
func NewRealtime(dialer transcribe.StreamDialer, orders *OrderStore, turns *Turns, opts RealtimeOptions, logger *logging.Logger, m *metrics.Metrics) *Realtime {
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Realtime{dialer: dialer, orders: orders, turns: turns, opts: opts, logger: logger, metrics: m}
	r.bridges = registry.New(registry.Options[Bridge]{
		TTL: opts.Timeout,
		OnExpire: func(id string, b Bridge) {
			r.logger.Session(id).Info("realtime session expired")
			b.queue.close(true)
			closeStream(b.Stream)
		},
	})
	return r
}

// Run drives idle expiry until ctx is done
func (r *Realtime) Run(ctx context.Context) {
	r.bridges.Run(ctx)
}

// Len returns the number of open bridges
func (r *Realtime) Len() int {
	return r.bridges.Len()
}

// Start dials one stream for the session
func (r *Realtime) Start(ctx context.Context, peer Peer, p messages.RealtimeStartPayload) {
	if r.dialer == nil {
		peer.fail(p.SessionID, ErrRealtimeDisabled, messages.ErrCodeRealtimeError)
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
	if existing, ok := r.orders.Get(orderSessionID); ok && existing.TenantID != peer.Identity.TenantID {
		peer.fail(id, ErrOrderSessionNotFound, messages.ErrCodeSessionNotFound)
		return
	}

	// reserve the id before dialing so a duplicate start fails fast
	if err := r.bridges.Create(id, Bridge{ID: id, OrderSessionID: orderSessionID, ConnectionID: peer.ConnectionID}); err != nil {
		peer.fail(id, err, messages.ErrCodeSessionExists)
		return
	}
	if _, _, err := r.orders.Resolve(orderSessionID, peer.Identity, peer.ConnectionID); err != nil {
		r.bridges.Delete(id)
		peer.fail(id, err, messages.ErrCodeSessionNotFound)
		return
	}
	queue := newTurnQueue()

	sampleRate := p.SampleRate
	if sampleRate <= 0 {
		sampleRate = r.opts.SampleRate
	}
	log := r.logger.Session(id)
	turnCtx := context.WithoutCancel(ctx)

	stream, err := r.dialer.Dial(ctx, transcribe.StreamOptions{
		SessionID:  id,
		Encoding:   "linear16",
		SampleRate: sampleRate,
		Language:   r.opts.Language,
	}, transcribe.StreamHandler{
		OnPartial: func(text string) {
			if _, ok := r.bridges.Get(id); ok {
				peer.send(messages.NewTranscriptMessage(messages.TypeRealtimePartial, id, text, false))
			}
		},
		OnFinal: func(text string) {
			r.handleFinal(turnCtx, peer, id, text)
		},
		OnClose: func(err error) {
			r.handleClose(peer, id, err)
		},
	})
	if err != nil {
		r.bridges.Delete(id)
		queue.close(true)
		log.Error("failed to open realtime stream", logrus.Fields{"error": err.Error()})
		r.metrics.RecordError(messages.ErrCodeRealtimeError)
		peer.reject(id, messages.ErrCodeRealtimeError, "failed to open realtime transcription")
		return
	}

	err = r.bridges.Update(id, func(b *Bridge) error {
		b.Stream = stream
		b.queue = queue
		return nil
	})
	if err != nil {
		// cancelled while dialing
		queue.close(true)
		closeStream(stream)
		return
	}

	log.Info("realtime session started", logrus.Fields{"order_session": logging.ShortID(orderSessionID), "sample_rate": sampleRate})
	peer.send(messages.New(messages.TypeRealtimeStarted, id, messages.StartedPayload{
		SessionID:      id,
		OrderSessionID: orderSessionID,
		Format:         "pcm",
	}))
}

// Append forwards one decoded chunk to the stream
func (r *Realtime) Append(ctx context.Context, peer Peer, p messages.ChunkPayload) {
	if p.SessionID == "" {
		peer.fail("", messages.ErrMissingField, messages.ErrCodeInvalidMessage)
		return
	}
	b, ok := r.owned(peer, p.SessionID)
	if !ok || b.Stream == nil {
		peer.fail(p.SessionID, audio.ErrSessionNotFound, messages.ErrCodeSessionNotFound)
		return
	}
	data, err := audio.DecodeChunk(p.Data)
	if err != nil {
		peer.fail(p.SessionID, err, messages.ErrCodeInvalidChunk)
		return
	}

	if err := b.Stream.SendAudio(data); err != nil {
		r.metrics.RecordError(messages.ErrCodeRealtimeError)
		peer.fail(p.SessionID, err, messages.ErrCodeRealtimeError)
		return
	}
	r.metrics.RecordAudio(len(data))
	_ = r.bridges.Update(p.SessionID, func(b *Bridge) error {
		b.Committed = false
		return nil
	})
}

// Stop commits the buffered audio. The final transcript drives a turn and
// then closes the bridge.
func (r *Realtime) Stop(ctx context.Context, peer Peer, p messages.SessionPayload) {
	if p.SessionID == "" {
		peer.fail("", messages.ErrMissingField, messages.ErrCodeInvalidMessage)
		return
	}
	b, ok := r.owned(peer, p.SessionID)
	if !ok || b.Stream == nil {
		peer.fail(p.SessionID, audio.ErrSessionNotFound, messages.ErrCodeSessionNotFound)
		return
	}
	_ = r.bridges.Update(p.SessionID, func(b *Bridge) error {
		b.Committed = true
		return nil
	})
	if err := b.Stream.Commit(); err != nil {
		r.destroy(p.SessionID)
		peer.fail(p.SessionID, err, messages.ErrCodeRealtimeError)
		return
	}
	peer.send(messages.New(messages.TypeRealtimeCommitted, p.SessionID, messages.SessionPayload{SessionID: p.SessionID}))
}

// Cancel closes the stream and forgets the session
func (r *Realtime) Cancel(ctx context.Context, peer Peer, p messages.SessionPayload) {
	if p.SessionID == "" {
		peer.fail("", messages.ErrMissingField, messages.ErrCodeInvalidMessage)
		return
	}
	if _, ok := r.owned(peer, p.SessionID); !ok || !r.destroy(p.SessionID) {
		peer.fail(p.SessionID, audio.ErrSessionNotFound, messages.ErrCodeSessionNotFound)
		return
	}
	r.logger.Session(p.SessionID).Info("realtime session cancelled")
	peer.send(messages.New(messages.TypeRealtimeCancelled, p.SessionID, messages.SessionPayload{SessionID: p.SessionID}))
}

// Disconnect closes every bridge of a connection
func (r *Realtime) Disconnect(connectionID string) int {
	closed := 0
	for _, id := range r.bridges.Keys() {
		b, ok := r.bridges.Get(id)
		if ok && b.ConnectionID == connectionID && r.destroy(id) {
			closed++
		}
	}
	return closed
}

// handleFinal runs on the stream's receive goroutine, so the turn is handed
// to the bridge's queue
func (r *Realtime) handleFinal(ctx context.Context, peer Peer, id, text string) {
	b, ok := r.bridges.Get(id)
	if !ok || text == "" || b.queue == nil {
		return
	}
	peer.send(messages.NewTranscriptMessage(messages.TypeRealtimeFinal, id, text, true))

	queued := b.queue.push(func() {
		resp, err := r.turns.Run(ctx, TurnRequest{OrderSessionID: b.OrderSessionID, Text: text, Channel: ChannelRealtime})
		if errors.Is(err, ErrOrderSessionNotFound) {
			return
		}
		if err != nil {
			code := messages.Code(err, messages.ErrCodeOrderProcessingError)
			r.metrics.RecordError(code)
			peer.reject(id, code, "failed to process the order")
			return
		}
		resp.Transcript = text
		peer.send(messages.New(messages.TypeRealtimeResponse, id, resp))
	})
	if !queued {
		r.logger.Session(id).Warn("realtime bridge closed, dropping final")
		return
	}

	if b.Committed {
		// the committed utterance is done; its queued turns still run
		go r.finish(id)
	}
}

// handleClose reacts to the remote side ending the stream
func (r *Realtime) handleClose(peer Peer, id string, err error) {
	b, ok := r.bridges.Delete(id)
	if !ok {
		return
	}
	// finals already received keep their turns
	b.queue.close(false)
	log := r.logger.Session(id)
	if err != nil {
		log.Warn("realtime stream closed by provider", logrus.Fields{"error": err.Error()})
		r.metrics.RecordError(messages.ErrCodeRealtimeError)
		peer.reject(id, messages.ErrCodeRealtimeError, "realtime transcription stream closed")
	}
	peer.send(messages.New(messages.TypeRealtimeClosed, id, messages.SessionPayload{SessionID: id}))
}

// destroy closes the bridge and drops turns that have not started
func (r *Realtime) destroy(id string) bool {
	b, ok := r.bridges.Delete(id)
	if !ok {
		return false
	}
	b.queue.close(true)
	closeStream(b.Stream)
	return true
}

// finish closes the bridge after a committed final. Queued turns still run.
func (r *Realtime) finish(id string) {
	b, ok := r.bridges.Delete(id)
	if !ok {
		return
	}
	b.queue.close(false)
	closeStream(b.Stream)
}

func (r *Realtime) owned(peer Peer, id string) (Bridge, bool) {
	b, ok := r.bridges.Get(id)
	if !ok || b.ConnectionID != peer.ConnectionID {
		return Bridge{}, false
	}
	return b, true
}

func closeStream(stream transcribe.Stream) {
	if stream != nil {
		_ = stream.Close()
	}
}
