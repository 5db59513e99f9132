package session

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/room4-2/OrderDesk/auth"
	"github.com/room4-2/OrderDesk/logging"
	"github.com/room4-2/OrderDesk/messages"
	"github.com/sirupsen/logrus"
)

const (
	writeBufferSize = 256
	turnQueueSize   = 16
	writeTimeout    = 10 * time.Second
	maxMessageSize  = 512 * 1024
)

// Handlers are the orchestrators inbound events are dispatched to
type Handlers struct {
	Voice    *Voice
	Chat     *Chat
	Realtime *Realtime
	Orders   *OrderStore
}

// Client is one authenticated websocket connection. Events are read by a
// single goroutine; turns run in receipt order on a second one so the read
// loop stays responsive to chunks and cancels.
type Client struct {
	ID           string
	Identity     auth.Identity
	ClientConn   *websocket.Conn
	CreatedAt    time.Time
	LastActivity time.Time

	handlers  Handlers
	keepAlive time.Duration
	logger    *logging.Logger

	// Use channels for non-blocking writes
	writeChan chan any
	turns     chan func()

	mu        sync.RWMutex
	closed    bool
	CloseChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient wraps an upgraded connection
func NewClient(id string, identity auth.Identity, conn *websocket.Conn, handlers Handlers, keepAlive time.Duration, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())

	conn.SetReadLimit(maxMessageSize)
	conn.EnableWriteCompression(true)
	_ = conn.SetCompressionLevel(6)

	now := time.Now()
	return &Client{
		ID:           id,
		Identity:     identity,
		ClientConn:   conn,
		CreatedAt:    now,
		LastActivity: now,
		handlers:     handlers,
		keepAlive:    keepAlive,
		logger: logger.Session(id).With(logrus.Fields{
			"tenant": identity.TenantID,
			"user":   identity.UserID,
		}),
		writeChan: make(chan any, writeBufferSize),
		turns:     make(chan func(), turnQueueSize),
		CloseChan: make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the bidirectional message handling
func (c *Client) Start() {
	go c.writePump()
	go c.runTurns()
	c.Send(messages.NewStatusMessage(c.ID, "connected", "Session established"))
	go c.readPump()
}

func (c *Client) peer() Peer {
	return Peer{ConnectionID: c.ID, Identity: c.Identity, Out: c}
}

// writePump handles all outgoing messages in a single goroutine
func (c *Client) writePump() {
	var ping <-chan time.Time
	if c.keepAlive > 0 {
		ticker := time.NewTicker(c.keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	defer func() {
		// Send close message before exiting
		_ = c.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = c.ClientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-c.CloseChan:
			return
		case <-ping:
			_ = c.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ClientConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg := <-c.writeChan:
			if err := c.write(msg); err != nil {
				return
			}

			n := len(c.writeChan)
			for i := 0; i < n; i++ {
				select {
				case msg := <-c.writeChan:
					if err := c.write(msg); err != nil {
						return
					}
				default:
					// No more messages, continue outer loop
				}
			}
		}
	}
}

func (c *Client) write(msg any) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to encode outbound message", logrus.Fields{"error": err.Error()})
		return nil
	}
	_ = c.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ClientConn.WriteMessage(websocket.TextMessage, data)
}

// Send adds a message to the write queue (non-blocking)
func (c *Client) Send(msg *messages.ServerMessage) {
	if c.IsClosed() {
		return
	}
	select {
	case c.writeChan <- msg:
		c.touch()
	case <-c.CloseChan:
	default:
		c.logger.Warn("write queue full, dropping message", logrus.Fields{"type": msg.Type})
	}
}

// runTurns executes queued turns one at a time
func (c *Client) runTurns() {
	for {
		select {
		case <-c.CloseChan:
			return
		case job := <-c.turns:
			job()
		}
	}
}

// enqueue schedules a turn behind earlier ones from this connection
func (c *Client) enqueue(sessionID string, job func()) {
	select {
	case c.turns <- job:
	default:
		c.Send(messages.NewErrorMessage(sessionID, messages.ErrCodeRateLimited, "too many turns in progress"))
	}
}

func (c *Client) readPump() {
	defer c.Close()

	if c.keepAlive > 0 {
		deadline := func() time.Time { return time.Now().Add(3 * c.keepAlive) }
		_ = c.ClientConn.SetReadDeadline(deadline())
		c.ClientConn.SetPongHandler(func(string) error {
			return c.ClientConn.SetReadDeadline(deadline())
		})
	}

	for {
		messageType, data, err := c.ClientConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("websocket read error", logrus.Fields{"error": err.Error()})
			}
			return
		}
		if c.keepAlive > 0 {
			_ = c.ClientConn.SetReadDeadline(time.Now().Add(3 * c.keepAlive))
		}
		c.touch()

		if messageType != websocket.TextMessage {
			c.Send(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidMessage, "expected a JSON text frame"))
			continue
		}

		msg, err := messages.Parse(data)
		if err != nil {
			c.Send(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidMessage, "Invalid message format"))
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch routes one inbound event. Buffer and registry operations run
// inline; anything that calls a model runs on the turn goroutine.
func (c *Client) dispatch(msg *messages.ClientMessage) {
	ctx := c.ctx
	// turns already running finish even if the connection drops
	turnCtx := context.WithoutCancel(ctx)
	peer := c.peer()
	h := c.handlers

	switch msg.Type {
	case messages.TypePing:
		c.Send(messages.New(messages.TypePong, c.ID, nil))

	case messages.TypeVoiceStart:
		var p messages.VoiceStartPayload
		if c.decode(msg, &p) {
			h.Voice.Start(ctx, peer, p)
		}
	case messages.TypeVoiceChunk:
		var p messages.ChunkPayload
		if c.decode(msg, &p) {
			h.Voice.Append(ctx, peer, p)
		}
	case messages.TypeVoiceStop:
		var p messages.SessionPayload
		if c.decode(msg, &p) {
			c.enqueue(p.SessionID, func() { h.Voice.Stop(turnCtx, peer, p) })
		}
	case messages.TypeVoiceCancel:
		var p messages.SessionPayload
		if c.decode(msg, &p) {
			h.Voice.Cancel(ctx, peer, p)
		}

	case messages.TypeChatStart:
		var p messages.ChatStartPayload
		if c.decode(msg, &p) {
			h.Chat.Start(ctx, peer, p)
		}
	case messages.TypeChatMessage:
		var p messages.ChatMessagePayload
		if c.decode(msg, &p) {
			c.enqueue(p.OrderSessionID, func() { h.Chat.Send(turnCtx, peer, p) })
		}
	case messages.TypeChatCancel:
		var p messages.ChatCancelPayload
		if c.decode(msg, &p) {
			h.Chat.Cancel(ctx, peer, p)
		}

	case messages.TypeRealtimeStart:
		var p messages.RealtimeStartPayload
		if c.decode(msg, &p) {
			h.Realtime.Start(ctx, peer, p)
		}
	case messages.TypeRealtimeChunk:
		var p messages.ChunkPayload
		if c.decode(msg, &p) {
			h.Realtime.Append(ctx, peer, p)
		}
	case messages.TypeRealtimeStop:
		var p messages.SessionPayload
		if c.decode(msg, &p) {
			h.Realtime.Stop(ctx, peer, p)
		}
	case messages.TypeRealtimeCancel:
		var p messages.SessionPayload
		if c.decode(msg, &p) {
			h.Realtime.Cancel(ctx, peer, p)
		}

	default:
		c.Send(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidMessage, "Unknown message type: "+msg.Type))
	}
}

func (c *Client) decode(msg *messages.ClientMessage, v any) bool {
	if err := msg.Decode(v); err != nil {
		c.Send(messages.NewErrorMessage(c.ID, messages.ErrCodeInvalidMessage, "Invalid "+msg.Type+" payload"))
		return false
	}
	return true
}

func (c *Client) touch() {
	c.mu.Lock()
	c.LastActivity = time.Now()
	c.mu.Unlock()
}

// Idle returns how long the connection has been quiet
func (c *Client) Idle(now time.Time) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return now.Sub(c.LastActivity)
}

// IsClosed returns whether the session is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close terminates the connection and discards its audio and realtime
// sessions. Order sessions survive for reconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()

	// Signal close (for other goroutines waiting on this)
	close(c.CloseChan)

	voice, realtime := 0, 0
	if c.handlers.Voice != nil {
		voice = c.handlers.Voice.Disconnect(c.ID)
	}
	if c.handlers.Realtime != nil {
		realtime = c.handlers.Realtime.Disconnect(c.ID)
	}
	c.logger.Info("connection closed", logrus.Fields{"audio_sessions": voice, "realtime_sessions": realtime})

	if c.ClientConn != nil {
		_ = c.ClientConn.Close()
	}
	return nil
}
