package session

import (
	"context"
	"errors"
	"strings"

	"github.com/room4-2/OrderDesk/logging"
	"github.com/room4-2/OrderDesk/messages"
	"github.com/room4-2/OrderDesk/metrics"
	"github.com/sirupsen/logrus"
)

// Chat orchestrates text turns on an order session
type Chat struct {
	orders  *OrderStore
	turns   *Turns
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewChat creates the chat orchestrator
func NewChat(orders *OrderStore, turns *Turns, logger *logging.Logger, m *metrics.Metrics) *Chat {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Chat{orders: orders, turns: turns, logger: logger, metrics: m}
}

// Start opens or resumes an order session and reports its cart
func (c *Chat) Start(ctx context.Context, peer Peer, p messages.ChatStartPayload) {
	os, created, err := c.orders.Resolve(p.OrderSessionID, peer.Identity, peer.ConnectionID)
	if err != nil {
		peer.fail(p.OrderSessionID, err, messages.ErrCodeSessionNotFound)
		return
	}

	c.logger.Session(os.ID).Info("chat session started", logrus.Fields{"created": created, "tenant": peer.Identity.TenantID})

	resp := messages.ResponsePayload{OrderSessionID: os.ID, Completed: os.Cart.Completed}
	if !os.Cart.IsEmpty() {
		resp.Cart = &messages.CartPayload{Items: os.Cart.Items, Total: os.Cart.Total, Currency: os.Cart.Currency}
	}
	peer.send(messages.New(messages.TypeChatStarted, os.ID, &resp))
}

// Send runs one chat turn. With Stream set the reply is streamed as deltas
// from a single round without tools.
func (c *Chat) Send(ctx context.Context, peer Peer, p messages.ChatMessagePayload) {
	text := strings.TrimSpace(p.Text)
	if p.OrderSessionID == "" || text == "" {
		peer.fail(p.OrderSessionID, messages.ErrMissingField, messages.ErrCodeInvalidMessage)
		return
	}
	if _, _, err := c.orders.Resolve(p.OrderSessionID, peer.Identity, peer.ConnectionID); err != nil {
		peer.fail(p.OrderSessionID, err, messages.ErrCodeSessionNotFound)
		return
	}

	req := TurnRequest{OrderSessionID: p.OrderSessionID, Text: text, Channel: ChannelChat, Stream: p.Stream}
	if p.Stream {
		req.OnDelta = func(delta string) {
			peer.send(messages.New(messages.TypeChatDelta, p.OrderSessionID, messages.DeltaPayload{
				OrderSessionID: p.OrderSessionID,
				Text:           delta,
			}))
		}
	}

	resp, err := c.turns.Run(ctx, req)
	if errors.Is(err, ErrOrderSessionNotFound) {
		c.logger.Session(p.OrderSessionID).Info("chat session cancelled during turn, dropping result")
		return
	}
	if err != nil {
		code := messages.Code(err, messages.ErrCodeOrderProcessingError)
		c.metrics.RecordError(code)
		peer.reject(p.OrderSessionID, code, "failed to process the message")
		return
	}
	peer.send(messages.New(messages.TypeChatResponse, p.OrderSessionID, resp))
}

// Cancel discards the order session and its cart
func (c *Chat) Cancel(ctx context.Context, peer Peer, p messages.ChatCancelPayload) {
	if p.OrderSessionID == "" {
		peer.fail("", messages.ErrMissingField, messages.ErrCodeInvalidMessage)
		return
	}
	os, ok := c.orders.Get(p.OrderSessionID)
	if !ok || os.TenantID != peer.Identity.TenantID || !c.orders.Delete(p.OrderSessionID) {
		peer.fail(p.OrderSessionID, ErrOrderSessionNotFound, messages.ErrCodeSessionNotFound)
		return
	}
	c.logger.Session(p.OrderSessionID).Info("chat session cancelled")
	peer.send(messages.New(messages.TypeChatCancelled, p.OrderSessionID, messages.ChatCancelPayload{OrderSessionID: p.OrderSessionID}))
}
