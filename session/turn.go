package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/room4-2/OrderDesk/cart"
	"github.com/room4-2/OrderDesk/conversation"
	"github.com/room4-2/OrderDesk/llm"
	"github.com/room4-2/OrderDesk/logging"
	"github.com/room4-2/OrderDesk/messages"
	"github.com/room4-2/OrderDesk/metrics"
	"github.com/room4-2/OrderDesk/store"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Channels a turn can arrive on
const (
	ChannelVoice    = "voice"
	ChannelChat     = "chat"
	ChannelRealtime = "realtime"
)

// Runner is the conversation capability a turn drives
type Runner interface {
	Run(ctx context.Context, history []llm.Message, opts conversation.Options) (*conversation.Result, error)
	Stream(ctx context.Context, history []llm.Message, opts conversation.Options, onChunk llm.StreamFunc) (*conversation.Result, error)
}

// TurnOptions are the model settings applied to every turn
type TurnOptions struct {
	Model       string
	Temperature *float32
	MaxTokens   int
}

// TurnRequest is one user utterance or message
type TurnRequest struct {
	OrderSessionID string
	Text           string
	Channel        string
	// Stream selects the single-round streaming variant, tools disabled
	Stream  bool
	OnDelta func(text string)
}

// Turns runs conversation turns against order sessions
type Turns struct {
	orders  *OrderStore
	runner  Runner
	repo    store.Repository
	opts    TurnOptions
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewTurns creates a turn runner
func NewTurns(orders *OrderStore, runner Runner, repo store.Repository, opts TurnOptions, logger *logging.Logger, m *metrics.Metrics) *Turns {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Turns{orders: orders, runner: runner, repo: repo, opts: opts, logger: logger, metrics: m}
}

// Run executes one turn. The order session is re-read after the model call;
// if it was deleted meanwhile the result is dropped and
// ErrOrderSessionNotFound returned.
func (t *Turns) Run(ctx context.Context, req TurnRequest) (*messages.ResponsePayload, error) {
	ctx, span := tracer.Start(ctx, "session.turn")
	defer span.End()
	span.SetAttributes(attribute.String("turn.channel", req.Channel), attribute.Bool("turn.stream", req.Stream))

	unlock := t.orders.LockTurn(req.OrderSessionID)
	defer unlock()

	start := time.Now()
	log := t.logger.Session(req.OrderSessionID).With(logrus.Fields{"channel": req.Channel})

	os, ok := t.orders.Get(req.OrderSessionID)
	if !ok {
		return nil, ErrOrderSessionNotFound
	}

	user := llm.Message{Role: llm.RoleUser, Content: strings.TrimSpace(req.Text)}
	history := conversation.ValidateHistory(append(os.Messages, user))

	opts := conversation.Options{
		Model:         t.opts.Model,
		Temperature:   t.opts.Temperature,
		MaxTokens:     t.opts.MaxTokens,
		ToolsEnabled:  !req.Stream,
		PromptVariant: promptFor(req.Channel),
		Context: llm.ToolContext{
			TenantID:       os.TenantID,
			UserID:         os.UserID,
			OrderSessionID: os.ID,
		},
	}

	var (
		result *conversation.Result
		err    error
	)
	if req.Stream {
		result, err = t.runner.Stream(ctx, history, opts, req.OnDelta)
	} else {
		result, err = t.runner.Run(ctx, history, opts)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.metrics.RecordTurn(req.Channel, "error", 0, llm.Usage{}, time.Since(start))
		log.Error("turn failed", logrus.Fields{"error": err.Error()})
		return nil, err
	}

	var (
		outcome cart.Outcome
		state   cart.State
	)
	err = t.orders.Update(req.OrderSessionID, func(s *OrderSession) error {
		if s.Cart.Completed {
			// a new turn after a placed order starts a fresh cart
			s.Cart.Reset()
		}
		s.Messages = append(s.Messages, user)
		s.Messages = append(s.Messages, result.Messages...)
		outcome = cart.Reconcile(&s.Cart, result.Trail)
		if s.Cart.Completed {
			// the placed order closes this conversation
			s.Messages = nil
		}
		state = s.Cart.Snapshot()
		return nil
	})
	if err != nil {
		log.Warn("order session gone before turn completed, dropping result")
		t.metrics.RecordTurn(req.Channel, "dropped", result.Rounds, result.Usage, time.Since(start))
		return nil, err
	}

	t.persist(ctx, os, append([]llm.Message{user}, result.Messages...), req.Channel, log)

	status := "ok"
	if result.Capped {
		status = "capped"
		log.Warn("tool round limit reached", logrus.Fields{"rounds": result.Rounds})
	}
	t.metrics.RecordTurn(req.Channel, status, result.Rounds, result.Usage, time.Since(start))
	for _, toolErr := range outcome.Errors {
		log.Warn("tool returned an error", logrus.Fields{"detail": toolErr})
	}
	log.Info("turn complete", logrus.Fields{
		"rounds":       result.Rounds,
		"tool_calls":   len(result.Trail),
		"cart_items":   len(state.Items),
		"completed":    state.Completed,
		"total_tokens": result.Usage.TotalTokens,
	})

	return buildResponse(req.OrderSessionID, result, outcome, state), nil
}

// persist mirrors the turn to the repository. Failures are logged only.
func (t *Turns) persist(ctx context.Context, os OrderSession, msgs []llm.Message, channel string, log *logging.Logger) {
	if t.repo == nil {
		return
	}
	err := t.repo.AppendMessages(ctx, os.ID, msgs...)
	if errors.Is(err, store.ErrNotFound) {
		err = t.repo.CreateChat(ctx, store.Chat{
			ID:        os.ID,
			TenantID:  os.TenantID,
			UserID:    os.UserID,
			Channel:   channel,
			CreatedAt: os.CreatedAt,
		})
		if err == nil {
			err = t.repo.AppendMessages(ctx, os.ID, msgs...)
		}
	}
	if err != nil {
		log.Warn("failed to persist chat messages", logrus.Fields{"error": err.Error()})
	}
}

func buildResponse(orderSessionID string, result *conversation.Result, outcome cart.Outcome, state cart.State) *messages.ResponsePayload {
	resp := &messages.ResponsePayload{
		OrderSessionID: orderSessionID,
		Text:           result.Message.Content,
		Completed:      state.Completed,
		Usage: &messages.UsagePayload{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	}
	if result.Capped && strings.TrimSpace(resp.Text) == "" {
		resp.Text = messages.CappedReply
	}
	if !state.IsEmpty() {
		resp.Cart = &messages.CartPayload{Items: state.Items, Total: state.Total, Currency: state.Currency}
	}
	if outcome.Order != nil {
		resp.Order = &messages.OrderPayload{
			OrderID:     outcome.Order.ID,
			OrderNumber: outcome.Order.Number,
			Total:       outcome.Order.Total,
			Status:      outcome.Order.Status,
		}
	}
	if !state.Customer.IsZero() {
		customer := state.Customer
		resp.Customer = &customer
	}
	return resp
}

func promptFor(channel string) conversation.PromptVariant {
	if channel == ChannelChat {
		return conversation.PromptChat
	}
	return conversation.PromptVoice
}
