package functions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/room4-2/OrderDesk/llm"
	"github.com/room4-2/OrderDesk/logging"
	"github.com/room4-2/OrderDesk/metrics"
	"github.com/room4-2/OrderDesk/store"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OrderWriter persists placed orders
type OrderWriter interface {
	CreateOrder(ctx context.Context, order store.Order) error
	NextOrderNumber(ctx context.Context, tenantID string) (int64, error)
}

// LocalExecutor runs the ordering tools in process
type LocalExecutor struct {
	menus   *MenuCatalog
	orders  OrderWriter
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewLocalExecutor creates an executor over a menu catalog and order store
func NewLocalExecutor(menus *MenuCatalog, orders OrderWriter, logger *logging.Logger, m *metrics.Metrics) *LocalExecutor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LocalExecutor{
		menus:   menus,
		orders:  orders,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Execute runs every call in order and returns exactly one tool message per
// call. Tool failures become error payloads; only context cancellation is
// returned as an error.
func (e *LocalExecutor) Execute(ctx context.Context, calls []llm.ToolCall, toolCtx llm.ToolContext) ([]llm.Message, error) {
	results := make([]llm.Message, 0, len(calls))
	log := e.logger.Session(toolCtx.OrderSessionID)

	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		content := e.run(ctx, call, toolCtx)
		log.Info("tool executed", logrus.Fields{"tool": call.Name, "call_id": call.ID})
		e.metrics.RecordToolCall(call.Name)

		results = append(results, llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    content,
		})
	}
	return results, nil
}

func (e *LocalExecutor) run(ctx context.Context, call llm.ToolCall, toolCtx llm.ToolContext) string {
	ctx, span := tracer.Start(ctx, "functions."+call.Name)
	defer span.End()
	span.SetAttributes(attribute.String("tool.call_id", call.ID), attribute.String("tenant.id", toolCtx.TenantID))

	var (
		result any
		err    error
	)
	switch call.Name {
	case GetMenu:
		var args GetMenuArgs
		if err = decodeArgs(call.Arguments, &args); err == nil {
			result = e.getMenu(toolCtx, args)
		}
	case CalculateCart:
		var args CalculateCartArgs
		if err = decodeArgs(call.Arguments, &args); err == nil {
			result = e.calculateCart(toolCtx, args.Items)
		}
	case CreateOrder:
		var args CreateOrderArgs
		if err = decodeArgs(call.Arguments, &args); err == nil {
			result, err = e.createOrder(ctx, toolCtx, args)
		}
	case UpdateCustomer:
		var args UpdateCustomerArgs
		if err = decodeArgs(call.Arguments, &args); err == nil {
			result = CustomerResult{Customer: store.Customer{
				Name:  strings.TrimSpace(args.Name),
				Phone: strings.TrimSpace(args.Phone),
				Email: strings.TrimSpace(args.Email),
				Notes: strings.TrimSpace(args.Notes),
			}}
		}
	default:
		err = fmt.Errorf("unknown function: %s", call.Name)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errorPayload(err.Error())
	}
	return encode(result)
}

func decodeArgs(arguments string, v any) error {
	if strings.TrimSpace(arguments) == "" {
		return nil
	}
	if err := sonic.UnmarshalString(arguments, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func (e *LocalExecutor) getMenu(toolCtx llm.ToolContext, args GetMenuArgs) MenuResult {
	menu := e.menus.For(toolCtx.TenantID)
	return MenuResult{Items: menu.Filter(args.Category), Currency: menu.Currency}
}

// calculateCart prices the requested items. Unknown or unavailable items are
// reported separately and excluded from the total.
func (e *LocalExecutor) calculateCart(toolCtx llm.ToolContext, items []ItemInput) CartResult {
	menu := e.menus.For(toolCtx.TenantID)
	cart := CartResult{Items: []LineItem{}, Currency: menu.Currency}

	for _, in := range items {
		if in.Quantity <= 0 {
			continue
		}
		item, ok := menu.Find(in.Name)
		if !ok || !item.Available {
			cart.Unavailable = append(cart.Unavailable, in.Name)
			continue
		}
		line := LineItem{
			ItemID:    item.ID,
			Name:      item.Name,
			Quantity:  in.Quantity,
			UnitPrice: item.Price,
			LineTotal: roundMoney(item.Price * float64(in.Quantity)),
			Notes:     strings.TrimSpace(in.Notes),
		}
		cart.Items = append(cart.Items, line)
		cart.Total += line.LineTotal
	}
	cart.Total = roundMoney(cart.Total)
	return cart
}

func (e *LocalExecutor) createOrder(ctx context.Context, toolCtx llm.ToolContext, args CreateOrderArgs) (OrderResult, error) {
	cart := e.calculateCart(toolCtx, args.Items)
	if len(cart.Items) == 0 {
		return OrderResult{}, fmt.Errorf("cannot create an order without available items")
	}
	if len(cart.Unavailable) > 0 {
		return OrderResult{}, fmt.Errorf("items not available: %s", strings.Join(cart.Unavailable, ", "))
	}
	if strings.TrimSpace(args.CustomerName) == "" || strings.TrimSpace(args.CustomerPhone) == "" {
		return OrderResult{}, fmt.Errorf("customer name and phone are required")
	}

	seq, err := e.orders.NextOrderNumber(ctx, toolCtx.TenantID)
	if err != nil {
		return OrderResult{}, err
	}

	order := store.Order{
		ID:             uuid.NewString(),
		Number:         fmt.Sprintf("A-%04d", seq),
		TenantID:       toolCtx.TenantID,
		UserID:         toolCtx.UserID,
		OrderSessionID: toolCtx.OrderSessionID,
		Items:          cart.Items,
		Total:          cart.Total,
		Currency:       cart.Currency,
		Customer: store.Customer{
			Name:  strings.TrimSpace(args.CustomerName),
			Phone: strings.TrimSpace(args.CustomerPhone),
			Email: strings.TrimSpace(args.CustomerEmail),
			Notes: strings.TrimSpace(args.Notes),
		},
		Status:    "placed",
		CreatedAt: e.now(),
	}
	if err := e.orders.CreateOrder(ctx, order); err != nil {
		return OrderResult{}, err
	}
	e.metrics.RecordOrder()

	return OrderResult{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		Items:       order.Items,
		Total:       order.Total,
		Currency:    order.Currency,
		Status:      order.Status,
	}, nil
}
