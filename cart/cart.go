// Package cart keeps the order-session cart consistent with tool results.
package cart

import (
	"strings"

	"github.com/bytedance/sonic"
	"github.com/jinzhu/copier"
	"github.com/room4-2/OrderDesk/conversation"
	"github.com/room4-2/OrderDesk/functions"
	"github.com/room4-2/OrderDesk/store"
)

// State is the cart and order data of one order session
type State struct {
	Items     []store.OrderItem
	Total     float64
	Currency  string
	Completed bool
	Customer  store.Customer
}

// Order describes an order placed during a turn
type Order struct {
	ID     string  `json:"orderId"`
	Number string  `json:"orderNumber"`
	Total  float64 `json:"total"`
	Status string  `json:"status"`
}

// Outcome summarises what a turn did to the cart
type Outcome struct {
	CartChanged bool
	// Retained is set when a cart result was ignored to protect an existing cart
	Retained bool
	Order    *Order
	Errors   []string
}

// Snapshot returns a deep copy of the state
func (s *State) Snapshot() State {
	var out State
	if err := copier.CopyWithOption(&out, s, copier.Option{DeepCopy: true}); err != nil {
		out = *s
		out.Items = append([]store.OrderItem(nil), s.Items...)
	}
	return out
}

// IsEmpty reports whether the cart holds no items
func (s *State) IsEmpty() bool {
	return len(s.Items) == 0
}

// Reset clears the cart and completion flag, keeping the customer
func (s *State) Reset() {
	s.Items = nil
	s.Total = 0
	s.Completed = false
}

// Reconcile applies a turn's tool trail to state in order.
//
// A cart result replaces the cart when it carries items or when the cart is
// already empty. An empty cart result against a non-empty cart is ignored.
// An order result completes the session and clears the cart.
func Reconcile(state *State, trail []conversation.Exchange) Outcome {
	var outcome Outcome

	for _, ex := range trail {
		captureCustomer(state, ex.Call.Name, ex.Call.Arguments)

		switch res := functions.Decode(ex.Call.Name, ex.Result.Content).(type) {
		case functions.CartResult:
			if len(res.Items) == 0 && !state.IsEmpty() {
				outcome.Retained = true
				continue
			}
			state.Items = append([]store.OrderItem(nil), res.Items...)
			state.Total = res.Total
			if res.Currency != "" {
				state.Currency = res.Currency
			}
			outcome.CartChanged = true

		case functions.OrderResult:
			state.Completed = true
			state.Items = nil
			state.Total = 0
			if res.Currency != "" {
				state.Currency = res.Currency
			}
			outcome.CartChanged = true
			outcome.Order = &Order{
				ID:     res.OrderID,
				Number: res.OrderNumber,
				Total:  res.Total,
				Status: res.Status,
			}

		case functions.CustomerResult:
			mergeCustomer(&state.Customer, res.Customer)

		case functions.ErrorResult:
			outcome.Errors = append(outcome.Errors, ex.Call.Name+": "+res.Error)
		}
	}
	return outcome
}

// captureCustomer reads customer fields out of tool-call arguments. Any tool
// may carry them, so decoding failures are ignored.
func captureCustomer(state *State, name, arguments string) {
	if strings.TrimSpace(arguments) == "" {
		return
	}
	switch name {
	case functions.CreateOrder:
		var args functions.CreateOrderArgs
		if sonic.UnmarshalString(arguments, &args) != nil {
			return
		}
		mergeCustomer(&state.Customer, store.Customer{
			Name:  args.CustomerName,
			Phone: args.CustomerPhone,
			Email: args.CustomerEmail,
			Notes: args.Notes,
		})
	case functions.UpdateCustomer:
		var args functions.UpdateCustomerArgs
		if sonic.UnmarshalString(arguments, &args) != nil {
			return
		}
		mergeCustomer(&state.Customer, store.Customer{
			Name:  args.Name,
			Phone: args.Phone,
			Email: args.Email,
			Notes: args.Notes,
		})
	}
}

func mergeCustomer(dst *store.Customer, src store.Customer) {
	if v := strings.TrimSpace(src.Name); v != "" {
		dst.Name = v
	}
	if v := strings.TrimSpace(src.Phone); v != "" {
		dst.Phone = v
	}
	if v := strings.TrimSpace(src.Email); v != "" {
		dst.Email = v
	}
	if v := strings.TrimSpace(src.Notes); v != "" {
		dst.Notes = v
	}
}
