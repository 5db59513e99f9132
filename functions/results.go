package functions

import (
	"strings"

	"github.com/bytedance/sonic"
	"github.com/room4-2/OrderDesk/store"
)

// Result is a decoded tool result. Exactly one of the concrete types below.
type Result interface {
	toolResult()
}

// LineItem is one priced cart line
type LineItem = store.OrderItem

// CartResult is returned by calculate_cart
type CartResult struct {
	Items       []LineItem `json:"items"`
	Total       float64    `json:"total"`
	Currency    string     `json:"currency"`
	Unavailable []string   `json:"unavailable,omitempty"`
}

// OrderResult is returned by create_order
type OrderResult struct {
	OrderID     string     `json:"order_id"`
	OrderNumber string     `json:"order_number"`
	Items       []LineItem `json:"items"`
	Total       float64    `json:"total"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
}

// MenuResult is returned by get_menu
type MenuResult struct {
	Items    []MenuItem `json:"items"`
	Currency string     `json:"currency"`
}

// CustomerResult is returned by update_customer
type CustomerResult struct {
	Customer store.Customer `json:"customer"`
}

// ErrorResult is any tool result carrying an error
type ErrorResult struct {
	Error string `json:"error"`
}

// Unrecognized is a result from an unknown tool or with an undecodable payload
type Unrecognized struct {
	Name string
	Raw  string
}

func (CartResult) toolResult()     {}
func (OrderResult) toolResult()    {}
func (MenuResult) toolResult()     {}
func (CustomerResult) toolResult() {}
func (ErrorResult) toolResult()    {}
func (Unrecognized) toolResult()   {}

// Decode parses a tool result payload once, selected by tool name
func Decode(name, content string) Result {
	var probe struct {
		Error string `json:"error"`
	}
	if err := sonic.UnmarshalString(content, &probe); err != nil {
		return Unrecognized{Name: name, Raw: content}
	}
	if strings.TrimSpace(probe.Error) != "" {
		return ErrorResult{Error: probe.Error}
	}

	var (
		result Result
		err    error
	)
	switch name {
	case CalculateCart:
		var r CartResult
		err = sonic.UnmarshalString(content, &r)
		result = r
	case CreateOrder:
		var r OrderResult
		err = sonic.UnmarshalString(content, &r)
		result = r
	case GetMenu:
		var r MenuResult
		err = sonic.UnmarshalString(content, &r)
		result = r
	case UpdateCustomer:
		var r CustomerResult
		err = sonic.UnmarshalString(content, &r)
		result = r
	default:
		return Unrecognized{Name: name, Raw: content}
	}
	if err != nil {
		return Unrecognized{Name: name, Raw: content}
	}
	return result
}

func encode(v any) string {
	out, err := sonic.MarshalString(v)
	if err != nil {
		return `{"error":"failed to encode tool result"}`
	}
	return out
}

func errorPayload(msg string) string {
	return encode(ErrorResult{Error: msg})
}
