package functions

import (
	"github.com/invopop/jsonschema"
	"github.com/room4-2/OrderDesk/llm"
)

// Tool names
const (
	GetMenu        = "get_menu"
	CalculateCart  = "calculate_cart"
	CreateOrder    = "create_order"
	UpdateCustomer = "update_customer"
)

// ItemInput is one requested line in a cart or order
type ItemInput struct {
	Name     string `json:"name" jsonschema:"description=Menu item name exactly as listed by get_menu"`
	Quantity int    `json:"quantity" jsonschema:"minimum=1,description=How many of this item"`
	Notes    string `json:"notes,omitempty" jsonschema:"description=Preparation notes such as no onions"`
}

// GetMenuArgs are the arguments of get_menu
type GetMenuArgs struct {
	Category string `json:"category,omitempty" jsonschema:"description=Optional category to filter by"`
}

// CalculateCartArgs are the arguments of calculate_cart
type CalculateCartArgs struct {
	Items []ItemInput `json:"items" jsonschema:"description=The complete list of items the customer wants right now"`
}

// CreateOrderArgs are the arguments of create_order
type CreateOrderArgs struct {
	Items         []ItemInput `json:"items" jsonschema:"description=The confirmed items to order"`
	CustomerName  string      `json:"customer_name" jsonschema:"description=Customer name"`
	CustomerPhone string      `json:"customer_phone" jsonschema:"description=Customer phone number"`
	CustomerEmail string      `json:"customer_email,omitempty" jsonschema:"description=Customer email if given"`
	Notes         string      `json:"notes,omitempty" jsonschema:"description=Order level notes"`
}

// UpdateCustomerArgs are the arguments of update_customer
type UpdateCustomerArgs struct {
	Name  string `json:"name,omitempty" jsonschema:"description=Customer name"`
	Phone string `json:"phone,omitempty" jsonschema:"description=Customer phone number"`
	Email string `json:"email,omitempty" jsonschema:"description=Customer email"`
	Notes string `json:"notes,omitempty" jsonschema:"description=Anything else the customer asked us to remember"`
}

func schemaFor(v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(v)
	schema.Version = ""
	schema.ID = ""
	return schema
}

// Declarations returns every tool the assistant may call
func Declarations() []llm.Tool {
	return []llm.Tool{
		{
			Name:        GetMenu,
			Description: "List the menu items available for ordering with their prices.",
			Parameters:  schemaFor(GetMenuArgs{}),
		},
		{
			Name: CalculateCart,
			Description: "Price the customer's cart. Always send the full list of items the customer currently wants, " +
				"not only the change. Returns the priced items and the total.",
			Parameters: schemaFor(CalculateCartArgs{}),
		},
		{
			Name:        CreateOrder,
			Description: "Place the order once the customer has confirmed the items and total.",
			Parameters:  schemaFor(CreateOrderArgs{}),
		},
		{
			Name:        UpdateCustomer,
			Description: "Record customer contact details as soon as they are given.",
			Parameters:  schemaFor(UpdateCustomerArgs{}),
		},
	}
}
