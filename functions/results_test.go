package functions

import (
	"testing"

	"github.com/invopop/jsonschema"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		name    string
		tool    string
		content string
		check   func(Result) bool
	}{
		{"cart", CalculateCart, `{"items":[{"item_id":"fries","name":"Fries","quantity":1,"unit_price":3.5,"line_total":3.5}],"total":3.5,"currency":"USD"}`, func(r Result) bool {
			c, ok := r.(CartResult)
			return ok && len(c.Items) == 1 && c.Total == 3.5
		}},
		{"order", CreateOrder, `{"order_id":"o1","order_number":"A-0007","total":9,"status":"placed"}`, func(r Result) bool {
			o, ok := r.(OrderResult)
			return ok && o.OrderNumber == "A-0007"
		}},
		{"customer", UpdateCustomer, `{"customer":{"name":"Ana"}}`, func(r Result) bool {
			c, ok := r.(CustomerResult)
			return ok && c.Customer.Name == "Ana"
		}},
		{"error wins over tool", CalculateCart, `{"error":"boom"}`, func(r Result) bool {
			e, ok := r.(ErrorResult)
			return ok && e.Error == "boom"
		}},
		{"not json", CalculateCart, `boom`, func(r Result) bool {
			u, ok := r.(Unrecognized)
			return ok && u.Raw == "boom"
		}},
		{"unknown tool", "weather", `{"temp":20}`, func(r Result) bool {
			u, ok := r.(Unrecognized)
			return ok && u.Name == "weather"
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Decode(tc.tool, tc.content)
			if !tc.check(got) {
				t.Fatalf("unexpected decode result %#v", got)
			}
		})
	}
}

func TestDeclarationsExposeObjectSchemas(t *testing.T) {
	tools := Declarations()
	if len(tools) != 4 {
		t.Fatalf("expected 4 tools, got %d", len(tools))
	}
	for _, tool := range tools {
		if tool.Name == "" || tool.Description == "" {
			t.Fatalf("expected named and described tool, got %+v", tool)
		}
		schema, ok := tool.Parameters.(*jsonschema.Schema)
		if !ok || schema.Type != "object" || schema.Properties.Len() == 0 {
			t.Fatalf("expected object schema with properties for %s", tool.Name)
		}
	}
}
