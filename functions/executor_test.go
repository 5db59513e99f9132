package functions

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/room4-2/OrderDesk/llm"
	"github.com/room4-2/OrderDesk/store"
)

func newTestExecutor(repo OrderWriter) *LocalExecutor {
	if repo == nil {
		repo = store.NewMemoryRepository()
	}
	return NewLocalExecutor(NewMenuCatalog(DefaultMenu()), repo, nil, nil)
}

func TestExecuteReturnsOneResultPerCall(t *testing.T) {
	exec := newTestExecutor(nil)
	calls := []llm.ToolCall{
		{ID: "1", Name: GetMenu, Arguments: `{"category":"drinks"}`},
		{ID: "2", Name: "make_coffee", Arguments: `{}`},
		{ID: "3", Name: CalculateCart, Arguments: `not json`},
	}

	results, err := exec.Execute(context.Background(), calls, llm.ToolContext{TenantID: "t1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(results) != len(calls) {
		t.Fatalf("expected %d results, got %d", len(calls), len(results))
	}
	for i, res := range results {
		if res.Role != llm.RoleTool || res.ToolCallID != calls[i].ID || res.Name != calls[i].Name {
			t.Fatalf("result %d not aligned with its call: %+v", i, res)
		}
	}

	menu, ok := Decode(GetMenu, results[0].Content).(MenuResult)
	if !ok || len(menu.Items) != 3 {
		t.Fatalf("expected three drinks, got %+v", Decode(GetMenu, results[0].Content))
	}
	if _, ok := Decode("make_coffee", results[1].Content).(ErrorResult); !ok {
		t.Fatalf("expected unknown tool to produce an error payload, got %s", results[1].Content)
	}
	if _, ok := Decode(CalculateCart, results[2].Content).(ErrorResult); !ok {
		t.Fatalf("expected bad arguments to produce an error payload, got %s", results[2].Content)
	}
}

func TestCalculateCartPricesAndFlagsUnavailable(t *testing.T) {
	exec := newTestExecutor(nil)
	cart := exec.calculateCart(llm.ToolContext{}, []ItemInput{
		{Name: "classic burgers", Quantity: 2},
		{Name: "FRIES", Quantity: 1},
		{Name: "brownie", Quantity: 1},
		{Name: "lobster", Quantity: 1},
		{Name: "soda", Quantity: 0},
	})

	if len(cart.Items) != 2 {
		t.Fatalf("expected 2 priced lines, got %+v", cart.Items)
	}
	if cart.Items[0].ItemID != "classic-burger" || cart.Items[0].LineTotal != 17 {
		t.Fatalf("unexpected first line %+v", cart.Items[0])
	}
	if cart.Total != 20.5 {
		t.Fatalf("expected total 20.5, got %v", cart.Total)
	}
	if strings.Join(cart.Unavailable, ",") != "brownie,lobster" {
		t.Fatalf("expected brownie and lobster unavailable, got %v", cart.Unavailable)
	}
}

func TestCreateOrderPersists(t *testing.T) {
	repo := store.NewMemoryRepository()
	exec := newTestExecutor(repo)
	toolCtx := llm.ToolContext{TenantID: "t1", UserID: "u1", OrderSessionID: "os1"}

	results, _ := exec.Execute(context.Background(), []llm.ToolCall{{
		ID:        "c1",
		Name:      CreateOrder,
		Arguments: `{"items":[{"name":"Double Burger","quantity":1},{"name":"Lemonade","quantity":2}],"customer_name":"Ana","customer_phone":"555-0101"}`,
	}}, toolCtx)

	order, ok := Decode(CreateOrder, results[0].Content).(OrderResult)
	if !ok {
		t.Fatalf("expected order result, got %s", results[0].Content)
	}
	if order.OrderNumber != "A-0001" || order.Total != 16 || order.Status != "placed" {
		t.Fatalf("unexpected order %+v", order)
	}

	saved, err := repo.FindOrder(context.Background(), order.OrderID)
	if err != nil {
		t.Fatalf("expected order to be stored, got %v", err)
	}
	if saved.OrderSessionID != "os1" || saved.Customer.Name != "Ana" {
		t.Fatalf("unexpected stored order %+v", saved)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	exec := newTestExecutor(nil)

	cases := []struct {
		name string
		args CreateOrderArgs
		want string
	}{
		{"empty", CreateOrderArgs{CustomerName: "a", CustomerPhone: "1"}, "without available items"},
		{"unavailable", CreateOrderArgs{Items: []ItemInput{{Name: "Fries", Quantity: 1}, {Name: "Brownie", Quantity: 1}}, CustomerName: "a", CustomerPhone: "1"}, "Brownie"},
		{"no phone", CreateOrderArgs{Items: []ItemInput{{Name: "Fries", Quantity: 1}}, CustomerName: "a"}, "phone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := exec.createOrder(context.Background(), llm.ToolContext{TenantID: "t1"}, tc.args)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

type failingOrders struct{}

func (failingOrders) CreateOrder(context.Context, store.Order) error { return nil }
func (failingOrders) NextOrderNumber(context.Context, string) (int64, error) {
	return 0, errors.New("redis down")
}

func TestStoreFailureBecomesErrorPayload(t *testing.T) {
	exec := newTestExecutor(failingOrders{})
	results, err := exec.Execute(context.Background(), []llm.ToolCall{{
		ID:        "c1",
		Name:      CreateOrder,
		Arguments: `{"items":[{"name":"Fries","quantity":1}],"customer_name":"a","customer_phone":"1"}`,
	}}, llm.ToolContext{})
	if err != nil {
		t.Fatalf("expected store failures to stay inside the payload, got %v", err)
	}
	res, ok := Decode(CreateOrder, results[0].Content).(ErrorResult)
	if !ok || res.Error != "redis down" {
		t.Fatalf("expected redis error payload, got %s", results[0].Content)
	}
}

func TestExecuteStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestExecutor(nil).Execute(ctx, []llm.ToolCall{{ID: "1", Name: GetMenu}}, llm.ToolContext{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTenantMenuOverride(t *testing.T) {
	catalog := NewMenuCatalog(DefaultMenu())
	catalog.Set("t2", Menu{Currency: "EUR", Items: []MenuItem{{ID: "pizza", Name: "Pizza", Category: "mains", Price: 12, Available: true}}})

	if got := catalog.For("t2").Currency; got != "EUR" {
		t.Fatalf("expected tenant override, got %s", got)
	}
	if got := catalog.For("unknown").Currency; got != "USD" {
		t.Fatalf("expected fallback menu, got %s", got)
	}
}
