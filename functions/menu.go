package functions

import (
	"math"
	"strings"
	"sync"
)

// MenuItem is one orderable item
type MenuItem struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Available   bool    `json:"available"`
}

// Menu is a tenant's catalogue
type Menu struct {
	Currency string
	Items    []MenuItem
}

// Find looks an item up by id or case-insensitive name
func (m Menu) Find(name string) (MenuItem, bool) {
	key := normalize(name)
	for _, item := range m.Items {
		if normalize(item.ID) == key || normalize(item.Name) == key {
			return item, true
		}
	}
	// tolerate plurals from speech ("burgers")
	trimmed := strings.TrimSuffix(key, "s")
	for _, item := range m.Items {
		if normalize(item.Name) == trimmed {
			return item, true
		}
	}
	return MenuItem{}, false
}

// Filter returns the available items in a category, or all when empty
func (m Menu) Filter(category string) []MenuItem {
	key := normalize(category)
	var out []MenuItem
	for _, item := range m.Items {
		if !item.Available {
			continue
		}
		if key != "" && normalize(item.Category) != key {
			continue
		}
		out = append(out, item)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

// MenuCatalog resolves a tenant's menu
type MenuCatalog struct {
	mu       sync.RWMutex
	fallback Menu
	tenants  map[string]Menu
}

// NewMenuCatalog creates a catalog that serves fallback for unknown tenants
func NewMenuCatalog(fallback Menu) *MenuCatalog {
	return &MenuCatalog{fallback: fallback, tenants: make(map[string]Menu)}
}

// Set installs a tenant menu
func (c *MenuCatalog) Set(tenantID string, menu Menu) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenants[tenantID] = menu
}

// For returns the tenant's menu
func (c *MenuCatalog) For(tenantID string) Menu {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if menu, ok := c.tenants[tenantID]; ok {
		return menu
	}
	return c.fallback
}

// DefaultMenu is served to tenants without their own catalogue
func DefaultMenu() Menu {
	return Menu{
		Currency: "USD",
		Items: []MenuItem{
			{ID: "classic-burger", Name: "Classic Burger", Category: "burgers", Description: "Beef patty, cheddar, lettuce, tomato", Price: 8.50, Available: true},
			{ID: "double-burger", Name: "Double Burger", Category: "burgers", Description: "Two beef patties, double cheddar", Price: 11.00, Available: true},
			{ID: "chicken-burger", Name: "Chicken Burger", Category: "burgers", Description: "Crispy chicken, slaw, spicy mayo", Price: 9.00, Available: true},
			{ID: "veggie-burger", Name: "Veggie Burger", Category: "burgers", Description: "Grilled vegetable patty, avocado", Price: 9.50, Available: true},
			{ID: "fries", Name: "Fries", Category: "sides", Price: 3.50, Available: true},
			{ID: "onion-rings", Name: "Onion Rings", Category: "sides", Price: 4.00, Available: true},
			{ID: "side-salad", Name: "Side Salad", Category: "sides", Price: 4.50, Available: true},
			{ID: "soda", Name: "Soda", Category: "drinks", Price: 2.00, Available: true},
			{ID: "lemonade", Name: "Lemonade", Category: "drinks", Price: 2.50, Available: true},
			{ID: "milkshake", Name: "Milkshake", Category: "drinks", Description: "Vanilla, chocolate or strawberry", Price: 5.00, Available: true},
			{ID: "brownie", Name: "Brownie", Category: "desserts", Price: 3.00, Available: false},
		},
	}
}
