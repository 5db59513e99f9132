package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/room4-2/OrderDesk/llm"
)

// ErrNotFound is returned when a chat or order does not exist
var ErrNotFound = errors.New("record not found")

// Chat is the persisted transcript of one order session
type Chat struct {
	ID        string        `json:"id"`
	TenantID  string        `json:"tenant_id"`
	UserID    string        `json:"user_id"`
	Channel   string        `json:"channel"`
	CreatedAt time.Time     `json:"created_at"`
	Messages  []llm.Message `json:"messages,omitempty"`
}

// Customer holds the contact details captured during ordering
type Customer struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// IsZero reports whether no field has been captured
func (c Customer) IsZero() bool {
	return c == Customer{}
}

// OrderItem is one priced order line
type OrderItem struct {
	ItemID    string  `json:"item_id,omitempty"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	LineTotal float64 `json:"line_total"`
	Notes     string  `json:"notes,omitempty"`
}

// Order is a placed order
type Order struct {
	ID             string      `json:"id"`
	Number         string      `json:"number"`
	TenantID       string      `json:"tenant_id"`
	UserID         string      `json:"user_id"`
	OrderSessionID string      `json:"order_session_id"`
	Items          []OrderItem `json:"items"`
	Total          float64     `json:"total"`
	Currency       string      `json:"currency"`
	Customer       Customer    `json:"customer"`
	Status         string      `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Repository persists chats and orders
type Repository interface {
	CreateChat(ctx context.Context, chat Chat) error
	AppendMessages(ctx context.Context, chatID string, msgs ...llm.Message) error
	FindChat(ctx context.Context, chatID string) (*Chat, error)
	DeleteChat(ctx context.Context, chatID string) error

	CreateOrder(ctx context.Context, order Order) error
	FindOrder(ctx context.Context, orderID string) (*Order, error)
	// NextOrderNumber returns a per-tenant increasing sequence number
	NextOrderNumber(ctx context.Context, tenantID string) (int64, error)
}

// Connect opens a redis client and pings it. A nil client is returned when
// redis is unreachable so callers can fall back to memory.
func Connect(ctx context.Context, addr, password string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}

// New returns a redis-backed repository, or an in-memory one when client is nil
func New(client *redis.Client, ttl time.Duration) Repository {
	if client == nil {
		return NewMemoryRepository()
	}
	return NewRedisRepository(client, ttl)
}
