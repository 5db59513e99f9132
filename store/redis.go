package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/room4-2/OrderDesk/llm"
)

const keyPrefix = "orderdesk:"

// RedisRepository stores chats as a meta key plus a message list and orders
// as JSON strings indexed per tenant
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRepository creates a repository. ttl <= 0 keeps records forever.
func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	return &RedisRepository{client: client, ttl: ttl}
}

func chatKey(id string) string         { return keyPrefix + "chat:" + id }
func chatMessagesKey(id string) string { return keyPrefix + "chat:" + id + ":messages" }
func orderKey(id string) string        { return keyPrefix + "order:" + id }
func tenantOrdersKey(t string) string  { return keyPrefix + "tenant:" + t + ":orders" }
func orderSeqKey(t string) string      { return keyPrefix + "tenant:" + t + ":order_seq" }

func (r *RedisRepository) expire(ctx context.Context, pipe redis.Pipeliner, keys ...string) {
	if r.ttl <= 0 {
		return
	}
	for _, key := range keys {
		pipe.Expire(ctx, key, r.ttl)
	}
}

// CreateChat stores chat metadata and any initial messages
func (r *RedisRepository) CreateChat(ctx context.Context, chat Chat) error {
	msgs := chat.Messages
	chat.Messages = nil
	meta, err := sonic.Marshal(chat)
	if err != nil {
		return fmt.Errorf("encode chat: %w", err)
	}

	ok, err := r.client.SetNX(ctx, chatKey(chat.ID), meta, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	if !ok {
		return nil
	}
	if len(msgs) == 0 {
		return nil
	}
	return r.AppendMessages(ctx, chat.ID, msgs...)
}

// AppendMessages pushes messages onto the chat list and refreshes the TTL
func (r *RedisRepository) AppendMessages(ctx context.Context, chatID string, msgs ...llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		encoded, err := sonic.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		values = append(values, encoded)
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, chatMessagesKey(chatID), values...)
	r.expire(ctx, pipe, chatKey(chatID), chatMessagesKey(chatID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	return nil
}

// FindChat loads metadata and the full message list
func (r *RedisRepository) FindChat(ctx context.Context, chatID string) (*Chat, error) {
	meta, err := r.client.Get(ctx, chatKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find chat: %w", err)
	}

	var chat Chat
	if err := sonic.Unmarshal(meta, &chat); err != nil {
		return nil, fmt.Errorf("decode chat: %w", err)
	}

	raw, err := r.client.LRange(ctx, chatMessagesKey(chatID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	chat.Messages = make([]llm.Message, 0, len(raw))
	for _, item := range raw {
		var msg llm.Message
		if err := sonic.UnmarshalString(item, &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		chat.Messages = append(chat.Messages, msg)
	}
	return &chat, nil
}

// DeleteChat removes a chat and its messages
func (r *RedisRepository) DeleteChat(ctx context.Context, chatID string) error {
	if err := r.client.Del(ctx, chatKey(chatID), chatMessagesKey(chatID)).Err(); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

// CreateOrder stores an order and indexes it under its tenant
func (r *RedisRepository) CreateOrder(ctx context.Context, order Order) error {
	encoded, err := sonic.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, orderKey(order.ID), encoded, r.ttl)
	pipe.ZAdd(ctx, tenantOrdersKey(order.TenantID), redis.Z{
		Score:  float64(order.CreatedAt.Unix()),
		Member: order.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// FindOrder loads one order
func (r *RedisRepository) FindOrder(ctx context.Context, orderID string) (*Order, error) {
	raw, err := r.client.Get(ctx, orderKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	var order Order
	if err := sonic.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &order, nil
}

// NextOrderNumber increments the tenant order sequence
func (r *RedisRepository) NextOrderNumber(ctx context.Context, tenantID string) (int64, error) {
	n, err := r.client.Incr(ctx, orderSeqKey(tenantID)).Result()
	if err != nil {
		return 0, fmt.Errorf("next order number: %w", err)
	}
	return n, nil
}
