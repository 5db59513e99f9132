package store

import (
	"context"
	"sync"

	"github.com/jinzhu/copier"
	"github.com/room4-2/OrderDesk/llm"
)

// MemoryRepository keeps everything in process memory. Used when redis is
// unavailable and in tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	chats  map[string]*Chat
	orders map[string]*Order
	seq    map[string]int64
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		chats:  make(map[string]*Chat),
		orders: make(map[string]*Order),
		seq:    make(map[string]int64),
	}
}

func (m *MemoryRepository) CreateChat(_ context.Context, chat Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.chats[chat.ID]; exists {
		return nil
	}
	stored := &Chat{}
	if err := copier.CopyWithOption(stored, &chat, copier.Option{DeepCopy: true}); err != nil {
		return err
	}
	m.chats[chat.ID] = stored
	return nil
}

func (m *MemoryRepository) AppendMessages(_ context.Context, chatID string, msgs ...llm.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, exists := m.chats[chatID]
	if !exists {
		return ErrNotFound
	}
	for _, msg := range msgs {
		var stored llm.Message
		if err := copier.CopyWithOption(&stored, &msg, copier.Option{DeepCopy: true}); err != nil {
			return err
		}
		chat.Messages = append(chat.Messages, stored)
	}
	return nil
}

func (m *MemoryRepository) FindChat(_ context.Context, chatID string) (*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chat, exists := m.chats[chatID]
	if !exists {
		return nil, ErrNotFound
	}
	out := &Chat{}
	if err := copier.CopyWithOption(out, chat, copier.Option{DeepCopy: true}); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MemoryRepository) DeleteChat(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, chatID)
	return nil
}

func (m *MemoryRepository) CreateOrder(_ context.Context, order Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := &Order{}
	if err := copier.CopyWithOption(stored, &order, copier.Option{DeepCopy: true}); err != nil {
		return err
	}
	m.orders[order.ID] = stored
	return nil
}

func (m *MemoryRepository) FindOrder(_ context.Context, orderID string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, exists := m.orders[orderID]
	if !exists {
		return nil, ErrNotFound
	}
	out := &Order{}
	if err := copier.CopyWithOption(out, order, copier.Option{DeepCopy: true}); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MemoryRepository) NextOrderNumber(_ context.Context, tenantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[tenantID]++
	return m.seq[tenantID], nil
}
