package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/room4-2/OrderDesk/auth"
	"github.com/room4-2/OrderDesk/cart"
	"github.com/room4-2/OrderDesk/llm"
	"github.com/room4-2/OrderDesk/registry"
)

var (
	// ErrOrderSessionNotFound is returned for unknown, expired or foreign order sessions
	ErrOrderSessionNotFound = errors.New("order session not found")
)

// OrderSession is the ordering conversation shared by voice, chat and
// realtime turns. It outlives any single audio session or connection.
type OrderSession struct {
	ID           string
	TenantID     string
	UserID       string
	ConnectionID string
	Messages     []llm.Message
	Cart         cart.State
	CreatedAt    time.Time
	LastActivity time.Time
}

// OrderStore owns every order session
type OrderStore struct {
	sessions *registry.Registry[OrderSession]
	now      func() time.Time

	locksMu sync.Mutex
	locks   map[string]*turnLock
}

type turnLock struct {
	mu   sync.Mutex
	refs int
}

// OrderStoreOptions configures idle expiry
type OrderStoreOptions struct {
	Timeout       time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
	OnExpire      func(OrderSession)
}

// NewOrderStore creates an empty store
func NewOrderStore(opts OrderStoreOptions) *OrderStore {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &OrderStore{now: opts.Now, locks: make(map[string]*turnLock)}
	s.sessions = registry.New(registry.Options[OrderSession]{
		TTL:           opts.Timeout,
		SweepInterval: opts.SweepInterval,
		Now:           opts.Now,
		OnExpire: func(_ string, os OrderSession) {
			if opts.OnExpire != nil {
				opts.OnExpire(os)
			}
		},
	})
	return s
}

// Run drives idle expiry until ctx is done
func (s *OrderStore) Run(ctx context.Context) {
	s.sessions.Run(ctx)
}

// Resolve returns the order session for id, creating it when missing. An
// empty id generates a new one. Sessions of another tenant are reported as
// not found.
func (s *OrderStore) Resolve(id string, identity auth.Identity, connectionID string) (OrderSession, bool, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now()
	os, created := s.sessions.GetOrCreate(id, func() OrderSession {
		return OrderSession{
			ID:           id,
			TenantID:     identity.TenantID,
			UserID:       identity.UserID,
			ConnectionID: connectionID,
			CreatedAt:    now,
			LastActivity: now,
		}
	})
	if os.TenantID != identity.TenantID {
		return OrderSession{}, false, ErrOrderSessionNotFound
	}
	return snapshot(os), created, nil
}

// Get returns a deep copy of the session
func (s *OrderStore) Get(id string) (OrderSession, bool) {
	os, ok := s.sessions.Get(id)
	if !ok {
		return OrderSession{}, false
	}
	return snapshot(os), true
}

// Update mutates the session under the registry lock and re-arms its idle deadline
func (s *OrderStore) Update(id string, fn func(*OrderSession) error) error {
	err := s.sessions.Update(id, func(os *OrderSession) error {
		os.LastActivity = s.now()
		return fn(os)
	})
	if errors.Is(err, registry.ErrNotFound) {
		return ErrOrderSessionNotFound
	}
	return err
}

// Delete removes the session. Turns in flight drop their results.
func (s *OrderStore) Delete(id string) bool {
	_, ok := s.sessions.Delete(id)
	return ok
}

// Len returns the number of live order sessions
func (s *OrderStore) Len() int {
	return s.sessions.Len()
}

// LockTurn serialises turns on one order session. The returned func releases it.
func (s *OrderStore) LockTurn(id string) func() {
	s.locksMu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &turnLock{}
		s.locks[id] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

func snapshot(os OrderSession) OrderSession {
	var out OrderSession
	if err := copier.CopyWithOption(&out, &os, copier.Option{DeepCopy: true}); err != nil {
		out = os
		out.Messages = append([]llm.Message(nil), os.Messages...)
		out.Cart = os.Cart.Snapshot()
	}
	return out
}
