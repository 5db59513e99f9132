package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/room4-2/OrderDesk/auth"
	"github.com/room4-2/OrderDesk/logging"
	"github.com/room4-2/OrderDesk/metrics"
	"github.com/sirupsen/logrus"
)

// ErrMaxSessions is returned when the connection limit is reached
var ErrMaxSessions = errors.New("maximum sessions reached")

const (
	redisKeyPrefix       = "orderdesk:connection:"
	redisActiveKey       = "orderdesk:active_connections"
	defaultCleanupPeriod = time.Minute
)

// ManagerOptions configures connection limits
type ManagerOptions struct {
	MaxSessions    int
	SessionTimeout time.Duration
	KeepAlive      time.Duration
}

// Manager manages all client connections
type Manager struct {
	sessions map[string]*Client
	mu       sync.RWMutex
	redis    *redis.Client
	opts     ManagerOptions
	handlers Handlers
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewManager creates a connection manager. redisClient may be nil.
func NewManager(opts ManagerOptions, handlers Handlers, redisClient *redis.Client, logger *logging.Logger, m *metrics.Metrics) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 100
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		sessions: make(map[string]*Client),
		redis:    redisClient,
		opts:     opts,
		handlers: handlers,
		logger:   logger,
		metrics:  m,
	}
}

// CreateSession registers a new authenticated connection
func (sm *Manager) CreateSession(ctx context.Context, conn *websocket.Conn, identity auth.Identity) (*Client, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.opts.MaxSessions {
		return nil, ErrMaxSessions
	}

	sessionID := uuid.New().String()
	client := NewClient(sessionID, identity, conn, sm.handlers, sm.opts.KeepAlive, sm.logger)

	sm.storeSession(ctx, sessionID, client)
	sm.reportActiveLocked()
	return client, nil
}

// storeSession saves a connection to memory and Redis
func (sm *Manager) storeSession(ctx context.Context, sessionID string, client *Client) {
	sm.sessions[sessionID] = client

	if sm.redis != nil {
		pipe := sm.redis.TxPipeline()
		pipe.HSet(ctx, redisKeyPrefix+sessionID, map[string]interface{}{
			"created_at":    client.CreatedAt.Format(time.RFC3339),
			"last_activity": client.LastActivity.Format(time.RFC3339),
			"status":        "active",
			"tenant_id":     client.Identity.TenantID,
			"user_id":       client.Identity.UserID,
		})
		pipe.SAdd(ctx, redisActiveKey, sessionID)
		pipe.Expire(ctx, redisKeyPrefix+sessionID, sm.opts.SessionTimeout)
		if _, err := pipe.Exec(ctx); err != nil {
			sm.logger.Warn("failed to mirror connection to redis", logrus.Fields{"error": err.Error()})
		}
	}
}

// GetSession retrieves a connection by ID
func (sm *Manager) GetSession(sessionID string) (*Client, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	client, exists := sm.sessions[sessionID]
	return client, exists
}

// RemoveSession forgets a connection and closes it. Closing may write to
// remote streams, so it happens after the lock is released.
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	client, exists := sm.sessions[sessionID]
	if !exists {
		sm.mu.Unlock()
		return nil
	}
	delete(sm.sessions, sessionID)
	sm.reportActiveLocked()
	sm.mu.Unlock()

	_ = client.Close()
	sm.forget(ctx, sessionID)
	return nil
}

func (sm *Manager) forget(ctx context.Context, sessionID string) {
	if sm.redis != nil {
		sm.redis.Del(ctx, redisKeyPrefix+sessionID)
		sm.redis.SRem(ctx, redisActiveKey, sessionID)
	}
}

// GetActiveSessionCount returns current connection count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions closes connections idle longer than the session timeout
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	sm.mu.Lock()
	now := time.Now()
	var (
		stale  = make(map[string]*Client)
		active = make(map[string]time.Time)
	)
	for id, client := range sm.sessions {
		if client.Idle(now) > sm.opts.SessionTimeout {
			stale[id] = client
			delete(sm.sessions, id)
			continue
		}
		active[id] = now.Add(-client.Idle(now))
	}
	sm.reportActiveLocked()
	sm.mu.Unlock()

	for id, client := range stale {
		sm.logger.Session(id).Info("closing inactive connection")
		_ = client.Close()
		sm.forget(ctx, id)
	}
	if sm.redis != nil {
		for id, lastActivity := range active {
			sm.redis.HSet(ctx, redisKeyPrefix+id, "last_activity", lastActivity.Format(time.RFC3339))
			sm.redis.Expire(ctx, redisKeyPrefix+id, sm.opts.SessionTimeout)
		}
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive connections
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(defaultCleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

func (sm *Manager) reportActiveLocked() {
	audioSessions, orderSessions, realtime := 0, 0, 0
	if sm.handlers.Voice != nil {
		audioSessions = sm.handlers.Voice.Len()
	}
	if sm.handlers.Orders != nil {
		orderSessions = sm.handlers.Orders.Len()
	}
	if sm.handlers.Realtime != nil {
		realtime = sm.handlers.Realtime.Len()
	}
	sm.metrics.SetActive(len(sm.sessions), audioSessions, orderSessions, realtime)
}

// Shutdown closes all connections
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	clients := sm.sessions
	sm.sessions = make(map[string]*Client)
	sm.mu.Unlock()

	for _, client := range clients {
		_ = client.Close()
	}

	// the redis client is shared with the store and closed by its owner
	if sm.redis != nil {
		sm.redis.Del(context.Background(), redisActiveKey)
	}
}
