package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/room4-2/OrderDesk/auth"
	"github.com/room4-2/OrderDesk/config"
	"github.com/room4-2/OrderDesk/logging"
	"github.com/room4-2/OrderDesk/messages"
	"github.com/room4-2/OrderDesk/metrics"
	"github.com/room4-2/OrderDesk/session"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Authenticator resolves the identity of an upgrade request
type Authenticator interface {
	Authenticate(r *http.Request) (auth.Identity, error)
}

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	auth           Authenticator
	metrics        *metrics.Metrics
	config         *config.Config
	logger         *logging.Logger
}

func NewServerWebsocket(cfg *config.Config, sessionManager *session.Manager, authenticator Authenticator, m *metrics.Metrics, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		sessionManager: sessionManager,
		auth:           authenticator,
		metrics:        m,
		config:         cfg,
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					// non-browser clients
					return true
				}
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           otelhttp.NewHandler(s.Router(), "orderdesk"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Router builds the HTTP routes
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.logger.Info("websocket server starting", logrus.Fields{
		"port":     s.config.Port,
		"endpoint": fmt.Sprintf("ws://localhost:%d/ws", s.config.Port),
	})
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.sessionManager.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := s.auth.Authenticate(r)
	if err != nil {
		s.logger.Warn("rejected unauthenticated connection", logrus.Fields{"error": err.Error(), "remote": r.RemoteAddr})
		s.metrics.RecordError(messages.ErrCodeUnauthorized)
		writeJSON(w, http.StatusUnauthorized, messages.ErrorPayload{Code: messages.ErrCodeUnauthorized, Message: err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logrus.Fields{"error": err.Error()})
		return
	}

	// the request context ends with the handler, the connection does not
	ctx := context.WithoutCancel(r.Context())
	client, err := s.sessionManager.CreateSession(ctx, conn, identity)
	if err != nil {
		s.logger.Warn("failed to create connection session", logrus.Fields{"error": err.Error()})
		errMsg := messages.NewErrorMessage("", messages.ErrCodeRateLimited, err.Error())
		if data, merr := sonic.Marshal(errMsg); merr == nil {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		conn.Close()
		return
	}

	log := s.logger.Session(client.ID)
	fields := logrus.Fields{"tenant": identity.TenantID, "user": identity.UserID}
	if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
	}
	log.Info("connection opened", fields)

	client.Start()
	<-client.CloseChan

	_ = s.sessionManager.RemoveSession(ctx, client.ID)
	log.Info("connection closed")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessionManager.GetActiveSessionCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_, _ = w.Write(data)
}
