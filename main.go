package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/room4-2/OrderDesk/audio"
	"github.com/room4-2/OrderDesk/auth"
	"github.com/room4-2/OrderDesk/config"
	"github.com/room4-2/OrderDesk/conversation"
	"github.com/room4-2/OrderDesk/deepgram"
	"github.com/room4-2/OrderDesk/functions"
	"github.com/room4-2/OrderDesk/gemini"
	"github.com/room4-2/OrderDesk/logging"
	"github.com/room4-2/OrderDesk/metrics"
	"github.com/room4-2/OrderDesk/server"
	"github.com/room4-2/OrderDesk/session"
	"github.com/room4-2/OrderDesk/store"
	"github.com/room4-2/OrderDesk/transcribe"
	"github.com/sirupsen/logrus"
)

// chatRetention is how long persisted chats and orders are kept in redis
const chatRetention = 7 * 24 * time.Hour

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogJSON)
	m := metrics.New("orderdesk")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := store.Connect(ctx, cfg.RedisURL, cfg.RedisPassword)
	if redisClient == nil {
		logger.Warn("redis unavailable, chats and orders are kept in memory", logrus.Fields{"addr": cfg.RedisURL})
	}
	repo := store.New(redisClient, chatRetention)

	genaiClient, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		logger.Error("failed to create gemini client", logrus.Fields{"error": err.Error()})
		os.Exit(1)
	}

	var dialer transcribe.StreamDialer
	switch cfg.RealtimeProvider {
	case "gemini":
		dialer = gemini.NewLiveDialer(genaiClient, cfg.LiveModel, logger)
	case "deepgram":
		dialer = deepgram.NewDialer(cfg.DeepgramAPIKey, logger)
	default:
		logger.Info("realtime transcription disabled")
	}

	buffers := audio.NewManager(audio.Options{
		MaxBufferSize: cfg.MaxBufferSize,
		MinBufferSize: cfg.MinBufferSize,
		Timeout:       cfg.AudioSessionTimeout,
		SweepInterval: cfg.AudioSweepInterval,
		OnExpire: func(s audio.Session) {
			logger.Session(s.ID).Info("audio session expired", logrus.Fields{"connection": logging.ShortID(s.ConnectionID)})
		},
	})
	scheduler := transcribe.NewScheduler(buffers, gemini.NewTranscriber(genaiClient, cfg.TranscribeModel), transcribe.Config{
		Interval:  cfg.PartialInterval,
		MinChunks: cfg.PartialMinChunks,
		MinBytes:  cfg.PartialMinBytes,
		Language:  cfg.Language,
	}, logger, m)

	orders := session.NewOrderStore(session.OrderStoreOptions{
		Timeout: cfg.SessionTimeout,
		OnExpire: func(s session.OrderSession) {
			logger.Session(s.ID).Info("order session expired", logrus.Fields{"tenant": s.TenantID})
		},
	})

	executor := functions.NewLocalExecutor(functions.NewMenuCatalog(functions.DefaultMenu()), repo, logger, m)
	loop := conversation.NewLoop(gemini.NewChatModel(genaiClient, cfg.ChatModel), executor, functions.Declarations(), cfg.MaxToolRounds)
	temperature := cfg.Temperature
	turns := session.NewTurns(orders, loop, repo, session.TurnOptions{
		Model:       cfg.ChatModel,
		Temperature: &temperature,
		MaxTokens:   cfg.MaxOutputTokens,
	}, logger, m)

	realtime := session.NewRealtime(dialer, orders, turns, session.RealtimeOptions{
		Language: cfg.Language,
		Timeout:  cfg.AudioSessionTimeout,
	}, logger, m)

	sessionManager := session.NewManager(session.ManagerOptions{
		MaxSessions:    cfg.MaxSessions,
		SessionTimeout: cfg.SessionTimeout,
		KeepAlive:      cfg.KeepAlivePeriod,
	}, session.Handlers{
		Voice:    session.NewVoice(buffers, scheduler, orders, turns, logger, m),
		Chat:     session.NewChat(orders, turns, logger, m),
		Realtime: realtime,
		Orders:   orders,
	}, redisClient, logger, m)

	go buffers.Run(ctx)
	go orders.Run(ctx)
	go realtime.Run(ctx)
	go sessionManager.StartCleanupRoutine(ctx)

	srv := server.NewServerWebsocket(cfg, sessionManager, auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer), m, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", logrus.Fields{"error": err.Error()})
		}
	}()

	if err := srv.Start(); err != nil {
		logger.Error("server error", logrus.Fields{"error": err.Error()})
		os.Exit(1)
	}
	<-stopped

	scheduler.Wait()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("server stopped")
}
