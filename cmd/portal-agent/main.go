package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"dmp-portal-client/internal/config"
	"dmp-portal-client/internal/credentials"
	"dmp-portal-client/internal/domain"
	statusHandler "dmp-portal-client/internal/handler/http/status"
	"dmp-portal-client/internal/localstate"
	"dmp-portal-client/internal/messaging"
	"dmp-portal-client/internal/notifications"
	"dmp-portal-client/internal/transport"
	"dmp-portal-client/internal/webrtc"
	"dmp-portal-client/pkg/constants"
	apperrors "dmp-portal-client/pkg/errors"
	"dmp-portal-client/pkg/logger"
)

func main() {
	// 1. Configuration and logging
	_ = godotenv.Load()
	cfg := config.Load()
	if err := logger.Init(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		logger.InitDefault()
	}
	defer logger.Sync()

	// 2. Local state (cached credentials, remembered conference link)
	state, err := localstate.Open(cfg.StatePath)
	if err != nil {
		logger.Fatal("could not open local state", zap.String("path", cfg.StatePath), zap.Error(err))
	}
	defer state.Close()

	// 3. Credential resolution and the request channel
	resolver := credentials.NewResolver(credentials.DefaultSources(state)...)
	api := transport.NewClient(cfg.BaseURL, resolver)

	// 4. Push transport
	manager := transport.NewManager(resolver, transport.NewDialer(cfg.BaseURL, cfg.WebSocketURL()))
	defer manager.Close()

	// 5. Conversation store
	store := messaging.NewStore(api, manager, manager.Identity)
	store.Start()
	defer store.Close()

	// 6. Call orchestration
	orchestrator := webrtc.NewOrchestrator(api, manager, webrtc.NoopDevices{}, state, cfg.BaseURL)
	orchestrator.SetIncomingHandler(func(call domain.IncomingCall) {
		logger.Info("incoming call",
			zap.Int64("session_id", call.SessionID),
			zap.Int64("conversation_id", call.ConversationID),
			zap.Int64("caller_id", call.CallerID),
			zap.String("kind", call.Kind))
	})
	orchestrator.Start()
	defer orchestrator.Close()
	if link := orchestrator.LastConferenceLink(); link != "" {
		logger.Info("conference link remembered from previous run", zap.String("link", link))
	}

	// 7. Notification poller
	poller := notifications.NewPoller(api)
	poller.SetUpdateHandler(func(fresh []domain.Notification) {
		for _, n := range fresh {
			logger.Info("notification received",
				zap.Int64("notification_id", n.ID),
				zap.String("kind", n.Kind))
		}
	})

	// 8. Connect. Without a resolvable credential the agent stays up and
	// serves its status API; a later restart with cached credentials
	// picks the session back up.
	ctx := context.Background()
	handle, err := manager.Connect(ctx)
	switch {
	case err == nil:
		identity := handle.Identity()
		poller.Start(ctx, identity.ID, cfg.PollInterval, cfg.MaxRetries)
		defer poller.Stop()
	case apperrors.IsCode(err, apperrors.ErrCodeNotAuthenticated):
		logger.Warn("no cached credential, running unauthenticated", zap.Error(err))
	default:
		logger.Error("initial connection failed", zap.Error(err))
	}

	// 9. Local status API
	router := statusHandler.NewRouter(statusHandler.NewHandler(manager, poller))
	server := &http.Server{
		Addr:    cfg.StatusAddr,
		Handler: router,
	}
	go func() {
		logger.Info("status API listening", zap.String("addr", cfg.StatusAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("status API failed", zap.Error(err))
		}
	}()

	// 10. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("status API forced to shut down", zap.Error(err))
	}
	logger.Info("agent exited")
}
