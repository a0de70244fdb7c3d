// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/blob"
	"github.com/capitalize-ai/messaging-platform/internal/config"
	"github.com/capitalize-ai/messaging-platform/internal/handler"
	"github.com/capitalize-ai/messaging-platform/internal/identity"
	"github.com/capitalize-ai/messaging-platform/internal/msgid"
	natsclient "github.com/capitalize-ai/messaging-platform/internal/nats"
	"github.com/capitalize-ai/messaging-platform/internal/presence"
	"github.com/capitalize-ai/messaging-platform/internal/relay"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/internal/store/memstore"
	"github.com/capitalize-ai/messaging-platform/internal/store/sqlstore"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	log = log.With(zap.String("node_id", cfg.NodeID))

	log.Info("starting API server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "messaging-platform", cfg.NodeID, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	checks := []handler.Check{{Name: "database", Probe: st.Ping}}

	blobs, err := openBlobs(cfg, log)
	if err != nil {
		return err
	}

	var rec presence.Recorder = presence.NewMemoryRecorder()
	if cfg.RedisAddr != "" {
		redisRec, err := presence.NewRedisRecorder(presence.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.PresenceTTL,
		})
		if err != nil {
			return err
		}
		defer redisRec.Close()
		rec = redisRec
		checks = append(checks, handler.Check{Name: "redis", Probe: redisRec.Ping})
	}

	// Services
	ids := msgid.NewGenerator()
	retry := identity.DefaultRetryConfig()
	retry.MaxRetries = cfg.IdentityRetryMax
	users := identity.NewStoreDirectory(st.Users(), retry, log)

	conversationSvc := service.NewConversationService(st, log)
	participantSvc := service.NewParticipantService(st, conversationSvc, users, log)
	messageSvc := service.NewMessageService(st, conversationSvc, ids, log)
	attachmentSvc := service.NewAttachmentService(st, blobs, ids, log)
	chatSvc := service.NewChatService(conversationSvc, participantSvc, messageSvc, attachmentSvc, users, log)

	// Relay
	relayCfg := relay.DefaultConfig(cfg.NodeID)
	relayCfg.SendBuffer = cfg.RelaySendBuffer
	relayCfg.PingInterval = cfg.RelayPingInterval
	if cfg.RedisAddr != "" {
		relayCfg.PresenceRefresh = cfg.PresenceTTL / 2
	}
	hub := relay.NewHub(relayCfg, chatSvc, participantSvc, rec, log)
	chatSvc.SetNotifier(hub)
	go hub.Run(ctx)

	if cfg.NATSEnabled {
		natsClient, err := natsclient.Connect(natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Name:     cfg.NodeID,
		}, log)
		if err != nil {
			return err
		}
		defer natsClient.Close()

		bridge := natsclient.NewBridge(natsClient, cfg.NodeID, log)
		if err := bridge.Start(hub.DeliverRemote); err != nil {
			return err
		}
		defer bridge.Close()
		hub.SetBridge(bridge)

		checks = append(checks, handler.Check{Name: "nats", Probe: func(context.Context) error {
			if !natsClient.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}})
	}

	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, handler.Handlers{
		Health:        handler.NewHealthHandler(checks...),
		Conversations: handler.NewConversationHandler(chatSvc, conversationSvc, log),
		Messages:      handler.NewMessageHandler(chatSvc, messageSvc, participantSvc, log),
		Attachments:   handler.NewAttachmentHandler(attachmentSvc, participantSvc, log),
		Participants:  handler.NewParticipantHandler(chatSvc, participantSvc, log),
		WS:            handler.NewWSHandler(hub, nil, log),
	}, log)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.DatabaseDriver == "memory" {
		return memstore.New(), nil
	}
	st, err := sqlstore.Open(sqlstore.Config{
		Driver:   cfg.DatabaseDriver,
		DSN:      cfg.DatabaseDSN,
		LogLevel: cfg.LogLevel,
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func openBlobs(cfg *config.Config, log *logger.Logger) (blob.Store, error) {
	if cfg.OSSEndpoint == "" {
		log.Warn("OSS_ENDPOINT not set, attachments are kept in memory")
		return blob.NewMemoryStore(""), nil
	}
	oss, err := blob.NewOSSStore(blob.OSSConfig{
		Endpoint:        cfg.OSSEndpoint,
		Bucket:          cfg.OSSBucket,
		AccessKeyID:     cfg.OSSAccessKeyID,
		AccessKeySecret: cfg.OSSAccessKeySecret,
		PublicBaseURL:   cfg.OSSPublicBaseURL,
	})
	if err != nil {
		return nil, err
	}
	return oss, nil
}
