package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"artvista/internal/util"
	"artvista/pkg/queue"
	"artvista/pkg/store"
	"artvista/services/artvista/internal/app"
	"artvista/services/artvista/internal/bootstrap"
	"artvista/services/artvista/internal/config"
	"artvista/services/artvista/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := bootstrap.NewRedisClient(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	docs, err := bootstrap.NewDocumentStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init %s store: %v", cfg.StoreBackend, err)
	}
	objects, filesRoot, err := bootstrap.NewObjectStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init %s object store: %v", cfg.ObjectBackend, err)
	}
	sessions, err := bootstrap.NewSessionStore(cfg, redisClient)
	if err != nil {
		log.Fatalf("failed to init %s sessions: %v", cfg.SessionBackend, err)
	}
	publisher, subscriber, err := bootstrap.NewEvents(cfg, redisClient)
	if err != nil {
		log.Fatalf("failed to init %s events: %v", cfg.EventsBackend, err)
	}

	var cleanupQueue *queue.RedisCleanupQueue
	if redisClient != nil && cfg.CleanupWorkers > 0 {
		cleanupQueue, err = queue.NewRedisCleanupQueue(queue.RedisQueueConfig{Client: redisClient})
		if err != nil {
			log.Fatalf("failed to init cleanup queue: %v", err)
		}
	}

	appCfg := app.Config{
		Store:          docs,
		Sessions:       sessions,
		Objects:        objects,
		Events:         publisher,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}
	if cleanupQueue != nil {
		appCfg.Cleaner = cleanupQueue
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	if cleanupQueue != nil {
		cleanupQueue.Start(ctx, cfg.CleanupWorkers, appCore.CleanupImage)
		logger.Info("image cleanup workers started", "workers", cfg.CleanupWorkers)
	}

	serverCfg := server.Config{
		App:                      appCore,
		Redis:                    redisClient,
		Subscriber:               subscriber,
		CORSOrigins:              cfg.CORSOrigins,
		TrustedProxyCIDRs:        cfg.TrustedProxyCIDRs,
		SignupRateLimitPerMinute: cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:  cfg.LoginRateLimitPerMinute,
		FilesPath:                cfg.PublicFilesPath,
		FilesRoot:                filesRoot,
	}
	if provider, ok := sessions.(store.JWKSProvider); ok {
		serverCfg.JWKS = provider
	}
	httpServer, err := server.New(serverCfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "err", err)
		}
	}()

	slog.Info("artvista server listening", "addr", addr,
		"store", cfg.StoreBackend, "objects", cfg.ObjectBackend,
		"sessions", cfg.SessionBackend, "events", cfg.EventsBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
