package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"docucr/internal/authtoken"
	"docucr/internal/ratelimit"
	"docucr/internal/util"
	"docucr/pkg/push"
	"docucr/pkg/queue"
	"docucr/pkg/storage"
	"docucr/pkg/store"
	"docucr/services/docs/internal/app"
	"docucr/services/docs/internal/config"
	"docucr/services/docs/internal/server"
)

// queueAdapter narrows the job queue to the enqueue-only surface the app uses.
type queueAdapter struct {
	q *queue.RedisJobQueue
}

func (a queueAdapter) Enqueue(ctx context.Context, documentID string) error {
	_, err := a.q.Enqueue(ctx, documentID)
	return err
}

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	jobQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.QueueStream,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
	})
	if err != nil {
		log.Fatalf("failed to init job queue: %v", err)
	}

	events, err := push.New(push.Config{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		ChannelPrefix: cfg.PushChannelPrefix,
	})
	if err != nil {
		log.Fatalf("failed to init push publisher: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:             dataStore,
		Objects:           objects,
		Queue:             queueAdapter{q: jobQueue},
		Events:            events,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var uploadLimiter *ratelimit.FixedWindowLimiter
	if cfg.UploadRateLimit > 0 {
		window := time.Duration(cfg.UploadRateWindowSec) * time.Second
		if window <= 0 {
			window = time.Minute
		}
		uploadLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "docucr:ratelimit:upload", cfg.UploadRateLimit, window)
		if err != nil {
			log.Fatalf("failed to init upload rate limiter: %v", err)
		}
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Tokens:         mustTokens(cfg.AuthSecret),
		UploadLimiter:  uploadLimiter,
		TrustedProxies: trustedProxies,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobQueue.Start(ctx, cfg.QueueConcurrency, appCore.Analyze)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("docs server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	_ = events.Close()
}

func mustTokens(secret string) *authtoken.Manager {
	tokens, err := authtoken.New(authtoken.Options{Secret: secret})
	if err != nil {
		log.Fatalf("failed to init auth tokens: %v", err)
	}
	return tokens
}
