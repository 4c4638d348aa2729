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

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/rahul4469/vastra-vibes/internal/chatstore"
	"github.com/rahul4469/vastra-vibes/internal/config"
	"github.com/rahul4469/vastra-vibes/internal/controllers"
	"github.com/rahul4469/vastra-vibes/internal/crypto"
	"github.com/rahul4469/vastra-vibes/internal/logger"
	"github.com/rahul4469/vastra-vibes/internal/metrics"
	"github.com/rahul4469/vastra-vibes/internal/middleware"
	"github.com/rahul4469/vastra-vibes/internal/models"
	"github.com/rahul4469/vastra-vibes/internal/services"
	"github.com/rahul4469/vastra-vibes/internal/storage"
	"github.com/rahul4469/vastra-vibes/internal/views"
	"github.com/rahul4469/vastra-vibes/migrations"
)

const (
	sessionCleanupInterval = time.Hour
	rateLimitIdle          = 10 * time.Minute
	chatSweepInterval      = 5 * time.Minute
)

func main() {
	cfg := config.MustLoad()

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

// imageStore is what the pipeline writes to and the image route reads from.
type imageStore interface {
	services.ImageStore
	Open(ctx context.Context, key string) (*storage.Object, error)
	Delete(ctx context.Context, prefix string) error
	Health(ctx context.Context) error
}

// transcriptStore backs chat sessions.
type transcriptStore interface {
	services.TranscriptStore
	Health(ctx context.Context) error
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	views.Logger = log.Named("views")

	if cfg.Observability.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Observability.SentryDSN,
			Environment: cfg.Server.Environment,
		})
		if err != nil {
			return fmt.Errorf("failed to init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry enabled")
	}

	// Database
	log.Info("connecting to database")
	dbCfg := models.DefaultDatabaseConfig(cfg.Database.URL)
	if cfg.Database.MaxConns > 0 {
		dbCfg.MaxConns = cfg.Database.MaxConns
	}
	db, err := models.NewDatabase(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return err
	}
	log.Info("database ready", zap.Int64s("migrations_applied", applied))

	// Chat transcripts
	var transcripts transcriptStore
	if cfg.RedisEnabled() {
		rdb, err := chatstore.NewRedisClient(ctx, chatstore.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()
		transcripts = chatstore.NewRedis(rdb, cfg.Redis.ChatTTL)
		log.Info("chat transcripts in redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		mem := chatstore.NewMemory(cfg.Redis.ChatTTL)
		go mem.Run(chatSweepInterval, ctx.Done())
		transcripts = mem
		log.Info("chat transcripts in memory")
	}

	// Images
	var images imageStore
	if cfg.StorageEnabled() {
		store, err := storage.New(ctx, storage.MinioOptions{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			return err
		}
		images = store
		log.Info("images in minio", zap.String("bucket", cfg.Storage.Bucket))
	} else {
		images = storage.NewPostgres(db.Pool)
		log.Info("images in postgres")
	}

	encryptor, err := crypto.NewEncryptorFromString(cfg.Security.EncryptionKey)
	if err != nil {
		return err
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Services
	gemini, err := services.NewGeminiClient(ctx, services.GeminiConfig{
		APIKey:            cfg.APIs.GeminiAPIKey,
		BaseURL:           cfg.APIs.GeminiBaseURL,
		AnalysisModel:     cfg.APIs.AnalysisModel,
		ImageModel:        cfg.APIs.ImageModel,
		SearchModel:       cfg.APIs.SearchModel,
		ChatModel:         cfg.APIs.ChatModel,
		RequestTimeout:    cfg.APIs.RequestTimeout,
		RequestsPerMinute: cfg.APIs.RequestsPerMinute,
	}, m, log)
	if err != nil {
		return err
	}

	userService := models.NewUserService(db.Pool, cfg.Security.BcryptCost, cfg.Limits.DefaultUserQuota)
	sessionService := models.NewSessionService(db.Pool, cfg.Security.SessionDuration)
	analysisService := models.NewAnalysisService(db.Pool)
	chatService := services.NewChatService(gemini, transcripts, log)
	pipeline := services.NewTrendPipeline(gemini, analysisService, images, userService, chatService, m, log)

	// Single instance: anything still in progress was cut off by the last
	// shutdown.
	if _, err := pipeline.RecoverInterrupted(ctx); err != nil {
		return err
	}

	limiter := middleware.NewRateLimiter(cfg.Limits.RateLimitPerMinute, cfg.Limits.RateLimitBurst, rateLimitIdle)
	go limiter.Run(time.Minute, ctx.Done())
	go cleanupSessions(ctx, sessionService, log)

	handler, err := newRouter(routerDeps{
		cfg:         cfg,
		log:         log,
		registry:    reg,
		metrics:     m,
		limiter:     limiter,
		users:       userService,
		sessions:    sessionService,
		analyses:    analysisService,
		pipeline:    pipeline,
		chat:        chatService,
		images:      images,
		encryptor:   encryptor,
		healthCheck: map[string]controllers.HealthChecker{"database": db, "chat": transcripts, "images": images},
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Server.Environment),
			zap.Bool("google_oauth", cfg.GoogleOAuthEnabled()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}

	// Follow-up jobs write to the database; wait before closing it.
	pipeline.Wait()
	log.Info("server stopped")
	return nil
}

func cleanupSessions(ctx context.Context, sessions *models.SessionService, log *zap.Logger) {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.DeleteExpired(ctx)
			if err != nil {
				log.Warn("session cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("expired sessions removed", zap.Int64("count", n))
			}
		}
	}
}
