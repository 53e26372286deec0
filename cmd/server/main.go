package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"media-toolkit/config"
	"media-toolkit/health"
	httpadapter "media-toolkit/internal/adapters/primary/http"
	"media-toolkit/internal/adapters/secondary/processors"
	"media-toolkit/internal/adapters/secondary/storage"
	"media-toolkit/internal/core/ports"
	"media-toolkit/internal/core/services"
	"media-toolkit/media"
	"media-toolkit/pkg/cache"
	"media-toolkit/pkg/errors"
	"media-toolkit/pkg/events"
	"media-toolkit/pkg/logger"
	"media-toolkit/pkg/metrics"
	"media-toolkit/pkg/monitoring"
	"media-toolkit/pkg/security"
	"media-toolkit/pkg/validator"
	"media-toolkit/queue"
	"media-toolkit/worker"
)

// server holds everything the HTTP app is built from.
type server struct {
	cfg        *config.Config
	log        *logger.Logger
	metrics    *metrics.Metrics
	validator  *validator.Validator
	transforms ports.TransformService
	sessions   ports.SessionService
	jobs       ports.JobService
	health     *health.HealthChecker
	tokens     *security.TokenAuth
}

// newApp builds the fiber app: middleware, API routes, health and metrics.
func newApp(s *server) *fiber.App {
	cfg := s.cfg

	app := fiber.New(fiber.Config{
		AppName:      "media-toolkit",
		ErrorHandler: httpadapter.ErrorHandler(s.log),
		BodyLimit:    int(cfg.Security.MaxRequestBodySize),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: !cfg.IsProduction(),
	}))
	app.Use(httpadapter.RequestLogger(s.log, s.metrics))

	if cfg.Security.RateLimitEnabled {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.Security.RateLimitPerMinute,
			Expiration: 1 * time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return errors.NewRateLimitError("Rate limit exceeded")
			},
		}))
	}

	if cfg.Security.CorsEnabled {
		app.Use(cors.New(cors.Config{
			AllowOrigins: func() string {
				if len(cfg.Security.CorsAllowedOrigins) > 0 {
					return cfg.Security.CorsAllowedOrigins[0]
				}
				return "*"
			}(),
			AllowMethods:  "GET,POST,PUT,PATCH,DELETE,OPTIONS",
			AllowHeaders:  "Origin,Content-Type,Accept,Authorization,X-Request-ID",
			ExposeHeaders: "Content-Disposition,X-Request-ID,X-Artifact-Count,X-Transform-Cached,X-Transform-Duration",
		}))
	}

	var routeOpts httpadapter.RouteOptions
	if s.tokens != nil {
		app.Use(s.tokens.Middleware())
		routeOpts.Tools = []fiber.Handler{security.RequireScope(security.ScopeTools)}
		routeOpts.Jobs = []fiber.Handler{security.RequireScope(security.ScopeJobs)}
	}

	handler := httpadapter.NewMediaHandler(s.transforms, s.sessions, s.jobs, s.validator)
	handler.SetupRoutes(app, routeOpts)

	if cfg.Health.Enabled && s.health != nil {
		app.Get(cfg.Health.Path, s.health.HealthHandler)
		app.Get(cfg.Health.ReadinessPath, s.health.ReadinessHandler)
		app.Get(cfg.Health.LivenessPath, s.health.LivenessHandler)
	}

	if cfg.Metrics.Enabled {
		app.Get(cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	return app
}

// loadConfig reads the optional config file over the environment defaults.
// Feature flags from the file can switch subsystems off.
func loadConfig() (*config.Config, *config.Manager, error) {
	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = "config.yaml"
	}

	configManager := config.NewManager(environment)
	if err := configManager.LoadFromFile(configPath); err != nil {
		fmt.Printf("⚠️  Config file not loaded, using environment only: %v\n", err)
		if err := configManager.LoadFromEnv(); err != nil {
			return nil, nil, err
		}
	}

	cfg := configManager.GetConfig()
	applyFeatureFlags(cfg, configManager.GetFeatureFlags())
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, configManager, nil
}

func applyFeatureFlags(cfg *config.Config, flags map[string]bool) {
	disabled := func(name string) bool {
		enabled, ok := flags[name]
		return ok && !enabled
	}
	if disabled("result_cache") {
		cfg.Cache.Enabled = false
	}
	if disabled("async_jobs") {
		cfg.Worker.Enabled = false
	}
	if disabled("events") {
		cfg.Events.Enabled = false
	}
}

func connectRedis(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func newStorage(ctx context.Context, cfg *config.Config) (ports.FileStorage, error) {
	if cfg.Storage.Backend == "s3" {
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.Storage.S3Bucket,
			Region:          cfg.Storage.S3Region,
			Endpoint:        cfg.Storage.S3Endpoint,
			AccessKeyID:     cfg.Storage.S3AccessKey,
			SecretAccessKey: cfg.Storage.S3SecretKey,
			Prefix:          cfg.Storage.S3Prefix,
			UsePathStyle:    cfg.Storage.UsePathStyle,
		})
	}
	return storage.NewLocalStorage(cfg.Storage.LocalDir)
}

func main() {
	cfg, configManager, err := loadConfig()
	if err != nil {
		fmt.Printf("❌ Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		Filename:   cfg.Logging.Filename,
		TimeFormat: cfg.Logging.TimeFormat,
	}); err != nil {
		fmt.Printf("❌ Failed to initialize structured logger: %v, using default\n", err)
	}

	log := logger.Get()
	ctx := logger.WithCorrelationID(context.Background())
	rootLog := *log.FromContext(ctx)

	if err := configManager.StartWatching(); err != nil {
		rootLog.Warn().Err(err).Msg("Config hot reload disabled")
	}
	defer configManager.StopWatching()
	configManager.AddWatcher(func(oldConfig, newConfig *config.Config) error {
		level, err := zerolog.ParseLevel(newConfig.Logging.Level)
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(level)
		rootLog.Info().Str("level", level.String()).Msg("Log level reloaded")
		return nil
	})

	rootLog.Info().
		Str("version", health.Version).
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("🚀 Starting Media Toolkit server")

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
		m = metrics.Get()
	}

	validator.Init(&validator.Config{
		MaxFileSize:       cfg.Validation.MaxFileSize,
		MinFileSize:       cfg.Validation.MinFileSize,
		MaxFiles:          cfg.Validation.MaxFiles,
		AllowedMimeTypes:  cfg.Validation.AllowedMimeTypes,
		AllowedExtensions: cfg.Validation.AllowedExtensions,
	})
	v := validator.Get()

	engine := media.NewEngine(media.EngineConfig{
		BinaryPath:    cfg.Engine.FFmpegPath,
		TempDir:       cfg.Engine.TempDir,
		MaxConcurrent: cfg.Engine.MaxConcurrent,
		Logger:        log,
		Metrics:       m,
	})
	loadCtx, cancelLoad := context.WithTimeout(ctx, cfg.Engine.LoadTimeout)
	if err := engine.Load(loadCtx); err != nil {
		rootLog.Warn().Err(err).Msg("⚠️  Transcoding engine unavailable, video tools will fail until it loads")
	} else {
		rootLog.Info().Str("engine", engine.Version()).Msg("🎬 Transcoding engine loaded")
	}
	cancelLoad()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = connectRedis(cfg)
		if err != nil {
			rootLog.Warn().Err(err).Msg("⚠️  Redis not available, continuing without cache, events and jobs")
		} else {
			defer redisClient.Close()
		}
	}

	var resultCache ports.Cache
	if redisClient != nil && cfg.Cache.Enabled {
		cacheConfig := cache.DefaultCacheConfig()
		cacheConfig.DefaultTTL = cfg.Cache.TTL
		cacheConfig.Namespace = cfg.Cache.Namespace
		cacheConfig.MaxEntrySize = cfg.Cache.MaxEntrySize

		var cacheMetrics cache.CacheMetrics
		if m != nil {
			cacheMetrics = m
		}
		c := cache.NewWithClient(redisClient, cacheConfig, rootLog, cacheMetrics)
		if cfg.Cache.VideoTTL > 0 {
			c.SetTTLPattern("result:video-*", cfg.Cache.VideoTTL)
			c.SetTTLPattern("result:extract-audio:*", cfg.Cache.VideoTTL)
			c.SetTTLPattern("result:gif-to-video:*", cfg.Cache.VideoTTL)
		}
		breaker := monitoring.NewCircuitBreaker(monitoring.DefaultCircuitBreakerConfig("result_cache"), rootLog)
		resultCache = monitoring.NewGuardedCache(c, breaker, func(err error) bool {
			return !stderrors.Is(err, cache.ErrCacheMiss) && !stderrors.Is(err, cache.ErrEntryTooLarge)
		})
		rootLog.Info().Dur("default_ttl", cacheConfig.DefaultTTL).Msg("🚀 Result cache initialized")
	}

	var publisher ports.EventPublisher
	if redisClient != nil && cfg.Events.Enabled {
		eventConfig := events.DefaultEventConfig()
		eventConfig.StreamPrefix = cfg.Events.Stream
		eventConfig.MaxLen = cfg.Events.MaxLen
		var eventMetrics events.EventMetrics
		if m != nil {
			eventMetrics = m
		}
		bus := events.NewRedisEventBus(redisClient, eventConfig, rootLog, eventMetrics)
		if err := bus.Subscribe(events.LogHandler{Logger: rootLog}); err != nil {
			rootLog.Fatal().Err(err).Msg("❌ Failed to subscribe event handler")
		}
		if err := bus.Start(ctx); err != nil {
			rootLog.Warn().Err(err).Msg("⚠️  Event consumers not started")
		} else {
			defer bus.Stop()
		}
		publisher = bus
	}

	transforms := services.NewTransformService(services.TransformServiceConfig{
		Transformers: []ports.Transformer{
			processors.NewFFmpegTransformer(engine),
			processors.NewImageTransformer(),
			processors.NewPDFTransformer(),
		},
		Validator: v,
		Cache:     resultCache,
		CacheTTL:  cfg.Cache.TTL,
		Events:    publisher,
		Logger:    log,
		Metrics:   m,
	})

	sessions := services.NewSessionManager(services.SessionManagerConfig{
		Transforms:  transforms,
		Store:       services.NewMemoryResultStore(cfg.Session.ResultsTTL, m),
		TTL:         cfg.Session.TTL,
		MaxSessions: cfg.Session.MaxSessions,
		Logger:      log,
		Metrics:     m,
	})
	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	sessions.StartCleanup(cleanupCtx, cfg.Session.CleanupInterval)

	var (
		jobs       ports.JobService
		queueStats health.QueueStatsSource
		workerMgr  *worker.WorkerManager
	)
	if redisClient != nil {
		fileStorage, err := newStorage(ctx, cfg)
		if err != nil {
			rootLog.Fatal().Err(err).Msg("❌ Failed to initialize job storage")
		}
		redisQueue := queue.NewWithClient(redisClient, &cfg.Worker)
		jobService := services.NewJobService(transforms, fileStorage, redisQueue, cfg.Worker.QueueName, log, m)
		jobs = jobService
		queueStats = redisQueue

		if cfg.Worker.Enabled {
			workerMgr = worker.NewWorkerManager(redisQueue, jobService, cfg.Worker, log, m)
			workerMgr.Start()
		}
		rootLog.Info().
			Str("storage", cfg.Storage.Backend).
			Bool("workers", cfg.Worker.Enabled).
			Msg("📦 Async jobs enabled")
	}

	var tokens *security.TokenAuth
	if cfg.Security.AuthEnabled {
		securityConfig := security.DefaultSecurityConfig()
		securityConfig.JWTSecret = cfg.Security.JWTSecret
		securityConfig.JWTIssuer = cfg.Security.JWTIssuer
		securityConfig.PublicPaths = []string{cfg.Health.Path, cfg.Health.ReadinessPath, cfg.Health.LivenessPath, cfg.Metrics.Path}
		tokens, err = security.NewTokenAuth(securityConfig, rootLog)
		if err != nil {
			rootLog.Fatal().Err(err).Msg("❌ Failed to initialize token auth")
		}
	}

	app := newApp(&server{
		cfg:        cfg,
		log:        log,
		metrics:    m,
		validator:  v,
		transforms: transforms,
		sessions:   sessions,
		jobs:       jobs,
		health:     health.NewHealthChecker(cfg, queueStats, engine),
		tokens:     tokens,
	})

	go func() {
		rootLog.Info().Str("port", cfg.Server.Port).Msg("🌐 HTTP Server starting")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			rootLog.Fatal().Err(err).Msg("❌ Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	rootLog.Info().Msg("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		rootLog.Error().Err(err).Msg("❌ Server shutdown error")
	}
	if workerMgr != nil {
		workerMgr.Stop()
	}

	rootLog.Info().Msg("✅ Server stopped")
}
