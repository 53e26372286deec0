package main

import (
	"fmt"
	"os"

	"media-toolkit/config"
	"media-toolkit/health"
	"media-toolkit/internal/adapters/primary/cli"
	"media-toolkit/internal/adapters/secondary/processors"
	"media-toolkit/internal/core/ports"
	"media-toolkit/internal/core/services"
	"media-toolkit/media"
	"media-toolkit/pkg/logger"
	"media-toolkit/pkg/security"
	"media-toolkit/pkg/validator"
	"media-toolkit/queue"
)

func main() {
	cfg := config.Load()

	// Progress goes to stderr; keep logs quiet unless asked for.
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	if err := logger.Init(&logger.Config{
		Level:      level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: cfg.Logging.TimeFormat,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to initialize logger: %v\n", err)
	}
	log := logger.Get()

	validator.Init(&validator.Config{
		MaxFileSize:       cfg.Validation.MaxFileSize,
		MinFileSize:       cfg.Validation.MinFileSize,
		MaxFiles:          cfg.Validation.MaxFiles,
		AllowedMimeTypes:  cfg.Validation.AllowedMimeTypes,
		AllowedExtensions: cfg.Validation.AllowedExtensions,
	})

	engine := media.NewEngine(media.EngineConfig{
		BinaryPath:    cfg.Engine.FFmpegPath,
		TempDir:       cfg.Engine.TempDir,
		MaxConcurrent: cfg.Engine.MaxConcurrent,
		Logger:        log,
	})

	transforms := services.NewTransformService(services.TransformServiceConfig{
		Transformers: []ports.Transformer{
			processors.NewFFmpegTransformer(engine),
			processors.NewImageTransformer(),
			processors.NewPDFTransformer(),
		},
		Validator: validator.Get(),
		Logger:    log,
	})

	// The queue is optional for the CLI; it only feeds the health command.
	var queueStats health.QueueStatsSource
	if cfg.Redis.Enabled && cfg.Redis.Host != "" {
		if q, err := queue.NewRedisQueue(&cfg.Redis, &cfg.Worker); err == nil {
			defer q.Close()
			queueStats = q
		}
	}

	var tokens *security.TokenAuth
	if cfg.Security.JWTSecret != "" {
		securityConfig := security.DefaultSecurityConfig()
		securityConfig.JWTSecret = cfg.Security.JWTSecret
		securityConfig.JWTIssuer = cfg.Security.JWTIssuer
		var err error
		tokens, err = security.NewTokenAuth(securityConfig, *log.Logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Token commands disabled: %v\n", err)
			tokens = nil
		}
	}

	app := cli.NewCLI(transforms, health.NewHealthChecker(cfg, queueStats, engine), tokens)
	if err := app.GetRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
