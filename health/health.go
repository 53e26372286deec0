package health

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"media-toolkit/config"
	"media-toolkit/internal/core/domain"
)

// Version is the build version, overridden with -ldflags "-X".
var Version = "1.0.0"

// QueueStatsSource is the part of the job queue the checker needs.
type QueueStatsSource interface {
	GetStats(ctx context.Context) (*domain.QueueStats, error)
}

// EngineChecker loads the transcoding engine and reports its version.
type EngineChecker interface {
	Load(ctx context.Context) error
	Version() string
}

type HealthChecker struct {
	config *config.Config
	queue  QueueStatsSource
	engine EngineChecker

	mu               sync.Mutex
	cachedServices   map[string]ServiceInfo
	lastServiceCheck time.Time
	serviceCheckTTL  time.Duration
}

type HealthStatus struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Services  map[string]ServiceInfo `json:"services"`
	Queue     QueueInfo              `json:"queue"`
	System    SystemInfo             `json:"system"`
}

type ServiceInfo struct {
	Status    string `json:"status"`
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

type QueueInfo struct {
	Enabled   bool               `json:"enabled"`
	Connected bool               `json:"connected"`
	Stats     *domain.QueueStats `json:"stats,omitempty"`
	Error     string             `json:"error,omitempty"`
}

type SystemInfo struct {
	Environment string `json:"environment"`
	Platform    string `json:"platform"`
	GoVersion   string `json:"go_version"`
}

var startTime = time.Now()

// NewHealthChecker creates a checker. queue may be nil when async jobs are
// disabled; engine may be nil to probe the configured ffmpeg binary directly.
func NewHealthChecker(cfg *config.Config, queue QueueStatsSource, engine EngineChecker) *HealthChecker {
	ttl := cfg.Health.CheckInterval
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &HealthChecker{
		config:          cfg,
		queue:           queue,
		engine:          engine,
		cachedServices:  make(map[string]ServiceInfo),
		serviceCheckTTL: ttl,
	}
}

func (h *HealthChecker) GetHealthStatus(ctx context.Context) HealthStatus {
	timeout := h.config.Health.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status := HealthStatus{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now(),
		Uptime:    time.Since(startTime).String(),
		Services:  h.services(ctx),
		System: SystemInfo{
			Environment: h.config.Server.Environment,
			Platform:    runtime.GOOS + "/" + runtime.GOARCH,
			GoVersion:   runtime.Version(),
		},
	}

	h.checkQueue(ctx, &status)

	for _, service := range status.Services {
		if !service.Available {
			status.Status = "degraded"
		}
	}
	if status.Queue.Enabled && !status.Queue.Connected {
		status.Status = "unhealthy"
	}

	return status
}

// services returns binary checks, refreshed at most once per TTL.
func (h *HealthChecker) services(ctx context.Context) map[string]ServiceInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	if time.Since(h.lastServiceCheck) > h.serviceCheckTTL || len(h.cachedServices) == 0 {
		h.cachedServices = map[string]ServiceInfo{
			"ffmpeg":  h.checkFFmpeg(ctx),
			"ffprobe": checkBinary(ctx, h.config.Engine.FFprobePath),
			"image":   {Status: "available", Available: true, Version: "builtin"},
			"pdf":     {Status: "available", Available: true, Version: "pdfcpu"},
		}
		h.lastServiceCheck = time.Now()
	}

	services := make(map[string]ServiceInfo, len(h.cachedServices))
	for name, service := range h.cachedServices {
		services[name] = service
	}
	return services
}

func (h *HealthChecker) checkFFmpeg(ctx context.Context) ServiceInfo {
	if h.engine == nil {
		return checkBinary(ctx, h.config.Engine.FFmpegPath)
	}
	if err := h.engine.Load(ctx); err != nil {
		return ServiceInfo{Status: "unavailable", Error: err.Error()}
	}
	return ServiceInfo{Status: "available", Available: true, Version: h.engine.Version()}
}

// checkBinary runs "<path> -version" and keeps the first output line.
func checkBinary(ctx context.Context, path string) ServiceInfo {
	if path == "" {
		return ServiceInfo{Status: "disabled"}
	}
	output, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return ServiceInfo{Status: "unavailable", Error: err.Error()}
	}
	version, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	return ServiceInfo{Status: "available", Available: true, Version: version}
}

func (h *HealthChecker) checkQueue(ctx context.Context, status *HealthStatus) {
	if h.queue == nil {
		status.Queue = QueueInfo{Enabled: false}
		return
	}

	queueCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	stats, err := h.queue.GetStats(queueCtx)
	if err != nil {
		status.Queue = QueueInfo{Enabled: true, Error: err.Error()}
		return
	}
	status.Queue = QueueInfo{Enabled: true, Connected: true, Stats: stats}
}

// Fiber handlers
func (h *HealthChecker) HealthHandler(c *fiber.Ctx) error {
	health := h.GetHealthStatus(c.UserContext())

	statusCode := fiber.StatusOK
	if health.Status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}
	return c.Status(statusCode).JSON(health)
}

// ReadinessHandler reports ready once the engine loads and, when enabled,
// the queue answers.
func (h *HealthChecker) ReadinessHandler(c *fiber.Ctx) error {
	health := h.GetHealthStatus(c.UserContext())

	if health.Queue.Enabled && !health.Queue.Connected {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"reason": "Queue not available",
		})
	}
	if !health.Services["ffmpeg"].Available {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"reason": "Transcoding engine not available",
		})
	}

	return c.JSON(fiber.Map{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

func (h *HealthChecker) LivenessHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "alive",
		"timestamp": time.Now(),
		"uptime":    time.Since(startTime).String(),
	})
}
