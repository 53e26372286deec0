package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// Config holds all configuration for the media toolkit
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Redis      RedisConfig      `json:"redis" yaml:"redis"`
	Worker     WorkerConfig     `json:"worker" yaml:"worker"`
	Engine     EngineConfig     `json:"engine" yaml:"engine"`
	Session    SessionConfig    `json:"session" yaml:"session"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Events     EventsConfig     `json:"events" yaml:"events"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Validation ValidationConfig `json:"validation" yaml:"validation"`
	Security   SecurityConfig   `json:"security" yaml:"security"`
	Health     HealthConfig     `json:"health" yaml:"health"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `json:"port" yaml:"port" validate:"required,numeric"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	Environment  string        `json:"environment" yaml:"environment"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     string `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	Enabled            bool          `json:"enabled" yaml:"enabled"`
	MaxConcurrency     int           `json:"max_concurrency" yaml:"max_concurrency"`
	MinWorkers         int           `json:"min_workers" yaml:"min_workers"`
	QueueName          string        `json:"queue_name" yaml:"queue_name"`
	JobTTL             time.Duration `json:"job_ttl" yaml:"job_ttl"`
	PollTimeout        time.Duration `json:"poll_timeout" yaml:"poll_timeout"`
	ScaleUpThreshold   int64         `json:"scale_up_threshold" yaml:"scale_up_threshold"`
	ScaleDownThreshold int64         `json:"scale_down_threshold" yaml:"scale_down_threshold"`
	CheckInterval      time.Duration `json:"check_interval" yaml:"check_interval"`
	ScaleDelay         time.Duration `json:"scale_delay" yaml:"scale_delay"`
}

// EngineConfig holds transcoding engine configuration
type EngineConfig struct {
	FFmpegPath    string        `json:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath   string        `json:"ffprobe_path" yaml:"ffprobe_path"`
	TempDir       string        `json:"temp_dir" yaml:"temp_dir"`
	MaxConcurrent int           `json:"max_concurrent" yaml:"max_concurrent" validate:"min=1"`
	LoadTimeout   time.Duration `json:"load_timeout" yaml:"load_timeout"`
}

// SessionConfig holds transform session lifetimes
type SessionConfig struct {
	TTL             time.Duration `json:"ttl" yaml:"ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	ResultsTTL      time.Duration `json:"results_ttl" yaml:"results_ttl"`
	MaxSessions     int           `json:"max_sessions" yaml:"max_sessions" validate:"min=1"`
}

// CacheConfig holds result cache configuration
type CacheConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	TTL          time.Duration `json:"ttl" yaml:"ttl"`
	VideoTTL     time.Duration `json:"video_ttl" yaml:"video_ttl"`
	Namespace    string        `json:"namespace" yaml:"namespace"`
	MaxEntrySize int64         `json:"max_entry_size" yaml:"max_entry_size"`
}

// StorageConfig holds job file storage configuration
type StorageConfig struct {
	Backend      string `json:"backend" yaml:"backend" validate:"oneof=local s3"`
	LocalDir     string `json:"local_dir" yaml:"local_dir"`
	S3Bucket     string `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region     string `json:"s3_region" yaml:"s3_region"`
	S3Endpoint   string `json:"s3_endpoint" yaml:"s3_endpoint"`
	S3AccessKey  string `json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey  string `json:"-" yaml:"s3_secret_key"`
	S3Prefix     string `json:"s3_prefix" yaml:"s3_prefix"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// EventsConfig holds event stream configuration
type EventsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Stream  string `json:"stream" yaml:"stream"`
	MaxLen  int64  `json:"max_len" yaml:"max_len"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format     string `json:"format" yaml:"format" validate:"oneof=json console"`
	Output     string `json:"output" yaml:"output" validate:"oneof=stdout stderr file"`
	Filename   string `json:"filename,omitempty" yaml:"filename"`
	TimeFormat string `json:"time_format" yaml:"time_format"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Path      string `json:"path" yaml:"path" validate:"startswith=/"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Subsystem string `json:"subsystem" yaml:"subsystem"`
}

// ValidationConfig holds upload validation configuration
type ValidationConfig struct {
	MaxFileSize       int64    `json:"max_file_size" yaml:"max_file_size"`
	MinFileSize       int64    `json:"min_file_size" yaml:"min_file_size"`
	MaxFiles          int      `json:"max_files" yaml:"max_files"`
	AllowedMimeTypes  []string `json:"allowed_mime_types" yaml:"allowed_mime_types"`
	AllowedExtensions []string `json:"allowed_extensions" yaml:"allowed_extensions"`
}

// SecurityConfig holds security configuration
type SecurityConfig struct {
	RateLimitEnabled    bool          `json:"rate_limit_enabled" yaml:"rate_limit_enabled"`
	RateLimitPerMinute  int           `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	CorsEnabled         bool          `json:"cors_enabled" yaml:"cors_enabled"`
	CorsAllowedOrigins  []string      `json:"cors_allowed_origins" yaml:"cors_allowed_origins"`
	RequestTimeoutLimit time.Duration `json:"request_timeout_limit" yaml:"request_timeout_limit"`
	MaxRequestBodySize  int64         `json:"max_request_body_size" yaml:"max_request_body_size"`
	AuthEnabled         bool          `json:"auth_enabled" yaml:"auth_enabled"`
	JWTSecret           string        `json:"-" yaml:"jwt_secret"`
	JWTIssuer           string        `json:"jwt_issuer" yaml:"jwt_issuer"`
}

// HealthConfig holds health check configuration
type HealthConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	Path          string        `json:"path" yaml:"path"`
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	ReadinessPath string        `json:"readiness_path" yaml:"readiness_path"`
	LivenessPath  string        `json:"liveness_path" yaml:"liveness_path"`
}

// Load reads configuration from environment variables and returns Config
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "3001"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 60*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 300*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Worker: WorkerConfig{
			Enabled:            getBoolEnv("WORKER_ENABLED", true),
			MaxConcurrency:     getIntEnv("WORKER_MAX_CONCURRENCY", 4),
			MinWorkers:         getIntEnv("WORKER_MIN_WORKERS", 1),
			QueueName:          getEnv("WORKER_QUEUE_NAME", "media_transforms"),
			JobTTL:             getDurationEnv("WORKER_JOB_TTL", 24*time.Hour),
			PollTimeout:        getDurationEnv("WORKER_POLL_TIMEOUT", 5*time.Second),
			ScaleUpThreshold:   int64(getIntEnv("WORKER_SCALE_UP_THRESHOLD", 10)),
			ScaleDownThreshold: int64(getIntEnv("WORKER_SCALE_DOWN_THRESHOLD", 2)),
			CheckInterval:      getDurationEnv("WORKER_CHECK_INTERVAL", 10*time.Second),
			ScaleDelay:         getDurationEnv("WORKER_SCALE_DELAY", 30*time.Second),
		},
		Engine: EngineConfig{
			FFmpegPath:    getEnv("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:   getEnv("FFPROBE_PATH", "ffprobe"),
			TempDir:       getEnv("ENGINE_TEMP_DIR", os.TempDir()),
			MaxConcurrent: getIntEnv("ENGINE_MAX_CONCURRENT", 2),
			LoadTimeout:   getDurationEnv("ENGINE_LOAD_TIMEOUT", 10*time.Second),
		},
		Session: SessionConfig{
			TTL:             getDurationEnv("SESSION_TTL", 30*time.Minute),
			CleanupInterval: getDurationEnv("SESSION_CLEANUP_INTERVAL", time.Minute),
			ResultsTTL:      getDurationEnv("RESULTS_TTL", time.Hour),
			MaxSessions:     getIntEnv("SESSION_MAX_SESSIONS", 1000),
		},
		Cache: CacheConfig{
			Enabled:      getBoolEnv("CACHE_ENABLED", true),
			TTL:          getDurationEnv("CACHE_TTL", 24*time.Hour),
			VideoTTL:     getDurationEnv("CACHE_VIDEO_TTL", 6*time.Hour),
			Namespace:    getEnv("CACHE_NAMESPACE", "mediatk"),
			MaxEntrySize: getInt64Env("CACHE_MAX_ENTRY_SIZE", 32*1024*1024), // 32MB
		},
		Storage: StorageConfig{
			Backend:      getEnv("STORAGE_BACKEND", "local"),
			LocalDir:     getEnv("STORAGE_LOCAL_DIR", "./data"),
			S3Bucket:     getEnv("S3_BUCKET", ""),
			S3Region:     getEnv("S3_REGION", "us-east-1"),
			S3Endpoint:   getEnv("S3_ENDPOINT", ""),
			S3AccessKey:  getEnv("S3_ACCESS_KEY", ""),
			S3SecretKey:  getEnv("S3_SECRET_KEY", ""),
			S3Prefix:     getEnv("S3_PREFIX", "media-toolkit"),
			UsePathStyle: getBoolEnv("S3_USE_PATH_STYLE", false),
		},
		Events: EventsConfig{
			Enabled: getBoolEnv("EVENTS_ENABLED", false),
			Stream:  getEnv("EVENTS_STREAM", "media:events"),
			MaxLen:  getInt64Env("EVENTS_MAX_LEN", 10000),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			Filename:   getEnv("LOG_FILENAME", "logs/app.log"),
			TimeFormat: getEnv("LOG_TIME_FORMAT", time.RFC3339),
		},
		Metrics: MetricsConfig{
			Enabled:   getBoolEnv("METRICS_ENABLED", true),
			Path:      getEnv("METRICS_PATH", "/metrics"),
			Namespace: getEnv("METRICS_NAMESPACE", "media"),
			Subsystem: getEnv("METRICS_SUBSYSTEM", "toolkit"),
		},
		Validation: ValidationConfig{
			MaxFileSize: getInt64Env("VALIDATION_MAX_FILE_SIZE", 500*1024*1024), // 500MB
			MinFileSize: getInt64Env("VALIDATION_MIN_FILE_SIZE", 1),
			MaxFiles:    getIntEnv("VALIDATION_MAX_FILES", 20),
			AllowedMimeTypes: getStringSliceEnv("VALIDATION_ALLOWED_MIME_TYPES", []string{
				"image/jpeg", "image/png", "image/webp", "image/gif", "image/bmp", "image/tiff",
				"video/mp4", "video/webm", "video/quicktime", "video/x-msvideo",
				"audio/mpeg", "audio/wav", "audio/aac", "audio/ogg",
				"application/pdf",
			}),
			AllowedExtensions: getStringSliceEnv("VALIDATION_ALLOWED_EXTENSIONS", []string{
				".jpg", ".jpeg", ".png", ".webp", ".gif", ".bmp", ".tif", ".tiff",
				".mp4", ".webm", ".mov", ".avi", ".mkv",
				".mp3", ".wav", ".aac", ".m4a", ".ogg",
				".pdf",
			}),
		},
		Security: SecurityConfig{
			RateLimitEnabled:    getBoolEnv("SECURITY_RATE_LIMIT_ENABLED", true),
			RateLimitPerMinute:  getIntEnv("SECURITY_RATE_LIMIT_PER_MINUTE", 60),
			CorsEnabled:         getBoolEnv("SECURITY_CORS_ENABLED", true),
			CorsAllowedOrigins:  getStringSliceEnv("SECURITY_CORS_ALLOWED_ORIGINS", []string{"*"}),
			RequestTimeoutLimit: getDurationEnv("SECURITY_REQUEST_TIMEOUT_LIMIT", 300*time.Second),
			MaxRequestBodySize:  getInt64Env("SECURITY_MAX_REQUEST_BODY_SIZE", 1024*1024*1024), // 1GB
			AuthEnabled:         getBoolEnv("SECURITY_AUTH_ENABLED", false),
			JWTSecret:           getEnv("SECURITY_JWT_SECRET", ""),
			JWTIssuer:           getEnv("SECURITY_JWT_ISSUER", "media-toolkit"),
		},
		Health: HealthConfig{
			Enabled:       getBoolEnv("HEALTH_ENABLED", true),
			Path:          getEnv("HEALTH_PATH", "/health"),
			CheckInterval: getDurationEnv("HEALTH_CHECK_INTERVAL", 30*time.Second),
			Timeout:       getDurationEnv("HEALTH_TIMEOUT", 5*time.Second),
			ReadinessPath: getEnv("HEALTH_READINESS_PATH", "/ready"),
			LivenessPath:  getEnv("HEALTH_LIVENESS_PATH", "/live"),
		},
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Printf("Warning: Invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if int64Value, err := strconv.ParseInt(value, 10, 64); err == nil {
			return int64Value
		}
		log.Printf("Warning: Invalid int64 value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		log.Printf("Warning: Invalid boolean value for %s: %s, using default: %t", key, value, defaultValue)
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		log.Printf("Warning: Invalid duration value for %s: %s, using default: %s", key, value, defaultValue)
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// GetRedisAddr returns the Redis host:port address
func (c *Config) GetRedisAddr() string {
	return c.Redis.Host + ":" + c.Redis.Port
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// Validate checks the field constraints, then the cross-field settings.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return err
	}
	if c.Storage.Backend == "s3" && c.Storage.S3Bucket == "" {
		return errMissing("S3_BUCKET", "storage backend s3")
	}
	if c.Security.AuthEnabled && c.Security.JWTSecret == "" {
		return errMissing("SECURITY_JWT_SECRET", "auth")
	}
	return nil
}

type missingSettingError struct {
	key, feature string
}

func (e *missingSettingError) Error() string {
	return e.key + " is required when " + e.feature + " is enabled"
}

func errMissing(key, feature string) error {
	return &missingSettingError{key: key, feature: feature}
}
