package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is used to store correlation IDs in context
type ContextKey string

const (
	CorrelationIDKey ContextKey = "correlation_id"
	RequestIDKey     ContextKey = "request_id"
	SessionIDKey     ContextKey = "session_id"
	JobIDKey         ContextKey = "job_id"
)

// Logger wraps zerolog with toolkit specific helpers.
type Logger struct {
	*zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string `json:"level" yaml:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format     string `json:"format" yaml:"format" validate:"oneof=json console"`
	Output     string `json:"output" yaml:"output" validate:"oneof=stdout stderr file"`
	Filename   string `json:"filename,omitempty" yaml:"filename,omitempty"`
	TimeFormat string `json:"time_format" yaml:"time_format"`
}

func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// New creates a structured logger from config. A nil config uses DefaultConfig.
func New(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	var output io.Writer
	switch config.Output {
	case "stderr":
		output = os.Stderr
	case "file":
		if config.Filename == "" {
			config.Filename = "logs/media-toolkit.log"
		}
		if err := os.MkdirAll(filepath.Dir(config.Filename), 0755); err != nil {
			return nil, err
		}
		file, err := os.OpenFile(config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		output = file
	default:
		output = os.Stdout
	}

	return NewWithWriter(output, config.Format, level), nil
}

// NewWithWriter builds a logger on an arbitrary writer.
func NewWithWriter(w io.Writer, format string, level zerolog.Level) *Logger {
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "media-toolkit").
		Logger()
	return &Logger{Logger: &logger}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	logger := zerolog.Nop()
	return &Logger{Logger: &logger}
}

// WithCorrelationID stores a fresh correlation id in ctx.
func WithCorrelationID(ctx context.Context) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, uuid.New().String())
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// CorrelationID returns the correlation id stored in ctx, if any.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(CorrelationIDKey).(string)
	return id
}

// FromContext returns a child logger carrying the ids found in ctx.
func (l *Logger) FromContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With()

	for _, key := range []ContextKey{CorrelationIDKey, RequestIDKey, SessionIDKey, JobIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			logger = logger.Str(string(key), v)
		}
	}

	contextLogger := logger.Logger()
	return &contextLogger
}

func (l *Logger) LogRequest(ctx context.Context, method, path, userAgent, clientIP string, status int, duration time.Duration) {
	l.FromContext(ctx).Info().
		Str("method", method).
		Str("path", path).
		Str("user_agent", userAgent).
		Str("client_ip", clientIP).
		Int("status", status).
		Dur("duration", duration).
		Msg("HTTP request processed")
}

func (l *Logger) LogError(ctx context.Context, err error, msg string, fields map[string]interface{}) {
	event := l.FromContext(ctx).Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// LogTransformStart logs the beginning of a transformation.
func (l *Logger) LogTransformStart(ctx context.Context, operation string, files int, totalSize int64) {
	l.FromContext(ctx).Info().
		Str("operation", operation).
		Int("files", files).
		Int64("input_size", totalSize).
		Msg("Transform started")
}

// LogTransformComplete logs a finished transformation.
func (l *Logger) LogTransformComplete(ctx context.Context, operation string, duration time.Duration, outputs int, outputSize int64) {
	l.FromContext(ctx).Info().
		Str("operation", operation).
		Dur("duration", duration).
		Int("outputs", outputs).
		Int64("output_size", outputSize).
		Msg("Transform completed")
}

// LogInvocation logs one engine run at debug level.
func (l *Logger) LogInvocation(ctx context.Context, binary string, args []string) {
	l.FromContext(ctx).Debug().
		Str("binary", binary).
		Str("args", strings.Join(args, " ")).
		Msg("Invoking engine")
}

func (l *Logger) LogQueueOperation(ctx context.Context, operation, queueName string, messageCount int) {
	l.FromContext(ctx).Info().
		Str("operation", operation).
		Str("queue_name", queueName).
		Int("message_count", messageCount).
		Msg("Queue operation")
}

var globalLogger *Logger

// Init initializes the global logger
func Init(config *Config) error {
	logger, err := New(config)
	if err != nil {
		return err
	}
	globalLogger = logger
	return nil
}

// Get returns the global logger, creating a default one on first use.
func Get() *Logger {
	if globalLogger == nil {
		logger, _ := New(DefaultConfig())
		globalLogger = logger
	}
	return globalLogger
}
