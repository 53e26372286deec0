package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/samber/lo"

	"media-toolkit/internal/core/domain"
	"media-toolkit/internal/core/ports"
	apperrors "media-toolkit/pkg/errors"
	"media-toolkit/pkg/logger"
	"media-toolkit/pkg/metrics"
	"media-toolkit/pkg/validator"
)

// TransformServiceConfig wires the transform service. Cache, Events and
// Metrics are optional.
type TransformServiceConfig struct {
	Transformers []ports.Transformer
	Validator    *validator.Validator
	Cache        ports.Cache
	CacheTTL     time.Duration
	Events       ports.EventPublisher
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
}

type registration struct {
	operation   domain.Operation
	transformer ports.Transformer
}

// TransformServiceImpl implements the TransformService port
type TransformServiceImpl struct {
	registry  map[domain.OperationKind]registration
	order     []domain.OperationKind
	validator *validator.Validator
	cache     ports.Cache
	cacheTTL  time.Duration
	events    ports.EventPublisher
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

// NewTransformService registers every operation of the given transformers.
// Registering the same operation twice panics.
func NewTransformService(cfg TransformServiceConfig) *TransformServiceImpl {
	if cfg.Validator == nil {
		cfg.Validator = validator.Get()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	s := &TransformServiceImpl{
		registry:  make(map[domain.OperationKind]registration),
		validator: cfg.Validator,
		cache:     cfg.Cache,
		cacheTTL:  cfg.CacheTTL,
		events:    cfg.Events,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
	for _, t := range cfg.Transformers {
		for _, op := range t.Operations() {
			if _, dup := s.registry[op.Kind]; dup {
				panic(fmt.Sprintf("operation %s registered twice", op.Kind))
			}
			s.registry[op.Kind] = registration{operation: op, transformer: t}
			s.order = append(s.order, op.Kind)
		}
	}
	return s
}

var _ ports.TransformService = (*TransformServiceImpl)(nil)

func (s *TransformServiceImpl) Operations() []domain.Operation {
	return lo.Map(s.order, func(kind domain.OperationKind, _ int) domain.Operation {
		return s.registry[kind].operation
	})
}

func (s *TransformServiceImpl) Operation(kind domain.OperationKind) (domain.Operation, error) {
	reg, ok := s.registry[kind]
	if !ok {
		err := apperrors.Newf(apperrors.NotFoundError, "OPERATION_NOT_FOUND", "operation %q not found", kind)
		err.InnerError = domain.ErrOperationNotFound
		return domain.Operation{}, err
	}
	return reg.operation, nil
}

// Transform validates the inputs, serves the result from cache when an
// identical request ran before, and otherwise runs the transformer.
func (s *TransformServiceImpl) Transform(ctx context.Context, req *domain.TransformRequest, progress domain.ProgressFunc) (*domain.TransformResult, error) {
	op, err := s.Operation(req.Operation)
	if err != nil {
		return nil, err
	}
	if err := s.validateFiles(op, req); err != nil {
		s.recordFailure(ctx, req.Operation, err)
		return nil, err
	}

	log := s.logger.FromContext(ctx)
	start := time.Now()
	key := cacheKey(op, req)

	if result := s.lookup(ctx, key); result != nil {
		if progress != nil {
			progress(1)
		}
		log.Debug().Str("operation", string(req.Operation)).Msg("Transform served from cache")
		s.recordSuccess(ctx, req, result, time.Since(start))
		return result, nil
	}

	s.logger.LogTransformStart(ctx, string(req.Operation), len(req.Files), req.TotalSize())
	result, err := s.registry[req.Operation].transformer.Transform(ctx, req, progress)
	if err != nil {
		s.recordFailure(ctx, req.Operation, err)
		return nil, err
	}
	s.logger.LogTransformComplete(ctx, string(req.Operation), time.Since(start), len(result.Artifacts), result.OutputSize())

	s.store(ctx, key, result)
	s.recordSuccess(ctx, req, result, time.Since(start))
	return result, nil
}

func (s *TransformServiceImpl) validateFiles(op domain.Operation, req *domain.TransformRequest) error {
	if len(req.Files) == 0 {
		err := apperrors.New(apperrors.ValidationError, "NO_FILES", domain.ErrNoFiles.Message)
		err.InnerError = domain.ErrNoFiles
		return err
	}
	if len(req.Files) < op.MinFiles || len(req.Files) > op.MaxFiles {
		return apperrors.Newf(apperrors.ValidationError, "INVALID_FILE_COUNT",
			"%s takes between %d and %d files, got %d", op.Kind, op.MinFiles, op.MaxFiles, len(req.Files))
	}
	if err := s.validator.ValidateFileCount(len(req.Files)); err != nil {
		return apperrors.Wrap(err, apperrors.ValidationError, "INVALID_FILE_COUNT", "too many files")
	}

	for i := range req.Files {
		file := &req.Files[i]
		mimeType, err := s.validator.ValidateContent(file.Name, file.Data)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ValidationError, "INVALID_FILE", "file '"+file.Name+"' was rejected")
		}
		if !accepts(op.Accept, mimeType) {
			return apperrors.NewUnsupportedFormatError(mimeType).
				WithContext("operation", op.Kind).
				WithContext("file", file.Name)
		}
		file.MimeType = mimeType
		file.Size = int64(len(file.Data))
	}
	return nil
}

func accepts(accept []string, mimeType string) bool {
	return lo.SomeBy(accept, func(a string) bool {
		if strings.HasSuffix(a, "/") {
			return strings.HasPrefix(mimeType, a)
		}
		return a == mimeType
	})
}

type cachedArtifact struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

type cachedResult struct {
	Operation domain.OperationKind   `json:"operation"`
	Artifacts []cachedArtifact       `json:"artifacts"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// cacheKey digests everything the output depends on: the operation, the
// effective parameters and each input's name and content.
func cacheKey(op domain.Operation, req *domain.TransformRequest) string {
	params, _ := json.Marshal(canonicalParams(op.Defaults, req.Params))

	h := sha256.New()
	h.Write([]byte(op.Kind))
	h.Write([]byte{0})
	h.Write(params)
	for _, f := range req.Files {
		sum := sha256.Sum256(f.Data)
		h.Write([]byte{0})
		h.Write([]byte(f.Name))
		h.Write(sum[:])
	}
	return fmt.Sprintf("result:%s:%s", op.Kind, hex.EncodeToString(h.Sum(nil)))
}

// canonicalParams overlays params on the defaults, converting each value to
// the type of its default so "2" and 2 describe the same request.
func canonicalParams(defaults, params map[string]interface{}) map[string]interface{} {
	out := lo.Assign(defaults)
	for key, value := range params {
		def, ok := defaults[key]
		if !ok || def == nil {
			out[key] = value
			continue
		}
		typed := reflect.New(reflect.TypeOf(def))
		if err := mapstructure.WeakDecode(value, typed.Interface()); err != nil {
			out[key] = value
			continue
		}
		out[key] = typed.Elem().Interface()
	}
	return out
}

func (s *TransformServiceImpl) lookup(ctx context.Context, key string) *domain.TransformResult {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil
	}

	var cached cachedResult
	if err := json.Unmarshal(data, &cached); err != nil {
		s.logger.FromContext(ctx).Warn().Err(err).Str("key", key).Msg("Discarding unreadable cache entry")
		return nil
	}
	return &domain.TransformResult{
		Operation: cached.Operation,
		Artifacts: lo.Map(cached.Artifacts, func(a cachedArtifact, _ int) domain.Artifact {
			return domain.Artifact{Name: a.Name, MimeType: a.MimeType, Size: int64(len(a.Data)), Data: a.Data}
		}),
		Metadata:    cached.Metadata,
		Cached:      true,
		CompletedAt: time.Now(),
	}
}

func (s *TransformServiceImpl) store(ctx context.Context, key string, result *domain.TransformResult) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(cachedResult{
		Operation: result.Operation,
		Artifacts: lo.Map(result.Artifacts, func(a domain.Artifact, _ int) cachedArtifact {
			return cachedArtifact{Name: a.Name, MimeType: a.MimeType, Data: a.Data}
		}),
		Metadata: result.Metadata,
	})
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		s.logger.FromContext(ctx).Debug().Err(err).Str("key", key).Msg("Result not cached")
	}
}

func (s *TransformServiceImpl) recordSuccess(ctx context.Context, req *domain.TransformRequest, result *domain.TransformResult, duration time.Duration) {
	if s.metrics != nil {
		status := "success"
		if result.Cached {
			status = "cached"
		}
		s.metrics.RecordTransform(string(req.Operation), status, duration, req.TotalSize(), result.OutputSize())
	}
	if s.events == nil {
		return
	}

	event := &ports.TransformCompletedEvent{
		Operation:   req.Operation,
		SessionID:   contextString(ctx, logger.SessionIDKey),
		JobID:       contextString(ctx, logger.JobIDKey),
		Outputs:     lo.Map(result.Artifacts, func(a domain.Artifact, _ int) string { return a.Name }),
		OutputSize:  result.OutputSize(),
		Cached:      result.Cached,
		Duration:    duration.String(),
		CompletedAt: time.Now().Format(time.RFC3339),
	}
	if err := s.events.PublishTransformCompleted(ctx, event); err != nil {
		s.logger.FromContext(ctx).Warn().Err(err).Msg("Failed to publish transform completed event")
	}
}

func (s *TransformServiceImpl) recordFailure(ctx context.Context, kind domain.OperationKind, err error) {
	code := "TRANSFORM_FAILED"
	if appErr, ok := apperrors.As(err); ok {
		code = appErr.Code
	}
	s.logger.LogError(ctx, err, "Transform failed", map[string]interface{}{"operation": string(kind), "code": code})

	if s.metrics != nil {
		s.metrics.RecordTransformError(string(kind), code)
	}
	if s.events == nil {
		return
	}

	event := &ports.TransformFailedEvent{
		Operation: kind,
		SessionID: contextString(ctx, logger.SessionIDKey),
		JobID:     contextString(ctx, logger.JobIDKey),
		Code:      code,
		Error:     errorMessage(err),
		FailedAt:  time.Now().Format(time.RFC3339),
	}
	if pubErr := s.events.PublishTransformFailed(ctx, event); pubErr != nil && !errors.Is(pubErr, context.Canceled) {
		s.logger.FromContext(ctx).Warn().Err(pubErr).Msg("Failed to publish transform failed event")
	}
}

func contextString(ctx context.Context, key logger.ContextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}
