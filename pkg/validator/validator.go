package validator

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// Validator wraps go-playground/validator with the toolkit's custom rules.
type Validator struct {
	validate *validator.Validate
	config   *Config
}

// Config holds upload validation limits.
type Config struct {
	MaxFileSize       int64    `json:"max_file_size" yaml:"max_file_size"`
	MinFileSize       int64    `json:"min_file_size" yaml:"min_file_size"`
	MaxFiles          int      `json:"max_files" yaml:"max_files"`
	AllowedMimeTypes  []string `json:"allowed_mime_types" yaml:"allowed_mime_types"`
	AllowedExtensions []string `json:"allowed_extensions" yaml:"allowed_extensions"`
}

func DefaultConfig() *Config {
	return &Config{
		MaxFileSize: 500 * 1024 * 1024,
		MinFileSize: 1,
		MaxFiles:    20,
		AllowedMimeTypes: []string{
			"image/jpeg", "image/png", "image/webp", "image/gif", "image/bmp", "image/tiff",
			"video/mp4", "video/webm", "video/quicktime", "video/x-msvideo", "video/x-matroska",
			"audio/mpeg", "audio/wav", "audio/x-wav", "audio/aac", "audio/ogg", "audio/mp4",
			"application/pdf",
		},
		AllowedExtensions: []string{
			".jpg", ".jpeg", ".png", ".webp", ".gif", ".bmp", ".tif", ".tiff",
			".mp4", ".webm", ".mov", ".avi", ".mkv", ".m4v",
			".mp3", ".wav", ".aac", ".ogg", ".m4a",
			".pdf",
		},
	}
}

var (
	aspectPattern   = regexp.MustCompile(`^(free|[1-9][0-9]*:[1-9][0-9]*)$`)
	pageListPattern = regexp.MustCompile(`^\s*[1-9][0-9]*(\s*-\s*[1-9][0-9]*)?(\s*,\s*[1-9][0-9]*(\s*-\s*[1-9][0-9]*)?)*\s*$`)
)

// New creates a validator. A nil config uses DefaultConfig.
func New(config *Config) *Validator {
	if config == nil {
		config = DefaultConfig()
	}

	validate := validator.New()
	validate.RegisterValidation("aspect", func(fl validator.FieldLevel) bool {
		return aspectPattern.MatchString(fl.Field().String())
	})
	validate.RegisterValidation("pagelist", func(fl validator.FieldLevel) bool {
		return pageListPattern.MatchString(fl.Field().String())
	})
	validate.RegisterValidation("mime_type", func(fl validator.FieldLevel) bool {
		return lo.Contains(config.AllowedMimeTypes, fl.Field().String())
	})
	validate.RegisterValidation("file_extension", func(fl validator.FieldLevel) bool {
		return lo.Contains(config.AllowedExtensions, strings.ToLower(fl.Field().String()))
	})

	return &Validator{validate: validate, config: config}
}

// ValidationError describes one failed rule.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	return strings.Join(lo.Map(v, func(e ValidationError, _ int) string { return e.Message }), "; ")
}

// ValidateStruct runs the struct's validate tags.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	var validationErrors ValidationErrors
	for _, fe := range fieldErrs {
		validationErrors = append(validationErrors, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Value:   fmt.Sprintf("%v", fe.Value()),
			Message: getErrorMessage(fe),
		})
	}
	return validationErrors
}

// ValidateFile checks an uploaded file header against the configured limits.
func (v *Validator) ValidateFile(file *multipart.FileHeader) error {
	return v.validateUpload(file.Filename, file.Size)
}

// ValidateContent checks a named payload, sniffing its MIME type from the bytes.
func (v *Validator) ValidateContent(filename string, data []byte) (string, error) {
	if err := v.validateUpload(filename, int64(len(data))); err != nil {
		return "", err
	}

	detected := mimetype.Detect(data)
	mimeType := detected.String()
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	if !lo.Contains(v.config.AllowedMimeTypes, mimeType) && !lo.SomeBy(v.config.AllowedMimeTypes, detected.Is) {
		return mimeType, ValidationErrors{{
			Field:   "content_type",
			Tag:     "mime_type",
			Value:   mimeType,
			Message: fmt.Sprintf("MIME type '%s' is not supported", mimeType),
		}}
	}
	return mimeType, nil
}

// ValidateFileCount checks the number of files in one request.
func (v *Validator) ValidateFileCount(n int) error {
	if n > v.config.MaxFiles {
		return ValidationErrors{{
			Field:   "files",
			Tag:     "max_files",
			Value:   fmt.Sprintf("%d", n),
			Message: fmt.Sprintf("%d files exceed the maximum of %d per request", n, v.config.MaxFiles),
		}}
	}
	return nil
}

func (v *Validator) validateUpload(filename string, size int64) error {
	var errs ValidationErrors

	if size > v.config.MaxFileSize {
		errs = append(errs, ValidationError{
			Field:   "file_size",
			Tag:     "max_size",
			Value:   fmt.Sprintf("%d", size),
			Message: fmt.Sprintf("File size %d bytes exceeds maximum allowed size of %d bytes", size, v.config.MaxFileSize),
		})
	}

	if size < v.config.MinFileSize {
		errs = append(errs, ValidationError{
			Field:   "file_size",
			Tag:     "min_size",
			Value:   fmt.Sprintf("%d", size),
			Message: fmt.Sprintf("File size %d bytes is below minimum required size of %d bytes", size, v.config.MinFileSize),
		})
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !lo.Contains(v.config.AllowedExtensions, ext) {
		errs = append(errs, ValidationError{
			Field:   "file_extension",
			Tag:     "allowed_extension",
			Value:   ext,
			Message: fmt.Sprintf("File extension '%s' is not allowed", ext),
		})
	}

	if suspicious, reason := IsSuspiciousFilename(filename); suspicious {
		errs = append(errs, ValidationError{
			Field:   "filename",
			Tag:     "safe_name",
			Value:   filename,
			Message: reason,
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// IsSuspiciousFilename rejects names that could escape a workspace directory
// or inject into engine arguments.
func IsSuspiciousFilename(filename string) (bool, string) {
	patterns := []string{"../", "..\\", "\x00", "\n", "\r"}
	for _, pattern := range patterns {
		if strings.Contains(filename, pattern) {
			return true, fmt.Sprintf("Suspicious filename pattern detected: %q", pattern)
		}
	}
	if strings.HasPrefix(filename, "-") {
		return true, "Filename must not start with '-'"
	}
	return false, ""
}

func getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", err.Field())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must not exceed %s", err.Field(), err.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", err.Field(), err.Param())
	case "gtfield":
		return fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", err.Field(), err.Param())
	case "hexcolor":
		return fmt.Sprintf("%s must be a hex color such as #ffffff", err.Field())
	case "aspect":
		return fmt.Sprintf("%s must be 'free' or a ratio such as 16:9", err.Field())
	case "pagelist":
		return fmt.Sprintf("%s must be a page list such as 1,3,5-7", err.Field())
	case "mime_type":
		return fmt.Sprintf("%s has unsupported MIME type", err.Field())
	case "file_extension":
		return fmt.Sprintf("%s has unsupported file extension", err.Field())
	default:
		return fmt.Sprintf("%s is invalid", err.Field())
	}
}

var globalValidator *Validator

// Init initializes the global validator
func Init(config *Config) {
	globalValidator = New(config)
}

// Get returns the global validator
func Get() *Validator {
	if globalValidator == nil {
		globalValidator = New(DefaultConfig())
	}
	return globalValidator
}
