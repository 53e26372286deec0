package media

import (
	"errors"
	"fmt"
	"strconv"

	"media-toolkit/pkg/validator"
	"media-toolkit/types"
	"media-toolkit/utils"
)

var (
	// ErrInvalidOptions wraps option validation failures.
	ErrInvalidOptions = errors.New("invalid options")
	// ErrIdentityTransform is returned when the options would reproduce the input.
	ErrIdentityTransform = errors.New("transformation would not change the input")
	// ErrSameFormat is returned when a conversion targets the input's own format.
	ErrSameFormat = errors.New("input is already in the target format")
	// ErrUnsupportedInput is returned for inputs the operation cannot read.
	ErrUnsupportedInput = errors.New("unsupported input")
	// ErrEngineUnavailable is returned when the transcoding engine cannot be loaded.
	ErrEngineUnavailable = errors.New("transcoding engine unavailable")
	// ErrInvocationFailed is matched by every *FFmpegError.
	ErrInvocationFailed = errors.New("transcoding engine invocation failed")
)

// File is a workspace file that a plan writes before its first pass.
// Source indexes the caller's inputs; Content is used when Source is -1.
type File struct {
	Name    string
	Source  int
	Content []byte
}

// Pass is one engine invocation.
type Pass struct {
	Args []string
	// Duration is the expected output length in seconds, used for progress
	// when the engine cannot report the input duration. Zero means unknown.
	Duration float64
}

// Plan is the complete, deterministic recipe for one engine-backed transform.
type Plan struct {
	Files        []File
	Passes       []Pass
	Output       string
	DownloadName string
	MimeType     string
}

// Result is a packaged output artifact.
type Result struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// Size returns the artifact length in bytes.
func (r *Result) Size() int64 {
	return int64(len(r.Data))
}

func validateOptions(opts interface{}) error {
	if err := validator.Get().ValidateStruct(opts); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// formatFloat renders v without trailing zeros so equal inputs give equal args.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// workspaceName maps a caller file name to a fixed workspace name that keeps
// only the original extension.
func workspaceName(prefix, original string) string {
	ext := utils.Extension(original)
	if ext == "" {
		ext = ".bin"
	}
	return prefix + ext
}

func outputFile(format string) (string, string) {
	f, ok := types.LookupFormat(format)
	if !ok {
		return "output." + format, "application/octet-stream"
	}
	return "output" + f.Extension, f.MimeType
}

// Source is a caller input: its file name and, when known, the MIME type
// sniffed from its content.
type Source struct {
	Name     string
	MimeType string
}

// format trusts the sniffed MIME type over the file name.
func (s Source) format() (types.Format, bool) {
	if f, ok := types.FormatFromMime(s.MimeType); ok {
		return f, true
	}
	return types.FormatFromFilename(s.Name)
}

func sourceFile(name string, index int) File {
	return File{Name: name, Source: index}
}
