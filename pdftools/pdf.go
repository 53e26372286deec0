package pdftools

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/samber/lo"

	"media-toolkit/pkg/validator"
	"media-toolkit/utils"
)

var (
	// ErrInvalidOptions wraps option and page selection failures.
	ErrInvalidOptions = errors.New("invalid options")
	// ErrUnsupportedInput is returned when a document cannot be read as PDF.
	ErrUnsupportedInput = errors.New("unsupported input")
)

const mimeType = "application/pdf"

// File is a named PDF document held in memory.
type File struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

var configOnce sync.Once

// newConfiguration returns a fresh relaxed configuration. pdfcpu mutates the
// configuration it is given, so every call gets its own.
func newConfiguration() *model.Configuration {
	configOnce.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func validateOptions(opts interface{}) error {
	if err := validator.Get().ValidateStruct(opts); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// PageCount returns the number of pages in a document.
func PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), newConfiguration())
	if err != nil {
		return 0, fmt.Errorf("%w: read pdf: %v", ErrUnsupportedInput, err)
	}
	return n, nil
}

// Merge concatenates documents in the given order into merged.pdf.
func Merge(files []File) (*File, error) {
	if len(files) < 2 {
		return nil, fmt.Errorf("%w: merge needs at least 2 documents, got %d", ErrInvalidOptions, len(files))
	}

	readers := lo.Map(files, func(f File, _ int) io.ReadSeeker {
		return bytes.NewReader(f.Data)
	})

	var buf bytes.Buffer
	if err := api.MergeRaw(readers, &buf, false, newConfiguration()); err != nil {
		return nil, fmt.Errorf("%w: merge: %v", ErrUnsupportedInput, err)
	}
	return &File{Name: "merged.pdf", MimeType: mimeType, Data: buf.Bytes()}, nil
}

// SplitOptions selects which pages become single page documents.
// Start and End are 1-based and inclusive; Pages is a list such as "1,3,5-7".
type SplitOptions struct {
	Mode  string `json:"mode" validate:"oneof=all range select"`
	Start int    `json:"start" validate:"gte=0"`
	End   int    `json:"end" validate:"gte=0"`
	Pages string `json:"pages" validate:"omitempty,pagelist"`
}

func DefaultSplitOptions() SplitOptions {
	return SplitOptions{Mode: "all", Start: 1, End: 1}
}

// SelectPages resolves opts against a document of pageCount pages and returns
// the sorted 1-based page numbers.
func SelectPages(opts SplitOptions, pageCount int) ([]int, error) {
	var pages []int
	switch opts.Mode {
	case "all":
		pages = lo.RangeFrom(1, pageCount)
	case "range":
		if opts.Start < 1 || opts.End < opts.Start {
			return nil, fmt.Errorf("%w: invalid range %d-%d", ErrInvalidOptions, opts.Start, opts.End)
		}
		if opts.End > pageCount {
			return nil, pageOutOfRange(opts.End, pageCount)
		}
		pages = lo.RangeFrom(opts.Start, opts.End-opts.Start+1)
	case "select":
		parsed, err := ParsePageList(opts.Pages, pageCount)
		if err != nil {
			return nil, err
		}
		pages = parsed
	default:
		return nil, fmt.Errorf("%w: unknown split mode %q", ErrInvalidOptions, opts.Mode)
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no pages selected", ErrInvalidOptions)
	}
	if outside := lo.Filter(pages, func(p int, _ int) bool { return p < 1 || p > pageCount }); len(outside) > 0 {
		return nil, pageOutOfRange(outside[0], pageCount)
	}
	return pages, nil
}

func pageOutOfRange(page, pageCount int) error {
	return fmt.Errorf("%w: page %d is out of range 1-%d", ErrInvalidOptions, page, pageCount)
}

// ParsePageList parses "1,3,5-7" into sorted, unique page numbers. Pages
// past pageCount are rejected before any span is expanded.
func ParsePageList(s string, pageCount int) ([]int, error) {
	var pages []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(strings.TrimSpace(from))
		if err != nil {
			return nil, fmt.Errorf("%w: bad page %q", ErrInvalidOptions, part)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(strings.TrimSpace(to)); err != nil || last < first {
				return nil, fmt.Errorf("%w: bad page range %q", ErrInvalidOptions, part)
			}
		}
		if first < 1 {
			return nil, pageOutOfRange(first, pageCount)
		}
		if last > pageCount {
			return nil, pageOutOfRange(last, pageCount)
		}
		for p := first; p <= last; p++ {
			pages = append(pages, p)
		}
	}
	pages = lo.Uniq(pages)
	sort.Ints(pages)
	return pages, nil
}

// Split extracts every selected page into its own <base>_page_N.pdf.
func Split(name string, data []byte, opts SplitOptions) ([]File, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	count, err := PageCount(data)
	if err != nil {
		return nil, err
	}
	pages, err := SelectPages(opts, count)
	if err != nil {
		return nil, err
	}

	base := utils.BaseName(name)
	out := make([]File, 0, len(pages))
	for _, p := range pages {
		var buf bytes.Buffer
		if err := api.Trim(bytes.NewReader(data), &buf, []string{strconv.Itoa(p)}, newConfiguration()); err != nil {
			return nil, fmt.Errorf("%w: extract page %d: %v", ErrUnsupportedInput, p, err)
		}
		out = append(out, File{
			Name:     fmt.Sprintf("%s_page_%d.pdf", base, p),
			MimeType: mimeType,
			Data:     buf.Bytes(),
		})
	}
	return out, nil
}

// CompressOptions selects how aggressively the document is rewritten.
type CompressOptions struct {
	Level string `json:"level" validate:"oneof=low medium high"`
}

func DefaultCompressOptions() CompressOptions {
	return CompressOptions{Level: "medium"}
}

// CompressResult is the rewritten document plus its size change.
type CompressResult struct {
	File
	OriginalSize   int64   `json:"original_size"`
	CompressedSize int64   `json:"compressed_size"`
	SavedPercent   float64 `json:"saved_percent"`
}

// Compress optimizes the document. medium and high also pack objects and the
// cross reference table into streams.
func Compress(name string, data []byte, opts CompressOptions) (*CompressResult, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	conf := newConfiguration()
	conf.WriteObjectStream = opts.Level != "low"
	conf.WriteXRefStream = opts.Level != "low"

	var buf bytes.Buffer
	if err := api.Optimize(bytes.NewReader(data), &buf, conf); err != nil {
		return nil, fmt.Errorf("%w: optimize: %v", ErrUnsupportedInput, err)
	}

	original, compressed := int64(len(data)), int64(buf.Len())
	return &CompressResult{
		File: File{
			Name:     "compressed-" + name,
			MimeType: mimeType,
			Data:     buf.Bytes(),
		},
		OriginalSize:   original,
		CompressedSize: compressed,
		SavedPercent:   SavedPercent(original, compressed),
	}, nil
}

// SavedPercent reports the size reduction rounded to one decimal. Growth is
// reported as a negative value.
func SavedPercent(original, compressed int64) float64 {
	if original <= 0 {
		return 0
	}
	saved := float64(original-compressed) / float64(original) * 100
	return math.Round(saved*10) / 10
}
