package processors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-toolkit/internal/core/domain"
	"media-toolkit/media"
	apperrors "media-toolkit/pkg/errors"
)

type stubRunner struct {
	mu     sync.Mutex
	failOn int
	calls  [][]string
}

func (r *stubRunner) Version(ctx context.Context) (string, error) {
	return "ffmpeg version stub", nil
}

func (r *stubRunner) Run(ctx context.Context, dir string, args []string, duration float64, progress media.ProgressFunc) error {
	r.mu.Lock()
	r.calls = append(r.calls, args)
	n := len(r.calls)
	r.mu.Unlock()

	if n == r.failOn {
		return &media.FFmpegError{Args: args, Stderr: "palettegen: invalid input", Err: errors.New("exit status 1")}
	}
	return os.WriteFile(filepath.Join(dir, args[len(args)-1]), []byte("encoded"), 0600)
}

func (r *stubRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newVideoTransformer(t *testing.T, runner *stubRunner) *FFmpegTransformer {
	t.Helper()
	engine := media.NewEngine(media.EngineConfig{Runner: runner, TempDir: t.TempDir()})
	return NewFFmpegTransformer(engine).(*FFmpegTransformer)
}

func videoRequest(kind domain.OperationKind, params map[string]interface{}, names ...string) *domain.TransformRequest {
	req := &domain.TransformRequest{Operation: kind, Params: params}
	for _, n := range names {
		req.Files = append(req.Files, domain.SourceFile{Name: n, MimeType: "video/mp4", Data: []byte("video " + n)})
	}
	return req
}

func TestDecodeParamsFromForm(t *testing.T) {
	opts := media.DefaultSpeedOptions()
	err := decodeParams(map[string]interface{}{"speed": "1.5", "preserve_audio": "false"}, &opts)
	require.NoError(t, err)
	assert.Equal(t, 1.5, opts.Speed)
	assert.False(t, opts.PreserveAudio)

	err = decodeParams(map[string]interface{}{"speed": "fast"}, &opts)
	var domainErr domain.DomainError
	assert.True(t, errors.As(err, &domainErr))
}

func TestBuildPlanIsDeterministic(t *testing.T) {
	req := videoRequest(domain.OpVideoSpeed, map[string]interface{}{"speed": 3.0}, "clip.mov")
	a, err := BuildPlan(req)
	require.NoError(t, err)
	b, err := BuildPlan(req)
	require.NoError(t, err)
	assert.Equal(t, a.Passes, b.Passes)
	assert.Contains(t, strings.Join(a.Passes[0].Args, " "), "atempo=2.0,atempo=1.5")
}

func TestFFmpegTransformerGuards(t *testing.T) {
	tests := []struct {
		name   string
		req    *domain.TransformRequest
		code   string
		target error
	}{
		{"identity speed", videoRequest(domain.OpVideoSpeed, map[string]interface{}{"speed": "1"}, "clip.mp4"), "IDENTITY_TRANSFORM", media.ErrIdentityTransform},
		{"same format", videoRequest(domain.OpVideoConvert, map[string]interface{}{"format": "mp4"}, "clip.mp4"), "SAME_FORMAT", media.ErrSameFormat},
		{"same format by content", videoRequest(domain.OpVideoConvert, map[string]interface{}{"format": "mp4"}, "clip.bin"), "SAME_FORMAT", media.ErrSameFormat},
		{"bad option", videoRequest(domain.OpVideoToGif, map[string]interface{}{"fps": 12}, "clip.mp4"), "INVALID_OPTIONS", media.ErrInvalidOptions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{}
			_, err := newVideoTransformer(t, runner).Transform(context.Background(), tt.req, nil)
			require.Error(t, err)

			appErr, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, 400, appErr.HTTPStatus)
			assert.ErrorIs(t, err, tt.target)
			assert.Zero(t, runner.count())
		})
	}
}

func TestFFmpegTransformerGif(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		runner := &stubRunner{}
		var last float64
		result, err := newVideoTransformer(t, runner).Transform(context.Background(),
			videoRequest(domain.OpVideoToGif, nil, "clip.mp4"), func(f float64) { last = f })
		require.NoError(t, err)
		require.Len(t, result.Artifacts, 1)
		assert.Equal(t, "clip.gif", result.Artifacts[0].Name)
		assert.Equal(t, "image/gif", result.Artifacts[0].MimeType)
		assert.Equal(t, int64(len("encoded")), result.Artifacts[0].Size)
		assert.Equal(t, 2, runner.count())
		assert.Equal(t, 1.0, last)
	})

	t.Run("palette pass failure", func(t *testing.T) {
		runner := &stubRunner{failOn: 1}
		_, err := newVideoTransformer(t, runner).Transform(context.Background(),
			videoRequest(domain.OpVideoToGif, nil, "clip.mp4"), nil)
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, "INVOCATION_FAILED"))
		assert.Equal(t, 422, apperrors.GetHTTPStatus(err))
		assert.Equal(t, 1, runner.count())
	})
}

func TestFFmpegTransformerAddMusicNeedsTwoInputs(t *testing.T) {
	runner := &stubRunner{}
	_, err := newVideoTransformer(t, runner).Transform(context.Background(),
		videoRequest(domain.OpVideoAddMusic, nil, "clip.mp4"), nil)
	assert.True(t, apperrors.IsCode(err, "INVALID_OPTIONS"))
	assert.Zero(t, runner.count())
}

func TestOperationsCatalogue(t *testing.T) {
	ops := NewFFmpegTransformer(nil).Operations()
	ops = append(ops, NewImageTransformer().Operations()...)
	ops = append(ops, NewPDFTransformer().Operations()...)
	assert.Len(t, ops, 18)

	for _, op := range ops {
		assert.NotEmpty(t, op.Accept, op.Kind)
		assert.GreaterOrEqual(t, op.MaxFiles, op.MinFiles, op.Kind)
	}
	speed := ops[1]
	assert.Equal(t, domain.OpVideoSpeed, speed.Kind)
	assert.Equal(t, 2.0, speed.Defaults["speed"])
	assert.Equal(t, true, speed.Defaults["preserve_audio"])
}

func testImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(0, 0, color.NRGBA{R: 10, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImageTransformer(t *testing.T) {
	transformer := NewImageTransformer()
	file := domain.SourceFile{Name: "photo.png", MimeType: "image/png", Data: testImage(t, 200, 100)}

	t.Run("crop with form params", func(t *testing.T) {
		result, err := transformer.Transform(context.Background(), &domain.TransformRequest{
			Operation: domain.OpImageCrop,
			Files:     []domain.SourceFile{file},
			Params:    map[string]interface{}{"x": "0", "y": "0", "width": "50", "height": "50"},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "cropped_photo.png", result.Artifacts[0].Name)

		img, _, err := media.DecodeImage(result.Artifacts[0].Data)
		require.NoError(t, err)
		assert.Equal(t, image.Pt(100, 50), img.Bounds().Size())
	})

	t.Run("same format conversion", func(t *testing.T) {
		_, err := transformer.Transform(context.Background(), &domain.TransformRequest{
			Operation: domain.OpImageConvert,
			Files:     []domain.SourceFile{file},
			Params:    map[string]interface{}{"format": "png"},
		}, nil)
		assert.True(t, apperrors.IsCode(err, "SAME_FORMAT"))
	})

	t.Run("unreadable input", func(t *testing.T) {
		_, err := transformer.Transform(context.Background(), &domain.TransformRequest{
			Operation: domain.OpImageRotate,
			Files:     []domain.SourceFile{{Name: "photo.png", Data: []byte("garbage")}},
		}, nil)
		assert.True(t, apperrors.IsCode(err, "UNSUPPORTED_INPUT"))
	})
}

func testPDF(t *testing.T, pages int) []byte {
	t.Helper()
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages),
	}
	for i := 0; i < pages; i++ {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] /Resources << >> >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestPDFTransformer(t *testing.T) {
	transformer := NewPDFTransformer()
	doc := domain.SourceFile{Name: "report.pdf", MimeType: "application/pdf", Data: testPDF(t, 3)}

	t.Run("split range", func(t *testing.T) {
		result, err := transformer.Transform(context.Background(), &domain.TransformRequest{
			Operation: domain.OpPDFSplit,
			Files:     []domain.SourceFile{doc},
			Params:    map[string]interface{}{"mode": "range", "start": "2", "end": "3"},
		}, nil)
		require.NoError(t, err)
		require.Len(t, result.Artifacts, 2)
		assert.Equal(t, "report_page_2.pdf", result.Artifacts[0].Name)
		assert.Equal(t, 2, result.Metadata["pages"])
	})

	t.Run("split out of range", func(t *testing.T) {
		_, err := transformer.Transform(context.Background(), &domain.TransformRequest{
			Operation: domain.OpPDFSplit,
			Files:     []domain.SourceFile{doc},
			Params:    map[string]interface{}{"mode": "select", "pages": "9"},
		}, nil)
		assert.True(t, apperrors.IsType(err, apperrors.ValidationError))
	})

	t.Run("compress", func(t *testing.T) {
		result, err := transformer.Transform(context.Background(), &domain.TransformRequest{
			Operation: domain.OpPDFCompress,
			Files:     []domain.SourceFile{doc},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "compressed-report.pdf", result.Artifacts[0].Name)
		assert.Equal(t, int64(len(doc.Data)), result.Metadata["original_size"])
	})

	t.Run("merge", func(t *testing.T) {
		result, err := transformer.Transform(context.Background(), &domain.TransformRequest{
			Operation: domain.OpPDFMerge,
			Files:     []domain.SourceFile{doc, doc},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "merged.pdf", result.Artifacts[0].Name)
	})
}
