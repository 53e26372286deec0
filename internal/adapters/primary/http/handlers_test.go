package http

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-toolkit/internal/adapters/secondary/processors"
	"media-toolkit/internal/core/domain"
	"media-toolkit/internal/core/ports"
	"media-toolkit/internal/core/services"
	"media-toolkit/pkg/logger"
	"media-toolkit/pkg/validator"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 5), G: 80, B: 160, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	transforms := services.NewTransformService(services.TransformServiceConfig{
		Transformers: []ports.Transformer{processors.NewImageTransformer(), processors.NewPDFTransformer()},
	})
	sessions := services.NewSessionManager(services.SessionManagerConfig{
		Transforms:  transforms,
		Store:       services.NewMemoryResultStore(time.Hour, nil),
		TTL:         time.Hour,
		MaxSessions: 10,
	})
	handler := NewMediaHandler(transforms, sessions, nil, validator.New(nil))

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger.Nop())})
	app.Use(RequestLogger(logger.Nop(), nil))
	handler.SetupRoutes(app, RouteOptions{})
	return app
}

type upload struct {
	field, name string
	data        []byte
}

func multipartRequest(t *testing.T, method, target string, files []upload, fields map[string]string) *nethttp.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, target, &body)
	req.Header.Set(fiber.HeaderContentType, mw.FormDataContentType())
	return req
}

func decode(t *testing.T, body io.Reader, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(body).Decode(v))
}

func TestListOperations(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/operations?category=pdf", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out struct {
		Data []domain.Operation `json:"data"`
	}
	decode(t, resp.Body, &out)
	require.Len(t, out.Data, 3)
	assert.Equal(t, domain.OpPDFMerge, out.Data[0].Kind)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/operations/video-reverse", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestRunTool(t *testing.T) {
	app := newTestApp(t)

	req := multipartRequest(t, "POST", "/api/v1/tools/image-resize",
		[]upload{{"file", "photo.png", pngBytes(t, 40, 20)}},
		map[string]string{"width": "20", "height": "10", "maintain_ratio": "false", "unknown": "x"})
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	assert.Equal(t, "image/png", resp.Header.Get(fiber.HeaderContentType))
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), "resized_20x10_photo.png")
	assert.Equal(t, "false", resp.Header.Get("X-Transform-Cached"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
	assert.Equal(t, 10, img.Bounds().Dy())
}

func TestRunToolErrors(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name   string
		target string
		files  []upload
		status int
		code   string
	}{
		{"unknown operation", "/api/v1/tools/video-reverse", nil, fiber.StatusNotFound, "OPERATION_NOT_FOUND"},
		{"no files", "/api/v1/tools/image-rotate", nil, fiber.StatusBadRequest, "NO_FILES"},
		{"wrong kind of file", "/api/v1/tools/pdf-compress", []upload{{"file", "photo.png", pngBytes(t, 4, 4)}}, fiber.StatusBadRequest, "UNSUPPORTED_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := multipartRequest(t, "POST", tt.target, tt.files, nil)
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			var out struct {
				Success bool `json:"success"`
				Error   struct {
					Code    string `json:"code"`
					TraceID string `json:"trace_id"`
				} `json:"error"`
			}
			decode(t, resp.Body, &out)
			assert.False(t, out.Success)
			assert.Equal(t, tt.code, out.Error.Code)
			assert.NotEmpty(t, out.Error.TraceID)
		})
	}
}

func TestSessionFlow(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(jsonRequest("POST", "/api/v1/sessions", `{"operation":"image-rotate"}`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var created struct {
		Data domain.SessionSnapshot `json:"data"`
	}
	decode(t, resp.Body, &created)
	id := created.Data.ID
	assert.Equal(t, domain.SessionIdle, created.Data.State)

	resp, err = app.Test(httptest.NewRequest("POST", "/api/v1/sessions/"+id+"/run", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "running without files")

	req := multipartRequest(t, "PUT", "/api/v1/sessions/"+id+"/files",
		[]upload{{"file", "photo.png", pngBytes(t, 8, 4)}}, map[string]string{"rotation": "180"})
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var configured struct {
		Data domain.SessionSnapshot `json:"data"`
	}
	decode(t, resp.Body, &configured)
	assert.Equal(t, domain.SessionConfiguring, configured.Data.State)

	resp, err = app.Test(jsonRequest("PATCH", "/api/v1/sessions/"+id+"/params", `{"rotation":90,"bogus":1}`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decode(t, resp.Body, &configured)
	assert.NotContains(t, configured.Data.Params, "bogus")

	resp, err = app.Test(httptest.NewRequest("POST", "/api/v1/sessions/"+id+"/run", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var ran struct {
		Data domain.SessionSnapshot `json:"data"`
	}
	decode(t, resp.Body, &ran)
	assert.Equal(t, domain.SessionCompleted, ran.Data.State)
	assert.Equal(t, 100, ran.Data.Progress)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/sessions/"+id+"/result/0", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	data, _ := io.ReadAll(resp.Body)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx(), "rotated by 90 degrees")

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/sessions/"+id+"/result/5", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("DELETE", "/api/v1/sessions/"+id, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/sessions/"+id, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestCreateSessionValidation(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(jsonRequest("POST", "/api/v1/sessions", `{}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestJobsDisabled(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/jobs/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestZipArtifacts(t *testing.T) {
	archive, err := zipArtifacts([]domain.Artifact{
		{Name: "doc_page_1.pdf", Data: []byte("one")},
		{Name: "doc_page_2.pdf", Data: []byte("two")},
		{Name: "doc_page_2.pdf", Data: []byte("dup")},
	})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"doc_page_1.pdf", "doc_page_2.pdf", "3-doc_page_2.pdf"}, names)
}

func jsonRequest(method, target, body string) *nethttp.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}
