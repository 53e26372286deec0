package http

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"media-toolkit/internal/core/domain"
	apperrors "media-toolkit/pkg/errors"
	"media-toolkit/pkg/logger"
	"media-toolkit/pkg/metrics"
)

// sendArtifacts writes a single artifact as the response body, or a zip
// archive named after the operation when there are several.
func sendArtifacts(c *fiber.Ctx, bundleName string, artifacts []domain.Artifact) error {
	switch len(artifacts) {
	case 0:
		return apperrors.New(apperrors.NotFoundError, "RESULT_NOT_FOUND", "Transform produced no output")
	case 1:
		a := artifacts[0]
		c.Set(fiber.HeaderContentType, a.MimeType)
		c.Attachment(a.Name)
		return c.Send(a.Data)
	}

	archive, err := zipArtifacts(artifacts)
	if err != nil {
		return apperrors.Wrap(err, apperrors.InternalError, "PACKAGING_FAILED", "Failed to package results")
	}
	if bundleName == "" {
		bundleName = "results"
	}
	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set("X-Artifact-Count", strconv.Itoa(len(artifacts)))
	c.Attachment(bundleName + ".zip")
	return c.Send(archive)
}

// zipArtifacts stores artifacts uncompressed in order. Duplicate names get
// an index prefix.
func zipArtifacts(artifacts []domain.Artifact) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	seen := make(map[string]bool, len(artifacts))

	for i, a := range artifacts {
		name := a.Name
		if seen[name] {
			name = fmt.Sprintf("%d-%s", i+1, name)
		}
		seen[name] = true

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Store,
			Modified: time.Now(),
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(a.Data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ErrorHandler renders every error as the AppError envelope.
func ErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		appErr, ok := apperrors.As(err)
		if !ok {
			if fiberErr, isFiber := err.(*fiber.Error); isFiber {
				appErr = apperrors.New(apperrors.ValidationError, "HTTP_ERROR", fiberErr.Message)
				appErr.HTTPStatus = fiberErr.Code
			} else {
				appErr = apperrors.NewInternalError(err.Error())
			}
		}
		if id, _ := c.Locals("request_id").(string); id != "" {
			appErr.WithTrace(id)
		}
		if appErr.HTTPStatus >= fiber.StatusInternalServerError && log != nil {
			log.LogError(c.UserContext(), err, "Request failed", map[string]interface{}{
				"path": c.Path(),
				"code": appErr.Code,
			})
		}
		return c.Status(appErr.HTTPStatus).JSON(apperrors.NewErrorResponse(appErr))
	}
}

// RequestLogger tags each request with an id, logs it and records its metrics.
func RequestLogger(log *logger.Logger, m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)
		c.SetUserContext(logger.WithRequestID(c.UserContext(), requestID))

		err := c.Next()
		if err != nil {
			// Render now so the logged status matches the response.
			if handlerErr := c.App().ErrorHandler(c, err); handlerErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		duration := time.Since(start)
		status := c.Response().StatusCode()
		log.LogRequest(c.UserContext(), c.Method(), c.Path(), c.Get(fiber.HeaderUserAgent), c.IP(), status, duration)
		if m != nil {
			route := c.Route().Path
			m.RecordHTTPRequest(c.Method(), route, strconv.Itoa(status), duration)
		}
		return nil
	}
}
