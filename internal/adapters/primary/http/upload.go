package http

import (
	"errors"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"

	"media-toolkit/internal/core/domain"
	apperrors "media-toolkit/pkg/errors"
	"media-toolkit/utils"
)

// File fields accepted in multipart uploads, in the order files are taken.
var fileFields = []string{"file", "files"}

// readUploads reads every uploaded file into memory, preserving order.
func (h *MediaHandler) readUploads(c *fiber.Ctx) ([]domain.SourceFile, error) {
	form, err := c.MultipartForm()
	if err != nil {
		if errors.Is(err, multipart.ErrMessageTooLarge) {
			return nil, apperrors.Wrap(err, apperrors.ValidationError, "UPLOAD_TOO_LARGE", "Upload exceeds the request size limit")
		}
		return nil, apperrors.Wrap(err, apperrors.ValidationError, "INVALID_UPLOAD", "Request must be multipart/form-data")
	}

	headers := lo.FlatMap(fileFields, func(field string, _ int) []*multipart.FileHeader {
		return form.File[field]
	})
	if err := h.validator.ValidateFileCount(len(headers)); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ValidationError, "INVALID_FILE_COUNT", err.Error())
	}

	files := make([]domain.SourceFile, 0, len(headers))
	for _, header := range headers {
		if err := h.validator.ValidateFile(header); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ValidationError, "INVALID_FILE", err.Error()).
				WithContext("file", header.Filename)
		}
		data, err := utils.ReadUploadedFile(header)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ValidationError, "INVALID_UPLOAD", "Failed to read uploaded file").
				WithContext("file", header.Filename)
		}
		files = append(files, domain.SourceFile{
			Name:     header.Filename,
			MimeType: header.Header.Get(fiber.HeaderContentType),
			Size:     int64(len(data)),
			Data:     data,
		})
	}
	return files, nil
}

// formParams collects the operation's parameters from the form's text
// fields. Unknown fields are dropped.
func formParams(c *fiber.Ctx, op domain.Operation) (map[string]interface{}, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ValidationError, "INVALID_UPLOAD", "Request must be multipart/form-data")
	}
	params := make(map[string]interface{}, len(form.Value))
	for key, values := range form.Value {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return knownParams(params, op), nil
}

// knownParams keeps only the keys the operation declares defaults for.
func knownParams(params map[string]interface{}, op domain.Operation) map[string]interface{} {
	return lo.PickByKeys(params, lo.Keys(op.Defaults))
}
