package processors

import (
	"context"
	"errors"
	"strings"

	"media-toolkit/internal/core/domain"
	"media-toolkit/media"
	"media-toolkit/pdftools"
	apperrors "media-toolkit/pkg/errors"
)

// toAppError maps transformation failures onto the application error
// taxonomy. The original error stays reachable through Unwrap.
func toAppError(kind domain.OperationKind, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}

	var appErr *apperrors.AppError
	var domainErr domain.DomainError
	switch {
	case errors.As(err, &domainErr):
		appErr = apperrors.New(apperrors.ValidationError, domainErr.Code, domainErr.Message)
		appErr.Details = domainErr.Details
		appErr.InnerError = err
	case errors.Is(err, media.ErrEngineUnavailable):
		appErr = apperrors.NewEngineUnavailableError(err)
	case errors.Is(err, media.ErrInvocationFailed):
		appErr = apperrors.NewInvocationError(err)
	case errors.Is(err, media.ErrSameFormat):
		appErr = apperrors.NewSameFormatError(targetFormat(err))
		appErr.InnerError = err
	case errors.Is(err, media.ErrIdentityTransform):
		appErr = apperrors.NewIdentityTransformError(err.Error())
		appErr.InnerError = err
	case errors.Is(err, media.ErrInvalidOptions), errors.Is(err, pdftools.ErrInvalidOptions):
		appErr = apperrors.Wrap(err, apperrors.ValidationError, "INVALID_OPTIONS", "invalid options")
	case errors.Is(err, media.ErrUnsupportedInput), errors.Is(err, pdftools.ErrUnsupportedInput):
		appErr = apperrors.Wrap(err, apperrors.ValidationError, "UNSUPPORTED_INPUT", "file could not be read")
	case errors.Is(err, context.DeadlineExceeded):
		appErr = apperrors.NewTimeoutError(string(kind))
		appErr.InnerError = err
	default:
		appErr = apperrors.Wrap(err, apperrors.ProcessingError, "TRANSFORM_FAILED", "transformation failed")
	}
	return appErr.WithContext("operation", string(kind))
}

// targetFormat pulls the format name from a wrapped ErrSameFormat.
func targetFormat(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}
