package httpx

import (
	"context"
	"errors"
	"net/http"

	apperrors "github.com/puppy-social/puppy/internal/errors"
)

// errorStatus maps an application error to the HTTP status it is reported with.
func errorStatus(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict, apperrors.ErrCodeForeignKey:
		return http.StatusConflict
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// errorMessage returns text that is safe to show a user. Internal failures are not described.
func errorMessage(err error) string {
	if errorStatus(err) >= http.StatusInternalServerError {
		return "Something went wrong. Please try again."
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// errorCode returns the machine-readable code used in JSON error bodies.
func errorCode(err error) string {
	if code := apperrors.GetCode(err); code != "" {
		return string(code)
	}
	return string(apperrors.ErrCodeInternal)
}
