package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/hexlabs/cyberdash/pkg/errors"
)

// NetworkError means no response was received at all. It is never retried by
// this layer.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx response, with the raw body preserved for the
// caller.
type HTTPError struct {
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend returned status %d", e.Status)
}

// ParseError is a malformed body on an expected-JSON response. Never retried.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsStatus reports whether err is an HTTPError with the given status code.
func IsStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == status
}

// backendErrorBody mirrors the structured error envelope the platform
// backends return.
type backendErrorBody struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ToAppError translates a transport error into an AppError suitable for
// display. Structured error bodies keep their code and message; anything
// else maps by status code.
func ToAppError(err error) error {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return err
	}

	var body backendErrorBody
	if json.Unmarshal(httpErr.Body, &body) == nil && body.Error != nil {
		return mapBackendError(httpErr.Status, body.Error.Code, body.Error.Message)
	}

	return mapBackendError(httpErr.Status, "", string(httpErr.Body))
}

func mapBackendError(status int, code, message string) error {
	switch status {
	case http.StatusNotFound:
		return &apperrors.AppError{
			Code:    "NOT_FOUND",
			Message: message,
			Status:  status,
			Err:     apperrors.ErrNotFound,
		}
	case http.StatusBadRequest:
		return apperrors.InvalidInput(message)
	case http.StatusUnauthorized:
		return apperrors.Unauthorized(message)
	case http.StatusForbidden:
		return apperrors.Forbidden(message)
	case http.StatusConflict:
		return apperrors.Conflict(message)
	default:
		if code == "" {
			code = "BACKEND_ERROR"
		}
		return &apperrors.AppError{
			Code:    code,
			Message: message,
			Status:  status,
			Err:     apperrors.ErrInternal,
		}
	}
}
