package apperrors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// AppError is an error that carries the HTTP status it should be reported with.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

var (
	ErrInvalidRequest = New(http.StatusBadRequest, "Invalid request parameters")
	ErrInternalServer = New(http.StatusInternalServerError, "Internal server error")
)

func BadRequest(msg string) *AppError {
	return New(http.StatusBadRequest, msg)
}

func NotFound(msg string) *AppError {
	return New(http.StatusNotFound, msg)
}

func Unauthorized(msg string) *AppError {
	return New(http.StatusUnauthorized, msg)
}

func Forbidden(msg string) *AppError {
	return New(http.StatusForbidden, msg)
}

func Internal(msg string) *AppError {
	return New(http.StatusInternalServerError, msg)
}

// WriteJSON writes body as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError renders err as {success:false, message}. Anything that is not
// an *AppError is reported as a 500 without leaking its text.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = ErrInternalServer
	}
	WriteJSON(w, appErr.Code, map[string]any{
		"success": false,
		"message": appErr.Message,
	})
}
