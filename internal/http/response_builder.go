// Package http provides HTTP server and handler implementations.
//
// This file implements a small builder for JSON responses and the error
// envelope every API failure uses.

package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes carried in the error envelope.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeValidation      = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeConfirmRequired = "CONFIRMATION_REQUIRED"
	CodeInternal        = "INTERNAL_ERROR"
)

// APIError is the JSON body of every error response.
type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Fields  FieldErrors `json:"fields,omitempty"`
	Details any         `json:"details,omitempty"`
}

// ResponseBuilder provides a fluent API for building JSON responses.
type ResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewResponse creates a new response builder with default 200 status.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// JSON sets the value encoded as the response body.
func (b *ResponseBuilder) JSON(v any) *ResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response. A 204 or nil body writes no content.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}

	if b.body == nil || b.statusCode == http.StatusNoContent {
		w.WriteHeader(b.statusCode)
		return
	}

	data, err := json.Marshal(b.body)
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"INTERNAL_ERROR","message":"Failed to encode response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(data, '\n'))
}

// ErrorResponse creates a standard error response.
func ErrorResponse(statusCode int, code, message string) *ResponseBuilder {
	return NewResponse().
		Status(statusCode).
		JSON(APIError{Code: code, Message: message})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, CodeBadRequest, message)
}

// ValidationError creates a 422 response listing every invalid field.
func ValidationError(fields FieldErrors) *ResponseBuilder {
	return NewResponse().
		Status(http.StatusUnprocessableEntity).
		JSON(APIError{Code: CodeValidation, Message: "Invalid input", Fields: fields})
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusNotFound, CodeNotFound, message)
}

// ConfirmationRequired creates the 409 returned by an unconfirmed delete.
func ConfirmationRequired(details any) *ResponseBuilder {
	return NewResponse().
		Status(http.StatusConflict).
		JSON(APIError{
			Code:    CodeConfirmRequired,
			Message: "Repeat the request with confirm=true to delete",
			Details: details,
		})
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, CodeInternal, message)
}
