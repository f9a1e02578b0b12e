package errcodes

import (
	"fmt"
	"net/http"
)

// Error is an error that knows how it should be rendered over HTTP. Two Errors
// are equal under errors.Is when all of their fields match, so callers can
// compare against a freshly built NotFound("Book").
type Error struct {
	HTTPCode int
	Message  string
	Code     string
}

func (err *Error) Error() string {
	return err.Message
}

func (err *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.HTTPCode == err.HTTPCode &&
		te.Message == err.Message &&
		te.Code == err.Code
}

func newError(httpCode int, code, msg string) error {
	return &Error{HTTPCode: httpCode, Message: msg, Code: code}
}

// NotFound returns a 404 error naming the missing resource.
func NotFound(resource string) error {
	return newError(http.StatusNotFound, "not_found", resource+" not found.")
}

// Conflict returns a 409 error, e.g. when a sync pass is already running.
func Conflict(msg string) error {
	return newError(http.StatusConflict, "conflict", msg)
}

func UnsupportedMediaType() error {
	return newError(http.StatusUnsupportedMediaType, "unsupported_media_type", "Unsupported Media Type")
}

func UnknownParameter(param string) error {
	return newError(http.StatusUnprocessableEntity, "unknown_parameter", fmt.Sprintf("Unknown Parameter %q", param))
}

func ValidationTypeError(msg string) error {
	return newError(http.StatusUnprocessableEntity, "validation_type_error", msg)
}

func ValidationError(msg string) error {
	return newError(http.StatusUnprocessableEntity, "validation_error", msg)
}

func MalformedPayload() error {
	return newError(http.StatusBadRequest, "malformed_payload", "Malformed Payload")
}

func EmptyRequestBody() error {
	return newError(http.StatusBadRequest, "empty_request_body", "Request body can't be empty.")
}
