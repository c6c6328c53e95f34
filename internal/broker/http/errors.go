package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"spectralnotify/internal/broker/apperr"
)

// errorBody is the `{code, message, data?}` error envelope shape.
type errorBody struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
	Data    any         `json:"data,omitempty"`
}

// statusForCode maps a taxonomy code to its HTTP status.
func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidInput:
		return http.StatusBadRequest
	case apperr.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeTerminalState, apperr.CodeIdempotencyConflict:
		return http.StatusConflict
	case apperr.CodeDuplicatePhase, apperr.CodeDuplicateEntity:
		return http.StatusConflict
	case apperr.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeMappedError translates err into the error envelope and writes it.
// Returns the status written, so callers can decide whether the response is
// idempotency-cacheable (only INVALID_INPUT and NOT_FOUND are cached).
func writeMappedError(c *gin.Context, err error) int {
	code := apperr.CodeOf(err)
	status := statusForCode(code)
	c.JSON(status, errorBody{Code: code, Message: err.Error()})
	return status
}
