package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edgevec/edgevec"
)

// errorResponse is the wire shape of every failure: a short machine-readable
// kind and a human-readable message, nothing else.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func statusOf(kind edgevec.Kind) int {
	switch kind {
	case edgevec.KindInvalidArgument:
		return http.StatusBadRequest
	case edgevec.KindNotFound:
		return http.StatusNotFound
	case edgevec.KindConflict:
		return http.StatusConflict
	case edgevec.KindResourceExhausted:
		return http.StatusTooManyRequests
	case edgevec.KindTimeout:
		return http.StatusRequestTimeout
	case edgevec.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	kind := edgevec.KindOf(err)
	c.JSON(statusOf(kind), errorResponse{Code: string(kind), Message: err.Error()})
}

// writeBindError maps JSON decode failures: an oversized body yields 413,
// anything else 400.
func writeBindError(c *gin.Context, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{
			Code:    "payload_too_large",
			Message: "request body exceeds configured size limit",
		})
		return
	}
	c.JSON(http.StatusBadRequest, errorResponse{
		Code:    "invalid_argument",
		Message: "invalid JSON payload",
	})
}
