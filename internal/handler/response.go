package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hedgeguard/internal/hedge"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// DomainError writes an engine error with its natural HTTP status: policy and
// input problems are the caller's fault, state conflicts mean the hedge moved
// on, and anything else is a settlement-side failure.
func DomainError(c *gin.Context, err error) {
	Error(c, statusForHedgeError(err), err.Error(), nil)
}

func statusForHedgeError(err error) int {
	var validation *hedge.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest
	}
	var state *hedge.InvalidStateError
	if errors.As(err, &state) {
		return http.StatusConflict
	}
	return http.StatusBadGateway
}
