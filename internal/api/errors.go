package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Easycoder-lin/CHU-sub000/internal/engine"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

type ErrorCode string

const (
	ErrCodeInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeOrderNotFound    ErrorCode = "ORDER_NOT_FOUND"
	ErrCodeTradeNotFound    ErrorCode = "TRADE_NOT_FOUND"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"
	ErrCodeForbidden        ErrorCode = "FORBIDDEN"
	ErrCodeInternalError    ErrorCode = "INTERNAL_ERROR"
)

func AbortWithError(c *gin.Context, status int, code ErrorCode, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message, Code: string(code)})
}

func AbortWithErrorDetails(c *gin.Context, status int, code ErrorCode, message string, details map[string]string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message, Code: string(code), Details: details})
}

// respondEngineError maps a typed engine error onto an HTTP reply.
func respondEngineError(c *gin.Context, err error) {
	var (
		validation *engine.ValidationError
		notFound   *engine.NotFoundError
		invalid    *engine.InvalidStateError
	)

	switch {
	case errors.As(err, &validation):
		AbortWithErrorDetails(c, http.StatusBadRequest, ErrCodeValidationFailed, err.Error(),
			map[string]string{validation.Field: validation.Message})
	case errors.As(err, &notFound):
		code := ErrCodeOrderNotFound
		if notFound.Kind == "trade" {
			code = ErrCodeTradeNotFound
		}
		AbortWithError(c, http.StatusNotFound, code, err.Error())
	case errors.As(err, &invalid):
		AbortWithError(c, http.StatusConflict, ErrCodeInvalidState, err.Error())
	default:
		c.Error(err)
		AbortWithError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
	}
}

// Pagination slices list endpoints with ?limit=&offset=.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func paginationFrom(c *gin.Context) Pagination {
	p := Pagination{Limit: defaultPageSize}
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 {
		p.Limit = n
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	if n, err := strconv.Atoi(c.Query("offset")); err == nil && n > 0 {
		p.Offset = n
	}
	return p
}

// page returns the window of items selected by p and records the total.
func page[T any](items []T, p *Pagination) []T {
	p.Total = len(items)
	if p.Offset >= len(items) {
		return []T{}
	}
	end := p.Offset + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end]
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
