package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/marketchat/marketchat-server/internal/chat"
)

// Response is the uniform envelope for every REST reply.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries a user-facing failure description.
type ErrorBody struct {
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data})
}

func respondError(c *gin.Context, err error) {
	ce := chat.AsError(err)
	status := statusFor(ce.Code)
	if ce.Code == chat.CodeRateLimited && ce.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(ce.RetryAfter))
	}
	c.JSON(status, Response{
		Success: false,
		Error:   &ErrorBody{Message: ce.Message, RetryAfter: ce.RetryAfter},
	})
}

func unauthenticated(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, Response{
		Success: false,
		Error:   &ErrorBody{Message: "unauthorized"},
	})
}

func statusFor(code string) int {
	switch code {
	case chat.CodeValidation:
		return http.StatusBadRequest
	case chat.CodeAccessDenied:
		return http.StatusForbidden
	case chat.CodeNotFound:
		return http.StatusNotFound
	case chat.CodeConflict:
		return http.StatusConflict
	case chat.CodeRateLimited:
		return http.StatusTooManyRequests
	case chat.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
