package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/marketchat/marketchat-server/internal/auth"
	"github.com/marketchat/marketchat-server/internal/chat"
	"github.com/marketchat/marketchat-server/internal/store"
)

const (
	// ContextKeyUserID is the context key for storing user ID.
	ContextKeyUserID = "user_id"
	// ContextKeyRole is the context key for storing the caller's role.
	ContextKeyRole = "role"
)

// AuthMiddleware creates a middleware that validates marketplace JWT tokens.
func AuthMiddleware(jwtCfg *auth.JWTConfig, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Debug().Msg("missing authorization header")
			c.JSON(http.StatusUnauthorized, Response{Success: false, Error: &ErrorBody{Message: "missing authorization header"}})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			logger.Debug().Msg("invalid authorization header format")
			c.JSON(http.StatusUnauthorized, Response{Success: false, Error: &ErrorBody{Message: "invalid authorization header format"}})
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(jwtCfg, parts[1])
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			c.JSON(http.StatusUnauthorized, Response{Success: false, Error: &ErrorBody{Message: "invalid token"}})
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyRole, claims.Role)

		c.Next()
	}
}

// AdminMiddleware guards operational endpoints with a static token. The
// endpoints are disabled entirely when no token is configured.
func AdminMiddleware(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminToken == "" {
			c.JSON(http.StatusNotFound, Response{Success: false, Error: &ErrorBody{Message: "not found"}})
			c.Abort()
			return
		}
		if c.GetHeader("X-Admin-Token") != adminToken {
			c.JSON(http.StatusForbidden, Response{Success: false, Error: &ErrorBody{Message: "forbidden"}})
			c.Abort()
			return
		}
		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

// identityFromContext rebuilds the authenticated identity the middleware stored.
func identityFromContext(c *gin.Context) (chat.Identity, bool) {
	userID, ok := c.Get(ContextKeyUserID)
	if !ok {
		return chat.Identity{}, false
	}
	role, ok := c.Get(ContextKeyRole)
	if !ok {
		return chat.Identity{}, false
	}

	uid, ok1 := userID.(string)
	r, ok2 := role.(string)
	if !ok1 || !ok2 {
		return chat.Identity{}, false
	}
	return chat.Identity{UserID: uid, Role: store.Role(r)}, true
}
