package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat-server/internal/auth"
)

const (
	// ContextKeyUserID is the context key for storing user ID.
	ContextKeyUserID = "user_id"
	// ContextKeyRole is the context key for storing the caller role claim.
	ContextKeyRole = "role"

	// HeaderUserID carries the caller identity when tokens are not required.
	HeaderUserID = "X-User-ID"
)

var errUnauthenticated = errors.New("authentication required")

// Authenticator resolves the caller of a request. Session management lives
// elsewhere; a bearer token is the identity when present.
type Authenticator struct {
	jwt      *auth.JWTConfig
	required bool
}

// NewAuthenticator builds an authenticator. A nil jwt config disables token
// validation; required demands a valid token on every request.
func NewAuthenticator(jwt *auth.JWTConfig, required bool) *Authenticator {
	return &Authenticator{jwt: jwt, required: required}
}

// Identify returns the caller identity. Once a secret is configured only a
// valid token identifies the caller. Without one, and with tokens not
// required, the X-User-ID header or userId query parameter is trusted; the
// returned identity may then be empty.
func (a *Authenticator) Identify(r *http.Request) (auth.Identity, error) {
	if a.jwt != nil {
		token := bearerToken(r)
		if token == "" {
			return auth.Identity{}, errUnauthenticated
		}
		return auth.ValidateToken(a.jwt, token)
	}
	if a.required {
		return auth.Identity{}, errUnauthenticated
	}

	id := r.Header.Get(HeaderUserID)
	if id == "" {
		id = r.URL.Query().Get("userId")
	}
	return auth.Identity{UserID: id}, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		// Extract token from "Bearer <token>"
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// AuthMiddleware rejects requests without a resolvable caller.
func AuthMiddleware(authn *Authenticator, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := authn.Identify(c.Request)
		if err != nil {
			logger.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("unauthenticated request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid or missing credentials"})
			return
		}
		if id.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing caller identity"})
			return
		}

		c.Set(ContextKeyUserID, id.UserID)
		c.Set(ContextKeyRole, id.Role)
		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Process request
		c.Next()

		// Log after request
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

func callerID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}
