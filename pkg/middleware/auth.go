package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/jwtsession/internal/auth"
	"github.com/gogotex/jwtsession/internal/tokens"
	"github.com/gogotex/jwtsession/pkg/logger"
)

// Context keys set by AuthMiddleware.
const (
	ClaimsKey  = "claims"
	SubjectKey = "sub"
)

// AccessVerifier is the minimal interface the middleware depends on
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, raw string) (*tokens.AccessClaims, error)
}

// TokenSource extracts the inbound access token from a request.
type TokenSource interface {
	AccessToken(c *gin.Context) string
}

// AuthMiddleware protects business routes with an access token. Refresh tokens are
// rejected because they never verify as the access kind.
func AuthMiddleware(ver AccessVerifier, src TokenSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := src.AccessToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		claims, err := ver.VerifyAccess(c.Request.Context(), raw)
		switch {
		case err == nil:
		case errors.Is(err, tokens.ErrExpired):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			return
		case errors.Is(err, auth.ErrRevoked), tokens.CodeOf(err) != "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		default:
			logger.Error("access verification failed", "err", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Token verification unavailable"})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(SubjectKey, claims.Subject)
		c.Next()
	}
}

// Claims returns the access claims stored by AuthMiddleware, if any.
func Claims(c *gin.Context) (*tokens.AccessClaims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*tokens.AccessClaims)
	return claims, ok
}
