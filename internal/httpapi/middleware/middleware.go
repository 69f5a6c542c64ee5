package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mouseland/aistudio/internal/auth"
	"github.com/mouseland/aistudio/internal/common"
	"github.com/mouseland/aistudio/internal/identity"
)

const (
	UserIDKey   = "user_id"
	IdentityKey = "identity"

	// GuestIDHeader carries the client-minted guest pseudo-id. The API
	// echoes it back so clients can persist the key locally.
	GuestIDHeader = "X-Guest-ID"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set("request_id", rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("panic recovered: %v", r)
				common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
				c.Abort()
			}
		}()
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AuthRequired rejects requests without a valid member token.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			c.Abort()
			return
		}
		claims, err := auth.ParseJWT(token, secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			c.Abort()
			return
		}
		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// Identify resolves every caller to an identity: a valid bearer token
// yields member or admin, anything else a guest keyed by X-Guest-ID.
// Resolution happens per request; nothing is cached across calls, so a
// revoked or expired token loses its tier on the next request.
func Identify(resolver *identity.Resolver, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ident identity.Identity
		if token := bearerToken(c); token != "" {
			if claims, err := auth.ParseJWT(token, secret); err == nil {
				ident = resolver.FromClaims(claims)
				c.Set(UserIDKey, claims.UserID)
			} else {
				common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
				c.Abort()
				return
			}
		} else {
			ident = resolver.Guest(c.GetHeader(GuestIDHeader))
			c.Writer.Header().Set(GuestIDHeader, ident.Key)
		}
		c.Set(IdentityKey, ident)
		c.Next()
	}
}

func IdentityFromContext(c *gin.Context) (identity.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return identity.Identity{}, false
	}
	ident, ok := v.(identity.Identity)
	return ident, ok
}
