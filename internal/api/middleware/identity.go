package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"streampirex-radio/internal/identity"
)

const identityKey = "identity"

// ResolveIdentity attaches an identity to every request. A valid bearer
// token (header or "?token=", which the <audio> tag needs) yields the
// platform identity; everything else falls back to the ip-hash anonymous
// identity so public stations stay reachable without an account.
func ResolveIdentity(resolver identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenString string

		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}
		if tokenString == "" {
			tokenString = c.Query("token")
		}

		ident := identity.AnonymousFor(c.ClientIP())
		if tokenString != "" {
			if resolved := resolver.Resolve(tokenString); !resolved.Anonymous {
				ident = resolved
			}
		}

		c.Set(identityKey, ident)
		c.Next()
	}
}

// IdentityFrom reads the identity ResolveIdentity stored. Safe on any
// route behind the middleware.
func IdentityFrom(c *gin.Context) identity.Identity {
	if v, ok := c.Get(identityKey); ok {
		if ident, ok := v.(identity.Identity); ok {
			return ident
		}
	}
	return identity.AnonymousFor(c.ClientIP())
}
