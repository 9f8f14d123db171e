// README: Auth middleware verifying bearer tokens and exposing the caller to handlers.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"zerowaste/internal/infra"
	"zerowaste/internal/types"
)

const (
	ctxKeyUID  = "auth.uid"
	ctxKeyRole = "auth.role"
)

// Auth rejects requests without a valid token. The token is read from the
// Authorization header, or from the "token" query parameter on websocket upgrades.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxKeyUID, token.UID)
		if role, ok := token.Claims["role"].(string); ok {
			c.Set(ctxKeyRole, role)
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h != "" {
		if !strings.HasPrefix(h, "Bearer ") {
			return ""
		}
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return c.Query("token")
	}
	return ""
}

// RoleLookup returns the role stored on a user's profile.
type RoleLookup interface {
	Role(ctx context.Context, uid types.ID) (types.Role, error)
}

// ResolveRole fills the caller role from the profile when the token carries none.
// Callers without a profile keep an empty role.
func ResolveRole(lookup RoleLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerRole(c) == "" {
			if role, err := lookup.Role(c.Request.Context(), types.ID(CallerUID(c))); err == nil {
				c.Set(ctxKeyRole, string(role))
			}
		}
		c.Next()
	}
}

// RequireRole aborts with 403 unless the caller has one of roles.
func RequireRole(roles ...types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		have := types.Role(CallerRole(c))
		for _, r := range roles {
			if have == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxKeyUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

// Caller is the acting user for service calls.
func Caller(c *gin.Context) types.Actor {
	return types.Actor{ID: types.ID(CallerUID(c)), Role: types.Role(CallerRole(c))}
}
