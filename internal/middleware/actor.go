package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/response"
)

// ContextActorKey is the gin context key storing actor claims.
const ContextActorKey = "currentActor"

// ActorClaims identifies who performs a write. Tokens are issued by the
// external auth service; this API only verifies and decodes them.
type ActorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Actor protects routes by requiring a valid access token.
func Actor(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims := &ActorClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, appErrors.Clone(appErrors.ErrUnauthorized, "unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token"))
			c.Abort()
			return
		}

		c.Set(ContextActorKey, claims)
		c.Next()
	}
}

// RequireRole allows only actors carrying one of the given roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ActorFromContext(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		for _, role := range roles {
			if claims.Role == role {
				c.Next()
				return
			}
		}
		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// ActorFromContext extracts actor claims set by Actor, or nil.
func ActorFromContext(c *gin.Context) *ActorClaims {
	value, ok := c.Get(ContextActorKey)
	if !ok {
		return nil
	}
	claims, ok := value.(*ActorClaims)
	if !ok {
		return nil
	}
	return claims
}
