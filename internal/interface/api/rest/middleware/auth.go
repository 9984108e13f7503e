package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"asset-pipeline/internal/domain/quota"
	"asset-pipeline/internal/infrastructure/jwt"
)

const CtxOwner = "owner"

func AuthMiddleware(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				gin.H{"error": "missing Authorization header"},
			)
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				gin.H{"error": "invalid token format"},
			)
			return
		}

		claims, err := jwtService.ValidateToken(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				gin.H{"error": "invalid token"},
			)
			return
		}

		owner, err := claims.Owner()
		if err != nil {
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				gin.H{"error": "invalid token claims"},
			)
			return
		}

		c.Set(CtxOwner, owner)

		c.Next()
	}
}

// Owner returns the caller set by AuthMiddleware.
func Owner(c *gin.Context) (quota.Owner, bool) {
	v, ok := c.Get(CtxOwner)
	if !ok {
		return quota.Owner{}, false
	}
	owner, ok := v.(quota.Owner)
	return owner, ok
}
