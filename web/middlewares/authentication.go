package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tablio.com/tablio/security"
	"tablio.com/tablio/web/common"
)

// Authentication validates the device session token on every request and
// stores its claims in the context.
func Authentication(base64Secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		claims, err := security.ParseDeviceToken(parts[1], base64Secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, common.NewErrorResponse("invalid or expired token"))
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}
