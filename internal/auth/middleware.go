package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const deviceIDKey = "device_id"

// DeviceAuth enforces bearer JWT access tokens signed with HS256 and
// stores the device id for handlers. Browsers opening a WebSocket cannot set
// headers, so an access_token query parameter is accepted as well.
func DeviceAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenStr string
		authz := c.GetHeader("Authorization")
		switch {
		case strings.HasPrefix(strings.ToLower(authz), "bearer "):
			tokenStr = strings.TrimSpace(authz[len("bearer "):])
		case authz == "" && c.Query("access_token") != "":
			tokenStr = c.Query("access_token")
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := ParseAccess(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(deviceIDKey, claims.Subject)
		c.Next()
	}
}

// DeviceID returns the authenticated device id, or "" outside DeviceAuth.
func DeviceID(c *gin.Context) string {
	return c.GetString(deviceIDKey)
}
