package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ClaimsKey is the gin context key holding the verified Claims.
const ClaimsKey = "claims"

// DeviceAuth enforces bearer JWT tokens signed with HS256.
func DeviceAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid token"})
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// TokenHandler exchanges the shared enrollment key for a device token.
func TokenHandler(enrollmentKey, signingKey, issuer string, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			DeviceID      string `json:"device_id" binding:"required"`
			EnrollmentKey string `json:"enrollment_key" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if enrollmentKey == "" || subtle.ConstantTimeCompare([]byte(req.EnrollmentKey), []byte(enrollmentKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "invalid enrollment key"})
			return
		}
		tok, err := Issue(req.DeviceID, issuer, signingKey, ttl, time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token": tok.AccessToken,
			"expires_at":   tok.ExpiresAt.Unix(),
		})
	}
}
