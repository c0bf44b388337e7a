package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderUserID carries the caller's identity, set by the gateway in front of
// this service.
const HeaderUserID = "X-User-ID"

// CtxUserID is the gin.Context key set by ActorMiddleware.
const CtxUserID = "userID"

// ──────────────────────────────────────────────────────────────────────────────
// ActorMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// ActorMiddleware requires a valid UUID in the X-User-ID header and stores it
// in the gin context. Requests without one get 401.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderUserID)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "missing " + HeaderUserID + " header",
				"code":    "ERR_UNAUTHORIZED",
			})
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil || userID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "invalid " + HeaderUserID + " header",
				"code":    "ERR_UNAUTHORIZED",
			})
			return
		}
		c.Set(CtxUserID, userID)
		c.Next()
	}
}

// GetUserID retrieves the caller's UUID from the gin context.
// Returns uuid.Nil if the middleware was not applied or the value is missing.
func GetUserID(c *gin.Context) uuid.UUID {
	v, exists := c.Get(CtxUserID)
	if !exists {
		return uuid.Nil
	}
	id, _ := v.(uuid.UUID)
	return id
}
