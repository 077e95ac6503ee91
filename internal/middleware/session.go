package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// HeaderSessionID carries the opaque session identifier on every
// authenticated call.
const HeaderSessionID = "X-Session-ID"

const sessionIDContextKey = "sessionID"

// Session identifiers are base64url; anything else is rejected before
// it reaches the gateway.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{16,128}$`)

// RequireSessionID extracts and shape-checks the session header. It
// makes no validity decision; expiry and existence are the gateway's
// call, after rate limiting.
func RequireSessionID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderSessionID)
		if !sessionIDPattern.MatchString(id) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed session id",
			})
			return
		}
		c.Set(sessionIDContextKey, id)
		c.Next()
	}
}

// SessionID returns the session identifier extracted by
// RequireSessionID, or empty when the middleware did not run.
func SessionID(c *gin.Context) string {
	return c.GetString(sessionIDContextKey)
}
