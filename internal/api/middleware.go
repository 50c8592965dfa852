package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	statusWarnThreshold  = 400
	statusErrorThreshold = 500
)

// userIDHeader identifies the caller; the account collaborators key on
// it. Absent header means the anonymous user.
const userIDHeader = "X-User-ID"

func userID(c *gin.Context) string {
	if id := c.GetHeader(userIDHeader); id != "" {
		return id
	}
	return "anonymous"
}

// ZerologLogger is a Gin middleware that logs requests using zerolog.
func ZerologLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		method := c.Request.Method
		clientIP := c.ClientIP()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		evt := log.Info()
		switch {
		case status >= statusErrorThreshold:
			evt = log.Error()
		case status >= statusWarnThreshold:
			evt = log.Warn()
		}

		if raw != "" {
			path = path + "?" + raw
		}

		evt.
			Int("status", status).
			Str("method", method).
			Str("path", path).
			Dur("latency", latency).
			Str("client_ip", clientIP).
			Msg("http request completed")
	}
}

// AccessChecker is the narrow tool-access collaborator consumed by the
// route layer.
type AccessChecker interface {
	HasAccess(userID, tool string) bool
}

// RequireTool gates a submission route on the tool-access checker.
func RequireTool(checker AccessChecker, tool string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker != nil && !checker.HasAccess(userID(c), tool) {
			log.Warn().Str("user_id", userID(c)).Str("tool", tool).Msg("tool access denied")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "tool access denied"})
			return
		}
		c.Next()
	}
}
