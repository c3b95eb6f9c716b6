package middleware

import (
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strings"

	"feedsync/internal/logger"

	"github.com/gin-gonic/gin"
)

func Recovery(logger *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		if ne, ok := recovered.(*net.OpError); ok {
			if se, ok := ne.Err.(*os.SyscallError); ok {
				if strings.Contains(strings.ToLower(se.Error()), "broken pipe") ||
					strings.Contains(strings.ToLower(se.Error()), "connection reset by peer") {
					c.Abort()
					return
				}
			}
		}

		// the request dump is skipped: download URLs carry the feed secret
		if gin.IsDebugging() {
			logger.Error("[Recovery] panic recovered", "method", c.Request.Method, "path", c.Request.URL.Path, "panic", recovered, "stack", string(debug.Stack()))
		} else {
			logger.Error("[Recovery] panic recovered", "path", c.Request.URL.Path, "panic", recovered)
		}
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
