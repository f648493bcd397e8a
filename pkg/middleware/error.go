package middleware

import (
	"encoin-rewards/pkg/errutil"
	"encoin-rewards/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error attached with c.Error once the handler
// chain has run, unless a response was already written.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		status, body := errutil.ToHTTP(last.Err)
		if status >= 500 {
			logger.FromContext(c.Request.Context(),
				zap.String("path", c.FullPath()),
			).Error("request failed", zap.Error(last.Err))
		}

		c.AbortWithStatusJSON(status, body)
	}
}
