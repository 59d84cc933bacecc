package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/chat-stream/internal/common"
)

// Recovery converts panics into the uniform error envelope. Panics inside an
// open SSE stream cannot be enveloped anymore; those connections just drop.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path))
				if !c.Writer.Written() {
					common.Fail(c, 500, 50000, "internal error")
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
