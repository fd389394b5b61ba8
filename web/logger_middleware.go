package web

import (
	"fmt"
	"time"

	"fundguard/logger"

	"github.com/gin-gonic/gin"
)

// GinLoggerMiddleware 自定义 Gin 日志中间件
// logAll=true 时全量输出；否则仅记录错误请求 (状态码 >= 400)
func GinLoggerMiddleware(logAll bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		statusCode := c.Writer.Status()
		if !logAll && statusCode < 400 {
			return
		}

		if raw != "" {
			path = path + "?" + raw
		}

		msg := fmt.Sprintf("[GIN] %d | %v | %s | %-7s %s",
			statusCode,
			time.Since(start),
			c.ClientIP(),
			c.Request.Method,
			path,
		)
		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			msg += " | Error: " + errorMessage
		}

		switch {
		case statusCode >= 500:
			logger.Error("%s", msg)
		case statusCode >= 400:
			logger.Warn("%s", msg)
		default:
			logger.Info("%s", msg)
		}
	}
}
