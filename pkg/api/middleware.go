package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"PortfolioAgent/pkg/logger"
)

// HTTPMetrics HTTP 请求指标
type HTTPMetrics interface {
	ObserveHTTP(method, route, status string, d time.Duration)
}

// requestLogger 记录请求，5xx 记为错误，慢请求记为警告
func requestLogger(log *logger.Logger, slow time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("route", route),
			logger.Int("status", status),
			logger.Duration("duration", elapsed),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logger.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			log.Error("请求失败", fields...)
		case slow > 0 && elapsed >= slow:
			log.Warn("慢请求", fields...)
		default:
			log.Debug("请求完成", fields...)
		}
	}
}

// requestMetrics 按路由模板记录耗时，避免原始路径导致标签基数过高
func requestMetrics(m HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
