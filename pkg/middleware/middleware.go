// Package middleware 提供 Gin 通用中间件（日志、trace、panic recover、调用方身份、限流）
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wyfcoding/fxsettlement/pkg/logger"
)

// gin.Context 中使用的 key
const (
	RequestIDKey  = "request_id"
	UserIDKey     = "user_id"
	CredentialKey = "credential"
)

// 网关透传的请求头
const (
	HeaderUserID    = "X-User-ID"
	HeaderTraceID   = "X-Trace-ID"
	HeaderRequestID = "X-Request-ID"
)

// GinLoggingMiddleware 请求日志中间件，为每个请求生成 request_id 并注入 trace 信息
func GinLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)
		c.Header(HeaderRequestID, requestID)

		ctx := context.WithValue(c.Request.Context(), logger.TraceIDKey, traceID)
		ctx = context.WithValue(ctx, logger.SpanIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		logger.Info(c.Request.Context(), "HTTP request completed",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status_code", c.Writer.Status(),
			"client_ip", c.ClientIP(),
			"duration", time.Since(start),
		)
	}
}

// GinRecoveryMiddleware panic 恢复中间件
func GinRecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID, _ := c.Get(RequestIDKey)
				logger.Error(c.Request.Context(), "HTTP request panicked",
					"request_id", requestID,
					"panic", err,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":       "INTERNAL",
					"message":    "internal server error",
					"request_id": requestID,
				})
			}
		}()
		c.Next()
	}
}

// RequireIdentity 读取网关写入的调用方身份与凭证；身份缺失时拒绝请求。
// 凭证不做校验，原样透传给下游服务。
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHENTICATED",
				"message": "missing caller identity",
			})
			return
		}
		c.Set(UserIDKey, userID)
		c.Set(CredentialKey, c.GetHeader("Authorization"))
		c.Next()
	}
}

// UserID 返回当前调用方 ID
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// Credential 返回需透传的调用方凭证
func Credential(c *gin.Context) string {
	return c.GetString(CredentialKey)
}
