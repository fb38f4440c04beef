// Package response 统一 HTTP 响应格式
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 响应体
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Success 200 成功响应
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "success", Data: data})
}

// Created 201 创建成功
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response{Code: 0, Message: "created", Data: data})
}

// ErrorWithStatus 指定状态码的错误响应，code 与 HTTP 状态码一致
func ErrorWithStatus(c *gin.Context, status int, message, detail string) {
	c.AbortWithStatusJSON(status, Response{Code: status, Message: message, Detail: detail})
}
