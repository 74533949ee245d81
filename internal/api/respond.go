package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"buildr/internal/store"
)

// OK 写出成功响应。data 中的键会并入顶层对象。
func OK(c *gin.Context, status int, message string, data gin.H) {
	body := gin.H{"success": true}
	if message != "" {
		body["message"] = message
	}
	for k, v := range data {
		body[k] = v
	}
	c.JSON(status, body)
}

// Fail 写出 {success:false, message} 响应。
func Fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

// FailErr 将存储层哨兵错误映射为 HTTP 状态码。
//
// message 是面向客户端的文案；内部错误细节只进日志。
func FailErr(c *gin.Context, logger *slog.Logger, err error, message string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	Fail(c, status, message)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrValidation),
		errors.Is(err, store.ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
