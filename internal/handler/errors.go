package handler

import (
	"errors"

	"oa-im/internal/service"
	"oa-im/pkg/logger"
	"oa-im/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError 把服务层错误分类映射为统一响应
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrConflict):
		response.Conflict(c, err.Error())
	case errors.Is(err, service.ErrInvalidOperation):
		response.InvalidOperation(c, err.Error())
	default:
		logger.Error("请求处理失败",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		response.InternalError(c, "服务器内部错误")
	}
}
