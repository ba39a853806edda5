package handler

import (
	"oa-im/internal/service"
	"oa-im/pkg/jwt"
	"oa-im/pkg/redis"
	"oa-im/pkg/response"

	"github.com/gin-gonic/gin"
)

// UserHandler 用户处理器（身份边界）
type UserHandler struct {
	service *service.UserService
}

// NewUserHandler 创建UserHandler实例
func NewUserHandler(s *service.UserService) *UserHandler {
	return &UserHandler{service: s}
}

// Register 注册
func (h *UserHandler) Register(c *gin.Context) {
	type req struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email"`
		Password string `json:"password" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, token, err := h.service.Register(r.Username, r.Email, r.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "注册成功", response.RegisterResponse{
		User:        response.FilterUserInfo(user),
		AccessToken: token,
	})
}

// Login 登录
func (h *UserHandler) Login(c *gin.Context) {
	type req struct {
		Identifier string `json:"identifier" binding:"required"`
		Password   string `json:"password" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, token, err := h.service.Login(r.Identifier, r.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "登录成功", response.LoginResponse{
		User:        response.FilterUserInfo(user),
		AccessToken: token,
	})
}

// GetProfile 获取当前用户资料
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID := jwt.GetUserIDUint(c)
	if userID == 0 {
		response.BadRequest(c, "invalid user ID")
		return
	}

	user, err := h.service.GetProfile(userID)
	if err != nil {
		respondError(c, err)
		return
	}

	info := response.FilterUserInfo(user)
	// Redis在线状态比数据库行更实时
	if online, err := redis.IsUserOnline(userID); err == nil && online {
		info.Status = "online"
	}

	response.Success(c, info)
}
