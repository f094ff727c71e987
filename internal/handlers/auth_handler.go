package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"soundhaus/internal/services"
	"soundhaus/pkg/logger"
	"soundhaus/pkg/response"
)

// AuthHandler 认证接口
type AuthHandler struct {
	service *services.AuthService
	log     *logrus.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(service *services.AuthService) *AuthHandler {
	return &AuthHandler{service: service, log: logger.GetLogger()}
}

// SignUpRequest 注册请求
type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Username string `json:"username" binding:"required,min=2,max=40,alphanum"`
}

// SignUp 注册
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	session, err := h.service.SignUp(req.Email, req.Password, req.Username)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "注册成功", session)
}

// SignInRequest 登录请求
type SignInRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// SignIn 登录
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	session, err := h.service.SignIn(req.Email, req.Password)
	if err != nil {
		response.Unauthorized(c, "邮箱或密码错误")
		return
	}
	response.Success(c, session)
}

// bearerToken 从请求头提取Bearer令牌
func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

// SignOut 注销
func (h *AuthHandler) SignOut(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		response.Unauthorized(c, "缺少认证令牌")
		return
	}
	if err := h.service.SignOut(token); err != nil {
		h.log.WithError(err).Warn("注销失败")
	}
	response.SuccessWithMessage(c, "已注销", nil)
}

// RefreshRequest 刷新令牌请求
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh 刷新会话
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	session, err := h.service.RefreshSession(req.RefreshToken)
	if err != nil {
		response.Unauthorized(c, "刷新令牌无效")
		return
	}
	response.Success(c, session)
}

// Me 查当前用户信息
func (h *AuthHandler) Me(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		response.Unauthorized(c, "缺少认证令牌")
		return
	}
	user, err := h.service.GetUser(token)
	if err != nil {
		response.Unauthorized(c, "令牌无效或已过期")
		return
	}
	response.Success(c, user)
}
