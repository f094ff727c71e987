package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"soundhaus/internal/middleware"
	"soundhaus/internal/services"
	"soundhaus/pkg/logger"
	"soundhaus/pkg/response"
)

// PATHandler 个人访问令牌接口
type PATHandler struct {
	service *services.PATService
	log     *logrus.Logger
}

// NewPATHandler 创建令牌处理器
func NewPATHandler(service *services.PATService) *PATHandler {
	return &PATHandler{service: service, log: logger.GetLogger()}
}

// CreateTokenRequest 创建令牌请求
type CreateTokenRequest struct {
	Name          string `json:"name" binding:"required,min=1,max=100"`
	ExpiresInDays int    `json:"expires_in_days" binding:"omitempty,min=1,max=365"`
}

// CreateToken 创建令牌，明文只在此响应返回一次
func (h *PATHandler) CreateToken(c *gin.Context) {
	var req CreateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	token, plaintext, err := h.service.CreateToken(middleware.GetUserID(c), req.Name, req.ExpiresInDays)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "令牌创建成功，请妥善保存，之后不会再显示", gin.H{
		"token":      plaintext,
		"token_info": token,
	})
}

// ListTokens 列出当前用户的令牌
func (h *PATHandler) ListTokens(c *gin.Context) {
	tokens, err := h.service.ListTokens(middleware.GetUserID(c))
	if err != nil {
		response.ServerError(c, "查询令牌失败")
		return
	}
	response.Success(c, tokens)
}

// RevokeToken 吊销令牌
func (h *PATHandler) RevokeToken(c *gin.Context) {
	if err := h.service.RevokeToken(middleware.GetUserID(c), c.Param("id")); err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "令牌已吊销", nil)
}
