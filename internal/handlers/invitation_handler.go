package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"soundhaus/internal/middleware"
	"soundhaus/internal/services"
	"soundhaus/pkg/logger"
	"soundhaus/pkg/response"
)

// InvitationHandler 协作者邀请接口
type InvitationHandler struct {
	service *services.InvitationService
	repos   *services.RepoService
	log     *logrus.Logger
}

// NewInvitationHandler 创建邀请处理器
func NewInvitationHandler(service *services.InvitationService, repos *services.RepoService) *InvitationHandler {
	return &InvitationHandler{service: service, repos: repos, log: logger.GetLogger()}
}

// CreateInvitationRequest 创建邀请请求
type CreateInvitationRequest struct {
	InviteeEmail string `json:"invitee_email" binding:"required,email"`
	Permission   string `json:"permission" binding:"omitempty,oneof=read write admin"`
}

// CreateInvitation 发出协作邀请，只有仓库拥有者可以
func (h *InvitationHandler) CreateInvitation(c *gin.Context) {
	repoID := c.Param("owner") + "/" + c.Param("name")

	repo, err := h.repos.GetRepo(repoID)
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	if repo.OwnerID != middleware.GetUserID(c) {
		response.Forbidden(c, "只有仓库拥有者可以邀请协作者")
		return
	}

	var req CreateInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	invitation, err := h.service.CreateInvitation(
		repoID,
		middleware.GetEmail(c),
		middleware.GetUsername(c),
		req.InviteeEmail,
		req.Permission,
	)
	if err != nil {
		response.Conflict(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "邀请已创建", invitation)
}

// ListRepoInvitations 某仓库发出的邀请列表
func (h *InvitationHandler) ListRepoInvitations(c *gin.Context) {
	repoID := c.Param("owner") + "/" + c.Param("name")

	repo, err := h.repos.GetRepo(repoID)
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	if repo.OwnerID != middleware.GetUserID(c) {
		response.Forbidden(c, "只有仓库拥有者可以查看邀请")
		return
	}

	invitations, err := h.service.ListForRepo(repoID)
	if err != nil {
		response.ServerError(c, "查询邀请失败")
		return
	}
	response.Success(c, invitations)
}

// ListMyInvitations 当前用户收到的待处理邀请
func (h *InvitationHandler) ListMyInvitations(c *gin.Context) {
	email := middleware.GetEmail(c)
	if email == "" {
		response.BadRequest(c, "当前令牌缺少邮箱信息")
		return
	}

	invitations, err := h.service.ListPendingForEmail(email)
	if err != nil {
		response.ServerError(c, "查询邀请失败")
		return
	}
	response.Success(c, invitations)
}

// AcceptInvitation 接受邀请
func (h *InvitationHandler) AcceptInvitation(c *gin.Context) {
	username := middleware.GetUsername(c)
	if username == "" {
		response.BadRequest(c, "当前令牌缺少用户名信息")
		return
	}

	invitation, err := h.service.AcceptInvitation(c.Param("token"), username)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "邀请已接受", invitation)
}

// DeclineInvitation 拒绝邀请
func (h *InvitationHandler) DeclineInvitation(c *gin.Context) {
	invitation, err := h.service.DeclineInvitation(c.Param("token"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "邀请已拒绝", invitation)
}

// RemoveCollaborator 移除协作者
func (h *InvitationHandler) RemoveCollaborator(c *gin.Context) {
	repoID := c.Param("owner") + "/" + c.Param("name")

	repo, err := h.repos.GetRepo(repoID)
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	if repo.OwnerID != middleware.GetUserID(c) {
		response.Forbidden(c, "只有仓库拥有者可以移除协作者")
		return
	}

	if err := h.service.RemoveCollaborator(repoID, c.Param("username")); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "协作者已移除", nil)
}
