package handlers

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"soundhaus/internal/middleware"
	"soundhaus/internal/services"
	"soundhaus/pkg/logger"
	"soundhaus/pkg/pagination"
	"soundhaus/pkg/response"
)

// RepoHandler 仓库管理接口
type RepoHandler struct {
	service *services.RepoService
	gitea   *services.GiteaService
	log     *logrus.Logger
}

// NewRepoHandler 创建仓库处理器
func NewRepoHandler(service *services.RepoService, gitea *services.GiteaService) *RepoHandler {
	return &RepoHandler{service: service, gitea: gitea, log: logger.GetLogger()}
}

// CreateRepoRequest 创建仓库请求
type CreateRepoRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=100,reponame"`
	Description string `json:"description" binding:"max=500"`
	Private     bool   `json:"private"`
	GenreIDs    []uint `json:"genre_ids"`
}

// CreateRepo 创建仓库
func (h *RepoHandler) CreateRepo(c *gin.Context) {
	var req CreateRepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	username := middleware.GetUsername(c)
	if username == "" {
		response.BadRequest(c, "当前令牌缺少用户名信息")
		return
	}

	detail, err := h.service.CreateRepo(middleware.GetUserID(c), username, req.Name, req.Description, req.Private, req.GenreIDs)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "仓库创建成功", detail)
}

// GetRepo 查仓库聚合数据
func (h *RepoHandler) GetRepo(c *gin.Context) {
	repoID := c.Param("owner") + "/" + c.Param("name")
	repo, err := h.service.GetRepo(repoID)
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.Success(c, repo)
}

// ListMyRepos 列出当前用户的仓库
func (h *RepoHandler) ListMyRepos(c *gin.Context) {
	params := pagination.ParsePageParams(c)
	repos, total, err := h.service.ListUserRepos(middleware.GetUserID(c), params)
	if err != nil {
		response.ServerError(c, "查询仓库失败")
		return
	}
	response.SuccessWithPage(c, repos, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// parseGenreIDs 解析逗号分隔的曲风ID
func parseGenreIDs(raw string) []uint {
	if raw == "" {
		return nil
	}
	var ids []uint
	for _, part := range strings.Split(raw, ",") {
		if id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32); err == nil {
			ids = append(ids, uint(id))
		}
	}
	return ids
}

// DiscoverRepos 公开仓库发现列表，支持按曲风过滤
func (h *RepoHandler) DiscoverRepos(c *gin.Context) {
	params := pagination.ParsePageParams(c)
	genreIDs := parseGenreIDs(c.Query("genres"))

	repos, total, err := h.service.ListPublicRepos(genreIDs, params)
	if err != nil {
		response.ServerError(c, "查询仓库失败")
		return
	}
	response.SuccessWithPage(c, repos, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// UpdateRepoRequest 更新仓库请求，空字段不变更
type UpdateRepoRequest struct {
	Description *string `json:"description"`
	Private     *bool   `json:"private"`
	GenreIDs    []uint  `json:"genre_ids"`
}

// requireOwnership 校验当前用户拥有该仓库
func (h *RepoHandler) requireOwnership(c *gin.Context, repoID string) bool {
	repo, err := h.service.GetRepo(repoID)
	if err != nil {
		response.NotFound(c, err.Error())
		return false
	}
	if repo.OwnerID != middleware.GetUserID(c) {
		response.Forbidden(c, "只有仓库拥有者可以执行此操作")
		return false
	}
	return true
}

// UpdateRepo 更新仓库设置
func (h *RepoHandler) UpdateRepo(c *gin.Context) {
	repoID := c.Param("owner") + "/" + c.Param("name")
	if !h.requireOwnership(c, repoID) {
		return
	}

	var req UpdateRepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	repo, err := h.service.UpdateRepo(repoID, req.Description, req.Private, req.GenreIDs)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "仓库更新成功", repo)
}

// DeleteRepo 删除仓库
func (h *RepoHandler) DeleteRepo(c *gin.Context) {
	repoID := c.Param("owner") + "/" + c.Param("name")
	if !h.requireOwnership(c, repoID) {
		return
	}

	if err := h.service.DeleteRepo(repoID); err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.SuccessWithMessage(c, "仓库删除成功", nil)
}

// RecordClone 记录克隆事件
func (h *RepoHandler) RecordClone(c *gin.Context) {
	repoID := c.Param("owner") + "/" + c.Param("name")
	counted, err := h.service.RecordClone(repoID, middleware.GetUserID(c))
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.Success(c, gin.H{"repo": repoID, "counted": counted})
}

// ListGenres 曲风主列表
func (h *RepoHandler) ListGenres(c *gin.Context) {
	genres, err := h.service.ListGenres()
	if err != nil {
		response.ServerError(c, "查询曲风失败")
		return
	}
	response.Success(c, genres)
}

// ========== 仓库内容代理 ==========

// decodeBase64 解码base64内容
func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// ListContents 列出仓库路径内容（代理Gitea）
func (h *RepoHandler) ListContents(c *gin.Context) {
	owner := c.Param("owner")
	name := c.Param("name")
	path := strings.TrimPrefix(c.Param("path"), "/")
	ref := c.Query("ref")

	contents, err := h.gitea.ListContents(owner, name, path, ref)
	if err != nil {
		response.NotFound(c, "读取内容失败: "+err.Error())
		return
	}
	response.Success(c, contents)
}

// UploadFileRequest 上传文件请求，内容为base64
type UploadFileRequest struct {
	Content string `json:"content" binding:"required"`
	Message string `json:"message" binding:"max=500"`
}

// UploadFile 上传文件到仓库
func (h *RepoHandler) UploadFile(c *gin.Context) {
	repoID := c.Param("owner") + "/" + c.Param("name")
	if !h.requireOwnership(c, repoID) {
		return
	}

	var req UploadFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	content, err := decodeBase64(req.Content)
	if err != nil {
		response.BadRequest(c, "content必须是base64编码")
		return
	}

	message := req.Message
	if message == "" {
		message = "Upload file via soundhaus"
	}

	path := strings.TrimPrefix(c.Param("path"), "/")
	if err := h.gitea.UploadFile(c.Param("owner"), c.Param("name"), path, content, message); err != nil {
		response.ServerError(c, "上传文件失败: "+err.Error())
		return
	}
	response.SuccessWithMessage(c, "文件上传成功", gin.H{"path": path})
}

// DeleteFileRequest 删除文件请求
type DeleteFileRequest struct {
	SHA     string `json:"sha" binding:"required"`
	Message string `json:"message" binding:"max=500"`
}

// DeleteFile 从仓库删除文件
func (h *RepoHandler) DeleteFile(c *gin.Context) {
	repoID := c.Param("owner") + "/" + c.Param("name")
	if !h.requireOwnership(c, repoID) {
		return
	}

	var req DeleteFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	message := req.Message
	if message == "" {
		message = "Delete file via soundhaus"
	}

	path := strings.TrimPrefix(c.Param("path"), "/")
	if err := h.gitea.DeleteFile(c.Param("owner"), c.Param("name"), path, req.SHA, message); err != nil {
		response.ServerError(c, "删除文件失败: "+err.Error())
		return
	}
	response.SuccessWithMessage(c, "文件删除成功", gin.H{"path": path})
}
