package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"soundhaus/internal/services"
	"soundhaus/pkg/logger"
	"soundhaus/pkg/response"
)

// WebhookHandler webhook接收与查询接口
type WebhookHandler struct {
	service *services.WebhookService
	log     *logrus.Logger
}

// NewWebhookHandler 创建webhook处理器
func NewWebhookHandler(service *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{service: service, log: logger.GetLogger()}
}

// HandleGiteaWebhook 接收Gitea webhook投递
//
// 机器对机器接口，不走统一返回格式：任何情况都回HTTP 200，
// 拒绝和处理结果放在响应体里，避免Gitea反复重试。
func (h *WebhookHandler) HandleGiteaWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "rejected", "reason": "unreadable_body"})
		return
	}

	sig := c.GetHeader(services.HeaderGiteaSignature)
	if !h.service.ValidateSignature(body, sig) {
		h.log.WithFields(logrus.Fields{
			"delivery_id": c.GetHeader(services.HeaderGiteaDelivery),
		}).Warn("webhook签名校验失败")
		c.JSON(http.StatusOK, gin.H{"status": "rejected", "reason": "invalid_signature"})
		return
	}

	event, err := services.ClassifyWebhook(c.Request.Header, body)
	if err != nil {
		reason := "invalid_payload"
		switch {
		case errors.Is(err, services.ErrInvalidJSON):
			reason = "invalid_json"
		case errors.Is(err, services.ErrMissingEventHeader):
			reason = "missing_event_header"
		}
		c.JSON(http.StatusOK, gin.H{"status": "rejected", "reason": reason})
		return
	}

	result := h.service.ProcessEvent(event, body)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "result": result})
}

// parseLimit 解析limit查询参数，非法值回退默认
func parseLimit(c *gin.Context, defaultLimit int) int {
	limitStr := c.DefaultQuery("limit", strconv.Itoa(defaultLimit))
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return defaultLimit
	}
	return limit
}

// activityItem 活动Feed条目，SHA截断为8位展示
type activityItem struct {
	Pusher      string `json:"pusher"`
	Ref         string `json:"ref"`
	BeforeSHA   string `json:"before_sha"`
	AfterSHA    string `json:"after_sha"`
	CommitCount int    `json:"commit_count"`
	PushedAt    string `json:"pushed_at"`
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

// GetRepoActivity 仓库推送活动Feed
func (h *WebhookHandler) GetRepoActivity(c *gin.Context) {
	repoID := c.Param("owner") + "/" + c.Param("name")
	limit := parseLimit(c, services.DefaultActivityLimit)

	events, err := h.service.GetRepoActivity(repoID, limit)
	if err != nil {
		response.ServerError(c, "查询活动失败")
		return
	}

	items := make([]activityItem, 0, len(events))
	for _, e := range events {
		items = append(items, activityItem{
			Pusher:      e.PusherUsername,
			Ref:         e.Ref,
			BeforeSHA:   shortSHA(e.BeforeSHA),
			AfterSHA:    shortSHA(e.AfterSHA),
			CommitCount: e.CommitCount,
			PushedAt:    e.PushedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	response.Success(c, gin.H{"repo": repoID, "activity": items})
}

// GetRepoEvents 仓库生命周期事件列表
func (h *WebhookHandler) GetRepoEvents(c *gin.Context) {
	repoID := c.Param("owner") + "/" + c.Param("name")
	limit := parseLimit(c, services.DefaultActivityLimit)

	events, err := h.service.GetRepoEvents(repoID, limit)
	if err != nil {
		response.ServerError(c, "查询事件失败")
		return
	}
	response.Success(c, gin.H{"repo": repoID, "events": events})
}

// ListDeliveries 投递账本查询（排障用，需要认证）
func (h *WebhookHandler) ListDeliveries(c *gin.Context) {
	repoID := c.Query("repo")
	eventType := c.Query("event_type")
	status := c.Query("status")
	limit := parseLimit(c, services.MaxDeliveryLimit)

	deliveries, err := h.service.ListDeliveries(repoID, eventType, status, limit)
	if err != nil {
		response.ServerError(c, "查询投递记录失败")
		return
	}
	response.Success(c, gin.H{"deliveries": deliveries, "count": len(deliveries)})
}
