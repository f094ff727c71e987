package services

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"soundhaus/internal/models"
	"soundhaus/pkg/config"
	"soundhaus/pkg/logger"
	"soundhaus/pkg/signature"
)

// 活动Feed与投递查询的上限
const (
	DefaultActivityLimit = 20
	MaxActivityLimit     = 50
	MaxDeliveryLimit     = 100
	MaxCommitSummaries   = 10
	MaxCommitMessageLen  = 120
)

// SubscribedEvents 注册webhook时订阅的事件类别
var SubscribedEvents = []string{
	models.EventPush,
	models.EventCreate,
	models.EventDelete,
	models.EventRepository,
	models.EventFork,
}

// WebhookService webhook投递账本与事件对账
type WebhookService struct {
	db      *gorm.DB
	log     *logrus.Logger
	secret  string
	baseURL string
}

// NewWebhookService 创建webhook服务
func NewWebhookService(db *gorm.DB) *WebhookService {
	cfg := config.GetConfig()
	return &WebhookService{
		db:      db,
		log:     logger.GetLogger(),
		secret:  cfg.Webhook.Secret,
		baseURL: cfg.Webhook.BaseURL,
	}
}

// ValidateSignature 校验X-Gitea-Signature头
func (s *WebhookService) ValidateSignature(payload []byte, signatureHeader string) bool {
	if s.secret == "" {
		s.log.Warn("未配置webhook密钥，拒绝所有投递")
		return false
	}
	return signature.Verify(payload, signatureHeader, s.secret)
}

// CommitSummary 活动Feed中的提交摘要
type CommitSummary struct {
	SHA     string `json:"sha"` // 截断为8位
	Message string `json:"message"`
	Author  string `json:"author"`
}

// ProcessResult 单次投递的对账结果
//
// 公共字段总是填充，其余按事件类别选填。
type ProcessResult struct {
	EventType    string `json:"event_type"`
	DeliveryID   string `json:"delivery_id,omitempty"`
	DBDeliveryID string `json:"db_delivery_id,omitempty"`
	Repo         string `json:"repo"`
	RepoTracked  bool   `json:"repo_tracked"`
	Status       string `json:"status"` // processed / ignored / failed
	Error        string `json:"error,omitempty"`
	Reason       string `json:"reason,omitempty"`

	// push
	Ref         string          `json:"ref,omitempty"`
	Pusher      string          `json:"pusher,omitempty"`
	CommitCount int             `json:"commit_count,omitempty"`
	Commits     []CommitSummary `json:"commits,omitempty"`

	// create / delete
	RefType string `json:"ref_type,omitempty"`
	Sender  string `json:"sender,omitempty"`

	// repository
	Action string `json:"action,omitempty"`

	// fork
	ForkedRepo string `json:"forked_repo,omitempty"`
	CloneCount int64  `json:"clone_count,omitempty"`
}

// ProcessEvent 对账一次webhook投递
//
// 账本写入与对账事务分开提交：pending行先落库，对账在单个
// 事务内执行，成败结论再以独立写入标记。对账失败不影响已
// 记下的账本行。未注册的仓库不落账本也不对账，直接确认。
func (s *WebhookService) ProcessEvent(event *WebhookEvent, rawBody []byte) *ProcessResult {
	result := &ProcessResult{
		EventType:   event.Category,
		DeliveryID:  event.DeliveryID,
		Repo:        event.RepoID,
		Status:      "processed",
		RepoTracked: s.repoTracked(event.RepoID),
	}

	if !result.RepoTracked {
		s.log.WithFields(logrus.Fields{
			"repo":  event.RepoID,
			"event": event.Category,
		}).Warn("收到未注册仓库的webhook投递，忽略")
		return result
	}

	// 账本行先提交，对账怎么失败都留痕
	delivery := &models.WebhookDelivery{
		RepoID:           event.RepoID,
		EventType:        event.Category,
		Payload:          datatypes.JSON(rawBody),
		DeliveryID:       event.DeliveryID,
		ProcessingStatus: models.DeliveryStatusPending,
	}
	if err := s.db.Create(delivery).Error; err != nil {
		s.log.WithError(err).Error("记录webhook投递失败")
		result.Status = "failed"
		result.Error = err.Error()
		return result
	}
	result.DBDeliveryID = delivery.ID

	err := s.db.Transaction(func(tx *gorm.DB) error {
		switch event.Category {
		case models.EventPush:
			return s.reconcilePush(tx, event, result)
		case models.EventCreate:
			return s.reconcileRefChange(tx, event.RepoID, event.Create, "created", result)
		case models.EventDelete:
			return s.reconcileRefChange(tx, event.RepoID, event.Delete, "deleted", result)
		case models.EventRepository:
			return s.reconcileRepository(tx, event, result)
		case models.EventFork:
			return s.reconcileFork(tx, event, result)
		default:
			result.Status = "ignored"
			result.Reason = fmt.Sprintf("unhandled event: %s", event.Category)
			return nil
		}
	})

	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"repo":  event.RepoID,
			"event": event.Category,
		}).Error("webhook事件对账失败")
		result.Status = "failed"
		result.Error = err.Error()
		s.markOutcome(delivery.ID, models.DeliveryStatusFailed, err.Error())
		return result
	}

	s.markOutcome(delivery.ID, models.DeliveryStatusSuccess, "")
	s.touchWebhookConfig(event.RepoID)
	return result
}

// repoTracked 仓库是否已在聚合表注册
func (s *WebhookService) repoTracked(repoID string) bool {
	var count int64
	s.db.Model(&models.RepoData{}).Where("gitea_id = ?", repoID).Count(&count)
	return count > 0
}

// markOutcome 独立提交的结论写入，账本行可能已被级联删除（仓库删除事件）
func (s *WebhookService) markOutcome(deliveryID, status, errMsg string) {
	updates := map[string]interface{}{"processing_status": status}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}
	if err := s.db.Model(&models.WebhookDelivery{}).
		Where("id = ?", deliveryID).
		Updates(updates).Error; err != nil {
		s.log.WithError(err).Warn("更新投递状态失败")
	}
}

// touchWebhookConfig 刷新订阅配置的最近投递时间，尽力而为
func (s *WebhookService) touchWebhookConfig(repoID string) {
	now := time.Now()
	s.db.Model(&models.WebhookConfig{}).
		Where("repo_id = ?", repoID).
		Update("last_delivery_at", now)
}

// reconcilePush 推送事件：追加推送记录，累加提交数并刷新时间戳
func (s *WebhookService) reconcilePush(tx *gorm.DB, event *WebhookEvent, result *ProcessResult) error {
	push := event.Push
	if push == nil {
		return fmt.Errorf("push事件缺少载荷")
	}

	commitCount := len(push.Commits)
	record := &models.PushEvent{
		RepoID:         event.RepoID,
		PusherUsername: push.Pusher.Name(),
		Ref:            push.Ref,
		BeforeSHA:      push.Before,
		AfterSHA:       push.After,
		CommitCount:    commitCount,
	}
	if err := tx.Create(record).Error; err != nil {
		return fmt.Errorf("记录推送事件失败: %v", err)
	}

	// 提交数用数据库侧表达式累加，并发投递不丢更新
	now := time.Now()
	if err := tx.Model(&models.RepoData{}).
		Where("gitea_id = ?", event.RepoID).
		Updates(map[string]interface{}{
			"total_commits":    gorm.Expr("total_commits + ?", commitCount),
			"last_push_at":     now,
			"last_activity_at": now,
		}).Error; err != nil {
		return fmt.Errorf("更新仓库聚合失败: %v", err)
	}

	result.Ref = push.Ref
	result.Pusher = push.Pusher.Name()
	result.CommitCount = commitCount
	result.Commits = summarizeCommits(push.Commits)
	return nil
}

// summarizeCommits 提交摘要：最多10条，SHA截8位，消息截120字符
func summarizeCommits(commits []PushCommit) []CommitSummary {
	n := len(commits)
	if n > MaxCommitSummaries {
		n = MaxCommitSummaries
	}
	summaries := make([]CommitSummary, 0, n)
	for _, c := range commits[:n] {
		sha := c.ID
		if len(sha) > 8 {
			sha = sha[:8]
		}
		msg := c.Message
		if len(msg) > MaxCommitMessageLen {
			msg = msg[:MaxCommitMessageLen]
		}
		summaries = append(summaries, CommitSummary{
			SHA:     sha,
			Message: msg,
			Author:  c.Author.Name,
		})
	}
	return summaries
}

// reconcileRefChange 分支/标签的创建与删除
//
// 创建刷新活动时间，删除只记历史不动聚合。
func (s *WebhookService) reconcileRefChange(tx *gorm.DB, repoID string, payload *RefPayload, verb string, result *ProcessResult) error {
	if payload == nil {
		return fmt.Errorf("%s事件缺少载荷", verb)
	}

	refType := payload.RefType
	if refType == "" {
		refType = "branch"
	}
	record := &models.RepositoryEvent{
		RepoID:        repoID,
		EventType:     fmt.Sprintf("%s_%s", refType, verb),
		ActorUsername: payload.Sender.Name(),
	}
	if err := tx.Create(record).Error; err != nil {
		return fmt.Errorf("记录仓库事件失败: %v", err)
	}

	if verb == "created" {
		if err := tx.Model(&models.RepoData{}).
			Where("gitea_id = ?", repoID).
			Update("last_activity_at", time.Now()).Error; err != nil {
			return fmt.Errorf("更新仓库聚合失败: %v", err)
		}
	}

	result.Ref = payload.Ref
	result.RefType = refType
	result.Sender = payload.Sender.Name()
	return nil
}

// reconcileRepository 仓库生命周期事件
//
// action为deleted时删掉聚合行，账本、推送记录、事件记录和
// 订阅配置靠外键级联一并清掉。
func (s *WebhookService) reconcileRepository(tx *gorm.DB, event *WebhookEvent, result *ProcessResult) error {
	payload := event.Repository
	if payload == nil {
		return fmt.Errorf("repository事件缺少载荷")
	}

	record := &models.RepositoryEvent{
		RepoID:        event.RepoID,
		EventType:     fmt.Sprintf("repository_%s", payload.Action),
		ActorUsername: payload.Sender.Name(),
	}
	if err := tx.Create(record).Error; err != nil {
		return fmt.Errorf("记录仓库事件失败: %v", err)
	}

	if payload.Action == "deleted" {
		if err := tx.Where("gitea_id = ?", event.RepoID).
			Delete(&models.RepoData{}).Error; err != nil {
			return fmt.Errorf("删除仓库聚合失败: %v", err)
		}
		s.log.WithFields(logrus.Fields{"repo": event.RepoID}).Info("仓库已删除，级联清理跟踪数据")
	}

	result.Action = payload.Action
	result.Sender = payload.Sender.Name()
	return nil
}

// reconcileFork 被fork：克隆数加一并刷新活动时间，不记历史
func (s *WebhookService) reconcileFork(tx *gorm.DB, event *WebhookEvent, result *ProcessResult) error {
	payload := event.Fork
	if payload == nil {
		return fmt.Errorf("fork事件缺少载荷")
	}

	if err := tx.Model(&models.RepoData{}).
		Where("gitea_id = ?", event.RepoID).
		Updates(map[string]interface{}{
			"clone_count":      gorm.Expr("clone_count + ?", 1),
			"last_activity_at": time.Now(),
		}).Error; err != nil {
		return fmt.Errorf("更新克隆数失败: %v", err)
	}

	if payload.Forkee != nil {
		result.ForkedRepo = payload.Forkee.FullName
	}
	result.Sender = payload.Sender.Name()
	return nil
}

// ========== Webhook注册 ==========

// RegistrationResult webhook注册结果
//
// Gitea侧注册成功但本地记录失败时success仍为true，
// 以warning字段提示。
type RegistrationResult struct {
	Success   bool     `json:"success"`
	WebhookID int64    `json:"webhook_id,omitempty"`
	URL       string   `json:"url,omitempty"`
	Events    []string `json:"events,omitempty"`
	Warning   string   `json:"warning,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// SetupWebhookForRepo 给仓库注册webhook并记录订阅配置
//
// 注册是仓库创建流程里的尽力而为步骤，失败不阻断创建。
func (s *WebhookService) SetupWebhookForRepo(gitea *GiteaService, owner, repoName string) *RegistrationResult {
	if s.baseURL == "" || s.secret == "" {
		s.log.Warn("未配置webhook回调地址或密钥，跳过注册")
		return &RegistrationResult{Success: false, Message: "webhook未配置，跳过注册"}
	}

	targetURL := s.baseURL + "/api/webhooks/gitea"
	webhookID, err := gitea.CreateWebhook(owner, repoName, targetURL, s.secret, SubscribedEvents)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"repo": owner + "/" + repoName,
		}).Warn("Gitea webhook注册失败")
		return &RegistrationResult{Success: false, Message: err.Error()}
	}

	result := &RegistrationResult{
		Success:   true,
		WebhookID: webhookID,
		URL:       targetURL,
		Events:    SubscribedEvents,
	}

	cfg := &models.WebhookConfig{
		RepoID:         owner + "/" + repoName,
		GiteaWebhookID: webhookID,
		WebhookSecret:  s.secret,
		IsActive:       true,
	}
	if err := s.db.Create(cfg).Error; err != nil {
		// Gitea侧已挂上，本地记录失败只警告
		s.log.WithError(err).Warn("保存webhook订阅配置失败")
		result.Warning = fmt.Sprintf("webhook已注册但本地记录失败: %v", err)
	}
	return result
}

// ========== 查询 ==========

// GetRepoActivity 仓库推送活动Feed，新到旧
func (s *WebhookService) GetRepoActivity(repoID string, limit int) ([]models.PushEvent, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		limit = MaxActivityLimit
	}
	var events []models.PushEvent
	err := s.db.Where("repo_id = ?", repoID).
		Order("pushed_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// GetRepoEvents 仓库生命周期事件，新到旧
func (s *WebhookService) GetRepoEvents(repoID string, limit int) ([]models.RepositoryEvent, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		limit = MaxActivityLimit
	}
	var events []models.RepositoryEvent
	err := s.db.Where("repo_id = ?", repoID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// ListDeliveries 投递账本查询，支持按仓库、事件类别、状态过滤
func (s *WebhookService) ListDeliveries(repoID, eventType, status string, limit int) ([]models.WebhookDelivery, error) {
	if limit <= 0 || limit > MaxDeliveryLimit {
		limit = MaxDeliveryLimit
	}
	query := s.db.Model(&models.WebhookDelivery{})
	if repoID != "" {
		query = query.Where("repo_id = ?", repoID)
	}
	if eventType != "" {
		query = query.Where("event_type = ?", eventType)
	}
	if status != "" {
		query = query.Where("processing_status = ?", status)
	}
	var deliveries []models.WebhookDelivery
	err := query.Order("delivered_at DESC").Limit(limit).Find(&deliveries).Error
	return deliveries, err
}

// PruneDeliveries 清理超过保留期的投递记录，返回删除行数
func (s *WebhookService) PruneDeliveries(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result := s.db.Where("delivered_at < ?", cutoff).
		Delete(&models.WebhookDelivery{})
	return result.RowsAffected, result.Error
}
