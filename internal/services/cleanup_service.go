package services

import (
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"soundhaus/pkg/config"
	"soundhaus/pkg/logger"
)

// CleanupService 定时清理服务
//
// 每小时跑一轮：标记过期邀请、清理超过保留期的webhook投递记录。
type CleanupService struct {
	cron          *cron.Cron
	invitations   *InvitationService
	webhooks      *WebhookService
	retentionDays int
	log           *logrus.Logger
}

// NewCleanupService 创建清理服务
func NewCleanupService(db *gorm.DB, invitations *InvitationService, webhooks *WebhookService) *CleanupService {
	cfg := config.GetConfig()
	return &CleanupService{
		cron:          cron.New(),
		invitations:   invitations,
		webhooks:      webhooks,
		retentionDays: cfg.Webhook.RetentionDays,
		log:           logger.GetLogger(),
	}
}

// Start 启动定时任务
func (s *CleanupService) Start() error {
	if _, err := s.cron.AddFunc("@hourly", s.runOnce); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("清理定时任务已启动")
	return nil
}

// Stop 停止定时任务
func (s *CleanupService) Stop() {
	s.cron.Stop()
}

// runOnce 执行一轮清理
func (s *CleanupService) runOnce() {
	if n, err := s.invitations.ExpireStaleInvitations(); err != nil {
		s.log.WithError(err).Error("标记过期邀请失败")
	} else if n > 0 {
		s.log.WithFields(logrus.Fields{"count": n}).Info("标记过期邀请")
	}

	if n, err := s.webhooks.PruneDeliveries(s.retentionDays); err != nil {
		s.log.WithError(err).Error("清理webhook投递记录失败")
	} else if n > 0 {
		s.log.WithFields(logrus.Fields{"count": n, "retention_days": s.retentionDays}).Info("清理webhook投递记录")
	}
}
