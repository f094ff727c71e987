package database

import (
	"soundhaus/internal/models"
	"soundhaus/pkg/logger"
)

// Migrate 执行数据库迁移
func Migrate() error {
	appLogger := logger.GetLogger()
	appLogger.Info("Starting database migration...")

	err := DB.AutoMigrate(
		// 仓库聚合数据
		&models.RepoData{},
		&models.CloneEvent{},
		// webhook子系统
		&models.WebhookDelivery{},
		&models.PushEvent{},
		&models.RepositoryEvent{},
		&models.WebhookConfig{},
		// 协作邀请
		&models.CollaboratorInvitation{},
		// 个人访问令牌
		&models.PersonalAccessToken{},
		// 曲风
		&models.Genre{},
	)

	if err != nil {
		appLogger.Errorf("Database migration failed: %v", err)
		return err
	}

	appLogger.Info("Database migration completed successfully")
	return nil
}
