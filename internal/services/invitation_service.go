package services

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"soundhaus/internal/models"
	"soundhaus/pkg/logger"
)

// InvitationExpiry 邀请有效期
const InvitationExpiry = 7 * 24 * time.Hour

// InvitationService 协作者邀请服务
//
// 邀请按令牌接受，接受时把受邀人加为Gitea协作者。
type InvitationService struct {
	db    *gorm.DB
	gitea *GiteaService
	log   *logrus.Logger
}

// NewInvitationService 创建邀请服务
func NewInvitationService(db *gorm.DB, gitea *GiteaService) *InvitationService {
	return &InvitationService{db: db, gitea: gitea, log: logger.GetLogger()}
}

// generateInvitationToken 生成邀请令牌
func generateInvitationToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("生成邀请令牌失败: %v", err)
	}
	return hex.EncodeToString(buf), nil
}

// CreateInvitation 创建邀请
//
// 同一仓库+受邀邮箱同时只允许一条待处理邀请。
func (s *InvitationService) CreateInvitation(repoName, ownerEmail, ownerUsername, inviteeEmail, permission string) (*models.CollaboratorInvitation, error) {
	var existing int64
	s.db.Model(&models.CollaboratorInvitation{}).
		Where("repo_name = ? AND invitee_email = ? AND status = ?",
			repoName, inviteeEmail, models.InvitationStatusPending).
		Count(&existing)
	if existing > 0 {
		return nil, fmt.Errorf("该用户已有待处理的邀请")
	}

	token, err := generateInvitationToken()
	if err != nil {
		return nil, err
	}

	if permission == "" {
		permission = "write"
	}
	invitation := &models.CollaboratorInvitation{
		InvitationToken: token,
		RepoName:        repoName,
		OwnerEmail:      ownerEmail,
		OwnerUsername:   ownerUsername,
		InviteeEmail:    inviteeEmail,
		Permission:      permission,
		Status:          models.InvitationStatusPending,
		ExpiresAt:       time.Now().Add(InvitationExpiry),
	}
	if err := s.db.Create(invitation).Error; err != nil {
		return nil, fmt.Errorf("保存邀请失败: %v", err)
	}

	s.log.WithFields(logrus.Fields{
		"repo":    repoName,
		"invitee": inviteeEmail,
	}).Info("创建协作者邀请")
	return invitation, nil
}

// GetByToken 按令牌查邀请
func (s *InvitationService) GetByToken(token string) (*models.CollaboratorInvitation, error) {
	var invitation models.CollaboratorInvitation
	err := s.db.Where("invitation_token = ?", token).First(&invitation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("邀请不存在")
	}
	if err != nil {
		return nil, err
	}
	return &invitation, nil
}

// AcceptInvitation 接受邀请并加为Gitea协作者
//
// 过期的邀请在接受时就地标记为expired。
func (s *InvitationService) AcceptInvitation(token, inviteeUsername string) (*models.CollaboratorInvitation, error) {
	invitation, err := s.GetByToken(token)
	if err != nil {
		return nil, err
	}
	if invitation.Status != models.InvitationStatusPending {
		return nil, fmt.Errorf("邀请已处理: %s", invitation.Status)
	}
	if !invitation.IsValid() {
		invitation.MarkExpired()
		s.db.Save(invitation)
		return nil, fmt.Errorf("邀请已过期")
	}

	_, repoName, err := SplitRepoID(invitation.RepoName)
	if err != nil {
		return nil, err
	}
	if err := s.gitea.AddCollaborator(invitation.OwnerUsername, repoName, inviteeUsername, invitation.Permission); err != nil {
		return nil, fmt.Errorf("添加协作者失败: %v", err)
	}

	invitation.Accept()
	if err := s.db.Save(invitation).Error; err != nil {
		return nil, fmt.Errorf("更新邀请状态失败: %v", err)
	}

	s.log.WithFields(logrus.Fields{
		"repo":    invitation.RepoName,
		"invitee": inviteeUsername,
	}).Info("邀请已接受")
	return invitation, nil
}

// DeclineInvitation 拒绝邀请
func (s *InvitationService) DeclineInvitation(token string) (*models.CollaboratorInvitation, error) {
	invitation, err := s.GetByToken(token)
	if err != nil {
		return nil, err
	}
	if invitation.Status != models.InvitationStatusPending {
		return nil, fmt.Errorf("邀请已处理: %s", invitation.Status)
	}

	invitation.Decline()
	if err := s.db.Save(invitation).Error; err != nil {
		return nil, err
	}
	return invitation, nil
}

// ListPendingForEmail 某邮箱收到的待处理邀请
func (s *InvitationService) ListPendingForEmail(email string) ([]models.CollaboratorInvitation, error) {
	var invitations []models.CollaboratorInvitation
	err := s.db.Where("invitee_email = ? AND status = ? AND expires_at > ?",
		email, models.InvitationStatusPending, time.Now()).
		Order("created_at DESC").
		Find(&invitations).Error
	return invitations, err
}

// ListForRepo 某仓库发出的全部邀请
func (s *InvitationService) ListForRepo(repoName string) ([]models.CollaboratorInvitation, error) {
	var invitations []models.CollaboratorInvitation
	err := s.db.Where("repo_name = ?", repoName).
		Order("created_at DESC").
		Find(&invitations).Error
	return invitations, err
}

// RemoveCollaborator 移除协作者（Gitea侧）
func (s *InvitationService) RemoveCollaborator(repoName, username string) error {
	owner, name, err := SplitRepoID(repoName)
	if err != nil {
		return err
	}
	if err := s.gitea.RemoveCollaborator(owner, name, username); err != nil {
		return fmt.Errorf("移除协作者失败: %v", err)
	}
	return nil
}

// ExpireStaleInvitations 批量标记过期邀请，返回影响行数
func (s *InvitationService) ExpireStaleInvitations() (int64, error) {
	result := s.db.Model(&models.CollaboratorInvitation{}).
		Where("status = ? AND expires_at < ?", models.InvitationStatusPending, time.Now()).
		Update("status", models.InvitationStatusExpired)
	return result.RowsAffected, result.Error
}
