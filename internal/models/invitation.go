package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 邀请状态常量
const (
	InvitationStatusPending  = "pending"
	InvitationStatusAccepted = "accepted"
	InvitationStatusDeclined = "declined"
	InvitationStatusExpired  = "expired"
)

// CollaboratorInvitation 协作者邀请
//
// 仓库拥有者邀请其他用户成为协作者，一个仓库+邮箱同时只允许
// 一条待处理邀请，7天后过期。
type CollaboratorInvitation struct {
	ID              string `gorm:"primaryKey;size:36" json:"id"`
	InvitationToken string `gorm:"size:100;not null;uniqueIndex" json:"invitation_token"`

	// 仓库与双方信息
	RepoName      string `gorm:"size:255;not null;index" json:"repo_name"` // owner/name
	OwnerEmail    string `gorm:"size:255;not null" json:"owner_email"`
	OwnerUsername string `gorm:"size:255;not null" json:"owner_username"`
	InviteeEmail  string `gorm:"size:255;not null;index" json:"invitee_email"`

	// 授予的权限（read/write/admin）
	Permission string `gorm:"size:20;not null;default:'write'" json:"permission"`

	Status      string     `gorm:"size:20;not null;default:'pending'" json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `gorm:"not null" json:"expires_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// TableName 指定表名
func (CollaboratorInvitation) TableName() string {
	return "collaborator_invitations"
}

// BeforeCreate 生成UUID主键
func (i *CollaboratorInvitation) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// IsValid 检查邀请是否有效
func (i *CollaboratorInvitation) IsValid() bool {
	return i.Status == InvitationStatusPending && time.Now().Before(i.ExpiresAt)
}

// Accept 接受邀请
func (i *CollaboratorInvitation) Accept() {
	now := time.Now()
	i.Status = InvitationStatusAccepted
	i.RespondedAt = &now
}

// Decline 拒绝邀请
func (i *CollaboratorInvitation) Decline() {
	now := time.Now()
	i.Status = InvitationStatusDeclined
	i.RespondedAt = &now
}

// MarkExpired 标记为过期
func (i *CollaboratorInvitation) MarkExpired() {
	i.Status = InvitationStatusExpired
}
