package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PersonalAccessToken 个人访问令牌
//
// 桌面端长期认证用。令牌只在创建时明文返回一次，库里只存
// bcrypt哈希；token_prefix留作展示和识别。
type PersonalAccessToken struct {
	ID     string `gorm:"primaryKey;size:36" json:"id"`
	UserID string `gorm:"size:255;not null;index" json:"user_id"` // Supabase用户UUID

	TokenName   string `gorm:"size:255;not null" json:"token_name"`
	TokenHash   string `gorm:"size:255;not null" json:"-"`
	TokenPrefix string `gorm:"size:20;not null" json:"token_prefix"`

	// 预留的权限范围（JSON字符串）
	Scopes string `gorm:"size:500" json:"scopes,omitempty"`

	LastUsed   *time.Time `json:"last_used,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"` // 空表示永不过期
	IsRevoked  bool       `gorm:"not null;default:false" json:"is_revoked"`
	UsageCount int        `gorm:"not null;default:0" json:"usage_count"`
}

// TableName 指定表名
func (PersonalAccessToken) TableName() string {
	return "personal_access_tokens"
}

// BeforeCreate 生成UUID主键
func (t *PersonalAccessToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// IsUsable 检查令牌当前是否可用
func (t *PersonalAccessToken) IsUsable() bool {
	if t.IsRevoked {
		return false
	}
	if t.ExpiresAt != nil && time.Now().After(*t.ExpiresAt) {
		return false
	}
	return true
}
