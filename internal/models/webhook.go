package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 投递处理状态常量
const (
	DeliveryStatusPending = "pending"
	DeliveryStatusSuccess = "success"
	DeliveryStatusFailed  = "failed"
)

// 事件类别常量（来自X-Gitea-Event头）
const (
	EventPush       = "push"
	EventCreate     = "create"
	EventDelete     = "delete"
	EventRepository = "repository"
	EventFork       = "fork"
)

// WebhookDelivery webhook投递记录
//
// 每收到一次HTTP投递记一行，记录原始载荷和处理结果，
// 用于排障和审计，不用于去重（同一投递重放会再记一行）。
// 只在仓库已在repo_data注册时写入（外键约束）。
type WebhookDelivery struct {
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// 外键到repo_data.gitea_id
	RepoID string `gorm:"size:255;not null;index" json:"repo_id"`

	// 事件元数据
	EventType string         `gorm:"size:50;not null;index" json:"event_type"`
	Payload   datatypes.JSON `gorm:"not null" json:"payload"`

	// 发送方分配的投递ID（X-Gitea-Delivery头）
	DeliveryID string `gorm:"size:255" json:"delivery_id"`

	// 投递追踪
	DeliveredAt      time.Time `gorm:"not null;index;autoCreateTime" json:"delivered_at"`
	ProcessingStatus string    `gorm:"size:20;not null;default:'pending'" json:"processing_status"`
	ErrorMessage     string    `gorm:"type:text" json:"error_message,omitempty"`

	// 关联
	Repo RepoData `gorm:"foreignKey:RepoID;references:GiteaID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定表名
func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}

// BeforeCreate 生成UUID主键
func (d *WebhookDelivery) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// PushEvent 推送事件记录
//
// 每次reconcile过的push记一行，只追加不修改，
// 是活动Feed接口的数据来源。
type PushEvent struct {
	ID     uint   `gorm:"primarykey" json:"id"`
	RepoID string `gorm:"size:255;not null;index" json:"repo_id"`

	// 推送人信息
	PusherUsername string `gorm:"size:255;not null" json:"pusher_username"`

	// Git元数据
	Ref         string `gorm:"size:255;not null" json:"ref"`
	BeforeSHA   string `gorm:"size:64;not null" json:"before_sha"`
	AfterSHA    string `gorm:"size:64;not null" json:"after_sha"`
	CommitCount int    `gorm:"not null;default:0" json:"commit_count"`

	PushedAt time.Time `gorm:"not null;index;autoCreateTime" json:"pushed_at"`

	// 关联
	Repo RepoData `gorm:"foreignKey:RepoID;references:GiteaID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定表名
func (PushEvent) TableName() string {
	return "push_events"
}

// RepositoryEvent 仓库生命周期事件记录
//
// event_type取值：branch_created, branch_deleted, tag_created, tag_deleted,
// repository_created, repository_deleted, repository_renamed
type RepositoryEvent struct {
	ID     uint   `gorm:"primarykey" json:"id"`
	RepoID string `gorm:"size:255;not null;index" json:"repo_id"`

	EventType     string `gorm:"size:50;not null" json:"event_type"`
	ActorUsername string `gorm:"size:255;not null" json:"actor_username"`

	OccurredAt time.Time `gorm:"not null;index;autoCreateTime" json:"occurred_at"`

	// 关联
	Repo RepoData `gorm:"foreignKey:RepoID;references:GiteaID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定表名
func (RepositoryEvent) TableName() string {
	return "repository_events"
}

// WebhookConfig webhook订阅配置
//
// 与repo_data一对一，保存Gitea侧的webhook ID和签名密钥。
// 仓库创建流程成功注册webhook后写入。
type WebhookConfig struct {
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// 外键到repo_data.gitea_id（唯一，一对一）
	RepoID string `gorm:"size:255;not null;uniqueIndex" json:"repo_id"`

	// Gitea侧webhook信息
	GiteaWebhookID int64  `gorm:"not null" json:"gitea_webhook_id"`
	WebhookSecret  string `gorm:"size:255;not null" json:"-"`

	// 状态追踪
	IsActive       bool       `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	LastDeliveryAt *time.Time `json:"last_delivery_at,omitempty"`

	// 关联
	Repo RepoData `gorm:"foreignKey:RepoID;references:GiteaID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定表名
func (WebhookConfig) TableName() string {
	return "webhook_configs"
}

// BeforeCreate 生成UUID主键
func (w *WebhookConfig) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return nil
}
