package models

import (
	"time"
)

// RepoData 仓库聚合数据模型
//
// 每个仓库一行，主键是Gitea侧的唯一标识 owner/name。
// webhook投递并发更新的只有这一行，所有修改都是可交换的
// 累加或独立字段写入，依赖数据库行级写隔离即可。
type RepoData struct {
	// 仓库唯一标识（owner/repo-name）
	GiteaID string `gorm:"primaryKey;size:255" json:"gitea_id"`

	// 仓库拥有者的Supabase UUID
	OwnerID string `gorm:"size:255;not null;index" json:"owner_id"`

	// 统计数据
	CloneCount   int `gorm:"not null;default:0" json:"clone_count"`
	TotalCommits int `gorm:"not null;default:0" json:"total_commits"`

	// 活动时间（webhook事件到达时以接收时间更新）
	LastPushAt     *time.Time `json:"last_push_at,omitempty"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`

	// 时间戳
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 关联
	Genres []Genre `gorm:"many2many:repo_genres;foreignKey:GiteaID;joinForeignKey:RepoID;references:GenreID;joinReferences:GenreID" json:"genres,omitempty"`
}

// TableName 指定表名
func (RepoData) TableName() string {
	return "repo_data"
}

// CloneEvent 克隆事件模型
//
// 每个用户对同一仓库只记一次（唯一约束），clone_count按首次记录累加。
type CloneEvent struct {
	ID     uint   `gorm:"primarykey" json:"id"`
	RepoID string `gorm:"size:255;not null;index;uniqueIndex:idx_clone_repo_user" json:"repo_id"`
	UserID string `gorm:"size:255;not null;index;uniqueIndex:idx_clone_repo_user" json:"user_id"`

	ClonedAt time.Time `gorm:"not null;autoCreateTime" json:"cloned_at"`

	// 关联
	Repo RepoData `gorm:"foreignKey:RepoID;references:GiteaID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定表名
func (CloneEvent) TableName() string {
	return "clone_events"
}
