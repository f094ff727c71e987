package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"soundhaus/internal/models"
	"soundhaus/pkg/logger"
	"soundhaus/pkg/pagination"
)

// RepoService 仓库管理服务
//
// 编排Gitea仓库操作与本地聚合数据，仓库创建时顺带注册webhook。
type RepoService struct {
	db      *gorm.DB
	gitea   *GiteaService
	webhook *WebhookService
	log     *logrus.Logger
}

// NewRepoService 创建仓库服务
func NewRepoService(db *gorm.DB, gitea *GiteaService, webhook *WebhookService) *RepoService {
	return &RepoService{
		db:      db,
		gitea:   gitea,
		webhook: webhook,
		log:     logger.GetLogger(),
	}
}

// RepoDetail 仓库详情（Gitea信息+本地聚合）
type RepoDetail struct {
	GiteaID  string       `json:"gitea_id"`
	Name     string       `json:"name"`
	Owner    string       `json:"owner"`
	CloneURL string       `json:"clone_url,omitempty"`
	HTMLURL  string       `json:"html_url,omitempty"`
	Private  bool         `json:"private"`
	Stats    *models.RepoData `json:"stats,omitempty"`
	Webhook  *RegistrationResult `json:"webhook,omitempty"`
}

// CreateRepo 创建仓库
//
// Gitea侧建仓、本地落聚合行、挂曲风、注册webhook。
// webhook注册失败不阻断，结果里带出来。
func (s *RepoService) CreateRepo(ownerID, ownerUsername, name, description string, private bool, genreIDs []uint) (*RepoDetail, error) {
	giteaRepo, err := s.gitea.CreateRepo(ownerUsername, name, description, private)
	if err != nil {
		return nil, fmt.Errorf("创建Gitea仓库失败: %v", err)
	}

	repoID := giteaRepo.FullName
	if repoID == "" {
		repoID = ownerUsername + "/" + name
	}

	repo := &models.RepoData{
		GiteaID: repoID,
		OwnerID: ownerID,
	}
	if err := s.db.Create(repo).Error; err != nil {
		return nil, fmt.Errorf("记录仓库数据失败: %v", err)
	}

	if len(genreIDs) > 0 {
		if err := s.attachGenres(repo, genreIDs); err != nil {
			s.log.WithError(err).Warn("挂载曲风失败")
		}
	}

	registration := s.webhook.SetupWebhookForRepo(s.gitea, ownerUsername, giteaRepo.Name)

	s.log.WithFields(logrus.Fields{"repo": repoID, "owner": ownerID}).Info("仓库创建成功")
	return &RepoDetail{
		GiteaID:  repoID,
		Name:     giteaRepo.Name,
		Owner:    ownerUsername,
		CloneURL: giteaRepo.CloneURL,
		HTMLURL:  giteaRepo.HTMLURL,
		Private:  giteaRepo.Private,
		Stats:    repo,
		Webhook:  registration,
	}, nil
}

// attachGenres 替换仓库的曲风关联
func (s *RepoService) attachGenres(repo *models.RepoData, genreIDs []uint) error {
	var genres []models.Genre
	if err := s.db.Where("genre_id IN ?", genreIDs).Find(&genres).Error; err != nil {
		return err
	}
	return s.db.Model(repo).Association("Genres").Replace(genres)
}

// GetRepo 查单个仓库聚合数据（带曲风）
func (s *RepoService) GetRepo(repoID string) (*models.RepoData, error) {
	var repo models.RepoData
	err := s.db.Preload("Genres").Where("gitea_id = ?", repoID).First(&repo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("仓库不存在: %s", repoID)
	}
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// ListUserRepos 列出用户拥有的仓库
func (s *RepoService) ListUserRepos(ownerID string, params *pagination.PageParams) ([]models.RepoData, int64, error) {
	query := s.db.Model(&models.RepoData{}).Where("owner_id = ?", ownerID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var repos []models.RepoData
	err := query.Preload("Genres").
		Order("last_activity_at DESC NULLS LAST").
		Offset(params.GetOffset()).
		Limit(params.GetLimit()).
		Find(&repos).Error
	return repos, total, err
}

// ListPublicRepos 公开仓库发现列表，支持按曲风过滤
func (s *RepoService) ListPublicRepos(genreIDs []uint, params *pagination.PageParams) ([]models.RepoData, int64, error) {
	query := s.db.Model(&models.RepoData{})
	if len(genreIDs) > 0 {
		sub := s.db.Table("repo_genres").
			Select("repo_id").
			Where("genre_id IN ?", genreIDs)
		query = query.Where("gitea_id IN (?)", sub)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var repos []models.RepoData
	err := query.Preload("Genres").
		Order("last_activity_at DESC NULLS LAST").
		Offset(params.GetOffset()).
		Limit(params.GetLimit()).
		Find(&repos).Error
	return repos, total, err
}

// UpdateRepo 更新仓库设置（Gitea侧）和曲风（本地）
func (s *RepoService) UpdateRepo(repoID string, description *string, private *bool, genreIDs []uint) (*models.RepoData, error) {
	owner, name, err := SplitRepoID(repoID)
	if err != nil {
		return nil, err
	}

	if description != nil || private != nil {
		if _, err := s.gitea.UpdateRepoSettings(owner, name, description, private); err != nil {
			return nil, fmt.Errorf("更新Gitea仓库设置失败: %v", err)
		}
	}

	repo, err := s.GetRepo(repoID)
	if err != nil {
		return nil, err
	}
	if genreIDs != nil {
		if err := s.attachGenres(repo, genreIDs); err != nil {
			return nil, fmt.Errorf("更新曲风失败: %v", err)
		}
	}
	return s.GetRepo(repoID)
}

// DeleteRepo 删除仓库，Gitea侧删除后本地级联清理
func (s *RepoService) DeleteRepo(repoID string) error {
	owner, name, err := SplitRepoID(repoID)
	if err != nil {
		return err
	}
	if err := s.gitea.DeleteRepo(owner, name); err != nil {
		return fmt.Errorf("删除Gitea仓库失败: %v", err)
	}
	if err := s.db.Where("gitea_id = ?", repoID).Delete(&models.RepoData{}).Error; err != nil {
		return fmt.Errorf("清理仓库数据失败: %v", err)
	}
	s.log.WithFields(logrus.Fields{"repo": repoID}).Info("仓库已删除")
	return nil
}

// RecordClone 记录克隆事件
//
// 每个用户对同一仓库只计一次，重复克隆靠唯一约束吞掉，
// 首次记录时克隆数加一。
func (s *RepoService) RecordClone(repoID, userID string) (bool, error) {
	if _, err := s.GetRepo(repoID); err != nil {
		return false, err
	}

	counted := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		event := &models.CloneEvent{RepoID: repoID, UserID: userID}
		if err := tx.Create(event).Error; err != nil {
			if isDuplicateKeyError(err) {
				return nil
			}
			return err
		}
		counted = true
		return tx.Model(&models.RepoData{}).
			Where("gitea_id = ?", repoID).
			Update("clone_count", gorm.Expr("clone_count + ?", 1)).Error
	})
	return counted, err
}

// ListGenres 曲风主列表，按展示顺序
func (s *RepoService) ListGenres() ([]models.Genre, error) {
	var genres []models.Genre
	err := s.db.Order("display_order ASC, genre_id ASC").Find(&genres).Error
	return genres, err
}

// SplitRepoID 拆分 owner/name 标识
func SplitRepoID(repoID string) (owner, name string, err error) {
	parts := strings.SplitN(repoID, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("非法的仓库标识: %s", repoID)
	}
	return parts[0], parts[1], nil
}

// isDuplicateKeyError 识别唯一约束冲突
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}
