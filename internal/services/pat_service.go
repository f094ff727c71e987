package services

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"soundhaus/internal/models"
	"soundhaus/pkg/logger"
)

// 令牌格式常量
const (
	PATPrefix       = "soundh_"
	patRandomBytes  = 32
	patPrefixLength = 16
)

// ErrInvalidToken 令牌不存在、已吊销或已过期
var ErrInvalidToken = errors.New("令牌无效")

// PATService 个人访问令牌服务
//
// 令牌形如 soundh_<随机串>，只在创建时明文返回一次，
// 校验走bcrypt比对，前缀用于缩小候选范围。
type PATService struct {
	db  *gorm.DB
	log *logrus.Logger
}

// NewPATService 创建令牌服务
func NewPATService(db *gorm.DB) *PATService {
	return &PATService{db: db, log: logger.GetLogger()}
}

// generateToken 生成明文令牌
func generateToken() (string, error) {
	buf := make([]byte, patRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("生成随机令牌失败: %v", err)
	}
	return PATPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateToken 创建令牌，返回记录和仅此一次的明文
func (s *PATService) CreateToken(userID, name string, expiresInDays int) (*models.PersonalAccessToken, string, error) {
	plaintext, err := generateToken()
	if err != nil {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("哈希令牌失败: %v", err)
	}

	token := &models.PersonalAccessToken{
		UserID:      userID,
		TokenName:   name,
		TokenHash:   string(hash),
		TokenPrefix: plaintext[:patPrefixLength],
	}
	if expiresInDays > 0 {
		expiresAt := time.Now().AddDate(0, 0, expiresInDays)
		token.ExpiresAt = &expiresAt
	}

	if err := s.db.Create(token).Error; err != nil {
		return nil, "", fmt.Errorf("保存令牌失败: %v", err)
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "token_name": name}).Info("创建个人访问令牌")
	return token, plaintext, nil
}

// VerifyToken 校验明文令牌，成功返回持有者并记一次使用
func (s *PATService) VerifyToken(plaintext string) (*models.PersonalAccessToken, error) {
	if !strings.HasPrefix(plaintext, PATPrefix) || len(plaintext) < patPrefixLength {
		return nil, ErrInvalidToken
	}

	// 按前缀缩小候选，再逐个bcrypt比对
	var candidates []models.PersonalAccessToken
	if err := s.db.Where("token_prefix = ? AND is_revoked = ?", plaintext[:patPrefixLength], false).
		Find(&candidates).Error; err != nil {
		return nil, err
	}

	for i := range candidates {
		token := &candidates[i]
		if !token.IsUsable() {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(token.TokenHash), []byte(plaintext)) == nil {
			now := time.Now()
			s.db.Model(token).Updates(map[string]interface{}{
				"last_used":   now,
				"usage_count": gorm.Expr("usage_count + ?", 1),
			})
			return token, nil
		}
	}
	return nil, ErrInvalidToken
}

// ListTokens 列出用户的令牌（不含哈希）
func (s *PATService) ListTokens(userID string) ([]models.PersonalAccessToken, error) {
	var tokens []models.PersonalAccessToken
	err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&tokens).Error
	return tokens, err
}

// RevokeToken 吊销令牌，只能吊销自己的
func (s *PATService) RevokeToken(userID, tokenID string) error {
	result := s.db.Model(&models.PersonalAccessToken{}).
		Where("id = ? AND user_id = ?", tokenID, userID).
		Update("is_revoked", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("令牌不存在: %s", tokenID)
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "token_id": tokenID}).Info("吊销个人访问令牌")
	return nil
}
