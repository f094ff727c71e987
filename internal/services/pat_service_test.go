package services

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"soundhaus/internal/models"
)

func newTestPATService(db *gorm.DB) *PATService {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return &PATService{db: db, log: log}
}

func TestCreateTokenFormat(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestPATService(db)

	token, plaintext, err := svc.CreateToken("user-1", "desktop", 0)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(plaintext, PATPrefix))
	assert.Equal(t, plaintext[:patPrefixLength], token.TokenPrefix)
	assert.NotEqual(t, plaintext, token.TokenHash) // 库里只有哈希
	assert.Nil(t, token.ExpiresAt)
}

func TestVerifyTokenRoundtrip(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestPATService(db)

	_, plaintext, err := svc.CreateToken("user-1", "desktop", 30)
	require.NoError(t, err)

	verified, err := svc.VerifyToken(plaintext)
	require.NoError(t, err)
	assert.Equal(t, "user-1", verified.UserID)

	// 使用记录更新了
	var stored models.PersonalAccessToken
	require.NoError(t, db.First(&stored, "id = ?", verified.ID).Error)
	assert.Equal(t, 1, stored.UsageCount)
	assert.NotNil(t, stored.LastUsed)
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestPATService(db)

	_, err := svc.VerifyToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.VerifyToken(PATPrefix + "wrong-random-part-aaaaaaaaaaaaaaaa")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenRejectsRevoked(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestPATService(db)

	token, plaintext, err := svc.CreateToken("user-1", "desktop", 0)
	require.NoError(t, err)
	require.NoError(t, svc.RevokeToken("user-1", token.ID))

	_, err = svc.VerifyToken(plaintext)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestPATService(db)

	token, plaintext, err := svc.CreateToken("user-1", "desktop", 30)
	require.NoError(t, err)

	// 手动把过期时间拨到过去
	past := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(&models.PersonalAccessToken{}).
		Where("id = ?", token.ID).
		Update("expires_at", past).Error)

	_, err = svc.VerifyToken(plaintext)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevokeTokenOwnershipEnforced(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestPATService(db)

	token, _, err := svc.CreateToken("user-1", "desktop", 0)
	require.NoError(t, err)

	// 别人吊销不了
	assert.Error(t, svc.RevokeToken("user-2", token.ID))
	require.NoError(t, svc.RevokeToken("user-1", token.ID))

	tokens, err := svc.ListTokens("user-1")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.True(t, tokens[0].IsRevoked)
}
