package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"soundhaus/internal/models"
)

// setupTestDB 建内存库并迁移全部模型
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// 内存库只能用单连接，连接池会各自拿到空库
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	// sqlite默认不开外键，级联删除靠它
	require.NoError(t, db.Exec("PRAGMA foreign_keys = ON").Error)

	require.NoError(t, db.AutoMigrate(
		&models.RepoData{},
		&models.CloneEvent{},
		&models.WebhookDelivery{},
		&models.PushEvent{},
		&models.RepositoryEvent{},
		&models.WebhookConfig{},
		&models.CollaboratorInvitation{},
		&models.PersonalAccessToken{},
		&models.Genre{},
	))
	return db
}

// newTestWebhookService 不走全局配置，直接注入密钥
func newTestWebhookService(db *gorm.DB) *WebhookService {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return &WebhookService{
		db:      db,
		log:     log,
		secret:  "test-webhook-secret",
		baseURL: "http://localhost:8000",
	}
}

func seedRepo(t *testing.T, db *gorm.DB, repoID string) {
	t.Helper()
	require.NoError(t, db.Create(&models.RepoData{
		GiteaID: repoID,
		OwnerID: "owner-uuid",
	}).Error)
}

// buildEvent 构造载荷并走分类器，保证测试和生产同一条解析路径
func buildEvent(t *testing.T, category string, payload map[string]interface{}) (*WebhookEvent, []byte) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	header := http.Header{}
	header.Set(HeaderGiteaEvent, category)
	header.Set(HeaderGiteaDelivery, "delivery-123")

	event, err := ClassifyWebhook(header, body)
	require.NoError(t, err)
	return event, body
}

func repoPayload(owner, name string) map[string]interface{} {
	return map[string]interface{}{
		"name":      name,
		"full_name": owner + "/" + name,
		"owner":     map[string]interface{}{"username": owner},
	}
}

// ========== 分类 ==========

func TestClassifyWebhookMissingHeader(t *testing.T) {
	header := http.Header{}
	_, err := ClassifyWebhook(header, []byte(`{}`))
	assert.ErrorIs(t, err, ErrMissingEventHeader)
}

func TestClassifyWebhookInvalidJSON(t *testing.T) {
	header := http.Header{}
	header.Set(HeaderGiteaEvent, "push")
	_, err := ClassifyWebhook(header, []byte(`{not json`))
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestClassifyWebhookMissingRepository(t *testing.T) {
	header := http.Header{}
	header.Set(HeaderGiteaEvent, "push")
	_, err := ClassifyWebhook(header, []byte(`{"ref":"refs/heads/main"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestClassifyWebhookHeaderCaseInsensitive(t *testing.T) {
	body, _ := json.Marshal(map[string]interface{}{
		"repository": repoPayload("alice", "beats"),
	})
	req, err := http.NewRequest("POST", "/api/webhooks/gitea", nil)
	require.NoError(t, err)
	req.Header.Set("x-gitea-event", "push")

	event, err := ClassifyWebhook(req.Header, body)
	require.NoError(t, err)
	assert.Equal(t, "push", event.Category)
	assert.Equal(t, "alice/beats", event.RepoID)
}

func TestClassifyWebhookPushPayload(t *testing.T) {
	event, _ := buildEvent(t, "push", map[string]interface{}{
		"ref":    "refs/heads/main",
		"before": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"after":  "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"commits": []map[string]interface{}{
			{"id": "c1", "message": "first", "author": map[string]string{"name": "alice"}},
			{"id": "c2", "message": "second", "author": map[string]string{"name": "alice"}},
		},
		"pusher":     map[string]interface{}{"username": "alice"},
		"repository": repoPayload("alice", "beats"),
	})

	require.NotNil(t, event.Push)
	assert.Equal(t, "refs/heads/main", event.Push.Ref)
	assert.Len(t, event.Push.Commits, 2)
	assert.Equal(t, "alice", event.Push.Pusher.Name())
	assert.Nil(t, event.Create)
}

// ========== 对账 ==========

func TestProcessEventPush(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestWebhookService(db)
	seedRepo(t, db, "alice/beats")

	event, body := buildEvent(t, "push", map[string]interface{}{
		"ref":    "refs/heads/main",
		"before": strings.Repeat("a", 40),
		"after":  strings.Repeat("b", 40),
		"commits": []map[string]interface{}{
			{"id": strings.Repeat("1", 40), "message": "one", "author": map[string]string{"name": "alice"}},
			{"id": strings.Repeat("2", 40), "message": "two", "author": map[string]string{"name": "alice"}},
			{"id": strings.Repeat("3", 40), "message": "three", "author": map[string]string{"name": "alice"}},
		},
		"pusher":     map[string]interface{}{"username": "alice"},
		"repository": repoPayload("alice", "beats"),
	})

	result := svc.ProcessEvent(event, body)
	assert.Equal(t, "processed", result.Status)
	assert.True(t, result.RepoTracked)
	assert.Equal(t, 3, result.CommitCount)
	assert.Len(t, result.Commits, 3)
	assert.Len(t, result.Commits[0].SHA, 8)

	var repo models.RepoData
	require.NoError(t, db.First(&repo, "gitea_id = ?", "alice/beats").Error)
	assert.Equal(t, 3, repo.TotalCommits)
	assert.NotNil(t, repo.LastPushAt)
	assert.NotNil(t, repo.LastActivityAt)

	var pushes []models.PushEvent
	require.NoError(t, db.Find(&pushes).Error)
	require.Len(t, pushes, 1)
	assert.Equal(t, "alice", pushes[0].PusherUsername)
	assert.Equal(t, 3, pushes[0].CommitCount)

	var delivery models.WebhookDelivery
	require.NoError(t, db.First(&delivery).Error)
	assert.Equal(t, models.DeliveryStatusSuccess, delivery.ProcessingStatus)
	assert.Equal(t, "delivery-123", delivery.DeliveryID)
}

func TestProcessEventUnknownRepoIsNoOp(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestWebhookService(db)

	event, body := buildEvent(t, "push", map[string]interface{}{
		"ref":        "refs/heads/main",
		"commits":    []map[string]interface{}{{"id": "c1", "message": "x"}},
		"pusher":     map[string]interface{}{"username": "alice"},
		"repository": repoPayload("ghost", "nowhere"),
	})

	result := svc.ProcessEvent(event, body)
	assert.Equal(t, "processed", result.Status)
	assert.False(t, result.RepoTracked)
	assert.Empty(t, result.DBDeliveryID)

	var deliveries, pushes int64
	db.Model(&models.WebhookDelivery{}).Count(&deliveries)
	db.Model(&models.PushEvent{}).Count(&pushes)
	assert.Zero(t, deliveries)
	assert.Zero(t, pushes)
}

func TestProcessEventDuplicateDeliveryDoubleCounts(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestWebhookService(db)
	seedRepo(t, db, "alice/beats")

	event, body := buildEvent(t, "push", map[string]interface{}{
		"ref":        "refs/heads/main",
		"commits":    []map[string]interface{}{{"id": "c1", "message": "x"}, {"id": "c2", "message": "y"}},
		"pusher":     map[string]interface{}{"username": "alice"},
		"repository": repoPayload("alice", "beats"),
	})

	svc.ProcessEvent(event, body)
	svc.ProcessEvent(event, body)

	// 账本不做去重，同一投递重放会再记一次
	var repo models.RepoData
	require.NoError(t, db.First(&repo, "gitea_id = ?", "alice/beats").Error)
	assert.Equal(t, 4, repo.TotalCommits)

	var deliveries int64
	db.Model(&models.WebhookDelivery{}).Count(&deliveries)
	assert.Equal(t, int64(2), deliveries)
}

func TestProcessEventBranchCreate(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestWebhookService(db)
	seedRepo(t, db, "alice/beats")

	event, body := buildEvent(t, "create", map[string]interface{}{
		"ref":        "feature/drums",
		"ref_type":   "branch",
		"sender":     map[string]interface{}{"username": "alice"},
		"repository": repoPayload("alice", "beats"),
	})

	result := svc.ProcessEvent(event, body)
	assert.Equal(t, "processed", result.Status)
	assert.Equal(t, "branch", result.RefType)

	var events []models.RepositoryEvent
	require.NoError(t, db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, "branch_created", events[0].EventType)
	assert.Equal(t, "alice", events[0].ActorUsername)

	var repo models.RepoData
	require.NoError(t, db.First(&repo, "gitea_id = ?", "alice/beats").Error)
	assert.NotNil(t, repo.LastActivityAt)
	assert.Nil(t, repo.LastPushAt)
}

func TestProcessEventTagDelete(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestWebhookService(db)
	seedRepo(t, db, "alice/beats")

	event, body := buildEvent(t, "delete", map[string]interface{}{
		"ref":        "v1.0",
		"ref_type":   "tag",
		"sender":     map[string]interface{}{"username": "alice"},
		"repository": repoPayload("alice", "beats"),
	})

	result := svc.ProcessEvent(event, body)
	assert.Equal(t, "processed", result.Status)

	var events []models.RepositoryEvent
	require.NoError(t, db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, "tag_deleted", events[0].EventType)

	// 删除不算活动
	var repo models.RepoData
	require.NoError(t, db.First(&repo, "gitea_id = ?", "alice/beats").Error)
	assert.Nil(t, repo.LastActivityAt)
}

func TestProcessEventFork(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestWebhookService(db)
	seedRepo(t, db, "alice/beats")

	event, body := buildEvent(t, "fork", map[string]interface{}{
		"forkee":     repoPayload("bob", "beats"),
		"sender":     map[string]interface{}{"username": "bob"},
		"repository": repoPayload("alice", "beats"),
	})

	result := svc.ProcessEvent(event, body)
	assert.Equal(t, "processed", result.Status)
	assert.Equal(t, "bob/beats", result.ForkedRepo)

	var repo models.RepoData
	require.NoError(t, db.First(&repo, "gitea_id = ?", "alice/beats").Error)
	assert.Equal(t, 1, repo.CloneCount)
	assert.NotNil(t, repo.LastActivityAt)

	// fork不记生命周期历史
	var events int64
	db.Model(&models.RepositoryEvent{}).Count(&events)
	assert.Zero(t, events)
}

func TestProcessEventRepositoryDeletedCascades(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestWebhookService(db)
	seedRepo(t, db, "alice/beats")

	// 先积累点关联数据
	pushEvent, pushBody := buildEvent(t, "push", map[string]interface{}{
		"ref":        "refs/heads/main",
		"commits":    []map[string]interface{}{{"id": "c1", "message": "x"}},
		"pusher":     map[string]interface{}{"username": "alice"},
		"repository": repoPayload("alice", "beats"),
	})
	svc.ProcessEvent(pushEvent, pushBody)

	event, body := buildEvent(t, "repository", map[string]interface{}{
		"action":     "deleted",
		"sender":     map[string]interface{}{"username": "alice"},
		"repository": repoPayload("alice", "beats"),
	})
	result := svc.ProcessEvent(event, body)
	assert.Equal(t, "processed", result.Status)
	assert.Equal(t, "deleted", result.Action)

	var repos, pushes, deliveries, events int64
	db.Model(&models.RepoData{}).Count(&repos)
	db.Model(&models.PushEvent{}).Count(&pushes)
	db.Model(&models.WebhookDelivery{}).Count(&deliveries)
	db.Model(&models.RepositoryEvent{}).Count(&events)
	assert.Zero(t, repos)
	assert.Zero(t, pushes)
	assert.Zero(t, deliveries)
	assert.Zero(t, events)
}

func TestProcessEventUnhandledCategoryIgnored(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestWebhookService(db)
	seedRepo(t, db, "alice/beats")

	event, body := buildEvent(t, "issues", map[string]interface{}{
		"repository": repoPayload("alice", "beats"),
	})

	result := svc.ProcessEvent(event, body)
	assert.Equal(t, "ignored", result.Status)
	assert.Equal(t, "unhandled event: issues", result.Reason)

	// 投递照记，结论是success
	var delivery models.WebhookDelivery
	require.NoError(t, db.First(&delivery).Error)
	assert.Equal(t, models.DeliveryStatusSuccess, delivery.ProcessingStatus)
}

func TestProcessEventFailureMarksDelivery(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestWebhookService(db)
	seedRepo(t, db, "alice/beats")

	// 类别是push但载荷指针为空，事务内报错
	event := &WebhookEvent{
		Category: models.EventPush,
		RepoID:   "alice/beats",
	}
	result := svc.ProcessEvent(event, []byte(`{}`))
	assert.Equal(t, "failed", result.Status)
	assert.NotEmpty(t, result.Error)

	// 账本行保留且带失败结论，事务内的改动全部回滚
	var delivery models.WebhookDelivery
	require.NoError(t, db.First(&delivery).Error)
	assert.Equal(t, models.DeliveryStatusFailed, delivery.ProcessingStatus)
	assert.NotEmpty(t, delivery.ErrorMessage)

	var repo models.RepoData
	require.NoError(t, db.First(&repo, "gitea_id = ?", "alice/beats").Error)
	assert.Zero(t, repo.TotalCommits)
}

// ========== 提交摘要 ==========

func TestSummarizeCommitsCaps(t *testing.T) {
	commits := make([]PushCommit, 15)
	for i := range commits {
		commits[i] = PushCommit{
			ID:      fmt.Sprintf("%040d", i),
			Message: strings.Repeat("m", 200),
			Author:  CommitAuthor{Name: "alice"},
		}
	}

	summaries := summarizeCommits(commits)
	require.Len(t, summaries, MaxCommitSummaries)
	for _, s := range summaries {
		assert.Len(t, s.SHA, 8)
		assert.Len(t, s.Message, MaxCommitMessageLen)
	}
}

// ========== 查询 ==========

func TestGetRepoActivityLimits(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestWebhookService(db)
	seedRepo(t, db, "alice/beats")

	for i := 0; i < 60; i++ {
		require.NoError(t, db.Create(&models.PushEvent{
			RepoID:         "alice/beats",
			PusherUsername: "alice",
			Ref:            "refs/heads/main",
			BeforeSHA:      "a",
			AfterSHA:       "b",
			CommitCount:    1,
		}).Error)
	}

	events, err := svc.GetRepoActivity("alice/beats", 0)
	require.NoError(t, err)
	assert.Len(t, events, DefaultActivityLimit)

	events, err = svc.GetRepoActivity("alice/beats", 1000)
	require.NoError(t, err)
	assert.Len(t, events, MaxActivityLimit)
}

func TestListDeliveriesFilters(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestWebhookService(db)
	seedRepo(t, db, "alice/beats")
	seedRepo(t, db, "bob/mix")

	for _, row := range []struct {
		repo, event, status string
	}{
		{"alice/beats", "push", models.DeliveryStatusSuccess},
		{"alice/beats", "fork", models.DeliveryStatusSuccess},
		{"bob/mix", "push", models.DeliveryStatusFailed},
	} {
		require.NoError(t, db.Create(&models.WebhookDelivery{
			RepoID:           row.repo,
			EventType:        row.event,
			Payload:          datatypes.JSON(`{}`),
			ProcessingStatus: row.status,
		}).Error)
	}

	deliveries, err := svc.ListDeliveries("alice/beats", "", "", 0)
	require.NoError(t, err)
	assert.Len(t, deliveries, 2)

	deliveries, err = svc.ListDeliveries("", "push", "", 0)
	require.NoError(t, err)
	assert.Len(t, deliveries, 2)

	deliveries, err = svc.ListDeliveries("", "", models.DeliveryStatusFailed, 0)
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)
	assert.Equal(t, "bob/mix", deliveries[0].RepoID)
}
