package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"soundhaus/internal/models"
	"soundhaus/internal/services"
	"soundhaus/pkg/signature"
)

const testWebhookSecret = "e2e-webhook-secret"

func TestMain(m *testing.M) {
	// 全局配置进程内只加载一次，密钥必须在首次GetConfig前就位
	os.Setenv("GITEA_WEBHOOK_SECRET", testWebhookSecret)
	os.Setenv("LOG_FILE_PATH", "")
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// setupWebhookRouter 只挂webhook相关路由的测试引擎
func setupWebhookRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Exec("PRAGMA foreign_keys = ON").Error)
	require.NoError(t, db.AutoMigrate(
		&models.RepoData{},
		&models.WebhookDelivery{},
		&models.PushEvent{},
		&models.RepositoryEvent{},
		&models.WebhookConfig{},
	))

	handler := NewWebhookHandler(services.NewWebhookService(db))

	r := gin.New()
	r.POST("/api/webhooks/gitea", handler.HandleGiteaWebhook)
	r.GET("/api/repos/:owner/:name/activity", handler.GetRepoActivity)
	r.GET("/api/repos/:owner/:name/events", handler.GetRepoEvents)
	return r, db
}

// deliverWebhook 签名并投递
func deliverWebhook(t *testing.T, r *gin.Engine, category string, payload map[string]interface{}, sig string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	if sig == "" {
		sig = signature.Sign(body, testWebhookSecret)
	}

	req := httptest.NewRequest("POST", "/api/webhooks/gitea", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gitea-Event", category)
	req.Header.Set("X-Gitea-Delivery", "e2e-delivery-1")
	req.Header.Set("X-Gitea-Signature", sig)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func pushPayload(commits int) map[string]interface{} {
	commitList := make([]map[string]interface{}, 0, commits)
	for i := 0; i < commits; i++ {
		commitList = append(commitList, map[string]interface{}{
			"id":      "0123456789abcdef0123456789abcdef01234567",
			"message": "add stems",
			"author":  map[string]string{"name": "alice"},
		})
	}
	return map[string]interface{}{
		"ref":     "refs/heads/main",
		"before":  "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"after":   "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"commits": commitList,
		"pusher":  map[string]interface{}{"username": "alice"},
		"repository": map[string]interface{}{
			"name":      "beats",
			"full_name": "alice/beats",
			"owner":     map[string]interface{}{"username": "alice"},
		},
	}
}

func TestSignedPushFlowsToActivityFeed(t *testing.T) {
	r, db := setupWebhookRouter(t)
	require.NoError(t, db.Create(&models.RepoData{GiteaID: "alice/beats", OwnerID: "u1"}).Error)

	w := deliverWebhook(t, r, "push", pushPayload(3), "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	result := body["result"].(map[string]interface{})
	assert.Equal(t, "processed", result["status"])
	assert.Equal(t, float64(3), result["commit_count"])
	assert.Equal(t, true, result["repo_tracked"])

	var repo models.RepoData
	require.NoError(t, db.First(&repo, "gitea_id = ?", "alice/beats").Error)
	assert.Equal(t, 3, repo.TotalCommits)

	// 活动Feed能看到这次推送，SHA截断为8位
	feedReq := httptest.NewRequest("GET", "/api/repos/alice/beats/activity", nil)
	feedW := httptest.NewRecorder()
	r.ServeHTTP(feedW, feedReq)
	require.Equal(t, http.StatusOK, feedW.Code)

	feedBody := decodeBody(t, feedW)
	data := feedBody["data"].(map[string]interface{})
	activity := data["activity"].([]interface{})
	require.Len(t, activity, 1)
	item := activity[0].(map[string]interface{})
	assert.Equal(t, "alice", item["pusher"])
	assert.Equal(t, "aaaaaaaa", item["before_sha"])
	assert.Equal(t, "bbbbbbbb", item["after_sha"])
	assert.Equal(t, float64(3), item["commit_count"])
}

func TestTamperedSignatureRejectedWithoutSideEffects(t *testing.T) {
	r, db := setupWebhookRouter(t)
	require.NoError(t, db.Create(&models.RepoData{GiteaID: "alice/beats", OwnerID: "u1"}).Error)

	w := deliverWebhook(t, r, "push", pushPayload(2), "deadbeef"+signature.Sign([]byte("other"), testWebhookSecret))
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "rejected", body["status"])
	assert.Equal(t, "invalid_signature", body["reason"])

	// 计数与账本都不动
	var repo models.RepoData
	require.NoError(t, db.First(&repo, "gitea_id = ?", "alice/beats").Error)
	assert.Zero(t, repo.TotalCommits)

	var deliveries int64
	db.Model(&models.WebhookDelivery{}).Count(&deliveries)
	assert.Zero(t, deliveries)
}

func TestInvalidJSONRejected(t *testing.T) {
	r, _ := setupWebhookRouter(t)

	body := []byte(`{broken`)
	req := httptest.NewRequest("POST", "/api/webhooks/gitea", bytes.NewReader(body))
	req.Header.Set("X-Gitea-Event", "push")
	req.Header.Set("X-Gitea-Signature", signature.Sign(body, testWebhookSecret))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "rejected", resp["status"])
	assert.Equal(t, "invalid_json", resp["reason"])
}

func TestBranchCreateSurfacesInEventsFeed(t *testing.T) {
	r, db := setupWebhookRouter(t)
	require.NoError(t, db.Create(&models.RepoData{GiteaID: "alice/beats", OwnerID: "u1"}).Error)

	w := deliverWebhook(t, r, "create", map[string]interface{}{
		"ref":      "feature/bassline",
		"ref_type": "branch",
		"sender":   map[string]interface{}{"username": "bob"},
		"repository": map[string]interface{}{
			"name":      "beats",
			"full_name": "alice/beats",
			"owner":     map[string]interface{}{"username": "alice"},
		},
	}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])

	eventsReq := httptest.NewRequest("GET", "/api/repos/alice/beats/events", nil)
	eventsW := httptest.NewRecorder()
	r.ServeHTTP(eventsW, eventsReq)
	require.Equal(t, http.StatusOK, eventsW.Code)

	body := decodeBody(t, eventsW)
	data := body["data"].(map[string]interface{})
	events := data["events"].([]interface{})
	require.Len(t, events, 1)
	event := events[0].(map[string]interface{})
	assert.Equal(t, "branch_created", event["event_type"])
	assert.Equal(t, "bob", event["actor_username"])
}

func TestForkIncrementsCloneCount(t *testing.T) {
	r, db := setupWebhookRouter(t)
	require.NoError(t, db.Create(&models.RepoData{GiteaID: "alice/beats", OwnerID: "u1"}).Error)

	w := deliverWebhook(t, r, "fork", map[string]interface{}{
		"forkee": map[string]interface{}{
			"name":      "beats",
			"full_name": "bob/beats",
			"owner":     map[string]interface{}{"username": "bob"},
		},
		"sender": map[string]interface{}{"username": "bob"},
		"repository": map[string]interface{}{
			"name":      "beats",
			"full_name": "alice/beats",
			"owner":     map[string]interface{}{"username": "alice"},
		},
	}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])

	var repo models.RepoData
	require.NoError(t, db.First(&repo, "gitea_id = ?", "alice/beats").Error)
	assert.Equal(t, 1, repo.CloneCount)
}
