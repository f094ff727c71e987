package services

import (
	"encoding/json"
	"errors"
	"net/http"

	"soundhaus/internal/models"
)

// Gitea webhook请求头
const (
	HeaderGiteaEvent     = "X-Gitea-Event"
	HeaderGiteaDelivery  = "X-Gitea-Delivery"
	HeaderGiteaSignature = "X-Gitea-Signature"
)

// 分类失败的错误类型，接收端据此区分拒绝原因
var (
	ErrMissingEventHeader = errors.New("缺少X-Gitea-Event头")
	ErrInvalidJSON        = errors.New("载荷不是合法JSON")
	ErrInvalidPayload     = errors.New("载荷缺少repository信息")
)

// Actor webhook载荷中的用户对象
type Actor struct {
	Username string `json:"username"`
	Login    string `json:"login"`
}

// Name 返回用户名，Gitea部分事件用login字段
func (a Actor) Name() string {
	if a.Username != "" {
		return a.Username
	}
	if a.Login != "" {
		return a.Login
	}
	return "unknown"
}

// RepoRef webhook载荷中的仓库对象
type RepoRef struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Owner    Actor  `json:"owner"`
}

// CommitAuthor 提交作者
type CommitAuthor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// PushCommit push载荷中的单个提交
type PushCommit struct {
	ID      string       `json:"id"`
	Message string       `json:"message"`
	Author  CommitAuthor `json:"author"`
}

// PushPayload push事件载荷
type PushPayload struct {
	Ref     string       `json:"ref"`
	Before  string       `json:"before"`
	After   string       `json:"after"`
	Commits []PushCommit `json:"commits"`
	Pusher  Actor        `json:"pusher"`
}

// RefPayload create/delete事件载荷（分支或标签）
type RefPayload struct {
	Ref     string `json:"ref"`
	RefType string `json:"ref_type"` // branch 或 tag
	Sender  Actor  `json:"sender"`
}

// RepoActionPayload repository事件载荷（created/deleted/renamed）
type RepoActionPayload struct {
	Action string `json:"action"`
	Sender Actor  `json:"sender"`
}

// ForkPayload fork事件载荷，repository是被fork的原仓库
type ForkPayload struct {
	Forkee *RepoRef `json:"forkee"`
	Sender Actor    `json:"sender"`
}

// WebhookEvent 分类后的webhook事件
//
// 按事件类别解析为带类型的载荷，同一时刻只有一个载荷指针非空；
// 未识别的类别只有公共字段，reconcile时按忽略处理。
type WebhookEvent struct {
	Category   string
	DeliveryID string
	Repo       RepoRef
	RepoID     string // owner/name，聚合表主键

	Push       *PushPayload
	Create     *RefPayload
	Delete     *RefPayload
	Repository *RepoActionPayload
	Fork       *ForkPayload
}

// webhookEnvelope 原始载荷的全字段视图，分类时一次解出
type webhookEnvelope struct {
	Ref     string       `json:"ref"`
	RefType string       `json:"ref_type"`
	Before  string       `json:"before"`
	After   string       `json:"after"`
	Action  string       `json:"action"`
	Commits []PushCommit `json:"commits"`
	Pusher  Actor        `json:"pusher"`
	Sender  Actor        `json:"sender"`
	Forkee  *RepoRef     `json:"forkee"`

	Repository *RepoRef `json:"repository"`
}

// ClassifyWebhook 从请求头和原始载荷解出事件类别、仓库标识和类型化载荷
//
// 头部查找大小写不敏感（http.Header规范化），JSON解析失败和
// repository结构缺失是两类不同的分类失败。
func ClassifyWebhook(header http.Header, body []byte) (*WebhookEvent, error) {
	category := header.Get(HeaderGiteaEvent)
	if category == "" {
		return nil, ErrMissingEventHeader
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, ErrInvalidJSON
	}

	if envelope.Repository == nil || envelope.Repository.Owner.Name() == "unknown" || envelope.Repository.Name == "" {
		return nil, ErrInvalidPayload
	}

	repo := *envelope.Repository
	repoID := repo.FullName
	if repoID == "" {
		repoID = repo.Owner.Name() + "/" + repo.Name
	}

	event := &WebhookEvent{
		Category:   category,
		DeliveryID: header.Get(HeaderGiteaDelivery),
		Repo:       repo,
		RepoID:     repoID,
	}

	switch category {
	case models.EventPush:
		event.Push = &PushPayload{
			Ref:     envelope.Ref,
			Before:  envelope.Before,
			After:   envelope.After,
			Commits: envelope.Commits,
			Pusher:  envelope.Pusher,
		}
	case models.EventCreate:
		event.Create = &RefPayload{
			Ref:     envelope.Ref,
			RefType: envelope.RefType,
			Sender:  envelope.Sender,
		}
	case models.EventDelete:
		event.Delete = &RefPayload{
			Ref:     envelope.Ref,
			RefType: envelope.RefType,
			Sender:  envelope.Sender,
		}
	case models.EventRepository:
		event.Repository = &RepoActionPayload{
			Action: envelope.Action,
			Sender: envelope.Sender,
		}
	case models.EventFork:
		event.Fork = &ForkPayload{
			Forkee: envelope.Forkee,
			Sender: envelope.Sender,
		}
	}

	return event, nil
}
