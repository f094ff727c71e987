package services

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"soundhaus/pkg/config"
	"soundhaus/pkg/logger"
)

// GiteaService Gitea管理端客户端
//
// 用管理员令牌调Gitea REST API，负责用户开通、仓库创建、
// 文件读写、协作者和webhook管理。所有调用都是同步HTTP。
type GiteaService struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
	log        *logrus.Logger
}

// NewGiteaService 创建Gitea客户端
func NewGiteaService() *GiteaService {
	cfg := config.GetConfig()
	return &GiteaService{
		baseURL:    cfg.Gitea.URL,
		adminToken: cfg.Gitea.AdminToken,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		log:        logger.GetLogger(),
	}
}

// GiteaUser Gitea用户信息
type GiteaUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// GiteaRepo Gitea仓库信息
type GiteaRepo struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
	CloneURL string `json:"clone_url"`
	HTMLURL  string `json:"html_url"`
}

// GiteaContent 仓库内容条目（文件或目录）
type GiteaContent struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"` // file 或 dir
	Size        int64  `json:"size"`
	SHA         string `json:"sha"`
	DownloadURL string `json:"download_url,omitempty"`
	Content     string `json:"content,omitempty"` // base64，仅单文件请求时返回
}

// GiteaCollaborator 协作者信息
type GiteaCollaborator struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// doRequest 执行请求并返回响应体，非2xx视为错误
func (s *GiteaService) doRequest(method, path string, body interface{}) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("序列化请求体失败: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.baseURL+"/api/v1"+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("创建请求失败: %v", err)
	}
	req.Header.Set("Authorization", "token "+s.adminToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("请求Gitea失败: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("读取响应失败: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return respBody, resp.StatusCode, fmt.Errorf("Gitea返回状态码 %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, resp.StatusCode, nil
}

// CreateUser 创建Gitea用户（注册流程开通用）
func (s *GiteaService) CreateUser(username, email, password string) (*GiteaUser, error) {
	payload := map[string]interface{}{
		"username":             username,
		"email":                email,
		"password":             password,
		"must_change_password": false,
	}
	body, _, err := s.doRequest("POST", "/admin/users", payload)
	if err != nil {
		return nil, err
	}
	var user GiteaUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("解析用户响应失败: %v", err)
	}
	s.log.WithFields(logrus.Fields{"username": username}).Info("Gitea用户创建成功")
	return &user, nil
}

// GetUserByUsername 查询Gitea用户，不存在返回nil
func (s *GiteaService) GetUserByUsername(username string) (*GiteaUser, error) {
	body, status, err := s.doRequest("GET", "/users/"+url.PathEscape(username), nil)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var user GiteaUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("解析用户响应失败: %v", err)
	}
	return &user, nil
}

// CreateRepo 以指定用户身份创建仓库
func (s *GiteaService) CreateRepo(owner, name, description string, private bool) (*GiteaRepo, error) {
	payload := map[string]interface{}{
		"name":        name,
		"description": description,
		"private":     private,
		"auto_init":   true,
	}
	body, _, err := s.doRequest("POST", "/admin/users/"+url.PathEscape(owner)+"/repos", payload)
	if err != nil {
		return nil, err
	}
	var repo GiteaRepo
	if err := json.Unmarshal(body, &repo); err != nil {
		return nil, fmt.Errorf("解析仓库响应失败: %v", err)
	}
	s.log.WithFields(logrus.Fields{"repo": repo.FullName}).Info("Gitea仓库创建成功")
	return &repo, nil
}

// DeleteRepo 删除仓库
func (s *GiteaService) DeleteRepo(owner, name string) error {
	_, _, err := s.doRequest("DELETE", "/repos/"+url.PathEscape(owner)+"/"+url.PathEscape(name), nil)
	return err
}

// UpdateRepoSettings 更新仓库描述和可见性
func (s *GiteaService) UpdateRepoSettings(owner, name string, description *string, private *bool) (*GiteaRepo, error) {
	payload := map[string]interface{}{}
	if description != nil {
		payload["description"] = *description
	}
	if private != nil {
		payload["private"] = *private
	}
	body, _, err := s.doRequest("PATCH", "/repos/"+url.PathEscape(owner)+"/"+url.PathEscape(name), payload)
	if err != nil {
		return nil, err
	}
	var repo GiteaRepo
	if err := json.Unmarshal(body, &repo); err != nil {
		return nil, fmt.Errorf("解析仓库响应失败: %v", err)
	}
	return &repo, nil
}

// ListContents 列出仓库路径下的内容
func (s *GiteaService) ListContents(owner, repo, path, ref string) ([]GiteaContent, error) {
	endpoint := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/contents/" + path
	if ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}
	body, _, err := s.doRequest("GET", endpoint, nil)
	if err != nil {
		return nil, err
	}

	// 目录返回数组，单文件返回对象
	var contents []GiteaContent
	if err := json.Unmarshal(body, &contents); err != nil {
		var single GiteaContent
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, fmt.Errorf("解析内容响应失败: %v", err)
		}
		contents = []GiteaContent{single}
	}
	return contents, nil
}

// UploadFile 上传新文件到仓库
func (s *GiteaService) UploadFile(owner, repo, path string, content []byte, message string) error {
	payload := map[string]interface{}{
		"content": base64.StdEncoding.EncodeToString(content),
		"message": message,
	}
	endpoint := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/contents/" + path
	_, _, err := s.doRequest("POST", endpoint, payload)
	return err
}

// DeleteFile 从仓库删除文件，sha是当前文件的blob SHA
func (s *GiteaService) DeleteFile(owner, repo, path, sha, message string) error {
	payload := map[string]interface{}{
		"sha":     sha,
		"message": message,
	}
	endpoint := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/contents/" + path
	_, _, err := s.doRequest("DELETE", endpoint, payload)
	return err
}

// CreateWebhook 在仓库上注册webhook，返回Gitea侧的webhook ID
func (s *GiteaService) CreateWebhook(owner, repo, targetURL, secret string, events []string) (int64, error) {
	payload := map[string]interface{}{
		"type":   "gitea",
		"active": true,
		"events": events,
		"config": map[string]string{
			"url":          targetURL,
			"content_type": "json",
			"secret":       secret,
		},
	}
	endpoint := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/hooks"
	body, _, err := s.doRequest("POST", endpoint, payload)
	if err != nil {
		return 0, err
	}
	var hook struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &hook); err != nil {
		return 0, fmt.Errorf("解析webhook响应失败: %v", err)
	}
	return hook.ID, nil
}

// AddCollaborator 添加协作者
func (s *GiteaService) AddCollaborator(owner, repo, username, permission string) error {
	payload := map[string]string{"permission": permission}
	endpoint := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/collaborators/" + url.PathEscape(username)
	_, _, err := s.doRequest("PUT", endpoint, payload)
	return err
}

// RemoveCollaborator 移除协作者
func (s *GiteaService) RemoveCollaborator(owner, repo, username string) error {
	endpoint := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/collaborators/" + url.PathEscape(username)
	_, _, err := s.doRequest("DELETE", endpoint, nil)
	return err
}

// ListCollaborators 列出仓库协作者
func (s *GiteaService) ListCollaborators(owner, repo string) ([]GiteaCollaborator, error) {
	endpoint := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/collaborators"
	body, _, err := s.doRequest("GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	var collaborators []GiteaCollaborator
	if err := json.Unmarshal(body, &collaborators); err != nil {
		return nil, fmt.Errorf("解析协作者响应失败: %v", err)
	}
	return collaborators, nil
}
