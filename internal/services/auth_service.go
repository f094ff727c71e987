package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"soundhaus/pkg/config"
	"soundhaus/pkg/logger"
)

// AuthService Supabase认证客户端
//
// 透传GoTrue的注册/登录/登出/刷新，注册成功后顺带开通
// 同名Gitea账号。令牌校验不走这里，由pkg/jwt本地验签。
type AuthService struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	gitea      *GiteaService
	log        *logrus.Logger
}

// NewAuthService 创建认证服务
func NewAuthService(gitea *GiteaService) *AuthService {
	cfg := config.GetConfig()
	return &AuthService{
		baseURL:    cfg.Supabase.URL,
		anonKey:    cfg.Supabase.AnonKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		gitea:      gitea,
		log:        logger.GetLogger(),
	}
}

// AuthUser Supabase用户信息
type AuthUser struct {
	ID       string                 `json:"id"`
	Email    string                 `json:"email"`
	Metadata map[string]interface{} `json:"user_metadata,omitempty"`
}

// Username 从user_metadata取用户名
func (u *AuthUser) Username() string {
	if u.Metadata != nil {
		if name, ok := u.Metadata["username"].(string); ok {
			return name
		}
	}
	return ""
}

// AuthSession 登录会话
type AuthSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	User         *AuthUser `json:"user"`
}

// doAuthRequest 调用GoTrue接口，bearer为空时只带anon key
func (s *AuthService) doAuthRequest(method, path, bearer string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.baseURL+"/auth/v1"+path, reader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %v", err)
	}
	req.Header.Set("apikey", s.anonKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else {
		req.Header.Set("Authorization", "Bearer "+s.anonKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求Supabase失败: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// GoTrue错误体里常带msg或error_description
		var errBody struct {
			Msg         string `json:"msg"`
			Message     string `json:"message"`
			Description string `json:"error_description"`
		}
		_ = json.Unmarshal(respBody, &errBody)
		reason := errBody.Msg
		if reason == "" {
			reason = errBody.Message
		}
		if reason == "" {
			reason = errBody.Description
		}
		if reason == "" {
			reason = string(respBody)
		}
		return nil, fmt.Errorf("认证失败(%d): %s", resp.StatusCode, reason)
	}
	return respBody, nil
}

// SignUp 注册新用户并开通Gitea账号
//
// Gitea开通失败不回滚Supabase注册，只记警告，后续可重试。
func (s *AuthService) SignUp(email, password, username string) (*AuthSession, error) {
	payload := map[string]interface{}{
		"email":    email,
		"password": password,
		"data": map[string]string{
			"username": username,
		},
	}
	body, err := s.doAuthRequest("POST", "/signup", "", payload)
	if err != nil {
		return nil, err
	}

	var session AuthSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("解析注册响应失败: %v", err)
	}
	// 关闭邮件确认时GoTrue直接返回user对象而不是session
	if session.User == nil {
		var user AuthUser
		if err := json.Unmarshal(body, &user); err == nil && user.ID != "" {
			session.User = &user
		}
	}

	if existing, err := s.gitea.GetUserByUsername(username); err != nil {
		s.log.WithError(err).Warn("查询Gitea用户失败，跳过开通")
	} else if existing == nil {
		if _, err := s.gitea.CreateUser(username, email, password); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"username": username,
			}).Warn("Gitea账号开通失败")
		}
	}

	s.log.WithFields(logrus.Fields{"email": email, "username": username}).Info("用户注册成功")
	return &session, nil
}

// SignIn 邮箱密码登录
func (s *AuthService) SignIn(email, password string) (*AuthSession, error) {
	payload := map[string]string{
		"email":    email,
		"password": password,
	}
	body, err := s.doAuthRequest("POST", "/token?grant_type=password", "", payload)
	if err != nil {
		return nil, err
	}
	var session AuthSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("解析登录响应失败: %v", err)
	}
	return &session, nil
}

// SignOut 注销会话
func (s *AuthService) SignOut(accessToken string) error {
	_, err := s.doAuthRequest("POST", "/logout", accessToken, nil)
	return err
}

// RefreshSession 用refresh token换新会话
func (s *AuthService) RefreshSession(refreshToken string) (*AuthSession, error) {
	payload := map[string]string{"refresh_token": refreshToken}
	body, err := s.doAuthRequest("POST", "/token?grant_type=refresh_token", "", payload)
	if err != nil {
		return nil, err
	}
	var session AuthSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("解析刷新响应失败: %v", err)
	}
	return &session, nil
}

// GetUser 用access token查当前用户
func (s *AuthService) GetUser(accessToken string) (*AuthUser, error) {
	body, err := s.doAuthRequest("GET", "/user", accessToken, nil)
	if err != nil {
		return nil, err
	}
	var user AuthUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("解析用户响应失败: %v", err)
	}
	return &user, nil
}
