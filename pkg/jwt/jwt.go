package jwt

import (
	"errors"
	"soundhaus/pkg/config"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// SupabaseClaims Supabase访问令牌声明
type SupabaseClaims struct {
	Email        string                 `json:"email"`
	Role         string                 `json:"role"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// UserID 返回Supabase用户UUID（sub声明）
func (c *SupabaseClaims) UserID() string {
	return c.Subject
}

// Username 从user_metadata取注册时设置的用户名
func (c *SupabaseClaims) Username() string {
	if c.UserMetadata != nil {
		if name, ok := c.UserMetadata["username"].(string); ok {
			return name
		}
	}
	return ""
}

// TokenVerifier Supabase访问令牌校验器
//
// Supabase使用项目级共享密钥对访问令牌做HS256签名，
// 后端可以本地校验而无需每次请求都调用GoTrue接口。
type TokenVerifier struct {
	secretKey string
}

// NewTokenVerifier 创建令牌校验器
func NewTokenVerifier(secretKey string) *TokenVerifier {
	return &TokenVerifier{secretKey: secretKey}
}

// VerifyToken 验证访问令牌并返回声明
func (v *TokenVerifier) VerifyToken(tokenString string) (*SupabaseClaims, error) {
	if v.secretKey == "" {
		return nil, errors.New("JWT密钥未配置")
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&SupabaseClaims{},
		func(token *jwt.Token) (interface{}, error) {
			// 验证签名方法
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("意外的签名方法")
			}
			return []byte(v.secretKey), nil
		},
	)

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*SupabaseClaims)
	if !ok {
		return nil, errors.New("无法解析token声明")
	}

	if claims.Subject == "" {
		return nil, errors.New("token缺少sub声明")
	}

	return claims, nil
}

// 单例实现
var (
	defaultVerifier *TokenVerifier
	once            sync.Once
)

// GetTokenVerifier 获取全局令牌校验器实例
func GetTokenVerifier() *TokenVerifier {
	once.Do(func() {
		cfg := config.GetConfig()
		defaultVerifier = NewTokenVerifier(cfg.Supabase.JWTSecret)
	})
	return defaultVerifier
}
