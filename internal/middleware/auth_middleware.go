package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"soundhaus/internal/services"
	"soundhaus/pkg/jwt"
	"soundhaus/pkg/response"
)

// 认证上下文键
const (
	ContextUserID     = "user_id"
	ContextEmail      = "email"
	ContextUsername   = "username"
	ContextAuthMethod = "auth_method"
)

// AuthMiddleware 认证中间件
//
// Bearer令牌两条路：soundh_前缀走个人访问令牌校验，
// 其余按Supabase JWT本地验签。
func AuthMiddleware(pats *services.PATService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "缺少认证令牌")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, "认证格式错误")
			c.Abort()
			return
		}
		tokenString := parts[1]

		if strings.HasPrefix(tokenString, services.PATPrefix) {
			token, err := pats.VerifyToken(tokenString)
			if err != nil {
				response.Unauthorized(c, "令牌无效或已过期")
				c.Abort()
				return
			}
			c.Set(ContextUserID, token.UserID)
			c.Set(ContextAuthMethod, "pat")
			c.Next()
			return
		}

		claims, err := jwt.GetTokenVerifier().VerifyToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "令牌无效或已过期")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID())
		c.Set(ContextEmail, claims.Email)
		c.Set(ContextUsername, claims.Username())
		c.Set(ContextAuthMethod, "jwt")
		c.Next()
	}
}

// GetUserID 从上下文取当前用户ID
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// GetEmail 从上下文取当前用户邮箱
func GetEmail(c *gin.Context) string {
	return c.GetString(ContextEmail)
}

// GetUsername 从上下文取当前用户名
func GetUsername(c *gin.Context) string {
	return c.GetString(ContextUsername)
}
