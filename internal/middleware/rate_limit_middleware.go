package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"soundhaus/internal/database"
	"soundhaus/pkg/config"
	"soundhaus/pkg/logger"
	"soundhaus/pkg/response"
)

// RateLimit 固定窗口限流中间件
//
// 计数放Redis，键按作用域+调用方（已认证用user_id，否则用IP）。
// Redis不可用时放行，限流不作为可用性单点。
func RateLimit(scope string, limit int, window time.Duration) gin.HandlerFunc {
	cfg := config.GetConfig()

	return func(c *gin.Context) {
		if !cfg.RateLimit.Enabled {
			c.Next()
			return
		}

		caller := GetUserID(c)
		if caller == "" {
			caller = c.ClientIP()
		}
		key := fmt.Sprintf("%s:ratelimit:%s:%s", cfg.Redis.Prefix, scope, caller)

		rdb := database.GetRedis()
		ctx := c.Request.Context()

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			logger.GetLogger().WithError(err).Warn("限流计数失败，放行请求")
			c.Next()
			return
		}
		if count == 1 {
			rdb.Expire(ctx, key, window)
		}

		if count > int64(limit) {
			response.TooManyRequests(c, "请求过于频繁，请稍后再试")
			c.Abort()
			return
		}
		c.Next()
	}
}
