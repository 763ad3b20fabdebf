package middleware

import (
	"fmt"
	"net/http"
	"time"

	"kin-spark-go/internal/model"
	"kin-spark-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// rateLimitWindow 固定一分钟计数窗口，键随窗口过期自动回收。
const rateLimitWindow = time.Minute

// WidgetRateLimiter 按 租户+IP 的分钟窗口限流挂件接口。
// 每个租户可配置自己的 RPM，零值回退到产品默认。
// Redis 故障时放行请求：限流是保护层，不能把自己变成故障点。
func WidgetRateLimiter(rdb *redis.Client, defaultRPM int) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get("client")
		if !exists {
			c.Next()
			return
		}
		client, ok := v.(*model.Client)
		if !ok {
			c.Next()
			return
		}

		limit := client.RateLimitRPM
		if limit <= 0 {
			limit = defaultRPM
		}

		key := fmt.Sprintf("spark:ratelimit:%d:%s", client.ID, c.ClientIP())
		if !allow(c, rdb, key, limit) {
			return
		}
		c.Next()
	}
}

// AdminRateLimiter 按 IP 的分钟窗口限流管理后台接口。
func AdminRateLimiter(rdb *redis.Client, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("spark:ratelimit:admin:%s", c.ClientIP())
		if !allow(c, rdb, key, limit) {
			return
		}
		c.Next()
	}
}

// allow 对计数键做 INCR，首次命中时设置窗口 TTL，超限时中止请求。
func allow(c *gin.Context, rdb *redis.Client, key string, limit int) bool {
	if limit <= 0 {
		return true
	}

	ctx := c.Request.Context()
	count, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		log.Warnf("[RateLimit] Redis 计数失败，放行请求: %v", err)
		return true
	}
	if count == 1 {
		if err := rdb.Expire(ctx, key, rateLimitWindow).Err(); err != nil {
			log.Warnf("[RateLimit] 设置窗口过期失败: %v", err)
		}
	}

	if count > int64(limit) {
		c.Header("Retry-After", "60")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"code":    http.StatusTooManyRequests,
			"message": "请求过于频繁，请稍后再试",
		})
		return false
	}
	return true
}
