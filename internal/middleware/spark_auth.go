// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"

	"kin-spark-go/internal/repository"
	"kin-spark-go/pkg/hash"
	"kin-spark-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SparkKeyHeader 挂件请求携带租户密钥的请求头。
const SparkKeyHeader = "X-Spark-Key"

// SparkAuthMiddleware 创建挂件侧的租户认证中间件。
// 请求头中的明文密钥先做 SHA-256，再按摘要查租户，数据库不存明文。
// 认证通过后将完整的 Client 对象存入 Gin 的上下文中。
func SparkAuthMiddleware(clientRepo repository.ClientRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(SparkKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "请求未包含 " + SparkKeyHeader + " 请求头",
			})
			return
		}

		client, err := clientRepo.FindByAPIKeyHash(hash.HashAPIKey(key))
		if err != nil || client == nil {
			// 未知密钥不区分“不存在”与“查询失败”，避免给探测者信息
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "无效的挂件密钥",
			})
			return
		}

		if !client.Active {
			log.Warnf("[Auth] 停用租户 %s 仍在请求挂件接口", client.Slug)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    http.StatusForbidden,
				"message": "该租户已停用",
			})
			return
		}

		c.Set("client", client)
		c.Next()
	}
}
