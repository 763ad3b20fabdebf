package middleware

import (
	"net/http"
	"strings"

	"kin-spark-go/internal/model"
	"kin-spark-go/internal/repository"
	"kin-spark-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// AdminAuthMiddleware 创建管理后台的 JWT 认证中间件。
// 它从请求头中提取 Bearer token，验证签名与类型，并确认账号仍然启用，
// 然后将 AdminClaims 与完整的 AdminUser 对象存入 Gin 的上下文中。
func AdminAuthMiddleware(jwtManager *token.JWTManager, adminRepo repository.AdminUserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "请求未包含授权头",
			})
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "无效的授权头格式",
			})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "无效或已过期的 token",
			})
			return
		}

		// refresh token 只能换令牌，不能直接访问接口
		if claims.TokenType != token.TypeAccess {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "token 类型错误",
			})
			return
		}

		// 令牌有效期内账号可能被停用，每次请求都要确认
		user, err := adminRepo.FindByID(claims.AdminID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "账号不存在",
			})
			return
		}
		if !user.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    http.StatusForbidden,
				"message": "账号已停用",
			})
			return
		}

		c.Set("claims", claims)
		c.Set("adminUser", user)
		c.Next()
	}
}

// RequireOwner 检查当前账号是否为租户 owner。
// 此中间件必须在 AdminAuthMiddleware 之后使用。
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get("adminUser")
		if !exists {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    http.StatusInternalServerError,
				"message": "无法获取账号信息",
			})
			return
		}

		user, ok := v.(*model.AdminUser)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    http.StatusInternalServerError,
				"message": "账号数据类型错误",
			})
			return
		}

		if user.Role != model.AdminRoleOwner {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    http.StatusForbidden,
				"message": "权限不足，需要 owner 权限",
			})
			return
		}

		c.Next()
	}
}
