package handler

import (
	"errors"
	"net/http"

	"kin-spark-go/internal/service"
	"kin-spark-go/pkg/log"
	"kin-spark-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// AuthHandler 负责管理后台的登录与令牌刷新。
type AuthHandler struct {
	adminService service.AdminService
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(adminService service.AdminService) *AuthHandler {
	return &AuthHandler{adminService: adminService}
}

// LoginRequest 定义了登录 API 的请求体结构。
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 处理管理后台登录请求。
// 凭证错误统一返回 401，不区分账号不存在与密码错误。
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "email 和 password 不能为空",
		})
		return
	}

	accessToken, refreshToken, user, err := h.adminService.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": "邮箱或密码错误",
			})
			return
		}
		log.Errorf("Login: Failed to sign tokens for %s, error: %v", req.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "登录失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Login successful",
		"data": gin.H{
			"token":        accessToken,
			"refreshToken": refreshToken,
			"user":         user,
		},
	})
}

// RefreshTokenRequest 定义了刷新 token API 的请求体结构。
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshToken 处理刷新 token 的请求，旧刷新令牌换发新的令牌对。
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("RefreshToken: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：refreshToken 不能为空",
		})
		return
	}

	newAccessToken, newRefreshToken, err := h.adminService.Refresh(req.RefreshToken)
	if err != nil {
		log.Warnf("RefreshToken: Failed to refresh token, error: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    http.StatusUnauthorized,
			"message": "无效的 refresh token",
		})
		return
	}

	log.Info("Token refreshed successfully")
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Token refreshed successfully",
		"data": gin.H{
			"token":        newAccessToken,
			"refreshToken": newRefreshToken,
		},
	})
}

// Me 返回当前登录账号的信息。
func (h *AuthHandler) Me(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    http.StatusUnauthorized,
			"message": "未认证",
		})
		return
	}

	user, err := h.adminService.Me(claims.AdminID)
	if err != nil {
		log.Warnf("Me: Admin %d not found, error: %v", claims.AdminID, err)
		c.JSON(http.StatusNotFound, gin.H{
			"code":    http.StatusNotFound,
			"message": "账号不存在",
		})
		return
	}

	// 挂件外观跟着租户配置走，前端靠这一个接口完成初始化。
	client, err := h.adminService.Client(claims.ClientID)
	if err != nil {
		log.Errorf("Me: Client %d not found for admin %d, error: %v", claims.ClientID, claims.AdminID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "租户信息加载失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"user":   user,
			"client": client,
		},
	})
}

// currentClaims 从 gin 上下文中取出 JWT 中间件注入的管理员声明。
func currentClaims(c *gin.Context) *token.AdminClaims {
	v, exists := c.Get("claims")
	if !exists {
		return nil
	}
	claims, ok := v.(*token.AdminClaims)
	if !ok {
		return nil
	}
	return claims
}
