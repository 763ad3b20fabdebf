// Package token 提供了 JWT 的生成/验证以及随机令牌生成功能。
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// token 类型，防止 refresh token 被当作 access token 使用（反之亦然）。
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// JWTManager 负责管理后台登录态 JWT 的生成和验证。
type JWTManager struct {
	secretKey       []byte
	accessTokenDur  time.Duration
	refreshTokenDur time.Duration
}

// AdminClaims 是管理后台用户的 JWT 载荷。
// ClientID 绑定账号所属租户，后续所有管理接口都以它做数据隔离。
type AdminClaims struct {
	AdminID   uint   `json:"adminId"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	ClientID  uint   `json:"clientId"`
	TokenType string `json:"tokenType"`
	jwt.RegisteredClaims
}

// NewJWTManager 创建一个新的 JWTManager 实例。
func NewJWTManager(secret string, accessTokenExpireHours, refreshTokenExpireDays int) *JWTManager {
	return &JWTManager{
		secretKey:       []byte(secret),
		accessTokenDur:  time.Hour * time.Duration(accessTokenExpireHours),
		refreshTokenDur: time.Duration(refreshTokenExpireDays) * 24 * time.Hour,
	}
}

func (m *JWTManager) generate(adminID uint, email, role string, clientID uint, tokenType string, dur time.Duration) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		AdminID:   adminID,
		Email:     email,
		Role:      role,
		ClientID:  clientID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(dur)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// GenerateToken 生成一个新的 access token。
func (m *JWTManager) GenerateToken(adminID uint, email, role string, clientID uint) (string, error) {
	return m.generate(adminID, email, role, clientID, TypeAccess, m.accessTokenDur)
}

// GenerateRefreshToken 生成一个新的 refresh token，有效期更长。
func (m *JWTManager) GenerateRefreshToken(adminID uint, email, role string, clientID uint) (string, error) {
	return m.generate(adminID, email, role, clientID, TypeRefresh, m.refreshTokenDur)
}

// VerifyToken 验证 token 字符串，有效时返回其中的 AdminClaims。
func (m *JWTManager) VerifyToken(tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AdminClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// GenerateRandomString generates a random hex string of length*2 characters.
// 会话令牌使用 32 字节随机数（64 位十六进制字符）。
func GenerateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a less random string on error
		return fmt.Sprintf("fallback%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
