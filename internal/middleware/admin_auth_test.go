package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"kin-spark-go/internal/model"
	"kin-spark-go/pkg/token"
)

type fakeAdminRepo struct {
	users map[uint]*model.AdminUser
}

func (r *fakeAdminRepo) Create(*model.AdminUser) error { return nil }

func (r *fakeAdminRepo) FindByID(id uint) (*model.AdminUser, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeAdminRepo) FindByEmail(string) (*model.AdminUser, error) {
	return nil, gorm.ErrRecordNotFound
}

func newAdminAuthRouter(jwtManager *token.JWTManager, repo *fakeAdminRepo, ownerOnly bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := []gin.HandlerFunc{AdminAuthMiddleware(jwtManager, repo)}
	if ownerOnly {
		handlers = append(handlers, RequireOwner())
	}
	handlers = append(handlers, func(c *gin.Context) {
		claims := c.MustGet("claims").(*token.AdminClaims)
		c.String(http.StatusOK, claims.Email)
	})
	r.GET("/ping", handlers...)
	return r
}

func TestAdminAuthAcceptsAccessToken(t *testing.T) {
	jwtManager := token.NewJWTManager("mw-test-secret", 1, 7)
	repo := &fakeAdminRepo{users: map[uint]*model.AdminUser{
		1: {ID: 1, Email: "owner@acme.test", Role: model.AdminRoleOwner, Active: true},
	}}
	router := newAdminAuthRouter(jwtManager, repo, false)

	access, err := jwtManager.GenerateToken(1, "owner@acme.test", model.AdminRoleOwner, 42)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "owner@acme.test", w.Body.String())
}

func TestAdminAuthRejectsBadTokens(t *testing.T) {
	jwtManager := token.NewJWTManager("mw-test-secret", 1, 7)
	repo := &fakeAdminRepo{users: map[uint]*model.AdminUser{
		1: {ID: 1, Email: "owner@acme.test", Role: model.AdminRoleOwner, Active: true},
	}}
	router := newAdminAuthRouter(jwtManager, repo, false)

	refresh, err := jwtManager.GenerateRefreshToken(1, "owner@acme.test", model.AdminRoleOwner, 42)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"缺少授权头", ""},
		{"非 Bearer 格式", "Token abc"},
		{"伪造 token", "Bearer not-a-jwt"},
		{"refresh 不能当 access 用", "Bearer " + refresh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAdminAuthRejectsDeactivatedAccount(t *testing.T) {
	jwtManager := token.NewJWTManager("mw-test-secret", 1, 7)
	repo := &fakeAdminRepo{users: map[uint]*model.AdminUser{
		2: {ID: 2, Email: "gone@acme.test", Role: model.AdminRoleAdmin, Active: false},
	}}
	router := newAdminAuthRouter(jwtManager, repo, false)

	access, err := jwtManager.GenerateToken(2, "gone@acme.test", model.AdminRoleAdmin, 42)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireOwnerBlocksAdminRole(t *testing.T) {
	jwtManager := token.NewJWTManager("mw-test-secret", 1, 7)
	repo := &fakeAdminRepo{users: map[uint]*model.AdminUser{
		1: {ID: 1, Email: "owner@acme.test", Role: model.AdminRoleOwner, Active: true},
		3: {ID: 3, Email: "staff@acme.test", Role: model.AdminRoleAdmin, Active: true},
	}}
	router := newAdminAuthRouter(jwtManager, repo, true)

	ownerToken, err := jwtManager.GenerateToken(1, "owner@acme.test", model.AdminRoleOwner, 42)
	require.NoError(t, err)
	staffToken, err := jwtManager.GenerateToken(3, "staff@acme.test", model.AdminRoleAdmin, 42)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer "+ownerToken)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer "+staffToken)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
