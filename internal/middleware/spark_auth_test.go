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
	"kin-spark-go/pkg/hash"
)

type fakeClientRepo struct {
	byHash map[string]*model.Client
}

func (r *fakeClientRepo) Create(*model.Client) error               { return nil }
func (r *fakeClientRepo) FindByID(uint) (*model.Client, error)     { return nil, gorm.ErrRecordNotFound }
func (r *fakeClientRepo) FindByUUID(string) (*model.Client, error) { return nil, gorm.ErrRecordNotFound }

func (r *fakeClientRepo) FindByAPIKeyHash(h string) (*model.Client, error) {
	if client, ok := r.byHash[h]; ok {
		return client, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeClientRepo) UpdateSettling(uint, model.SettlingConfig) error { return nil }
func (r *fakeClientRepo) UpdateOrientation(uint, string) error            { return nil }
func (r *fakeClientRepo) UpdateOrientationOverride(uint, string) error    { return nil }
func (r *fakeClientRepo) UpdateLimits(uint, map[string]interface{}) error { return nil }

func newSparkAuthRouter(repo *fakeClientRepo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SparkAuthMiddleware(repo))
	r.GET("/ping", func(c *gin.Context) {
		client := c.MustGet("client").(*model.Client)
		c.String(http.StatusOK, client.Slug)
	})
	return r
}

func TestSparkAuthAcceptsKnownKey(t *testing.T) {
	const apiKey = "sk-spark-test-key"
	repo := &fakeClientRepo{byHash: map[string]*model.Client{
		hash.HashAPIKey(apiKey): {ID: 1, Slug: "acme", Active: true},
	}}
	router := newSparkAuthRouter(repo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(SparkKeyHeader, apiKey)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acme", w.Body.String())
}

func TestSparkAuthRejectsMissingOrUnknownKey(t *testing.T) {
	repo := &fakeClientRepo{byHash: map[string]*model.Client{}}
	router := newSparkAuthRouter(repo)

	// 缺少请求头
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 未知密钥
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(SparkKeyHeader, "sk-spark-nope")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSparkAuthRejectsInactiveClient(t *testing.T) {
	const apiKey = "sk-spark-disabled"
	repo := &fakeClientRepo{byHash: map[string]*model.Client{
		hash.HashAPIKey(apiKey): {ID: 2, Slug: "paused", Active: false},
	}}
	router := newSparkAuthRouter(repo)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(SparkKeyHeader, apiKey)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}
