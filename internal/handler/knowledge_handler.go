package handler

import (
	"errors"
	"net/http"

	"kin-spark-go/internal/model"
	"kin-spark-go/internal/service"
	"kin-spark-go/pkg/log"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// 检索预览的 top_k 默认值与上限，跟对话侧的检索保持同一数量级。
const (
	defaultSearchTopK = 5
	maxSearchTopK     = 20
)

// KnowledgeHandler 承载管理后台的知识条目维护与检索预览。
type KnowledgeHandler struct {
	knowledgeService service.KnowledgeService
	adminService     service.AdminService
}

// NewKnowledgeHandler 创建一个新的 KnowledgeHandler 实例。
func NewKnowledgeHandler(knowledgeService service.KnowledgeService, adminService service.AdminService) *KnowledgeHandler {
	return &KnowledgeHandler{
		knowledgeService: knowledgeService,
		adminService:     adminService,
	}
}

// KnowledgeItemRequest 定义了知识条目创建与更新 API 的请求体结构。
type KnowledgeItemRequest struct {
	Title       string `json:"title" binding:"required"`
	Content     string `json:"content" binding:"required"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Priority    int    `json:"priority"`
	Active      *bool  `json:"active"`
}

func (r *KnowledgeItemRequest) toItem() *model.KnowledgeItem {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	category := r.Category
	if category == "" {
		category = model.CategoryCompany
	}
	return &model.KnowledgeItem{
		Title:       r.Title,
		Content:     r.Content,
		Category:    category,
		Subcategory: r.Subcategory,
		Priority:    r.Priority,
		Active:      active,
	}
}

// List 返回知识条目列表，支持分类过滤与分页。
func (h *KnowledgeHandler) List(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	offset, limit := parsePagination(c)
	items, total, err := h.knowledgeService.List(claims.ClientID, c.Query("category"), offset, limit)
	if err != nil {
		log.Errorf("ListKnowledge: Query failed for client %d, error: %v", claims.ClientID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "知识条目查询失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"items":  items,
			"total":  total,
			"offset": offset,
			"limit":  limit,
		},
	})
}

// Stats 返回知识库的条目统计。
func (h *KnowledgeHandler) Stats(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	stats, err := h.knowledgeService.Stats(claims.ClientID)
	if err != nil {
		log.Errorf("KnowledgeStats: Query failed for client %d, error: %v", claims.ClientID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "知识库统计失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": stats})
}

// Create 新建知识条目，正文重复时返回 409。
func (h *KnowledgeHandler) Create(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	var req KnowledgeItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "title 和 content 不能为空"})
		return
	}

	client, err := h.adminService.Client(claims.ClientID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "租户信息加载失败"})
		return
	}

	item, err := h.knowledgeService.Create(c.Request.Context(), client, req.toItem())
	if err != nil {
		if errors.Is(err, service.ErrDuplicateContent) {
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": err.Error()})
			return
		}
		log.Warnf("CreateKnowledge: Rejected for client %d, error: %v", claims.ClientID, err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": item})
}

// Update 更新知识条目，正文变化会触发重新向量化。
func (h *KnowledgeHandler) Update(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	var req KnowledgeItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "title 和 content 不能为空"})
		return
	}

	client, err := h.adminService.Client(claims.ClientID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "租户信息加载失败"})
		return
	}

	item, err := h.knowledgeService.Update(c.Request.Context(), client, c.Param("id"), req.toItem())
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "知识条目不存在"})
		case errors.Is(err, service.ErrDuplicateContent):
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": err.Error()})
		default:
			log.Warnf("UpdateKnowledge: Rejected for item %s, error: %v", c.Param("id"), err)
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": item})
}

// Delete 删除知识条目并摘除向量索引。
func (h *KnowledgeHandler) Delete(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	client, err := h.adminService.Client(claims.ClientID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "租户信息加载失败"})
		return
	}

	if err := h.knowledgeService.Delete(c.Request.Context(), client, c.Param("id")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "知识条目不存在"})
			return
		}
		log.Errorf("DeleteKnowledge: Failed for item %s, error: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除知识条目失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// SearchRequest 定义了检索预览 API 的请求体结构。
type SearchRequest struct {
	Query string `json:"query" binding:"required"`
	TopK  int    `json:"top_k"`
}

// Search 以当前租户身份跑一次真实检索，供后台验证知识覆盖。
func (h *KnowledgeHandler) Search(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "query 不能为空"})
		return
	}
	if req.TopK <= 0 {
		req.TopK = defaultSearchTopK
	}
	if req.TopK > maxSearchTopK {
		req.TopK = maxSearchTopK
	}

	client, err := h.adminService.Client(claims.ClientID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "租户信息加载失败"})
		return
	}

	chunks, err := h.knowledgeService.Search(c.Request.Context(), client, req.Query, req.TopK)
	if err != nil {
		log.Errorf("SearchKnowledge: Retrieval failed for client %d, error: %v", claims.ClientID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "检索失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"query":  req.Query,
			"chunks": chunks,
		},
	})
}
