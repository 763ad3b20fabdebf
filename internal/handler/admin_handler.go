package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"kin-spark-go/internal/service"
	"kin-spark-go/pkg/log"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// 会话与线索列表的分页上限，避免一次拉取压垮数据库。
const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// AdminHandler 承载管理后台的租户设置、会话回看、线索管理与事件统计。
// 所有查询都以 JWT 里的 ClientID 做数据隔离。
type AdminHandler struct {
	adminService        service.AdminService
	conversationService service.ConversationService
	leadService         service.LeadService
	analyticsService    service.AnalyticsService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(
	adminService service.AdminService,
	conversationService service.ConversationService,
	leadService service.LeadService,
	analyticsService service.AnalyticsService,
) *AdminHandler {
	return &AdminHandler{
		adminService:        adminService,
		conversationService: conversationService,
		leadService:         leadService,
		analyticsService:    analyticsService,
	}
}

// GetSettings 返回当前租户的完整配置。
func (h *AdminHandler) GetSettings(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	client, err := h.adminService.Client(claims.ClientID)
	if err != nil {
		log.Errorf("GetSettings: Client %d not found, error: %v", claims.ClientID, err)
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "租户不存在"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": client})
}

// UpdateSettings 部分更新租户配置，nil 字段不改动。
func (h *AdminHandler) UpdateSettings(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	var patch service.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		log.Warnf("UpdateSettings: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载"})
		return
	}

	client, err := h.adminService.UpdateSettings(claims.ClientID, &patch)
	if err != nil {
		log.Warnf("UpdateSettings: Client %d update rejected, error: %v", claims.ClientID, err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}

	log.Infof("[Admin] 租户 %d 配置已更新", claims.ClientID)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": client})
}

// ListConversations 处理会话列表查询，支持状态、结局与日期范围过滤。
func (h *AdminHandler) ListConversations(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	from, to, err := parseDateRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}
	offset, limit := parsePagination(c)

	items, total, err := h.conversationService.List(
		claims.ClientID, c.Query("state"), c.Query("outcome"), from, to, offset, limit)
	if err != nil {
		log.Errorf("ListConversations: Query failed for client %d, error: %v", claims.ClientID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "会话查询失败"})
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

// ConversationDetail 返回单个会话的元数据、完整转写与线索摘要。
func (h *AdminHandler) ConversationDetail(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	detail, err := h.conversationService.Detail(claims.ClientID, c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在"})
			return
		}
		log.Errorf("ConversationDetail: Query failed, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "会话查询失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": detail})
}

// ListLeads 处理线索列表查询，支持跟进状态与日期范围过滤。
func (h *AdminHandler) ListLeads(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	from, to, err := parseDateRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}
	offset, limit := parsePagination(c)

	leads, total, err := h.leadService.List(claims.ClientID, c.Query("status"), from, to, offset, limit)
	if err != nil {
		log.Errorf("ListLeads: Query failed for client %d, error: %v", claims.ClientID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "线索查询失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"items":  leads,
			"total":  total,
			"offset": offset,
			"limit":  limit,
		},
	})
}

// UpdateLeadRequest 定义了线索跟进更新 API 的请求体结构。
type UpdateLeadRequest struct {
	Status     string `json:"status" binding:"required"`
	AdminNotes string `json:"adminNotes"`
}

// UpdateLead 更新线索的跟进状态与备注。
func (h *AdminHandler) UpdateLead(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	var req UpdateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "status 不能为空"})
		return
	}

	lead, err := h.leadService.UpdateStatus(claims.ClientID, c.Param("id"), req.Status, req.AdminNotes)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "线索不存在"})
			return
		}
		log.Warnf("UpdateLead: Lead %s update rejected, error: %v", c.Param("id"), err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": lead})
}

// ExportLeads 导出线索 CSV，文件名按当天日期生成。
func (h *AdminHandler) ExportLeads(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	from, to, err := parseDateRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}

	filename := fmt.Sprintf("spark-leads-%s.csv", time.Now().Format("2006-01-02"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := h.leadService.ExportCSV(c.Writer, claims.ClientID, c.Query("status"), from, to); err != nil {
		// 响应头已经发出，失败只能记日志
		log.Errorf("ExportLeads: CSV export failed for client %d, error: %v", claims.ClientID, err)
	}
}

// EventsSummary 返回日期范围内各事件类型的计数，默认最近 30 天。
func (h *AdminHandler) EventsSummary(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证"})
		return
	}

	from, to, err := parseDateRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}
	now := time.Now()
	if to == nil {
		to = &now
	}
	if from == nil {
		start := now.AddDate(0, 0, -30)
		from = &start
	}

	counts, err := h.analyticsService.Summary(claims.ClientID, *from, *to)
	if err != nil {
		log.Errorf("EventsSummary: Query failed for client %d, error: %v", claims.ClientID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "事件统计失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"from":   from.Format("2006-01-02"),
			"to":     to.Format("2006-01-02"),
			"counts": counts,
		},
	})
}

// parseDateRange 解析 start_date / end_date 查询参数（YYYY-MM-DD）。
// end_date 会推到当天最后一秒，让范围覆盖整天。
func parseDateRange(c *gin.Context) (*time.Time, *time.Time, error) {
	const timeLayout = "2006-01-02"

	var from, to *time.Time
	if s := c.Query("start_date"); s != "" {
		t, err := time.Parse(timeLayout, s)
		if err != nil {
			return nil, nil, fmt.Errorf("start_date 格式错误，应为 YYYY-MM-DD")
		}
		from = &t
	}
	if s := c.Query("end_date"); s != "" {
		t, err := time.Parse(timeLayout, s)
		if err != nil {
			return nil, nil, fmt.Errorf("end_date 格式错误，应为 YYYY-MM-DD")
		}
		t = t.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
		to = &t
	}
	return from, to, nil
}

// parsePagination 解析 offset / limit 查询参数并裁剪到安全范围。
func parsePagination(c *gin.Context) (offset, limit int) {
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageLimit)))
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return offset, limit
}
