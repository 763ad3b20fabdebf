package handler

import (
	"net/http"

	"kin-spark-go/internal/model"
	"kin-spark-go/internal/service"
	"kin-spark-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// LeadHandler 负责挂件侧的线索提交。
type LeadHandler struct {
	leadService service.LeadService
}

// NewLeadHandler 创建一个新的 LeadHandler 实例。
func NewLeadHandler(leadService service.LeadService) *LeadHandler {
	return &LeadHandler{leadService: leadService}
}

// CaptureLeadRequest 定义了线索提交 API 的请求体结构。
type CaptureLeadRequest struct {
	ConversationID string `json:"conversation_id"`
	Email          string `json:"email" binding:"required"`
	Name           string `json:"name"`
	CompanyName    string `json:"company_name"`
	Phone          string `json:"phone"`
	Notes          string `json:"notes"`
}

// Capture 处理访客在挂件里留下的联系方式。
// CRM 同步走异步任务，这里的响应从不等待也从不反映同步结果。
func (h *LeadHandler) Capture(c *gin.Context) {
	var req CaptureLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[LeadHandler] 无效的线索请求: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "email 不能为空",
		})
		return
	}

	client := currentClient(c)
	if client == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "无法获取租户信息",
		})
		return
	}

	draft := &model.Lead{
		ConversationUUID: req.ConversationID,
		Email:            req.Email,
		Name:             req.Name,
		Company:          req.CompanyName,
		Phone:            req.Phone,
		Notes:            req.Notes,
	}
	lead, err := h.leadService.Capture(c.Request.Context(), client, draft)
	if err != nil {
		log.Warnf("[LeadHandler] 线索保存失败, Client: %s, Error: %v", client.Slug, err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": err.Error(),
		})
		return
	}

	log.Infof("[LeadHandler] 线索已捕获, Client: %s, LeadUUID: %s", client.Slug, lead.UUID)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"lead_id": lead.UUID},
	})
}
