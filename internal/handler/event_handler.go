package handler

import (
	"net/http"

	"kin-spark-go/internal/model"
	"kin-spark-go/internal/service"
	"kin-spark-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// EventHandler 负责挂件侧的行为埋点上报。
type EventHandler struct {
	analytics service.AnalyticsService
}

// NewEventHandler 创建一个新的 EventHandler 实例。
func NewEventHandler(analytics service.AnalyticsService) *EventHandler {
	return &EventHandler{analytics: analytics}
}

// RecordEventRequest 定义了埋点上报 API 的请求体结构。
type RecordEventRequest struct {
	EventType      string        `json:"event_type" binding:"required"`
	ConversationID string        `json:"conversation_id"`
	Metadata       model.JSONMap `json:"metadata"`
}

// Record 处理挂件上报的埋点事件，纯插入，失败也不影响挂件。
func (h *EventHandler) Record(c *gin.Context) {
	var req RecordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "event_type 不能为空",
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

	if !model.ValidEventType(req.EventType) {
		log.Warnf("[EventHandler] 未知的事件类型: %s", req.EventType)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "未知的事件类型",
		})
		return
	}

	h.analytics.Record(client.ID, req.ConversationID, req.EventType, req.Metadata)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}
