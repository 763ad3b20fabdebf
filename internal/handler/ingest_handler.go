package handler

import (
	"net/http"

	"kin-spark-go/internal/service"
	"kin-spark-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// IngestHandler 负责知识文档的摄取入口。
// 三种来源都只做入队，真正的抽取、切块、向量化在后台消费者里完成。
type IngestHandler struct {
	ingestService service.IngestService
}

// NewIngestHandler 创建一个新的 IngestHandler 实例。
func NewIngestHandler(ingestService service.IngestService) *IngestHandler {
	return &IngestHandler{ingestService: ingestService}
}

// IngestTextRequest 定义了文本摄取 API 的请求体结构。
type IngestTextRequest struct {
	Title   string `json:"title"`
	Content string `json:"content" binding:"required"`
}

// IngestText 处理纯文本摄取请求。
func (h *IngestHandler) IngestText(c *gin.Context) {
	var req IngestTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "content 不能为空",
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

	sourceID, err := h.ingestService.IngestText(c.Request.Context(), client, req.Title, req.Content)
	if err != nil {
		log.Warnf("[IngestHandler] 文本摄取入队失败, Client: %s, Error: %v", client.Slug, err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"source_id": sourceID},
	})
}

// IngestURLRequest 定义了网页摄取 API 的请求体结构。
type IngestURLRequest struct {
	URL   string `json:"url" binding:"required"`
	Title string `json:"title"`
}

// IngestURL 处理网页摄取请求。
func (h *IngestHandler) IngestURL(c *gin.Context) {
	var req IngestURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "url 不能为空",
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

	sourceID, err := h.ingestService.IngestURL(c.Request.Context(), client, req.Title, req.URL)
	if err != nil {
		log.Warnf("[IngestHandler] 网页摄取入队失败, Client: %s, URL: %s, Error: %v", client.Slug, req.URL, err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"source_id": sourceID},
	})
}

// IngestFile 处理 multipart 文件摄取请求，文件先归档到对象存储再入队。
func (h *IngestHandler) IngestFile(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "缺少 file 字段",
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

	file, err := fileHeader.Open()
	if err != nil {
		log.Errorf("[IngestHandler] 打开上传文件失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "读取上传文件失败",
		})
		return
	}
	defer file.Close()

	sourceID, err := h.ingestService.IngestFile(c.Request.Context(), client, fileHeader.Filename, fileHeader.Size, file)
	if err != nil {
		log.Warnf("[IngestHandler] 文件摄取入队失败, Client: %s, File: %s, Error: %v", client.Slug, fileHeader.Filename, err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"source_id": sourceID},
	})
}

// DeleteSource 删除一个摄取来源及其全部分块和向量。
func (h *IngestHandler) DeleteSource(c *gin.Context) {
	sourceID := c.Param("id")
	if sourceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "缺少来源标识",
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

	if err := h.ingestService.DeleteSource(c.Request.Context(), client, sourceID); err != nil {
		log.Errorf("[IngestHandler] 删除来源失败, Source: %s, Error: %v", sourceID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "删除来源失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}
