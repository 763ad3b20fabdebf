// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"kin-spark-go/internal/model"
	"kin-spark-go/internal/service"
	"kin-spark-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 挂件嵌在客户自己的站点上，来源不可枚举
	},
}

// ChatHandler 负责访客对话的 SSE 与 WebSocket 通道。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler 实例。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// ChatRequest 定义了对话接口的请求体结构。
type ChatRequest struct {
	Message      string `json:"message" binding:"required"`
	SessionToken string `json:"session_token"`
}

// Stream 处理一轮对话请求，事件以 SSE 下发。
func (h *ChatHandler) Stream(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[ChatHandler] 无效的对话请求: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "message 不能为空",
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

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.Flush()

	em := &sseEmitter{w: c.Writer}
	if err := h.chatService.ProcessTurn(c.Request.Context(), client, req.SessionToken, req.Message, c.ClientIP(), em); err != nil {
		// 流已经开启，只能记日志，无法再改写响应
		log.Warnf("[ChatHandler] SSE 轮次处理中断: %v", err)
	}
}

// HandleWS 处理挂件的 WebSocket 连接。每个连接承载一轮对话，
// 事件与 SSE 同构，以 {"event":..., "data":...} JSON 帧下发。
func (h *ChatHandler) HandleWS(c *gin.Context) {
	client := currentClient(c)
	if client == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "无法获取租户信息",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	_, message, err := conn.ReadMessage()
	if err != nil {
		log.Warnf("[ChatHandler] 读取 WebSocket 消息失败: %v", err)
		return
	}

	em := &wsEmitter{conn: conn}
	var req ChatRequest
	if err := json.Unmarshal(message, &req); err != nil || req.Message == "" {
		_ = em.Error("A message is required.")
		return
	}

	if err := h.chatService.ProcessTurn(c.Request.Context(), client, req.SessionToken, req.Message, c.ClientIP(), em); err != nil {
		log.Warnf("[ChatHandler] WebSocket 轮次处理中断: %v", err)
	}
}

// sseEmitter 把引擎事件写成 SSE 帧，每个事件即时刷出。
type sseEmitter struct {
	w gin.ResponseWriter
}

func (e *sseEmitter) send(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	e.w.Flush()
	return nil
}

func (e *sseEmitter) Session(sessionToken, conversationUUID string, turnsRemaining int) error {
	return e.send("session", gin.H{
		"session_token":   sessionToken,
		"conversation_id": conversationUUID,
		"turns_remaining": turnsRemaining,
	})
}

func (e *sseEmitter) Token(text string) error {
	return e.send("token", gin.H{"text": text})
}

func (e *sseEmitter) WindDown() error {
	return e.send("wind_down", gin.H{})
}

func (e *sseEmitter) Done(terminated bool) error {
	if terminated {
		return e.send("done", gin.H{"terminated": true})
	}
	return e.send("done", gin.H{})
}

func (e *sseEmitter) Error(message string) error {
	return e.send("error", gin.H{"message": message})
}

// wsEmitter 把引擎事件写成 WebSocket JSON 帧。
type wsEmitter struct {
	conn *websocket.Conn
}

func (e *wsEmitter) send(event string, data interface{}) error {
	frame, err := json.Marshal(gin.H{"event": event, "data": data})
	if err != nil {
		return err
	}
	return e.conn.WriteMessage(websocket.TextMessage, frame)
}

func (e *wsEmitter) Session(sessionToken, conversationUUID string, turnsRemaining int) error {
	return e.send("session", gin.H{
		"session_token":   sessionToken,
		"conversation_id": conversationUUID,
		"turns_remaining": turnsRemaining,
	})
}

func (e *wsEmitter) Token(text string) error {
	return e.send("token", gin.H{"text": text})
}

func (e *wsEmitter) WindDown() error {
	return e.send("wind_down", gin.H{})
}

func (e *wsEmitter) Done(terminated bool) error {
	if terminated {
		return e.send("done", gin.H{"terminated": true})
	}
	return e.send("done", gin.H{})
}

func (e *wsEmitter) Error(message string) error {
	return e.send("error", gin.H{"message": message})
}

// currentClient 取出鉴权中间件注入的租户对象。
func currentClient(c *gin.Context) *model.Client {
	v, exists := c.Get("client")
	if !exists {
		return nil
	}
	client, ok := v.(*model.Client)
	if !ok {
		return nil
	}
	return client
}

var (
	_ service.Emitter = (*sseEmitter)(nil)
	_ service.Emitter = (*wsEmitter)(nil)
)
