package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"kin-spark-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// maxLoggedBody 请求与响应体在日志中的截断上限，对话内容可能很长。
const maxLoggedBody = 2048

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应同时写入 gin.ResponseWriter 和内部 buffer。
func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// RequestLogger 是一个 Gin 中间件，用于记录详细的请求和响应日志。
// 流式端点（SSE / WebSocket）只记录元信息，不缓存响应体。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		streaming := isStreamingPath(c.Request.URL.Path)

		// 读取并重新缓存请求体，便于后续处理函数正常读取
		var requestBody []byte
		if !streaming && c.Request.Body != nil {
			requestBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		var blw *bodyLogWriter
		if !streaming {
			blw = &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
			c.Writer = blw
		}

		c.Next()

		latency := time.Since(startTime)
		fields := []interface{}{
			"statusCode", c.Writer.Status(),
			"latency", latency.String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		}
		if !streaming {
			fields = append(fields,
				"requestBody", truncateBody(requestBody),
				"responseBody", truncateBody(blw.body.Bytes()),
			)
		}
		log.Infow("HTTP Request Log", fields...)
	}
}

// isStreamingPath 判断路径是否为流式端点。
func isStreamingPath(path string) bool {
	return strings.HasSuffix(path, "/spark/chat") || strings.HasSuffix(path, "/chat/ws")
}

func truncateBody(body []byte) string {
	if len(body) > maxLoggedBody {
		return string(body[:maxLoggedBody]) + "...(truncated)"
	}
	return string(body)
}
