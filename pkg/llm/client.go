// Package llm provides clients for interacting with Large Language Models.
//
// 模型标识统一为 "provider/model" 形式，Router 负责按前缀把请求路由到
// 具体提供商的实现（Gemini 走原生 SDK，其余走 OpenAI 兼容接口）。
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"kin-spark-go/internal/config"
)

// 消息角色。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 表示一条角色消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为。
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// DeltaFunc 逐段接收流式输出。返回非 nil 错误时，客户端必须立即停止
// 读取并返回该错误（通常用于下游连接断开后的取消）。
type DeltaFunc func(delta string) error

// Client defines the interface for an LLM client bound to one concrete model.
type Client interface {
	// Complete 发起一次非流式补全，返回完整文本。
	Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
	// Stream 发起一次流式补全，将文本增量依次交给 onDelta。
	Stream(ctx context.Context, messages []Message, gen *GenerationParams, onDelta DeltaFunc) error
}

// BackendError 是所有提供商失败的统一包装，调用方据此执行回退策略，
// 而不必关心具体是哪种传输层错误。
type BackendError struct {
	Provider string
	Model    string
	Status   int // HTTP 状态码，非 HTTP 错误时为 0
	Err      error
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm backend %s/%s failed with status %d: %v", e.Provider, e.Model, e.Status, e.Err)
	}
	return fmt.Sprintf("llm backend %s/%s failed: %v", e.Provider, e.Model, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// SplitModelID 将 "provider/model" 拆分为提供商与模型名。
func SplitModelID(modelID string) (provider, model string, err error) {
	parts := strings.SplitN(modelID, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("非法的模型标识: %q (期望 provider/model)", modelID)
	}
	return parts[0], parts[1], nil
}

// Router 按模型标识选择并缓存具体的 Client 实现。
type Router struct {
	cfg config.LLMConfig

	mu      sync.Mutex
	clients map[string]Client
}

// NewRouter 创建模型路由器。
func NewRouter(cfg config.LLMConfig) *Router {
	return &Router{
		cfg:     cfg,
		clients: make(map[string]Client),
	}
}

// ClientFor 返回绑定到给定 "provider/model" 的客户端，同一标识复用实例。
func (r *Router) ClientFor(modelID string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[modelID]; ok {
		return c, nil
	}

	provider, model, err := SplitModelID(modelID)
	if err != nil {
		return nil, err
	}
	providerCfg, ok := r.cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("未配置的模型提供商: %q", provider)
	}

	var c Client
	if provider == "gemini" {
		c, err = newGeminiClient(providerCfg, model, r.cfg)
		if err != nil {
			return nil, err
		}
	} else {
		c = newOpenAIClient(provider, providerCfg, model, r.cfg)
	}

	r.clients[modelID] = c
	return c, nil
}

// defaultParams 把配置文件中的生成参数转换为调用参数（零值不注入）。
func defaultParams(cfg config.LLMGenerationConfig) *GenerationParams {
	gen := &GenerationParams{}
	if cfg.Temperature != 0 {
		t := cfg.Temperature
		gen.Temperature = &t
	}
	if cfg.TopP != 0 {
		p := cfg.TopP
		gen.TopP = &p
	}
	if cfg.MaxTokens != 0 {
		m := cfg.MaxTokens
		gen.MaxTokens = &m
	}
	return gen
}
