package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"kin-spark-go/internal/config"
)

// geminiClient 通过 Google 官方 SDK 访问 Gemini 系列模型。
type geminiClient struct {
	model  string
	client *genai.Client
	gen    config.LLMGenerationConfig
}

func newGeminiClient(cfg config.ProviderConfig, model string, llmCfg config.LLMConfig) (Client, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &geminiClient{
		model:  model,
		client: client,
		gen:    llmCfg.Generation,
	}, nil
}

func (c *geminiClient) backendErr(err error) *BackendError {
	return &BackendError{Provider: "gemini", Model: c.model, Err: err}
}

// prepare 将 role-based 消息转换为 Gemini 的会话形态：
// 首条 system 消息作为 SystemInstruction，其余 system 消息降级为 user 轮次
// （Gemini 不支持历史中出现 system 角色），最后一条消息作为本次发送内容。
func (c *geminiClient) prepare(messages []Message, gen *GenerationParams) (*genai.GenerativeModel, []*genai.Content, []genai.Part, error) {
	if len(messages) == 0 {
		return nil, nil, nil, fmt.Errorf("empty message list")
	}

	model := c.client.GenerativeModel(c.model)
	if gen == nil {
		gen = defaultParams(c.gen)
	}
	if gen.Temperature != nil {
		model.SetTemperature(float32(*gen.Temperature))
	}
	if gen.TopP != nil {
		model.SetTopP(float32(*gen.TopP))
	}
	if gen.MaxTokens != nil {
		model.SetMaxOutputTokens(int32(*gen.MaxTokens))
	}

	var contents []*genai.Content
	systemSet := false
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if !systemSet {
				model.SystemInstruction = &genai.Content{
					Parts: []genai.Part{genai.Text(msg.Content)},
				}
				systemSet = true
				continue
			}
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		case RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		}
	}

	if len(contents) == 0 {
		return nil, nil, nil, fmt.Errorf("no sendable content after system instruction")
	}
	last := contents[len(contents)-1]
	history := contents[:len(contents)-1]
	return model, history, last.Parts, nil
}

// Complete 发起非流式补全。
func (c *geminiClient) Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	model, history, parts, err := c.prepare(messages, gen)
	if err != nil {
		return "", c.backendErr(err)
	}

	session := model.StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, parts...)
	if err != nil {
		return "", c.backendErr(err)
	}

	var sb strings.Builder
	appendResponseText(&sb, resp)
	if sb.Len() == 0 {
		return "", c.backendErr(fmt.Errorf("response contained no text parts"))
	}
	return sb.String(), nil
}

// Stream 发起流式补全。onDelta 返回错误时中止迭代，该错误原样上抛。
func (c *geminiClient) Stream(ctx context.Context, messages []Message, gen *GenerationParams, onDelta DeltaFunc) error {
	model, history, parts, err := c.prepare(messages, gen)
	if err != nil {
		return c.backendErr(err)
	}

	session := model.StartChat()
	session.History = history

	iter := session.SendMessageStream(ctx, parts...)
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return c.backendErr(err)
		}

		var sb strings.Builder
		appendResponseText(&sb, resp)
		if sb.Len() == 0 {
			continue
		}
		if err := onDelta(sb.String()); err != nil {
			return err
		}
	}
}

// appendResponseText 提取响应里所有文本 part。
func appendResponseText(sb *strings.Builder, resp *genai.GenerateContentResponse) {
	if resp == nil {
		return
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				sb.WriteString(string(txt))
			}
		}
	}
}
