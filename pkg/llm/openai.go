package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kin-spark-go/internal/config"
)

// openaiClient 通过 OpenAI 兼容的 /chat/completions 接口访问模型，
// 覆盖 moonshot、groq、deepseek 等提供商。
type openaiClient struct {
	provider string
	model    string
	cfg      config.ProviderConfig
	gen      config.LLMGenerationConfig
	client   *http.Client
}

func newOpenAIClient(provider string, cfg config.ProviderConfig, model string, llmCfg config.LLMConfig) Client {
	timeout := time.Duration(llmCfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &openaiClient{
		provider: provider,
		model:    model,
		cfg:      cfg,
		gen:      llmCfg.Generation,
		client:   &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type chatCompleteResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *openaiClient) backendErr(status int, err error) *BackendError {
	return &BackendError{Provider: c.provider, Model: c.model, Status: status, Err: err}
}

func (c *openaiClient) buildRequest(messages []Message, gen *GenerationParams, stream bool) chatRequest {
	reqBody := chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   stream,
	}
	if gen == nil {
		gen = defaultParams(c.gen)
	}
	reqBody.Temperature = gen.Temperature
	reqBody.TopP = gen.TopP
	reqBody.MaxTokens = gen.MaxTokens
	return reqBody
}

func (c *openaiClient) post(ctx context.Context, reqBody chatRequest, accept string) (*http.Response, error) {
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return c.client.Do(req)
}

// Complete 发起非流式补全。
func (c *openaiClient) Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	resp, err := c.post(ctx, c.buildRequest(messages, gen, false), "")
	if err != nil {
		return "", c.backendErr(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", c.backendErr(resp.StatusCode, fmt.Errorf("non-200 response: %s", strings.TrimSpace(string(bodyBytes))))
	}

	var completeResp chatCompleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&completeResp); err != nil {
		return "", c.backendErr(0, fmt.Errorf("failed to decode response: %w", err))
	}
	if len(completeResp.Choices) == 0 {
		return "", c.backendErr(0, fmt.Errorf("response contained no choices"))
	}
	return completeResp.Choices[0].Message.Content, nil
}

// Stream 发起流式补全，按 SSE 的 "data: " 行协议解析增量。
// onDelta 返回错误时立即中止读取，该错误原样上抛（不包装为 BackendError）。
func (c *openaiClient) Stream(ctx context.Context, messages []Message, gen *GenerationParams, onDelta DeltaFunc) error {
	resp, err := c.post(ctx, c.buildRequest(messages, gen, true), "text/event-stream")
	if err != nil {
		return c.backendErr(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return c.backendErr(resp.StatusCode, fmt.Errorf("non-200 response: %s", strings.TrimSpace(string(bodyBytes))))
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return c.backendErr(0, fmt.Errorf("failed to read from stream: %w", err))
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			return nil
		}

		var chunk chatStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		if err := onDelta(content); err != nil {
			return err
		}
	}
}
