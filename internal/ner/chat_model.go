package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"resume-parser-go/internal/logger"
	"resume-parser-go/internal/tracing"
)

const (
	// DefaultAPIURL DashScope 的 OpenAI 兼容接口
	DefaultAPIURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	// DefaultModel 默认模型
	DefaultModel = "qwen-turbo"
)

// ChatModel OpenAI 兼容的 chat/completions 客户端，只支持非流式文本生成
type ChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature float64
	httpClient  *http.Client
	logger      zerolog.Logger
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// ChatModelOption ChatModel 构造选项
type ChatModelOption func(*ChatModel)

// WithHTTPClient 替换默认的 HTTP 客户端
func WithHTTPClient(c *http.Client) ChatModelOption {
	return func(m *ChatModel) {
		if c != nil {
			m.httpClient = c
		}
	}
}

// WithTemperature 采样温度
func WithTemperature(t float64) ChatModelOption {
	return func(m *ChatModel) {
		m.temperature = t
	}
}

// WithChatLogger 设置日志
func WithChatLogger(l zerolog.Logger) ChatModelOption {
	return func(m *ChatModel) {
		m.logger = l
	}
}

// NewChatModel apiKey 不能为空；modelName、apiURL 为空时使用默认值
func NewChatModel(apiKey, modelName, apiURL string, opts ...ChatModelOption) (*ChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: API 密钥不能为空", ErrUnavailable)
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = DefaultModel
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = DefaultAPIURL
	}

	m := &ChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.Logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate 发送一次 chat/completions 请求
func (m *ChatModel) Generate(ctx context.Context, messages []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	payload := chatCompletionRequest{
		Model:          m.modelName,
		Messages:       make([]chatMessage, 0, len(messages)),
		Temperature:    m.temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		payload.Messages = append(payload.Messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	m.logger.Debug().
		Str("model", m.modelName).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("chat/completions 请求完成")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API 请求失败，状态 %s: %s", resp.Status, tracing.TruncateString(string(respBody), tracing.DefaultMaxLength))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("API 响应中没有 choices")
	}

	choice := parsed.Choices[0].Message
	content := ""
	if choice.Content != nil {
		content = *choice.Content
	}
	role := schema.RoleType(choice.Role)
	if role == "" {
		role = schema.Assistant
	}

	return &schema.Message{
		Role:    role,
		Content: content,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: parsed.Choices[0].FinishReason,
			Usage: &schema.TokenUsage{
				PromptTokens:     parsed.Usage.PromptTokens,
				CompletionTokens: parsed.Usage.CompletionTokens,
				TotalTokens:      parsed.Usage.PromptTokens + parsed.Usage.CompletionTokens,
			},
		},
	}, nil
}

// Stream 不支持
func (m *ChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("ChatModel 不支持流式输出")
}
