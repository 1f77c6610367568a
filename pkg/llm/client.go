package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrEmptyReply 模型未返回任何内容
var ErrEmptyReply = errors.New("API返回空响应")

// APIError 非 200 响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API返回错误(%d): %s", e.StatusCode, e.Body)
}

// LLMClient OpenAI 兼容的大模型客户端
type LLMClient struct {
	apiURL      string
	apiKey      string
	modelName   string
	temperature float64
	maxTokens   int
	client      *http.Client
}

// ClientOption 客户端选项
type ClientOption func(*LLMClient)

// WithHTTPClient 替换底层 http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *LLMClient) { c.client = hc }
}

// WithMaxTokens 限制回复长度
func WithMaxTokens(n int) ClientOption {
	return func(c *LLMClient) { c.maxTokens = n }
}

// Message 表示对话中的一条消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewLLMClient 创建新的大模型客户端，请求超时由调用方 ctx 控制
func NewLLMClient(apiURL, apiKey, modelName string, opts ...ClientOption) *LLMClient {
	c := &LLMClient{
		apiURL:      apiURL,
		apiKey:      apiKey,
		modelName:   modelName,
		temperature: 0.2,
		maxTokens:   512,
		client:      &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chat 发送聊天请求，返回首个回复的文本
func (c *LLMClient) Chat(ctx context.Context, messages []Message) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.modelName,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("解析响应失败: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyReply
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyReply
	}
	return content, nil
}
