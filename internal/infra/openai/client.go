package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"grok-bot/internal/infra/metrics"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Client выполняет Chat Completions запросы к OpenAI-совместимому API.
type Client struct {
	api   *goopenai.Client
	model string
}

// NewClient создаёт клиента. baseURL позволяет ходить в OpenRouter.
func NewClient(apiKey, baseURL, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	cfg.HTTPClient = &http.Client{Timeout: timeout, Transport: titleTransport{base: http.DefaultTransport}}
	return &Client{api: goopenai.NewClientWithConfig(cfg), model: model}
}

// Model возвращает имя модели по умолчанию.
func (c *Client) Model() string { return c.model }

// CreateChatCompletion вызывает /chat/completions и пишет метрики.
func (c *Client) CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	metrics.ObserveNetworkRequest("openai", "chat_completions", req.Model, start, err)
	if err != nil {
		return goopenai.ChatCompletionResponse{}, fmt.Errorf("openai: %w", err)
	}
	metrics.ObserveLLMGeneration(req.Model, time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	return resp, nil
}

// titleTransport добавляет заголовки атрибуции OpenRouter.
type titleTransport struct {
	base http.RoundTripper
}

func (t titleTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("X-Title", "Grok Bot")
	return t.base.RoundTrip(clone)
}
