// Package llm реализует domain.ChatModel поверх OpenAI-совместимого API.
package llm

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/rs/zerolog"
	goopenai "github.com/sashabaranov/go-openai"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/retry"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// ToolLister отдаёт схемы инструментов для function calling.
type ToolLister interface {
	Definitions() []domain.ToolDefinition
}

// Model реализует domain.ChatModel.
type Model struct {
	client chatClient
	model  string
	tools  ToolLister
	policy retry.Policy
	log    zerolog.Logger
}

var _ domain.ChatModel = (*Model)(nil)

// NewModel создаёт модель. tools может быть nil.
func NewModel(client chatClient, model string, tools ToolLister, policy retry.Policy, logger zerolog.Logger) *Model {
	if policy.Retryable == nil {
		policy.Retryable = IsTransient
	}
	return &Model{client: client, model: model, tools: tools, policy: policy, log: logger}
}

var errEmptyResponse = errors.New("llm: empty response")

// Generate выполняет запрос. Инструменты предлагаются всегда, кроме req.NoTools.
func (m *Model) Generate(ctx context.Context, req domain.GenerateRequest) domain.Completion {
	creq := goopenai.ChatCompletionRequest{
		Model:    m.model,
		Messages: buildMessages(req),
	}
	if !req.NoTools && m.tools != nil {
		creq.Tools = toOpenAITools(m.tools.Definitions())
	}

	var resp goopenai.ChatCompletionResponse
	err := retry.Do(ctx, m.log, "llm.generate", m.policy, func(ctx context.Context) error {
		r, err := m.client.CreateChatCompletion(ctx, creq)
		if err != nil {
			return err
		}
		if len(r.Choices) == 0 {
			return retry.Permanent(errEmptyResponse)
		}
		resp = r
		return nil
	})
	if err != nil {
		m.log.Error().Err(err).Str("model", m.model).Msg("llm: генерация не удалась")
		return domain.Completion{Failure: err.Error()}
	}

	msg := resp.Choices[0].Message
	out := domain.Completion{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

func buildMessages(req domain.GenerateRequest) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(req.History)+2)
	msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.System})
	for _, h := range req.History {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: h.Role, Content: h.Content})
	}
	user := goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser}
	if len(req.Parts) > 0 {
		user.MultiContent = toOpenAIParts(req.Parts)
	} else {
		user.Content = req.Prompt
	}
	return append(msgs, user)
}

func toOpenAIParts(parts []domain.ContentPart) []goopenai.ChatMessagePart {
	out := make([]goopenai.ChatMessagePart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case domain.PartImage:
			out = append(out, goopenai.ChatMessagePart{
				Type:     goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{URL: p.ImageURL},
			})
		default:
			out = append(out, goopenai.ChatMessagePart{Type: goopenai.ChatMessagePartTypeText, Text: p.Text})
		}
	}
	return out
}

func toOpenAITools(defs []domain.ToolDefinition) []goopenai.Tool {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]goopenai.Tool, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return tools
}

// IsTransient отделяет таймауты, лимиты и сбои сервера от ошибок запроса.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return transientStatus(reqErr.HTTPStatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func transientStatus(code int) bool {
	switch {
	case code == 0:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusConflict, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
