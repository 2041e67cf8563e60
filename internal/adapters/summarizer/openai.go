package summarizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	goopenai "github.com/sashabaranov/go-openai"

	"grok-bot/internal/adapters/llm"
	"grok-bot/internal/domain"
	"grok-bot/internal/infra/retry"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// OpenAI сворачивает переписку в сводку через Chat Completions.
type OpenAI struct {
	client  chatClient
	model   string
	timeout time.Duration
	policy  retry.Policy
	log     zerolog.Logger
}

var _ domain.Summarizer = (*OpenAI)(nil)

// NewOpenAI создаёт провайдер суммаризации.
func NewOpenAI(client chatClient, model string, timeout time.Duration, policy retry.Policy, logger zerolog.Logger) *OpenAI {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if policy.Retryable == nil {
		policy.Retryable = llm.IsTransient
	}
	return &OpenAI{client: client, model: model, timeout: timeout, policy: policy, log: logger}
}

const systemPrompt = "You maintain a compact running memory of a group chat. Keep facts, decisions, open questions and user preferences. Drop small talk."

// Summarize объединяет текущую сводку с новыми репликами.
func (s *OpenAI) Summarize(ctx context.Context, current string, lines []string) (string, error) {
	if len(lines) == 0 {
		return current, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	existing := strings.TrimSpace(current)
	if existing == "" {
		existing = "(none yet)"
	}
	userPrompt := fmt.Sprintf(`Current summary:
%s

New messages:
%s

Task: Merge the new messages into the current summary. Write at most 3 sentences. Prioritize facts and decisions over phrasing. Reply with the summary text only.`, existing, clipRunes(strings.Join(lines, "\n"), 12000))

	req := goopenai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.2,
		MaxTokens:   300,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: userPrompt},
		},
	}

	var content string
	err := retry.Do(ctx, s.log, "llm.summarize", s.policy, func(ctx context.Context) error {
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return retry.Permanent(fmt.Errorf("openai completion: пустой ответ"))
		}
		content = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if content == "" {
		return "", fmt.Errorf("openai completion: пустая сводка")
	}
	return content, nil
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[len(runes)-limit:])
}
