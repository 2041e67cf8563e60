package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"grok-bot/internal/domain"
)

// ToolFailedReply подставляется вместо результата упавшего инструмента.
const ToolFailedReply = "Tool execution failed. Please try again."

// StatusFunc показывает пользователю, что бот делает. Может быть nil.
type StatusFunc func(ctx context.Context, text string)

// StatusLine возвращает строку статуса для вызова инструмента.
func StatusLine(name string, args map[string]any) string {
	switch name {
	case "web_search":
		return fmt.Sprintf("🔎 Searching for: *%s*...", argOr(args, "query", "something"))
	case "calculator":
		return fmt.Sprintf("🧮 Calculating: *%s*...", argOr(args, "expression", "math"))
	default:
		return fmt.Sprintf("🤖 Using tool: *%s*...", name)
	}
}

// HandleToolCalls выполняет первый запрошенный инструмент и делает второй вызов
// модели без инструментов. Других вызовов модели здесь не бывает.
func (s *Service) HandleToolCalls(ctx context.Context, first domain.Completion, req domain.GenerateRequest, status StatusFunc, logCtx map[string]any) string {
	call := first.ToolCalls[0]
	args := map[string]any{}
	var result string
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		result = ToolFailedReply
		s.logToolError(ctx, call.Name, call.Arguments, fmt.Errorf("аргументы инструмента: %w", err), logCtx)
	} else {
		if status != nil {
			status(ctx, StatusLine(call.Name, args))
		}
		out, err := s.tools.Execute(ctx, call.Name, args)
		if err != nil {
			result = ToolFailedReply
			s.logToolError(ctx, call.Name, args, err, logCtx)
		} else {
			result = out
		}
	}

	history := make([]domain.Message, 0, len(req.History)+1)
	history = append(history, req.History...)
	history = append(history, domain.Message{
		Role:    domain.RoleSystem,
		Content: fmt.Sprintf("Tool Output for '%s':\n%s", call.Name, result),
	})
	req.History = history
	req.NoTools = true
	return s.model.Generate(ctx, req).Text()
}

func (s *Service) logToolError(ctx context.Context, name string, args any, err error, logCtx map[string]any) {
	s.log.Error().Err(err).Str("tool", name).Interface("args", args).Msg("chat: инструмент упал")
	details := map[string]any{"context": "Tool Execution", "tool": name, "args": args}
	for k, v := range logCtx {
		details[k] = v
	}
	s.logError(ctx, err, details)
}

func argOr(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
