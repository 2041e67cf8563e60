package tools

import (
	"context"
	"fmt"
	"strings"

	"grok-bot/internal/domain"
	"grok-bot/internal/usecase/calculator"
)

// Имена встроенных инструментов.
const (
	WebSearchName  = "web_search"
	CalculatorName = "calculator"
)

// DefaultSearchResults — сколько результатов поиска отдаётся модели.
const DefaultSearchResults = 5

// RegisterBuiltins регистрирует web_search и calculator.
func RegisterBuiltins(r *Registry, searcher domain.Searcher) {
	r.Register(WebSearchName,
		"Search the web for current information, news, or facts.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query, e.g. 'latest release of Python', 'weather in Tokyo'",
				},
			},
			"required": []string{"query"},
		},
		func(ctx context.Context, args map[string]any) (string, error) {
			query, err := stringArg(args, "query")
			if err != nil {
				return "", err
			}
			return searcher.Search(ctx, query, DefaultSearchResults), nil
		},
	)

	r.Register(CalculatorName,
		"Evaluate a mathematical expression. Supports + - * / // ** %, sin, cos, tan, sqrt, log, abs, round, ceil, floor and the constants pi and e.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": "The expression to evaluate, e.g. '2 ** 10', 'sqrt(2) * pi'",
				},
			},
			"required": []string{"expression"},
		},
		func(_ context.Context, args map[string]any) (string, error) {
			expr, err := stringArg(args, "expression")
			if err != nil {
				return "", err
			}
			return calculator.Calculate(expr), nil
		},
	)
}

func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument: %s", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("argument %s must be a string", key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("argument %s is empty", key)
	}
	return s, nil
}
