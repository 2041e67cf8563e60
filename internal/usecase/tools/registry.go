// Package tools — реестр инструментов, доступных модели через function calling.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/metrics"
)

// ErrToolNotFound возвращается для незарегистрированного инструмента.
var ErrToolNotFound = errors.New("tool not found")

// Executor выполняет инструмент с разобранными аргументами.
type Executor func(ctx context.Context, args map[string]any) (string, error)

type entry struct {
	def  domain.ToolDefinition
	exec Executor
}

// Registry хранит инструменты в порядке регистрации.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]entry
	log   zerolog.Logger
}

var _ domain.ToolExecutor = (*Registry)(nil)

// NewRegistry создаёт пустой реестр.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{tools: make(map[string]entry), log: logger}
}

// Register добавляет инструмент. Повторная регистрация заменяет исполнителя, не меняя порядок.
func (r *Registry) Register(name, description string, parameters map[string]any, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		r.order = append(r.order, name)
	}
	r.tools[name] = entry{
		def:  domain.ToolDefinition{Name: name, Description: description, Parameters: parameters},
		exec: exec,
	}
	r.log.Info().Str("tool", name).Msg("инструмент зарегистрирован")
}

// Definitions возвращает схемы всех инструментов в порядке регистрации.
func (r *Registry) Definitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].def)
	}
	return out
}

// Execute вызывает инструмент. Неизвестное имя даёт ErrToolNotFound,
// ошибка исполнителя превращается в короткий текст без подробностей стека.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: Tool '%s' not found.", ErrToolNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := e.exec(ctx, args)
	metrics.ObserveTool(name, err)
	if err != nil {
		r.log.Error().Err(err).Str("tool", name).Msg("ошибка выполнения инструмента")
		return fmt.Sprintf("Error executing tool %s: %s", name, err.Error()), nil
	}
	return result, nil
}
