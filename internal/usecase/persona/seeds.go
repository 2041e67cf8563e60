package persona

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"grok-bot/internal/domain"
)

//go:embed seeds.yaml
var seedsYAML []byte

type seed struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	SystemPrompt string `yaml:"system_prompt"`
}

// Seeds возвращает встроенные глобальные персоны.
func Seeds() ([]domain.Persona, error) {
	var raw []seed
	if err := yaml.Unmarshal(seedsYAML, &raw); err != nil {
		return nil, fmt.Errorf("разбор seeds.yaml: %w", err)
	}
	out := make([]domain.Persona, 0, len(raw))
	for _, s := range raw {
		out = append(out, domain.Persona{
			Name:         s.Name,
			Description:  s.Description,
			SystemPrompt: s.SystemPrompt,
			IsGlobal:     true,
		})
	}
	return out, nil
}
