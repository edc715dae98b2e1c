package openai

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/garyjia/vat-intake/internal/infrastructure/external"
)

// PromptConfig holds the prompt and model parameters for VAT amount extraction
type PromptConfig struct {
	AmountExtraction struct {
		Temperature  float32 `yaml:"temperature"`
		MaxTokens    int     `yaml:"max_tokens"`
		System       string  `yaml:"system"`
		UserTemplate string  `yaml:"user_template"`
	} `yaml:"amount_extraction"`
}

// DefaultPrompts returns the built-in prompt configuration
func DefaultPrompts() *PromptConfig {
	var p PromptConfig
	p.AmountExtraction.Temperature = 0.1
	p.AmountExtraction.MaxTokens = 1024
	p.AmountExtraction.System = external.SystemPrompt
	p.AmountExtraction.UserTemplate = external.DefaultUserPrompt
	return &p
}

// LoadPrompts loads prompt configuration from a YAML file. Empty fields keep
// their defaults.
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	prompts := DefaultPrompts()
	if err := yaml.Unmarshal(data, prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}

	return prompts, nil
}

// renderTemplate renders a template with provided data
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
