package analysis

import (
	"embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// DefaultTemplateVersion is the instruction template shipped with the binary.
const DefaultTemplateVersion = "chart-v1"

// Template is a versioned instruction set for one analysis request.
type Template struct {
	Version     string  `yaml:"version"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"maxTokens"`
	Temperature float64 `yaml:"temperature"`
	Detail      string  `yaml:"detail"`
	System      string  `yaml:"system"`
	User        string  `yaml:"user"`
}

// LoadTemplate reads an embedded template by version, e.g. "chart-v1".
func LoadTemplate(version string) (*Template, error) {
	name := "templates/" + strings.ReplaceAll(version, "-", "_") + ".yaml"
	data, err := templateFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("unknown template %q: %w", version, err)
	}

	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse template %q: %w", version, err)
	}
	if t.Version != version {
		return nil, fmt.Errorf("template %s declares version %q", name, t.Version)
	}
	if strings.TrimSpace(t.System) == "" || strings.TrimSpace(t.User) == "" {
		return nil, fmt.Errorf("template %q: system and user text are required", version)
	}
	if t.MaxTokens <= 0 {
		t.MaxTokens = 1000
	}
	if t.Detail == "" {
		t.Detail = "high"
	}
	return &t, nil
}

// MustDefaultTemplate returns the shipped template. It panics if the embedded
// file is broken, which only a bad build can cause.
func MustDefaultTemplate() *Template {
	t, err := LoadTemplate(DefaultTemplateVersion)
	if err != nil {
		panic(err)
	}
	return t
}
