package llm

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// PromptSet is one system and user prompt pair with generation settings.
type PromptSet struct {
	System      string   `yaml:"system"`
	User        string   `yaml:"user"`
	Sections    []string `yaml:"sections,omitempty"`
	MaxInput    int      `yaml:"max_input_chars,omitempty"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature float64  `yaml:"temperature"`

	tmpl *template.Template
}

// Prompts holds the templates used by the summarizer and synthesizer.
type Prompts struct {
	Summary   PromptSet `yaml:"summary"`
	Synthesis PromptSet `yaml:"synthesis"`
}

// DefaultPrompts returns the prompts embedded in the binary.
func DefaultPrompts() (*Prompts, error) {
	return ParsePrompts(defaultPromptsYAML)
}

// ParsePrompts parses a prompts YAML document and compiles its templates.
func ParsePrompts(data []byte) (*Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing prompts: %w", err)
	}

	for name, set := range map[string]*PromptSet{"summary": &p.Summary, "synthesis": &p.Synthesis} {
		if strings.TrimSpace(set.User) == "" {
			return nil, fmt.Errorf("prompts: %s.user is required", name)
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(set.User)
		if err != nil {
			return nil, fmt.Errorf("prompts: compiling %s template: %w", name, err)
		}
		set.tmpl = tmpl
		set.System = strings.TrimSpace(set.System)
	}
	if len(p.Synthesis.Sections) == 0 {
		return nil, fmt.Errorf("prompts: synthesis.sections is required")
	}

	return &p, nil
}

// summaryData is the template input of the summary prompt.
type summaryData struct {
	Instructions string
	Text         string
}

// synthesisData is the template input of the synthesis prompt.
type synthesisData struct {
	Topic    string
	Prompt   string
	Sections []string
	Count    int
	Payload  string
}

func (s *PromptSet) render(data any) (string, error) {
	var buf bytes.Buffer
	if err := s.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// truncateRunes cuts s to at most n runes. n <= 0 leaves s unchanged.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
