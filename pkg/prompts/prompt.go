// Package prompts loads the model prompt templates shipped with the binary.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/duynguyendang/lexa/pkg/model"
)

// Template names.
const (
	Overview  = "overview"
	Clauses   = "clauses"
	Risk      = "risk"
	NextSteps = "next_steps"
	Question  = "question"
)

//go:embed templates/*.prompt
var embedded embed.FS

// Config holds metadata from the YAML frontmatter.
type Config struct {
	Name        string  `yaml:"name"`
	Temperature float32 `yaml:"temperature"`
	MaxChars    int     `yaml:"max_chars"`
}

// Prompt represents a loaded prompt with config and template.
type Prompt struct {
	Config   Config
	Template *template.Template
}

// Data is what templates can reference. Text is truncated to the prompt's
// MaxChars before rendering.
type Data struct {
	Text         string
	Question     string
	Language     string
	DocumentType string
	Clauses      []model.Clause
}

// Parse reads a prompt from its raw file contents.
func Parse(name string, raw []byte) (*Prompt, error) {
	parts := strings.SplitN(string(raw), "---", 3)
	if len(parts) < 3 {
		return nil, fmt.Errorf("invalid prompt format: missing frontmatter delimiters")
	}

	var config Config
	if err := yaml.Unmarshal([]byte(parts[1]), &config); err != nil {
		return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	if config.Name == "" {
		config.Name = name
	}

	tmpl, err := template.New(config.Name).Option("missingkey=error").Parse(strings.TrimSpace(parts[2]))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template body: %w", err)
	}

	return &Prompt{Config: config, Template: tmpl}, nil
}

// Execute truncates the document text and applies data to the template.
func (p *Prompt) Execute(data Data) (string, error) {
	if p.Config.MaxChars > 0 {
		data.Text = Truncate(data.Text, p.Config.MaxChars)
	}
	var buf bytes.Buffer
	if err := p.Template.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", p.Config.Name, err)
	}
	return buf.String(), nil
}

// Set is the collection of prompts keyed by name.
type Set map[string]*Prompt

// Load parses every .prompt file in fsys.
func Load(fsys fs.FS) (Set, error) {
	files, err := fs.Glob(fsys, "*.prompt")
	if err != nil {
		return nil, err
	}
	set := make(Set, len(files))
	for _, f := range files {
		raw, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt file %s: %w", f, err)
		}
		p, err := Parse(strings.TrimSuffix(path.Base(f), ".prompt"), raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		set[p.Config.Name] = p
	}
	return set, nil
}

// Default returns the embedded prompt set.
func Default() (Set, error) {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, err
	}
	set, err := Load(sub)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{Overview, Clauses, Risk, NextSteps, Question} {
		if _, ok := set[name]; !ok {
			return nil, fmt.Errorf("embedded prompt %q missing", name)
		}
	}
	return set, nil
}

// Truncate cuts s to at most n characters without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n < 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
