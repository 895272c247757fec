// Package specialist loads the named agent roles a workflow step can invoke.
package specialist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// Source records where a definition came from.
type Source string

const (
	SourceBundled Source = "bundled"
	SourceFile    Source = "file"
)

// Def is a specialist definition.
type Def struct {
	ID               string           `yaml:"id" json:"id"`
	Name             string           `yaml:"name" json:"name"`
	Role             string           `yaml:"role" json:"role"`
	Description      string           `yaml:"description" json:"description,omitempty"`
	DefaultModelTier models.ModelTier `yaml:"default_model_tier" json:"default_model_tier"`
	SystemPrompt     string           `yaml:"system_prompt" json:"system_prompt"`

	Source Source `yaml:"-" json:"source"`
	Path   string `yaml:"-" json:"path,omitempty"`
}

// Clone returns a copy safe to hand to callers.
func (d *Def) Clone() *Def {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// supportedExt reports whether a file extension holds a specialist.
func supportedExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".md":
		return true
	}
	return false
}

// ParseFile reads and validates one specialist file.
func ParseFile(path string) (*Def, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read specialist: %w", err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var def *Def
	if strings.EqualFold(filepath.Ext(path), ".md") {
		def, err = parseMarkdown(string(data))
	} else {
		def, err = parseYAML(data)
	}
	if err != nil {
		return nil, err
	}

	if def.ID == "" {
		def.ID = stem
	}
	if def.Name == "" {
		def.Name = def.ID
	}
	if err := def.validate(); err != nil {
		return nil, err
	}
	def.DefaultModelTier = def.DefaultModelTier.OrDefault()
	def.Source = SourceFile
	def.Path = path
	return def, nil
}

func parseYAML(data []byte) (*Def, error) {
	var def Def
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse specialist yaml: %w", err)
	}
	return &def, nil
}

// parseMarkdown reads YAML frontmatter between "---" lines. The body becomes
// the system prompt unless the frontmatter sets one.
func parseMarkdown(content string) (*Def, error) {
	frontmatter, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}
	def, err := parseYAML([]byte(frontmatter))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(def.SystemPrompt) == "" {
		def.SystemPrompt = strings.TrimSpace(body)
	}
	return def, nil
}

func splitFrontmatter(content string) (frontmatter, body string, err error) {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", "", fmt.Errorf("missing frontmatter delimiter")
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n"), nil
		}
	}
	return "", "", fmt.Errorf("unclosed frontmatter")
}

func (d *Def) validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("missing required field: id")
	}
	if strings.ContainsAny(d.ID, " \t\n/") {
		return fmt.Errorf("invalid specialist id %q", d.ID)
	}
	if d.DefaultModelTier != "" && !d.DefaultModelTier.Valid() {
		return fmt.Errorf("unknown model tier %q", d.DefaultModelTier)
	}
	if strings.TrimSpace(d.SystemPrompt) == "" {
		return fmt.Errorf("specialist %s has no system prompt", d.ID)
	}
	return nil
}
