// Package skills loads SKILL.md definitions and hydrates their prompt
// templates into one-shot agent system prompts.
package skills

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrSkillNotFound is returned when no search dir contains the skill.
var ErrSkillNotFound = errors.New("skill not found")

// Skill is one loaded definition: frontmatter plus the body template.
type Skill struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	AllowedTools []string `yaml:"allowed_tools"`
	Model        string   `yaml:"model,omitempty"`

	Template string `yaml:"-"` // raw body below the frontmatter
	Dir      string `yaml:"-"` // directory holding SKILL.md
}

// Loader finds skills by directory name across an ordered list of roots
// (project config first, then the user's home directory).
type Loader struct {
	roots []string
}

// NewLoader builds a loader over the given search roots, skipping empties.
func NewLoader(roots ...string) *Loader {
	var kept []string
	for _, r := range roots {
		if r != "" {
			kept = append(kept, r)
		}
	}
	return &Loader{roots: kept}
}

// DefaultRoots returns the conventional search path: the workspace's
// config/skills plus ~/.soloqueue/skills.
func DefaultRoots(workspaceRoot string) []string {
	roots := []string{filepath.Join(workspaceRoot, "config", "skills")}
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, filepath.Join(home, ".soloqueue", "skills"))
	}
	return roots
}

// Load returns the named skill from the first root that has
// <root>/<name>/SKILL.md.
func (l *Loader) Load(name string) (*Skill, error) {
	for _, root := range l.roots {
		dir := filepath.Join(root, name)
		path := filepath.Join(dir, "SKILL.md")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read skill %s: %w", name, err)
		}
		skill, err := parseSkill(data)
		if err != nil {
			return nil, fmt.Errorf("parse skill %s: %w", name, err)
		}
		if skill.Name == "" {
			skill.Name = name
		}
		skill.Dir = dir
		return skill, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, name)
}

// LoadAll returns every skill under every root. Earlier roots shadow later
// ones on name collision; broken definitions are skipped.
func (l *Loader) LoadAll() map[string]*Skill {
	out := make(map[string]*Skill)
	for _, root := range l.roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if _, taken := out[e.Name()]; taken {
				continue
			}
			skill, err := l.Load(e.Name())
			if err != nil {
				continue
			}
			out[e.Name()] = skill
		}
	}
	return out
}

func parseSkill(data []byte) (*Skill, error) {
	front, body, err := SplitFrontmatter(data)
	if err != nil {
		return nil, err
	}
	var skill Skill
	if len(front) > 0 {
		if err := yaml.Unmarshal(front, &skill); err != nil {
			return nil, fmt.Errorf("frontmatter: %w", err)
		}
	}
	skill.Template = string(bytes.TrimSpace(body))
	return &skill, nil
}

// SplitFrontmatter separates a leading `---` YAML block from the body.
// Files without frontmatter return an empty front slice.
func SplitFrontmatter(data []byte) (front, body []byte, err error) {
	const marker = "---"
	trimmed := bytes.TrimLeft(data, "\r\n ")
	if !bytes.HasPrefix(trimmed, []byte(marker)) {
		return nil, data, nil
	}
	rest := trimmed[len(marker):]
	// Frontmatter ends at the next line consisting of ---.
	idx := bytes.Index(rest, []byte("\n"+marker))
	if idx < 0 {
		return nil, nil, fmt.Errorf("unterminated frontmatter")
	}
	front = rest[:idx]
	body = rest[idx+len(marker)+1:]
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = nil
	}
	return front, body, nil
}
