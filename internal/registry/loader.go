package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soloqueue/soloqueue/internal/skills"
)

// LoadDir populates the registry from a config directory:
//
//	<dir>/groups.yaml     — list of group definitions
//	<dir>/agents/<x>.md   — YAML frontmatter + system prompt body
//
// Missing pieces are fine; programmatic registration remains available for
// embedding and tests.
func (r *Registry) LoadDir(dir string) error {
	if err := r.loadGroups(filepath.Join(dir, "groups.yaml")); err != nil {
		return err
	}
	return r.loadAgents(filepath.Join(dir, "agents"))
}

func (r *Registry) loadGroups(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read groups: %w", err)
	}
	var groups []GroupConfig
	if err := yaml.Unmarshal(data, &groups); err != nil {
		return fmt.Errorf("parse groups: %w", err)
	}
	for i := range groups {
		if groups[i].Name == "" {
			return fmt.Errorf("group %d: name is required", i)
		}
		r.RegisterGroup(&groups[i])
	}
	return nil
}

func (r *Registry) loadAgents(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read agents dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		agent, err := parseAgentFile(path)
		if err != nil {
			return fmt.Errorf("agent %s: %w", e.Name(), err)
		}
		if agent.Name == "" {
			agent.Name = strings.TrimSuffix(e.Name(), ".md")
		}
		if err := r.RegisterAgent(agent); err != nil {
			return fmt.Errorf("agent %s: %w", e.Name(), err)
		}
	}
	return nil
}

func parseAgentFile(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	front, body, err := skills.SplitFrontmatter(data)
	if err != nil {
		return nil, err
	}
	var agent AgentConfig
	if len(front) > 0 {
		if err := yaml.Unmarshal(front, &agent); err != nil {
			return nil, fmt.Errorf("frontmatter: %w", err)
		}
	}
	agent.SystemPrompt = strings.TrimSpace(string(body))
	return &agent, nil
}
