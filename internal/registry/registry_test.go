package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func agent(name, group string, leader bool) *AgentConfig {
	return &AgentConfig{Name: name, Group: group, IsLeader: leader}
}

func TestNodeID(t *testing.T) {
	if got := agent("worker", "research", false).NodeID(); got != "research__worker" {
		t.Errorf("NodeID = %q", got)
	}
	if got := agent("solo", "", false).NodeID(); got != "solo" {
		t.Errorf("NodeID = %q", got)
	}
}

func TestSecondLeaderDowngraded(t *testing.T) {
	r := New()
	if err := r.RegisterAgent(agent("lead", "g", true)); err != nil {
		t.Fatal(err)
	}
	second := agent("pretender", "g", true)
	if err := r.RegisterAgent(second); err != nil {
		t.Fatal(err)
	}
	if second.IsLeader {
		t.Error("second leader should be downgraded")
	}
	got, _ := r.Get("g__lead")
	if !got.IsLeader {
		t.Error("original leader must stay a leader")
	}
}

func TestResolveOrder(t *testing.T) {
	r := New()
	r.RegisterAgent(agent("worker", "a", false))
	r.RegisterAgent(agent("worker", "b", false))
	r.RegisterAgent(agent("solo", "", false))
	caller := agent("lead", "b", true)
	r.RegisterAgent(caller)

	// Exact node id wins.
	got, err := r.Resolve("a__worker", caller)
	if err != nil || got.Group != "a" {
		t.Errorf("Resolve(a__worker) = %v, %v", got, err)
	}
	// Caller-group qualification comes before the bare scan.
	got, err = r.Resolve("worker", caller)
	if err != nil || got.Group != "b" {
		t.Errorf("Resolve(worker) = %v, %v, want group b", got, err)
	}
	// Bare-name scan as last resort.
	got, err = r.Resolve("solo", caller)
	if err != nil || got.Name != "solo" {
		t.Errorf("Resolve(solo) = %v, %v", got, err)
	}
	if _, err := r.Resolve("ghost", caller); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("Resolve(ghost) err = %v", err)
	}
}

func TestCheckPermission(t *testing.T) {
	r := New()
	tests := []struct {
		name    string
		src     *AgentConfig
		dst     *AgentConfig
		allowed bool
	}{
		{"same group members", agent("a", "g1", false), agent("b", "g1", false), true},
		{"same group leader to member", agent("a", "g1", true), agent("b", "g1", false), true},
		{"cross group both leaders", agent("a", "g1", true), agent("b", "g2", true), true},
		{"cross group member target", agent("a", "g1", true), agent("b", "g2", false), false},
		{"cross group member source", agent("a", "g1", false), agent("b", "g2", true), false},
		{"ungrouped non-leaders", agent("a", "", false), agent("b", "", false), false},
	}
	for _, tt := range tests {
		err := r.CheckPermission(tt.src, tt.dst)
		if tt.allowed && err != nil {
			t.Errorf("%s: unexpected denial: %v", tt.name, err)
		}
		if !tt.allowed && !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("%s: err = %v, want ErrPermissionDenied", tt.name, err)
		}
	}
}

func TestSubAgentTargets(t *testing.T) {
	r := New()
	lead := agent("lead", "g", true)
	r.RegisterAgent(lead)
	r.RegisterAgent(agent("w1", "g", false))
	r.RegisterAgent(agent("w2", "g", false))
	r.RegisterAgent(agent("other", "x", false))

	// Wildcard: empty sub_agents lists every group mate.
	targets := r.SubAgentTargets(lead)
	if len(targets) != 2 {
		t.Fatalf("wildcard targets = %d, want 2", len(targets))
	}

	lead.SubAgents = []string{"w1"}
	targets = r.SubAgentTargets(lead)
	if len(targets) != 1 || targets[0].Name != "w1" {
		t.Errorf("declared targets = %v", targets)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "groups.yaml"), []byte(
		"- name: research\n  shared_context: We study things.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	agentsDir := filepath.Join(dir, "agents")
	if err := os.MkdirAll(agentsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	def := `---
name: analyst
group: research
description: Crunches numbers
is_leader: true
tools:
  - read_file
---
You are a careful analyst.
`
	if err := os.WriteFile(filepath.Join(agentsDir, "analyst.md"), []byte(def), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New()
	if err := r.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	a, ok := r.Get("research__analyst")
	if !ok {
		t.Fatal("analyst not registered")
	}
	if a.SystemPrompt != "You are a careful analyst." {
		t.Errorf("SystemPrompt = %q", a.SystemPrompt)
	}
	if !a.IsLeader {
		t.Error("is_leader not parsed")
	}
	if r.SharedContext(a) != "We study things." {
		t.Errorf("SharedContext = %q", r.SharedContext(a))
	}
}
