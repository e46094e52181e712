package skills

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func writeSkill(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const reviewSkill = `---
name: code-review
description: Review a diff for problems
allowed_tools:
  - read_file
  - grep
---
Review the following change:

$ARGUMENTS
`

func TestLoadSkill(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "code-review", reviewSkill)

	skill, err := NewLoader(root).Load("code-review")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if skill.Name != "code-review" {
		t.Errorf("Name = %q", skill.Name)
	}
	if skill.Description != "Review a diff for problems" {
		t.Errorf("Description = %q", skill.Description)
	}
	if len(skill.AllowedTools) != 2 || skill.AllowedTools[0] != "read_file" {
		t.Errorf("AllowedTools = %v", skill.AllowedTools)
	}
	if !strings.Contains(skill.Template, "$ARGUMENTS") {
		t.Errorf("Template missing $ARGUMENTS: %q", skill.Template)
	}
}

func TestLoadMissingSkill(t *testing.T) {
	_, err := NewLoader(t.TempDir()).Load("nope")
	if !errors.Is(err, ErrSkillNotFound) {
		t.Errorf("err = %v, want ErrSkillNotFound", err)
	}
}

func TestLoadSearchOrder(t *testing.T) {
	project := t.TempDir()
	home := t.TempDir()
	writeSkill(t, project, "dup", "---\ndescription: project version\n---\nP")
	writeSkill(t, home, "dup", "---\ndescription: home version\n---\nH")
	writeSkill(t, home, "homeonly", "---\ndescription: home only\n---\nH")

	l := NewLoader(project, home)
	skill, err := l.Load("dup")
	if err != nil {
		t.Fatal(err)
	}
	if skill.Description != "project version" {
		t.Errorf("project root should shadow home, got %q", skill.Description)
	}
	if _, err := l.Load("homeonly"); err != nil {
		t.Errorf("home-only skill should load: %v", err)
	}

	all := l.LoadAll()
	if len(all) != 2 {
		t.Errorf("LoadAll = %d skills, want 2", len(all))
	}
	if all["dup"].Description != "project version" {
		t.Error("LoadAll should keep the project version of dup")
	}
}

func TestSkillNameDefaultsToDir(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "anon", "---\ndescription: no name field\n---\nbody")
	skill, err := NewLoader(root).Load("anon")
	if err != nil {
		t.Fatal(err)
	}
	if skill.Name != "anon" {
		t.Errorf("Name = %q, want anon", skill.Name)
	}
}

func TestHydrateArguments(t *testing.T) {
	skill := &Skill{Template: "Review this:\n$ARGUMENTS\nthanks"}
	got := Hydrate(context.Background(), skill, "PR #42")
	want := "Review this:\nPR #42\nthanks"
	if got != want {
		t.Errorf("Hydrate = %q, want %q", got, want)
	}
}

func TestHydrateCommandInjection(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	skill := &Skill{Template: "before\n!echo hello-from-shell\nafter", Dir: t.TempDir()}
	got := Hydrate(context.Background(), skill, "")
	want := "before\nhello-from-shell\nafter"
	if got != want {
		t.Errorf("Hydrate = %q, want %q", got, want)
	}
}

func TestHydrateCommandFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	skill := &Skill{Template: "!false", Dir: t.TempDir()}
	got := Hydrate(context.Background(), skill, "")
	if !strings.HasPrefix(got, "[Error executing 'false'") {
		t.Errorf("Hydrate = %q, want bracketed error marker", got)
	}
}

func TestHydrateBareExclamation(t *testing.T) {
	skill := &Skill{Template: "!\ntext"}
	got := Hydrate(context.Background(), skill, "")
	if got != "!\ntext" {
		t.Errorf("Hydrate = %q, want unchanged", got)
	}
}
