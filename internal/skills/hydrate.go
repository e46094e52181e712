package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// commandTimeout bounds each `!` injection so a stuck command cannot hang
// the hydration.
const commandTimeout = 30 * time.Second

// Hydrate turns a skill template into a ready system prompt:
// $ARGUMENTS is replaced with the caller's argument string, then every line
// starting with `!` is executed as a shell command in the skill's directory
// and replaced by its standard output. Command failures substitute a
// bracketed error marker instead of aborting.
func Hydrate(ctx context.Context, skill *Skill, arguments string) string {
	content := strings.ReplaceAll(skill.Template, "$ARGUMENTS", arguments)

	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if !strings.HasPrefix(stripped, "!") {
			out = append(out, line)
			continue
		}
		cmdStr := strings.TrimSpace(stripped[1:])
		if cmdStr == "" {
			out = append(out, line)
			continue
		}
		out = append(out, runInjection(ctx, cmdStr, skill.Dir))
	}
	return strings.Join(out, "\n")
}

func runInjection(ctx context.Context, cmdStr, dir string) string {
	slog.Info("skill: executing injection", "command", cmdStr, "dir", dir)

	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", cmdStr)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		slog.Error("skill: injection failed", "command", cmdStr, "error", err)
		return fmt.Sprintf("[Error executing '%s': %s]", cmdStr, strings.TrimSpace(string(output)))
	}
	return strings.TrimSpace(string(output))
}
