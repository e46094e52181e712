package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/soloqueue/soloqueue/internal/approval"
	"github.com/soloqueue/soloqueue/internal/bus"
	"github.com/soloqueue/soloqueue/internal/config"
	"github.com/soloqueue/soloqueue/internal/memory"
	"github.com/soloqueue/soloqueue/internal/orchestration"
	"github.com/soloqueue/soloqueue/internal/prompt"
	"github.com/soloqueue/soloqueue/internal/providers"
	"github.com/soloqueue/soloqueue/internal/registry"
	"github.com/soloqueue/soloqueue/internal/skills"
	"github.com/soloqueue/soloqueue/internal/tokens"
	"github.com/soloqueue/soloqueue/internal/tools"
	"github.com/soloqueue/soloqueue/internal/workspace"
)

// runtime bundles everything a command needs to drive agent runs.
type runtime struct {
	cfg    *config.Config
	ws     *workspace.Manager
	mem    *memory.Manager
	reg    *registry.Registry
	bus    *bus.MessageBus
	bridge *approval.Bridge
	orc    *orchestration.Orchestrator
}

func buildRuntime(cfg *config.Config) (*runtime, error) {
	ws, err := workspace.New(cfg.WorkspacePath())
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}

	var embedder memory.Embedder
	if cfg.Embedding.Model != "" {
		key := cfg.Embedding.APIKey
		if key == "" {
			key = cfg.Provider.APIKey
		}
		embedder = providers.NewOpenAIEmbedder(
			cfg.Embedding.BaseURL, key, cfg.Embedding.Model, cfg.Embedding.Dimension)
	} else {
		slog.Info("no embedding model configured, semantic memory disabled")
	}

	mem, err := memory.NewManager(ws.Root(), embedder, cfg.Memory.RetentionDays)
	if err != nil {
		return nil, fmt.Errorf("open memory: %w", err)
	}

	reg := registry.New()
	if err := reg.LoadDir(filepath.Join(ws.Root(), "config")); err != nil {
		mem.Close()
		return nil, fmt.Errorf("load agent definitions: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		slog.Warn("no API key configured, set SOLOQUEUE_API_KEY")
	}
	provider := providers.NewOpenAIProvider(
		cfg.Provider.Name, cfg.Provider.APIKey, cfg.Provider.BaseURL, cfg.Provider.Model)

	eventBus := bus.NewMessageBus()
	bridge := approval.NewBridge(eventBus)
	if cfg.Approval.TimeoutSeconds > 0 {
		bridge.Timeout = time.Duration(cfg.Approval.TimeoutSeconds) * time.Second
	}
	loader := skills.NewLoader(skills.DefaultRoots(ws.Root())...)
	resolver := &tools.Resolver{
		Workspace: ws,
		Approval:  bridge,
		Memory:    mem,
		Registry:  reg,
		Skills:    loader,
	}

	builder := prompt.NewBuilder(tokens.NewCounter(cfg.Provider.Model))
	if cfg.Context.SafetyMargin > 0 {
		builder.SafetyMargin = cfg.Context.SafetyMargin
	}
	if cfg.Context.ResponseBuffer > 0 {
		builder.ResponseBuffer = cfg.Context.ResponseBuffer
	}

	runner := orchestration.NewRunner(provider, reg, resolver, builder, mem.Artifacts())
	runner.Profile = mem.Profile()
	orc := &orchestration.Orchestrator{
		Runner:           runner,
		Registry:         reg,
		Skills:           loader,
		Memory:           mem,
		MaxIterations:    cfg.Orchestrator.MaxIterations,
		MaxSubIterations: cfg.Orchestrator.MaxSubIterations,
		HistoryTurns:     cfg.Orchestrator.HistoryTurns,
	}

	return &runtime{
		cfg:    cfg,
		ws:     ws,
		mem:    mem,
		reg:    reg,
		bus:    eventBus,
		bridge: bridge,
		orc:    orc,
	}, nil
}

func (rt *runtime) Close() {
	if err := rt.mem.Close(); err != nil {
		slog.Warn("closing memory failed", "error", err)
	}
}

// defaultEntryAgent picks the agent a run starts at when none is given: the
// sole leader if there is exactly one, otherwise the only agent.
func (rt *runtime) defaultEntryAgent() (string, error) {
	agents := rt.reg.Agents()
	if len(agents) == 0 {
		return "", fmt.Errorf("no agents defined under %s", filepath.Join(rt.ws.Root(), "config", "agents"))
	}
	var leaders []string
	for _, a := range agents {
		if a.IsLeader {
			leaders = append(leaders, a.NodeID())
		}
	}
	if len(leaders) == 1 {
		return leaders[0], nil
	}
	if len(agents) == 1 {
		return agents[0].NodeID(), nil
	}
	return "", fmt.Errorf("multiple agents defined, pick one with --agent")
}
