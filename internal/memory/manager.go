package memory

import (
	"fmt"
	"path/filepath"
	"sync"
)

// Manager wires the tiered memory for a workspace: one shared artifact
// store and session log, plus one semantic store per agent group. All state
// lives under <workspace>/.soloqueue/.
type Manager struct {
	root      string // the .soloqueue dir
	embedder  Embedder
	artifacts *ArtifactStore
	log       *SessionLog
	sessions  *SessionManager
	gc        *GarbageCollector
	profile   *UserProfileStore

	mu       sync.Mutex
	semantic map[string]*SemanticStore
}

// DefaultRetentionDays is how long ephemeral artifacts are kept.
const DefaultRetentionDays = 7

// NewManager opens the memory tiers under workspaceRoot/.soloqueue.
// embedder may be nil, which disables semantic stores.
func NewManager(workspaceRoot string, embedder Embedder, retentionDays int) (*Manager, error) {
	root := filepath.Join(workspaceRoot, ".soloqueue")

	artifacts, err := NewArtifactStore(
		filepath.Join(root, "artifacts.db"),
		filepath.Join(root, "artifacts"))
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	log, err := NewSessionLog(filepath.Join(root, "logs", "conversations.jsonl"))
	if err != nil {
		artifacts.Close()
		return nil, fmt.Errorf("open session log: %w", err)
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	return &Manager{
		root:      root,
		embedder:  embedder,
		artifacts: artifacts,
		log:       log,
		sessions:  NewSessionManager(log),
		gc:        NewGarbageCollector(artifacts, root, retentionDays),
		profile:   NewUserProfileStore(root),
		semantic:  make(map[string]*SemanticStore),
	}, nil
}

func (m *Manager) Close() error { return m.artifacts.Close() }

// Root returns the .soloqueue state dir.
func (m *Manager) Root() string { return m.root }

// ArchiveDir returns where date-based archives land.
func (m *Manager) ArchiveDir() string { return filepath.Join(m.root, "archive") }

func (m *Manager) Artifacts() *ArtifactStore  { return m.artifacts }
func (m *Manager) SessionLog() *SessionLog    { return m.log }
func (m *Manager) Sessions() *SessionManager  { return m.sessions }
func (m *Manager) GC() *GarbageCollector      { return m.gc }
func (m *Manager) Profile() *UserProfileStore { return m.profile }

// Semantic returns the group's semantic store, opening it on first use.
// Returns nil when no embedder is configured; callers degrade gracefully.
func (m *Manager) Semantic(group string) (*SemanticStore, error) {
	if m.embedder == nil {
		return nil, nil
	}
	if group == "" {
		group = "default"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.semantic[group]; ok {
		return s, nil
	}
	s, err := NewSemanticStore(filepath.Join(m.root, "semantic", group), group, m.embedder)
	if err != nil {
		return nil, fmt.Errorf("open semantic store for %s: %w", group, err)
	}
	m.semantic[group] = s
	return s, nil
}
