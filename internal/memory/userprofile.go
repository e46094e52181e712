package memory

import (
	"log/slog"
	"os"
	"path/filepath"
)

// userProfileTemplate seeds a fresh USER.md so users see what belongs there.
const userProfileTemplate = `# User Profile

## Basics
- Timezone: UTC
- Language: English

## Preferences
- Prefers concise, direct answers

## Notes
- Follow the conventions already present in the project
`

// UserProfileStore reads the shared user profile, a Markdown file every
// agent sees in its system prompt. Agents update it through the ordinary
// write tools; this store never writes except to seed the template.
type UserProfileStore struct {
	path string
}

func NewUserProfileStore(stateDir string) *UserProfileStore {
	return &UserProfileStore{path: filepath.Join(stateDir, "USER.md")}
}

// Path returns the profile file location.
func (s *UserProfileStore) Path() string { return s.path }

// Exists reports whether a profile has been written.
func (s *UserProfileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Read returns the profile content, or "" when there is none.
func (s *UserProfileStore) Read() string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("memory: reading user profile failed", "path", s.path, "error", err)
		}
		return ""
	}
	return string(data)
}

// CreateTemplate seeds the profile file. Existing files are left alone.
func (s *UserProfileStore) CreateTemplate() error {
	if s.Exists() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte(userProfileTemplate), 0o644)
}
