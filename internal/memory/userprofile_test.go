package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserProfileReadMissing(t *testing.T) {
	s := NewUserProfileStore(t.TempDir())
	require.False(t, s.Exists())
	require.Equal(t, "", s.Read())
}

func TestUserProfileTemplateDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	s := NewUserProfileStore(dir)

	require.NoError(t, s.CreateTemplate())
	require.True(t, s.Exists())
	require.Contains(t, s.Read(), "# User Profile")

	custom := "# User Profile\n- Timezone: UTC+8\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "USER.md"), []byte(custom), 0o644))
	require.NoError(t, s.CreateTemplate())
	require.Equal(t, custom, s.Read())
}

func TestManagerExposesProfile(t *testing.T) {
	m, err := NewManager(t.TempDir(), nil, 7)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	p := m.Profile()
	require.NotNil(t, p)
	require.Equal(t, filepath.Join(m.Root(), "USER.md"), p.Path())
}
