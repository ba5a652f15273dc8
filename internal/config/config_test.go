package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 18, cfg.ShelvesPerPage)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("ACCESS_TTL", "90s")
	t.Setenv("SHELVES_PER_PAGE", "0")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 90*time.Second, cfg.AccessTTL)
	assert.Equal(t, 18, cfg.ShelvesPerPage)
}

func TestLoadReadsEnvFile(t *testing.T) {
	t.Setenv("MEILI_URL", "")
	os.Unsetenv("MEILI_URL")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MEILI_URL=http://meili:7700\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://meili:7700", cfg.MeiliURL)
	os.Unsetenv("MEILI_URL")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("REFRESH_TTL", "forever")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}
