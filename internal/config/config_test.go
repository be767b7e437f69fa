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
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "sqlite3", cfg.DatabaseDriver)
	assert.Equal(t, 5, cfg.MaxToolRounds)
	assert.Equal(t, 5*time.Second, cfg.SealTimeout)
	assert.False(t, cfg.MockMode())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assistant.yaml")
	content := "HTTP_PORT: 9090\nLLM_MODEL: from-file\nCORS_ORIGINS:\n  - http://a\n  - http://b\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LLM_MODEL", "from-env")
	t.Setenv("GOGO_MODE", "mock")
	t.Setenv("TOOL_TIMEOUT_MS", "250")
	t.Setenv("DISABLED_TOOLS", "mail.search, contacts.list")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "from-env", cfg.LLMModel)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.CORSOrigins)
	assert.Equal(t, 250*time.Millisecond, cfg.ToolTimeout)
	assert.True(t, cfg.MockMode())
	assert.Equal(t, []string{"mail.search", "contacts.list"}, cfg.DisabledTools)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DATABASE_DRIVER", "mysql")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
