package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CCM_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("CCM_LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "tmux", cfg.TmuxBin)
	assert.Equal(t, "ttyd", cfg.TtydBin)
	assert.Equal(t, "cloudflared", cfg.CloudflaredBin)
	assert.Equal(t, 7681, cfg.GatewayPortStart)
	assert.Equal(t, 7781, cfg.GatewayPortMax)
	assert.Equal(t, "claude", cfg.AgentCommand)

	// data/ and logs/ are created eagerly with 0755
	for _, p := range []string{cfg.DataDir, cfg.LogDir} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}

	assert.Equal(t, filepath.Join(cfg.DataDir, "sessions.db"), cfg.DatabasePath())
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CCM_DATA_DIR", filepath.Join(dir, "d"))
	t.Setenv("CCM_LOG_DIR", filepath.Join(dir, "l"))
	t.Setenv("PORT", "9191")
	t.Setenv("CCM_TMUX_BIN", "/opt/bin/tmux")
	t.Setenv("CCM_GATEWAY_PORT_START", "9000")
	t.Setenv("CCM_GATEWAY_PORT_MAX", "9010")
	t.Setenv("CCM_AGENT_COMMAND", "aider")
	t.Setenv("CCM_TUNNEL_NAME", "prod-tunnel")
	t.Setenv("CCM_TUNNEL_URL", "https://ccm.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Port)
	assert.Equal(t, "/opt/bin/tmux", cfg.TmuxBin)
	assert.Equal(t, 9000, cfg.GatewayPortStart)
	assert.Equal(t, 9010, cfg.GatewayPortMax)
	assert.Equal(t, "aider", cfg.AgentCommand)
	assert.Equal(t, "prod-tunnel", cfg.TunnelName)
	assert.Equal(t, "https://ccm.example.com", cfg.TunnelURL)
}
