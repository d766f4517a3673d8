package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Runtime holds everything resolved once at startup: listen port, data and
// log directories, external binary paths and the gateway port range.
type Runtime struct {
	Port int

	DataDir string
	LogDir  string

	TmuxBin        string
	TtydBin        string
	TtydTheme      string
	CloudflaredBin string
	FdBin          string

	GatewayPortStart int
	GatewayPortMax   int

	// AgentCommand is typed into each new window after creation.
	AgentCommand string

	// TunnelName/TunnelURL configure the named tunnel mode; quick mode is
	// used when TunnelName is empty.
	TunnelName string
	TunnelURL  string
}

// Load resolves the runtime configuration from the environment. Defaults
// place data/ and logs/ under the project root (the working directory).
func Load() (*Runtime, error) {
	v := viper.New()
	v.SetEnvPrefix("CCM")
	v.AutomaticEnv()

	root, err := os.Getwd()
	if err != nil {
		root = "."
	}

	v.SetDefault("data_dir", filepath.Join(root, "data"))
	v.SetDefault("log_dir", filepath.Join(root, "logs"))
	v.SetDefault("tmux_bin", "tmux")
	v.SetDefault("ttyd_bin", "ttyd")
	v.SetDefault("ttyd_theme", "")
	v.SetDefault("cloudflared_bin", "cloudflared")
	v.SetDefault("fd_bin", "fd")
	v.SetDefault("gateway_port_start", 7681)
	v.SetDefault("gateway_port_max", 7781)
	v.SetDefault("agent_command", "claude")
	v.SetDefault("tunnel_name", "")
	v.SetDefault("tunnel_url", "")

	// PORT is conventionally unprefixed
	port := 8080
	if err := v.BindEnv("port", "PORT"); err == nil {
		if p := v.GetInt("port"); p != 0 {
			port = p
		}
	}

	cfg := &Runtime{
		Port:             port,
		DataDir:          v.GetString("data_dir"),
		LogDir:           v.GetString("log_dir"),
		TmuxBin:          v.GetString("tmux_bin"),
		TtydBin:          v.GetString("ttyd_bin"),
		TtydTheme:        v.GetString("ttyd_theme"),
		CloudflaredBin:   v.GetString("cloudflared_bin"),
		FdBin:            v.GetString("fd_bin"),
		GatewayPortStart: v.GetInt("gateway_port_start"),
		GatewayPortMax:   v.GetInt("gateway_port_max"),
		AgentCommand:     v.GetString("agent_command"),
		TunnelName:       v.GetString("tunnel_name"),
		TunnelURL:        v.GetString("tunnel_url"),
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DatabasePath is the location of the embedded session registry.
func (r *Runtime) DatabasePath() string {
	return filepath.Join(r.DataDir, "sessions.db")
}
