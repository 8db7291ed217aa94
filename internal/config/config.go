// Package config loads the on-disk configuration for the aguicore runtime.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultMaxToolDepth mirrors MAX_TOOL_DEPTH from the spec (a tunable, not a hardcoded limit).
const defaultMaxToolDepth = 10

const defaultUnaryTimeout = 30 * time.Second

// RuntimeConfig is the on-disk configuration for the conversation runtime.
//
// Secrets (bearer tokens) are never stored here; BearerTokenEnv names the
// environment variable that cmd/aguicore-chat reads once at startup.
type RuntimeConfig struct {
	DefaultModel   string `yaml:"default_model"`
	RoomID         string `yaml:"room_id"`
	RestBaseURL    string `yaml:"rest_base_url"`
	BearerTokenEnv string `yaml:"bearer_token_env"`

	UnaryTimeoutSeconds int `yaml:"unary_timeout_seconds,omitempty"`
	MaxToolDepth        int `yaml:"max_tool_depth,omitempty"`

	Tools ToolsConfig `yaml:"tools,omitempty"`

	HistoryDBPath     string `yaml:"history_db_path,omitempty"`
	HistoryIdleSweep  string `yaml:"history_idle_sweep,omitempty"`
	HistoryIdleMaxAge string `yaml:"history_idle_max_age,omitempty"`

	LogFormat string `yaml:"log_format,omitempty"`
	LogLevel  string `yaml:"log_level,omitempty"`
}

type ToolsConfig struct {
	HostStats  bool             `yaml:"host_stats,omitempty"`
	MCPServers []MCPServerEntry `yaml:"mcp_servers,omitempty"`
}

type MCPServerEntry struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
}

// UnaryTimeout returns the configured unary call timeout, defaulting to 30s per spec.md §5.
func (c *RuntimeConfig) UnaryTimeout() time.Duration {
	if c == nil || c.UnaryTimeoutSeconds <= 0 {
		return defaultUnaryTimeout
	}
	return time.Duration(c.UnaryTimeoutSeconds) * time.Second
}

// ToolDepthLimit returns the configured MAX_TOOL_DEPTH, defaulting to 10 per spec.md §9.
func (c *RuntimeConfig) ToolDepthLimit() int {
	if c == nil || c.MaxToolDepth <= 0 {
		return defaultMaxToolDepth
	}
	return c.MaxToolDepth
}

func (c *RuntimeConfig) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.DefaultModel) == "" {
		return errors.New("missing default_model")
	}
	if strings.TrimSpace(c.RestBaseURL) == "" {
		return errors.New("missing rest_base_url")
	}
	u, err := url.Parse(strings.TrimSpace(c.RestBaseURL))
	if err != nil || u == nil {
		return fmt.Errorf("invalid rest_base_url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("invalid rest_base_url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(c.RoomID) == "" {
		c.RoomID = "default"
	}
	for i, m := range c.Tools.MCPServers {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("tools.mcp_servers[%d]: missing name", i)
		}
		if strings.TrimSpace(m.Endpoint) == "" {
			return fmt.Errorf("tools.mcp_servers[%d]: missing endpoint", i)
		}
	}
	return nil
}

// DefaultConfigPath returns ~/.aguicore/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "aguicore.config.yaml"
	}
	return filepath.Join(home, ".aguicore", "config.yaml")
}

func Load(path string) (*RuntimeConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg RuntimeConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *RuntimeConfig) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
