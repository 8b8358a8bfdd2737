// Package config loads prettycode's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// PermissionModes lists the values the agent CLI accepts for
// --permission-mode.
var PermissionModes = []string{"default", "acceptEdits", "bypassPermissions", "plan"}

// Config is the full configuration. Zero-valued fields in the file keep
// their defaults.
type Config struct {
	ServerURL          string        `yaml:"server_url"`
	StoreDir           string        `yaml:"store_dir"`
	LogFile            string        `yaml:"log_file,omitempty"`
	Bridge             BridgeConfig  `yaml:"bridge"`
	ReconnectDelay     time.Duration `yaml:"reconnect_delay"`
	PersistDebounce    time.Duration `yaml:"persist_debounce"`
	OfflineNoticeDelay time.Duration `yaml:"offline_notice_delay"`
	MaxConversations   int           `yaml:"max_conversations"`
}

// BridgeConfig configures `prettycode serve`.
type BridgeConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	CLIPath        string   `yaml:"cli_path"`
	PermissionMode string   `yaml:"permission_mode"`
	WorkDir        string   `yaml:"work_dir,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerURL:          "ws://localhost:8000/ws",
		StoreDir:           expandHome("~/.prettycode/conversations"),
		ReconnectDelay:     3 * time.Second,
		PersistDebounce:    time.Second,
		OfflineNoticeDelay: 500 * time.Millisecond,
		MaxConversations:   20,
		Bridge: BridgeConfig{
			ListenAddr:     ":8000",
			CLIPath:        "claude",
			PermissionMode: "default",
			AllowedOrigins: []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		},
	}
}

// DefaultPath returns ~/.prettycode/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".prettycode", "config.yaml"), nil
}

// Load reads the config at path. A missing file yields Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.StoreDir = expandHome(cfg.StoreDir)
	cfg.LogFile = expandHome(cfg.LogFile)
	cfg.Bridge.WorkDir = expandHome(cfg.Bridge.WorkDir)
	return cfg, nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: server_url %q must be a ws:// or wss:// URL", ErrInvalid, c.ServerURL)
	}
	for name, d := range map[string]time.Duration{
		"reconnect_delay":      c.ReconnectDelay,
		"persist_debounce":     c.PersistDebounce,
		"offline_notice_delay": c.OfflineNoticeDelay,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, name, d)
		}
	}
	if c.MaxConversations <= 0 {
		return fmt.Errorf("%w: max_conversations must be positive", ErrInvalid)
	}
	if c.StoreDir == "" {
		return fmt.Errorf("%w: store_dir is empty", ErrInvalid)
	}
	if c.Bridge.CLIPath == "" {
		return fmt.Errorf("%w: bridge.cli_path is empty", ErrInvalid)
	}
	if !slices.Contains(PermissionModes, c.Bridge.PermissionMode) {
		return fmt.Errorf("%w: bridge.permission_mode %q is not one of %s",
			ErrInvalid, c.Bridge.PermissionMode, strings.Join(PermissionModes, ", "))
	}
	return nil
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
