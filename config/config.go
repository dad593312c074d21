package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// SystemConfig lives at ~/.config/miku/settings.toml and only points at the
// data directory.
type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

// RelayConfig is where the client sends completion turns.
type RelayConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token,omitempty"`
}

// ChatConfig holds client-side limits.
type ChatConfig struct {
	QuestionLimit int `toml:"question_limit"`
}

// ProviderConfig selects the model backend the relay forwards to.
type ProviderConfig struct {
	Type    string `toml:"type"`
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url,omitempty"`
	APIKey  string `toml:"api_key,omitempty"`
}

// SearchConfig enables delegated web search on the relay.
type SearchConfig struct {
	APIKey   string `toml:"api_key,omitempty"`
	Endpoint string `toml:"endpoint,omitempty"`
}

// ServerConfig is the relay's own listener.
type ServerConfig struct {
	Listen    string  `toml:"listen"`
	Token     string  `toml:"token,omitempty"`
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

// UserConfig lives at <data_directory>/config.toml.
type UserConfig struct {
	Relay    RelayConfig    `toml:"relay"`
	Chat     ChatConfig     `toml:"chat"`
	Provider ProviderConfig `toml:"provider"`
	Search   SearchConfig   `toml:"search"`
	Server   ServerConfig   `toml:"server"`
}

// Config is the resolved configuration. It is built once by Load and passed
// explicitly to whatever needs it.
type Config struct {
	DataDirectory string
	Relay         RelayConfig
	Chat          ChatConfig
	Provider      ProviderConfig
	Search        SearchConfig
	Server        ServerConfig
	Debug         bool
}

// DataDir returns the expanded data directory.
func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// LogPath is the JSON log file inside the data directory.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir(), "miku.log")
}

// DownloadDir is where saved images go.
func (c *Config) DownloadDir() string {
	return filepath.Join(GetHomeDir(), "Downloads")
}

func (c *Config) applyUser(u *UserConfig) {
	c.Relay = u.Relay
	c.Chat = u.Chat
	c.Provider = u.Provider
	c.Search = u.Search
	c.Server = u.Server
}

// applyEnvOverrides lets the environment win over files.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MIKU_RELAY_URL"); v != "" {
		c.Relay.URL = v
	}
	if v := os.Getenv("MIKU_RELAY_TOKEN"); v != "" {
		c.Relay.Token = v
		if c.Server.Token == "" {
			c.Server.Token = v
		}
	}
	if v := os.Getenv("MIKU_PROVIDER"); v != "" {
		c.Provider.Type = v
	}
	if v := os.Getenv("MIKU_PROVIDER_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("MIKU_PROVIDER_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("MIKU_SEARCH_API_KEY"); v != "" {
		c.Search.APIKey = v
	}
	if v := os.Getenv("MIKU_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("MIKU_QUESTION_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Chat.QuestionLimit = n
		}
	}
	c.Debug = CheckDebug()
}

func (c *Config) fillDefaults() {
	d := DefaultUserConfig()
	if c.Relay.URL == "" {
		c.Relay.URL = d.Relay.URL
	}
	if c.Chat.QuestionLimit <= 0 {
		c.Chat.QuestionLimit = d.Chat.QuestionLimit
	}
	if c.Provider.Type == "" {
		c.Provider.Type = d.Provider.Type
	}
	if c.Server.Listen == "" {
		c.Server.Listen = d.Server.Listen
	}
	if c.Server.RateBurst <= 0 {
		c.Server.RateBurst = d.Server.RateBurst
	}
}

// CheckDebug reports whether MIKU_DEBUG asks for debug logging.
func CheckDebug() bool {
	debug := os.Getenv("MIKU_DEBUG")
	return debug == "true" || debug == "1"
}

// Load resolves the configuration: built-in defaults, then settings.toml
// and config.toml (created from templates when missing), then environment
// overrides. MIKU_DATA_DIR skips settings.toml entirely.
func Load() (*Config, error) {
	cfg := &Config{DataDirectory: GetDefaultDataDir()}

	if dir := os.Getenv("MIKU_DATA_DIR"); dir != "" {
		cfg.DataDirectory = dir
	} else {
		systemCfg, err := LoadSystemConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load system config: %w", err)
		}
		if systemCfg.DataDirectory != "" {
			cfg.DataDirectory = systemCfg.DataDirectory
		}
	}

	dataDir := cfg.DataDir()
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to prepare data directory: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	cfg.applyUser(userCfg)
	cfg.applyEnvOverrides()
	cfg.fillDefaults()
	return cfg, nil
}
