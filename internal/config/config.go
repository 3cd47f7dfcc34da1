// Package config handles assistant configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/assistant/config.yaml, /etc/assistant/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "assistant", "config.yaml"))
	}

	paths = append(paths, "/etc/assistant/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all assistant configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Weather   WeatherConfig   `yaml:"weather"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Music     MusicConfig     `yaml:"music"`
	DataDir   string          `yaml:"data_dir"`
	TasksFile string          `yaml:"tasks_file"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
}

// TelegramConfig defines the Bot API connection.
type TelegramConfig struct {
	// BotToken is the token issued by BotFather. Required.
	BotToken string `yaml:"bot_token"`
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string `yaml:"base_url"`
	// PollTimeoutSec is the getUpdates long-poll timeout (default 30).
	PollTimeoutSec int `yaml:"poll_timeout_sec"`
}

// GeminiConfig defines the AI provider settings.
type GeminiConfig struct {
	// APIKey authenticates against the Gemini API. Required.
	APIKey string `yaml:"api_key"`
	// DefaultModel is used until a user selects another one.
	DefaultModel string `yaml:"default_model"`
}

// WeatherConfig defines the OpenWeather settings.
type WeatherConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// Units is metric or imperial (default metric).
	Units string `yaml:"units"`
}

// MusicConfig defines the song download settings.
type MusicConfig struct {
	// YtDlpPath is the path to the yt-dlp binary. If empty, the binary
	// is located via exec.LookPath.
	YtDlpPath string `yaml:"ytdlp_path"`
}

// BroadcastConfig defines the daily weather digest. The broadcast runs
// only when SendAt, ChatIDs, and Cities are all set; otherwise the
// scheduler is never started.
type BroadcastConfig struct {
	// SendAt is a wall-clock time of day in "15:04" form.
	SendAt  string   `yaml:"send_at"`
	ChatIDs []int64  `yaml:"chat_ids"`
	Cities  []string `yaml:"cities"`
	Units   string   `yaml:"units"`
}

// Enabled reports whether the broadcast is fully configured.
func (b BroadcastConfig) Enabled() bool {
	if strings.TrimSpace(b.SendAt) == "" {
		return false
	}
	return len(b.ChatIDs) > 0 && len(b.Cities) > 0
}

// FireTime parses SendAt as an "15:04" or "15:04:05" wall-clock time.
func (b BroadcastConfig) FireTime() (time.Time, error) {
	s := strings.TrimSpace(b.SendAt)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid broadcast send_at %q (want HH:MM)", b.SendAt)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so secrets can stay out of the file.
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{PollTimeoutSec: 30},
		Gemini:   GeminiConfig{DefaultModel: "gemini-2.5-flash"},
		Weather:  WeatherConfig{Units: "metric"},
		DataDir:  "data",
	}
}

// Validate checks the startup requirements. Only missing credentials
// are fatal; everything else has a workable default.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.BotToken) == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if strings.TrimSpace(c.Gemini.APIKey) == "" {
		return fmt.Errorf("gemini.api_key is required")
	}
	if c.Broadcast.Enabled() {
		if _, err := c.Broadcast.FireTime(); err != nil {
			return err
		}
	}
	return nil
}

// TasksPath resolves the durable task file location: the explicit
// tasks_file setting when present, otherwise user_tasks.json in DataDir.
func (c *Config) TasksPath() string {
	if c.TasksFile != "" {
		return c.TasksFile
	}
	return filepath.Join(c.DataDir, "user_tasks.json")
}

// ActivityPath resolves the activity log database location.
func (c *Config) ActivityPath() string {
	return filepath.Join(c.DataDir, "activity.db")
}
