// Package config holds the host configuration for the presence engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	AppName        = "dancefm-presence"
	AppDescription = "Streams dance.fm and mirrors the current track to Discord"

	ConfigDir      = ".config/dancefm-presence"
	ConfigFileName = "config.yml"

	DefaultStreamURL    = "https://streams.dancefm.net/mp3-hq"
	DefaultMetadataURL  = "https://dance.fm/js/stream-icy-meta.php"
	DefaultPollSeconds  = 5
	DefaultDiscordAppID = "1380964853769830511"
	DefaultButtonLabel  = "The Beat Of Amsterdam"
	DefaultButtonURL    = "https://dance.fm/"

	DefaultVolume = 70
	MinVolume     = 0
	MaxVolume     = 100
)

// AppVersion can be overridden at build time using ldflags:
// go build -ldflags "-X dancefm-presence/internal/config.AppVersion=1.0.0"
var AppVersion = "dev"

// ClampVolume ensures volume is within the valid range [0, 100].
func ClampVolume(volume int) int {
	if volume < MinVolume {
		return MinVolume
	}
	if volume > MaxVolume {
		return MaxVolume
	}
	return volume
}

type Config struct {
	StreamURL    string `yaml:"stream_url"`
	MetadataURL  string `yaml:"metadata_url"`
	PollSeconds  int    `yaml:"poll_seconds"`
	DiscordAppID string `yaml:"discord_app_id"`
	ButtonLabel  string `yaml:"button_label"`
	ButtonURL    string `yaml:"button_url"`
	Volume       int    `yaml:"volume"`
	MetricsAddr  string `yaml:"metrics_addr"`
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ConfigDir, ConfigFileName), nil
}

func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Volume = ClampVolume(cfg.Volume)
	if cfg.PollSeconds <= 0 {
		cfg.PollSeconds = DefaultPollSeconds
	}

	return cfg, nil
}

// Save writes the configuration to disk atomically using temp file + rename.
func (c *Config) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpFile, err := os.CreateTemp(configDir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, configPath); err != nil {
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	tmpPath = "" // Prevent defer from removing the final file
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		StreamURL:    DefaultStreamURL,
		MetadataURL:  DefaultMetadataURL,
		PollSeconds:  DefaultPollSeconds,
		DiscordAppID: DefaultDiscordAppID,
		ButtonLabel:  DefaultButtonLabel,
		ButtonURL:    DefaultButtonURL,
		Volume:       DefaultVolume,
	}
}

// PollInterval returns the metadata polling cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// ApplyEnv overrides config fields from environment variables, typically
// populated from a .env file by the host.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("DANCEFM_STREAM_URL"); v != "" {
		c.StreamURL = v
	}
	if v := os.Getenv("DANCEFM_METADATA_URL"); v != "" {
		c.MetadataURL = v
	}
	if v := os.Getenv("DANCEFM_DISCORD_APP_ID"); v != "" {
		c.DiscordAppID = v
	}
	if v := os.Getenv("DANCEFM_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
}
