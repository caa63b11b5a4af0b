package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const ConfigFileName = ".nodetop.toml"

const (
	DefaultURL                = "http://127.0.0.1:8114"
	DefaultIndexDir           = "~/.nodetop/index"
	DefaultPollIntervalMs     = 1000
	DefaultCallTimeoutMs      = 900
	DefaultRedrawTickMs       = 250
	DefaultRecentBlocks       = 1000
	DefaultTopN               = 50
	DefaultFreshnessMs        = 2000
	DefaultIndexConfirmations = 12
	DefaultListen             = "127.0.0.1:8080"
)

// Config holds the dashboard settings persisted in ~/.nodetop.toml.
type Config struct {
	URL                string `toml:"url"`
	IndexDir           string `toml:"index_dir"`
	PollIntervalMs     int    `toml:"poll_interval_ms"`
	CallTimeoutMs      int    `toml:"call_timeout_ms"`
	RedrawTickMs       int    `toml:"redraw_tick_ms"`
	RecentBlocks       int    `toml:"recent_blocks"`
	TopN               int    `toml:"top_n"`
	FreshnessMs        int    `toml:"freshness_ms"`
	IndexConfirmations uint64 `toml:"index_confirmations"`
	HighlightAllFresh  bool   `toml:"highlight_all_fresh"`
	Listen             string `toml:"listen"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		URL:                DefaultURL,
		IndexDir:           DefaultIndexDir,
		PollIntervalMs:     DefaultPollIntervalMs,
		CallTimeoutMs:      DefaultCallTimeoutMs,
		RedrawTickMs:       DefaultRedrawTickMs,
		RecentBlocks:       DefaultRecentBlocks,
		TopN:               DefaultTopN,
		FreshnessMs:        DefaultFreshnessMs,
		IndexConfirmations: DefaultIndexConfirmations,
		Listen:             DefaultListen,
	}
}

func (c Config) PollInterval() time.Duration { return ms(c.PollIntervalMs) }
func (c Config) CallTimeout() time.Duration  { return ms(c.CallTimeoutMs) }
func (c Config) RedrawTick() time.Duration   { return ms(c.RedrawTickMs) }
func (c Config) Freshness() time.Duration    { return ms(c.FreshnessMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// Validate rejects values the dashboard cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("validation failed: url is empty")
	}
	if strings.TrimSpace(c.IndexDir) == "" {
		return errors.New("validation failed: index_dir is empty")
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"poll_interval_ms", c.PollIntervalMs},
		{"call_timeout_ms", c.CallTimeoutMs},
		{"redraw_tick_ms", c.RedrawTickMs},
		{"recent_blocks", c.RecentBlocks},
		{"top_n", c.TopN},
		{"freshness_ms", c.FreshnessMs},
	} {
		if f.v <= 0 {
			return fmt.Errorf("validation failed: %s must be positive, got %d", f.name, f.v)
		}
	}
	return nil
}

func GetConfigPath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
}

// LoadConfigFromFile reads path, returning defaults when it does not exist.
func LoadConfigFromFile(path string) (Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, err
	}
	defer func() { _ = f.Close() }()
	return LoadConfig(f)
}

// LoadConfig parses TOML from r. Missing keys keep their defaults.
func LoadConfig(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if strings.TrimSpace(cfg.IndexDir) == "" {
		cfg.IndexDir = DefaultIndexDir
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	data := buf.Bytes()
	if len(data) == 0 {
		return fmt.Errorf("validation failed: encoded configuration is empty")
	}

	// Create a backup of the existing file
	if _, err := os.Stat(path); err == nil {
		backupPath := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102-150405"))
		input, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read existing config for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0644); err != nil {
			return fmt.Errorf("failed to write backup config: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func RestoreLastBackup(configPath string) error {
	matches, err := filepath.Glob(configPath + ".*.bak")
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no backup files found")
	}
	sort.Strings(matches)
	lastBackup := matches[len(matches)-1]

	data, err := os.ReadFile(lastBackup)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0644)
}

// ExpandPath resolves a leading ~ and returns an absolute path.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
