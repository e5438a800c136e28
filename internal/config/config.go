// Package config loads kbflow configuration and sets up logging.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// Backend connection
	ServerURL      string
	RequestTimeout time.Duration

	// Tracking cadence
	DetailPollInterval time.Duration
	ListPollInterval   time.Duration
	HeartbeatInterval  time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Default selection
	DefaultKnowledgeBase string
}

// fileConfig is the optional YAML config file shape. Env vars override
// everything set here.
type fileConfig struct {
	ServerURL            string `yaml:"server_url"`
	RequestTimeout       string `yaml:"request_timeout"`
	DetailPollInterval   string `yaml:"detail_poll_interval"`
	ListPollInterval     string `yaml:"list_poll_interval"`
	HeartbeatInterval    string `yaml:"heartbeat_interval"`
	LogFile              string `yaml:"log_file"`
	LogLevel             string `yaml:"log_level"`
	DefaultKnowledgeBase string `yaml:"default_knowledge_base"`
}

// Load reads configuration from the optional YAML file (KBFLOW_CONFIG
// or ~/.config/kbflow/config.yaml) and the environment, env winning.
func Load() Config {
	cfg := Config{
		ServerURL:          "http://localhost:8080",
		RequestTimeout:     30 * time.Second,
		DetailPollInterval: 2 * time.Second,
		ListPollInterval:   5 * time.Second,
		HeartbeatInterval:  30 * time.Second,
		LogFile:            "/tmp/kbflow.log",
		LogLevel:           slog.LevelInfo,
	}

	if fc := loadFile(); fc != nil {
		applyFile(&cfg, fc)
	}

	cfg.ServerURL = getEnv("KBFLOW_SERVER_URL", cfg.ServerURL)
	cfg.RequestTimeout = getEnvDuration("KBFLOW_CLIENT_TIMEOUT", cfg.RequestTimeout)
	cfg.DetailPollInterval = getEnvDuration("KBFLOW_DETAIL_POLL_INTERVAL", cfg.DetailPollInterval)
	cfg.ListPollInterval = getEnvDuration("KBFLOW_LIST_POLL_INTERVAL", cfg.ListPollInterval)
	cfg.HeartbeatInterval = getEnvDuration("KBFLOW_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.LogFile = getEnv("KBFLOW_LOG_FILE", cfg.LogFile)
	if lvl := os.Getenv("KBFLOW_LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = parseLogLevel(lvl)
	}
	cfg.DefaultKnowledgeBase = getEnv("KBFLOW_DEFAULT_KB", cfg.DefaultKnowledgeBase)

	return cfg
}

func loadFile() *fileConfig {
	path := os.Getenv("KBFLOW_CONFIG")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".config", "kbflow", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		slog.Warn("ignoring unparseable config file", "path", path, "error", err)
		return nil
	}
	return &fc
}

func applyFile(cfg *Config, fc *fileConfig) {
	if fc.ServerURL != "" {
		cfg.ServerURL = fc.ServerURL
	}
	if d, err := time.ParseDuration(fc.RequestTimeout); err == nil && fc.RequestTimeout != "" {
		cfg.RequestTimeout = d
	}
	if d, err := time.ParseDuration(fc.DetailPollInterval); err == nil && fc.DetailPollInterval != "" {
		cfg.DetailPollInterval = d
	}
	if d, err := time.ParseDuration(fc.ListPollInterval); err == nil && fc.ListPollInterval != "" {
		cfg.ListPollInterval = d
	}
	if d, err := time.ParseDuration(fc.HeartbeatInterval); err == nil && fc.HeartbeatInterval != "" {
		cfg.HeartbeatInterval = d
	}
	if fc.LogFile != "" {
		cfg.LogFile = fc.LogFile
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.DefaultKnowledgeBase != "" {
		cfg.DefaultKnowledgeBase = fc.DefaultKnowledgeBase
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
