package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string `yaml:"log_level"`
	DBPath   string `yaml:"db_path"`

	// UpdateInterval is the polling interval in seconds.
	UpdateInterval int `yaml:"update_interval"`

	RetentionDays               int    `yaml:"retention_days"`
	TrafficHistoryRetentionDays int    `yaml:"traffic_history_retention_days"`
	CleanupSchedule             string `yaml:"cleanup_schedule"`

	// PerUserHistory additionally records one traffic history point per
	// live user per cycle, alongside the server-wide point.
	PerUserHistory bool `yaml:"per_user_history"`

	HTTP          HTTPConfig          `yaml:"http"`
	Observability ObservabilityConfig `yaml:"observability"`
	Servers       []ServerConfig      `yaml:"servers"`
}

type ServerConfig struct {
	Name       string `yaml:"name"`
	StatusFile string `yaml:"status_file"`
}

type HTTPConfig struct {
	Listen       string `yaml:"listen"`
	DefaultLimit int    `yaml:"default_limit"`
	MaxLimit     int    `yaml:"max_limit"`
}

type ObservabilityConfig struct {
	Addr    string `yaml:"addr"`
	Metrics bool   `yaml:"metrics"`
	Pprof   bool   `yaml:"pprof"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/openvpn_stats.db"
	}
	if cfg.UpdateInterval == 0 {
		cfg.UpdateInterval = 60
	}
	if cfg.UpdateInterval < 1 {
		return nil, fmt.Errorf("update_interval must be positive, got %d", cfg.UpdateInterval)
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 90
	}
	if cfg.TrafficHistoryRetentionDays == 0 {
		cfg.TrafficHistoryRetentionDays = 30
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = "0 3 * * *"
	}
	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":5000"
	}
	if cfg.HTTP.DefaultLimit == 0 {
		cfg.HTTP.DefaultLimit = 50
	}
	if cfg.HTTP.MaxLimit == 0 {
		cfg.HTTP.MaxLimit = 500
	}

	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("at least one server entry is required")
	}
	seen := make(map[string]bool, len(cfg.Servers))
	for i := range cfg.Servers {
		s := &cfg.Servers[i]
		if s.Name == "" {
			return nil, fmt.Errorf("server entry %d: name is required", i)
		}
		if s.StatusFile == "" {
			return nil, fmt.Errorf("server %q: status_file is required", s.Name)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("server %q: duplicate name", s.Name)
		}
		seen[s.Name] = true
	}

	return &cfg, nil
}

func (c *Config) ParseLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
