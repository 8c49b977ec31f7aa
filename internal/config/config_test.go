package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vpnstatsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
servers:
  - name: vpn1
    status_file: /var/log/openvpn/openvpn-status.log
`))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 60, cfg.UpdateInterval)
	assert.Equal(t, 90, cfg.RetentionDays)
	assert.Equal(t, 30, cfg.TrafficHistoryRetentionDays)
	assert.Equal(t, "0 3 * * *", cfg.CleanupSchedule)
	assert.Equal(t, ":5000", cfg.HTTP.Listen)
	assert.Equal(t, 50, cfg.HTTP.DefaultLimit)
	assert.Equal(t, 500, cfg.HTTP.MaxLimit)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "vpn1", cfg.Servers[0].Name)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
log_level: debug
db_path: /tmp/stats.db
update_interval: 30
retention_days: 14
traffic_history_retention_days: 7
per_user_history: true
http:
  listen: ":8080"
  max_limit: 100
observability:
  addr: ":9090"
  metrics: true
servers:
  - name: vpn1
    status_file: /var/log/openvpn/s1.log
  - name: vpn2
    status_file: /var/log/openvpn/s2.log
`))
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.ParseLogLevel())
	assert.Equal(t, 30, cfg.UpdateInterval)
	assert.Equal(t, 14, cfg.RetentionDays)
	assert.True(t, cfg.PerUserHistory)
	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Equal(t, 100, cfg.HTTP.MaxLimit)
	assert.True(t, cfg.Observability.Metrics)
	assert.Len(t, cfg.Servers, 2)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no servers", `log_level: info`},
		{"missing server name", "servers:\n  - status_file: /tmp/s.log"},
		{"missing status file", "servers:\n  - name: vpn1"},
		{"duplicate server name", "servers:\n  - name: vpn1\n    status_file: /a\n  - name: vpn1\n    status_file: /b"},
		{"negative interval", "update_interval: -5\nservers:\n  - name: vpn1\n    status_file: /a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	for raw, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	} {
		assert.Equal(t, want, (&Config{LogLevel: raw}).ParseLogLevel(), raw)
	}
}
