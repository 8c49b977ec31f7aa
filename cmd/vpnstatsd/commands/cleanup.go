package commands

import (
	"flag"
	"log/slog"
	"os"

	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/config"
	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/janitor"
	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/store"
)

// Cleanup runs a single retention purge against the configured database
// and exits. Useful from an external scheduler or before backups.
func Cleanup(args []string, logger *slog.Logger) {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	configPath := fs.String("config", "configs/vpnstatsd.yaml", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Error("failed to open store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	janitor.New(st, cfg.RetentionDays, cfg.TrafficHistoryRetentionDays, logger).RunOnce()
}
