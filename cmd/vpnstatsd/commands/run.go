package commands

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/api"
	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/collector"
	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/config"
	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/janitor"
	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/store"
)

// RunDaemon starts the collector workers, the retention janitor, and the
// HTTP API, and blocks until SIGINT/SIGTERM.
func RunDaemon(args []string, logger *slog.Logger) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "configs/vpnstatsd.yaml", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.ParseLogLevel()}))

	logger.Info("starting vpnstatsd",
		"db", cfg.DBPath,
		"update_interval", cfg.UpdateInterval,
		"retention_days", cfg.RetentionDays,
		"traffic_history_retention_days", cfg.TrafficHistoryRetentionDays)
	for _, srv := range cfg.Servers {
		logger.Info("configured server", "name", srv.Name, "status_file", srv.StatusFile)
	}

	if obs := cfg.Observability; obs.Addr != "" {
		mux := http.NewServeMux()
		if obs.Pprof {
			// Re-register pprof handlers on our mux (net/http/pprof init registers on DefaultServeMux).
			mux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
		}
		if obs.Metrics {
			mux.Handle("/metrics", promhttp.Handler())
		}
		go func() {
			logger.Info("starting observability server", "addr", obs.Addr, "pprof", obs.Pprof, "metrics", obs.Metrics)
			if err := http.ListenAndServe(obs.Addr, mux); err != nil {
				logger.Error("observability server failed", "err", err)
			}
		}()
	}

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Error("failed to open store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	j := janitor.New(st, cfg.RetentionDays, cfg.TrafficHistoryRetentionDays, logger)
	stopJanitor, err := j.Start(cfg.CleanupSchedule)
	if err != nil {
		logger.Error("failed to start janitor", "err", err)
		os.Exit(1)
	}

	apiSrv := api.New(st, cfg, logger)
	go func() {
		if err := apiSrv.Run(ctx); err != nil {
			logger.Error("api server failed", "err", err)
			cancel()
		}
	}()

	coll := collector.New(st, cfg.Servers,
		time.Duration(cfg.UpdateInterval)*time.Second, cfg.PerUserHistory, logger)
	coll.Run(ctx)

	// Collector returned: shutdown signal received and all in-flight
	// cycles drained.
	stopJanitor()
	logger.Info("vpnstatsd stopped")
}
