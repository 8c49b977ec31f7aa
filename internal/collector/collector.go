// Package collector drives one reconciliation cycle per configured server
// on a fixed interval.
package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/config"
	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/metrics"
	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/reconcile"
	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/status"
	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/store"
)

// Collector runs one polling worker per server. Cycles for the same
// server never overlap; servers run independently.
type Collector struct {
	store          *store.Store
	servers        []config.ServerConfig
	interval       time.Duration
	perUserHistory bool
	logger         *slog.Logger

	// clock and open are swapped in tests for synthetic snapshots and an
	// injected clock.
	clock func() time.Time
	open  func(path string) (io.ReadCloser, error)
}

func New(st *store.Store, servers []config.ServerConfig, interval time.Duration, perUserHistory bool, logger *slog.Logger) *Collector {
	return &Collector{
		store:          st,
		servers:        servers,
		interval:       interval,
		perUserHistory: perUserHistory,
		logger:         logger,
		clock:          time.Now,
		open: func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// Run starts one worker per server and blocks until ctx is cancelled and
// all in-flight cycles have completed.
func (c *Collector) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, srv := range c.servers {
		wg.Add(1)
		go func(srv config.ServerConfig) {
			defer wg.Done()
			c.runWorker(ctx, srv)
		}(srv)
	}
	wg.Wait()
}

func (c *Collector) runWorker(ctx context.Context, srv config.ServerConfig) {
	logger := c.logger.With("server", srv.Name)
	logger.Info("collector worker started", "status_file", srv.StatusFile, "interval", c.interval)

	var failStreak int
	cycle := func() {
		start := c.clock()
		err := c.runCycle(srv, logger)
		metrics.CycleDuration.WithLabelValues(srv.Name).Observe(c.clock().Sub(start).Seconds())
		switch {
		case err == nil:
			if failStreak > 0 {
				logger.Info("snapshot source recovered", "failed_cycles", failStreak)
			}
			failStreak = 0
			metrics.CyclesTotal.WithLabelValues(srv.Name, "ok").Inc()
		case isReadError(err):
			// A read failure is never "no clients": the whole cycle is
			// skipped so open sessions stay untouched.
			failStreak++
			metrics.SnapshotReadFailures.WithLabelValues(srv.Name).Inc()
			metrics.CyclesTotal.WithLabelValues(srv.Name, "skipped").Inc()
			logger.Warn("snapshot unreadable, cycle skipped", "failed_cycles", failStreak, "err", err)
		default:
			metrics.CyclesTotal.WithLabelValues(srv.Name, "error").Inc()
			logger.Error("cycle failed, will retry next tick", "err", err)
		}
	}

	cycle()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("collector worker stopped")
			return
		case <-ticker.C:
			cycle()
		}
	}
}

// readError marks failures of the snapshot source itself, as opposed to
// reconciliation or store failures.
type readError struct{ err error }

func (e *readError) Error() string { return e.err.Error() }
func (e *readError) Unwrap() error { return e.err }

func isReadError(err error) bool {
	_, ok := err.(*readError)
	return ok
}

// runCycle performs one parse → diff → apply pass for one server. The
// cycle is detached from the worker's context so that shutdown never
// tears down a transaction mid-flight; it is bounded by its own timeout
// instead.
func (c *Collector) runCycle(srv config.ServerConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	now := c.clock()

	f, err := c.open(srv.StatusFile)
	if err != nil {
		return &readError{err: err}
	}
	snap, err := status.Parse(f, logger)
	f.Close()
	if err != nil {
		return &readError{err: err}
	}
	if snap.SkippedLines > 0 {
		metrics.ParseSkippedLines.WithLabelValues(srv.Name).Add(float64(snap.SkippedLines))
		logger.Debug("snapshot parsed with skipped lines", "skipped", snap.SkippedLines)
	}

	open, err := c.store.OpenSessions(ctx, srv.Name)
	if err != nil {
		return fmt.Errorf("loading open sessions: %w", err)
	}

	plan := reconcile.BuildPlan(open, snap.Clients, now)

	res, err := c.store.ApplyCycle(ctx, srv.Name, plan, now, c.perUserHistory)
	if err != nil {
		return fmt.Errorf("applying cycle: %w", err)
	}

	metrics.SessionsOpened.WithLabelValues(srv.Name).Add(float64(res.Opened))
	metrics.SessionsClosed.WithLabelValues(srv.Name).Add(float64(res.Closed))
	metrics.SessionsRejected.WithLabelValues(srv.Name).Add(float64(res.Rejected))
	metrics.SessionsActive.WithLabelValues(srv.Name).Set(float64(plan.ActiveUsers))
	metrics.BytesTotal.WithLabelValues(srv.Name, "in").Add(float64(plan.DeltaIn))
	metrics.BytesTotal.WithLabelValues(srv.Name, "out").Add(float64(plan.DeltaOut))

	logger.Debug("cycle applied",
		"live", len(snap.Clients),
		"opened", res.Opened, "updated", res.Updated,
		"closed", res.Closed, "rejected", res.Rejected,
		"delta_in", plan.DeltaIn, "delta_out", plan.DeltaOut)
	return nil
}
