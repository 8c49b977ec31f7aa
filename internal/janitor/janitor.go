// Package janitor purges session and traffic-history rows past their
// retention age.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/metrics"
	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/store"
)

// Janitor runs retention purges on a cron schedule, independent of the
// polling cycle. Failures are logged and retried on the next run, never
// escalated.
type Janitor struct {
	store            *store.Store
	sessionRetention time.Duration
	trafficRetention time.Duration
	logger           *slog.Logger

	clock func() time.Time
}

func New(st *store.Store, retentionDays, trafficRetentionDays int, logger *slog.Logger) *Janitor {
	return &Janitor{
		store:            st,
		sessionRetention: time.Duration(retentionDays) * 24 * time.Hour,
		trafficRetention: time.Duration(trafficRetentionDays) * 24 * time.Hour,
		logger:           logger,
		clock:            time.Now,
	}
}

// Start schedules periodic cleanup and returns a stop function that
// waits for an in-flight run to finish. An immediate run is performed at
// startup so a long-stopped daemon catches up without waiting for the
// next scheduled slot.
func (j *Janitor) Start(schedule string) (stop func(), err error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, j.RunOnce); err != nil {
		return nil, fmt.Errorf("janitor: bad schedule %q: %w", schedule, err)
	}
	go j.RunOnce()
	c.Start()
	j.logger.Info("janitor scheduled", "schedule", schedule,
		"session_retention", j.sessionRetention, "traffic_retention", j.trafficRetention)
	return func() { <-c.Stop().Done() }, nil
}

// RunOnce performs one purge pass. Open sessions and user_stats rows are
// never touched.
func (j *Janitor) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	now := j.clock()

	sessions, err := j.store.PurgeClosedSessions(ctx, now.Add(-j.sessionRetention))
	if err != nil {
		metrics.JanitorFailures.Inc()
		j.logger.Error("janitor: session purge failed, will retry next run", "err", err)
		return
	}
	traffic, err := j.store.PurgeTrafficHistory(ctx, now.Add(-j.trafficRetention))
	if err != nil {
		metrics.JanitorFailures.Inc()
		j.logger.Error("janitor: traffic history purge failed, will retry next run", "err", err)
		return
	}

	metrics.JanitorDeletedRows.WithLabelValues("sessions").Add(float64(sessions))
	metrics.JanitorDeletedRows.WithLabelValues("traffic_history").Add(float64(traffic))
	if sessions > 0 || traffic > 0 {
		j.logger.Info("janitor: purged old rows", "sessions", sessions, "traffic_points", traffic)
	}
}
