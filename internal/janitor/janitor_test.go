package janitor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/status"
	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.sqlite"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunOncePurgesByRetention(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	oldTime := now.Add(-100 * 24 * time.Hour)

	open := func(name string, since time.Time) store.SessionOpen {
		return store.SessionOpen{Client: status.Client{
			CommonName:     name,
			ConnectedSince: since,
			BytesReceived:  1,
			BytesSent:      1,
		}, DeltaIn: 1, DeltaOut: 1}
	}

	// An old sealed session plus one that stays open far past retention.
	_, err := st.ApplyCycle(ctx, "vpn1", store.CyclePlan{
		Opens: []store.SessionOpen{open("gone", oldTime), open("lingering", oldTime)},
	}, oldTime, false)
	require.NoError(t, err)

	sessions, err := st.OpenSessions(ctx, "vpn1")
	require.NoError(t, err)
	var closes []store.SessionClose
	for _, sess := range sessions {
		if sess.CommonName == "gone" {
			closes = append(closes, store.SessionClose{ID: sess.ID, CommonName: "gone", DurationSec: 60})
		}
	}
	_, err = st.ApplyCycle(ctx, "vpn1", store.CyclePlan{Closes: closes}, oldTime.Add(time.Minute), false)
	require.NoError(t, err)

	j := New(st, 90, 30, testLogger())
	j.clock = func() time.Time { return now }
	j.RunOnce()

	remaining, err := st.Sessions(ctx, store.SessionFilter{Server: "vpn1"})
	require.NoError(t, err)
	require.Len(t, remaining, 1, "sealed session past retention purged")
	assert.Equal(t, "lingering", remaining[0].CommonName, "open sessions never purged regardless of age")

	buckets, err := st.TrafficHistory(ctx, "vpn1", "", oldTime.Add(-time.Hour), store.BucketDay)
	require.NoError(t, err)
	assert.Empty(t, buckets, "old traffic points purged")

	_, err = st.UserStatsFor(ctx, "gone", "vpn1")
	assert.NoError(t, err, "user stats rows survive the janitor")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	j := New(newTestStore(t), 90, 30, testLogger())
	_, err := j.Start("not a schedule")
	require.Error(t, err)
}

func TestStartAndStop(t *testing.T) {
	j := New(newTestStore(t), 90, 30, testLogger())
	stop, err := j.Start("@every 1h")
	require.NoError(t, err)
	stop()
}
