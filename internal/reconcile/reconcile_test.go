package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/status"
	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/store"
)

func TestDelta(t *testing.T) {
	tests := []struct {
		name       string
		curr, prev int64
		want       int64
	}{
		{"monotonic growth", 150, 100, 50},
		{"unchanged", 100, 100, 0},
		{"first observation against zero baseline", 100, 0, 100},
		{"counter reset restarts from current", 30, 150, 30},
		{"reset to zero", 0, 150, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Delta(tt.curr, tt.prev))
		})
	}
}

func TestDeltaResetSequence(t *testing.T) {
	// Cumulative readings [100, 150, 30]: deltas must be [100, 50, 30].
	readings := []int64{100, 150, 30}
	var prev int64
	var deltas []int64
	for _, curr := range readings {
		deltas = append(deltas, Delta(curr, prev))
		prev = curr
	}
	assert.Equal(t, []int64{100, 50, 30}, deltas)
}

func TestDeltaConservation(t *testing.T) {
	// Without resets, summed deltas equal cN - c0 with the c0 baseline
	// accounted at open.
	readings := []int64{10, 40, 40, 90, 300}
	var sum int64
	prev := int64(0)
	for _, curr := range readings {
		sum += Delta(curr, prev)
		prev = curr
	}
	assert.Equal(t, readings[len(readings)-1], sum)
}

func client(name string, since int64, recv, sent int64) status.Client {
	return status.Client{
		CommonName:     name,
		RealAddress:    "203.0.113.5",
		BytesReceived:  recv,
		BytesSent:      sent,
		ConnectedSince: time.Unix(since, 0),
	}
}

func openSession(id int64, name string, since int64, recv, sent int64) store.Session {
	return store.Session{
		ID:             id,
		CommonName:     name,
		ServerName:     "vpn1",
		BytesReceived:  recv,
		BytesSent:      sent,
		ConnectedSince: time.Unix(since, 0),
	}
}

func TestBuildPlanOpensNewSessions(t *testing.T) {
	now := time.Unix(2000, 0)
	plan := BuildPlan(nil, []status.Client{client("alice", 1000, 500, 700)}, now)

	require.Len(t, plan.Opens, 1)
	assert.Empty(t, plan.Updates)
	assert.Empty(t, plan.Closes)
	assert.Equal(t, int64(500), plan.Opens[0].DeltaIn, "baseline is zero for a new session")
	assert.Equal(t, int64(700), plan.Opens[0].DeltaOut)
	assert.Equal(t, int64(500), plan.DeltaIn)
	assert.Equal(t, int64(700), plan.DeltaOut)
	assert.Equal(t, 1, plan.ActiveUsers)
}

func TestBuildPlanUpdatesAndCloses(t *testing.T) {
	now := time.Unix(3000, 0)
	open := []store.Session{
		openSession(1, "alice", 1000, 500, 700),
		openSession(2, "bob", 1500, 100, 100),
	}
	live := []status.Client{client("alice", 1000, 600, 900)}

	plan := BuildPlan(open, live, now)

	require.Len(t, plan.Updates, 1)
	assert.Equal(t, int64(1), plan.Updates[0].ID)
	assert.Equal(t, int64(100), plan.Updates[0].DeltaIn)
	assert.Equal(t, int64(200), plan.Updates[0].DeltaOut)

	require.Len(t, plan.Closes, 1)
	assert.Equal(t, int64(2), plan.Closes[0].ID)
	assert.Equal(t, "bob", plan.Closes[0].CommonName)
	assert.Equal(t, int64(1500), plan.Closes[0].DurationSec)

	assert.Empty(t, plan.Opens)
}

func TestBuildPlanReconnectIsNewSession(t *testing.T) {
	// Same user, new connect timestamp: the old row closes and a fresh
	// one opens. Never a mutation of the existing record.
	now := time.Unix(5000, 0)
	open := []store.Session{openSession(1, "alice", 1000, 500, 700)}
	live := []status.Client{client("alice", 4000, 50, 60)}

	plan := BuildPlan(open, live, now)

	require.Len(t, plan.Closes, 1)
	assert.Equal(t, int64(1), plan.Closes[0].ID)
	require.Len(t, plan.Opens, 1)
	assert.Equal(t, time.Unix(4000, 0), plan.Opens[0].Client.ConnectedSince)
	assert.Empty(t, plan.Updates)
}

func TestBuildPlanConcurrentSessionsPerUser(t *testing.T) {
	// One user, two simultaneous sessions with different connect times.
	now := time.Unix(5000, 0)
	open := []store.Session{
		openSession(1, "alice", 1000, 100, 100),
		openSession(2, "alice", 2000, 10, 10),
	}
	live := []status.Client{
		client("alice", 1000, 150, 150),
		client("alice", 2000, 30, 30),
	}

	plan := BuildPlan(open, live, now)

	require.Len(t, plan.Updates, 2)
	assert.Empty(t, plan.Opens)
	assert.Empty(t, plan.Closes)
	assert.Equal(t, int64(70), plan.DeltaIn)

	// Closing one must not affect the other.
	plan = BuildPlan(open, live[:1], now)
	require.Len(t, plan.Closes, 1)
	assert.Equal(t, int64(2), plan.Closes[0].ID)
	require.Len(t, plan.Updates, 1)
	assert.Equal(t, int64(1), plan.Updates[0].ID)
}

func TestBuildPlanCounterResetWithinSession(t *testing.T) {
	// The link reconnected without a new connect timestamp: counters
	// restart but the identity key does not change.
	now := time.Unix(5000, 0)
	open := []store.Session{openSession(1, "alice", 1000, 150, 150)}
	live := []status.Client{client("alice", 1000, 30, 40)}

	plan := BuildPlan(open, live, now)

	require.Len(t, plan.Updates, 1)
	assert.Equal(t, int64(30), plan.Updates[0].DeltaIn)
	assert.Equal(t, int64(40), plan.Updates[0].DeltaOut)
}

func TestBuildPlanRoamingAddressLastWins(t *testing.T) {
	now := time.Unix(5000, 0)
	open := []store.Session{openSession(1, "alice", 1000, 100, 100)}

	first := client("alice", 1000, 120, 130)
	second := client("alice", 1000, 140, 160)
	second.RealAddress = "198.51.100.9"

	plan := BuildPlan(open, []status.Client{first, second}, now)

	require.Len(t, plan.Updates, 1, "same identity key is one logical session")
	assert.Equal(t, "198.51.100.9", plan.Updates[0].Client.RealAddress)
	assert.Equal(t, int64(40), plan.Updates[0].DeltaIn)
	assert.Equal(t, 1, plan.ActiveUsers)
}

func TestBuildPlanPerUserDeltasAggregated(t *testing.T) {
	now := time.Unix(5000, 0)
	open := []store.Session{
		openSession(1, "alice", 1000, 100, 100),
		openSession(2, "alice", 2000, 10, 10),
	}
	live := []status.Client{
		client("alice", 1000, 150, 150),
		client("alice", 2000, 30, 30),
		client("bob", 3000, 5, 5),
	}

	plan := BuildPlan(open, live, now)

	require.Len(t, plan.PerUser, 2)
	assert.Equal(t, "alice", plan.PerUser[0].CommonName)
	assert.Equal(t, int64(70), plan.PerUser[0].DeltaIn)
	assert.Equal(t, "bob", plan.PerUser[1].CommonName)
	assert.Equal(t, int64(5), plan.PerUser[1].DeltaIn)
}

func TestBuildPlanEmptySnapshotClosesAll(t *testing.T) {
	now := time.Unix(5000, 0)
	open := []store.Session{
		openSession(1, "alice", 1000, 100, 100),
		openSession(2, "bob", 2000, 10, 10),
	}

	plan := BuildPlan(open, nil, now)

	assert.Len(t, plan.Closes, 2)
	assert.Empty(t, plan.Opens)
	assert.Empty(t, plan.Updates)
	assert.Zero(t, plan.DeltaIn)
	assert.Zero(t, plan.ActiveUsers)
}
