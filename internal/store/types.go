package store

import (
	"time"

	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/status"
)

// Session is one persisted session row. A session is identified by
// (server_name, common_name, connected_since); at most one row per
// identity is open (disconnected_at NULL) at any time.
type Session struct {
	ID             int64
	CommonName     string
	ServerName     string
	RealAddress    string
	VirtualAddress string
	BytesReceived  int64
	BytesSent      int64
	ConnectedSince time.Time
	DisconnectedAt *time.Time
	DurationSec    *int64
}

// UserStats is the running per-(user, server) aggregate row.
type UserStats struct {
	CommonName         string
	ServerName         string
	TotalSessions      int64
	TotalTimeSeconds   int64
	TotalBytesSent     int64
	TotalBytesReceived int64
	LastSeen           time.Time
	CurrentStatus      string
}

// User status values stored in user_stats.current_status.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// CyclePlan is the outcome of diffing one snapshot against the open
// sessions of one server. It is applied atomically by ApplyCycle.
type CyclePlan struct {
	Opens   []SessionOpen
	Updates []SessionUpdate
	Closes  []SessionClose

	// DeltaIn/DeltaOut are the summed per-session traffic deltas for the
	// interval, recorded as the server-wide history point.
	DeltaIn     int64
	DeltaOut    int64
	ActiveUsers int

	// PerUser holds per-user interval deltas, aggregated across a user's
	// concurrent sessions.
	PerUser []UserDelta
}

// SessionOpen opens a brand-new session.
type SessionOpen struct {
	Client   status.Client
	DeltaIn  int64
	DeltaOut int64
}

// SessionUpdate refreshes the counters of a still-open session.
type SessionUpdate struct {
	ID       int64
	Client   status.Client
	DeltaIn  int64
	DeltaOut int64
}

// SessionClose seals a session that vanished from the snapshot.
type SessionClose struct {
	ID          int64
	CommonName  string
	DurationSec int64
}

// UserDelta is one user's interval traffic across all of their sessions.
type UserDelta struct {
	CommonName string
	DeltaIn    int64
	DeltaOut   int64
}

// CycleResult reports what one applied cycle changed.
type CycleResult struct {
	Opened   int
	Updated  int
	Closed   int
	Rejected int
}

// TrafficBucket is one aggregated chart point.
type TrafficBucket struct {
	Slot     string
	BytesIn  int64
	BytesOut int64
	AvgUsers float64
}

// Summary holds the dashboard headline numbers.
type Summary struct {
	ActiveUsers       int64
	TotalUsers        int64
	TodaySessions     int64
	TotalTrafficBytes int64
	ServerCount       int64
}
