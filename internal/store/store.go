// Package store is the SQLite-backed persistence layer: session records,
// per-user aggregates, and traffic history.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database. WAL mode allows API readers to run
// concurrently with writer cycles.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the SQLite database at path and initialises the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  common_name TEXT NOT NULL,
  server_name TEXT NOT NULL,
  real_address TEXT NOT NULL DEFAULT '',
  virtual_address TEXT NOT NULL DEFAULT '',
  bytes_received INTEGER NOT NULL DEFAULT 0,
  bytes_sent INTEGER NOT NULL DEFAULT 0,
  connected_since_unix INTEGER NOT NULL,
  disconnected_at_unix INTEGER,
  session_duration_sec INTEGER,
  created_at_unix INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_common_name ON sessions(common_name);
CREATE INDEX IF NOT EXISTS idx_sessions_server ON sessions(server_name);
CREATE INDEX IF NOT EXISTS idx_sessions_connected ON sessions(connected_since_unix);
CREATE INDEX IF NOT EXISTS idx_sessions_disconnected ON sessions(disconnected_at_unix);

-- Backstop for the reconciler: one open row per identity.
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open_identity
  ON sessions(server_name, common_name, connected_since_unix)
  WHERE disconnected_at_unix IS NULL;

CREATE TABLE IF NOT EXISTS user_stats (
  common_name TEXT NOT NULL,
  server_name TEXT NOT NULL,
  total_sessions INTEGER NOT NULL DEFAULT 0,
  total_time_seconds INTEGER NOT NULL DEFAULT 0,
  total_bytes_sent INTEGER NOT NULL DEFAULT 0,
  total_bytes_received INTEGER NOT NULL DEFAULT 0,
  last_seen_unix INTEGER NOT NULL DEFAULT 0,
  current_status TEXT NOT NULL DEFAULT 'disconnected',
  updated_at_unix INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (common_name, server_name)
);

CREATE TABLE IF NOT EXISTS traffic_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  server_name TEXT NOT NULL,
  common_name TEXT,
  bytes_in INTEGER NOT NULL DEFAULT 0,
  bytes_out INTEGER NOT NULL DEFAULT 0,
  active_users INTEGER NOT NULL DEFAULT 0,
  ts_unix INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_traffic_ts ON traffic_history(ts_unix);
CREATE INDEX IF NOT EXISTS idx_traffic_server ON traffic_history(server_name);`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// OpenSessions returns all open sessions for a server, for the reconciler.
func (s *Store) OpenSessions(ctx context.Context, server string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, common_name, real_address, virtual_address,
		        bytes_received, bytes_sent, connected_since_unix
		 FROM sessions
		 WHERE server_name = ? AND disconnected_at_unix IS NULL`, server)
	if err != nil {
		return nil, fmt.Errorf("store: query open sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess := Session{ServerName: server}
		var connected int64
		if err := rows.Scan(&sess.ID, &sess.CommonName, &sess.RealAddress,
			&sess.VirtualAddress, &sess.BytesReceived, &sess.BytesSent, &connected); err != nil {
			return nil, fmt.Errorf("store: scan open session: %w", err)
		}
		sess.ConnectedSince = time.Unix(connected, 0)
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate open sessions: %w", err)
	}
	return out, nil
}

// ApplyCycle applies one reconciliation plan for one server as a single
// transaction. Either the whole cycle becomes visible or none of it does.
// A uniqueness violation on a session insert signals a reconciler defect:
// the offending insert is rejected and logged, the rest of the cycle
// proceeds.
func (s *Store) ApplyCycle(ctx context.Context, server string, plan CyclePlan, now time.Time, perUserHistory bool) (CycleResult, error) {
	var res CycleResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("store: begin cycle tx: %w", err)
	}
	defer tx.Rollback()

	nowUnix := now.Unix()

	// Closes first: a user whose other session is still live gets flipped
	// back to connected by the open/update upserts below.
	for _, c := range plan.Closes {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET disconnected_at_unix = ?, session_duration_sec = ?
			 WHERE id = ?`, nowUnix, c.DurationSec, c.ID); err != nil {
			return res, fmt.Errorf("store: seal session %d: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_stats
			   (common_name, server_name, total_time_seconds, last_seen_unix, current_status, updated_at_unix)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(common_name, server_name) DO UPDATE SET
			   total_time_seconds = total_time_seconds + excluded.total_time_seconds,
			   last_seen_unix = excluded.last_seen_unix,
			   current_status = excluded.current_status,
			   updated_at_unix = excluded.updated_at_unix`,
			c.CommonName, server, c.DurationSec, nowUnix, StatusDisconnected, nowUnix); err != nil {
			return res, fmt.Errorf("store: close stats for %q: %w", c.CommonName, err)
		}
		res.Closed++
	}

	for _, o := range plan.Opens {
		cl := o.Client
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions
			   (common_name, server_name, real_address, virtual_address,
			    bytes_received, bytes_sent, connected_since_unix, created_at_unix)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			cl.CommonName, server, cl.RealAddress, cl.VirtualAddress,
			cl.BytesReceived, cl.BytesSent, cl.ConnectedSince.Unix(), nowUnix)
		if err != nil {
			if isUniqueViolation(err) {
				s.logger.Error("duplicate open session rejected, reconciler bug?",
					"server", server, "common_name", cl.CommonName,
					"connected_since", cl.ConnectedSince.Unix(), "err", err)
				res.Rejected++
				continue
			}
			return res, fmt.Errorf("store: insert session for %q: %w", cl.CommonName, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_stats
			   (common_name, server_name, total_sessions, total_bytes_received, total_bytes_sent,
			    last_seen_unix, current_status, updated_at_unix)
			 VALUES (?, ?, 1, ?, ?, ?, ?, ?)
			 ON CONFLICT(common_name, server_name) DO UPDATE SET
			   total_sessions = total_sessions + 1,
			   total_bytes_received = total_bytes_received + excluded.total_bytes_received,
			   total_bytes_sent = total_bytes_sent + excluded.total_bytes_sent,
			   last_seen_unix = excluded.last_seen_unix,
			   current_status = excluded.current_status,
			   updated_at_unix = excluded.updated_at_unix`,
			cl.CommonName, server, o.DeltaIn, o.DeltaOut, nowUnix, StatusConnected, nowUnix); err != nil {
			return res, fmt.Errorf("store: open stats for %q: %w", cl.CommonName, err)
		}
		res.Opened++
	}

	for _, u := range plan.Updates {
		cl := u.Client
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions
			 SET bytes_received = ?, bytes_sent = ?, real_address = ?, virtual_address = ?
			 WHERE id = ?`,
			cl.BytesReceived, cl.BytesSent, cl.RealAddress, cl.VirtualAddress, u.ID); err != nil {
			return res, fmt.Errorf("store: update session %d: %w", u.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_stats
			   (common_name, server_name, total_bytes_received, total_bytes_sent,
			    last_seen_unix, current_status, updated_at_unix)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(common_name, server_name) DO UPDATE SET
			   total_bytes_received = total_bytes_received + excluded.total_bytes_received,
			   total_bytes_sent = total_bytes_sent + excluded.total_bytes_sent,
			   last_seen_unix = excluded.last_seen_unix,
			   current_status = excluded.current_status,
			   updated_at_unix = excluded.updated_at_unix`,
			cl.CommonName, server, u.DeltaIn, u.DeltaOut, nowUnix, StatusConnected, nowUnix); err != nil {
			return res, fmt.Errorf("store: update stats for %q: %w", cl.CommonName, err)
		}
		res.Updated++
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO traffic_history (server_name, common_name, bytes_in, bytes_out, active_users, ts_unix)
		 VALUES (?, NULL, ?, ?, ?, ?)`,
		server, plan.DeltaIn, plan.DeltaOut, plan.ActiveUsers, nowUnix); err != nil {
		return res, fmt.Errorf("store: insert history point: %w", err)
	}
	if perUserHistory {
		for _, ud := range plan.PerUser {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO traffic_history (server_name, common_name, bytes_in, bytes_out, active_users, ts_unix)
				 VALUES (?, ?, ?, ?, 0, ?)`,
				server, ud.CommonName, ud.DeltaIn, ud.DeltaOut, nowUnix); err != nil {
				return res, fmt.Errorf("store: insert user history point for %q: %w", ud.CommonName, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("store: commit cycle: %w", err)
	}
	return res, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure. modernc.org/sqlite does not export a typed error for this.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// PurgeClosedSessions deletes sessions sealed before cutoff. Open sessions
// are never purged.
func (s *Store) PurgeClosedSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions
		 WHERE disconnected_at_unix IS NOT NULL AND disconnected_at_unix < ?`,
		cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeTrafficHistory deletes history points older than cutoff.
func (s *Store) PurgeTrafficHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM traffic_history WHERE ts_unix < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: purge traffic history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
