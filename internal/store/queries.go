package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SessionFilter narrows Sessions queries. Zero values mean "no filter".
type SessionFilter struct {
	Server     string
	CommonName string
	ActiveOnly bool
	Limit      int
}

// Sessions returns session rows matching the filter, newest first.
func (s *Store) Sessions(ctx context.Context, f SessionFilter) ([]Session, error) {
	q := `SELECT id, common_name, server_name, real_address, virtual_address,
	             bytes_received, bytes_sent, connected_since_unix,
	             disconnected_at_unix, session_duration_sec
	      FROM sessions WHERE 1=1`
	var args []any
	if f.ActiveOnly {
		q += ` AND disconnected_at_unix IS NULL`
	}
	if f.Server != "" {
		q += ` AND server_name = ?`
		args = append(args, f.Server)
	}
	if f.CommonName != "" {
		q += ` AND common_name = ?`
		args = append(args, f.CommonName)
	}
	q += ` ORDER BY server_name, connected_since_unix DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var connected int64
		var disconnected, duration sql.NullInt64
		if err := rows.Scan(&sess.ID, &sess.CommonName, &sess.ServerName,
			&sess.RealAddress, &sess.VirtualAddress,
			&sess.BytesReceived, &sess.BytesSent,
			&connected, &disconnected, &duration); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sess.ConnectedSince = time.Unix(connected, 0)
		if disconnected.Valid {
			t := time.Unix(disconnected.Int64, 0)
			sess.DisconnectedAt = &t
		}
		if duration.Valid {
			d := duration.Int64
			sess.DurationSec = &d
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate sessions: %w", err)
	}
	return out, nil
}

// UserStatsList returns aggregate rows, connected users first, most
// recently seen first. search matches a common-name substring. The second
// return value is the total row count before limit/offset.
func (s *Store) UserStatsList(ctx context.Context, server, search string, limit, offset int) ([]UserStats, int64, error) {
	where := ` WHERE 1=1`
	var args []any
	if server != "" {
		where += ` AND server_name = ?`
		args = append(args, server)
	}
	if search != "" {
		where += ` AND common_name LIKE ?`
		args = append(args, "%"+search+"%")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_stats`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count user stats: %w", err)
	}

	q := `SELECT common_name, server_name, total_sessions, total_time_seconds,
	             total_bytes_sent, total_bytes_received, last_seen_unix, current_status
	      FROM user_stats` + where +
		` ORDER BY current_status = 'connected' DESC, last_seen_unix DESC
	      LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: query user stats: %w", err)
	}
	defer rows.Close()

	var out []UserStats
	for rows.Next() {
		var us UserStats
		var lastSeen int64
		if err := rows.Scan(&us.CommonName, &us.ServerName, &us.TotalSessions,
			&us.TotalTimeSeconds, &us.TotalBytesSent, &us.TotalBytesReceived,
			&lastSeen, &us.CurrentStatus); err != nil {
			return nil, 0, fmt.Errorf("store: scan user stats: %w", err)
		}
		us.LastSeen = time.Unix(lastSeen, 0)
		out = append(out, us)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: iterate user stats: %w", err)
	}
	return out, total, nil
}

// UserStatsFor returns the aggregate row for one (user, server), or
// sql.ErrNoRows wrapped if absent.
func (s *Store) UserStatsFor(ctx context.Context, commonName, server string) (UserStats, error) {
	us := UserStats{CommonName: commonName, ServerName: server}
	var lastSeen int64
	err := s.db.QueryRowContext(ctx,
		`SELECT total_sessions, total_time_seconds, total_bytes_sent,
		        total_bytes_received, last_seen_unix, current_status
		 FROM user_stats WHERE common_name = ? AND server_name = ?`,
		commonName, server).Scan(&us.TotalSessions, &us.TotalTimeSeconds,
		&us.TotalBytesSent, &us.TotalBytesReceived, &lastSeen, &us.CurrentStatus)
	if err != nil {
		return UserStats{}, fmt.Errorf("store: user stats for %q on %q: %w", commonName, server, err)
	}
	us.LastSeen = time.Unix(lastSeen, 0)
	return us, nil
}

// Chart bucket granularities.
const (
	BucketMinute = "%Y-%m-%d %H:%M"
	BucketHour   = "%Y-%m-%d %H:00"
	BucketDay    = "%Y-%m-%d"
)

// TrafficHistory returns interval deltas since the given time, summed into
// strftime buckets. With commonName empty the server-wide points are used;
// otherwise that user's points. With server empty all servers are summed.
func (s *Store) TrafficHistory(ctx context.Context, server, commonName string, since time.Time, bucket string) ([]TrafficBucket, error) {
	q := `SELECT strftime(?, ts_unix, 'unixepoch') AS slot,
	             SUM(bytes_in), SUM(bytes_out), AVG(active_users)
	      FROM traffic_history WHERE ts_unix > ?`
	args := []any{bucket, since.Unix()}
	if commonName == "" {
		q += ` AND common_name IS NULL`
	} else {
		q += ` AND common_name = ?`
		args = append(args, commonName)
	}
	if server != "" {
		q += ` AND server_name = ?`
		args = append(args, server)
	}
	q += ` GROUP BY slot ORDER BY slot`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query traffic history: %w", err)
	}
	defer rows.Close()

	var out []TrafficBucket
	for rows.Next() {
		var b TrafficBucket
		if err := rows.Scan(&b.Slot, &b.BytesIn, &b.BytesOut, &b.AvgUsers); err != nil {
			return nil, fmt.Errorf("store: scan traffic bucket: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate traffic buckets: %w", err)
	}
	return out, nil
}

// Summarize computes the dashboard headline numbers, optionally scoped to
// one server.
func (s *Store) Summarize(ctx context.Context, server string, now time.Time) (Summary, error) {
	var sum Summary

	where, args := "", []any{}
	if server != "" {
		where = ` AND server_name = ?`
		args = []any{server}
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT common_name) FROM sessions
		 WHERE disconnected_at_unix IS NULL`+where, args...).Scan(&sum.ActiveUsers); err != nil {
		return sum, fmt.Errorf("store: summary active users: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT common_name) FROM sessions WHERE 1=1`+where, args...).Scan(&sum.TotalUsers); err != nil {
		return sum, fmt.Errorf("store: summary total users: %w", err)
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayArgs := append([]any{midnight.Unix()}, args...)
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions
		 WHERE connected_since_unix >= ?`+where, dayArgs...).Scan(&sum.TodaySessions); err != nil {
		return sum, fmt.Errorf("store: summary today sessions: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(bytes_sent + bytes_received), 0) FROM sessions
		 WHERE 1=1`+where, args...).Scan(&sum.TotalTrafficBytes); err != nil {
		return sum, fmt.Errorf("store: summary traffic: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT server_name) FROM sessions`).Scan(&sum.ServerCount); err != nil {
		return sum, fmt.Errorf("store: summary server count: %w", err)
	}

	return sum, nil
}
