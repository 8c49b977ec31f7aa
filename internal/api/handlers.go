package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": s.clock().Format(time.RFC3339),
	})
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	type serverInfo struct {
		Name       string `json:"name"`
		StatusFile string `json:"status_file"`
	}
	out := make([]serverInfo, 0, len(s.servers))
	for _, srv := range s.servers {
		out = append(out, serverInfo{Name: srv.Name, StatusFile: srv.StatusFile})
	}
	writeJSON(w, http.StatusOK, out)
}

type sessionResponse struct {
	Username       string  `json:"username"`
	ServerName     string  `json:"server_name"`
	RealAddress    string  `json:"real_address"`
	VirtualAddress string  `json:"virtual_address"`
	BytesReceived  int64   `json:"bytes_received"`
	BytesSent      int64   `json:"bytes_sent"`
	ConnectedSince string  `json:"connected_since"`
	Duration       string  `json:"duration"`
	DownloadMB     float64 `json:"download_mb"`
	UploadMB       float64 `json:"upload_mb"`
}

func (s *Server) sessionResponse(sess store.Session) sessionResponse {
	end := s.clock()
	if sess.DisconnectedAt != nil {
		end = *sess.DisconnectedAt
	}
	virtual := sess.VirtualAddress
	if virtual == "" {
		virtual = "N/A"
	}
	return sessionResponse{
		Username:       sess.CommonName,
		ServerName:     sess.ServerName,
		RealAddress:    sess.RealAddress,
		VirtualAddress: virtual,
		BytesReceived:  sess.BytesReceived,
		BytesSent:      sess.BytesSent,
		ConnectedSince: sess.ConnectedSince.Format(time.RFC3339),
		Duration:       formatDuration(end.Sub(sess.ConnectedSince)),
		DownloadMB:     roundMB(sess.BytesReceived),
		UploadMB:       roundMB(sess.BytesSent),
	}
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.Sessions(r.Context(), store.SessionFilter{
		Server:     r.URL.Query().Get("server"),
		CommonName: r.URL.Query().Get("username"),
		ActiveOnly: true,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to query sessions", err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, s.sessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

type userStatsResponse struct {
	Username       string  `json:"username"`
	ServerName     string  `json:"server_name"`
	TotalSessions  int64   `json:"total_sessions"`
	TotalTime      string  `json:"total_time"`
	BytesSent      int64   `json:"bytes_sent"`
	BytesReceived  int64   `json:"bytes_received"`
	DownloadGB     float64 `json:"download_gb"`
	UploadGB       float64 `json:"upload_gb"`
	TotalTrafficGB float64 `json:"total_traffic_gb"`
	LastSeen       string  `json:"last_seen"`
	Status         string  `json:"status"`
}

func (s *Server) userStatsResponse(us store.UserStats) userStatsResponse {
	return userStatsResponse{
		Username:       us.CommonName,
		ServerName:     us.ServerName,
		TotalSessions:  us.TotalSessions,
		TotalTime:      fmt.Sprintf("%dh %dm", us.TotalTimeSeconds/3600, us.TotalTimeSeconds%3600/60),
		BytesSent:      us.TotalBytesSent,
		BytesReceived:  us.TotalBytesReceived,
		DownloadGB:     roundGB(us.TotalBytesReceived),
		UploadGB:       roundGB(us.TotalBytesSent),
		TotalTrafficGB: roundGB(us.TotalBytesSent + us.TotalBytesReceived),
		LastSeen:       us.LastSeen.Format(time.RFC3339),
		Status:         us.CurrentStatus,
	}
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := s.clampLimit(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	stats, total, err := s.store.UserStatsList(r.Context(), q.Get("server"), q.Get("search"), limit, offset)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to query user stats", err)
		return
	}

	out := make([]userStatsResponse, 0, len(stats))
	for _, us := range stats {
		out = append(out, s.userStatsResponse(us))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   out,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleTrafficHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hours, err := strconv.ParseFloat(q.Get("hours"), 64)
	if err != nil || hours <= 0 {
		hours = 24
	}

	bucket := store.BucketDay
	switch {
	case hours <= 6:
		bucket = store.BucketMinute
	case hours <= 24:
		bucket = store.BucketHour
	}

	since := s.clock().Add(-time.Duration(hours * float64(time.Hour)))
	buckets, err := s.store.TrafficHistory(r.Context(), q.Get("server"), q.Get("username"), since, bucket)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to query traffic history", err)
		return
	}

	labels := make([]string, 0, len(buckets))
	inbound := make([]float64, 0, len(buckets))
	outbound := make([]float64, 0, len(buckets))
	users := make([]int, 0, len(buckets))
	for _, b := range buckets {
		labels = append(labels, shortLabel(b.Slot, bucket))
		inbound = append(inbound, roundGB(b.BytesIn))
		outbound = append(outbound, roundGB(b.BytesOut))
		users = append(users, int(b.AvgUsers))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"labels":   labels,
		"inbound":  inbound,
		"outbound": outbound,
		"users":    users,
	})
}

// shortLabel trims a bucket slot to the part worth charting: the clock
// time for sub-day buckets, the date otherwise.
func shortLabel(slot, bucket string) string {
	if bucket == store.BucketDay {
		return slot
	}
	if i := len("2006-01-02 "); len(slot) > i {
		return slot[i:]
	}
	return slot
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.store.Summarize(r.Context(), r.URL.Query().Get("server"), s.clock())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to query summary", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_users":     sum.ActiveUsers,
		"total_users":      sum.TotalUsers,
		"today_sessions":   sum.TodaySessions,
		"total_traffic_gb": roundGB(sum.TotalTrafficBytes),
		"server_count":     sum.ServerCount,
	})
}

func (s *Server) clampLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return s.defaultLimit
	}
	if limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, sec%3600/60, sec%60)
}

func roundMB(b int64) float64 {
	return math.Round(float64(b)/(1<<20)*100) / 100
}

func roundGB(b int64) float64 {
	return math.Round(float64(b)/(1<<30)*100) / 100
}
