package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/store"
)

func (s *Server) handleExportSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.Sessions(r.Context(), store.SessionFilter{
		Server:     r.URL.Query().Get("server"),
		ActiveOnly: true,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to query sessions", err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "csv":
		s.startCSV(w, "vpn_sessions")
		cw := csv.NewWriter(w)
		cw.Write([]string{
			"username", "server_name", "real_address", "virtual_address",
			"bytes_received", "bytes_sent", "connected_since", "duration",
		})
		for _, sess := range sessions {
			resp := s.sessionResponse(sess)
			cw.Write([]string{
				resp.Username, resp.ServerName, resp.RealAddress, resp.VirtualAddress,
				strconv.FormatInt(resp.BytesReceived, 10),
				strconv.FormatInt(resp.BytesSent, 10),
				resp.ConnectedSince, resp.Duration,
			})
		}
		cw.Flush()
	case "json":
		out := make([]sessionResponse, 0, len(sessions))
		for _, sess := range sessions {
			out = append(out, s.sessionResponse(sess))
		}
		writeJSON(w, http.StatusOK, out)
	default:
		s.writeError(w, http.StatusBadRequest, "invalid format, use csv or json", nil)
	}
}

func (s *Server) handleExportUsers(w http.ResponseWriter, r *http.Request) {
	stats, _, err := s.store.UserStatsList(r.Context(), r.URL.Query().Get("server"), "", s.maxLimit, 0)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to query user stats", err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "csv":
		s.startCSV(w, "vpn_users")
		cw := csv.NewWriter(w)
		cw.Write([]string{
			"username", "server_name", "total_sessions", "total_time_seconds",
			"total_bytes_sent", "total_bytes_received", "total_traffic_gb",
			"last_seen", "status",
		})
		for _, us := range stats {
			cw.Write([]string{
				us.CommonName, us.ServerName,
				strconv.FormatInt(us.TotalSessions, 10),
				strconv.FormatInt(us.TotalTimeSeconds, 10),
				strconv.FormatInt(us.TotalBytesSent, 10),
				strconv.FormatInt(us.TotalBytesReceived, 10),
				strconv.FormatFloat(roundGB(us.TotalBytesSent+us.TotalBytesReceived), 'f', 2, 64),
				us.LastSeen.Format(time.RFC3339), us.CurrentStatus,
			})
		}
		cw.Flush()
	case "json":
		out := make([]userStatsResponse, 0, len(stats))
		for _, us := range stats {
			out = append(out, s.userStatsResponse(us))
		}
		writeJSON(w, http.StatusOK, out)
	default:
		s.writeError(w, http.StatusBadRequest, "invalid format, use csv or json", nil)
	}
}

func (s *Server) startCSV(w http.ResponseWriter, prefix string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s_%s.csv", prefix, s.clock().Format("20060102_150405")))
}
