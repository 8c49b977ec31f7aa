// Package status parses OpenVPN status files (status-version 2).
package status

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Client is one connected client as reported by a status snapshot.
// Byte counters are cumulative for the lifetime of the client's link.
type Client struct {
	CommonName     string
	RealAddress    string
	VirtualAddress string
	BytesReceived  int64
	BytesSent      int64
	ConnectedSince time.Time
}

// Snapshot is the parsed form of one status file read.
type Snapshot struct {
	Clients []Client

	// TotalReceived/TotalSent are the sums of the per-client cumulative
	// counters at the time of the snapshot.
	TotalReceived int64
	TotalSent     int64

	// SkippedLines counts lines that looked like data but could not be parsed.
	SkippedLines int
}

const timeLayout = "2006-01-02 15:04:05"

// Parse reads a status-version-2 dump. Unknown or malformed lines are
// skipped and counted, never fatal: one bad line must not lose a snapshot.
func Parse(r io.Reader, logger *slog.Logger) (*Snapshot, error) {
	snap := &Snapshot{}
	routing := make(map[string]string) // common name -> virtual address

	lineNum := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := splitFields(line)
		switch fields[0] {
		case "CLIENT_LIST":
			c, err := parseClientList(fields)
			if err != nil {
				snap.SkippedLines++
				logger.Debug("skipping client list line", "line", lineNum, "err", err)
				continue
			}
			snap.Clients = append(snap.Clients, c)
		case "ROUTING_TABLE":
			// ROUTING_TABLE,Virtual Address,Common Name,Real Address,...
			if len(fields) < 3 || fields[1] == "Virtual Address" {
				continue
			}
			routing[fields[2]] = fields[1]
		case "TITLE", "TIME", "HEADER", "GLOBAL_STATS", "END":
			// Recognized framing, nothing to extract.
		default:
			snap.SkippedLines++
			logger.Debug("skipping unrecognized line", "line", lineNum)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("status: reading snapshot: %w", err)
	}

	for i := range snap.Clients {
		c := &snap.Clients[i]
		if c.VirtualAddress == "" {
			c.VirtualAddress = routing[c.CommonName]
		}
		snap.TotalReceived += c.BytesReceived
		snap.TotalSent += c.BytesSent
	}

	return snap, nil
}

// splitFields splits a status line on tab if present, comma otherwise.
func splitFields(line string) []string {
	if strings.Contains(line, "\t") {
		return strings.Split(line, "\t")
	}
	return strings.Split(line, ",")
}

// parseClientList parses one CLIENT_LIST row:
// CLIENT_LIST,Common Name,Real Address,Virtual Address,Virtual IPv6 Address,
// Bytes Received,Bytes Sent,Connected Since,Connected Since (time_t),...
func parseClientList(fields []string) (Client, error) {
	if len(fields) >= 2 && fields[1] == "Common Name" {
		return Client{}, fmt.Errorf("header row")
	}
	if len(fields) < 8 {
		return Client{}, fmt.Errorf("want at least 8 fields, got %d", len(fields))
	}

	c := Client{
		CommonName:     fields[1],
		RealAddress:    stripPort(fields[2]),
		VirtualAddress: fields[3],
	}
	if c.CommonName == "" {
		return Client{}, fmt.Errorf("empty common name")
	}

	var err error
	if c.BytesReceived, err = strconv.ParseInt(fields[5], 10, 64); err != nil {
		return Client{}, fmt.Errorf("bytes received %q: %w", fields[5], err)
	}
	if c.BytesSent, err = strconv.ParseInt(fields[6], 10, 64); err != nil {
		return Client{}, fmt.Errorf("bytes sent %q: %w", fields[6], err)
	}

	// Prefer the time_t column when the server emits it; fall back to the
	// textual timestamp, which is in the server's local zone.
	if len(fields) > 8 {
		if unix, err := strconv.ParseInt(fields[8], 10, 64); err == nil && unix > 0 {
			c.ConnectedSince = time.Unix(unix, 0)
			return c, nil
		}
	}
	ts, err := time.ParseInLocation(timeLayout, fields[7], time.Local)
	if err != nil {
		return Client{}, fmt.Errorf("connected since %q: %w", fields[7], err)
	}
	c.ConnectedSince = ts
	return c, nil
}

// stripPort drops the :port suffix of a real address, keeping IPv6
// bracket notation intact.
func stripPort(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 && !strings.Contains(addr[i+1:], "]") {
		if !strings.Contains(addr, "[") && strings.Count(addr, ":") > 1 {
			return addr // bare IPv6 without port
		}
		return addr[:i]
	}
	return addr
}
