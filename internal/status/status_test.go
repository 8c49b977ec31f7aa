package status

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const sampleV2 = `TITLE,OpenVPN 2.5.1 x86_64-pc-linux-gnu
TIME,2024-03-24 17:14:41,1711300481
HEADER,CLIENT_LIST,Common Name,Real Address,Virtual Address,Virtual IPv6 Address,Bytes Received,Bytes Sent,Connected Since,Connected Since (time_t),Username,Client ID,Peer ID
CLIENT_LIST,alice,203.0.113.5:51820,10.8.0.2,,123456,654321,2024-03-24 16:00:00,1711296000,alice,0,0
CLIENT_LIST,bob,198.51.100.7:40000,,,1000,2000,2024-03-24 16:30:00,1711297800,bob,1,1
HEADER,ROUTING_TABLE,Virtual Address,Common Name,Real Address,Last Ref,Last Ref (time_t)
ROUTING_TABLE,10.8.0.2,alice,203.0.113.5:51820,2024-03-24 17:14:40,1711300480
ROUTING_TABLE,10.8.0.3,bob,198.51.100.7:40000,2024-03-24 17:14:39,1711300479
GLOBAL_STATS,Max bcast/mcast queue length,0
END
`

func TestParseClientList(t *testing.T) {
	snap, err := Parse(strings.NewReader(sampleV2), testLogger())
	require.NoError(t, err)

	require.Len(t, snap.Clients, 2)
	assert.Equal(t, 0, snap.SkippedLines)

	alice := snap.Clients[0]
	assert.Equal(t, "alice", alice.CommonName)
	assert.Equal(t, "203.0.113.5", alice.RealAddress, "port must be stripped")
	assert.Equal(t, "10.8.0.2", alice.VirtualAddress)
	assert.Equal(t, int64(123456), alice.BytesReceived)
	assert.Equal(t, int64(654321), alice.BytesSent)
	assert.Equal(t, time.Unix(1711296000, 0), alice.ConnectedSince, "time_t column preferred")

	bob := snap.Clients[1]
	assert.Equal(t, "10.8.0.3", bob.VirtualAddress, "empty virtual address filled from routing table")

	assert.Equal(t, int64(124456), snap.TotalReceived)
	assert.Equal(t, int64(656321), snap.TotalSent)
}

func TestParseMalformedLinesAreSkipped(t *testing.T) {
	input := strings.Join([]string{
		"CLIENT_LIST,alice,203.0.113.5:51820,10.8.0.2,,100,200,2024-03-24 16:00:00,1711296000",
		"CLIENT_LIST,broken",
		"CLIENT_LIST,carol,203.0.113.9:1194,10.8.0.4,,notanumber,200,2024-03-24 16:00:00,1711296000",
		"THIS IS GARBAGE",
		"END",
	}, "\n")

	snap, err := Parse(strings.NewReader(input), testLogger())
	require.NoError(t, err, "malformed lines must never fail the snapshot")
	assert.Len(t, snap.Clients, 1)
	assert.Equal(t, 3, snap.SkippedLines)
}

func TestParseTabDelimited(t *testing.T) {
	input := "CLIENT_LIST\talice\t203.0.113.5:51820\t10.8.0.2\t\t100\t200\t2024-03-24 16:00:00\t1711296000\n"
	snap, err := Parse(strings.NewReader(input), testLogger())
	require.NoError(t, err)
	require.Len(t, snap.Clients, 1)
	assert.Equal(t, "alice", snap.Clients[0].CommonName)
	assert.Equal(t, int64(100), snap.Clients[0].BytesReceived)
}

func TestParseTextTimestampFallback(t *testing.T) {
	// No time_t column: only 8 fields, textual timestamp in local time.
	input := "CLIENT_LIST,alice,203.0.113.5:51820,10.8.0.2,,100,200,2024-03-24 16:00:00\n"
	snap, err := Parse(strings.NewReader(input), testLogger())
	require.NoError(t, err)
	require.Len(t, snap.Clients, 1)

	want, err := time.ParseInLocation("2006-01-02 15:04:05", "2024-03-24 16:00:00", time.Local)
	require.NoError(t, err)
	assert.Equal(t, want, snap.Clients[0].ConnectedSince)
}

func TestParseHeaderRowsIgnored(t *testing.T) {
	input := strings.Join([]string{
		"CLIENT_LIST,Common Name,Real Address,Virtual Address,Virtual IPv6 Address,Bytes Received,Bytes Sent,Connected Since,Connected Since (time_t)",
		"ROUTING_TABLE,Virtual Address,Common Name,Real Address",
	}, "\n")
	snap, err := Parse(strings.NewReader(input), testLogger())
	require.NoError(t, err)
	assert.Empty(t, snap.Clients)
}

func TestParseDuplicateClientsKeptInOrder(t *testing.T) {
	// The roaming-address case: same identity, two rows. Both are kept;
	// the reconciler resolves last-entry-wins.
	input := strings.Join([]string{
		"CLIENT_LIST,alice,203.0.113.5:51820,10.8.0.2,,100,200,2024-03-24 16:00:00,1711296000",
		"CLIENT_LIST,alice,198.51.100.9:30000,10.8.0.2,,150,250,2024-03-24 16:00:00,1711296000",
	}, "\n")
	snap, err := Parse(strings.NewReader(input), testLogger())
	require.NoError(t, err)
	require.Len(t, snap.Clients, 2)
	assert.Equal(t, "198.51.100.9", snap.Clients[1].RealAddress)
}

func TestParseEmptySnapshot(t *testing.T) {
	snap, err := Parse(strings.NewReader("TITLE,OpenVPN\nEND\n"), testLogger())
	require.NoError(t, err)
	assert.Empty(t, snap.Clients)
	assert.Zero(t, snap.TotalReceived)
}

func TestStripPort(t *testing.T) {
	assert.Equal(t, "203.0.113.5", stripPort("203.0.113.5:1194"))
	assert.Equal(t, "203.0.113.5", stripPort("203.0.113.5"))
	assert.Equal(t, "[2001:db8::1]", stripPort("[2001:db8::1]:1194"))
	assert.Equal(t, "2001:db8::1", stripPort("2001:db8::1"))
}
