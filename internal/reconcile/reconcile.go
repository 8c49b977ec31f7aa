// Package reconcile diffs a live snapshot against the persisted open
// sessions of one server and computes per-interval traffic deltas.
package reconcile

import (
	"time"

	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/status"
	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/store"
)

// Key identifies one session for the lifetime of its link. Keying by
// common name alone collides concurrent sessions of one user; the
// connect timestamp disambiguates them. Server scoping is implicit:
// reconciliation always runs per server.
type Key struct {
	CommonName         string
	ConnectedSinceUnix int64
}

// KeyFor builds the identity key for a (user, connect-time) pair.
func KeyFor(commonName string, connectedSince time.Time) Key {
	return Key{CommonName: commonName, ConnectedSinceUnix: connectedSince.Unix()}
}

// Delta converts consecutive cumulative counter readings into the traffic
// of one interval. A current value below the previous one means the
// counter restarted from zero (the link reconnected without a new
// connect timestamp), so the current value itself is the interval's
// traffic.
func Delta(curr, prev int64) int64 {
	if d := curr - prev; d >= 0 {
		return d
	}
	return curr
}

// BuildPlan diffs the snapshot's clients against the open sessions of the
// same server. Live keys absent from the DB become opens (baseline zero,
// so the first delta is the full cumulative value); open DB keys absent
// from the snapshot become closes; the intersection becomes counter
// updates with reset-tolerant deltas. When the snapshot repeats an
// identity key the last occurrence wins.
func BuildPlan(open []store.Session, clients []status.Client, now time.Time) store.CyclePlan {
	live := make(map[Key]status.Client, len(clients))
	order := make([]Key, 0, len(clients))
	for _, c := range clients {
		k := KeyFor(c.CommonName, c.ConnectedSince)
		if _, seen := live[k]; !seen {
			order = append(order, k)
		}
		live[k] = c
	}

	openByKey := make(map[Key]store.Session, len(open))
	for _, sess := range open {
		openByKey[KeyFor(sess.CommonName, sess.ConnectedSince)] = sess
	}

	var plan store.CyclePlan
	userDeltas := make(map[string]*store.UserDelta)
	addUserDelta := func(name string, in, out int64) {
		ud := userDeltas[name]
		if ud == nil {
			ud = &store.UserDelta{CommonName: name}
			userDeltas[name] = ud
		}
		ud.DeltaIn += in
		ud.DeltaOut += out
	}

	for _, k := range order {
		c := live[k]
		prev, known := openByKey[k]
		if !known {
			in, out := c.BytesReceived, c.BytesSent
			plan.Opens = append(plan.Opens, store.SessionOpen{Client: c, DeltaIn: in, DeltaOut: out})
			plan.DeltaIn += in
			plan.DeltaOut += out
			addUserDelta(c.CommonName, in, out)
			continue
		}
		in := Delta(c.BytesReceived, prev.BytesReceived)
		out := Delta(c.BytesSent, prev.BytesSent)
		plan.Updates = append(plan.Updates, store.SessionUpdate{
			ID: prev.ID, Client: c, DeltaIn: in, DeltaOut: out,
		})
		plan.DeltaIn += in
		plan.DeltaOut += out
		addUserDelta(c.CommonName, in, out)
	}

	for _, sess := range open {
		k := KeyFor(sess.CommonName, sess.ConnectedSince)
		if _, stillLive := live[k]; stillLive {
			continue
		}
		dur := int64(now.Sub(sess.ConnectedSince) / time.Second)
		if dur < 0 {
			dur = 0
		}
		plan.Closes = append(plan.Closes, store.SessionClose{
			ID: sess.ID, CommonName: sess.CommonName, DurationSec: dur,
		})
	}

	plan.ActiveUsers = len(live)

	for _, c := range clients {
		if ud, ok := userDeltas[c.CommonName]; ok {
			plan.PerUser = append(plan.PerUser, *ud)
			delete(userDeltas, c.CommonName)
		}
	}

	return plan
}
