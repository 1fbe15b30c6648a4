package msgbox

import (
	"net/netip"
	"time"
)

// peerKey identifies a distinct remote party as seen by one local socket.
// Two keys are equal iff the observing connection, IP, port and protocol all
// match exactly: the same remote talking to two local sockets is two peers.
type peerKey struct {
	owner    *Conn
	addr     netip.Addr
	port     uint16
	protocol Protocol
}

type peerStatus struct {
	lastSeen time.Time
}

// peerTable tracks every remote peer observed by a reactor, so that
// connection-ready is reported once per peer rather than once per packet.
// Entries idle longer than lifetime are dropped by sweep; a negative
// lifetime keeps them for the life of the table.
type peerTable struct {
	entries   map[peerKey]*peerStatus
	lifetime  time.Duration
	lastSweep time.Time
}

func newPeerTable(lifetime time.Duration) peerTable {
	return peerTable{
		entries:  make(map[peerKey]*peerStatus),
		lifetime: lifetime,
	}
}

// observe refreshes the peer's last-seen time, creating the entry when the
// peer has not been seen before. The result reports whether it was new.
func (t *peerTable) observe(key peerKey, now time.Time) bool {
	status, loaded := t.entries[key]
	if loaded {
		status.lastSeen = now
		return false
	}
	t.entries[key] = &peerStatus{lastSeen: now}
	return true
}

// forgetOwner drops every peer observed through the given connection, so a
// closed socket does not pin its peers until the sweep catches up.
func (t *peerTable) forgetOwner(owner *Conn) {
	for key := range t.entries {
		if key.owner == owner {
			delete(t.entries, key)
		}
	}
}

const peerSweepInterval = time.Second

func (t *peerTable) sweep(now time.Time) {
	if t.lifetime < 0 || now.Sub(t.lastSweep) < peerSweepInterval {
		return
	}
	t.lastSweep = now
	for key, status := range t.entries {
		if now.Sub(status.lastSeen) > t.lifetime {
			delete(t.entries, key)
		}
	}
}
