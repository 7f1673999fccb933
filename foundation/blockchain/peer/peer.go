// Package peer maintains the bounded set of known peers and when each was
// last seen. All peers are equal: there is no scoring and no banning.
package peer

import (
	"sync"
	"time"
)

// DefaultMaxPeers bounds the set; adds over the cap are rejected.
const DefaultMaxPeers = 32

// Peer represents information about a node in the network.
type Peer struct {
	Host     string
	LastSeen time.Time
}

// New constructs a peer for the given host:port.
func New(host string) Peer {
	return Peer{Host: host, LastSeen: time.Now().UTC()}
}

// Match validates if the specified host matches this peer.
func (p Peer) Match(host string) bool {
	return p.Host == host
}

// =============================================================================

// Set maintains the known peers keyed by host:port.
type Set struct {
	mu  sync.RWMutex
	set map[string]Peer
	max int
}

// NewSet constructs a peer set with the default cap.
func NewSet() *Set {
	return NewSetWithMax(DefaultMaxPeers)
}

// NewSetWithMax constructs a peer set holding at most max peers.
func NewSetWithMax(max int) *Set {
	return &Set{
		set: make(map[string]Peer),
		max: max,
	}
}

// Add records a peer, refreshing its last-seen time when already known.
// It reports whether the peer is in the set afterwards; an unknown peer is
// rejected when the set is at capacity.
func (ps *Set) Add(host string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.set[host]; !exists && len(ps.set) >= ps.max {
		return false
	}

	ps.set[host] = New(host)
	return true
}

// Remove drops a peer from the set.
func (ps *Set) Remove(host string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, host)
}

// Contains reports whether the host is a known peer.
func (ps *Set) Contains(host string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	_, exists := ps.set[host]
	return exists
}

// Count returns the number of known peers.
func (ps *Set) Count() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return len(ps.set)
}

// KnownPeers returns the peer addresses, excluding the given host.
func (ps *Set) KnownPeers(excludeHost string) []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	hosts := make([]string, 0, len(ps.set))
	for host := range ps.set {
		if host == excludeHost {
			continue
		}
		hosts = append(hosts, host)
	}
	return hosts
}
