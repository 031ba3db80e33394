// Package peer holds the per-neighbor configuration, counters, and FSM
// state record. It is pure data: the session task (package session) is the
// only writer of FSM transitions; package table only reads Source.IBGP.
package peer

import (
	"net/netip"
	"time"

	"github.com/routecore/bgpd/internal/bgp"
)

// State is the BGP FSM state (RFC 4271 §8). Idle/Active/Connect are owned
// by the orchestrator; OpenSent/OpenConfirm/Established are owned by the
// session task (spec.md §4.5).
type State int

const (
	Idle State = iota
	Active
	Connect
	OpenSent
	OpenConfirm
	Established
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Active:
		return "Active"
	case Connect:
		return "Connect"
	case OpenSent:
		return "OpenSent"
	case OpenConfirm:
		return "OpenConfirm"
	case Established:
		return "Established"
	default:
		return "Unknown"
	}
}

// Peer is the per-neighbor record: configuration plus live FSM/session
// state. One exists per configured or dynamically-accepted neighbor.
type Peer struct {
	Address          netip.Addr
	RemoteAS         uint32 // 0 means "accept any AS" (unconfigured)
	RouterID         netip.Addr
	LocalAS          uint32
	Passive          bool
	HoldTime         uint16
	ConnectRetryTime time.Duration
	IsDynamic        bool

	State    State
	Uptime   time.Time
	Downtime time.Time

	CounterTx uint64
	CounterRx uint64

	Accepted map[bgp.Family]uint64

	RemoteCap *bgp.Capabilities
	LocalCap  *bgp.Capabilities
}

// New returns a Peer in Idle state with zero counters.
func New(address netip.Addr, remoteAS, localAS uint32, passive bool, holdTime uint16) *Peer {
	return &Peer{
		Address:          address,
		RemoteAS:         remoteAS,
		LocalAS:          localAS,
		Passive:          passive,
		HoldTime:         holdTime,
		ConnectRetryTime: 5 * time.Second,
		State:            Idle,
		Accepted:         make(map[bgp.Family]uint64),
	}
}

// Reset returns the record to Idle, records Downtime = now, and clears
// Accepted and RemoteCap (spec.md §4.3). It does not touch configuration
// fields (Address, RemoteAS, Passive, ...).
func (p *Peer) Reset() {
	p.State = Idle
	p.Downtime = time.Now()
	p.Accepted = make(map[bgp.Family]uint64)
	p.RemoteCap = nil
}

// UpdateAccepted adjusts the accepted-route count for family by delta. If
// the family is absent and delta > 0 it is inserted; a negative delta
// against an absent family is ignored (defensive: a withdrawal for a
// family the peer never announced must not underflow or fabricate an
// entry — spec.md §4.3, §4.9 "withdrawn prefix from a peer that never
// announced it").
func (p *Peer) UpdateAccepted(family bgp.Family, delta int64) {
	current, exists := p.Accepted[family]
	if !exists {
		if delta <= 0 {
			return
		}
		p.Accepted[family] = uint64(delta)
		return
	}
	next := int64(current) + delta
	if next < 0 {
		next = 0
	}
	p.Accepted[family] = uint64(next)
}
