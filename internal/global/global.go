// Package global holds the two process-wide registries this core keeps
// behind a single lock each: the set of configured peers/peer-groups here,
// and the RIB in package table. Lock ordering (spec.md §5): take Global
// before Table whenever both are needed in sequence.
package global

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/routecore/bgpd/internal/peer"
)

// PeerGroup names a set of dynamically-matched neighbor prefixes sharing
// one remote AS.
type PeerGroup struct {
	Name         string
	ASNumber     uint32
	DynamicPeers []netip.Prefix
}

// Global is the configured-peer/peer-group registry plus local identity.
// Mutations go through its exported methods, all of which take the lock.
type Global struct {
	mu sync.Mutex

	ASNumber uint32
	RouterID netip.Addr
	started  bool

	peers      map[netip.Addr]*peer.Peer
	peerGroups map[string]*PeerGroup

	// ActiveTx is the address-to-connect channel the orchestrator consumes
	// (multi-producer/single-consumer, spec.md §5).
	ActiveTx chan netip.Addr
}

func New() *Global {
	return &Global{
		peers:      make(map[netip.Addr]*peer.Peer),
		peerGroups: make(map[string]*PeerGroup),
		ActiveTx:   make(chan netip.Addr, 1024),
	}
}

var (
	ErrAlreadyStarted  = fmt.Errorf("global: already started")
	ErrInvalidAS       = fmt.Errorf("global: invalid AS number")
	ErrInvalidRouterID = fmt.Errorf("global: invalid router id")
	ErrAlreadyExists   = fmt.Errorf("global: already exists")
	ErrNotFound        = fmt.Errorf("global: not found")
	ErrInvalidAddress  = fmt.Errorf("global: invalid address")
	ErrInvalidPrefix   = fmt.Errorf("global: invalid prefix")
)

// StartBGP sets the global ASN/router-id and unblocks the orchestrator
// start-barrier (spec.md §4.7, §5). It is idempotent-hostile: a second call
// once started is an error, per the control-API operation table.
func (g *Global) StartBGP(asn uint32, routerID netip.Addr, barrier *StartBarrier) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return ErrAlreadyStarted
	}
	if asn == 0 {
		return ErrInvalidAS
	}
	if !routerID.IsValid() || !routerID.Is4() {
		return ErrInvalidRouterID
	}
	g.ASNumber = asn
	g.RouterID = routerID
	g.started = true
	if barrier != nil {
		barrier.Trip()
	}
	return nil
}

// Snapshot is the get_bgp() response shape.
type Snapshot struct {
	ASNumber uint32
	RouterID netip.Addr
	Started  bool
}

func (g *Global) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{ASNumber: g.ASNumber, RouterID: g.RouterID, Started: g.started}
}

// AddPeer inserts p, enforcing uniqueness by address.
func (g *Global) AddPeer(p *peer.Peer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !p.Address.IsValid() {
		return ErrInvalidAddress
	}
	if _, exists := g.peers[p.Address]; exists {
		return ErrAlreadyExists
	}
	g.peers[p.Address] = p
	if !p.Passive {
		select {
		case g.ActiveTx <- p.Address:
		default:
		}
	}
	return nil
}

// Peer returns the configured peer for addr, if any.
func (g *Global) Peer(addr netip.Addr) (*peer.Peer, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.peers[addr]
	return p, ok
}

// RemovePeer deletes the peer record for addr (used for dynamic-peer
// teardown, spec.md §4.5 "remove the Peer record entirely").
func (g *Global) RemovePeer(addr netip.Addr) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.peers, addr)
}

// ListPeers returns every peer, or only addr's if addr is valid.
func (g *Global) ListPeers(addr netip.Addr) []*peer.Peer {
	g.mu.Lock()
	defer g.mu.Unlock()
	if addr.IsValid() {
		if p, ok := g.peers[addr]; ok {
			return []*peer.Peer{p}
		}
		return nil
	}
	out := make([]*peer.Peer, 0, len(g.peers))
	for _, p := range g.peers {
		out = append(out, p)
	}
	return out
}

// AddPeerGroup inserts a group, enforcing uniqueness by name.
func (g *Global) AddPeerGroup(name string, asNumber uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.peerGroups[name]; exists {
		return ErrAlreadyExists
	}
	g.peerGroups[name] = &PeerGroup{Name: name, ASNumber: asNumber}
	return nil
}

// AddDynamicNeighbor appends prefix to the named group, enforcing
// uniqueness by prefix within the group.
func (g *Global) AddDynamicNeighbor(prefix netip.Prefix, groupName string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	group, ok := g.peerGroups[groupName]
	if !ok {
		return ErrNotFound
	}
	if !prefix.IsValid() {
		return ErrInvalidPrefix
	}
	for _, existing := range group.DynamicPeers {
		if existing == prefix {
			return ErrAlreadyExists
		}
	}
	group.DynamicPeers = append(group.DynamicPeers, prefix)
	return nil
}

// MatchDynamicPeer scans every peer group's dynamic prefixes for one
// containing addr, returning the matching group if found (spec.md §4.6
// step 2).
func (g *Global) MatchDynamicPeer(addr netip.Addr) (*PeerGroup, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, group := range g.peerGroups {
		for _, prefix := range group.DynamicPeers {
			if prefix.Contains(addr) {
				return group, true
			}
		}
	}
	return nil, false
}

// StartBarrier is the two-party barrier gating the orchestrator's accept
// loop until either a non-zero CLI ASN or a successful StartBGP call
// (spec.md §5 "Start-up barrier").
type StartBarrier struct {
	once sync.Once
	ch   chan struct{}
}

func NewStartBarrier() *StartBarrier {
	return &StartBarrier{ch: make(chan struct{})}
}

func (b *StartBarrier) Trip() {
	b.once.Do(func() { close(b.ch) })
}

func (b *StartBarrier) Wait() <-chan struct{} { return b.ch }
