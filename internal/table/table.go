package table

import (
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/routecore/bgpd/internal/bgp"
)

// UpdateKind discriminates the two shapes a TableUpdate can take.
type UpdateKind int

const (
	NewBest UpdateKind = iota
	Withdrawn
)

// TableUpdate is what insert/remove/clear hand back to the caller for
// broadcast: either a new best path to advertise, or a withdrawal.
type TableUpdate struct {
	Kind   UpdateKind
	Family bgp.Family
	Nlri   bgp.Nlri
	Best   *Path // nil when Kind == Withdrawn
}

type peerEntry struct {
	sender *UpdateSender
	source *Source
}

// Table is the RIB: family-partitioned destinations plus the registry of
// currently-established peers used for fan-out.
type Table struct {
	mu                       sync.Mutex
	master                   map[bgp.Family]map[bgp.Nlri]*Destination
	activePeers              map[netip.Addr]peerEntry
	subscribers              []*UpdateSender
	localSource              *Source
	disableBestPathSelection bool
}

func New(localAS uint32, disableBestPathSelection bool) *Table {
	return &Table{
		master:                   make(map[bgp.Family]map[bgp.Nlri]*Destination),
		activePeers:              make(map[netip.Addr]peerEntry),
		localSource:              LocalSource(localAS),
		disableBestPathSelection: disableBestPathSelection,
	}
}

func (t *Table) LocalSource() *Source { return t.localSource }

// Insert replaces any prior path from source.Address for (family, nlri),
// inserting the new path at its best-path-comparison position. It returns
// a NewBest update iff the insertion lands at position 0 and best-path
// selection is enabled, plus whether no prior same-source path existed.
func (t *Table) Insert(family bgp.Family, nlri bgp.Nlri, source *Source, nextHop netip.Addr, attrs *bgp.PathAttr) (*TableUpdate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dests, ok := t.master[family]
	if !ok {
		dests = make(map[bgp.Nlri]*Destination)
		t.master[family] = dests
	}
	dest, ok := dests[nlri]
	if !ok {
		dest = &Destination{Net: nlri}
		dests[nlri] = dest
	}

	path := &Path{Source: source, Timestamp: time.Now(), NextHop: nextHop, Attrs: attrs}

	isNew := true
	if idx := dest.findIndex(source); idx >= 0 {
		isNew = false
		dest.removeAt(idx)
	}

	if t.disableBestPathSelection {
		dest.entry = append([]*Path{path}, dest.entry...)
		return nil, isNew
	}

	dest.insertBest(path)
	if dest.entry[0] == path {
		return &TableUpdate{Kind: NewBest, Family: family, Nlri: nlri, Best: path}, isNew
	}
	return nil, isNew
}

// Remove deletes the entry originated by source.Address for (family, nlri).
// If the destination becomes empty it is removed from the RIB and a
// Withdrawn update is returned; otherwise, if position 0 was removed, a
// NewBest pointing at the new head is returned.
func (t *Table) Remove(family bgp.Family, nlri bgp.Nlri, source *Source) (*TableUpdate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(family, nlri, source)
}

func (t *Table) removeLocked(family bgp.Family, nlri bgp.Nlri, source *Source) (*TableUpdate, bool) {
	dests, ok := t.master[family]
	if !ok {
		return nil, false
	}
	dest, ok := dests[nlri]
	if !ok {
		return nil, false
	}
	idx := dest.findIndex(source)
	if idx < 0 {
		return nil, false
	}
	wasBest := idx == 0
	dest.removeAt(idx)

	if dest.Empty() {
		delete(dests, nlri)
		if len(dests) == 0 {
			delete(t.master, family)
		}
		return &TableUpdate{Kind: Withdrawn, Family: family, Nlri: nlri}, true
	}
	if wasBest && !t.disableBestPathSelection {
		return &TableUpdate{Kind: NewBest, Family: family, Nlri: nlri, Best: dest.Best()}, true
	}
	return nil, true
}

// Clear removes every path whose source matches, returning the resulting
// updates in deterministic family-then-prefix order.
func (t *Table) Clear(source *Source) []*TableUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()

	var families []bgp.Family
	for f := range t.master {
		families = append(families, f)
	}
	sort.Slice(families, func(i, j int) bool { return families[i] < families[j] })

	var updates []*TableUpdate
	for _, f := range families {
		dests := t.master[f]
		var nlris []bgp.Nlri
		for n, d := range dests {
			if d.findIndex(source) >= 0 {
				nlris = append(nlris, n)
			}
		}
		sort.Slice(nlris, func(i, j int) bool { return nlris[i].Less(nlris[j]) })
		for _, n := range nlris {
			if u, removed := t.removeLocked(f, n, source); removed && u != nil {
				updates = append(updates, u)
			}
		}
	}
	return updates
}

// Broadcast fans update to every active peer except the originator and,
// when from is ibgp, every other ibgp peer (split horizon). Subscribers
// registered via Subscribe (package telemetry's audit feed) receive every
// update unfiltered, since split horizon is a peering policy, not a
// statement about whether the RIB changed.
func (t *Table) Broadcast(from *Source, update *TableUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, entry := range t.activePeers {
		if addr == from.Address {
			continue
		}
		if from.IBGP && entry.source.IBGP {
			continue
		}
		entry.sender.Send(update)
	}
	for _, sub := range t.subscribers {
		sub.Send(update)
	}
}

// Subscribe registers a standing, peer-independent observer of every
// broadcast TableUpdate. Unlike AddActivePeer it performs no initial dump
// and no split-horizon filtering — callers that need a consistent starting
// snapshot should read Destinations first, then Subscribe, tolerating the
// small race the teacher's own history pipeline tolerates between initial
// dump and first streamed delta.
func (t *Table) Subscribe() *UpdateSender {
	t.mu.Lock()
	defer t.mu.Unlock()
	sender := newUpdateSender()
	t.subscribers = append(t.subscribers, sender)
	return sender
}

// Unsubscribe removes and closes a sender registered via Subscribe.
func (t *Table) Unsubscribe(sender *UpdateSender) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, sub := range t.subscribers {
		if sub == sender {
			t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
			break
		}
	}
	sender.Close()
}

// AddActivePeer registers a newly-Established peer's outbound channel and
// performs the initial RIB dump for every family while still holding the
// lock, so the dump and any interleaved broadcast maintain the ordering
// guarantee of spec §5: a consistent snapshot followed by deltas, no
// duplicates, no gaps.
func (t *Table) AddActivePeer(addr netip.Addr, source *Source) *UpdateSender {
	t.mu.Lock()
	defer t.mu.Unlock()

	sender := newUpdateSender()
	t.activePeers[addr] = peerEntry{sender: sender, source: source}

	var families []bgp.Family
	for f := range t.master {
		families = append(families, f)
	}
	sort.Slice(families, func(i, j int) bool { return families[i] < families[j] })
	for _, f := range families {
		dests := t.master[f]
		var nlris []bgp.Nlri
		for n := range dests {
			nlris = append(nlris, n)
		}
		sort.Slice(nlris, func(i, j int) bool { return nlris[i].Less(nlris[j]) })
		for _, n := range nlris {
			best := dests[n].Best()
			if best == nil {
				continue
			}
			sender.Send(&TableUpdate{Kind: NewBest, Family: f, Nlri: n, Best: best})
		}
	}
	return sender
}

// RemoveActivePeer drops addr from the fan-out registry and closes its
// sender. Call before Clear so the broadcasts of that Clear's updates do
// not target this peer.
func (t *Table) RemoveActivePeer(addr netip.Addr) {
	t.mu.Lock()
	entry, ok := t.activePeers[addr]
	delete(t.activePeers, addr)
	t.mu.Unlock()
	if ok {
		entry.sender.Close()
	}
}

// IsActivePeer reports whether addr currently has a live send channel.
func (t *Table) IsActivePeer(addr netip.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.activePeers[addr]
	return ok
}

// ActivePeerSource returns the Source an Established peer's session
// registered, so callers (list_path's AdjOut view) can run the attribute
// rewriter as if advertising to that peer without needing a live session
// handle.
func (t *Table) ActivePeerSource(addr netip.Addr) (*Source, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.activePeers[addr]
	if !ok {
		return nil, false
	}
	return entry.source, true
}

// TableCounts is the get_table() snapshot: destination and path counts for
// one family.
type TableCounts struct {
	Destinations int
	Paths        int
}

func (t *Table) Counts(family bgp.Family) TableCounts {
	t.mu.Lock()
	defer t.mu.Unlock()
	dests := t.master[family]
	counts := TableCounts{Destinations: len(dests)}
	for _, d := range dests {
		counts.Paths += len(d.entry)
	}
	return counts
}

// Destinations returns a snapshot of every destination in family, sorted by
// prefix, for list_path(Global) and the HTTP table mirror.
func (t *Table) Destinations(family bgp.Family) []*Destination {
	t.mu.Lock()
	defer t.mu.Unlock()
	dests := t.master[family]
	out := make([]*Destination, 0, len(dests))
	for _, d := range dests {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Net.Less(out[j].Net) })
	return out
}
