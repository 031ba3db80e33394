// Package controlapi maps external control operations (start_bgp, add_peer,
// list_path, ...) onto registry/RIB mutations. It is the in-process analog
// of a gobgp-style RPC surface: package httpapi mounts it behind JSON, and
// nothing downstream needs to know a request ever crossed a socket.
package controlapi

import (
	"errors"
	"net/netip"
	"sort"

	"go.uber.org/zap"

	"github.com/routecore/bgpd/internal/bgp"
	"github.com/routecore/bgpd/internal/global"
	"github.com/routecore/bgpd/internal/metrics"
	"github.com/routecore/bgpd/internal/peer"
	"github.com/routecore/bgpd/internal/rewrite"
	"github.com/routecore/bgpd/internal/table"
)

// recordOutcome reports a control-API call's success/failure to metrics and
// returns err unchanged, so call sites can wrap their final return.
func recordOutcome(operation string, err error) error {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.ControlAPIOperationsTotal.WithLabelValues(operation, outcome).Inc()
	return err
}

var (
	ErrInvalidArgument = errors.New("controlapi: invalid argument")
	ErrUnimplemented   = errors.New("controlapi: unimplemented")
)

// Service is the operation table of spec.md §4.7, bound to one global
// registry and one RIB.
type Service struct {
	global  *global.Global
	rib     *table.Table
	barrier *global.StartBarrier
	log     *zap.Logger
}

func New(g *global.Global, rib *table.Table, barrier *global.StartBarrier, log *zap.Logger) *Service {
	return &Service{global: g, rib: rib, barrier: barrier, log: log}
}

// StartBGP implements start_bgp(asn, router_id).
func (s *Service) StartBGP(asn uint32, routerID netip.Addr) error {
	return recordOutcome("start_bgp", s.global.StartBGP(asn, routerID, s.barrier))
}

// GetBGP implements get_bgp().
func (s *Service) GetBGP() global.Snapshot {
	return s.global.Snapshot()
}

// PeerSpec is the add_peer() request shape.
type PeerSpec struct {
	Address  netip.Addr
	RemoteAS uint32
	Passive  bool
	HoldTime uint16
}

// AddPeer implements add_peer(spec): inserts the peer record; if not
// passive, Global.AddPeer itself enqueues the initial active-connect
// attempt (spec.md §4.4).
func (s *Service) AddPeer(spec PeerSpec) error {
	if !spec.Address.IsValid() {
		return recordOutcome("add_peer", global.ErrInvalidAddress)
	}
	holdTime := spec.HoldTime
	if holdTime == 0 {
		holdTime = 90
	}
	p := peer.New(spec.Address, spec.RemoteAS, s.global.Snapshot().ASNumber, spec.Passive, holdTime)
	return recordOutcome("add_peer", s.global.AddPeer(p))
}

// ListPeer implements list_peer(addr?).
func (s *Service) ListPeer(addr netip.Addr) []*peer.Peer {
	return s.global.ListPeers(addr)
}

// AddPeerGroup implements add_peer_group(name, as).
func (s *Service) AddPeerGroup(name string, asNumber uint32) error {
	return recordOutcome("add_peer_group", s.global.AddPeerGroup(name, asNumber))
}

// AddDynamicNeighbor implements add_dynamic_neighbor(prefix, group).
func (s *Service) AddDynamicNeighbor(prefix netip.Prefix, groupName string) error {
	return recordOutcome("add_dynamic_neighbor", s.global.AddDynamicNeighbor(prefix, groupName))
}

// PathSpec is the add_path()/delete_path() request shape.
type PathSpec struct {
	Family  bgp.Family
	Nlri    bgp.Nlri
	NextHop netip.Addr
	Attrs   *bgp.PathAttr
}

func (ps PathSpec) validate() error {
	if !ps.Nlri.IP.Addr.IsValid() || ps.Attrs == nil {
		return ErrInvalidArgument
	}
	return nil
}

// AddPath implements add_path(path): inserts a local-source path and
// broadcasts it if it becomes best.
func (s *Service) AddPath(ps PathSpec) error {
	if err := ps.validate(); err != nil {
		return recordOutcome("add_path", err)
	}
	update, _ := s.rib.Insert(ps.Family, ps.Nlri, s.rib.LocalSource(), ps.NextHop, ps.Attrs)
	if update != nil {
		s.rib.Broadcast(s.rib.LocalSource(), update)
	}
	return recordOutcome("add_path", nil)
}

// DeletePath implements delete_path(path): removes a local-source path and
// broadcasts the resulting withdrawal or new-best.
func (s *Service) DeletePath(ps PathSpec) error {
	if !ps.Nlri.IP.Addr.IsValid() {
		return recordOutcome("delete_path", ErrInvalidArgument)
	}
	update, _ := s.rib.Remove(ps.Family, ps.Nlri, s.rib.LocalSource())
	if update != nil {
		s.rib.Broadcast(s.rib.LocalSource(), update)
	}
	return recordOutcome("delete_path", nil)
}

// AddPathStream implements add_path_stream: the streaming form of AddPath.
// It applies each request in turn, in send order, and returns the first
// error (if any) alongside the count of requests already applied.
func (s *Service) AddPathStream(specs <-chan PathSpec) (int, error) {
	n := 0
	for ps := range specs {
		if err := s.AddPath(ps); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// TableView selects which slice of the RIB list_path dumps.
type TableView int

const (
	ViewGlobal TableView = iota
	ViewAdjIn
	ViewAdjOut
	ViewLocal
	ViewVrf
)

// PathResult is one row of a list_path() response.
type PathResult struct {
	Nlri    bgp.Nlri
	NextHop netip.Addr
	Attrs   *bgp.PathAttr
	Best    bool
	Source  netip.Addr
}

// ListPath implements list_path(table_type, family, prefixes?, peer?). The
// Global view echoes stored attributes unchanged; AdjIn filters to the
// named peer's own announcements; AdjOut reproduces what that peer would
// currently be sent, running every eligible best path through the
// attribute rewriter exactly as package session would on broadcast.
func (s *Service) ListPath(view TableView, family bgp.Family, peerAddr netip.Addr) ([]PathResult, error) {
	switch view {
	case ViewLocal, ViewVrf:
		return nil, ErrUnimplemented
	}

	dests := s.rib.Destinations(family)
	var out []PathResult

	switch view {
	case ViewGlobal:
		for _, d := range dests {
			for i, p := range d.Entries() {
				out = append(out, PathResult{Nlri: d.Net, NextHop: p.NextHop, Attrs: p.Attrs, Best: i == 0, Source: p.Source.Address})
			}
		}

	case ViewAdjIn:
		for _, d := range dests {
			for i, p := range d.Entries() {
				if p.Source.Address != peerAddr {
					continue
				}
				out = append(out, PathResult{Nlri: d.Net, NextHop: p.NextHop, Attrs: p.Attrs, Best: i == 0, Source: p.Source.Address})
			}
		}

	case ViewAdjOut:
		peerSource, ok := s.rib.ActivePeerSource(peerAddr)
		if !ok {
			return nil, global.ErrNotFound
		}
		isMP := family != bgp.FamilyIPv4Unicast
		for _, d := range dests {
			best := d.Best()
			if best == nil {
				continue
			}
			if best.Source.Address == peerAddr {
				continue // self: never advertised back to its originator
			}
			if peerSource.IBGP && best.Source.IBGP {
				continue // ibgp split horizon
			}
			attrs := rewrite.Rewrite(rewrite.Input{
				IsIBGP:          peerSource.IBGP,
				IsMP:            isMP,
				LocalAS:         s.global.Snapshot().ASNumber,
				Nlri:            d.Net,
				OriginalNextHop: best.NextHop,
				LocalAddr:       peerSource.LocalAddr,
				Stored:          best.Attrs,
			})
			out = append(out, PathResult{Nlri: d.Net, NextHop: best.NextHop, Attrs: attrs, Best: true, Source: best.Source.Address})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Nlri.Less(out[j].Nlri) })
	return out, nil
}

// GetTable implements get_table(family).
func (s *Service) GetTable(family bgp.Family) table.TableCounts {
	return s.rib.Counts(family)
}
