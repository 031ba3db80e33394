package controlapi

import (
	"net/netip"
	"testing"

	"go.uber.org/zap"

	"github.com/routecore/bgpd/internal/bgp"
	"github.com/routecore/bgpd/internal/global"
	"github.com/routecore/bgpd/internal/table"
)

func newService(t *testing.T) (*Service, *global.Global, *table.Table) {
	t.Helper()
	g := global.New()
	barrier := global.NewStartBarrier()
	rib := table.New(65000, false)
	return New(g, rib, barrier, zap.NewNop()), g, rib
}

func TestStartBGPTripsBarrierAndRejectsSecondCall(t *testing.T) {
	s, _, _ := newService(t)
	if err := s.StartBGP(65000, netip.MustParseAddr("10.0.0.1")); err != nil {
		t.Fatalf("StartBGP: %v", err)
	}
	select {
	case <-s.barrier.Wait():
	default:
		t.Fatalf("expected start barrier to be tripped")
	}
	if err := s.StartBGP(65000, netip.MustParseAddr("10.0.0.1")); err != global.ErrAlreadyStarted {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestAddPeerRejectsDuplicateAddress(t *testing.T) {
	s, _, _ := newService(t)
	spec := PeerSpec{Address: netip.MustParseAddr("192.0.2.1"), RemoteAS: 65001, Passive: true}
	if err := s.AddPeer(spec); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if err := s.AddPeer(spec); err != global.ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestAddPathRejectsMissingAttrs(t *testing.T) {
	s, _, _ := newService(t)
	err := s.AddPath(PathSpec{Family: bgp.FamilyIPv4Unicast, Nlri: bgp.Nlri{IP: bgp.IPNet{Addr: netip.MustParseAddr("203.0.113.0"), PrefixLen: 24}}})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestAddPathThenListPathGlobal(t *testing.T) {
	s, _, _ := newService(t)
	nlri := bgp.Nlri{IP: bgp.IPNet{Addr: netip.MustParseAddr("203.0.113.0"), PrefixLen: 24}}
	attrs := bgp.NewPathAttr([]bgp.Attribute{bgp.OriginAttr{Value: bgp.OriginIGP}, bgp.ASPathAttr{}})
	if err := s.AddPath(PathSpec{Family: bgp.FamilyIPv4Unicast, Nlri: nlri, NextHop: netip.MustParseAddr("10.0.0.1"), Attrs: attrs}); err != nil {
		t.Fatalf("AddPath: %v", err)
	}

	results, err := s.ListPath(ViewGlobal, bgp.FamilyIPv4Unicast, netip.Addr{})
	if err != nil {
		t.Fatalf("ListPath: %v", err)
	}
	if len(results) != 1 || !results[0].Best {
		t.Fatalf("expected one best path, got %+v", results)
	}

	if err := s.DeletePath(PathSpec{Family: bgp.FamilyIPv4Unicast, Nlri: nlri}); err != nil {
		t.Fatalf("DeletePath: %v", err)
	}
	results, err = s.ListPath(ViewGlobal, bgp.FamilyIPv4Unicast, netip.Addr{})
	if err != nil {
		t.Fatalf("ListPath after delete: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no paths after delete, got %+v", results)
	}
}

func TestListPathLocalAndVrfUnimplemented(t *testing.T) {
	s, _, _ := newService(t)
	if _, err := s.ListPath(ViewLocal, bgp.FamilyIPv4Unicast, netip.Addr{}); err != ErrUnimplemented {
		t.Fatalf("expected ErrUnimplemented for Local view, got %v", err)
	}
	if _, err := s.ListPath(ViewVrf, bgp.FamilyIPv4Unicast, netip.Addr{}); err != ErrUnimplemented {
		t.Fatalf("expected ErrUnimplemented for Vrf view, got %v", err)
	}
}

func TestListPathAdjOutUnknownPeerNotFound(t *testing.T) {
	s, _, _ := newService(t)
	if _, err := s.ListPath(ViewAdjOut, bgp.FamilyIPv4Unicast, netip.MustParseAddr("192.0.2.9")); err != global.ErrNotFound {
		t.Fatalf("expected ErrNotFound for an unestablished peer, got %v", err)
	}
}

func TestGetTableCounts(t *testing.T) {
	s, _, _ := newService(t)
	nlri := bgp.Nlri{IP: bgp.IPNet{Addr: netip.MustParseAddr("203.0.113.0"), PrefixLen: 24}}
	attrs := bgp.NewPathAttr([]bgp.Attribute{bgp.OriginAttr{Value: bgp.OriginIGP}, bgp.ASPathAttr{}})
	if err := s.AddPath(PathSpec{Family: bgp.FamilyIPv4Unicast, Nlri: nlri, NextHop: netip.MustParseAddr("10.0.0.1"), Attrs: attrs}); err != nil {
		t.Fatalf("AddPath: %v", err)
	}
	counts := s.GetTable(bgp.FamilyIPv4Unicast)
	if counts.Destinations != 1 || counts.Paths != 1 {
		t.Fatalf("expected 1 destination / 1 path, got %+v", counts)
	}
}

func TestAddPathStreamStopsOnFirstError(t *testing.T) {
	s, _, _ := newService(t)
	good := bgp.Nlri{IP: bgp.IPNet{Addr: netip.MustParseAddr("203.0.113.0"), PrefixLen: 24}}
	attrs := bgp.NewPathAttr([]bgp.Attribute{bgp.OriginAttr{Value: bgp.OriginIGP}, bgp.ASPathAttr{}})

	specs := make(chan PathSpec, 2)
	specs <- PathSpec{Family: bgp.FamilyIPv4Unicast, Nlri: good, NextHop: netip.MustParseAddr("10.0.0.1"), Attrs: attrs}
	specs <- PathSpec{Family: bgp.FamilyIPv4Unicast, Nlri: bgp.Nlri{IP: bgp.IPNet{Addr: netip.MustParseAddr("198.51.100.0"), PrefixLen: 24}}}
	close(specs)

	n, err := s.AddPathStream(specs)
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument from the second request, got %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 request applied before the error, got %d", n)
	}
}
