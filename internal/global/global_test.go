package global

import (
	"net/netip"
	"testing"

	"github.com/routecore/bgpd/internal/peer"
)

func TestStartBGPIdempotencyGuard(t *testing.T) {
	g := New()
	barrier := NewStartBarrier()
	if err := g.StartBGP(65000, netip.MustParseAddr("10.0.0.1"), barrier); err != nil {
		t.Fatalf("first StartBGP: %v", err)
	}
	select {
	case <-barrier.Wait():
	default:
		t.Fatalf("expected barrier tripped")
	}
	if err := g.StartBGP(65000, netip.MustParseAddr("10.0.0.1"), barrier); err != ErrAlreadyStarted {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestStartBGPRejectsZeroAS(t *testing.T) {
	g := New()
	if err := g.StartBGP(0, netip.MustParseAddr("10.0.0.1"), nil); err != ErrInvalidAS {
		t.Fatalf("expected ErrInvalidAS, got %v", err)
	}
}

func TestAddPeerUniqueness(t *testing.T) {
	g := New()
	addr := netip.MustParseAddr("192.0.2.1")
	p := peer.New(addr, 65001, 65000, true, 90)
	if err := g.AddPeer(p); err != nil {
		t.Fatalf("first AddPeer: %v", err)
	}
	if err := g.AddPeer(peer.New(addr, 65002, 65000, true, 90)); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMatchDynamicPeer(t *testing.T) {
	g := New()
	if err := g.AddPeerGroup("any", 0); err != nil {
		t.Fatalf("AddPeerGroup: %v", err)
	}
	if err := g.AddDynamicNeighbor(netip.MustParsePrefix("0.0.0.0/0"), "any"); err != nil {
		t.Fatalf("AddDynamicNeighbor: %v", err)
	}
	group, ok := g.MatchDynamicPeer(netip.MustParseAddr("198.51.100.7"))
	if !ok || group.Name != "any" {
		t.Fatalf("expected match against any group, got %+v ok=%v", group, ok)
	}
}
