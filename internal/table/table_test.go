package table

import (
	"net/netip"
	"testing"

	"github.com/routecore/bgpd/internal/bgp"
)

func prefix(s string) bgp.Nlri {
	p := netip.MustParsePrefix(s)
	return bgp.Nlri{IP: bgp.IPNet{Addr: p.Addr(), PrefixLen: p.Bits()}}
}

func attrsWithLocalPref(lp uint32) *bgp.PathAttr {
	return bgp.NewPathAttr([]bgp.Attribute{
		bgp.OriginAttr{Value: bgp.OriginIGP},
		bgp.ASPathAttr{},
		bgp.LocalPrefAttr{Value: lp},
	})
}

func TestBestPathLocalPrefWins(t *testing.T) {
	rt := New(65000, false)
	nlri := prefix("10.0.0.0/24")
	srcA := &Source{Address: netip.MustParseAddr("192.0.2.1")}
	srcC := &Source{Address: netip.MustParseAddr("192.0.2.3"), IBGP: true}

	u, isNew := rt.Insert(bgp.FamilyIPv4Unicast, nlri, srcA, netip.MustParseAddr("192.0.2.1"), attrsWithLocalPref(100))
	if !isNew || u == nil || u.Kind != NewBest {
		t.Fatalf("expected NewBest from first insert, got %+v isNew=%v", u, isNew)
	}

	u2, isNew2 := rt.Insert(bgp.FamilyIPv4Unicast, nlri, srcC, netip.MustParseAddr("192.0.2.3"), attrsWithLocalPref(200))
	if !isNew2 || u2 == nil || u2.Kind != NewBest || u2.Best.Source != srcC {
		t.Fatalf("expected NewBest from higher LocalPref, got %+v", u2)
	}
}

func TestWithdrawNonExistent(t *testing.T) {
	rt := New(65000, false)
	nlri := prefix("10.0.0.0/24")
	src := &Source{Address: netip.MustParseAddr("192.0.2.1")}
	u, removed := rt.Remove(bgp.FamilyIPv4Unicast, nlri, src)
	if u != nil || removed {
		t.Fatalf("expected (nil, false) for withdraw of non-existent prefix, got (%+v, %v)", u, removed)
	}
}

func TestWithdrawCascade(t *testing.T) {
	rt := New(65000, false)
	nlri := prefix("10.0.0.0/24")
	srcA := &Source{Address: netip.MustParseAddr("192.0.2.1")}
	srcC := &Source{Address: netip.MustParseAddr("192.0.2.3"), IBGP: true}

	rt.Insert(bgp.FamilyIPv4Unicast, nlri, srcA, netip.MustParseAddr("192.0.2.1"), attrsWithLocalPref(100))
	rt.Insert(bgp.FamilyIPv4Unicast, nlri, srcC, netip.MustParseAddr("192.0.2.3"), attrsWithLocalPref(200))

	u, removed := rt.Remove(bgp.FamilyIPv4Unicast, nlri, srcC)
	if !removed || u == nil || u.Kind != NewBest || u.Best.Source != srcA {
		t.Fatalf("expected new best to fall back to A, got %+v", u)
	}
}

func TestDestinationEmptyRemovedOnLastWithdraw(t *testing.T) {
	rt := New(65000, false)
	nlri := prefix("10.0.0.0/24")
	src := &Source{Address: netip.MustParseAddr("192.0.2.1")}

	rt.Insert(bgp.FamilyIPv4Unicast, nlri, src, netip.MustParseAddr("192.0.2.1"), attrsWithLocalPref(100))
	u, removed := rt.Remove(bgp.FamilyIPv4Unicast, nlri, src)
	if !removed || u == nil || u.Kind != Withdrawn {
		t.Fatalf("expected Withdrawn on last entry removal, got %+v", u)
	}
	if counts := rt.Counts(bgp.FamilyIPv4Unicast); counts.Destinations != 0 {
		t.Fatalf("expected destination to be removed, got %d remaining", counts.Destinations)
	}
}

func TestCollectorModeNoFanout(t *testing.T) {
	rt := New(65000, true)
	nlri := prefix("10.0.0.0/24")
	src := &Source{Address: netip.MustParseAddr("192.0.2.1")}

	u, _ := rt.Insert(bgp.FamilyIPv4Unicast, nlri, src, netip.MustParseAddr("192.0.2.1"), attrsWithLocalPref(100))
	if u != nil {
		t.Fatalf("expected no TableUpdate in collector mode, got %+v", u)
	}
	counts := rt.Counts(bgp.FamilyIPv4Unicast)
	if counts.Destinations != 1 || counts.Paths != 1 {
		t.Fatalf("expected insertion to still occur, got %+v", counts)
	}
}

func TestIBGPSplitHorizon(t *testing.T) {
	rt := New(65000, false)
	addrB := netip.MustParseAddr("192.0.2.2")
	addrC := netip.MustParseAddr("192.0.2.3")
	srcB := &Source{Address: addrB, IBGP: true}
	srcC := &Source{Address: addrC, IBGP: true}

	senderB := rt.AddActivePeer(addrB, srcB)
	rt.AddActivePeer(addrC, srcC)

	rt.Broadcast(srcC, &TableUpdate{Kind: NewBest, Family: bgp.FamilyIPv4Unicast, Nlri: prefix("10.0.0.0/24")})

	select {
	case <-senderB.C():
		t.Fatalf("expected no message delivered to B under IBGP split horizon")
	default:
	}
}

func TestInsertReplaceSameSourceEquivalentToRemoveThenInsert(t *testing.T) {
	rt := New(65000, false)
	nlri := prefix("10.0.0.0/24")
	src := &Source{Address: netip.MustParseAddr("192.0.2.1")}

	rt.Insert(bgp.FamilyIPv4Unicast, nlri, src, netip.MustParseAddr("192.0.2.1"), attrsWithLocalPref(100))
	_, isNew := rt.Insert(bgp.FamilyIPv4Unicast, nlri, src, netip.MustParseAddr("192.0.2.1"), attrsWithLocalPref(200))
	if isNew {
		t.Fatalf("expected second insert from same source to not be new")
	}
	counts := rt.Counts(bgp.FamilyIPv4Unicast)
	if counts.Paths != 1 {
		t.Fatalf("expected exactly one path after same-source replace, got %d", counts.Paths)
	}
}
