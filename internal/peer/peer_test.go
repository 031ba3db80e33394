package peer

import (
	"net/netip"
	"testing"

	"github.com/routecore/bgpd/internal/bgp"
)

func TestResetClearsAcceptedAndCaps(t *testing.T) {
	p := New(netip.MustParseAddr("192.0.2.1"), 65001, 65000, false, 90)
	p.State = Established
	p.Accepted[bgp.FamilyIPv4Unicast] = 5
	p.RemoteCap = &bgp.Capabilities{RouteRefresh: true}

	p.Reset()

	if p.State != Idle {
		t.Fatalf("expected Idle after reset, got %v", p.State)
	}
	if len(p.Accepted) != 0 {
		t.Fatalf("expected Accepted cleared, got %v", p.Accepted)
	}
	if p.RemoteCap != nil {
		t.Fatalf("expected RemoteCap cleared")
	}
	if p.Downtime.IsZero() {
		t.Fatalf("expected Downtime to be stamped")
	}
}

func TestUpdateAcceptedIgnoresNegativeOnAbsentFamily(t *testing.T) {
	p := New(netip.MustParseAddr("192.0.2.1"), 65001, 65000, false, 90)
	p.UpdateAccepted(bgp.FamilyIPv4Unicast, -1)
	if _, ok := p.Accepted[bgp.FamilyIPv4Unicast]; ok {
		t.Fatalf("expected no entry created from a negative delta on an absent family")
	}
}

func TestUpdateAcceptedClampsAtZero(t *testing.T) {
	p := New(netip.MustParseAddr("192.0.2.1"), 65001, 65000, false, 90)
	p.UpdateAccepted(bgp.FamilyIPv4Unicast, 1)
	p.UpdateAccepted(bgp.FamilyIPv4Unicast, -5)
	if p.Accepted[bgp.FamilyIPv4Unicast] != 0 {
		t.Fatalf("expected clamp at 0, got %d", p.Accepted[bgp.FamilyIPv4Unicast])
	}
}
