package bgp

import (
	"net/netip"
	"testing"
)

func mustPrefix(s string) Nlri {
	p := netip.MustParsePrefix(s)
	return Nlri{IP: IPNet{Addr: p.Addr(), PrefixLen: p.Bits()}}
}

func TestUpdateRoundTripIPv4(t *testing.T) {
	attrs := NewPathAttr([]Attribute{
		OriginAttr{Value: OriginIGP},
		ASPathAttr{Segments: []ASPathSegment{{Type: ASPathSequence, ASNs: []uint32{65001, 65002}}}},
		NextHopAttr{Value: netip.MustParseAddr("192.0.2.1")},
		LocalPrefAttr{Value: 150},
	})

	original := &UpdateMessage{
		Withdrawn: map[Family][]Nlri{
			FamilyIPv4Unicast: {mustPrefix("203.0.113.0/24")},
		},
		Announced: map[Family][]Nlri{
			FamilyIPv4Unicast: {mustPrefix("198.51.100.0/24"), mustPrefix("198.51.100.128/25")},
		},
		Attributes: attrs,
	}

	wire := EncodeUpdate(original)
	msg, err := Decode(wire, ParseParam{FourByteAS: true})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != MsgTypeUpdate || msg.Update == nil {
		t.Fatalf("expected UPDATE message, got %+v", msg)
	}

	got := msg.Update
	if len(got.Withdrawn[FamilyIPv4Unicast]) != 1 {
		t.Fatalf("expected 1 withdrawn prefix, got %d", len(got.Withdrawn[FamilyIPv4Unicast]))
	}
	if len(got.Announced[FamilyIPv4Unicast]) != 2 {
		t.Fatalf("expected 2 announced prefixes, got %d", len(got.Announced[FamilyIPv4Unicast]))
	}
	if got.Attributes.LocalPref() != 150 {
		t.Fatalf("expected LOCAL_PREF 150, got %d", got.Attributes.LocalPref())
	}
	if got.Attributes.ASPathLength() != 2 {
		t.Fatalf("expected AS_PATH length 2, got %d", got.Attributes.ASPathLength())
	}
}

func TestUpdateRoundTripIPv6MPReach(t *testing.T) {
	attrs := NewPathAttr([]Attribute{
		OriginAttr{Value: OriginIGP},
		ASPathAttr{},
	})
	original := &UpdateMessage{
		Withdrawn: map[Family][]Nlri{},
		Announced: map[Family][]Nlri{
			FamilyIPv6Unicast: {mustPrefix("2001:db8::/32")},
		},
		Attributes: attrs,
	}

	wire := EncodeUpdate(original)
	msg, err := Decode(wire, ParseParam{FourByteAS: true})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(msg.Update.Announced[FamilyIPv6Unicast]) != 1 {
		t.Fatalf("expected 1 IPv6 announced prefix, got %d", len(msg.Update.Announced[FamilyIPv6Unicast]))
	}
}

func TestEndOfRIB(t *testing.T) {
	u := &UpdateMessage{Withdrawn: map[Family][]Nlri{}, Announced: map[Family][]Nlri{}}
	if !u.IsEndOfRIB() {
		t.Fatalf("expected empty UPDATE to be End-of-RIB")
	}
}

func TestKeepaliveRoundTrip(t *testing.T) {
	wire := EncodeKeepalive()
	msg, err := Decode(wire, ParseParam{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != MsgTypeKeepalive {
		t.Fatalf("expected KEEPALIVE, got type %d", msg.Type)
	}
}

func TestOpenRoundTrip(t *testing.T) {
	rid := netip.MustParseAddr("10.0.0.1")
	wire := EncodeOpen(65001, 90, rid, []Family{FamilyIPv4Unicast, FamilyIPv6Unicast})
	msg, err := Decode(wire, ParseParam{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Open == nil {
		t.Fatalf("expected OPEN message")
	}
	if msg.Open.HoldTime != 90 {
		t.Fatalf("expected hold time 90, got %d", msg.Open.HoldTime)
	}
	if !msg.Open.Capabilities.SupportsFamily(FamilyIPv6Unicast) {
		t.Fatalf("expected IPv6 unicast capability")
	}
	if msg.Open.Capabilities.FourByteAS != 65001 {
		t.Fatalf("expected four-octet AS capability 65001, got %d", msg.Open.Capabilities.FourByteAS)
	}
}

func TestNotificationRoundTrip(t *testing.T) {
	wire := EncodeNotification(ErrCodeHoldTimerExpired, 0, nil)
	msg, err := Decode(wire, ParseParam{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Notification.Code != ErrCodeHoldTimerExpired {
		t.Fatalf("expected code %d, got %d", ErrCodeHoldTimerExpired, msg.Notification.Code)
	}
}

func TestASPathFullSegmentRoundTrip(t *testing.T) {
	asns := make([]uint32, 255)
	for i := range asns {
		asns[i] = uint32(65000 + i)
	}
	attrs := NewPathAttr([]Attribute{
		OriginAttr{Value: OriginIGP},
		ASPathAttr{Segments: []ASPathSegment{{Type: ASPathSequence, ASNs: asns}}},
		NextHopAttr{Value: netip.MustParseAddr("192.0.2.1")},
	})
	wire := EncodeUpdate(&UpdateMessage{
		Announced:  map[Family][]Nlri{FamilyIPv4Unicast: {mustPrefix("198.51.100.0/24")}},
		Attributes: attrs,
	})
	msg, err := Decode(wire, ParseParam{FourByteAS: true})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	a, ok := msg.Update.Attributes.Get(AttrASPath)
	if !ok {
		t.Fatalf("expected AS_PATH attribute after round trip")
	}
	segs := a.(ASPathAttr).Segments
	if len(segs) != 1 || len(segs[0].ASNs) != 255 {
		t.Fatalf("expected one segment of 255 ASNs, got %+v", segs)
	}
}
