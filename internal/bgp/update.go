package bgp

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// UpdateMessage is a decoded UPDATE, already split by family: Announced and
// Withdrawn pair NLRI with the family they belong to (IPv4 unicast rides in
// the flat withdrawn-routes/NLRI fields; other families ride in
// MP_REACH_NLRI/MP_UNREACH_NLRI path attributes, RFC 4760).
type UpdateMessage struct {
	Withdrawn  map[Family][]Nlri
	Announced  map[Family][]Nlri
	Attributes *PathAttr // nil for a pure-withdrawal UPDATE (no NLRI/attributes at all)

	// NextHop carries the per-family nexthop: the classic NEXT_HOP value
	// for IPv4 unicast, the MP_REACH_NLRI nexthop for every other family.
	NextHop map[Family]netip.Addr
}

// IsEndOfRIB reports whether this UPDATE is an End-of-RIB marker: empty
// withdrawn, empty announced, no attributes (RFC 4724 §2, used for
// IPv4 unicast) or an MP_UNREACH_NLRI attribute with zero NLRI for one
// family (used for all other families).
func (u *UpdateMessage) IsEndOfRIB() bool {
	if u.Attributes != nil && len(u.Attributes.All()) != 0 {
		return false
	}
	for _, nlri := range u.Announced {
		if len(nlri) != 0 {
			return false
		}
	}
	for _, nlri := range u.Withdrawn {
		if len(nlri) != 0 {
			return false
		}
	}
	return true
}

func decodeUpdate(body []byte, param ParseParam) (*UpdateMessage, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("bgp: short UPDATE body")
	}
	offset := 0

	wdLen := int(binary.BigEndian.Uint16(body[offset : offset+2]))
	offset += 2
	if offset+wdLen > len(body) {
		return nil, fmt.Errorf("bgp: withdrawn routes length exceeds body")
	}
	withdrawn4, err := decodePrefixes(body[offset:offset+wdLen], AFIIPv4)
	if err != nil {
		return nil, fmt.Errorf("bgp: withdrawn routes: %w", err)
	}
	offset += wdLen

	if offset+2 > len(body) {
		return nil, fmt.Errorf("bgp: missing total path attribute length")
	}
	paLen := int(binary.BigEndian.Uint16(body[offset : offset+2]))
	offset += 2
	if offset+paLen > len(body) {
		return nil, fmt.Errorf("bgp: path attributes length exceeds body")
	}
	attrBytes := body[offset : offset+paLen]
	offset += paLen

	nlriBytes := body[offset:]
	announced4, err := decodePrefixes(nlriBytes, AFIIPv4)
	if err != nil {
		return nil, fmt.Errorf("bgp: NLRI: %w", err)
	}

	attrs, mpReach, mpUnreach, err := decodePathAttributes(attrBytes, param)
	if err != nil {
		return nil, err
	}

	u := &UpdateMessage{
		Withdrawn: map[Family][]Nlri{},
		Announced: map[Family][]Nlri{},
		NextHop:   map[Family]netip.Addr{},
	}
	if len(withdrawn4) > 0 {
		u.Withdrawn[FamilyIPv4Unicast] = withdrawn4
	}
	if len(announced4) > 0 {
		u.Announced[FamilyIPv4Unicast] = announced4
		for _, a := range attrs {
			if nh, ok := a.(NextHopAttr); ok {
				u.NextHop[FamilyIPv4Unicast] = nh.Value
			}
		}
	}
	for _, mu := range mpUnreach {
		if len(mu.NLRI) > 0 {
			u.Withdrawn[mu.Family] = append(u.Withdrawn[mu.Family], mu.NLRI...)
		} else {
			// zero-length MP_UNREACH_NLRI is an End-of-RIB marker for this family
			if _, ok := u.Withdrawn[mu.Family]; !ok {
				u.Withdrawn[mu.Family] = nil
			}
		}
	}
	for _, mr := range mpReach {
		if len(mr.NLRI) > 0 {
			u.Announced[mr.Family] = append(u.Announced[mr.Family], mr.NLRI...)
			u.NextHop[mr.Family] = mr.NextHop
		}
	}
	if len(attrs) > 0 {
		u.Attributes = NewPathAttr(attrs)
	}
	return u, nil
}

// decodePathAttributes walks the TLV attribute stream, returning the flat
// (non-MP) attributes plus the MP_REACH/MP_UNREACH attributes separately
// since those drive per-family NLRI assembly above rather than living in
// the shared PathAttr bag (their NLRI payload is not itself an attribute
// value that should be compared/stored; only their nexthop matters there).
func decodePathAttributes(data []byte, param ParseParam) (attrs []Attribute, mpReach []MPReachAttr, mpUnreach []MPUnreachAttr, err error) {
	offset := 0
	for offset < len(data) {
		if offset+2 > len(data) {
			return nil, nil, nil, fmt.Errorf("bgp: truncated attribute flags/type")
		}
		flags := data[offset]
		typeCode := data[offset+1]
		offset += 2

		var length int
		if flags&flagExtLen != 0 {
			if offset+2 > len(data) {
				return nil, nil, nil, fmt.Errorf("bgp: truncated extended attribute length")
			}
			length = int(binary.BigEndian.Uint16(data[offset : offset+2]))
			offset += 2
		} else {
			if offset+1 > len(data) {
				return nil, nil, nil, fmt.Errorf("bgp: truncated attribute length")
			}
			length = int(data[offset])
			offset++
		}
		if offset+length > len(data) {
			return nil, nil, nil, fmt.Errorf("bgp: attribute value exceeds body")
		}
		value := data[offset : offset+length]
		offset += length

		attr, mr, mu, perr := decodeAttribute(flags, typeCode, value, param)
		if perr != nil {
			return nil, nil, nil, perr
		}
		switch {
		case mr != nil:
			mpReach = append(mpReach, *mr)
		case mu != nil:
			mpUnreach = append(mpUnreach, *mu)
		case attr != nil:
			attrs = append(attrs, attr)
		}
	}
	return attrs, mpReach, mpUnreach, nil
}

func decodeAttribute(flags, typeCode uint8, value []byte, param ParseParam) (attr Attribute, mpReach *MPReachAttr, mpUnreach *MPUnreachAttr, err error) {
	switch typeCode {
	case AttrOrigin:
		if len(value) != 1 {
			return nil, nil, nil, fmt.Errorf("bgp: ORIGIN length %d != 1", len(value))
		}
		return OriginAttr{Value: value[0]}, nil, nil, nil
	case AttrASPath:
		segs, err := decodeASPath(value, param.FourByteAS)
		if err != nil {
			return nil, nil, nil, err
		}
		return ASPathAttr{Segments: segs}, nil, nil, nil
	case AttrNextHop:
		if len(value) != 4 {
			return nil, nil, nil, fmt.Errorf("bgp: NEXT_HOP length %d != 4", len(value))
		}
		var b [4]byte
		copy(b[:], value)
		return NextHopAttr{Value: netip.AddrFrom4(b)}, nil, nil, nil
	case AttrMED:
		if len(value) != 4 {
			return nil, nil, nil, fmt.Errorf("bgp: MULTI_EXIT_DISC length %d != 4", len(value))
		}
		return MEDAttr{Value: binary.BigEndian.Uint32(value)}, nil, nil, nil
	case AttrLocalPref:
		if len(value) != 4 {
			return nil, nil, nil, fmt.Errorf("bgp: LOCAL_PREF length %d != 4", len(value))
		}
		return LocalPrefAttr{Value: binary.BigEndian.Uint32(value)}, nil, nil, nil
	case AttrAtomicAggregate:
		return AtomicAggregateAttr{}, nil, nil, nil
	case AttrAggregator:
		if len(value) != 6 && len(value) != 8 {
			return nil, nil, nil, fmt.Errorf("bgp: AGGREGATOR length %d", len(value))
		}
		asnWidth := len(value) - 4
		var asn uint32
		if asnWidth == 2 {
			asn = uint32(binary.BigEndian.Uint16(value[0:2]))
		} else {
			asn = binary.BigEndian.Uint32(value[0:4])
		}
		var b [4]byte
		copy(b[:], value[asnWidth:])
		return AggregatorAttr{ASN: asn, Address: netip.AddrFrom4(b)}, nil, nil, nil
	case AttrCommunity:
		if len(value)%4 != 0 {
			return nil, nil, nil, fmt.Errorf("bgp: COMMUNITY length %d not a multiple of 4", len(value))
		}
		var vals []uint32
		for i := 0; i+4 <= len(value); i += 4 {
			vals = append(vals, binary.BigEndian.Uint32(value[i:i+4]))
		}
		return CommunityAttr{Values: vals}, nil, nil, nil
	case AttrOriginatorID:
		if len(value) != 4 {
			return nil, nil, nil, fmt.Errorf("bgp: ORIGINATOR_ID length %d != 4", len(value))
		}
		var b [4]byte
		copy(b[:], value)
		return OriginatorIDAttr{Value: netip.AddrFrom4(b)}, nil, nil, nil
	case AttrClusterList:
		if len(value)%4 != 0 {
			return nil, nil, nil, fmt.Errorf("bgp: CLUSTER_LIST length %d not a multiple of 4", len(value))
		}
		var ids []netip.Addr
		for i := 0; i+4 <= len(value); i += 4 {
			var b [4]byte
			copy(b[:], value[i:i+4])
			ids = append(ids, netip.AddrFrom4(b))
		}
		return ClusterListAttr{IDs: ids}, nil, nil, nil
	case AttrMPReachNLRI:
		mr, err := decodeMPReach(value)
		if err != nil {
			return nil, nil, nil, err
		}
		return nil, mr, nil, nil
	case AttrMPUnreachNLRI:
		mu, err := decodeMPUnreach(value)
		if err != nil {
			return nil, nil, nil, err
		}
		return nil, nil, mu, nil
	default:
		return OpaqueAttr{TypeCode: typeCode, Flags: flags, Value: append([]byte(nil), value...)}, nil, nil, nil
	}
}

func decodeASPath(value []byte, fourByte bool) ([]ASPathSegment, error) {
	var segs []ASPathSegment
	offset := 0
	width := 2
	if fourByte {
		width = 4
	}
	for offset < len(value) {
		if offset+2 > len(value) {
			return nil, fmt.Errorf("bgp: truncated AS_PATH segment header")
		}
		segType := value[offset]
		count := int(value[offset+1])
		offset += 2
		need := count * width
		if offset+need > len(value) {
			return nil, fmt.Errorf("bgp: truncated AS_PATH segment value")
		}
		asns := make([]uint32, 0, count)
		for i := 0; i < count; i++ {
			if width == 4 {
				asns = append(asns, binary.BigEndian.Uint32(value[offset:offset+4]))
			} else {
				asns = append(asns, uint32(binary.BigEndian.Uint16(value[offset:offset+2])))
			}
			offset += width
		}
		segs = append(segs, ASPathSegment{Type: segType, ASNs: asns})
	}
	return segs, nil
}

func decodeMPReach(value []byte) (*MPReachAttr, error) {
	if len(value) < 5 {
		return nil, fmt.Errorf("bgp: short MP_REACH_NLRI")
	}
	afi := binary.BigEndian.Uint16(value[0:2])
	safi := value[2]
	nhLen := int(value[3])
	offset := 4
	if offset+nhLen > len(value) {
		return nil, fmt.Errorf("bgp: MP_REACH_NLRI nexthop length exceeds value")
	}
	nh := value[offset : offset+nhLen]
	offset += nhLen
	if offset >= len(value) {
		return nil, fmt.Errorf("bgp: MP_REACH_NLRI missing SNPA count")
	}
	snpaCount := int(value[offset])
	offset++
	for i := 0; i < snpaCount; i++ {
		if offset >= len(value) {
			return nil, fmt.Errorf("bgp: truncated SNPA list")
		}
		snpaLen := int(value[offset])
		offset += 1 + snpaLen
	}
	if offset > len(value) {
		return nil, fmt.Errorf("bgp: truncated SNPA list")
	}

	var nextHop netip.Addr
	switch len(nh) {
	case 4:
		var b [4]byte
		copy(b[:], nh)
		nextHop = netip.AddrFrom4(b)
	case 16, 32:
		var b [16]byte
		copy(b[:], nh[:16])
		nextHop = netip.AddrFrom16(b)
	default:
		return nil, fmt.Errorf("bgp: unsupported MP_REACH_NLRI nexthop length %d", len(nh))
	}

	prefixes, err := decodePrefixes(value[offset:], afi)
	if err != nil {
		return nil, fmt.Errorf("bgp: MP_REACH_NLRI NLRI: %w", err)
	}
	return &MPReachAttr{Family: NewFamily(afi, safi), NextHop: nextHop, NLRI: prefixes}, nil
}

func decodeMPUnreach(value []byte) (*MPUnreachAttr, error) {
	if len(value) < 3 {
		return nil, fmt.Errorf("bgp: short MP_UNREACH_NLRI")
	}
	afi := binary.BigEndian.Uint16(value[0:2])
	safi := value[2]
	prefixes, err := decodePrefixes(value[3:], afi)
	if err != nil {
		return nil, fmt.Errorf("bgp: MP_UNREACH_NLRI NLRI: %w", err)
	}
	return &MPUnreachAttr{Family: NewFamily(afi, safi), NLRI: prefixes}, nil
}

// EncodeUpdate serializes an UpdateMessage into a framed UPDATE message.
// IPv4 unicast NLRI/withdrawals ride the flat fields; every other family
// present is encoded as MP_REACH_NLRI/MP_UNREACH_NLRI attributes.
func EncodeUpdate(u *UpdateMessage) []byte {
	var body []byte

	withdrawn4 := u.Withdrawn[FamilyIPv4Unicast]
	var wd []byte
	for _, n := range withdrawn4 {
		wd = append(wd, encodePrefix(n)...)
	}
	var wdLen [2]byte
	binary.BigEndian.PutUint16(wdLen[:], uint16(len(wd)))
	body = append(body, wdLen[:]...)
	body = append(body, wd...)

	var attrs []byte
	if u.Attributes != nil {
		for _, a := range u.Attributes.All() {
			attrs = append(attrs, marshalAttribute(a)...)
		}
	}
	for family, nlri := range u.Withdrawn {
		if family == FamilyIPv4Unicast || len(nlri) == 0 {
			continue
		}
		mu := MPUnreachAttr{Family: family, NLRI: nlri}
		attrs = append(attrs, marshalAttribute(mu)...)
	}
	for family, nlri := range u.Announced {
		if family == FamilyIPv4Unicast || mpReachPresent(u.Attributes, family) {
			continue
		}
		nh := u.NextHop[family]
		if !nh.IsValid() && u.Attributes != nil {
			if mr, ok := findMPReachNextHop(u.Attributes); ok {
				nh = mr
			}
		}
		if !nh.IsValid() {
			// No nexthop supplied: encode the family's unspecified address so
			// the attribute keeps a non-empty, decodable nexthop field.
			nh = netip.IPv4Unspecified()
			if family.AFI() == AFIIPv6 {
				nh = netip.IPv6Unspecified()
			}
		}
		mr := MPReachAttr{Family: family, NextHop: nh, NLRI: nlri}
		attrs = append(attrs, marshalAttribute(mr)...)
	}

	var paLen [2]byte
	binary.BigEndian.PutUint16(paLen[:], uint16(len(attrs)))
	body = append(body, paLen[:]...)
	body = append(body, attrs...)

	for _, n := range u.Announced[FamilyIPv4Unicast] {
		body = append(body, encodePrefix(n)...)
	}

	return EncodeFrame(MsgTypeUpdate, body)
}

// mpReachPresent reports whether p already carries an MP_REACH_NLRI for
// family — true for every update rewrite.Rewrite produces, since it builds
// the MPReachAttr itself (internal/rewrite/rewrite.go's nextHopAttr). Only
// a caller that builds Attributes by hand without one (as in this
// package's own round-trip tests) falls through to the synthesis below.
func mpReachPresent(p *PathAttr, family Family) bool {
	if p == nil {
		return false
	}
	for _, a := range p.All() {
		if mr, ok := a.(MPReachAttr); ok && mr.Family == family {
			return true
		}
	}
	return false
}

func findMPReachNextHop(p *PathAttr) (netip.Addr, bool) {
	if a, ok := p.Get(AttrNextHop); ok {
		return a.(NextHopAttr).Value, true
	}
	return netip.Addr{}, false
}

func marshalAttribute(a Attribute) []byte {
	flags := attributeFlags(a)
	value := a.marshal()
	var out []byte
	if len(value) > 255 {
		flags |= flagExtLen
		out = append(out, flags, a.Type())
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(value)))
		out = append(out, l[:]...)
	} else {
		out = append(out, flags, a.Type(), byte(len(value)))
	}
	return append(out, value...)
}

func attributeFlags(a Attribute) uint8 {
	var flags uint8
	if a.Transitive() {
		flags |= flagTransitive
	}
	switch a.Type() {
	case AttrOrigin, AttrASPath, AttrNextHop:
		// well-known mandatory: no optional bit
	case AttrLocalPref, AttrAtomicAggregate:
		// well-known discretionary: no optional bit
	default:
		flags |= flagOptional
	}
	return flags
}
