package bgp

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"sort"
)

// Path attribute type codes (RFC 4271, RFC 4760, RFC 6793).
const (
	AttrOrigin          uint8 = 1
	AttrASPath          uint8 = 2
	AttrNextHop         uint8 = 3
	AttrMED             uint8 = 4
	AttrLocalPref       uint8 = 5
	AttrAtomicAggregate uint8 = 6
	AttrAggregator      uint8 = 7
	AttrCommunity       uint8 = 8
	AttrOriginatorID    uint8 = 9
	AttrClusterList     uint8 = 10
	AttrMPReachNLRI     uint8 = 14
	AttrMPUnreachNLRI   uint8 = 15

	// Attribute flag bits.
	flagOptional   uint8 = 0x80
	flagTransitive uint8 = 0x40
	flagPartial    uint8 = 0x20
	flagExtLen     uint8 = 0x10
)

// Origin values.
const (
	OriginIGP        uint8 = 0
	OriginEGP        uint8 = 1
	OriginIncomplete uint8 = 2
)

// AS_PATH segment types.
const (
	ASPathSet      uint8 = 1
	ASPathSequence uint8 = 2
)

const DefaultLocalPref uint32 = 100

// Attribute is a tagged-union member of a path's attribute set. Concrete
// types below each own one BGP attribute type code.
type Attribute interface {
	// Type returns the BGP attribute type code (attr()).
	Type() uint8
	// Transitive reports whether this attribute must be preserved across
	// ASes when not recognized (is_transitive()).
	Transitive() bool
	// marshal encodes the attribute value (not the type/flags/length header).
	marshal() []byte
}

// --- Origin ---

type OriginAttr struct{ Value uint8 }

func (OriginAttr) Type() uint8        { return AttrOrigin }
func (OriginAttr) Transitive() bool   { return true }
func (a OriginAttr) marshal() []byte  { return []byte{a.Value} }

// --- AS_PATH ---

type ASPathSegment struct {
	Type uint8
	ASNs []uint32
}

type ASPathAttr struct{ Segments []ASPathSegment }

func (ASPathAttr) Type() uint8      { return AttrASPath }
func (ASPathAttr) Transitive() bool { return true }

// Length is the AS-path length used by best-path selection: the sum of
// segment lengths (SET segments count as 1 regardless of member count,
// per RFC 4271 §9.1.2.2; this core only ever produces SEQUENCE segments
// so the distinction rarely bites, but we honor it for inbound paths).
func (a ASPathAttr) Length() int {
	n := 0
	for _, seg := range a.Segments {
		if seg.Type == ASPathSet {
			n++
		} else {
			n += len(seg.ASNs)
		}
	}
	return n
}

func (a ASPathAttr) marshal() []byte {
	return encodeASPath(a.Segments, true)
}

func encodeASPath(segments []ASPathSegment, fourByte bool) []byte {
	var out []byte
	for _, seg := range segments {
		out = append(out, seg.Type, byte(len(seg.ASNs)))
		for _, asn := range seg.ASNs {
			if fourByte {
				var b [4]byte
				binary.BigEndian.PutUint32(b[:], asn)
				out = append(out, b[:]...)
			} else {
				var b [2]byte
				binary.BigEndian.PutUint16(b[:], uint16(asn))
				out = append(out, b[:]...)
			}
		}
	}
	return out
}

// --- NEXT_HOP ---

type NextHopAttr struct{ Value netip.Addr }

func (NextHopAttr) Type() uint8      { return AttrNextHop }
func (NextHopAttr) Transitive() bool { return true }
func (a NextHopAttr) marshal() []byte {
	v4 := a.Value.As4()
	return v4[:]
}

// --- MULTI_EXIT_DISC ---

type MEDAttr struct{ Value uint32 }

func (MEDAttr) Type() uint8      { return AttrMED }
func (MEDAttr) Transitive() bool { return false }
func (a MEDAttr) marshal() []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], a.Value)
	return b[:]
}

// --- LOCAL_PREF ---

type LocalPrefAttr struct{ Value uint32 }

func (LocalPrefAttr) Type() uint8      { return AttrLocalPref }
func (LocalPrefAttr) Transitive() bool { return true }
func (a LocalPrefAttr) marshal() []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], a.Value)
	return b[:]
}

// --- ATOMIC_AGGREGATE ---

type AtomicAggregateAttr struct{}

func (AtomicAggregateAttr) Type() uint8        { return AttrAtomicAggregate }
func (AtomicAggregateAttr) Transitive() bool   { return true }
func (AtomicAggregateAttr) marshal() []byte    { return nil }

// --- AGGREGATOR ---

type AggregatorAttr struct {
	ASN     uint32
	Address netip.Addr
}

func (AggregatorAttr) Type() uint8      { return AttrAggregator }
func (AggregatorAttr) Transitive() bool { return true }
func (a AggregatorAttr) marshal() []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], a.ASN)
	addr := a.Address.As4()
	return append(b[:], addr[:]...)
}

// --- COMMUNITY ---

type CommunityAttr struct{ Values []uint32 }

func (CommunityAttr) Type() uint8      { return AttrCommunity }
func (CommunityAttr) Transitive() bool { return true }
func (a CommunityAttr) marshal() []byte {
	out := make([]byte, 0, 4*len(a.Values))
	var b [4]byte
	for _, v := range a.Values {
		binary.BigEndian.PutUint32(b[:], v)
		out = append(out, b[:]...)
	}
	return out
}

// --- ORIGINATOR_ID ---

type OriginatorIDAttr struct{ Value netip.Addr }

func (OriginatorIDAttr) Type() uint8      { return AttrOriginatorID }
func (OriginatorIDAttr) Transitive() bool { return false }
func (a OriginatorIDAttr) marshal() []byte {
	v4 := a.Value.As4()
	return v4[:]
}

// --- CLUSTER_LIST ---

type ClusterListAttr struct{ IDs []netip.Addr }

func (ClusterListAttr) Type() uint8      { return AttrClusterList }
func (ClusterListAttr) Transitive() bool { return false }
func (a ClusterListAttr) marshal() []byte {
	out := make([]byte, 0, 4*len(a.IDs))
	for _, id := range a.IDs {
		v4 := id.As4()
		out = append(out, v4[:]...)
	}
	return out
}

// --- MP_REACH_NLRI (RFC 4760) ---

type MPReachAttr struct {
	Family  Family
	NextHop netip.Addr
	NLRI    []Nlri
}

func (MPReachAttr) Type() uint8      { return AttrMPReachNLRI }
func (MPReachAttr) Transitive() bool { return true }
func (a MPReachAttr) marshal() []byte {
	var out []byte
	var afi [2]byte
	binary.BigEndian.PutUint16(afi[:], a.Family.AFI())
	out = append(out, afi[:]...)
	out = append(out, a.Family.SAFI())

	nh := a.NextHop.AsSlice()
	out = append(out, byte(len(nh)))
	out = append(out, nh...)
	out = append(out, 0) // number of SNPAs: none

	for _, n := range a.NLRI {
		out = append(out, encodePrefix(n)...)
	}
	return out
}

// --- MP_UNREACH_NLRI (RFC 4760) ---

type MPUnreachAttr struct {
	Family Family
	NLRI   []Nlri
}

func (MPUnreachAttr) Type() uint8      { return AttrMPUnreachNLRI }
func (MPUnreachAttr) Transitive() bool { return true }
func (a MPUnreachAttr) marshal() []byte {
	var out []byte
	var afi [2]byte
	binary.BigEndian.PutUint16(afi[:], a.Family.AFI())
	out = append(out, afi[:]...)
	out = append(out, a.Family.SAFI())
	for _, n := range a.NLRI {
		out = append(out, encodePrefix(n)...)
	}
	return out
}

// --- unrecognized attributes, preserved opaquely for transit ---

type OpaqueAttr struct {
	TypeCode     uint8
	Flags        uint8
	Value        []byte
}

func (a OpaqueAttr) Type() uint8      { return a.TypeCode }
func (a OpaqueAttr) Transitive() bool { return a.Flags&flagTransitive != 0 }
func (a OpaqueAttr) marshal() []byte  { return a.Value }

// PathAttr is an immutable, type-code-sorted bag of attributes shared by
// reference among every Path that originated from the same UPDATE message
// (spec.md §3: "ownership: shared; lifetime = longest holder").
type PathAttr struct {
	attrs []Attribute
}

// NewPathAttr builds a PathAttr, sorting by attribute-type code as spec.md
// §3 requires.
func NewPathAttr(attrs []Attribute) *PathAttr {
	cp := make([]Attribute, len(attrs))
	copy(cp, attrs)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Type() < cp[j].Type() })
	return &PathAttr{attrs: cp}
}

func (p *PathAttr) All() []Attribute { return p.attrs }

// Get returns the first attribute matching typeCode, if any.
func (p *PathAttr) Get(typeCode uint8) (Attribute, bool) {
	for _, a := range p.attrs {
		if a.Type() == typeCode {
			return a, true
		}
	}
	return nil, false
}

func (p *PathAttr) Origin() uint8 {
	if a, ok := p.Get(AttrOrigin); ok {
		return a.(OriginAttr).Value
	}
	return OriginIncomplete
}

func (p *PathAttr) ASPathLength() int {
	if a, ok := p.Get(AttrASPath); ok {
		return a.(ASPathAttr).Length()
	}
	return 0
}

func (p *PathAttr) LocalPref() uint32 {
	if a, ok := p.Get(AttrLocalPref); ok {
		return a.(LocalPrefAttr).Value
	}
	return DefaultLocalPref
}

func (p *PathAttr) MED() uint32 {
	if a, ok := p.Get(AttrMED); ok {
		return a.(MEDAttr).Value
	}
	return 0
}

func (p *PathAttr) String() string {
	return fmt.Sprintf("PathAttr(%d attrs)", len(p.attrs))
}
