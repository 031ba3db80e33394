// Package bgp implements the BGP-4 wire format: message framing, path
// attribute encoding/decoding, and the address-family primitives the rest
// of the daemon is built on. It never interprets protocol semantics (no
// best-path selection, no session state) — that belongs to package table
// and package session.
package bgp

import "fmt"

// AFI/SAFI codes used by this implementation (RFC 4760).
const (
	AFIIPv4 uint16 = 1
	AFIIPv6 uint16 = 2

	SAFIUnicast uint8 = 1
)

// Family is a tagged discriminator over the address families the RIB
// partitions by, encoded as (AFI<<16)|SAFI so it can be used as a map key.
type Family uint32

const (
	FamilyIPv4Unicast Family = Family(uint32(AFIIPv4)<<16 | uint32(SAFIUnicast))
	FamilyIPv6Unicast Family = Family(uint32(AFIIPv6)<<16 | uint32(SAFIUnicast))
)

// NewFamily builds a Family from its AFI/SAFI parts, including unknown
// combinations (the Unknown(u32) variant spec.md describes).
func NewFamily(afi uint16, safi uint8) Family {
	return Family(uint32(afi)<<16 | uint32(safi))
}

func (f Family) AFI() uint16 { return uint16(f >> 16) }
func (f Family) SAFI() uint8 { return uint8(f) }

func (f Family) String() string {
	switch f {
	case FamilyIPv4Unicast:
		return "ipv4-unicast"
	case FamilyIPv6Unicast:
		return "ipv6-unicast"
	default:
		return fmt.Sprintf("afi%d/safi%d", f.AFI(), f.SAFI())
	}
}

// Known reports whether f is one of the families this core understands.
func (f Family) Known() bool {
	return f == FamilyIPv4Unicast || f == FamilyIPv6Unicast
}
