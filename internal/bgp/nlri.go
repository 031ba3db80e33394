package bgp

import (
	"fmt"
	"net/netip"
)

// IPNet is an IP prefix: an address together with a prefix length. Unlike
// net/netip.Prefix it keeps the host bits the wire encoding gave us instead
// of silently masking them, which matters for byte-for-byte round-tripping.
type IPNet struct {
	Addr      netip.Addr
	PrefixLen int
}

// Nlri is a destination identifier. The only concrete variant the core
// supports is Ip (IPv4 and IPv6 unicast prefixes); spec.md reserves the
// tagged-union shape for future NLRI kinds (VPN, flowspec, ...) that are
// out of scope here.
type Nlri struct {
	IP IPNet
}

func (n Nlri) String() string {
	return fmt.Sprintf("%s/%d", n.IP.Addr.String(), n.IP.PrefixLen)
}

// Family reports the address family this NLRI belongs to.
func (n Nlri) Family() Family {
	if n.IP.Addr.Is4() {
		return FamilyIPv4Unicast
	}
	return FamilyIPv6Unicast
}

// Less gives Nlri a deterministic ordering, used when RIB walks must
// produce family-then-prefix order (e.g. Table.Clear's returned updates).
func (n Nlri) Less(o Nlri) bool {
	if n.IP.Addr != o.IP.Addr {
		return n.IP.Addr.Less(o.IP.Addr)
	}
	return n.IP.PrefixLen < o.IP.PrefixLen
}

// encodePrefix serializes an NLRI the way BGP does on the wire: a 1-byte
// prefix length followed by ceil(len/8) bytes of address.
func encodePrefix(n Nlri) []byte {
	byteLen := (n.IP.PrefixLen + 7) / 8
	out := make([]byte, 1+byteLen)
	out[0] = byte(n.IP.PrefixLen)
	if n.IP.Addr.Is4() {
		a := n.IP.Addr.As4()
		copy(out[1:], a[:byteLen])
	} else {
		a := n.IP.Addr.As16()
		copy(out[1:], a[:byteLen])
	}
	return out
}

// decodePrefixes parses a sequence of wire-encoded prefixes for the given
// AFI until data is exhausted. A prefix length wider than the address, or a
// trailing prefix cut short by the end of data, is returned as an error.
func decodePrefixes(data []byte, afi uint16) (prefixes []Nlri, err error) {
	addrBytes := 4
	if afi == AFIIPv6 {
		addrBytes = 16
	}
	offset := 0
	for offset < len(data) {
		prefixLen := int(data[offset])
		offset++
		byteLen := (prefixLen + 7) / 8
		if byteLen > addrBytes {
			return nil, fmt.Errorf("bgp: prefix length %d exceeds address size", prefixLen)
		}
		if offset+byteLen > len(data) {
			return nil, fmt.Errorf("bgp: truncated NLRI prefix")
		}
		raw := make([]byte, addrBytes)
		copy(raw, data[offset:offset+byteLen])
		offset += byteLen

		var addr netip.Addr
		if afi == AFIIPv6 {
			var a16 [16]byte
			copy(a16[:], raw)
			addr = netip.AddrFrom16(a16)
		} else {
			var a4 [4]byte
			copy(a4[:], raw)
			addr = netip.AddrFrom4(a4)
		}
		prefixes = append(prefixes, Nlri{IP: IPNet{Addr: addr, PrefixLen: prefixLen}})
	}
	return prefixes, nil
}
