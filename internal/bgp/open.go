package bgp

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Optional parameter / capability codes (RFC 3392, RFC 5492, RFC 6793).
const (
	paramCapabilities uint8 = 2

	capMultiprotocol uint8 = 1
	capRouteRefresh  uint8 = 2
	capFourOctetAS   uint8 = 65
)

// OpenMessage is the decoded OPEN message body, including the capability
// set negotiated via optional parameters (RFC 5492).
type OpenMessage struct {
	Version  uint8
	ASNumber uint32 // holds the 2-octet My Autonomous System field; the real ASN (possibly 4-octet) is in Capabilities.FourByteAS when present
	HoldTime uint16
	RouterID netip.Addr

	Capabilities Capabilities
}

// Capabilities is the subset of OPEN capability negotiation this core acts
// on: multiprotocol extension per family, route refresh, four-octet AS.
type Capabilities struct {
	MultiprotocolFamilies []Family
	RouteRefresh          bool
	FourByteAS            uint32 // 0 if not advertised
}

func (c Capabilities) SupportsFamily(f Family) bool {
	for _, m := range c.MultiprotocolFamilies {
		if m == f {
			return true
		}
	}
	return false
}

// EncodeOpen builds a framed OPEN message advertising the given families
// plus route-refresh and four-octet-AS capabilities (the capability set
// spec.md requires every session to offer).
func EncodeOpen(localAS uint32, holdTime uint16, routerID netip.Addr, families []Family) []byte {
	as2 := localAS
	if as2 > 0xffff {
		as2 = 23456 // AS_TRANS, RFC 6793 §4.2.1
	}

	body := make([]byte, 0, 32)
	body = append(body, 4) // version
	var asBuf [2]byte
	binary.BigEndian.PutUint16(asBuf[:], uint16(as2))
	body = append(body, asBuf[:]...)
	var htBuf [2]byte
	binary.BigEndian.PutUint16(htBuf[:], holdTime)
	body = append(body, htBuf[:]...)
	rid := routerID.As4()
	body = append(body, rid[:]...)

	var caps []byte
	for _, f := range families {
		caps = append(caps, encodeCapability(capMultiprotocol, encodeMPCapability(f))...)
	}
	caps = append(caps, encodeCapability(capRouteRefresh, nil)...)
	var asn4 [4]byte
	binary.BigEndian.PutUint32(asn4[:], localAS)
	caps = append(caps, encodeCapability(capFourOctetAS, asn4[:])...)

	var params []byte
	if len(caps) > 0 {
		params = append(params, paramCapabilities, byte(len(caps)))
		params = append(params, caps...)
	}

	body = append(body, byte(len(params)))
	body = append(body, params...)

	return EncodeFrame(MsgTypeOpen, body)
}

func encodeMPCapability(f Family) []byte {
	var out [4]byte
	binary.BigEndian.PutUint16(out[0:2], f.AFI())
	out[2] = 0 // reserved
	out[3] = f.SAFI()
	return out[:]
}

func encodeCapability(code uint8, value []byte) []byte {
	return append([]byte{code, byte(len(value))}, value...)
}

func decodeOpen(body []byte) (*OpenMessage, error) {
	if len(body) < 10 {
		return nil, fmt.Errorf("bgp: short OPEN body (%d bytes)", len(body))
	}
	o := &OpenMessage{
		Version:  body[0],
		ASNumber: uint32(binary.BigEndian.Uint16(body[1:3])),
		HoldTime: binary.BigEndian.Uint16(body[3:5]),
	}
	var ridBytes [4]byte
	copy(ridBytes[:], body[5:9])
	o.RouterID = netip.AddrFrom4(ridBytes)

	paramsLen := int(body[9])
	if 10+paramsLen > len(body) {
		return nil, fmt.Errorf("bgp: OPEN optional parameters length exceeds body")
	}
	params := body[10 : 10+paramsLen]

	caps, err := parseOptionalParameters(params)
	if err != nil {
		return nil, err
	}
	o.Capabilities = caps
	return o, nil
}

func parseOptionalParameters(params []byte) (Capabilities, error) {
	var caps Capabilities
	offset := 0
	for offset < len(params) {
		if offset+2 > len(params) {
			return caps, fmt.Errorf("bgp: truncated optional parameter")
		}
		ptype := params[offset]
		plen := int(params[offset+1])
		offset += 2
		if offset+plen > len(params) {
			return caps, fmt.Errorf("bgp: truncated optional parameter value")
		}
		value := params[offset : offset+plen]
		offset += plen

		if ptype != paramCapabilities {
			continue // unknown optional parameters are ignored, not fatal
		}

		capOffset := 0
		for capOffset < len(value) {
			if capOffset+2 > len(value) {
				return caps, fmt.Errorf("bgp: truncated capability")
			}
			ccode := value[capOffset]
			clen := int(value[capOffset+1])
			capOffset += 2
			if capOffset+clen > len(value) {
				return caps, fmt.Errorf("bgp: truncated capability value")
			}
			cvalue := value[capOffset : capOffset+clen]
			capOffset += clen

			switch ccode {
			case capMultiprotocol:
				if len(cvalue) < 4 {
					return caps, fmt.Errorf("bgp: short multiprotocol capability")
				}
				afi := binary.BigEndian.Uint16(cvalue[0:2])
				safi := cvalue[3]
				caps.MultiprotocolFamilies = append(caps.MultiprotocolFamilies, NewFamily(afi, safi))
			case capRouteRefresh:
				caps.RouteRefresh = true
			case capFourOctetAS:
				if len(cvalue) < 4 {
					return caps, fmt.Errorf("bgp: short four-octet-AS capability")
				}
				caps.FourByteAS = binary.BigEndian.Uint32(cvalue[0:4])
			}
		}
	}
	return caps, nil
}

// EffectiveASNumber returns the peer's real AS number: the four-octet
// capability value when advertised, otherwise the 2-octet OPEN field.
func (o *OpenMessage) EffectiveASNumber() uint32 {
	if o.Capabilities.FourByteAS != 0 {
		return o.Capabilities.FourByteAS
	}
	return o.ASNumber
}
