// Package rewrite derives outbound path attributes from a stored path's
// attributes given the advertising session's stance (EBGP/IBGP), mirroring
// RFC 4271 §5's per-peer-type rules for AS_PATH, NEXT_HOP, and LOCAL_PREF.
package rewrite

import (
	"net/netip"

	"github.com/routecore/bgpd/internal/bgp"
)

// maxASPathSegmentEntries is the boundary spec.md §8 names explicitly: a
// leading AS_SEQUENCE accepts up to 255 entries before a new segment must
// be prepended instead.
const maxASPathSegmentEntries = 255

// Input carries everything the rewrite needs to produce one outbound
// attribute set, per spec.md §4.8.
type Input struct {
	IsIBGP          bool
	IsMP            bool // true when the family is not IPv4 unicast
	LocalAS         uint32
	Nlri            bgp.Nlri
	OriginalNextHop netip.Addr
	LocalAddr       netip.Addr
	Stored          *bgp.PathAttr
}

// Rewrite produces the outbound PathAttr for one UPDATE, applying the
// EBGP/IBGP rules of spec.md §4.8: non-transitive attributes dropped,
// AS-path prepended and MED stripped on EBGP egress, nexthop substituted
// per session stance, LOCAL_PREF defaulted for IBGP.
func Rewrite(in Input) *bgp.PathAttr {
	var kept []bgp.Attribute
	haveASPath := false
	haveLocalPref := false

	for _, a := range in.Stored.All() {
		if !a.Transitive() {
			continue
		}
		switch a.Type() {
		case bgp.AttrASPath:
			haveASPath = true
			continue // AS_PATH is always rebuilt below, never carried as-is
		case bgp.AttrNextHop, bgp.AttrMPReachNLRI, bgp.AttrMPUnreachNLRI:
			continue // nexthop/MP attributes are rebuilt below
		case bgp.AttrMED:
			if !in.IsIBGP {
				continue // MED dropped on EBGP egress (spec.md §9)
			}
		case bgp.AttrLocalPref:
			haveLocalPref = true
		}
		kept = append(kept, a)
	}

	var appended []bgp.Attribute

	appended = append(appended, buildASPath(in, haveASPath)...)

	if in.IsIBGP {
		appended = append(appended, nextHopAttr(in, in.OriginalNextHop)...)
	} else {
		appended = append(appended, nextHopAttr(in, in.LocalAddr)...)
	}

	if !haveLocalPref && in.IsIBGP {
		appended = append(appended, bgp.LocalPrefAttr{Value: bgp.DefaultLocalPref})
	}

	return bgp.NewPathAttr(append(kept, appended...))
}

func buildASPath(in Input, hadASPath bool) []bgp.Attribute {
	stored, ok := in.Stored.Get(bgp.AttrASPath)
	var segments []bgp.ASPathSegment
	if ok {
		segments = append([]bgp.ASPathSegment(nil), stored.(bgp.ASPathAttr).Segments...)
	}

	if !in.IsIBGP {
		if len(segments) == 0 {
			segments = []bgp.ASPathSegment{{Type: bgp.ASPathSequence, ASNs: []uint32{in.LocalAS}}}
		} else if segments[0].Type == bgp.ASPathSequence && len(segments[0].ASNs) < maxASPathSegmentEntries {
			segments[0] = bgp.ASPathSegment{
				Type: bgp.ASPathSequence,
				ASNs: append([]uint32{in.LocalAS}, segments[0].ASNs...),
			}
		} else {
			segments = append([]bgp.ASPathSegment{{Type: bgp.ASPathSequence, ASNs: []uint32{in.LocalAS}}}, segments...)
		}
		return []bgp.Attribute{bgp.ASPathAttr{Segments: segments}}
	}

	if !hadASPath {
		return []bgp.Attribute{bgp.ASPathAttr{Segments: nil}}
	}
	return []bgp.Attribute{bgp.ASPathAttr{Segments: segments}}
}

func nextHopAttr(in Input, chosen netip.Addr) []bgp.Attribute {
	if in.IsMP {
		return []bgp.Attribute{bgp.MPReachAttr{
			Family:  in.Nlri.Family(),
			NextHop: chosen,
			NLRI:    []bgp.Nlri{in.Nlri},
		}}
	}
	return []bgp.Attribute{bgp.NextHopAttr{Value: chosen}}
}
