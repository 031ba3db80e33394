package table

import (
	"net/netip"
	"time"

	"github.com/routecore/bgpd/internal/bgp"
)

// Path is immutable once inserted into a Destination; its position in the
// destination's ordered entry list is the only mutable aspect, and that is
// achieved by replacement, never in-place mutation.
type Path struct {
	Source    *Source
	Timestamp time.Time
	NextHop   netip.Addr
	Attrs     *bgp.PathAttr
}

// Better reports whether p is a strictly better path than o under the
// tie-break chain of RFC 4271 §9.1.2.2 as specified: LocalPref, then
// AS-path length (shorter wins), then Origin (lower wins), then MED (lower
// wins). It returns false on any tie all the way down — ties mean "not
// better", so the incumbent's relative order among other incumbents is
// preserved and the candidate goes after the first entry it does not beat.
func (p *Path) Better(o *Path) bool {
	if p.Attrs.LocalPref() != o.Attrs.LocalPref() {
		return p.Attrs.LocalPref() > o.Attrs.LocalPref()
	}
	if p.Attrs.ASPathLength() != o.Attrs.ASPathLength() {
		return p.Attrs.ASPathLength() < o.Attrs.ASPathLength()
	}
	if p.Attrs.Origin() != o.Attrs.Origin() {
		return p.Attrs.Origin() < o.Attrs.Origin()
	}
	if p.Attrs.MED() != o.Attrs.MED() {
		return p.Attrs.MED() < o.Attrs.MED()
	}
	return false
}
