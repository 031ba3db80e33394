package table

import "github.com/routecore/bgpd/internal/bgp"

// Destination holds the ordered candidate-path list for one NLRI. entry[0]
// is the current best path when best-path selection is enabled. Invariants
// (spec §3, §8): entry is never empty while the Destination is present in
// the RIB, and no two entries share the same source address.
type Destination struct {
	Net   bgp.Nlri
	entry []*Path
}

// findIndex returns the index of the entry originated by addr, or -1.
func (d *Destination) findIndex(source *Source) int {
	for i, p := range d.entry {
		if p.Source.Address == source.Address {
			return i
		}
	}
	return -1
}

// insertBest inserts p at the position determined by comparing against the
// existing entries in order, per the "first strict winner decides" rule:
// p is inserted immediately before the first existing entry it beats; if it
// beats none, it goes last.
func (d *Destination) insertBest(p *Path) {
	for i, existing := range d.entry {
		if p.Better(existing) {
			d.entry = append(d.entry, nil)
			copy(d.entry[i+1:], d.entry[i:])
			d.entry[i] = p
			return
		}
	}
	d.entry = append(d.entry, p)
}

// removeAt removes the entry at index i.
func (d *Destination) removeAt(i int) {
	d.entry = append(d.entry[:i], d.entry[i+1:]...)
}

func (d *Destination) Best() *Path {
	if len(d.entry) == 0 {
		return nil
	}
	return d.entry[0]
}

func (d *Destination) Empty() bool { return len(d.entry) == 0 }

// Entries returns the destination's ordered path list. Callers must not
// mutate the returned slice.
func (d *Destination) Entries() []*Path { return d.entry }
