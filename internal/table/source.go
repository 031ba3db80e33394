// Package table implements the shared RIB: family-partitioned destinations,
// best-path selection, and per-peer fan-out of incremental updates.
package table

import (
	"net/netip"
)

// Source identifies the origin of a Path. Two sentinel shapes exist: the
// local (self-originated) source, whose Address is the zero netip.Addr, and
// one per active peer session. Shared by reference among every Path that
// originated from the same session or local origination call.
type Source struct {
	Address  netip.Addr
	IBGP     bool
	LocalAS  uint32
	LocalAddr netip.Addr
}

// LocalSource is the sentinel source for control-API-originated paths
// (add_path). It carries no peer address and is never ibgp for fan-out
// purposes — split horizon never suppresses local originations.
func LocalSource(localAS uint32) *Source {
	return &Source{LocalAS: localAS}
}

func (s *Source) IsLocal() bool {
	return !s.Address.IsValid()
}
