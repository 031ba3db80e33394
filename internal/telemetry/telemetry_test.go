package telemetry

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/routecore/bgpd/internal/bgp"
	"github.com/routecore/bgpd/internal/table"
)

type fakeSink struct {
	mu      sync.Mutex
	name    string
	batches [][]*RIBEvent
	err     error
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Flush(_ context.Context, events []*RIBEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := make([]*RIBEvent, len(events))
	copy(cp, events)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func attrs(lp uint32) *bgp.PathAttr {
	return bgp.NewPathAttr([]bgp.Attribute{
		bgp.OriginAttr{Value: bgp.OriginIGP},
		bgp.ASPathAttr{},
		bgp.LocalPrefAttr{Value: lp},
	})
}

func prefix(s string) bgp.Nlri {
	p := netip.MustParsePrefix(s)
	return bgp.Nlri{IP: bgp.IPNet{Addr: p.Addr(), PrefixLen: p.Bits()}}
}

func TestCollectorBatchesBySize(t *testing.T) {
	rib := table.New(65000, false)
	sink := &fakeSink{name: "fake"}
	c := NewCollector(rib, []Sink{sink}, 2, time.Hour, 16, zap.NewNop())
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	src := &table.Source{Address: netip.MustParseAddr("192.0.2.1")}
	for i := 0; i < 3; i++ {
		nlri := prefix("10.0.0.0/24")
		if i > 0 {
			nlri = prefix("10.0.1.0/24")
		}
		u, _ := rib.Insert(bgp.FamilyIPv4Unicast, nlri, src, netip.MustParseAddr("192.0.2.1"), attrs(100))
		if u != nil {
			rib.Broadcast(src, u)
		}
	}

	deadline := time.After(2 * time.Second)
	for sink.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for batched flush, got %d events", sink.count())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestCollectorDropsOnChannelOverflow(t *testing.T) {
	rib := table.New(65000, false)
	sink := &fakeSink{name: "fake"}
	c := NewCollector(rib, []Sink{sink}, 1000, time.Hour, 1, zap.NewNop())
	defer c.Close()

	// No consumer running: feed directly and verify the second send doesn't
	// block forever because the channel (capacity 1) is already full.
	go c.feed()

	src := &table.Source{Address: netip.MustParseAddr("192.0.2.1")}
	u1, _ := rib.Insert(bgp.FamilyIPv4Unicast, prefix("10.0.0.0/24"), src, netip.MustParseAddr("192.0.2.1"), attrs(100))
	u2, _ := rib.Insert(bgp.FamilyIPv4Unicast, prefix("10.0.1.0/24"), src, netip.MustParseAddr("192.0.2.1"), attrs(100))

	done := make(chan struct{})
	go func() {
		rib.Broadcast(src, u1)
		rib.Broadcast(src, u2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked: telemetry channel overflow must drop, not back-pressure the RIB")
	}
}

func TestEventIDDeterministicWithinSameSecond(t *testing.T) {
	now := time.Now()
	a := eventID(bgp.FamilyIPv4Unicast, "10.0.0.0/24", EventAnnounce, now)
	b := eventID(bgp.FamilyIPv4Unicast, "10.0.0.0/24", EventAnnounce, now)
	if string(a) != string(b) {
		t.Fatal("expected identical inputs to produce identical event ids")
	}

	c := eventID(bgp.FamilyIPv4Unicast, "10.0.0.0/24", EventWithdraw, now)
	if string(a) == string(c) {
		t.Fatal("expected different kind to change event id")
	}
}
