// Package telemetry is the audit fan-out sink: it subscribes to the same
// TableUpdate stream package table broadcasts to peers and republishes
// every RIB change to Kafka and Postgres for offline analysis. It never
// feeds anything back into the RIB — a failure here is isolated from BGP
// session handling entirely.
package telemetry

import (
	"context"
	"crypto/sha256"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/routecore/bgpd/internal/bgp"
	"github.com/routecore/bgpd/internal/metrics"
	"github.com/routecore/bgpd/internal/table"
)

// EventKind mirrors table.UpdateKind for the audit record.
type EventKind string

const (
	EventAnnounce EventKind = "announce"
	EventWithdraw EventKind = "withdraw"
)

// RIBEvent is one audit record: a flattened, JSON/SQL-friendly view of a
// table.TableUpdate, stamped with when the collector observed it.
type RIBEvent struct {
	EventID    []byte
	Kind       EventKind
	Family     bgp.Family
	Prefix     string
	Peer       netip.Addr
	NextHop    netip.Addr
	Origin     uint8
	ASPathLen  int
	LocalPref  uint32
	MED        uint32
	ObservedAt time.Time
}

// eventID derives a stable dedup key from the fields that define "the same
// event": family, prefix, kind and the second the collector observed it.
// observed_at, the other half of the rib_events key, is stored at full
// precision, so ON CONFLICT DO NOTHING on (event_id, observed_at) only skips
// a row whose id and timestamp both match one already stored; two
// collectors observing the same change at different instants both insert.
func eventID(family bgp.Family, prefix string, kind EventKind, observedAt time.Time) []byte {
	h := sha256.New()
	h.Write([]byte(family.String()))
	h.Write([]byte{0})
	h.Write([]byte(prefix))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(observedAt.UTC().Format(time.RFC3339)))
	return h.Sum(nil)
}

// Sink is anything a batch of RIBEvents can be flushed to.
type Sink interface {
	Flush(ctx context.Context, events []*RIBEvent) error
	Name() string
}

// Collector owns the bounded, lossy internal channel and the batching
// consumer loop. ChannelBufferSize bounds how many events can be queued;
// once it is full, further events are dropped and counted on
// TelemetryDroppedTotal — this is the one channel in the daemon allowed to
// lose data under load.
type Collector struct {
	sender        *table.UpdateSender
	rib           *table.Table
	sinks         []Sink
	batchSize     int
	flushInterval time.Duration
	log           *zap.Logger

	events chan *RIBEvent
}

// NewCollector subscribes to rib's broadcast stream. Call Run in its own
// goroutine, and Close on shutdown to unsubscribe and stop the consumer.
func NewCollector(rib *table.Table, sinks []Sink, batchSize int, flushInterval time.Duration, bufferSize int, log *zap.Logger) *Collector {
	return &Collector{
		sender:        rib.Subscribe(),
		rib:           rib,
		sinks:         sinks,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		log:           log,
		events:        make(chan *RIBEvent, bufferSize),
	}
}

// Close unsubscribes from the RIB. Run's consumer loop exits once the
// underlying UpdateSender's channel closes.
func (c *Collector) Close() {
	c.rib.Unsubscribe(c.sender)
}

// feed translates every broadcast TableUpdate into a RIBEvent and makes a
// non-blocking best-effort send into the bounded channel. Call this in its
// own goroutine; it returns when the subscription is closed, closing the
// events channel behind it.
func (c *Collector) feed() {
	defer close(c.events)
	for u := range c.sender.C() {
		ev := fromUpdate(u)
		select {
		case c.events <- ev:
		default:
			metrics.TelemetryDroppedTotal.WithLabelValues("channel_full").Inc()
		}
	}
}

func fromUpdate(u *table.TableUpdate) *RIBEvent {
	now := time.Now()
	kind := EventAnnounce
	if u.Kind == table.Withdrawn {
		kind = EventWithdraw
	}
	ev := &RIBEvent{
		Kind:       kind,
		Family:     u.Family,
		Prefix:     u.Nlri.String(),
		ObservedAt: now,
	}
	if u.Best != nil {
		ev.Peer = u.Best.Source.Address
		ev.NextHop = u.Best.NextHop
		ev.Origin = u.Best.Attrs.Origin()
		ev.ASPathLen = u.Best.Attrs.ASPathLength()
		ev.LocalPref = u.Best.Attrs.LocalPref()
		ev.MED = u.Best.Attrs.MED()
	}
	ev.EventID = eventID(ev.Family, ev.Prefix, ev.Kind, ev.ObservedAt)
	return ev
}

// Run batches events by size or by flushInterval, whichever comes first,
// and flushes each batch to every configured sink. It returns once the
// channel is drained and closed (after Close unsubscribes the collector).
func (c *Collector) Run(ctx context.Context) {
	go c.feed()

	var batch []*RIBEvent
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.flushTo(ctx, batch)
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case ev, ok := <-c.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= c.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (c *Collector) flushTo(ctx context.Context, batch []*RIBEvent) {
	for _, sink := range c.sinks {
		start := time.Now()
		if err := sink.Flush(ctx, batch); err != nil {
			metrics.TelemetryErrorsTotal.WithLabelValues(sink.Name()).Inc()
			c.log.Warn("telemetry sink flush failed", zap.String("sink", sink.Name()), zap.Error(err))
			continue
		}
		metrics.TelemetryBatchSize.WithLabelValues(sink.Name()).Observe(float64(len(batch)))
		metrics.TelemetryWriteDuration.WithLabelValues(sink.Name()).Observe(time.Since(start).Seconds())
	}
}
