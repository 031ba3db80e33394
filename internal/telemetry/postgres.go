package telemetry

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/zstd"
)

// PostgresSink batch-inserts RIBEvents into rib_events, deduplicating on
// (event_id, observed_at) the same way the ambient stack's history writer
// dedups BMP-sourced rows.
type PostgresSink struct {
	pool        *pgxpool.Pool
	compressRaw bool
	encoder     *zstd.Encoder
}

func NewPostgresSink(pool *pgxpool.Pool, compressRaw bool) (*PostgresSink, error) {
	s := &PostgresSink{pool: pool, compressRaw: compressRaw}
	if compressRaw {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		s.encoder = enc
	}
	return s, nil
}

func (s *PostgresSink) Name() string { return "postgres" }

const insertRIBEventSQL = `
INSERT INTO rib_events (event_id, observed_at, kind, family, prefix, peer,
	next_hop, origin, as_path_len, local_pref, med, raw)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (event_id, observed_at) DO NOTHING`

// Flush inserts the batch in one pipelined round trip via pgx.Batch,
// matching the teacher's history writer's SendBatch/tag.RowsAffected shape.
func (s *PostgresSink) Flush(ctx context.Context, events []*RIBEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, ev := range events {
		var peer, nextHop any
		if ev.Peer.IsValid() {
			peer = ev.Peer.String()
		}
		if ev.NextHop.IsValid() {
			nextHop = ev.NextHop.String()
		}
		batch.Queue(insertRIBEventSQL,
			ev.EventID, ev.ObservedAt, string(ev.Kind), ev.Family.String(), ev.Prefix, peer,
			nextHop, ev.Origin, ev.ASPathLen, ev.LocalPref, ev.MED, s.rawPayload(ev),
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting rib_event: %w", err)
		}
	}
	return nil
}

// rawPayload returns the event's JSON encoding for every row,
// zstd-compressed when compressRaw is set. There is
// no original wire-format UPDATE to retain here — this RIB stores decoded
// attributes, not the bytes that produced them — so "raw" is the fullest
// audit record this table can offer, compressed the same way the ambient
// stack's history writer compresses its raw bytes.
func (s *PostgresSink) rawPayload(ev *RIBEvent) any {
	raw := encodeRecordValue(ev)
	if s.compressRaw {
		raw = s.encoder.EncodeAll(raw, nil)
	}
	return raw
}
