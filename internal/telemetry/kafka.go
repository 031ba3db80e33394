package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
)

// KafkaSink publishes batches of RIBEvents as Kafka records, keyed by
// "family|prefix" so a downstream consumer partitioned on key sees every
// change to a given destination in order.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

func NewKafkaSink(brokers []string, clientID, topic string, tlsCfg *tls.Config, saslMech sasl.Mechanism) (*KafkaSink, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(topic),
	}
	if tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	if saslMech != nil {
		opts = append(opts, kgo.SASL(saslMech))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

func (k *KafkaSink) Name() string { return "kafka" }

// Flush publishes every event as its own record and waits for the whole
// batch to be acknowledged, surfacing the first error (if any).
func (k *KafkaSink) Flush(ctx context.Context, events []*RIBEvent) error {
	records := make([]*kgo.Record, 0, len(events))
	for _, ev := range events {
		records = append(records, &kgo.Record{
			Topic: k.topic,
			Key:   []byte(fmt.Sprintf("%s|%s", ev.Family, ev.Prefix)),
			Value: encodeRecordValue(ev),
		})
	}
	results := k.client.ProduceSync(ctx, records...)
	return results.FirstErr()
}

func (k *KafkaSink) Close() { k.client.Close() }

func encodeRecordValue(ev *RIBEvent) []byte {
	return fmt.Appendf(nil, `{"kind":%q,"family":%q,"prefix":%q,"peer":%q,"next_hop":%q,"origin":%d,"as_path_len":%d,"local_pref":%d,"med":%d,"observed_at":%q}`,
		ev.Kind, ev.Family, ev.Prefix, ev.Peer, ev.NextHop, ev.Origin, ev.ASPathLen, ev.LocalPref, ev.MED, ev.ObservedAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"))
}
