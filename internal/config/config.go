// Package config loads bgpd's YAML configuration file and validates it.
// Unlike the ambient stack this was adapted from, no environment-variable
// overlay is wired: config is file + CLI flags only.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

type Config struct {
	Service   ServiceConfig   `koanf:"service"`
	BGP       BGPConfig       `koanf:"bgp"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

// PeerConfig is one statically-configured neighbor.
type PeerConfig struct {
	Address  string `koanf:"address"`
	RemoteAS uint32 `koanf:"remote_as"`
	Passive  bool   `koanf:"passive"`
	HoldTime uint16 `koanf:"hold_time"`
}

// PeerGroupConfig is one dynamic-neighbor group.
type PeerGroupConfig struct {
	Name         string   `koanf:"name"`
	ASNumber     uint32   `koanf:"as_number"`
	DynamicPeers []string `koanf:"dynamic_peers"`
}

type BGPConfig struct {
	ASNumber                 uint32            `koanf:"as_number"`
	RouterID                 string            `koanf:"router_id"`
	ListenAddr               string            `koanf:"listen_addr"`
	DisableBestPathSelection bool              `koanf:"disable_best_path_selection"`
	AnyPeers                 bool              `koanf:"any_peers"`
	Peers                    []PeerConfig      `koanf:"peers"`
	PeerGroups               []PeerGroupConfig `koanf:"peer_groups"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

type KafkaConfig struct {
	Brokers  []string   `koanf:"brokers"`
	ClientID string     `koanf:"client_id"`
	Topic    string     `koanf:"topic"`
	TLS      TLSConfig  `koanf:"tls"`
	SASL     SASLConfig `koanf:"sasl"`
}

type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
}

type TelemetryConfig struct {
	Enabled                bool           `koanf:"enabled"`
	Kafka                  KafkaConfig    `koanf:"kafka"`
	Postgres               PostgresConfig `koanf:"postgres"`
	BatchSize              int            `koanf:"batch_size"`
	FlushIntervalMs        int            `koanf:"flush_interval_ms"`
	ChannelBufferSize      int            `koanf:"channel_buffer_size"`
	RetentionDays          int            `koanf:"retention_days"`
	StoreRawUpdateCompress bool           `koanf:"store_raw_update_compress"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID:             "bgpd-1",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		BGP: BGPConfig{
			ListenAddr: "[::]:179",
		},
		Telemetry: TelemetryConfig{
			Kafka: KafkaConfig{
				ClientID: "bgpd",
				Topic:    "rib-events",
			},
			Postgres: PostgresConfig{
				MaxConns: 10,
				MinConns: 1,
			},
			BatchSize:         500,
			FlushIntervalMs:   200,
			ChannelBufferSize: 4096,
			RetentionDays:     30,
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.BGP.RouterID != "" {
		if _, err := netip.ParseAddr(c.BGP.RouterID); err != nil {
			return fmt.Errorf("config: bgp.router_id is invalid: %w", err)
		}
	}
	if c.BGP.ListenAddr == "" {
		return fmt.Errorf("config: bgp.listen_addr is required")
	}
	for _, p := range c.BGP.Peers {
		if _, err := netip.ParseAddr(p.Address); err != nil {
			return fmt.Errorf("config: bgp.peers: invalid address %q: %w", p.Address, err)
		}
	}
	for _, g := range c.BGP.PeerGroups {
		if g.Name == "" {
			return fmt.Errorf("config: bgp.peer_groups: name is required")
		}
		for _, prefix := range g.DynamicPeers {
			if _, err := netip.ParsePrefix(prefix); err != nil {
				return fmt.Errorf("config: bgp.peer_groups[%s]: invalid dynamic_peers prefix %q: %w", g.Name, prefix, err)
			}
		}
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}

	if !c.Telemetry.Enabled {
		return nil
	}
	if len(c.Telemetry.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: telemetry.kafka.brokers is required when telemetry.enabled")
	}
	if c.Telemetry.Kafka.Topic == "" {
		return fmt.Errorf("config: telemetry.kafka.topic is required when telemetry.enabled")
	}
	if c.Telemetry.Postgres.DSN == "" {
		return fmt.Errorf("config: telemetry.postgres.dsn is required when telemetry.enabled")
	}
	if c.Telemetry.BatchSize <= 0 {
		return fmt.Errorf("config: telemetry.batch_size must be > 0 (got %d)", c.Telemetry.BatchSize)
	}
	if c.Telemetry.FlushIntervalMs <= 0 {
		return fmt.Errorf("config: telemetry.flush_interval_ms must be > 0 (got %d)", c.Telemetry.FlushIntervalMs)
	}
	if c.Telemetry.ChannelBufferSize <= 0 {
		return fmt.Errorf("config: telemetry.channel_buffer_size must be > 0 (got %d)", c.Telemetry.ChannelBufferSize)
	}
	if c.Telemetry.RetentionDays <= 0 {
		return fmt.Errorf("config: telemetry.retention_days must be > 0 (got %d)", c.Telemetry.RetentionDays)
	}
	if c.Telemetry.Postgres.MaxConns <= 0 {
		return fmt.Errorf("config: telemetry.postgres.max_conns must be > 0 (got %d)", c.Telemetry.Postgres.MaxConns)
	}
	if c.Telemetry.Postgres.MinConns < 0 {
		return fmt.Errorf("config: telemetry.postgres.min_conns must be >= 0 (got %d)", c.Telemetry.Postgres.MinConns)
	}
	return nil
}

// BuildTLSConfig creates a *tls.Config from the Kafka TLS settings. Returns nil if TLS is disabled.
func (k *KafkaConfig) BuildTLSConfig() (*tls.Config, error) {
	if !k.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if k.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(k.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if k.TLS.CertFile != "" && k.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(k.TLS.CertFile, k.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the Kafka SASL settings. Returns nil if SASL is disabled.
func (k *KafkaConfig) BuildSASLMechanism() sasl.Mechanism {
	if !k.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(k.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: k.SASL.Username, Pass: k.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}
