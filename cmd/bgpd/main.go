// Command bgpd runs the BGP-4 speaker daemon: the connection orchestrator,
// one session task per peer, the in-process control API, its read-only
// HTTP mirror, and (when enabled) the Kafka/Postgres telemetry fan-out.
package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/routecore/bgpd/internal/config"
	"github.com/routecore/bgpd/internal/controlapi"
	"github.com/routecore/bgpd/internal/db"
	"github.com/routecore/bgpd/internal/global"
	"github.com/routecore/bgpd/internal/httpapi"
	"github.com/routecore/bgpd/internal/maintenance"
	"github.com/routecore/bgpd/internal/metrics"
	"github.com/routecore/bgpd/internal/orchestrator"
	"github.com/routecore/bgpd/internal/table"
	"github.com/routecore/bgpd/internal/telemetry"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "migrate":
		runMigrate()
	case "maintenance":
		runMaintenance()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: bgpd <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve         Run the BGP speaker")
	fmt.Println("  migrate       Apply audit-table schema migrations")
	fmt.Println("  maintenance   Run partition maintenance (create new, drop old)")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>     Path to configuration YAML file")
	fmt.Println("  --log-level <lvl>   Override log level (debug, info, warn, error)")
	fmt.Println("  --as-number <u32>   Initial local AS number")
	fmt.Println("  --router-id <ipv4>  Initial router ID")
	fmt.Println("  --disable-best      Collector mode: no best-path selection, no broadcast")
	fmt.Println("  --any-peers         Bootstrap an \"any\" peer group accepting 0.0.0.0/0")
}

type flags struct {
	configPath  string
	logLevel    string
	asNumber    uint32
	routerID    string
	disableBest bool
	anyPeers    bool
}

func parseFlags(args []string) flags {
	var f flags
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				f.configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				f.logLevel = args[i+1]
				i++
			}
		case "--as-number":
			if i+1 < len(args) {
				var n uint64
				fmt.Sscanf(args[i+1], "%d", &n)
				f.asNumber = uint32(n)
				i++
			}
		case "--router-id":
			if i+1 < len(args) {
				f.routerID = args[i+1]
				i++
			}
		case "--disable-best":
			f.disableBest = true
		case "--any-peers":
			f.anyPeers = true
		}
	}
	return f
}

func loadConfig(args []string) (*config.Config, flags, *zap.Logger) {
	f := parseFlags(args)

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if f.logLevel != "" {
		cfg.Service.LogLevel = f.logLevel
	}
	if f.disableBest {
		cfg.BGP.DisableBestPathSelection = true
	}
	if f.anyPeers {
		cfg.BGP.AnyPeers = true
	}
	if f.asNumber != 0 {
		cfg.BGP.ASNumber = f.asNumber
	}
	if f.routerID != "" {
		cfg.BGP.RouterID = f.routerID
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, f, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func migrationsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

type poolPinger struct{ pool *pgxpool.Pool }

func (p poolPinger) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.pool.Ping(ctx)
}

// startTelemetry brings up the Postgres pool, ensures today's/tomorrow's
// partitions exist, starts a daily maintenance timer, builds the Kafka and
// Postgres sinks, and launches the batching collector. Returns the pool
// (for the readiness check and final Close) and the collector (for
// shutdown). Any setup failure is fatal: telemetry was explicitly enabled,
// so a broken sink is a misconfiguration, not a degraded-mode condition.
func startTelemetry(ctx context.Context, cfg *config.Config, rib *table.Table, logger *zap.Logger) (*pgxpool.Pool, *telemetry.Collector) {
	tc := cfg.Telemetry

	pool, err := db.NewPool(ctx, tc.Postgres.DSN, tc.Postgres.MaxConns, tc.Postgres.MinConns)
	if err != nil {
		logger.Fatal("telemetry: failed to connect to database", zap.Error(err))
	}

	pm := maintenance.NewPartitionManager(pool, tc.RetentionDays, "UTC", logger.Named("maintenance"))
	if err := pm.CreatePartitions(ctx); err != nil {
		logger.Fatal("telemetry: failed to create partitions on startup", zap.Error(err))
	}
	go dailyMaintenance(ctx, pm, logger)

	tlsCfg, err := tc.Kafka.BuildTLSConfig()
	if err != nil {
		logger.Fatal("telemetry: failed to build kafka TLS config", zap.Error(err))
	}
	saslMech := tc.Kafka.BuildSASLMechanism()

	kafkaSink, err := telemetry.NewKafkaSink(tc.Kafka.Brokers, tc.Kafka.ClientID, tc.Kafka.Topic, tlsCfg, saslMech)
	if err != nil {
		logger.Fatal("telemetry: failed to create kafka producer", zap.Error(err))
	}

	pgSink, err := telemetry.NewPostgresSink(pool, tc.StoreRawUpdateCompress)
	if err != nil {
		logger.Fatal("telemetry: failed to create postgres sink", zap.Error(err))
	}

	collector := telemetry.NewCollector(rib, []telemetry.Sink{kafkaSink, pgSink},
		tc.BatchSize, time.Duration(tc.FlushIntervalMs)*time.Millisecond, tc.ChannelBufferSize,
		logger.Named("telemetry"))
	go collector.Run(ctx)

	logger.Info("telemetry enabled", zap.String("kafka_topic", tc.Kafka.Topic))
	return pool, collector
}

func dailyMaintenance(ctx context.Context, pm *maintenance.PartitionManager, logger *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pm.Run(ctx); err != nil {
				logger.Error("daily partition maintenance failed", zap.Error(err))
			}
		}
	}
}

func runServe() {
	cfg, _, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting bgpd",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("http_listen", cfg.Service.HTTPListen),
		zap.String("bgp_listen", cfg.BGP.ListenAddr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := global.New()
	barrier := global.NewStartBarrier()
	rib := table.New(cfg.BGP.ASNumber, cfg.BGP.DisableBestPathSelection)
	control := controlapi.New(g, rib, barrier, logger.Named("controlapi"))

	if cfg.BGP.ASNumber != 0 {
		var routerID netip.Addr
		if cfg.BGP.RouterID != "" {
			routerID = netip.MustParseAddr(cfg.BGP.RouterID)
		}
		if err := control.StartBGP(cfg.BGP.ASNumber, routerID); err != nil {
			logger.Fatal("start_bgp from CLI/config failed", zap.Error(err))
		}
	}

	for _, pg := range cfg.BGP.PeerGroups {
		if err := control.AddPeerGroup(pg.Name, pg.ASNumber); err != nil {
			logger.Fatal("add_peer_group failed", zap.String("group", pg.Name), zap.Error(err))
		}
		for _, prefixStr := range pg.DynamicPeers {
			prefix := netip.MustParsePrefix(prefixStr)
			if err := control.AddDynamicNeighbor(prefix, pg.Name); err != nil {
				logger.Fatal("add_dynamic_neighbor failed", zap.String("group", pg.Name), zap.Error(err))
			}
		}
	}
	if cfg.BGP.AnyPeers {
		if err := control.AddPeerGroup("any", 0); err != nil {
			logger.Fatal("failed to bootstrap any-peers group", zap.Error(err))
		}
		if err := control.AddDynamicNeighbor(netip.MustParsePrefix("0.0.0.0/0"), "any"); err != nil {
			logger.Fatal("failed to bootstrap any-peers prefix", zap.Error(err))
		}
	}
	for _, p := range cfg.BGP.Peers {
		spec := controlapi.PeerSpec{
			Address:  netip.MustParseAddr(p.Address),
			RemoteAS: p.RemoteAS,
			Passive:  p.Passive,
			HoldTime: p.HoldTime,
		}
		if err := control.AddPeer(spec); err != nil {
			logger.Fatal("add_peer failed", zap.String("address", p.Address), zap.Error(err))
		}
	}

	orch := orchestrator.New(cfg.BGP.ListenAddr, g, rib, barrier, logger.Named("orchestrator"))
	go func() {
		if err := orch.Run(); err != nil {
			logger.Error("orchestrator stopped", zap.Error(err))
		}
	}()

	var pool *pgxpool.Pool
	var collector *telemetry.Collector
	if cfg.Telemetry.Enabled {
		pool, collector = startTelemetry(ctx, cfg, rib, logger)
	}

	var dbChecker httpapi.DBChecker
	if pool != nil {
		dbChecker = poolPinger{pool: pool}
	}
	httpSrv := httpapi.NewServer(cfg.Service.HTTPListen, control, dbChecker, logger.Named("httpapi"))
	if err := httpSrv.Start(); err != nil {
		logger.Fatal("failed to start http api", zap.Error(err))
	}

	logger.Info("bgpd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http api shutdown error", zap.Error(err))
	}
	cancel()
	if collector != nil {
		collector.Close()
	}
	if pool != nil {
		pool.Close()
	}

	logger.Info("bgpd stopped")
}

func runMigrate() {
	cfg, _, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	if !cfg.Telemetry.Enabled {
		logger.Info("telemetry disabled, nothing to migrate")
		return
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Telemetry.Postgres.DSN, cfg.Telemetry.Postgres.MaxConns, cfg.Telemetry.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrationsDir(), logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	logger.Info("migrations complete")
}

func runMaintenance() {
	cfg, _, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	if !cfg.Telemetry.Enabled {
		logger.Info("telemetry disabled, nothing to maintain")
		return
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Telemetry.Postgres.DSN, cfg.Telemetry.Postgres.MaxConns, cfg.Telemetry.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	pm := maintenance.NewPartitionManager(pool, cfg.Telemetry.RetentionDays, "UTC", logger)
	if err := pm.Run(ctx); err != nil {
		logger.Fatal("maintenance failed", zap.Error(err))
	}
	logger.Info("partition maintenance complete")
}
