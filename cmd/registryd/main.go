// Command registryd is a reference wiring of the FSM registry: it loads
// configuration, constructs whichever persistence backend the config
// selects, and brings up the optional metrics, live-debug, and tracing
// surfaces around a single Registry.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quadgate/fsmregistry/examples/order"
	"github.com/quadgate/fsmregistry/pkg/config"
	"github.com/quadgate/fsmregistry/pkg/debug"
	"github.com/quadgate/fsmregistry/pkg/fsm"
	"github.com/quadgate/fsmregistry/pkg/logging"
	"github.com/quadgate/fsmregistry/pkg/metrics"
	"github.com/quadgate/fsmregistry/pkg/recorder"
	filestore "github.com/quadgate/fsmregistry/pkg/store/file"
	sqlstore "github.com/quadgate/fsmregistry/pkg/store/sql"
	"github.com/quadgate/fsmregistry/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to registry daemon YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath, "FSMREG")
	if err != nil {
		log.Fatalf("registryd: load config: %v", err)
	}

	logger := logging.New(logging.Config{JSONOutput: cfg.LogJSON, Level: cfg.LogLevel})

	persistence, closeStore, err := buildPersistence(cfg.Store)
	if err != nil {
		logger.Errorf("registryd: build persistence: %v", err)
		os.Exit(1)
	}
	defer closeStore()

	var metricsSink fsm.MetricsSink
	if cfg.Metrics.Enabled {
		m := metrics.New(metrics.DefaultRegisterer)
		metricsSink = m
		go serveMetrics(cfg.Metrics.ListenAddr, logger)
	}

	ring := recorder.NewRing(cfg.Recorder.RingBufferSize)
	var tail fsm.Recorder = ring

	var redactor fsm.Redactor
	if len(cfg.Recorder.RedactFields) > 0 {
		redactor = recorder.NewFieldRedactor(cfg.Recorder.RedactFields...)
	}

	var shutdownTelemetry func(context.Context) error
	if cfg.Telemetry.Enabled {
		tp, err := telemetry.NewProvider(cfg.Telemetry.ServiceName, nil)
		if err != nil {
			logger.Errorf("registryd: telemetry provider: %v", err)
			os.Exit(1)
		}
		// Wrap the ring so every recorded transition opens a span, instead
		// of adding tracing as a separate fan-out recorder.
		tail = telemetry.NewRecorder(tp, ring)
		shutdownTelemetry = tp.Shutdown
	}
	recorders := []fsm.Recorder{tail}

	reg := fsm.NewRegistry(fsm.RegistryConfig{
		InboxCapacity: cfg.InboxCapacity,
		Persistence:   persistence,
		Recorders:     recorders,
		Redactor:      redactor,
		Metrics:       metricsSink,
		Logger:        logger,
	})

	orderFactory, err := order.NewFactory()
	if err != nil {
		logger.Errorf("registryd: build order factory: %v", err)
		os.Exit(1)
	}
	reg.RegisterFactory(orderFactory)

	if cfg.Debug.SnapshotEnabled {
		reg.EnableSnapshotDebug()
	}

	var debugServer *debug.Server
	if cfg.Debug.LiveEnabled {
		debugServer = buildDebugServer(reg, cfg.Debug, logger)
		reg.EnableLiveDebug(debugServer)
		go serveDebug(cfg.Debug.ListenAddr, debugServer, logger)
	}

	logger.Infof("registryd: started with store driver %q", cfg.Store.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Infof("registryd: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()

	if err := reg.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("registryd: registry shutdown: %v", err)
	}
	if shutdownTelemetry != nil {
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Errorf("registryd: telemetry shutdown: %v", err)
		}
	}
}

func buildPersistence(sc config.StoreConfig) (fsm.PersistencePort, func(), error) {
	noop := func() {}
	switch sc.Driver {
	case "", "memory":
		return fsm.NewMemoryPersistence(), noop, nil

	case "file":
		dir := sc.Dir
		if dir == "" {
			dir = "./registry-data"
		}
		store, err := filestore.NewStore(dir, unmarshalEntity)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil

	case "sqlite", "postgres", "pgx":
		driver := sc.Driver
		if driver == "sqlite" {
			driver = "sqlite3"
		}
		pool, err := sqlstore.NewPool(sqlstore.PoolConfig{
			DriverName:      driver,
			DSN:             sc.DSN,
			MaxOpenConns:    sc.MaxOpenConns,
			MaxIdleConns:    sc.MaxIdleConns,
			ConnMaxLifetime: sc.ConnMaxLife,
		})
		if err != nil {
			return nil, noop, err
		}
		store := sqlstore.NewStore(pool, unmarshalEntity)
		if err := store.EnsureSchema(context.Background()); err != nil {
			pool.Close()
			return nil, noop, err
		}
		return store, func() { pool.Close() }, nil

	default:
		return nil, noop, fmt.Errorf("registryd: unknown store driver %q", sc.Driver)
	}
}

// unmarshalEntity dispatches persisted JSON back to a concrete entity type
// by machine type. Every registered Factory needs an entry here; this
// reference binary only wires the order-processing example.
func unmarshalEntity(machineType string, data []byte) (fsm.PersistentEntity, error) {
	switch machineType {
	case order.MachineType:
		f, err := order.NewFactory()
		if err != nil {
			return nil, err
		}
		return f.UnmarshalEntity(data)
	default:
		return nil, fmt.Errorf("registryd: no entity unmarshaler for machine type %q", machineType)
	}
}

func buildDebugServer(reg *fsm.Registry, dc config.DebugConfig, logger logging.Logger) *debug.Server {
	var issuer *debug.TokenIssuer
	if dc.SharedSecret != "" {
		hash, err := debug.HashSecret(dc.SharedSecret)
		if err != nil {
			logger.Errorf("registryd: hash debug shared secret: %v", err)
		} else {
			issuer = debug.NewTokenIssuer(debug.AuthConfig{
				SharedSecretHash: hash,
				SigningKey:       []byte(dc.SharedSecret),
			})
		}
	}

	lookup := func(id fsm.MachineID) (fsm.StateName, []debug.EventMetadata, bool) {
		for _, snap := range reg.Snapshot() {
			if snap.ID == id {
				return snap.State, nil, true
			}
		}
		return "", nil, false
	}
	sender := func(id fsm.MachineID, ev fsm.Event) error {
		return fmt.Errorf("registryd: direct dispatch requires a known machine type, use the machine_id query filter instead")
	}

	return debug.NewServer(issuer, lookup, sender, logger)
}

func serveMetrics(addr string, logger logging.Logger) {
	if addr == "" {
		addr = ":9090"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.DefaultRegistry, promhttp.HandlerOpts{}))
	logger.Infof("registryd: metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Errorf("registryd: metrics server: %v", err)
	}
}

func serveDebug(addr string, server *debug.Server, logger logging.Logger) {
	if addr == "" {
		addr = ":9091"
	}
	logger.Infof("registryd: live-debug listening on %s", addr)
	if err := http.ListenAndServe(addr, server.Handler()); err != nil && err != http.ErrServerClosed {
		logger.Errorf("registryd: debug server: %v", err)
	}
}
