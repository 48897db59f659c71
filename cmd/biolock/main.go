// Biolock Core - fingerprint lock control service
//
// This is the main entry point for Biolock Core. It owns the fingerprint
// slot numbering for a fleet of MQTT-connected locks, sends them commands,
// compensates slot claims when a lock reports failure, and serves the
// REST API and admin live feed.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/biolock-core/internal/api"
	"github.com/nerrad567/biolock-core/internal/audit"
	"github.com/nerrad567/biolock-core/internal/auth"
	"github.com/nerrad567/biolock-core/internal/command"
	"github.com/nerrad567/biolock-core/internal/device"
	"github.com/nerrad567/biolock-core/internal/infrastructure/config"
	"github.com/nerrad567/biolock-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/biolock-core/internal/infrastructure/logging"
	"github.com/nerrad567/biolock-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/biolock-core/internal/orchestrator"
	"github.com/nerrad567/biolock-core/internal/saga"
	"github.com/nerrad567/biolock-core/internal/slot"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// startupReconcileTimeout bounds the blocking sweep before the API opens.
const startupReconcileTimeout = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	seedAdmin   bool
	showVersion bool
}

func parseFlags(args []string) (options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("biolock", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", getConfigPath(), "path to config.yaml (env BIOLOCK_CONFIG)")
	flagSet.BoolVar(&opts.seedAdmin, "seed-admin", false, "create the admin account from admin.username/password and exit")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version and exit")

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return opts, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, args []string) error {
	opts, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Printf("biolock %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Biolock Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", opts.configPath)

	st, err := openStores(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := st.close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if opts.seedAdmin {
		return seedAdmin(ctx, cfg.Admin, st.users, log)
	}
	if cfg.Admin.Username != "" && cfg.Admin.Password != "" {
		if err := seedAdmin(ctx, cfg.Admin, st.users, log); err != nil {
			return err
		}
	}

	registry := device.NewRegistry(cfg.Devices.APIKeys, st.credentials)
	registry.SetLogger(log.Component("device"))
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}
	log.Info("device registry initialised", "devices", len(registry.Devices()))

	alloc := slot.NewAllocator(st.slots, st.users, slot.Config{
		MaxSlot:   cfg.Slots.MaxSlot,
		MaxProbes: cfg.Slots.MaxProbes,
	})
	alloc.SetLogger(log.Component("slot"))

	recorder := audit.NewRecorder(st.audit)
	recorder.SetLogger(log.Component("audit"))
	alloc.AddObserver(recorder)

	coordinator := saga.NewCoordinator(alloc)
	coordinator.SetLogger(log.Component("saga"))
	coordinator.AddSink(recorder)

	healthChecks := map[string]api.HealthCheckFunc{
		"database": st.healthCheck,
	}

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		metrics := influxMetrics{client: influxClient}
		alloc.AddObserver(metrics)
		coordinator.AddSink(metrics)
		healthChecks["influxdb"] = influxClient.HealthCheck
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	healthChecks["mqtt"] = mqttClient.HealthCheck
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	channel := command.NewChannel(mqttClient, registry, byte(cfg.MQTT.QoS), command.DefaultBufferSize)
	channel.SetLogger(log.Component("command"))
	if err := channel.Start(ctx); err != nil {
		return fmt.Errorf("starting command channel: %w", err)
	}
	defer func() {
		if closeErr := channel.Close(); closeErr != nil {
			log.Error("error closing command channel", "error", closeErr)
		}
	}()

	orch := orchestrator.New(alloc, channel, registry, st.users)
	orch.SetLogger(log.Component("orchestrator"))

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	alloc.AddObserver(hub)
	coordinator.AddSink(hub)

	reconcileCtx, cancelReconcile := context.WithTimeout(ctx, startupReconcileTimeout)
	report, err := alloc.Reconcile(reconcileCtx)
	cancelReconcile()
	if err != nil {
		log.Warn("startup slot reconciliation failed", "error", err)
	} else {
		log.Info("startup slot reconciliation complete", "repairs", report.Repairs())
	}

	server, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Security:     cfg.Security,
		Logger:       log.Component("api"),
		Commands:     orch,
		Users:        st.users,
		Devices:      registry,
		Slots:        alloc,
		Audit:        st.audit,
		MQTT:         mqttClient,
		HealthChecks: healthChecks,
		ExternalHub:  hub,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return coordinator.Run(gctx, channel.Inbound())
	})
	if interval := cfg.GetReconcileInterval(); interval > 0 {
		g.Go(func() error {
			// The startup sweep already ran; wait one period first.
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(interval):
			}
			return alloc.RunReconciler(gctx, interval)
		})
	}

	if err := server.Start(gctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	g.Go(func() error {
		<-gctx.Done()
		return server.Close()
	})

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil {
		return err
	}

	// Deferred Close() calls run in reverse order: command channel, MQTT,
	// InfluxDB (if enabled), database.
	log.Info("Biolock Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BIOLOCK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BIOLOCK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// seedAdmin makes sure the configured admin account exists.
func seedAdmin(ctx context.Context, cfg config.AdminConfig, users auth.UserRepository, log *logging.Logger) error {
	created, err := auth.SeedAdmin(ctx, users, cfg.Username, cfg.Password, log.Logger)
	if err != nil {
		return fmt.Errorf("seeding admin: %w", err)
	}
	if created {
		log.Info("admin account created", "username", cfg.Username)
	}
	return nil
}

// influxMetrics forwards slot lifecycle and access events to InfluxDB.
type influxMetrics struct {
	client *influxdb.Client
}

// SlotEvent implements slot.Observer.
func (m influxMetrics) SlotEvent(_ context.Context, ev slot.Event) {
	m.client.WriteSlotEvent(string(ev.Kind), ev.Slot, ev.OwnerID, ev.At)
}

// AccessEvent implements saga.EventSink.
func (m influxMetrics) AccessEvent(_ context.Context, ev saga.AccessEvent) {
	n := -1
	if ev.SlotNumber != nil {
		n = *ev.SlotNumber
	}
	m.client.WriteAccessEvent(string(ev.Kind), ev.DeviceID, ev.Status, n, ev.ReceivedAt)
}

var (
	_ slot.Observer  = influxMetrics{}
	_ saga.EventSink = influxMetrics{}
)
