// Gray Logic Node - provisioning and telemetry agent for field nodes
//
// This is the main entry point for the Gray Logic Node agent. A node:
//   - boots into Setup (access point + captive portal) until it has link
//     credentials
//   - joins the configured network and runs the dashboard, broker session
//     and telemetry once provisioned
//   - rebuilds itself in-process whenever a restart is requested
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-node/migrations"

	"github.com/nerrad567/gray-logic-node/internal/api"
	"github.com/nerrad567/gray-logic-node/internal/console"
	"github.com/nerrad567/gray-logic-node/internal/discovery"
	"github.com/nerrad567/gray-logic-node/internal/indicator"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/link"
	"github.com/nerrad567/gray-logic-node/internal/node"
	"github.com/nerrad567/gray-logic-node/internal/settings"
	"github.com/nerrad567/gray-logic-node/internal/telemetry"
	"github.com/nerrad567/gray-logic-node/internal/timesync"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// bootRetryDelay spaces attempts when Setup cannot bring the access
	// point up.
	bootRetryDelay = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// agent holds what survives a node restart: the store, the radio driver,
// the sinks and the operator channels. Everything in node.Node is rebuilt.
type agent struct {
	cfg     *config.Config
	log     *logging.Logger
	store   *settings.SQLiteStore
	driver  link.Driver
	sampler telemetry.Sampler
	sink    telemetry.Sink
	hub     *api.Hub
	syncer  *timesync.Syncer
	adv     *discovery.Advertiser
	led     *indicator.Indicator
	console *console.Console
	started time.Time

	// current is the node of the running cycle, nil between cycles.
	current atomic.Pointer[node.Node]
}

// run is the actual application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Node",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if version != "dev" {
		cfg.Node.Version = version
	}

	log = logging.New(cfg.Logging, cfg.Node.Version)
	log.Info("configuration loaded", "path", configPath, "link_driver", cfg.Link.Driver)

	db, err := database.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		log.Info("closing store")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing store", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("store ready", "path", db.Path())

	defaults := settings.Defaults()
	if cfg.Node.DefaultDeviceID != "" {
		defaults.DeviceID = cfg.Node.DefaultDeviceID
	}

	a := &agent{
		cfg:     cfg,
		log:     log,
		store:   settings.NewSQLiteStore(db.DB, defaults, log),
		driver:  newDriver(cfg, log),
		sampler: telemetry.NewSimulatedSampler(cfg.Telemetry.Seed),
		hub:     api.NewHub(cfg.WebSocket, log),
		syncer:  timesync.New(cfg.TimeSync, log),
		adv:     discovery.NewAdvertiser(cfg.MDNS, cfg.Link.Interface, log),
		started: time.Now(),
	}
	go a.hub.Run(ctx)

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			// Readings still reach the broker; the sink is optional.
			log.Warn("InfluxDB unavailable, continuing without it", "error", err)
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			a.sink = influxClient
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if cfg.GPIO.Chip != "" {
		a.led, err = indicator.Open(cfg.GPIO, a.factoryReset, log)
		if err != nil {
			log.Warn("status LED unavailable", "error", err)
		} else {
			defer a.led.Close() //nolint:errcheck // best-effort on shutdown
		}
	}

	if cfg.Console.Enabled {
		a.console, err = console.Open(cfg.Console, log)
		if err != nil {
			log.Warn("operator console unavailable", "error", err)
		} else {
			defer a.console.Close() //nolint:errcheck // best-effort on shutdown
			go a.serveConsole(ctx)
		}
	}

	err = a.supervise(ctx)
	log.Info("Gray Logic Node stopped")
	return err
}

// supervise runs node cycles until ctx ends. A cycle ends with a restart
// request, with a boot failure (retried after bootRetryDelay) or with
// shutdown.
func (a *agent) supervise(ctx context.Context) error {
	for cycle := 1; ; cycle++ {
		err := a.runCycle(ctx, cycle)
		switch {
		case err == nil || ctx.Err() != nil:
			return nil
		case errors.Is(err, node.ErrRestart):
			a.log.Info("restarting node", "cycle", cycle)
		default:
			a.log.Error("node cycle failed, retrying", "error", err, "retry_in", bootRetryDelay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(bootRetryDelay):
			}
		}
	}
}

func (a *agent) runCycle(ctx context.Context, cycle int) error {
	n := node.New(a.nodeOptions(), a.log)
	defer func() {
		a.current.Store(nil)
		if err := n.Close(); err != nil {
			a.log.Warn("closing node", "error", err)
		}
	}()

	if err := n.Boot(ctx); err != nil {
		return fmt.Errorf("booting node: %w", err)
	}

	srv, err := api.New(api.Deps{
		Config:        a.cfg.HTTP,
		WS:            a.cfg.WebSocket,
		Logger:        a.log,
		Node:          n,
		PortalAddress: a.cfg.Link.AccessPoint.Address,
		Hub:           a.hub,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting http server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			a.log.Warn("closing http server", "error", err)
		}
	}()

	a.current.Store(n)
	a.log.Info("node cycle running", "cycle", cycle, "mode", n.Mode().String())
	return n.Run(ctx)
}

func (a *agent) nodeOptions() node.Options {
	opts := node.Options{
		Config:     a.cfg,
		Store:      a.store,
		Driver:     a.driver,
		Sampler:    a.sampler,
		Diag:       os.Stdout,
		Sink:       a.sink,
		Hub:        a.hub,
		TimeSource: a.syncer,
		Advertiser: a.adv,
		Started:    a.started,
	}
	if a.console != nil {
		opts.Diag = a.console.Writer()
	}
	// Optional collaborators stay nil interfaces when absent.
	if a.led != nil {
		opts.Indicator = a.led
	}
	return opts
}

// serveConsole hands console lines to whichever node is current.
func (a *agent) serveConsole(ctx context.Context) {
	err := a.console.Run(ctx, func(ctx context.Context, line string) string {
		n := a.current.Load()
		if n == nil {
			return "node restarting, try again"
		}
		return n.ExecuteLine(ctx, line).Message
	})
	if err != nil {
		a.log.Warn("console stopped", "error", err)
	}
}

// factoryReset runs on the GPIO event goroutine when the reset button
// has been held long enough.
func (a *agent) factoryReset() {
	n := a.current.Load()
	if n == nil {
		return
	}
	a.log.Warn("reset button held, clearing settings")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.FactoryReset(ctx); err != nil {
			a.log.Error("factory reset failed", "error", err)
		}
	}()
}

func newDriver(cfg *config.Config, log *logging.Logger) link.Driver {
	if cfg.Link.Driver != "sim" {
		return link.NewNMDriver(cfg.Link, log)
	}

	nets := make([]link.SimNetwork, 0, len(cfg.Link.Simulated))
	for _, s := range cfg.Link.Simulated {
		n := link.SimNetwork{SSID: s.SSID, Passphrase: s.Password, RSSI: s.RSSI}
		if addr, err := netip.ParseAddr(s.Address); err == nil {
			n.Address = addr
		}
		nets = append(nets, n)
	}
	log.Info("using simulated link driver", "networks", len(nets))
	return link.NewSimDriver(nets...)
}

func getConfigPath() string {
	if path := os.Getenv("GRAYNODE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads path, falling back to the built-in defaults when the
// file does not exist (a freshly imaged node).
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cfg = config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
