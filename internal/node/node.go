package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/broker"
	"github.com/nerrad567/gray-logic-node/internal/discovery"
	"github.com/nerrad567/gray-logic-node/internal/indicator"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/link"
	"github.com/nerrad567/gray-logic-node/internal/settings"
	"github.com/nerrad567/gray-logic-node/internal/telemetry"
	"github.com/nerrad567/gray-logic-node/internal/timesync"
)

const (
	defaultRestartDelay = time.Second
	gaugeInterval       = time.Second

	// remoteQueue bounds command lines waiting from the broker.
	remoteQueue = 8
)

type request struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

// Node owns the device record, the link manager, the broker session and
// the telemetry publisher.
type Node struct {
	opts   Options
	cfg    *config.Config
	root   *logging.Logger
	logger *logging.Logger

	link      *link.Manager
	session   *broker.Session
	telemetry *telemetry.Publisher

	device settings.DeviceConfig
	mode   Mode
	booted bool
	mac    string

	linkUp      bool
	timeSynced  bool
	clockOffset time.Duration
	syncResult  <-chan timesync.Result
	rssi        int
	freeHeap    uint64
	goroutines  int
	lastGauges  time.Time

	pattern   indicator.Pattern
	restartAt time.Time

	requests chan request
	remote   chan string
	stopped  chan struct{}
	snap     atomic.Pointer[Snapshot]

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a node. Nothing touches the network until Boot.
func New(opts Options, logger *logging.Logger) *Node {
	if logger == nil {
		logger = logging.Default()
	}
	if opts.Diag == nil {
		opts.Diag = io.Discard
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = defaultRestartDelay
	}
	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}

	cfg := opts.Config
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		opts:   opts,
		cfg:    cfg,
		root:   logger,
		logger: logger.With("component", "node"),
		link: link.NewManager(opts.Driver, link.Options{
			ScanTimeout:       cfg.ScanTimeout(),
			ReconnectCooldown: cfg.ReconnectCooldown(),
		}, logger),
		device:   settings.Defaults(),
		pattern:  indicator.Off,
		requests: make(chan request),
		remote:   make(chan string, remoteQueue),
		stopped:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	n.publish()
	return n
}

// Boot loads the device record and enters the initial mode.
//
// An unavailable store or an empty SSID enters Setup. Otherwise the node
// joins the stored network, waiting at most the connect timeout, and
// enters Running on success or Setup on failure.
//
// Returns:
//   - error: non-nil only when Setup cannot bring the access point up, or
//     when ctx ends during boot
func (n *Node) Boot(ctx context.Context) error {
	dev, err := n.opts.Store.Load(ctx)
	storeOK := err == nil
	if !storeOK {
		n.logger.Warn("configuration unavailable, using defaults", "error", err)
	}
	n.device = dev
	n.root.SetVerbosity(dev.DebugLevel)
	n.mac = n.link.HardwareAddr()

	n.session = broker.NewSession(broker.Options{
		MQTT:          n.cfg.MQTT,
		DeviceID:      dev.DeviceID,
		Dial:          n.opts.Dial,
		Presence:      n.presence,
		OnCommand:     n.onRemoteCommand,
		RetryCooldown: n.cfg.BrokerRetryCooldown(),
	}, n.root)

	n.telemetry = telemetry.NewPublisher(telemetry.Options{
		DeviceID: dev.DeviceID,
		Topics:   n.session.Topics(),
		Sampler:  n.opts.Sampler,
		Broker:   n.session,
		Diag:     n.opts.Diag,
		Sink:     n.opts.Sink,
		Hub:      n.opts.Hub,
		Started:  n.opts.Started,
	}, n.root)
	n.telemetry.Configure(dev)
	n.booted = true

	n.logger.Info("booting",
		"device_id", dev.DeviceID,
		"configured", dev.Configured(),
		"broker", dev.BrokerEnabled(),
	)

	if storeOK && dev.Configured() {
		n.show(indicator.Connecting)
		info, err := n.link.Connect(ctx, dev.SSID, dev.Passphrase, n.cfg.ConnectTimeout())
		if err == nil {
			n.enterRunning(info)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n.logger.Warn("link unavailable, entering setup", "ssid", dev.SSID, "error", err)
	}
	return n.enterSetup(ctx)
}

func (n *Node) enterSetup(ctx context.Context) error {
	ap, err := n.accessPoint()
	if err != nil {
		return fmt.Errorf("entering setup: %w", err)
	}
	if err := n.link.StartAccessPoint(ctx, ap); err != nil {
		return fmt.Errorf("entering setup: %w", err)
	}

	n.mode = ModeSetup
	n.linkUp = false
	n.show(indicator.Setup)
	n.logger.Info("setup mode", "ssid", ap.SSID, "address", ap.Address.String())
	n.publish()
	return nil
}

func (n *Node) enterRunning(info link.Info) {
	n.mode = ModeRunning
	n.linkUp = true
	n.rssi = info.RSSI

	n.session.Configure(n.device.BrokerHost, n.device.BrokerPort)
	n.startTimeSync()
	n.advertise()
	n.updatePattern()

	n.logger.Info("running mode", "ssid", info.SSID, "address", info.Address.String())
	n.publish()
}

func (n *Node) accessPoint() (link.APConfig, error) {
	apc := n.cfg.Link.AccessPoint
	addr, err := netip.ParseAddr(apc.Address)
	if err != nil {
		return link.APConfig{}, fmt.Errorf("access point address: %w", err)
	}
	listen := n.opts.DNSListen
	if listen == "" {
		listen = net.JoinHostPort(addr.String(), strconv.Itoa(apc.DNSPort))
	}
	return link.APConfig{
		SSID:       apc.SSID,
		Password:   apc.Password,
		Channel:    apc.Channel,
		MaxClients: apc.MaxClients,
		Address:    addr,
		DNSListen:  listen,
	}, nil
}

func (n *Node) startTimeSync() {
	if n.opts.TimeSource == nil || !n.cfg.TimeSync.Enabled {
		return
	}
	n.timeSynced = false
	n.syncResult = n.opts.TimeSource.Start(n.ctx, n.device.NTPServer)
}

func (n *Node) advertise() {
	if n.opts.Advertiser == nil || !n.cfg.MDNS.Enabled {
		return
	}
	err := n.opts.Advertiser.Advertise(discovery.Service{
		Instance: n.device.DeviceID,
		Port:     n.cfg.HTTP.Port,
		Text: map[string]string{
			"id":      n.device.DeviceID,
			"version": n.cfg.Node.Version,
			"path":    "/",
		},
	})
	if err != nil {
		n.logger.Warn("mdns advertisement failed", "error", err)
	}
}

// presence builds the online document. It runs on the loop goroutine
// from within the broker session's Tick.
func (n *Node) presence() broker.Presence {
	dev := n.device
	dev.Passphrase = ""
	return broker.Presence{
		Address: addrString(n.link.Address()),
		Version: n.cfg.Node.Version,
		RSSI:    n.rssi,
		Uptime:  formatUptime(n.uptime()),
		Config:  &dev,
	}
}

// onRemoteCommand runs on a broker transport goroutine.
func (n *Node) onRemoteCommand(line string) {
	select {
	case n.remote <- line:
	default:
		n.logger.Warn("remote command dropped, queue full")
	}
}

// show switches the LED, honouring the persisted LED setting.
func (n *Node) show(p indicator.Pattern) {
	if n.opts.Indicator == nil {
		return
	}
	if !n.device.LEDEnabled {
		p = indicator.Off
	}
	if p == n.pattern {
		return
	}
	n.pattern = p
	n.opts.Indicator.Show(p)
}

func (n *Node) updatePattern() {
	switch {
	case n.mode == ModeSetup:
		n.show(indicator.Setup)
	case !n.linkUp:
		n.show(indicator.Connecting)
	case n.device.BrokerEnabled() && !n.session.Connected():
		n.show(indicator.Fault)
	default:
		n.show(indicator.Running)
	}
}

func (n *Node) uptime() time.Duration {
	return time.Since(n.opts.Started)
}

// Mode returns the current mode. Safe from any goroutine.
func (n *Node) Mode() Mode {
	return n.Snapshot().Mode
}

// Close shuts the node down: the broker session says goodbye, the
// advertisement is withdrawn and the access point is torn down. Call it
// after Run has returned.
func (n *Node) Close() error {
	n.cancel()

	var errs []error
	if n.opts.Advertiser != nil {
		n.opts.Advertiser.Shutdown()
	}
	if n.session != nil {
		if err := n.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing broker session: %w", err))
		}
	}
	if err := n.link.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing link: %w", err))
	}
	n.show(indicator.Off)
	n.logger.Info("node stopped")
	return errors.Join(errs...)
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}
