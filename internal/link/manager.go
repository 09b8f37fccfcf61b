package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/captive"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
)

// Default timings.
const (
	DefaultConnectTimeout    = 15 * time.Second
	DefaultScanTimeout       = 10 * time.Second
	DefaultReconnectCooldown = 10 * time.Second
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultMonitorInterval   = time.Second

	// monitorTimeout bounds a single driver status query from Monitor.
	monitorTimeout = 250 * time.Millisecond

	// reassociateTimeout bounds a background reconnect request.
	reassociateTimeout = 20 * time.Second

	captiveDNSPort = 53
)

// Options tunes a Manager. Zero values take the defaults above.
type Options struct {
	PollInterval      time.Duration
	ScanTimeout       time.Duration
	ReconnectCooldown time.Duration

	// MonitorInterval bounds how often Monitor queries the driver.
	MonitorInterval time.Duration
}

// Manager owns the wireless link: association, loss detection, timed
// reconnection and the provisioning access point with its captive DNS.
//
// Manager methods other than Reconnect's background request are meant to
// be called from the single orchestrator goroutine.
type Manager struct {
	driver Driver
	opts   Options
	base   *logging.Logger
	logger *logging.Logger

	state     State
	info      Info
	lastCheck time.Time

	lastReconnect time.Time
	reconnecting  atomic.Bool
	reconnects    atomic.Int64

	dns  *captive.Server
	apUp bool
	// ap describes the access point while it is up.
	ap Info

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a link manager on top of driver.
func NewManager(driver Driver, opts Options, logger *logging.Logger) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}
	if opts.ReconnectCooldown <= 0 {
		opts.ReconnectCooldown = DefaultReconnectCooldown
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = DefaultMonitorInterval
	}
	if logger == nil {
		logger = logging.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		driver: driver,
		opts:   opts,
		base:   logger,
		logger: logger.With("component", "link"),
		state:  Disassociated,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect joins ssid and waits until the link is up or timeout elapses.
//
// The driver is polled every PollInterval. A driver rejection returns
// ErrRejected immediately; running out of time returns ErrTimeout. The
// attempt is never retried here.
//
// While the access point is up the join is a credential test: State and
// Info keep describing the access point whatever the outcome, and the
// joined link is only returned.
func (m *Manager) Connect(ctx context.Context, ssid, passphrase string, timeout time.Duration) (Info, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !m.apUp {
		m.state = Associating
		m.info = Info{SSID: ssid}
	}
	m.logger.Info("joining network", "ssid", ssid, "timeout", timeout, "access_point", m.apUp)

	fail := func(err error) (Info, error) {
		if m.apUp {
			m.state = AccessPointActive
			m.info = m.ap
		} else {
			m.state = Disassociated
			m.info = Info{}
		}
		m.logger.Warn("join failed", "ssid", ssid, "error", err)
		return Info{}, err
	}

	if err := m.driver.Associate(ctx, ssid, passphrase); err != nil {
		if errors.Is(err, ErrRejected) {
			return fail(err)
		}
		if ctx.Err() != nil {
			m.disconnectQuietly()
			return fail(fmt.Errorf("%w: %s", ErrTimeout, ssid))
		}
		return fail(fmt.Errorf("%w: %w", ErrRejected, err))
	}

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		st, err := m.driver.Status(ctx)
		switch {
		case err == nil && st.Connected:
			joined := st.Info
			if joined.SSID == "" {
				joined.SSID = ssid
			}
			if !m.apUp {
				m.state = Associated
				m.info = joined
			}
			m.lastCheck = time.Now()
			m.logger.Info("network joined",
				"ssid", ssid,
				"address", joined.Address.String(),
				"rssi", joined.RSSI,
			)
			return joined, nil
		case err == nil && st.Err != nil:
			return fail(fmt.Errorf("%w: %w", ErrRejected, st.Err))
		case err != nil && ctx.Err() == nil:
			m.logger.Debug("link status query failed", "error", err)
		}

		select {
		case <-ctx.Done():
			m.disconnectQuietly()
			return fail(fmt.Errorf("%w: %s after %s", ErrTimeout, ssid, timeout))
		case <-ticker.C:
		}
	}
}

func (m *Manager) disconnectQuietly() {
	ctx, cancel := context.WithTimeout(context.Background(), monitorTimeout*4)
	defer cancel()
	if err := m.driver.Disconnect(ctx); err != nil {
		m.logger.Debug("disconnect after failed join", "error", err)
	}
}

// Monitor polls the link without blocking the caller for more than a
// short driver query, and at most once per MonitorInterval.
// It reports Connected or Lost on an edge and Unchanged otherwise.
func (m *Manager) Monitor() Event {
	if m.state == AccessPointActive {
		return Unchanged
	}

	now := time.Now()
	if now.Sub(m.lastCheck) < m.opts.MonitorInterval {
		return Unchanged
	}
	m.lastCheck = now

	ctx, cancel := context.WithTimeout(m.ctx, monitorTimeout)
	defer cancel()

	st, err := m.driver.Status(ctx)
	if err != nil {
		m.logger.Debug("link status query failed", "error", err)
		return Unchanged
	}

	wasUp := m.state == Associated
	switch {
	case st.Connected && !wasUp:
		m.state = Associated
		m.info = st.Info
		m.logger.Info("link restored", "ssid", st.Info.SSID, "address", st.Info.Address.String())
		return Connected
	case !st.Connected && wasUp:
		m.state = Disassociated
		ssid := m.info.SSID
		m.info = Info{SSID: ssid}
		m.logger.Warn("link lost", "ssid", ssid)
		return Lost
	case st.Connected:
		m.info = st.Info
	}
	return Unchanged
}

// Reconnect issues one background rejoin request if the cooldown has
// elapsed since the previous request and none is still in flight.
// It never blocks and reports whether a request was issued.
func (m *Manager) Reconnect(now time.Time) bool {
	if m.state == Associated || m.state == AccessPointActive {
		return false
	}
	if !m.lastReconnect.IsZero() && now.Sub(m.lastReconnect) < m.opts.ReconnectCooldown {
		return false
	}
	if !m.reconnecting.CompareAndSwap(false, true) {
		return false
	}

	m.lastReconnect = now
	m.reconnects.Add(1)
	m.logger.Info("requesting rejoin", "ssid", m.info.SSID)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.reconnecting.Store(false)

		ctx, cancel := context.WithTimeout(m.ctx, reassociateTimeout)
		defer cancel()
		if err := m.driver.Reassociate(ctx); err != nil {
			m.logger.Warn("rejoin request failed", "error", err)
		}
	}()
	return true
}

// ReconnectAttempts returns how many rejoin requests have been issued.
func (m *Manager) ReconnectAttempts() int64 {
	return m.reconnects.Load()
}

// StartAccessPoint brings up the provisioning access point and a captive
// DNS responder that resolves every name to ap.Address.
func (m *Manager) StartAccessPoint(ctx context.Context, ap APConfig) error {
	resolver, err := captive.NewResolver(ap.Address)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAccessPoint, err)
	}

	if err := m.driver.StartAccessPoint(ctx, ap); err != nil {
		return fmt.Errorf("%w: %w", ErrAccessPoint, err)
	}

	listen := ap.DNSListen
	if listen == "" {
		listen = net.JoinHostPort(ap.Address.String(), strconv.Itoa(captiveDNSPort))
	}

	dns := captive.NewServer(resolver, listen, m.base)
	if err := dns.Start(m.ctx); err != nil {
		if stopErr := m.driver.StopAccessPoint(ctx); stopErr != nil {
			m.logger.Warn("stopping access point after DNS failure", "error", stopErr)
		}
		return fmt.Errorf("%w: %w", ErrAccessPoint, err)
	}

	m.dns = dns
	m.apUp = true
	m.ap = Info{SSID: ap.SSID, Address: ap.Address}
	m.state = AccessPointActive
	m.info = m.ap
	m.logger.Info("access point active", "ssid", ap.SSID, "address", ap.Address.String(), "channel", ap.Channel)
	return nil
}

// AccessPointUp reports whether the provisioning access point is serving,
// even after a station join from the portal.
func (m *Manager) AccessPointUp() bool {
	return m.apUp
}

// DNSAddr returns the captive DNS bound address, or nil when not serving.
func (m *Manager) DNSAddr() net.Addr {
	if m.dns == nil {
		return nil
	}
	return m.dns.Addr()
}

// Scan lists nearby networks, strongest first, one entry per SSID.
// Hidden networks are omitted. Bounded by the scan timeout.
func (m *Manager) Scan(ctx context.Context) ([]ScannedNetwork, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ScanTimeout)
	defer cancel()

	found, err := m.driver.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning: %w", err)
	}

	best := make(map[string]ScannedNetwork, len(found))
	for _, n := range found {
		if n.SSID == "" {
			continue
		}
		if prev, ok := best[n.SSID]; !ok || n.RSSI > prev.RSSI {
			best[n.SSID] = n
		}
	}

	networks := make([]ScannedNetwork, 0, len(best))
	for _, n := range best {
		networks = append(networks, n)
	}
	sort.Slice(networks, func(i, j int) bool {
		if networks[i].RSSI != networks[j].RSSI {
			return networks[i].RSSI > networks[j].RSSI
		}
		return networks[i].SSID < networks[j].SSID
	})

	m.logger.Debug("scan complete", "networks", len(networks))
	return networks, nil
}

// State returns the current link state.
func (m *Manager) State() State {
	return m.state
}

// Info returns the current link description.
func (m *Manager) Info() Info {
	return m.info
}

// Address returns the node's address on the current link, if any.
func (m *Manager) Address() netip.Addr {
	return m.info.Address
}

// HardwareAddr returns the interface MAC address.
func (m *Manager) HardwareAddr() string {
	return m.driver.HardwareAddr()
}

// Close tears down captive DNS and the access point and waits for any
// in-flight rejoin request.
func (m *Manager) Close() error {
	m.cancel()

	var errs []error
	if m.dns != nil {
		if err := m.dns.Close(); err != nil {
			errs = append(errs, err)
		}
		m.dns = nil
	}
	if m.apUp {
		ctx, cancel := context.WithTimeout(context.Background(), reassociateTimeout)
		defer cancel()
		if err := m.driver.StopAccessPoint(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping access point: %w", err))
		}
		m.apUp = false
	}

	m.wg.Wait()
	m.state = Disassociated
	return errors.Join(errs...)
}
