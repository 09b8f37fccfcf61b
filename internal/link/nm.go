package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/process"
)

// nmcli exit codes that mean the network refused us.
// See nmcli(1) EXIT STATUS.
const (
	nmcliExitActivationFailed = 4
	nmcliExitNotFound         = 10
)

// nmStateConnected is NetworkManager's GENERAL.STATE value for a fully
// activated device.
const nmStateConnected = 100

// resumeTimeout bounds bringing a paused access point back up.
const resumeTimeout = 30 * time.Second

// stationSuffix names the virtual station interface created next to the
// access point, e.g. wlan0sta. Interface names are limited to 15 bytes.
const (
	stationSuffix   = "sta"
	maxIfaceNameLen = 15
)

// runner executes a command and returns its stdout.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // Binaries come from bootstrap config
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s %s: %w: %s", filepath.Base(name), strings.Join(args[:min(len(args), 3)], " "), err, msg)
		}
		return out, fmt.Errorf("%s: %w", filepath.Base(name), err)
	}
	return out, nil
}

// daemon is the part of process.Manager the driver uses.
type daemon interface {
	Start(ctx context.Context) error
	WaitReady(ctx context.Context) error
	Stop() error
}

// NMDriver drives a Linux wireless interface: NetworkManager (nmcli) for
// station mode and scanning, hostapd for the access point and dnsmasq for
// DHCP on it (with its DNS disabled; the captive responder owns port 53).
//
// While the access point holds the interface, station work (scan, join,
// status) moves to a virtual managed interface created with iw, so the
// portal can test credentials with the access point still up. Radios that
// cannot run both get no station interface; a join then pauses the access
// point and restores it if the join fails.
type NMDriver struct {
	iface      string
	nmcli      string
	ip         string
	iw         string
	hostapd    string
	dnsmasq    string
	runtimeDir string
	logger     *logging.Logger

	run       runner
	newDaemon func(process.Config) daemon

	lastSSID string
	daemons  []daemon

	ap       APConfig
	apCtx    context.Context
	apActive bool
	apPaused bool
	staIface string
}

// NewNMDriver creates a driver for the interface named in cfg.
func NewNMDriver(cfg config.LinkConfig, logger *logging.Logger) *NMDriver {
	if logger == nil {
		logger = logging.Default()
	}
	d := &NMDriver{
		iface:      cfg.Interface,
		nmcli:      cfg.NmcliBinary,
		ip:         cfg.IPBinary,
		iw:         cfg.IwBinary,
		hostapd:    cfg.HostapdBinary,
		dnsmasq:    cfg.DnsmasqBinary,
		runtimeDir: cfg.RuntimeDir,
		logger:     logger.With("component", "nm-driver", "interface", cfg.Interface),
		run:        execRunner,
	}
	d.newDaemon = func(pc process.Config) daemon {
		return process.NewManager(pc, logger)
	}
	return d
}

// Associate joins ssid through NetworkManager. nmcli blocks until the
// activation completes or ctx expires.
func (d *NMDriver) Associate(ctx context.Context, ssid, passphrase string) error {
	if d.apActive && d.staIface == "" {
		if err := d.pauseAccessPoint(ctx); err != nil {
			return err
		}
	}

	err := d.associate(ctx, ssid, passphrase)
	if err != nil && d.apPaused {
		d.resumeAccessPoint()
	}
	return err
}

func (d *NMDriver) associate(ctx context.Context, ssid, passphrase string) error {
	args := []string{"device", "wifi", "connect", ssid, "ifname", d.station()}
	if passphrase != "" {
		args = append(args, "password", passphrase)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if secs := int(time.Until(deadline).Seconds()); secs > 0 {
			args = append([]string{"--wait", strconv.Itoa(secs)}, args...)
		}
	}

	d.lastSSID = ssid
	if _, err := d.run(ctx, d.nmcli, args...); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			switch exitErr.ExitCode() {
			case nmcliExitActivationFailed, nmcliExitNotFound:
				return fmt.Errorf("%w: %w", ErrRejected, err)
			}
		}
		return err
	}
	return nil
}

// Reassociate re-activates the interface's last connection profile.
func (d *NMDriver) Reassociate(ctx context.Context) error {
	if d.lastSSID != "" {
		if _, err := d.run(ctx, d.nmcli, "connection", "up", "id", d.lastSSID, "ifname", d.station()); err == nil {
			return nil
		}
	}
	_, err := d.run(ctx, d.nmcli, "device", "connect", d.station())
	return err
}

// Disconnect drops the station link. A join that paused the access point
// brings it back.
func (d *NMDriver) Disconnect(ctx context.Context) error {
	_, err := d.run(ctx, d.nmcli, "device", "disconnect", d.station())
	if d.apPaused {
		d.resumeAccessPoint()
	}
	return err
}

// station returns the interface NetworkManager manages for station work.
func (d *NMDriver) station() string {
	if d.staIface != "" {
		return d.staIface
	}
	return d.iface
}

// Status reads the device state, address and signal from NetworkManager.
func (d *NMDriver) Status(ctx context.Context) (DriverStatus, error) {
	out, err := d.run(ctx, d.nmcli, "-t", "-f", "GENERAL.STATE,GENERAL.CONNECTION,IP4.ADDRESS", "device", "show", d.station())
	if err != nil {
		return DriverStatus{}, err
	}

	st := parseDeviceShow(out)
	if !st.Connected {
		return st, nil
	}

	// Signal is best effort; an unknown RSSI is reported as 0
	if list, err := d.run(ctx, d.nmcli, "-t", "-f", "IN-USE,SSID,SIGNAL,SECURITY", "device", "wifi", "list", "ifname", d.station(), "--rescan", "no"); err == nil {
		for _, n := range parseWifiList(list) {
			if n.inUse {
				st.Info.RSSI = n.RSSI
				if st.Info.SSID == "" {
					st.Info.SSID = n.SSID
				}
				break
			}
		}
	}
	return st, nil
}

// Scan triggers a rescan and lists visible networks.
func (d *NMDriver) Scan(ctx context.Context) ([]ScannedNetwork, error) {
	out, err := d.run(ctx, d.nmcli, "-t", "-f", "IN-USE,SSID,SIGNAL,SECURITY", "device", "wifi", "list", "ifname", d.station(), "--rescan", "yes")
	if err != nil {
		return nil, err
	}
	entries := parseWifiList(out)
	networks := make([]ScannedNetwork, 0, len(entries))
	for _, e := range entries {
		networks = append(networks, e.ScannedNetwork)
	}
	return networks, nil
}

// StartAccessPoint takes the interface away from NetworkManager, assigns
// the AP address, adds the station interface and starts hostapd and
// dnsmasq.
func (d *NMDriver) StartAccessPoint(ctx context.Context, ap APConfig) error {
	if err := os.MkdirAll(d.runtimeDir, 0o750); err != nil {
		return fmt.Errorf("creating runtime dir: %w", err)
	}
	confPath := filepath.Join(d.runtimeDir, "hostapd.conf")
	if err := os.WriteFile(confPath, []byte(hostapdConfig(d.iface, ap)), 0o600); err != nil {
		return fmt.Errorf("writing hostapd config: %w", err)
	}

	if err := d.claimInterface(ctx, ap); err != nil {
		return err
	}
	d.addStation(ctx)

	if err := d.startAPDaemons(ctx, ctx, confPath, ap); err != nil {
		d.removeStation(ctx)
		return err
	}

	d.ap = ap
	d.apCtx = ctx
	d.apActive = true
	d.apPaused = false
	return nil
}

// claimInterface unmanages the AP interface and gives it the AP address.
func (d *NMDriver) claimInterface(ctx context.Context, ap APConfig) error {
	prefix := netip.PrefixFrom(ap.Address, 24)
	steps := [][]string{
		{d.nmcli, "device", "set", d.iface, "managed", "no"},
		{d.ip, "addr", "flush", "dev", d.iface},
		{d.ip, "addr", "add", prefix.String(), "dev", d.iface},
		{d.ip, "link", "set", d.iface, "up"},
	}
	for _, step := range steps {
		if _, err := d.run(ctx, step[0], step[1:]...); err != nil {
			return err
		}
	}
	return nil
}

// startAPDaemons starts hostapd and dnsmasq. The daemons live as long as
// life; ctx bounds the wait for readiness.
func (d *NMDriver) startAPDaemons(ctx, life context.Context, confPath string, ap APConfig) error {
	hostapd := d.newDaemon(process.Config{
		Name:             "hostapd",
		Binary:           d.hostapd,
		Args:             []string{confPath},
		ReadyMarker:      "AP-ENABLED",
		RestartOnFailure: true,
	})
	if err := d.startDaemon(ctx, life, hostapd); err != nil {
		d.stopDaemons()
		return err
	}

	dhcp := d.newDaemon(process.Config{
		Name:             "dnsmasq",
		Binary:           d.dnsmasq,
		Args:             dnsmasqArgs(d.iface, ap),
		ReadyMarker:      "started",
		RestartOnFailure: true,
	})
	if err := d.startDaemon(ctx, life, dhcp); err != nil {
		d.stopDaemons()
		return err
	}
	return nil
}

// addStation creates the virtual station interface and hands it to
// NetworkManager. Failure leaves the driver without one.
func (d *NMDriver) addStation(ctx context.Context) {
	if d.iw == "" {
		return
	}
	name := stationName(d.iface)
	if _, err := d.run(ctx, d.iw, "dev", d.iface, "interface", "add", name, "type", "managed"); err != nil {
		d.logger.Warn("no station interface beside the access point, joins will pause it", "error", err)
		return
	}
	if _, err := d.run(ctx, d.nmcli, "device", "set", name, "managed", "yes"); err != nil {
		d.logger.Warn("station interface not managed, joins will pause the access point", "error", err)
		if _, delErr := d.run(ctx, d.iw, "dev", name, "del"); delErr != nil {
			d.logger.Debug("removing station interface", "error", delErr)
		}
		return
	}
	d.staIface = name
}

func (d *NMDriver) removeStation(ctx context.Context) {
	if d.staIface == "" {
		return
	}
	if _, err := d.run(ctx, d.iw, "dev", d.staIface, "del"); err != nil {
		d.logger.Warn("removing station interface", "error", err)
	}
	d.staIface = ""
}

// pauseAccessPoint stops the AP daemons and hands the shared interface to
// NetworkManager for a join.
func (d *NMDriver) pauseAccessPoint(ctx context.Context) error {
	d.logger.Info("pausing access point for join")
	d.stopDaemons()
	if _, err := d.run(ctx, d.ip, "addr", "flush", "dev", d.iface); err != nil {
		d.logger.Warn("flushing AP address", "error", err)
	}
	d.apPaused = true
	if _, err := d.run(ctx, d.nmcli, "device", "set", d.iface, "managed", "yes"); err != nil {
		d.resumeAccessPoint()
		return err
	}
	return nil
}

// resumeAccessPoint brings a paused access point back after a failed join.
// The join's context has usually expired, so the daemons run under the
// context the access point was started with.
func (d *NMDriver) resumeAccessPoint() {
	life := d.apCtx
	if life == nil {
		life = context.Background()
	}
	ctx, cancel := context.WithTimeout(life, resumeTimeout)
	defer cancel()

	d.apPaused = false
	confPath := filepath.Join(d.runtimeDir, "hostapd.conf")
	if err := d.claimInterface(ctx, d.ap); err != nil {
		d.logger.Error("restoring access point", "error", err)
		return
	}
	if err := d.startAPDaemons(ctx, life, confPath, d.ap); err != nil {
		d.logger.Error("restoring access point", "error", err)
		return
	}
	d.logger.Info("access point restored")
}

func (d *NMDriver) startDaemon(ctx, life context.Context, p daemon) error {
	if err := p.Start(life); err != nil {
		return err
	}
	d.daemons = append(d.daemons, p)
	return p.WaitReady(ctx)
}

func (d *NMDriver) stopDaemons() {
	for i := len(d.daemons) - 1; i >= 0; i-- {
		if err := d.daemons[i].Stop(); err != nil {
			d.logger.Warn("stopping daemon", "error", err)
		}
	}
	d.daemons = nil
}

// StopAccessPoint stops the daemons, removes the station interface and
// hands the interface back to NetworkManager.
func (d *NMDriver) StopAccessPoint(ctx context.Context) error {
	d.stopDaemons()
	d.removeStation(ctx)
	if !d.apPaused {
		if _, err := d.run(ctx, d.ip, "addr", "flush", "dev", d.iface); err != nil {
			d.logger.Warn("flushing AP address", "error", err)
		}
	}
	d.apActive = false
	d.apPaused = false
	d.apCtx = nil
	_, err := d.run(ctx, d.nmcli, "device", "set", d.iface, "managed", "yes")
	return err
}

func (d *NMDriver) HardwareAddr() string {
	ifi, err := net.InterfaceByName(d.iface)
	if err != nil {
		return ""
	}
	return ifi.HardwareAddr.String()
}

func stationName(iface string) string {
	if len(iface)+len(stationSuffix) > maxIfaceNameLen {
		iface = iface[:maxIfaceNameLen-len(stationSuffix)]
	}
	return iface + stationSuffix
}

// hostapdConfig renders a WPA2-PSK (or open, with no password) AP config.
func hostapdConfig(iface string, ap APConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "interface=%s\n", iface)
	b.WriteString("driver=nl80211\n")
	fmt.Fprintf(&b, "ssid=%s\n", ap.SSID)
	b.WriteString("hw_mode=g\n")
	fmt.Fprintf(&b, "channel=%d\n", ap.Channel)
	fmt.Fprintf(&b, "max_num_sta=%d\n", ap.MaxClients)
	b.WriteString("auth_algs=1\n")
	b.WriteString("ignore_broadcast_ssid=0\n")
	if ap.Password != "" {
		b.WriteString("wpa=2\n")
		fmt.Fprintf(&b, "wpa_passphrase=%s\n", ap.Password)
		b.WriteString("wpa_key_mgmt=WPA-PSK\n")
		b.WriteString("rsn_pairwise=CCMP\n")
	}
	return b.String()
}

// dnsmasqArgs runs dnsmasq as a DHCP-only server for the AP subnet. Leased
// clients get the AP address as router and resolver.
func dnsmasqArgs(iface string, ap APConfig) []string {
	base := ap.Address.As4()
	first := netip.AddrFrom4([4]byte{base[0], base[1], base[2], 10})
	last := netip.AddrFrom4([4]byte{base[0], base[1], base[2], byte(min(10+ap.MaxClients*4, 250))})
	return []string{
		"--keep-in-foreground",
		"--log-facility=-",
		"--port=0",
		"--bind-interfaces",
		"--interface=" + iface,
		"--except-interface=lo",
		fmt.Sprintf("--dhcp-range=%s,%s,255.255.255.0,1h", first, last),
		"--dhcp-option=3," + ap.Address.String(),
		"--dhcp-option=6," + ap.Address.String(),
		"--dhcp-authoritative",
	}
}

// parseDeviceShow parses `nmcli -t -f GENERAL.STATE,GENERAL.CONNECTION,IP4.ADDRESS device show`.
//
//	GENERAL.STATE:100 (connected)
//	GENERAL.CONNECTION:TestNet
//	IP4.ADDRESS[1]:192.168.1.23/24
func parseDeviceShow(out []byte) DriverStatus {
	var st DriverStatus
	for _, line := range strings.Split(string(out), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		switch {
		case key == "GENERAL.STATE":
			code, _, _ := strings.Cut(value, " ")
			if n, err := strconv.Atoi(code); err == nil && n == nmStateConnected {
				st.Connected = true
			}
		case key == "GENERAL.CONNECTION":
			st.Info.SSID = unescapeTerse(value)
		case strings.HasPrefix(key, "IP4.ADDRESS") && !st.Info.Address.IsValid():
			if p, err := netip.ParsePrefix(value); err == nil {
				st.Info.Address = p.Addr()
			}
		}
	}
	return st
}

type wifiEntry struct {
	ScannedNetwork
	inUse bool
}

// parseWifiList parses `nmcli -t -f IN-USE,SSID,SIGNAL,SECURITY device wifi list`.
// SIGNAL is a percentage; it is converted to an approximate dBm value.
func parseWifiList(out []byte) []wifiEntry {
	var entries []wifiEntry
	for _, line := range strings.Split(string(out), "\n") {
		fields := splitTerse(strings.TrimRight(line, "\r"))
		if len(fields) != 4 {
			continue
		}
		signal, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		security := strings.TrimSpace(fields[3])
		entries = append(entries, wifiEntry{
			ScannedNetwork: ScannedNetwork{
				SSID:   fields[1],
				RSSI:   percentToDBm(signal),
				Secure: security != "" && security != "--",
			},
			inUse: strings.TrimSpace(fields[0]) == "*",
		})
	}
	return entries
}

// percentToDBm inverts NetworkManager's quality mapping (dBm = pct/2 - 100).
func percentToDBm(pct int) int {
	pct = max(0, min(pct, 100))
	return pct/2 - 100
}

// splitTerse splits a terse nmcli line on unescaped colons.
func splitTerse(line string) []string {
	var fields []string
	var cur strings.Builder
	escaped := false
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, cur.String())
}

func unescapeTerse(s string) string {
	return strings.Join(splitTerse(s), ":")
}
