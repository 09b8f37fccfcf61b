package link

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"
)

// SimNetwork is a network visible to a SimDriver.
type SimNetwork struct {
	SSID       string
	Passphrase string
	RSSI       int
	// Address is handed to the node on join. Zero picks 10.0.0.2.
	Address netip.Addr
	// Silent networks accept the join but never come up.
	Silent bool
}

// SimDriver is an in-memory Driver for tests and bench setups without a
// wireless interface.
type SimDriver struct {
	// JoinDelay is how long an accepted join takes to come up.
	JoinDelay time.Duration

	mu           sync.Mutex
	networks     map[string]SimNetwork
	target       string
	joinedAt     time.Time
	up           bool
	ap           *APConfig
	reassociated int
	mac          string
}

// NewSimDriver creates a driver that sees networks.
func NewSimDriver(networks ...SimNetwork) *SimDriver {
	d := &SimDriver{
		networks: make(map[string]SimNetwork),
		mac:      "02:00:00:00:00:01",
	}
	for _, n := range networks {
		d.networks[n.SSID] = n
	}
	return d
}

// SetNetwork adds or replaces a visible network.
func (d *SimDriver) SetNetwork(n SimNetwork) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.networks[n.SSID] = n
}

// RemoveNetwork makes ssid disappear, dropping the link if joined to it.
func (d *SimDriver) RemoveNetwork(ssid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.networks, ssid)
	if d.target == ssid {
		d.up = false
	}
}

// DropLink simulates a loss of the station link without forgetting the
// target network.
func (d *SimDriver) DropLink() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.up = false
	d.joinedAt = time.Time{}
}

// Reassociations returns how many rejoin requests were received.
func (d *SimDriver) Reassociations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reassociated
}

// AccessPoint returns the running access point configuration, if any.
func (d *SimDriver) AccessPoint() (APConfig, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ap == nil {
		return APConfig{}, false
	}
	return *d.ap, true
}

func (d *SimDriver) Associate(_ context.Context, ssid, passphrase string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.networks[ssid]
	if !ok {
		return fmt.Errorf("%w: network %q not found", ErrRejected, ssid)
	}
	if n.Passphrase != passphrase {
		return fmt.Errorf("%w: authentication failed for %q", ErrRejected, ssid)
	}

	d.target = ssid
	d.up = false
	d.joinedAt = time.Now()
	return nil
}

func (d *SimDriver) Reassociate(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.reassociated++
	if d.target == "" {
		return fmt.Errorf("%w: no network to rejoin", ErrRejected)
	}
	if _, ok := d.networks[d.target]; !ok {
		return fmt.Errorf("network %q out of range", d.target)
	}
	d.joinedAt = time.Now()
	return nil
}

func (d *SimDriver) Disconnect(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target = ""
	d.up = false
	d.joinedAt = time.Time{}
	return nil
}

func (d *SimDriver) Status(_ context.Context) (DriverStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.networks[d.target]
	if !ok || d.target == "" {
		return DriverStatus{}, nil
	}
	if !d.up && !d.joinedAt.IsZero() && !n.Silent && time.Since(d.joinedAt) >= d.JoinDelay {
		d.up = true
	}
	if !d.up {
		return DriverStatus{}, nil
	}

	addr := n.Address
	if !addr.IsValid() {
		addr = netip.MustParseAddr("10.0.0.2")
	}
	return DriverStatus{
		Connected: true,
		Info:      Info{SSID: n.SSID, Address: addr, RSSI: n.RSSI},
	}, nil
}

func (d *SimDriver) Scan(ctx context.Context) ([]ScannedNetwork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]ScannedNetwork, 0, len(d.networks))
	for _, n := range d.networks {
		out = append(out, ScannedNetwork{SSID: n.SSID, RSSI: n.RSSI, Secure: n.Passphrase != ""})
	}
	return out, nil
}

func (d *SimDriver) StartAccessPoint(_ context.Context, ap APConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.up = false
	d.target = ""
	d.ap = &ap
	return nil
}

func (d *SimDriver) StopAccessPoint(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ap = nil
	return nil
}

func (d *SimDriver) HardwareAddr() string {
	return d.mac
}
