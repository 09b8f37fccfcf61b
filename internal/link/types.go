package link

import (
	"context"
	"net/netip"
)

// State is the wireless link state.
type State int

const (
	Disassociated State = iota
	Associating
	Associated
	AccessPointActive
)

func (s State) String() string {
	switch s {
	case Disassociated:
		return "disassociated"
	case Associating:
		return "associating"
	case Associated:
		return "associated"
	case AccessPointActive:
		return "access_point"
	default:
		return "unknown"
	}
}

// Event is the result of a Monitor poll.
type Event int

const (
	Unchanged Event = iota
	Connected
	Lost
)

func (e Event) String() string {
	switch e {
	case Connected:
		return "connected"
	case Lost:
		return "lost"
	default:
		return "unchanged"
	}
}

// Info describes the current link.
type Info struct {
	SSID    string
	Address netip.Addr
	// RSSI is the signal strength in dBm. 0 when unknown.
	RSSI int
}

// ScannedNetwork is one entry of a scan result.
type ScannedNetwork struct {
	SSID   string `json:"ssid"`
	RSSI   int    `json:"rssi"`
	Secure bool   `json:"secure"`
}

// Quality maps the network's RSSI onto a 0-100 scale.
func (n ScannedNetwork) Quality() int {
	return SignalQuality(n.RSSI)
}

// SignalQuality maps an RSSI in dBm onto coarse 0-100 buckets.
func SignalQuality(rssi int) int {
	switch {
	case rssi == 0:
		return 0
	case rssi >= -50:
		return 100
	case rssi >= -60:
		return 80
	case rssi >= -70:
		return 60
	case rssi >= -80:
		return 40
	case rssi >= -90:
		return 20
	default:
		return 0
	}
}

// APConfig describes the provisioning access point.
type APConfig struct {
	SSID       string
	Password   string
	Channel    int
	MaxClients int
	Address    netip.Addr

	// DNSListen overrides the captive DNS bind address. Empty binds
	// Address on port 53.
	DNSListen string
}

// DriverStatus is a driver's view of the station link.
type DriverStatus struct {
	Connected bool
	Info      Info
	// Err is set when the driver has given up on the pending association.
	Err error
}

// Driver performs the radio-level operations for a Manager.
// Implementations must honour ctx deadlines.
type Driver interface {
	// Associate starts joining ssid. It may return before the link is up;
	// the manager polls Status until Connected.
	Associate(ctx context.Context, ssid, passphrase string) error

	// Reassociate asks the radio to rejoin the last network.
	Reassociate(ctx context.Context) error

	Disconnect(ctx context.Context) error
	Status(ctx context.Context) (DriverStatus, error)
	Scan(ctx context.Context) ([]ScannedNetwork, error)

	StartAccessPoint(ctx context.Context, ap APConfig) error
	StopAccessPoint(ctx context.Context) error

	// HardwareAddr returns the interface MAC address, or "" if unknown.
	HardwareAddr() string
}
