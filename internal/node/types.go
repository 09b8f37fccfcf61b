package node

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/broker"
	"github.com/nerrad567/gray-logic-node/internal/discovery"
	"github.com/nerrad567/gray-logic-node/internal/indicator"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/link"
	"github.com/nerrad567/gray-logic-node/internal/settings"
	"github.com/nerrad567/gray-logic-node/internal/telemetry"
	"github.com/nerrad567/gray-logic-node/internal/timesync"
)

// Mode is the node's operating mode.
type Mode int

const (
	ModeSetup Mode = iota
	ModeRunning
)

func (m Mode) String() string {
	switch m {
	case ModeSetup:
		return "setup"
	case ModeRunning:
		return "running"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText renders the mode as its lower-case name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Store persists the device record.
type Store interface {
	Load(ctx context.Context) (settings.DeviceConfig, error)
	Save(ctx context.Context, cfg settings.DeviceConfig) error
	Clear(ctx context.Context) error
}

// Indicator shows node status on an LED.
type Indicator interface {
	Show(p indicator.Pattern)
}

// Advertiser announces the dashboard on the local network.
type Advertiser interface {
	Advertise(svc discovery.Service) error
	Shutdown()
}

// TimeSource obtains the clock offset in the background.
type TimeSource interface {
	Start(ctx context.Context, server string) <-chan timesync.Result
}

// Options wires a Node. Config, Store, Driver and Sampler are required;
// the rest are optional.
type Options struct {
	Config  *config.Config
	Store   Store
	Driver  link.Driver
	Sampler telemetry.Sampler

	// Dial defaults to broker.DialMQTT.
	Dial broker.Dialer

	// Diag receives the JSON_STATUS telemetry lines.
	Diag io.Writer

	Sink       telemetry.Sink
	Hub        telemetry.Broadcaster
	TimeSource TimeSource
	Advertiser Advertiser
	Indicator  Indicator

	// DNSListen overrides the captive DNS bind address, which is
	// otherwise the access point address on the configured DNS port.
	DNSListen string

	// RestartDelay lets the reply to a restarting request reach its
	// client before Run returns. Zero means one second.
	RestartDelay time.Duration

	// Started is the process start time uptime is measured from.
	Started time.Time
}

// Result is the outcome of an operator command.
type Result struct {
	OK      bool
	Message string
	Restart bool
}

// Snapshot is a copy of the node state for readers outside the loop.
type Snapshot struct {
	Mode    Mode   `json:"mode"`
	Name    string `json:"deviceName"`
	Version string `json:"firmware"`

	LinkState     string `json:"linkState"`
	LinkUp        bool   `json:"wifiConnected"`
	SSID          string `json:"ssid"`
	Address       string `json:"ip"`
	MAC           string `json:"mac"`
	RSSI          int    `json:"rssi"`
	SignalQuality int    `json:"signalQuality"`

	BrokerState     string `json:"mqttState"`
	BrokerConnected bool   `json:"mqttConnected"`
	BrokerHost      string `json:"mqttHost"`
	BrokerPort      int    `json:"mqttPort"`
	BrokerAttempts  int    `json:"mqttAttempts"`

	TimeSynced  bool          `json:"ntpSynced"`
	ClockOffset time.Duration `json:"-"`

	FreeHeap   uint64        `json:"freeHeap"`
	Goroutines int           `json:"goroutines"`
	Uptime     time.Duration `json:"-"`

	Device    settings.DeviceConfig `json:"config"`
	Reading   *telemetry.Reading    `json:"reading,omitempty"`
	Telemetry telemetry.Stats       `json:"telemetry"`
}

// Now returns the corrected wall clock in the configured UTC offset.
func (s Snapshot) Now() time.Time {
	return timesync.Local(time.Now().Add(s.ClockOffset), s.Device.UTCOffset)
}

// UptimeString formats the uptime as "1d 2h 3m 4s", omitting leading
// zero units.
func (s Snapshot) UptimeString() string {
	return formatUptime(s.Uptime)
}

func formatUptime(d time.Duration) string {
	total := int64(d / time.Second)
	days := total / 86400
	hours := total / 3600 % 24
	minutes := total / 60 % 60
	seconds := total % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
