package command

import (
	"fmt"

	"github.com/nerrad567/gray-logic-node/internal/settings"
)

// Command is one parsed operator command. The set of implementations is
// closed; consumers switch over the concrete types.
type Command interface {
	// Verb is the canonical upper-case verb, safe to log.
	Verb() string
	isCommand()
}

// Mutation is a command that changes the device record.
type Mutation interface {
	Command
	// Apply writes the command's values into cfg. On error cfg is unchanged.
	Apply(cfg *settings.DeviceConfig) error
	// Describe summarises the applied change for the operator.
	Describe(cfg settings.DeviceConfig) string
}

// Verbs.
const (
	VerbStatus          = "STATUS"
	VerbGetConfig       = "GET_CONFIG"
	VerbRestart         = "RESTART"
	VerbFactoryReset    = "RESET"
	VerbScan            = "SCAN"
	VerbHelp            = "HELP"
	VerbSetDeviceID     = "SET_DEVICE_ID"
	VerbSetWiFi         = "SET_WIFI"
	VerbSetMQTT         = "SET_MQTT"
	VerbSetReadInterval = "SET_READ_INTERVAL"
	VerbSetSensors      = "SET_SENSORS"
	VerbSetSleep        = "SET_SLEEP"
	VerbSetAlarms       = "SET_ALARMS"
	VerbSetNTP          = "SET_NTP"
	VerbSetDebug        = "SET_DEBUG"
	VerbSetLED          = "SET_LED"
)

type (
	// Status prints the node state and a JSON_STATUS line.
	Status struct{}
	// GetConfig prints the device record as JSON.
	GetConfig struct{}
	// Restart rebuilds the node from a clean state.
	Restart struct{}
	// FactoryReset clears the store and restarts.
	FactoryReset struct{}
	// Scan lists visible networks.
	Scan struct{}
	// Help lists the verbs.
	Help struct{}

	// Unknown is any line that matched no verb.
	Unknown struct {
		Line string
	}
)

// ReadOnly reports whether c only reads node state. Remote channels are
// limited to these; restarts, resets and record changes need the local
// console or the portal.
func ReadOnly(c Command) bool {
	switch c.(type) {
	case Status, GetConfig, Scan, Help, Unknown:
		return true
	default:
		return false
	}
}

// SetDeviceID renames the node.
type SetDeviceID struct {
	Name string
}

// SetWiFi stores link credentials. They take effect after a restart.
type SetWiFi struct {
	SSID       string
	Passphrase string
}

// SetMQTT stores the broker endpoint.
type SetMQTT struct {
	Host string
	Port int
}

// SetReadInterval stores the telemetry interval in seconds.
type SetReadInterval struct {
	Seconds int
}

// SetSensors stores the enabled sensor classes.
type SetSensors struct {
	Mask settings.SensorMask
}

// SetSleep stores the sleep mode.
type SetSleep struct {
	Enabled bool
	Minutes int
}

// SetAlarms stores alarm thresholds.
type SetAlarms struct {
	Alarms settings.Alarms
}

// SetNTP stores the time server and the UTC offset in hours.
type SetNTP struct {
	Server string
	Offset int
}

// SetDebug stores the diagnostic verbosity.
type SetDebug struct {
	Level int
}

// SetLED toggles the status indicator.
type SetLED struct {
	Enabled bool
}

func (Status) Verb() string          { return VerbStatus }
func (GetConfig) Verb() string       { return VerbGetConfig }
func (Restart) Verb() string         { return VerbRestart }
func (FactoryReset) Verb() string    { return VerbFactoryReset }
func (Scan) Verb() string            { return VerbScan }
func (Help) Verb() string            { return VerbHelp }
func (Unknown) Verb() string         { return "UNKNOWN" }
func (SetDeviceID) Verb() string     { return VerbSetDeviceID }
func (SetWiFi) Verb() string         { return VerbSetWiFi }
func (SetMQTT) Verb() string         { return VerbSetMQTT }
func (SetReadInterval) Verb() string { return VerbSetReadInterval }
func (SetSensors) Verb() string      { return VerbSetSensors }
func (SetSleep) Verb() string        { return VerbSetSleep }
func (SetAlarms) Verb() string       { return VerbSetAlarms }
func (SetNTP) Verb() string          { return VerbSetNTP }
func (SetDebug) Verb() string        { return VerbSetDebug }
func (SetLED) Verb() string          { return VerbSetLED }

func (Status) isCommand()          {}
func (GetConfig) isCommand()       {}
func (Restart) isCommand()         {}
func (FactoryReset) isCommand()    {}
func (Scan) isCommand()            {}
func (Help) isCommand()            {}
func (Unknown) isCommand()         {}
func (SetDeviceID) isCommand()     {}
func (SetWiFi) isCommand()         {}
func (SetMQTT) isCommand()         {}
func (SetReadInterval) isCommand() {}
func (SetSensors) isCommand()      {}
func (SetSleep) isCommand()        {}
func (SetAlarms) isCommand()       {}
func (SetNTP) isCommand()          {}
func (SetDebug) isCommand()        {}
func (SetLED) isCommand()          {}

func (c SetDeviceID) Apply(cfg *settings.DeviceConfig) error {
	if err := validateDeviceID(c.Name); err != nil {
		return err
	}
	cfg.DeviceID = c.Name
	return nil
}

func (c SetDeviceID) Describe(cfg settings.DeviceConfig) string {
	return "device id saved: " + cfg.DeviceID
}

func (c SetWiFi) Apply(cfg *settings.DeviceConfig) error {
	if err := validateCredentials(c.SSID, c.Passphrase); err != nil {
		return err
	}
	cfg.SSID = c.SSID
	cfg.Passphrase = c.Passphrase
	return nil
}

func (c SetWiFi) Describe(cfg settings.DeviceConfig) string {
	return "wifi saved, ssid: " + cfg.SSID
}

func (c SetMQTT) Apply(cfg *settings.DeviceConfig) error {
	if c.Host == "" {
		return fmt.Errorf("%w: usage %s", ErrBadFormat, usage[VerbSetMQTT])
	}
	cfg.SetBroker(c.Host, c.Port)
	return nil
}

func (c SetMQTT) Describe(cfg settings.DeviceConfig) string {
	return fmt.Sprintf("mqtt saved: %s:%d", cfg.BrokerHost, cfg.BrokerPort)
}

func (c SetReadInterval) Apply(cfg *settings.DeviceConfig) error {
	if err := cfg.SetReadInterval(c.Seconds); err != nil {
		return fmt.Errorf("%w: %w", ErrOutOfRange, err)
	}
	return nil
}

func (c SetReadInterval) Describe(cfg settings.DeviceConfig) string {
	return fmt.Sprintf("read interval: %d seconds", cfg.ReadInterval)
}

func (c SetSensors) Apply(cfg *settings.DeviceConfig) error {
	if c.Mask&^settings.AllSensors != 0 {
		return fmt.Errorf("%w: sensor mask %#x", ErrOutOfRange, uint8(c.Mask))
	}
	cfg.Sensors = c.Mask
	return nil
}

func (c SetSensors) Describe(cfg settings.DeviceConfig) string {
	m := cfg.Sensors
	return fmt.Sprintf("sensors: %s (soil:%d temp:%d uv:%d rain:%d)", m,
		bit(m, settings.SensorSoil), bit(m, settings.SensorTemperature),
		bit(m, settings.SensorUV), bit(m, settings.SensorRain))
}

func (c SetSleep) Apply(cfg *settings.DeviceConfig) error {
	cfg.SetSleep(c.Enabled, c.Minutes)
	return nil
}

func (c SetSleep) Describe(cfg settings.DeviceConfig) string {
	state := "off"
	if cfg.SleepEnabled {
		state = "on"
	}
	return fmt.Sprintf("sleep: %s, %d minutes", state, cfg.SleepMinutes)
}

func (c SetAlarms) Apply(cfg *settings.DeviceConfig) error {
	if err := validateAlarms(c.Alarms); err != nil {
		return err
	}
	cfg.Alarms = c.Alarms
	return nil
}

func (c SetAlarms) Describe(cfg settings.DeviceConfig) string {
	a := cfg.Alarms
	return fmt.Sprintf("alarms: humidity %d-%d%%, temperature <%dC", a.HumidityMin, a.HumidityMax, a.TemperatureMax)
}

func (c SetNTP) Apply(cfg *settings.DeviceConfig) error {
	if c.Server == "" {
		return fmt.Errorf("%w: usage %s", ErrBadFormat, usage[VerbSetNTP])
	}
	if err := validateOffset(c.Offset); err != nil {
		return err
	}
	cfg.NTPServer = c.Server
	cfg.UTCOffset = c.Offset
	return nil
}

func (c SetNTP) Describe(cfg settings.DeviceConfig) string {
	return fmt.Sprintf("ntp: %s, GMT%+d", cfg.NTPServer, cfg.UTCOffset)
}

func (c SetDebug) Apply(cfg *settings.DeviceConfig) error {
	if err := cfg.SetDebugLevel(c.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrOutOfRange, err)
	}
	return nil
}

func (c SetDebug) Describe(cfg settings.DeviceConfig) string {
	return "debug level: " + DebugLevelName(cfg.DebugLevel)
}

func (c SetLED) Apply(cfg *settings.DeviceConfig) error {
	cfg.LEDEnabled = c.Enabled
	return nil
}

func (c SetLED) Describe(cfg settings.DeviceConfig) string {
	if cfg.LEDEnabled {
		return "led: on"
	}
	return "led: off"
}

// DebugLevelName names a diagnostic verbosity.
func DebugLevelName(level int) string {
	switch level {
	case 0:
		return "Off"
	case 1:
		return "Error"
	case 2:
		return "Info"
	case 3:
		return "Verbose"
	default:
		return "Unknown"
	}
}

func bit(m, s settings.SensorMask) int {
	if m.Has(s) {
		return 1
	}
	return 0
}
