package settings

import (
	"fmt"
	"strings"
)

// Bounds and defaults of the device record.
const (
	DefaultDeviceID       = "node-001"
	DefaultBrokerPort     = 1883
	DefaultReadInterval   = 30
	MinReadInterval       = 5
	MaxReadInterval       = 3600
	DefaultSleepMinutes   = 5
	DefaultHumidityMin    = 20
	DefaultHumidityMax    = 80
	DefaultTemperatureMax = 40
	DefaultNTPServer      = "pool.ntp.org"
	DefaultUTCOffset      = 3
	DefaultDebugLevel     = 1
	MaxDebugLevel         = 3
)

// SensorMask selects which sensor classes are sampled.
type SensorMask uint8

// Sensor classes.
const (
	SensorSoil        SensorMask = 1 << iota // soil moisture
	SensorTemperature                        // air temperature and humidity
	SensorUV
	SensorRain

	AllSensors = SensorSoil | SensorTemperature | SensorUV | SensorRain
)

// Has reports whether every class in s is enabled.
func (m SensorMask) Has(s SensorMask) bool {
	return m&s == s
}

// String renders the mask as four binary digits, rain first.
func (m SensorMask) String() string {
	return fmt.Sprintf("%04b", uint8(m&AllSensors))
}

// Alarms holds the threshold values evaluated against each sample.
type Alarms struct {
	HumidityMin    int `json:"humidityMin"`
	HumidityMax    int `json:"humidityMax"`
	TemperatureMax int `json:"temperatureMax"`
}

// DeviceConfig is the single persisted device record.
type DeviceConfig struct {
	DeviceID string `json:"deviceId"`

	// SSID empty means the node is unconfigured and boots into Setup.
	SSID       string `json:"ssid"`
	Passphrase string `json:"-"`

	// BrokerHost empty disables the broker session.
	BrokerHost string `json:"mqttHost"`
	BrokerPort int    `json:"mqttPort"`

	ReadInterval int        `json:"readInterval"`
	Sensors      SensorMask `json:"sensors"`

	SleepEnabled bool `json:"sleepEnabled"`
	SleepMinutes int  `json:"sleepMinutes"`

	Alarms Alarms `json:"alarms"`

	NTPServer string `json:"ntpServer"`
	UTCOffset int    `json:"utcOffset"`

	DebugLevel int  `json:"debugLevel"`
	LEDEnabled bool `json:"ledEnabled"`
}

// Defaults returns the factory-default record.
func Defaults() DeviceConfig {
	return DeviceConfig{
		DeviceID:     DefaultDeviceID,
		BrokerPort:   DefaultBrokerPort,
		ReadInterval: DefaultReadInterval,
		Sensors:      AllSensors,
		SleepMinutes: DefaultSleepMinutes,
		Alarms: Alarms{
			HumidityMin:    DefaultHumidityMin,
			HumidityMax:    DefaultHumidityMax,
			TemperatureMax: DefaultTemperatureMax,
		},
		NTPServer:  DefaultNTPServer,
		UTCOffset:  DefaultUTCOffset,
		DebugLevel: DefaultDebugLevel,
		LEDEnabled: true,
	}
}

// Configured reports whether link credentials have been provisioned.
func (c DeviceConfig) Configured() bool {
	return c.SSID != ""
}

// BrokerEnabled reports whether a broker endpoint is set.
func (c DeviceConfig) BrokerEnabled() bool {
	return c.BrokerHost != ""
}

// SetReadInterval updates the read interval. Values outside
// [MinReadInterval, MaxReadInterval] are rejected and the prior value kept.
func (c *DeviceConfig) SetReadInterval(seconds int) error {
	if seconds < MinReadInterval || seconds > MaxReadInterval {
		return fmt.Errorf("%w: read interval %d outside %d-%d", ErrInvalid, seconds, MinReadInterval, MaxReadInterval)
	}
	c.ReadInterval = seconds
	return nil
}

// SetBroker updates the broker endpoint. A non-positive port falls back to 1883.
func (c *DeviceConfig) SetBroker(host string, port int) {
	c.BrokerHost = strings.TrimSpace(host)
	c.SetBrokerPort(port)
}

// SetBrokerPort updates the broker port. A non-positive port falls back to 1883.
func (c *DeviceConfig) SetBrokerPort(port int) {
	if port <= 0 || port > 65535 {
		port = DefaultBrokerPort
	}
	c.BrokerPort = port
}

// SetSleep updates sleep mode. Minutes below 1 fall back to 5.
func (c *DeviceConfig) SetSleep(enabled bool, minutes int) {
	if minutes < 1 {
		minutes = DefaultSleepMinutes
	}
	c.SleepEnabled = enabled
	c.SleepMinutes = minutes
}

// SetDebugLevel updates the diagnostic verbosity (0 Off .. 3 Verbose).
func (c *DeviceConfig) SetDebugLevel(level int) error {
	if level < 0 || level > MaxDebugLevel {
		return fmt.Errorf("%w: debug level %d outside 0-%d", ErrInvalid, level, MaxDebugLevel)
	}
	c.DebugLevel = level
	return nil
}

// Validate checks every field invariant of the record.
func (c DeviceConfig) Validate() error {
	var errs []string

	if strings.TrimSpace(c.DeviceID) == "" {
		errs = append(errs, "device id is required")
	}
	if c.BrokerPort <= 0 || c.BrokerPort > 65535 {
		errs = append(errs, "broker port must be between 1 and 65535")
	}
	if c.ReadInterval < MinReadInterval || c.ReadInterval > MaxReadInterval {
		errs = append(errs, fmt.Sprintf("read interval must be between %d and %d", MinReadInterval, MaxReadInterval))
	}
	if c.Sensors&^AllSensors != 0 {
		errs = append(errs, "sensor mask has unknown bits")
	}
	if c.SleepMinutes < 1 {
		errs = append(errs, "sleep minutes must be at least 1")
	}
	if c.DebugLevel < 0 || c.DebugLevel > MaxDebugLevel {
		errs = append(errs, "debug level must be between 0 and 3")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// normalize repairs invariant violations in a loaded record by falling
// back to the default of each offending field.
func (c *DeviceConfig) normalize() {
	if strings.TrimSpace(c.DeviceID) == "" {
		c.DeviceID = DefaultDeviceID
	}
	c.SetBrokerPort(c.BrokerPort)
	if c.ReadInterval < MinReadInterval || c.ReadInterval > MaxReadInterval {
		c.ReadInterval = DefaultReadInterval
	}
	c.Sensors &= AllSensors
	c.SetSleep(c.SleepEnabled, c.SleepMinutes)
	if c.DebugLevel < 0 || c.DebugLevel > MaxDebugLevel {
		c.DebugLevel = DefaultDebugLevel
	}
}
