package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root bootstrap configuration for a Gray Logic node.
//
// This is the agent's own configuration (where to store state, how to drive
// the radio, which ports to listen on). The operator-editable device record
// (credentials, broker endpoint, tunables) lives in the settings store.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Store     StoreConfig     `yaml:"store"`
	Link      LinkConfig      `yaml:"link"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	TimeSync  TimeSyncConfig  `yaml:"timesync"`
	MDNS      MDNSConfig      `yaml:"mdns"`
	GPIO      GPIOConfig      `yaml:"gpio"`
	Console   ConsoleConfig   `yaml:"console"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// NodeConfig identifies the node and its firmware.
type NodeConfig struct {
	Name            string `yaml:"name"`
	DefaultDeviceID string `yaml:"default_device_id"`
	Version         string `yaml:"version"`
}

// StoreConfig contains SQLite settings for the persisted device record.
type StoreConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LinkConfig contains wireless link settings.
type LinkConfig struct {
	// Driver selects the link backend: "nm" (NetworkManager + hostapd) or "sim".
	Driver    string `yaml:"driver"`
	Interface string `yaml:"interface"`

	// ConnectTimeout bounds a single association attempt (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// ScanTimeout bounds a network scan (seconds).
	ScanTimeout int `yaml:"scan_timeout"`

	// ReconnectCooldown is the minimum spacing between reconnect requests (seconds).
	ReconnectCooldown int `yaml:"reconnect_cooldown"`

	HostapdBinary string `yaml:"hostapd_binary"`
	DnsmasqBinary string `yaml:"dnsmasq_binary"`
	NmcliBinary   string `yaml:"nmcli_binary"`
	IPBinary      string `yaml:"ip_binary"`
	// IwBinary adds the station interface beside the access point.
	// Empty disables it; joins from the portal then pause the AP.
	IwBinary string `yaml:"iw_binary"`

	// RuntimeDir holds generated daemon configuration files.
	RuntimeDir string `yaml:"runtime_dir"`

	AccessPoint AccessPointConfig `yaml:"access_point"`

	// Simulated contains the networks visible to the "sim" driver.
	Simulated []SimulatedNetwork `yaml:"simulated"`
}

// AccessPointConfig describes the provisioning access point.
type AccessPointConfig struct {
	SSID       string `yaml:"ssid"`
	Password   string `yaml:"password"`
	Channel    int    `yaml:"channel"`
	MaxClients int    `yaml:"max_clients"`
	Address    string `yaml:"address"`
	DNSPort    int    `yaml:"dns_port"`
}

// SimulatedNetwork is a network advertised by the simulated link driver.
type SimulatedNetwork struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
	RSSI     int    `yaml:"rssi"`
	Address  string `yaml:"address"`
}

// MQTTConfig contains broker session settings.
// The broker endpoint itself is part of the persisted device record.
type MQTTConfig struct {
	TopicRoot string `yaml:"topic_root"`
	QoS       int    `yaml:"qos"`
	KeepAlive int    `yaml:"keep_alive"`

	// RetryCooldown is the minimum spacing between connection attempts (seconds).
	RetryCooldown int `yaml:"retry_cooldown"`

	// ConnectTimeout bounds a single broker dial (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	Auth MQTTAuthConfig `yaml:"auth"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HTTPConfig contains portal and dashboard server settings.
type HTTPConfig struct {
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Timeouts HTTPTimeoutConfig `yaml:"timeouts"`
}

// HTTPTimeoutConfig contains HTTP timeout settings (seconds).
type HTTPTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains dashboard WebSocket settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// TelemetryConfig contains control loop and sampling settings.
type TelemetryConfig struct {
	// TickInterval is the control loop period in milliseconds.
	TickInterval int `yaml:"tick_interval"`

	// Seed fixes the simulated sampler's random source. 0 seeds from time.
	Seed int64 `yaml:"seed"`
}

// InfluxDBConfig contains the optional reading sink settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// TimeSyncConfig contains SNTP settings.
type TimeSyncConfig struct {
	Enabled  bool `yaml:"enabled"`
	Attempts int  `yaml:"attempts"`
	// Timeout bounds a single SNTP query (seconds).
	Timeout int `yaml:"timeout"`
}

// MDNSConfig contains dashboard advertisement settings.
type MDNSConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceType string `yaml:"service_type"`
	Domain      string `yaml:"domain"`
}

// GPIOConfig contains status LED and reset button settings.
// An empty Chip disables the indicator entirely; a negative line number
// leaves that line unused.
type GPIOConfig struct {
	Chip       string `yaml:"chip"`
	LEDLine    int    `yaml:"led_line"`
	ButtonLine int    `yaml:"button_line"`
	// ResetHold is how long the button must be held to factory reset (seconds).
	ResetHold int `yaml:"reset_hold"`
}

// ConsoleConfig contains operator command channel settings.
type ConsoleConfig struct {
	Enabled bool `yaml:"enabled"`
	// Device is a serial device path. Empty uses stdin/stdout.
	Device string `yaml:"device"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYNODE_SECTION_KEY
// For example: GRAYNODE_STORE_PATH, GRAYNODE_HTTP_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
// Used when no config file is present on a freshly imaged node.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Name:            "Gray Logic Field Node",
			DefaultDeviceID: "node-001",
			Version:         "1.0.0",
		},
		Store: StoreConfig{
			Path:        "./data/graynode.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Link: LinkConfig{
			Driver:            "nm",
			Interface:         "wlan0",
			ConnectTimeout:    15,
			ScanTimeout:       10,
			ReconnectCooldown: 10,
			HostapdBinary:     "/usr/sbin/hostapd",
			DnsmasqBinary:     "/usr/sbin/dnsmasq",
			NmcliBinary:       "/usr/bin/nmcli",
			IPBinary:          "/usr/sbin/ip",
			IwBinary:          "/usr/sbin/iw",
			RuntimeDir:        "/run/graynode",
			AccessPoint: AccessPointConfig{
				SSID:       "graynode-setup",
				Password:   "graylogic",
				Channel:    1,
				MaxClients: 4,
				Address:    "192.168.4.1",
				DNSPort:    53,
			},
		},
		MQTT: MQTTConfig{
			TopicRoot:      "graynode/devices",
			QoS:            0,
			KeepAlive:      60,
			RetryCooldown:  5,
			ConnectTimeout: 3,
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 80,
			Timeouts: HTTPTimeoutConfig{
				Read:  10,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Telemetry: TelemetryConfig{
			TickInterval: 50,
		},
		TimeSync: TimeSyncConfig{
			Enabled:  true,
			Attempts: 10,
			Timeout:  1,
		},
		MDNS: MDNSConfig{
			Enabled:     true,
			ServiceType: "_http._tcp",
			Domain:      "local.",
		},
		GPIO: GPIOConfig{
			LEDLine:    -1,
			ButtonLine: -1,
			ResetHold:  5,
		},
		Console: ConsoleConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYNODE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Store
	if v := os.Getenv("GRAYNODE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}

	// Link
	if v := os.Getenv("GRAYNODE_LINK_DRIVER"); v != "" {
		cfg.Link.Driver = v
	}
	if v := os.Getenv("GRAYNODE_LINK_INTERFACE"); v != "" {
		cfg.Link.Interface = v
	}
	if v := os.Getenv("GRAYNODE_AP_PASSWORD"); v != "" {
		cfg.Link.AccessPoint.Password = v
	}

	// MQTT
	if v := os.Getenv("GRAYNODE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYNODE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// HTTP
	if v := os.Getenv("GRAYNODE_HTTP_HOST"); v != "" {
		cfg.HTTP.Host = v
	}
	if v := os.Getenv("GRAYNODE_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("GRAYNODE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYNODE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}

	switch c.Link.Driver {
	case "nm", "sim":
	default:
		errs = append(errs, `link.driver must be "nm" or "sim"`)
	}
	if c.Link.ConnectTimeout < 1 {
		errs = append(errs, "link.connect_timeout must be at least 1 second")
	}
	if c.Link.ScanTimeout < 1 {
		errs = append(errs, "link.scan_timeout must be at least 1 second")
	}
	if c.Link.ReconnectCooldown < 1 {
		errs = append(errs, "link.reconnect_cooldown must be at least 1 second")
	}

	// WPA2 passphrases are 8..63 characters
	ap := c.Link.AccessPoint
	if ap.SSID == "" {
		errs = append(errs, "link.access_point.ssid is required")
	}
	if n := len(ap.Password); n != 0 && (n < 8 || n > 63) {
		errs = append(errs, "link.access_point.password must be 8-63 characters")
	}
	if ap.Channel < 1 || ap.Channel > 14 {
		errs = append(errs, "link.access_point.channel must be between 1 and 14")
	}
	if ap.MaxClients < 1 {
		errs = append(errs, "link.access_point.max_clients must be at least 1")
	}
	if ip := net.ParseIP(ap.Address); ip == nil || ip.To4() == nil {
		errs = append(errs, "link.access_point.address must be an IPv4 address")
	}
	if ap.DNSPort < 1 || ap.DNSPort > 65535 {
		errs = append(errs, "link.access_point.dns_port must be between 1 and 65535")
	}

	if c.MQTT.TopicRoot == "" {
		errs = append(errs, "mqtt.topic_root is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.RetryCooldown < 1 {
		errs = append(errs, "mqtt.retry_cooldown must be at least 1 second")
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, "http.port must be between 1 and 65535")
	}

	if c.Telemetry.TickInterval < 1 {
		errs = append(errs, "telemetry.tick_interval must be at least 1 millisecond")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ConnectTimeout returns the link association timeout as a Duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Link.ConnectTimeout) * time.Second
}

// ScanTimeout returns the network scan timeout as a Duration.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Link.ScanTimeout) * time.Second
}

// ReconnectCooldown returns the link reconnect cooldown as a Duration.
func (c *Config) ReconnectCooldown() time.Duration {
	return time.Duration(c.Link.ReconnectCooldown) * time.Second
}

// BrokerRetryCooldown returns the broker retry cooldown as a Duration.
func (c *Config) BrokerRetryCooldown() time.Duration {
	return time.Duration(c.MQTT.RetryCooldown) * time.Second
}

// TickInterval returns the control loop period as a Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Telemetry.TickInterval) * time.Millisecond
}
