package mqtt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
)

// =============================================================================
// Options Tests
// =============================================================================

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.MQTTConfig{
		KeepAlive:      30,
		ConnectTimeout: 2,
		Auth:           config.MQTTAuthConfig{Username: "node", Password: "secret"},
	}

	o := OptionsFromConfig(cfg, "broker.local", 1883, "graynode-node-001")

	if o.BrokerURL() != "tcp://broker.local:1883" {
		t.Errorf("BrokerURL() = %q, want %q", o.BrokerURL(), "tcp://broker.local:1883")
	}
	if o.ClientID != "graynode-node-001" {
		t.Errorf("ClientID = %q, want %q", o.ClientID, "graynode-node-001")
	}
	if o.KeepAlive != 30*time.Second {
		t.Errorf("KeepAlive = %v, want 30s", o.KeepAlive)
	}
	if o.connectTimeout() != 2*time.Second {
		t.Errorf("connectTimeout() = %v, want 2s", o.connectTimeout())
	}
	if o.Username != "node" || o.Password != "secret" {
		t.Errorf("credentials = %q/%q, want node/secret", o.Username, o.Password)
	}
}

func TestBrokerURL_IPv6(t *testing.T) {
	o := Options{Host: "fd00::10", Port: 1883}
	if got := o.BrokerURL(); got != "tcp://[fd00::10]:1883" {
		t.Errorf("BrokerURL() = %q, want %q", got, "tcp://[fd00::10]:1883")
	}
}

func TestBuildClientOptions(t *testing.T) {
	o := Options{
		Host:     "127.0.0.1",
		Port:     1883,
		ClientID: "graynode-test",
		Will:     &Will{Topic: "graynode/devices/test/status", Payload: []byte(`{"status":"offline"}`), QoS: 1, Retain: true},
	}

	popts, err := buildClientOptions(o)
	if err != nil {
		t.Fatalf("buildClientOptions() error = %v", err)
	}
	if popts.AutoReconnect {
		t.Error("AutoReconnect = true, want false")
	}
	if popts.ConnectRetry {
		t.Error("ConnectRetry = true, want false")
	}
	if popts.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", popts.ConnectTimeout, defaultConnectTimeout)
	}
	if !popts.WillEnabled || popts.WillTopic != o.Will.Topic || !popts.WillRetained {
		t.Errorf("will = %v/%q/%v, want enabled retained on %q", popts.WillEnabled, popts.WillTopic, popts.WillRetained, o.Will.Topic)
	}
	if popts.ClientID != "graynode-test" {
		t.Errorf("ClientID = %q, want %q", popts.ClientID, "graynode-test")
	}
}

func TestBuildClientOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"empty host", Options{Port: 1883}},
		{"zero port", Options{Host: "broker", Port: 0}},
		{"port too large", Options{Host: "broker", Port: 70000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildClientOptions(tt.opts)
			if !errors.Is(err, ErrConnectionFailed) {
				t.Errorf("buildClientOptions() error = %v, want ErrConnectionFailed", err)
			}
		})
	}
}

// =============================================================================
// Dial Tests
// =============================================================================

func TestDial_Refused(t *testing.T) {
	// Port 1 on loopback is never an MQTT broker.
	start := time.Now()
	_, err := Dial(context.Background(), Options{
		Host:           "127.0.0.1",
		Port:           1,
		ClientID:       "graynode-test",
		ConnectTimeout: time.Second,
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Dial() error = %v, want ErrConnectionFailed", err)
	}
	if _, ok := ReturnCode(err); ok {
		t.Errorf("ReturnCode() ok = true for a transport failure, want false")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Dial() took %v, want bounded by the connect timeout", elapsed)
	}
}

func TestDial_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 192.0.2.0/24 is TEST-NET-1 and never answers.
	_, err := Dial(ctx, Options{Host: "192.0.2.1", Port: 1883, ClientID: "graynode-test", ConnectTimeout: 5 * time.Second})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Dial() error = %v, want ErrConnectionFailed", err)
	}
}

func TestDial_InvalidOptions(t *testing.T) {
	_, err := Dial(context.Background(), Options{Port: 1883})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Dial() error = %v, want ErrConnectionFailed", err)
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(nil); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

// =============================================================================
// Error Tests
// =============================================================================

func TestConnackError(t *testing.T) {
	err := error(&ConnackError{Code: packets.ErrRefusedNotAuthorised})

	if !errors.Is(err, ErrConnectionFailed) {
		t.Error("errors.Is(ConnackError, ErrConnectionFailed) = false, want true")
	}
	code, ok := ReturnCode(err)
	if !ok || code != packets.ErrRefusedNotAuthorised {
		t.Errorf("ReturnCode() = %d, %v; want %d, true", code, ok, packets.ErrRefusedNotAuthorised)
	}
	if !strings.Contains(err.Error(), "connack 5") {
		t.Errorf("Error() = %q, want it to name the code", err.Error())
	}

	wrapped := errors.Join(errors.New("dial"), err)
	if code, ok := ReturnCode(wrapped); !ok || code != 5 {
		t.Errorf("ReturnCode(wrapped) = %d, %v; want 5, true", code, ok)
	}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	custom := Topics{Root: "farm/nodes/"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"status", topics.Status("node-001"), "graynode/devices/node-001/status"},
		{"sensors", topics.Sensors("node-001"), "graynode/devices/node-001/sensors"},
		{"soil", topics.SensorClass("node-001", ClassSoil), "graynode/devices/node-001/sensors/soil"},
		{"environment", topics.SensorClass("node-001", ClassEnvironment), "graynode/devices/node-001/sensors/environment"},
		{"uv", topics.SensorClass("node-001", ClassUV), "graynode/devices/node-001/sensors/uv"},
		{"rain", topics.SensorClass("node-001", ClassRain), "graynode/devices/node-001/sensors/rain"},
		{"command", topics.Command("node-001"), "graynode/devices/node-001/command"},
		{"response", topics.Response("node-001"), "graynode/devices/node-001/response"},
		{"alarm", topics.Alarm("node-001"), "graynode/devices/node-001/alarm"},
		{"all devices", topics.AllDevices(), "graynode/devices/+/status"},
		{"custom root", custom.Status("greenhouse"), "farm/nodes/greenhouse/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
