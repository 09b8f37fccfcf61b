package mqtt

import "strings"

// DefaultTopicRoot is the prefix every device topic hangs off.
const DefaultTopicRoot = "graynode/devices"

// Sensor classes published under the sensors topic.
const (
	ClassSoil        = "soil"
	ClassEnvironment = "environment"
	ClassUV          = "uv"
	ClassRain        = "rain"
)

// Topics provides builders for a node's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{Root: "graynode/devices"}
//	topics.Status("node-001")
//	// Returns: "graynode/devices/node-001/status"
type Topics struct {
	// Root is the topic prefix. Empty uses DefaultTopicRoot.
	Root string
}

func (t Topics) root() string {
	if t.Root == "" {
		return DefaultTopicRoot
	}
	return strings.TrimSuffix(t.Root, "/")
}

func (t Topics) device(deviceID string, parts ...string) string {
	return strings.Join(append([]string{t.root(), deviceID}, parts...), "/")
}

// Status returns the retained presence topic.
//
// Example: graynode/devices/node-001/status
func (t Topics) Status(deviceID string) string {
	return t.device(deviceID, "status")
}

// Sensors returns the combined sensor reading topic.
//
// Example: graynode/devices/node-001/sensors
func (t Topics) Sensors(deviceID string) string {
	return t.device(deviceID, "sensors")
}

// SensorClass returns the per-class sensor topic.
//
// Example: graynode/devices/node-001/sensors/soil
func (t Topics) SensorClass(deviceID, class string) string {
	return t.device(deviceID, "sensors", class)
}

// Command returns the topic the node accepts operator commands on.
//
// Example: graynode/devices/node-001/command
func (t Topics) Command(deviceID string) string {
	return t.device(deviceID, "command")
}

// Response returns the topic command results are published to.
//
// Example: graynode/devices/node-001/response
func (t Topics) Response(deviceID string) string {
	return t.device(deviceID, "response")
}

// Alarm returns the topic threshold alarms are published to.
//
// Example: graynode/devices/node-001/alarm
func (t Topics) Alarm(deviceID string) string {
	return t.device(deviceID, "alarm")
}

// AllDevices returns a wildcard pattern matching every device's status.
//
// Example: graynode/devices/+/status
func (t Topics) AllDevices() string {
	return t.root() + "/+/status"
}
