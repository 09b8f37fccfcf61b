package mqtt

import (
	"errors"
	"fmt"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when a connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or invalid topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")
)

// ConnackError carries the broker's CONNACK return code for a refused
// connection. It matches ErrConnectionFailed with errors.Is.
type ConnackError struct {
	Code byte
	Err  error
}

func (e *ConnackError) Error() string {
	reason, ok := packets.ConnackReturnCodes[e.Code]
	if !ok {
		reason = "unknown return code"
	}
	if e.Err != nil {
		return fmt.Sprintf("mqtt: connack %d (%s): %v", e.Code, reason, e.Err)
	}
	return fmt.Sprintf("mqtt: connack %d (%s)", e.Code, reason)
}

func (e *ConnackError) Is(target error) bool {
	return target == ErrConnectionFailed
}

func (e *ConnackError) Unwrap() error {
	return e.Err
}

// ReturnCode extracts the CONNACK return code from err, if it carries one.
func ReturnCode(err error) (byte, bool) {
	var ce *ConnackError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}
