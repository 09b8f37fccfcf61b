package broker

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/settings"
)

// State is the broker session state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Presence status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Offline reasons.
const (
	ReasonUnexpected = "unexpected_disconnect"
	ReasonShutdown   = "graceful_shutdown"
)

// Presence is the retained document published on the status topic.
type Presence struct {
	DeviceID  string                 `json:"deviceId"`
	Status    string                 `json:"status"`
	Reason    string                 `json:"reason,omitempty"`
	Address   string                 `json:"ip,omitempty"`
	Version   string                 `json:"version,omitempty"`
	RSSI      int                    `json:"rssi,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Config    *settings.DeviceConfig `json:"config,omitempty"`
}

// Conn is one live broker connection.
type Conn interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	Close(farewell *mqtt.Will) error
}

// Dialer opens a broker connection.
type Dialer func(ctx context.Context, opts mqtt.Options) (Conn, error)

// DialMQTT is the Dialer backed by package mqtt.
func DialMQTT(ctx context.Context, opts mqtt.Options) (Conn, error) {
	c, err := mqtt.Dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}
