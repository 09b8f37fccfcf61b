package mqtt

import (
	"fmt"
	"net"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds a single dial when Options leaves it unset.
	defaultConnectTimeout = 3 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2
)

// Will is a Last Will and Testament registered with the broker at connect.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Options describes one broker connection.
type Options struct {
	Host     string
	Port     int
	ClientID string

	Username string
	Password string

	KeepAlive      time.Duration
	ConnectTimeout time.Duration

	// Will is optional.
	Will *Will
}

// OptionsFromConfig combines the bootstrap MQTT section with the runtime
// broker address and client id.
func OptionsFromConfig(cfg config.MQTTConfig, host string, port int, clientID string) Options {
	return Options{
		Host:           host,
		Port:           port,
		ClientID:       clientID,
		Username:       cfg.Auth.Username,
		Password:       cfg.Auth.Password,
		KeepAlive:      time.Duration(cfg.KeepAlive) * time.Second,
		ConnectTimeout: time.Duration(cfg.ConnectTimeout) * time.Second,
	}
}

// BrokerURL returns the tcp:// URL for the options' host and port.
func (o Options) BrokerURL() string {
	return "tcp://" + net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout > 0 {
		return o.ConnectTimeout
	}
	return defaultConnectTimeout
}

// buildClientOptions creates paho MQTT options.
//
// This configures:
//   - Broker URL and client ID
//   - Authentication credentials (if provided)
//   - Clean session, no automatic reconnect or connect retry
//   - Keepalive and connect timeout
//   - Last Will (if provided)
//
// Reconnection is paced by the caller, so paho must give up after a single
// attempt.
func buildClientOptions(o Options) (*pahomqtt.ClientOptions, error) {
	if o.Host == "" {
		return nil, fmt.Errorf("%w: broker host is empty", ErrConnectionFailed)
	}
	if o.Port <= 0 || o.Port > 65535 {
		return nil, fmt.Errorf("%w: broker port %d out of range", ErrConnectionFailed, o.Port)
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(o.BrokerURL())
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(o.connectTimeout())
	opts.SetWriteTimeout(defaultPublishTimeout)

	keepAlive := o.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if o.Will != nil && o.Will.Topic != "" {
		opts.SetBinaryWill(o.Will.Topic, o.Will.Payload, o.Will.QoS, o.Will.Retain)
	}

	return opts, nil
}
