package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Client wraps paho.mqtt.golang for a single broker session.
//
// A Client never reconnects on its own: once the transport is lost it stays
// disconnected and the owner dials a new one when its retry policy allows.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	opts   Options

	// subscriptions tracks active subscriptions by topic.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked in separate goroutines by the paho library.
// They should not block for extended periods.
//
// Parameters:
//   - topic: The topic the message was received on (wildcards expanded)
//   - payload: The raw message payload
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// Dial makes one connection attempt to the broker described by opts.
//
// The attempt is bounded by opts.ConnectTimeout and by ctx. A broker that
// answers with a refusing CONNACK yields a *ConnackError carrying the
// return code; every failure matches ErrConnectionFailed.
//
// Parameters:
//   - ctx: Cancels the wait for the CONNACK
//   - opts: Broker address, identity, credentials and optional Will
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If the connection is not established
func Dial(ctx context.Context, opts Options) (*Client, error) {
	popts, err := buildClientOptions(opts)
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts:          opts,
		subscriptions: make(map[string]subscription),
	}

	popts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(popts)
	token := c.client.Connect()

	timeout := opts.connectTimeout()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-token.Done():
	case <-waitCtx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w: no CONNACK from %s within %v", ErrConnectionFailed, ErrTimeout, opts.BrokerURL(), timeout)
	}

	// Codes above the MQTT 3.1.1 range are paho's own network/protocol markers.
	if ct, ok := token.(*pahomqtt.ConnectToken); ok {
		if code := ct.ReturnCode(); code != packets.Accepted && code <= packets.ErrRefusedNotAuthorised {
			return nil, &ConnackError{Code: code, Err: ct.Error()}
		}
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// handleDisconnect is called by paho when the transport is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// Close gracefully disconnects from the MQTT broker.
//
// When farewell is non-nil and the session is still up, it is published
// (and waited for) before disconnecting, so the broker does not fire the
// Last Will.
func (c *Client) Close(farewell *Will) error {
	if c == nil || c.client == nil {
		return nil
	}

	var err error
	if farewell != nil && c.IsConnected() {
		token := c.client.Publish(farewell.Topic, farewell.QoS, farewell.Retain, farewell.Payload)
		if !token.WaitTimeout(defaultPublishTimeout) {
			err = fmt.Errorf("%w: farewell timeout after %v", ErrPublishFailed, defaultPublishTimeout)
		} else if tokenErr := token.Error(); tokenErr != nil {
			err = fmt.Errorf("%w: %w", ErrPublishFailed, tokenErr)
		}
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return err
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// ClientID returns the identifier the session was opened with.
func (c *Client) ClientID() string {
	return c.opts.ClientID
}

// SetOnDisconnect sets a callback to be invoked when the connection is lost.
// The error parameter describes why the connection was lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
