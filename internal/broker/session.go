package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
)

// DefaultRetryCooldown is the minimum spacing between connection attempts.
const DefaultRetryCooldown = 5 * time.Second

// closeTimeout bounds waiting for an in-flight dial on Close.
const closeTimeout = 5 * time.Second

// Options configures a Session.
type Options struct {
	MQTT     config.MQTTConfig
	DeviceID string

	// Dial defaults to DialMQTT.
	Dial Dialer

	// Presence supplies the online document published on every connect.
	// It runs on the goroutine calling Tick.
	Presence func() Presence

	// OnCommand receives payloads from the command topic. It runs on a
	// transport goroutine and must hand the line off without blocking.
	OnCommand func(line string)

	// RetryCooldown defaults to DefaultRetryCooldown.
	RetryCooldown time.Duration
}

type dialResult struct {
	gen  int
	conn Conn
	err  error
}

// Session owns the node's single broker connection.
//
// Tick, Configure, Publish and Close must be called from one goroutine.
// Dials run in the background; their outcome is applied on the next Tick.
type Session struct {
	opts   Options
	topics mqtt.Topics
	qos    byte
	logger *logging.Logger

	host string
	port int
	gen  int

	state       State
	conn        Conn
	lastAttempt time.Time
	attempts    int
	lastErr     error
	connectedAt time.Time

	results chan dialResult
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSession creates a disabled session. Call Configure to set the endpoint.
func NewSession(opts Options, logger *logging.Logger) *Session {
	if opts.Dial == nil {
		opts.Dial = DialMQTT
	}
	if opts.RetryCooldown <= 0 {
		opts.RetryCooldown = DefaultRetryCooldown
	}
	if opts.Presence == nil {
		opts.Presence = func() Presence { return Presence{} }
	}
	if logger == nil {
		logger = logging.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		opts:    opts,
		topics:  mqtt.Topics{Root: opts.MQTT.TopicRoot},
		qos:     byte(max(0, min(opts.MQTT.QoS, 2))),
		logger:  logger.With("component", "broker"),
		state:   Disconnected,
		results: make(chan dialResult, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Configure sets the broker endpoint. An empty host disables the session.
// Changing the endpoint drops any current connection and allows an
// immediate attempt against the new one.
func (s *Session) Configure(host string, port int) {
	if host == s.host && port == s.port {
		return
	}

	s.disconnect(ReasonShutdown)
	s.host = host
	s.port = port
	s.gen++
	s.lastAttempt = time.Time{}

	if host == "" {
		s.logger.Info("broker disabled")
		return
	}
	s.logger.Info("broker configured", "host", host, "port", port)
}

// Tick advances the session. It does nothing while disabled or while the
// link is down. When disconnected it dials at most once per retry cooldown;
// when connected it detects transport loss. It never blocks on the network.
func (s *Session) Tick(now time.Time, linkUp bool) {
	s.collect()

	if s.host == "" || !linkUp {
		return
	}

	switch s.state {
	case Connecting:
		return
	case Connected:
		if !s.conn.IsConnected() {
			s.logger.Warn("broker connection lost", "host", s.host, "port", s.port)
			s.drop()
		}
		return
	}

	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < s.opts.RetryCooldown {
		return
	}
	s.startDial(now)
}

func (s *Session) startDial(now time.Time) {
	s.lastAttempt = now
	s.attempts++
	s.state = Connecting

	opts := mqtt.OptionsFromConfig(s.opts.MQTT, s.host, s.port, s.ClientID())
	will, err := s.presencePayload(Presence{Status: StatusOffline, Reason: ReasonUnexpected})
	if err == nil {
		opts.Will = &mqtt.Will{Topic: s.StatusTopic(), Payload: will, QoS: 1, Retain: true}
	}

	s.logger.Debug("connecting to broker", "host", s.host, "port", s.port, "client_id", opts.ClientID, "attempt", s.attempts)

	gen := s.gen
	dial := s.opts.Dial
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		conn, err := dial(s.ctx, opts)
		s.results <- dialResult{gen: gen, conn: conn, err: err}
	}()
}

// collect applies a finished dial, if any.
func (s *Session) collect() {
	var res dialResult
	select {
	case res = <-s.results:
	default:
		return
	}

	if res.gen != s.gen {
		discard(res)
		return
	}

	if res.err != nil {
		s.state = Disconnected
		s.lastErr = fmt.Errorf("%w: %w", ErrUnreachable, res.err)
		args := []any{"host", s.host, "port", s.port, "error", res.err}
		if code, ok := mqtt.ReturnCode(res.err); ok {
			args = append(args, "rc", code)
		}
		s.logger.Warn("broker connection failed", args...)
		return
	}

	s.conn = res.conn
	s.state = Connected
	s.lastErr = nil
	s.connectedAt = time.Now()
	s.logger.Info("broker connected", "host", s.host, "port", s.port)

	s.announce()
	s.subscribe()
}

// announce publishes the retained online presence.
func (s *Session) announce() {
	p := s.opts.Presence()
	p.Status = StatusOnline
	payload, err := s.presencePayload(p)
	if err != nil {
		s.logger.Error("encoding presence", "error", err)
		return
	}
	if err := s.conn.Publish(s.StatusTopic(), payload, 1, true); err != nil {
		s.logger.Warn("publishing presence", "error", err)
	}
}

func (s *Session) subscribe() {
	if s.opts.OnCommand == nil {
		return
	}
	handler := s.opts.OnCommand
	err := s.conn.Subscribe(s.topics.Command(s.opts.DeviceID), 1, func(_ string, payload []byte) error {
		handler(string(payload))
		return nil
	})
	if err != nil {
		s.logger.Warn("subscribing to command topic", "error", err)
	}
}

func (s *Session) presencePayload(p Presence) ([]byte, error) {
	p.DeviceID = s.opts.DeviceID
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	return json.Marshal(p)
}

// Publish sends payload on topic. While not connected it returns false and
// does nothing else: readings are fire-and-forget and never queued.
func (s *Session) Publish(topic string, payload []byte, retain bool) bool {
	if s.state != Connected || s.conn == nil {
		return false
	}
	if err := s.conn.Publish(topic, payload, s.qos, retain); err != nil {
		s.logger.Debug("publish failed", "topic", topic, "error", err)
		if !s.conn.IsConnected() {
			s.logger.Warn("broker connection lost", "host", s.host, "port", s.port)
			s.drop()
		}
		return false
	}
	return true
}

// Respond publishes a command result on the response topic.
func (s *Session) Respond(text string) bool {
	return s.Publish(s.topics.Response(s.opts.DeviceID), []byte(text), false)
}

// drop forgets a dead connection without a farewell.
func (s *Session) drop() {
	if s.conn != nil {
		s.conn.Close(nil) //nolint:errcheck // transport already gone
	}
	s.conn = nil
	s.state = Disconnected
}

// disconnect closes a live connection with an offline farewell.
func (s *Session) disconnect(reason string) {
	if s.conn == nil {
		s.state = Disconnected
		return
	}

	var farewell *mqtt.Will
	if payload, err := s.presencePayload(Presence{Status: StatusOffline, Reason: reason}); err == nil {
		farewell = &mqtt.Will{Topic: s.StatusTopic(), Payload: payload, QoS: 1, Retain: true}
	}
	if err := s.conn.Close(farewell); err != nil {
		s.logger.Warn("closing broker connection", "error", err)
	}
	s.conn = nil
	s.state = Disconnected
	s.logger.Info("broker disconnected", "reason", reason)
}

// Close publishes a graceful offline status and disconnects. An in-flight
// dial is cancelled and awaited.
func (s *Session) Close() error {
	s.disconnect(ReasonShutdown)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	timeout := time.After(closeTimeout)
	for waiting := true; waiting; {
		select {
		case <-done:
			waiting = false
		case res := <-s.results:
			discard(res)
		case <-timeout:
			s.logger.Warn("broker dial still running at close")
			waiting = false
		}
	}

	for {
		select {
		case res := <-s.results:
			discard(res)
		default:
			s.state = Disconnected
			return nil
		}
	}
}

func discard(res dialResult) {
	if res.conn != nil {
		res.conn.Close(nil) //nolint:errcheck // never announced
	}
}

// State returns the session state.
func (s *Session) State() State {
	return s.state
}

// Connected reports whether the session is Connected.
func (s *Session) Connected() bool {
	return s.state == Connected
}

// Enabled reports whether an endpoint is configured.
func (s *Session) Enabled() bool {
	return s.host != ""
}

// Endpoint returns the configured host and port.
func (s *Session) Endpoint() (string, int) {
	return s.host, s.port
}

// Attempts returns the number of connection attempts made.
func (s *Session) Attempts() int {
	return s.attempts
}

// LastError returns the most recent connection failure, or nil.
func (s *Session) LastError() error {
	return s.lastErr
}

// ClientID returns the client identifier derived from the device id.
func (s *Session) ClientID() string {
	return "graynode-" + s.opts.DeviceID
}

// Topics returns the topic builder for this session's root.
func (s *Session) Topics() mqtt.Topics {
	return s.topics
}

// DeviceID returns the device id topics are built for.
func (s *Session) DeviceID() string {
	return s.opts.DeviceID
}

// StatusTopic returns the retained presence topic.
func (s *Session) StatusTopic() string {
	return s.topics.Status(s.opts.DeviceID)
}

// ConnectedSince returns when the current connection was established, or
// the zero time while not connected.
func (s *Session) ConnectedSince() time.Time {
	if s.state != Connected {
		return time.Time{}
	}
	return s.connectedAt
}
