package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/settings"
)

// Broker is the outbound half of a broker session.
type Broker interface {
	// Publish returns false when the message was dropped.
	Publish(topic string, payload []byte, retain bool) bool
}

// Sink stores readings outside the broker.
type Sink interface {
	WriteReading(deviceID, class string, fields map[string]any, ts time.Time)
	WriteAlarm(deviceID, kind string, value, limit float64, ts time.Time)
}

// Broadcaster pushes events to live dashboard clients.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Options wires a Publisher. Sink and Hub are optional.
type Options struct {
	DeviceID string
	Topics   mqtt.Topics
	Sampler  Sampler
	Broker   Broker

	// Diag receives one StatusLine per reading.
	Diag io.Writer

	Sink Sink
	Hub  Broadcaster

	// Started is the boot time readings report uptime from.
	Started time.Time
}

// Stats counts publisher activity since creation.
type Stats struct {
	Samples   int64 `json:"samples"`
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Errors    int64 `json:"errors"`
}

// Publisher samples on a fixed interval and fans each reading out to the
// diagnostic side-channel, the broker, the optional sink and live clients.
//
// All methods must be called from the orchestrator goroutine.
type Publisher struct {
	opts   Options
	logger *logging.Logger

	interval time.Duration
	mask     settings.SensorMask
	limits   settings.Alarms

	lastSample time.Time
	latest     Reading
	hasLatest  bool
	alarms     alarmState
	stats      Stats
}

// NewPublisher creates a publisher using the factory defaults until
// Configure is called.
func NewPublisher(opts Options, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Default()
	}
	if opts.Diag == nil {
		opts.Diag = io.Discard
	}
	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}

	p := &Publisher{
		opts:   opts,
		logger: logger.With("component", "telemetry"),
	}
	p.Configure(settings.Defaults())
	return p
}

// Configure applies the persisted read interval, sensor mask and alarm
// thresholds. The next reading stays due relative to the previous one.
func (p *Publisher) Configure(cfg settings.DeviceConfig) {
	p.interval = time.Duration(cfg.ReadInterval) * time.Second
	p.mask = cfg.Sensors
	p.limits = cfg.Alarms
}

// Interval returns the current read interval.
func (p *Publisher) Interval() time.Duration {
	return p.interval
}

// Tick emits a reading if one is due. The first call is always due.
func (p *Publisher) Tick(ctx context.Context, now time.Time) bool {
	if !p.lastSample.IsZero() && now.Sub(p.lastSample) < p.interval {
		return false
	}
	p.lastSample = now

	if _, err := p.Emit(ctx, now); err != nil {
		p.logger.Warn("sampling failed", "error", err)
		return false
	}
	return true
}

// Emit samples and delivers one reading immediately, regardless of the
// interval.
func (p *Publisher) Emit(ctx context.Context, now time.Time) (Reading, error) {
	r, err := p.opts.Sampler.Sample(ctx, p.mask)
	if err != nil {
		p.stats.Errors++
		return Reading{}, fmt.Errorf("sampling: %w", err)
	}
	r.DeviceID = p.opts.DeviceID
	r.Time = now.UTC()
	r.Uptime = int64(now.Sub(p.opts.Started) / time.Second)

	p.stats.Samples++
	p.latest = r
	p.hasLatest = true

	p.writeDiag(r)
	p.publish(r)
	p.store(r)
	if p.opts.Hub != nil {
		p.opts.Hub.Broadcast("reading", r)
	}

	for _, a := range p.alarms.update(Evaluate(r, p.limits)) {
		p.raise(r, a)
	}

	p.logger.Debug("reading emitted", "uptime", r.Uptime, "classes", len(r.Classes()))
	return r, nil
}

func (p *Publisher) writeDiag(r Reading) {
	line, err := r.StatusLine()
	if err != nil {
		p.logger.Error("encoding status line", "error", err)
		return
	}
	if _, err := io.WriteString(p.opts.Diag, line+"\n"); err != nil {
		p.logger.Debug("writing status line", "error", err)
	}
}

// publish sends the combined reading and each class. Nothing is retained
// or queued; a dropped reading is superseded by the next one.
func (p *Publisher) publish(r Reading) {
	if p.opts.Broker == nil {
		p.stats.Dropped++
		return
	}

	payload, err := json.Marshal(r)
	if err != nil {
		p.logger.Error("encoding reading", "error", err)
		return
	}
	if !p.opts.Broker.Publish(p.opts.Topics.Sensors(r.DeviceID), payload, false) {
		p.stats.Dropped++
		return
	}
	p.stats.Published++

	for _, c := range r.Classes() {
		body, err := r.ClassPayload(c)
		if err != nil {
			continue
		}
		p.opts.Broker.Publish(p.opts.Topics.SensorClass(r.DeviceID, c.Class), body, false)
	}
}

func (p *Publisher) store(r Reading) {
	if p.opts.Sink == nil {
		return
	}
	for _, c := range r.Classes() {
		p.opts.Sink.WriteReading(r.DeviceID, c.Class, c.Fields, r.Time)
	}
}

func (p *Publisher) raise(r Reading, a Alarm) {
	if a.Active {
		p.logger.Warn("alarm raised", "kind", a.Kind, "value", a.Value, "limit", a.Limit)
	} else {
		p.logger.Info("alarm cleared", "kind", a.Kind)
	}

	if p.opts.Broker != nil {
		if payload, err := json.Marshal(struct {
			DeviceID  string    `json:"deviceId"`
			Timestamp time.Time `json:"timestamp"`
			Alarm
		}{r.DeviceID, r.Time, a}); err == nil {
			p.opts.Broker.Publish(p.opts.Topics.Alarm(r.DeviceID), payload, false)
		}
	}
	if p.opts.Sink != nil && a.Active {
		p.opts.Sink.WriteAlarm(r.DeviceID, a.Kind, a.Value, a.Limit, r.Time)
	}
	if p.opts.Hub != nil {
		p.opts.Hub.Broadcast("alarm", a)
	}
}

// Latest returns the most recent reading.
func (p *Publisher) Latest() (Reading, bool) {
	return p.latest, p.hasLatest
}

// Stats returns activity counters.
func (p *Publisher) Stats() Stats {
	return p.stats
}
