package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/settings"
)

type published struct {
	topic   string
	payload []byte
	retain  bool
}

type fakeBroker struct {
	up   bool
	sent []published
}

func (b *fakeBroker) Publish(topic string, payload []byte, retain bool) bool {
	if !b.up {
		return false
	}
	b.sent = append(b.sent, published{topic, payload, retain})
	return true
}

func (b *fakeBroker) topics() []string {
	out := make([]string, 0, len(b.sent))
	for _, m := range b.sent {
		out = append(out, m.topic)
	}
	return out
}

type fakeSink struct {
	readings []string
	alarms   []string
}

func (s *fakeSink) WriteReading(_ string, class string, _ map[string]any, _ time.Time) {
	s.readings = append(s.readings, class)
}

func (s *fakeSink) WriteAlarm(_ string, kind string, _, _ float64, _ time.Time) {
	s.alarms = append(s.alarms, kind)
}

type fakeHub struct {
	events []string
}

func (h *fakeHub) Broadcast(event string, _ any) {
	h.events = append(h.events, event)
}

type fixedSampler struct {
	reading Reading
	err     error
	calls   int
}

func (s *fixedSampler) Sample(_ context.Context, _ settings.SensorMask) (Reading, error) {
	s.calls++
	return s.reading, s.err
}

func fullReading() Reading {
	return Reading{
		SoilMoisture: ptr(41.5),
		Temperature:  ptr(23.4),
		Humidity:     ptr(50),
		UVIndex:      ptr(1.2),
		Rain:         ptr(0),
	}
}

type harness struct {
	pub     *Publisher
	broker  *fakeBroker
	sink    *fakeSink
	hub     *fakeHub
	sampler *fixedSampler
	diag    *bytes.Buffer
	start   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		broker:  &fakeBroker{up: true},
		sink:    &fakeSink{},
		hub:     &fakeHub{},
		sampler: &fixedSampler{reading: fullReading()},
		diag:    &bytes.Buffer{},
		start:   time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC),
	}
	h.pub = NewPublisher(Options{
		DeviceID: "node-001",
		Topics:   mqtt.Topics{},
		Sampler:  h.sampler,
		Broker:   h.broker,
		Diag:     h.diag,
		Sink:     h.sink,
		Hub:      h.hub,
		Started:  h.start,
	}, logging.Discard())
	return h
}

// ===== Cadence =====

func TestTick_FixedInterval(t *testing.T) {
	h := newHarness(t)
	cfg := settings.Defaults()
	if err := cfg.SetReadInterval(10); err != nil {
		t.Fatal(err)
	}
	h.pub.Configure(cfg)

	t0 := h.start.Add(time.Minute)
	tests := []struct {
		offset time.Duration
		want   bool
	}{
		{0, true},
		{50 * time.Millisecond, false},
		{9 * time.Second, false},
		{10 * time.Second, true},
		{15 * time.Second, false},
		{20 * time.Second, true},
	}
	for _, tt := range tests {
		if got := h.pub.Tick(context.Background(), t0.Add(tt.offset)); got != tt.want {
			t.Errorf("Tick(t0+%v) = %v, want %v", tt.offset, got, tt.want)
		}
	}
	if h.sampler.calls != 3 {
		t.Errorf("sampler calls = %d, want 3", h.sampler.calls)
	}
}

func TestTick_SamplerError(t *testing.T) {
	h := newHarness(t)
	h.sampler.err = errors.New("bus timeout")

	if h.pub.Tick(context.Background(), h.start) {
		t.Error("Tick() = true on sampler error, want false")
	}
	if got := h.pub.Stats().Errors; got != 1 {
		t.Errorf("Stats().Errors = %d, want 1", got)
	}
	if len(h.broker.sent) != 0 || h.diag.Len() != 0 {
		t.Error("failed sample was delivered")
	}
	if _, ok := h.pub.Latest(); ok {
		t.Error("Latest() ok = true after failed sample")
	}
}

// ===== Delivery =====

func TestEmit_Delivery(t *testing.T) {
	h := newHarness(t)
	now := h.start.Add(90 * time.Second)

	r, err := h.pub.Emit(context.Background(), now)
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if r.DeviceID != "node-001" || r.Uptime != 90 {
		t.Errorf("reading = %s uptime %d, want node-001 uptime 90", r.DeviceID, r.Uptime)
	}

	wantTopics := []string{
		"graynode/devices/node-001/sensors",
		"graynode/devices/node-001/sensors/soil",
		"graynode/devices/node-001/sensors/environment",
		"graynode/devices/node-001/sensors/uv",
		"graynode/devices/node-001/sensors/rain",
	}
	got := h.broker.topics()
	if strings.Join(got, ",") != strings.Join(wantTopics, ",") {
		t.Errorf("topics = %v, want %v", got, wantTopics)
	}
	for _, m := range h.broker.sent {
		if m.retain {
			t.Errorf("%s published retained, want not retained", m.topic)
		}
	}

	var doc map[string]any
	if err := json.Unmarshal(h.broker.sent[0].payload, &doc); err != nil {
		t.Fatalf("sensors payload: %v", err)
	}
	if doc["deviceId"] != "node-001" || doc["soilMoisture"] != 41.5 || doc["temperature"] != 23.4 {
		t.Errorf("sensors payload = %v", doc)
	}

	line := strings.TrimSpace(h.diag.String())
	if !strings.HasPrefix(line, StatusPrefix) {
		t.Fatalf("diag line = %q, want %s prefix", line, StatusPrefix)
	}
	var status map[string]any
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, StatusPrefix)), &status); err != nil {
		t.Fatalf("diag payload: %v", err)
	}
	if status["type"] != "status" || status["deviceId"] != "node-001" {
		t.Errorf("diag payload = %v", status)
	}

	if strings.Join(h.sink.readings, ",") != "soil,environment,uv,rain" {
		t.Errorf("sink classes = %v", h.sink.readings)
	}
	if len(h.hub.events) != 1 || h.hub.events[0] != "reading" {
		t.Errorf("hub events = %v, want [reading]", h.hub.events)
	}

	latest, ok := h.pub.Latest()
	if !ok || latest.Uptime != 90 {
		t.Errorf("Latest() = %+v, %v", latest, ok)
	}
	if s := h.pub.Stats(); s.Samples != 1 || s.Published != 1 || s.Dropped != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestEmit_BrokerDownDropsReading(t *testing.T) {
	h := newHarness(t)
	h.broker.up = false

	if _, err := h.pub.Emit(context.Background(), h.start); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if s := h.pub.Stats(); s.Dropped != 1 || s.Published != 0 {
		t.Errorf("Stats() = %+v, want one dropped", s)
	}
	if h.diag.Len() == 0 {
		t.Error("side-channel line missing while broker is down")
	}

	// Nothing is replayed once the broker is back.
	h.broker.up = true
	if _, err := h.pub.Emit(context.Background(), h.start.Add(time.Minute)); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if got := len(h.broker.sent); got != 5 {
		t.Errorf("messages after recovery = %d, want 5 (one reading)", got)
	}
}

func TestEmit_DisabledClassesOmitted(t *testing.T) {
	h := newHarness(t)
	h.sampler.reading = Reading{SoilMoisture: ptr(30)}

	if _, err := h.pub.Emit(context.Background(), h.start); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	want := "graynode/devices/node-001/sensors,graynode/devices/node-001/sensors/soil"
	if got := strings.Join(h.broker.topics(), ","); got != want {
		t.Errorf("topics = %s, want %s", got, want)
	}
	if strings.Contains(string(h.broker.sent[0].payload), "temperature") {
		t.Errorf("payload mentions a disabled class: %s", h.broker.sent[0].payload)
	}
}

// ===== Alarms =====

func TestEvaluate(t *testing.T) {
	limits := settings.Alarms{HumidityMin: 20, HumidityMax: 80, TemperatureMax: 40}

	tests := []struct {
		name string
		r    Reading
		want []string
	}{
		{"nominal", Reading{Temperature: ptr(25), Humidity: ptr(50)}, nil},
		{"dry", Reading{Humidity: ptr(12)}, []string{AlarmHumidityLow}},
		{"humid and hot", Reading{Temperature: ptr(41), Humidity: ptr(90)}, []string{AlarmHumidityHigh, AlarmTemperatureHigh}},
		{"at limits", Reading{Temperature: ptr(40), Humidity: ptr(80)}, nil},
		{"no environment", Reading{SoilMoisture: ptr(10)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, a := range Evaluate(tt.r, limits) {
				got = append(got, a.Kind)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmit_AlarmEdges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.sampler.reading = Reading{Temperature: ptr(45), Humidity: ptr(50)}
	_, _ = h.pub.Emit(ctx, h.start)
	_, _ = h.pub.Emit(ctx, h.start.Add(time.Minute))

	h.sampler.reading = Reading{Temperature: ptr(30), Humidity: ptr(50)}
	_, _ = h.pub.Emit(ctx, h.start.Add(2*time.Minute))

	var alarms []Alarm
	for _, m := range h.broker.sent {
		if m.topic == "graynode/devices/node-001/alarm" {
			var a Alarm
			if err := json.Unmarshal(m.payload, &a); err != nil {
				t.Fatalf("alarm payload: %v", err)
			}
			alarms = append(alarms, a)
		}
	}
	if len(alarms) != 2 {
		t.Fatalf("alarm messages = %d, want 2 (raised, cleared)", len(alarms))
	}
	if !alarms[0].Active || alarms[0].Kind != AlarmTemperatureHigh || alarms[0].Limit != 40 {
		t.Errorf("first alarm = %+v, want active temperature_high limit 40", alarms[0])
	}
	if alarms[1].Active {
		t.Errorf("second alarm = %+v, want cleared", alarms[1])
	}
	if len(h.sink.alarms) != 1 {
		t.Errorf("sink alarms = %v, want only the raise", h.sink.alarms)
	}
}

// ===== Sampler =====

func TestSimulatedSampler_RespectsMask(t *testing.T) {
	s := NewSimulatedSampler(42)

	r, err := s.Sample(context.Background(), settings.SensorSoil|settings.SensorRain)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if r.SoilMoisture == nil || r.Rain == nil {
		t.Error("enabled classes missing")
	}
	if r.Temperature != nil || r.Humidity != nil || r.UVIndex != nil {
		t.Error("disabled classes sampled")
	}
}

func TestSimulatedSampler_Bounds(t *testing.T) {
	s := NewSimulatedSampler(7)
	for range 500 {
		r, err := s.Sample(context.Background(), settings.AllSensors)
		if err != nil {
			t.Fatalf("Sample() error = %v", err)
		}
		if *r.SoilMoisture < 20 || *r.SoilMoisture > 70 {
			t.Fatalf("soil moisture %v out of range", *r.SoilMoisture)
		}
		if *r.Temperature < 22 || *r.Temperature > 26 {
			t.Fatalf("temperature %v out of range", *r.Temperature)
		}
		if *r.Humidity < 45 || *r.Humidity > 55 {
			t.Fatalf("humidity %v out of range", *r.Humidity)
		}
	}
}

func TestSimulatedSampler_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSimulatedSampler(1).Sample(ctx, settings.AllSensors); !errors.Is(err, context.Canceled) {
		t.Errorf("Sample() error = %v, want context.Canceled", err)
	}
}
