package telemetry

import (
	"github.com/nerrad567/gray-logic-node/internal/settings"
)

// Alarm kinds.
const (
	AlarmHumidityLow     = "humidity_low"
	AlarmHumidityHigh    = "humidity_high"
	AlarmTemperatureHigh = "temperature_high"
)

// Alarm is a threshold crossing. Active false means it cleared.
type Alarm struct {
	Kind   string  `json:"kind"`
	Active bool    `json:"active"`
	Value  float64 `json:"value"`
	Limit  float64 `json:"limit"`
}

// Evaluate returns the thresholds r currently violates.
func Evaluate(r Reading, limits settings.Alarms) []Alarm {
	var out []Alarm
	if r.Humidity != nil {
		h := *r.Humidity
		if h < float64(limits.HumidityMin) {
			out = append(out, Alarm{Kind: AlarmHumidityLow, Active: true, Value: h, Limit: float64(limits.HumidityMin)})
		}
		if h > float64(limits.HumidityMax) {
			out = append(out, Alarm{Kind: AlarmHumidityHigh, Active: true, Value: h, Limit: float64(limits.HumidityMax)})
		}
	}
	if r.Temperature != nil && *r.Temperature > float64(limits.TemperatureMax) {
		out = append(out, Alarm{Kind: AlarmTemperatureHigh, Active: true, Value: *r.Temperature, Limit: float64(limits.TemperatureMax)})
	}
	return out
}

// alarmState turns level-triggered evaluations into edges.
type alarmState struct {
	active map[string]Alarm
}

// update returns alarms that became active or cleared since the last call.
func (s *alarmState) update(current []Alarm) []Alarm {
	if s.active == nil {
		s.active = make(map[string]Alarm)
	}

	var edges []Alarm
	seen := make(map[string]bool, len(current))
	for _, a := range current {
		seen[a.Kind] = true
		if _, ok := s.active[a.Kind]; !ok {
			edges = append(edges, a)
		}
		s.active[a.Kind] = a
	}
	for kind, a := range s.active {
		if !seen[kind] {
			a.Active = false
			edges = append(edges, a)
			delete(s.active, kind)
		}
	}
	return edges
}
