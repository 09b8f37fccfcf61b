package telemetry

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
)

// StatusPrefix starts every reading line on the diagnostic side-channel.
const StatusPrefix = "JSON_STATUS:"

// Reading is one sample of the enabled sensors. Classes that are disabled
// are left nil and omitted from every encoding.
type Reading struct {
	DeviceID string    `json:"deviceId"`
	Time     time.Time `json:"timestamp"`
	// Uptime is whole seconds since boot.
	Uptime int64 `json:"uptime"`

	// SoilMoisture is volumetric moisture in percent.
	SoilMoisture *float64 `json:"soilMoisture,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`

	UVIndex *float64 `json:"uv,omitempty"`

	// Rain is surface wetness in percent.
	Rain *float64 `json:"rain,omitempty"`
}

// ClassReading is the part of a Reading belonging to one sensor class.
type ClassReading struct {
	Class  string
	Fields map[string]any
}

// Classes splits the reading by sensor class in a fixed order.
func (r Reading) Classes() []ClassReading {
	var out []ClassReading
	if r.SoilMoisture != nil {
		out = append(out, ClassReading{mqtt.ClassSoil, map[string]any{"moisture": *r.SoilMoisture}})
	}
	if r.Temperature != nil || r.Humidity != nil {
		fields := make(map[string]any, 2)
		if r.Temperature != nil {
			fields["temperature"] = *r.Temperature
		}
		if r.Humidity != nil {
			fields["humidity"] = *r.Humidity
		}
		out = append(out, ClassReading{mqtt.ClassEnvironment, fields})
	}
	if r.UVIndex != nil {
		out = append(out, ClassReading{mqtt.ClassUV, map[string]any{"index": *r.UVIndex}})
	}
	if r.Rain != nil {
		out = append(out, ClassReading{mqtt.ClassRain, map[string]any{"wetness": *r.Rain}})
	}
	return out
}

// ClassPayload encodes one class as a flat JSON document carrying the
// device id and timestamp.
func (r Reading) ClassPayload(c ClassReading) ([]byte, error) {
	doc := make(map[string]any, len(c.Fields)+2)
	for k, v := range c.Fields {
		doc[k] = v
	}
	doc["deviceId"] = r.DeviceID
	doc["timestamp"] = r.Time
	return json.Marshal(doc)
}

// StatusLine renders the reading as a side-channel line without the
// trailing newline.
func (r Reading) StatusLine() (string, error) {
	b, err := json.Marshal(struct {
		Type string `json:"type"`
		Reading
	}{"status", r})
	if err != nil {
		return "", err
	}
	return StatusPrefix + string(b), nil
}

func ptr(v float64) *float64 {
	return &v
}
