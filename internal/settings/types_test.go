package settings

import (
	"errors"
	"testing"
)

func TestSetReadInterval(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    int
		wantErr bool
	}{
		{"below minimum", 2, DefaultReadInterval, true},
		{"zero", 0, DefaultReadInterval, true},
		{"negative", -10, DefaultReadInterval, true},
		{"minimum", 5, 5, false},
		{"typical", 60, 60, false},
		{"maximum", 3600, 3600, false},
		{"above maximum", 3601, DefaultReadInterval, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			err := cfg.SetReadInterval(tt.seconds)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetReadInterval(%d) error = %v, wantErr %v", tt.seconds, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("error = %v, want ErrInvalid", err)
			}
			if cfg.ReadInterval != tt.want {
				t.Errorf("ReadInterval = %d, want %d", cfg.ReadInterval, tt.want)
			}
		})
	}
}

func TestSetBroker(t *testing.T) {
	tests := []struct {
		host     string
		port     int
		wantHost string
		wantPort int
	}{
		{"broker.local", 1884, "broker.local", 1884},
		{" 10.0.0.5 ", 0, "10.0.0.5", DefaultBrokerPort},
		{"h", -1, "h", DefaultBrokerPort},
		{"h", 70000, "h", DefaultBrokerPort},
		{"", 1883, "", 1883},
	}

	for _, tt := range tests {
		cfg := Defaults()
		cfg.SetBroker(tt.host, tt.port)
		if cfg.BrokerHost != tt.wantHost || cfg.BrokerPort != tt.wantPort {
			t.Errorf("SetBroker(%q, %d) = (%q, %d), want (%q, %d)",
				tt.host, tt.port, cfg.BrokerHost, cfg.BrokerPort, tt.wantHost, tt.wantPort)
		}
	}
}

func TestSetSleep(t *testing.T) {
	cfg := Defaults()

	cfg.SetSleep(true, 15)
	if !cfg.SleepEnabled || cfg.SleepMinutes != 15 {
		t.Errorf("SetSleep(true, 15) = (%v, %d)", cfg.SleepEnabled, cfg.SleepMinutes)
	}

	cfg.SetSleep(false, 0)
	if cfg.SleepEnabled || cfg.SleepMinutes != DefaultSleepMinutes {
		t.Errorf("SetSleep(false, 0) = (%v, %d), want (false, %d)", cfg.SleepEnabled, cfg.SleepMinutes, DefaultSleepMinutes)
	}
}

func TestSetDebugLevel(t *testing.T) {
	cfg := Defaults()

	for level := 0; level <= MaxDebugLevel; level++ {
		if err := cfg.SetDebugLevel(level); err != nil {
			t.Errorf("SetDebugLevel(%d) error = %v", level, err)
		}
	}
	if err := cfg.SetDebugLevel(4); !errors.Is(err, ErrInvalid) {
		t.Errorf("SetDebugLevel(4) error = %v, want ErrInvalid", err)
	}
	if cfg.DebugLevel != MaxDebugLevel {
		t.Errorf("DebugLevel = %d, want unchanged %d", cfg.DebugLevel, MaxDebugLevel)
	}
}

func TestValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("Defaults().Validate() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*DeviceConfig)
	}{
		{"empty device id", func(c *DeviceConfig) { c.DeviceID = " " }},
		{"zero port", func(c *DeviceConfig) { c.BrokerPort = 0 }},
		{"interval low", func(c *DeviceConfig) { c.ReadInterval = 4 }},
		{"interval high", func(c *DeviceConfig) { c.ReadInterval = 3601 }},
		{"unknown sensor bit", func(c *DeviceConfig) { c.Sensors = 0x10 }},
		{"sleep zero", func(c *DeviceConfig) { c.SleepMinutes = 0 }},
		{"debug high", func(c *DeviceConfig) { c.DebugLevel = 4 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestSensorMask(t *testing.T) {
	m := SensorSoil | SensorUV

	if !m.Has(SensorSoil) || !m.Has(SensorUV) {
		t.Error("Has() missing enabled class")
	}
	if m.Has(SensorRain) {
		t.Error("Has(SensorRain) = true for disabled class")
	}
	if got := m.String(); got != "0101" {
		t.Errorf("String() = %q, want %q", got, "0101")
	}
	if got := AllSensors.String(); got != "1111" {
		t.Errorf("AllSensors.String() = %q, want %q", got, "1111")
	}
}
