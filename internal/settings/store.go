package settings

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
)

// Namespace is the key prefix all device record rows are stored under.
const Namespace = "node_config"

// Persisted keys, one per DeviceConfig field plus the configured marker.
const (
	KeyDeviceID     = "device_id"
	KeySSID         = "wifi_ssid"
	KeyPassphrase   = "wifi_pass"
	KeyBrokerHost   = "mqtt_host"
	KeyBrokerPort   = "mqtt_port"
	KeyReadInterval = "read_int"
	KeySensors      = "sensors"
	KeySleepEnabled = "sleep_en"
	KeySleepMinutes = "sleep_min"
	KeyHumidityMin  = "alarm_hmin"
	KeyHumidityMax  = "alarm_hmax"
	KeyTempMax      = "alarm_tmax"
	KeyNTPServer    = "ntp_srv"
	KeyUTCOffset    = "timezone"
	KeyDebugLevel   = "debug_lvl"
	KeyLEDEnabled   = "led_en"
	KeyConfigured   = "configured"
)

// Store defines the interface for device record persistence.
// This abstraction allows the orchestrator to be tested without SQLite.
type Store interface {
	Load(ctx context.Context) (DeviceConfig, error)
	Save(ctx context.Context, cfg DeviceConfig) error
	Clear(ctx context.Context) error
}

// SQLiteStore implements Store on the settings table.
type SQLiteStore struct {
	db       *sql.DB
	defaults DeviceConfig
	logger   *logging.Logger
}

// NewSQLiteStore creates a SQLite-backed store.
// defaults is the record returned for absent keys; pass Defaults() unless
// the bootstrap configuration overrides the device id.
func NewSQLiteStore(db *sql.DB, defaults DeviceConfig, logger *logging.Logger) *SQLiteStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &SQLiteStore{
		db:       db,
		defaults: defaults,
		logger:   logger.With("component", "settings"),
	}
}

// Load reads the device record.
//
// Every absent key takes its default. If the store cannot be read or a
// stored value cannot be decoded, Load returns the full default record
// together with an error wrapping ErrUnavailable.
func (s *SQLiteStore) Load(ctx context.Context) (DeviceConfig, error) {
	values, err := s.readNamespace(ctx)
	if err != nil {
		s.logger.Error("device record unreadable, using defaults", "error", err)
		return s.defaults, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	cfg, err := decode(s.defaults, values)
	if err != nil {
		s.logger.Error("device record corrupt, using defaults", "error", err)
		return s.defaults, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	s.logger.Debug("device record loaded", "keys", len(values), "configured", cfg.Configured())
	return cfg, nil
}

func (s *SQLiteStore) readNamespace(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM settings WHERE namespace = ?", Namespace)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", Namespace, err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", Namespace, err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", Namespace, err)
	}
	return values, nil
}

// Save writes every field of cfg in a single transaction.
// A failure at any point leaves the previously committed record intact.
func (s *SQLiteStore) Save(ctx context.Context, cfg DeviceConfig) error {
	if err := cfg.Validate(); err != nil {
		s.logger.Error("device record rejected", "error", err)
		return err
	}

	if err := s.write(ctx, encode(cfg)); err != nil {
		s.logger.Error("device record save failed", "error", err)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	s.logger.Info("device record saved",
		"device_id", cfg.DeviceID,
		"ssid", cfg.SSID,
		"broker_host", cfg.BrokerHost,
	)
	return nil
}

func (s *SQLiteStore) write(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO settings (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for k, v := range values {
		if _, err := stmt.ExecContext(ctx, Namespace, k, v); err != nil {
			return fmt.Errorf("writing %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", Namespace, err)
	}
	return nil
}

// Clear deletes the whole namespace (factory reset). The caller must
// restart afterwards so no in-memory copy of the record survives.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("factory reset failed", "error", err)
		return fmt.Errorf("%w: starting transaction: %w", ErrUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	res, err := tx.ExecContext(ctx, "DELETE FROM settings WHERE namespace = ?", Namespace)
	if err != nil {
		s.logger.Error("factory reset failed", "error", err)
		return fmt.Errorf("%w: clearing %s: %w", ErrUnavailable, Namespace, err)
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("factory reset failed", "error", err)
		return fmt.Errorf("%w: committing clear: %w", ErrUnavailable, err)
	}

	n, _ := res.RowsAffected() //nolint:errcheck // Informational only
	s.logger.Info("device record cleared", "rows", n)
	return nil
}

// encode renders cfg as namespace rows.
func encode(cfg DeviceConfig) map[string]string {
	return map[string]string{
		KeyDeviceID:     cfg.DeviceID,
		KeySSID:         cfg.SSID,
		KeyPassphrase:   cfg.Passphrase,
		KeyBrokerHost:   cfg.BrokerHost,
		KeyBrokerPort:   strconv.Itoa(cfg.BrokerPort),
		KeyReadInterval: strconv.Itoa(cfg.ReadInterval),
		KeySensors:      strconv.Itoa(int(cfg.Sensors)),
		KeySleepEnabled: strconv.FormatBool(cfg.SleepEnabled),
		KeySleepMinutes: strconv.Itoa(cfg.SleepMinutes),
		KeyHumidityMin:  strconv.Itoa(cfg.Alarms.HumidityMin),
		KeyHumidityMax:  strconv.Itoa(cfg.Alarms.HumidityMax),
		KeyTempMax:      strconv.Itoa(cfg.Alarms.TemperatureMax),
		KeyNTPServer:    cfg.NTPServer,
		KeyUTCOffset:    strconv.Itoa(cfg.UTCOffset),
		KeyDebugLevel:   strconv.Itoa(cfg.DebugLevel),
		KeyLEDEnabled:   strconv.FormatBool(cfg.LEDEnabled),
		KeyConfigured:   strconv.FormatBool(cfg.Configured()),
	}
}

// decode overlays stored rows onto defaults.
func decode(defaults DeviceConfig, values map[string]string) (DeviceConfig, error) {
	cfg := defaults
	d := decoder{values: values}

	d.text(KeyDeviceID, &cfg.DeviceID)
	d.text(KeySSID, &cfg.SSID)
	d.text(KeyPassphrase, &cfg.Passphrase)
	d.text(KeyBrokerHost, &cfg.BrokerHost)
	d.integer(KeyBrokerPort, &cfg.BrokerPort)
	d.integer(KeyReadInterval, &cfg.ReadInterval)

	sensors := int(cfg.Sensors)
	d.integer(KeySensors, &sensors)
	cfg.Sensors = SensorMask(sensors)

	d.flag(KeySleepEnabled, &cfg.SleepEnabled)
	d.integer(KeySleepMinutes, &cfg.SleepMinutes)
	d.integer(KeyHumidityMin, &cfg.Alarms.HumidityMin)
	d.integer(KeyHumidityMax, &cfg.Alarms.HumidityMax)
	d.integer(KeyTempMax, &cfg.Alarms.TemperatureMax)
	d.text(KeyNTPServer, &cfg.NTPServer)
	d.integer(KeyUTCOffset, &cfg.UTCOffset)
	d.integer(KeyDebugLevel, &cfg.DebugLevel)
	d.flag(KeyLEDEnabled, &cfg.LEDEnabled)

	if d.err != nil {
		return defaults, d.err
	}

	cfg.normalize()
	return cfg, nil
}

// decoder accumulates the first conversion error.
type decoder struct {
	values map[string]string
	err    error
}

func (d *decoder) text(key string, dst *string) {
	if v, ok := d.values[key]; ok {
		*dst = v
	}
}

func (d *decoder) integer(key string, dst *int) {
	v, ok := d.values[key]
	if !ok || d.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		d.err = fmt.Errorf("decoding %s: %w", key, err)
		return
	}
	*dst = n
}

func (d *decoder) flag(key string, dst *bool) {
	v, ok := d.values[key]
	if !ok || d.err != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		d.err = fmt.Errorf("decoding %s: %w", key, err)
		return
	}
	*dst = b
}
