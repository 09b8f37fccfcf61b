package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu    sync.Mutex
	lines []string
	query []string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.query = append(f.query, r.URL.RawQuery)
		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if line != "" {
				f.lines = append(f.lines, line)
			}
		}
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func newTestClient(t *testing.T) (*influxdb.Client, *fakeInflux) {
	t.Helper()
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := influxdb.Connect(context.Background(), config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "test-token",
		Org:           "graylogic",
		Bucket:        "nodes",
		BatchSize:     100,
		FlushInterval: 60,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // test cleanup
	return client, fake
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	client, _ := newTestClient(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, err := influxdb.Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(context.Background(), config.InfluxDBConfig{Enabled: true, URL: url, Org: "o", Bucket: "b"})
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose(t *testing.T) {
	client, _ := newTestClient(t)

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close() error = %v, want ErrNotConnected", err)
	}

	// Writes after close are ignored.
	client.WriteReading("node-001", "soil", map[string]any{"moisture": 1.0}, time.Now())
	client.Flush()
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() on nil client = true")
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteReading(t *testing.T) {
	client, fake := newTestClient(t)
	ts := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	client.WriteReading("node-001", "environment", map[string]any{"temperature": 21.5, "humidity": 48.0}, ts)
	client.WriteReading("node-001", "soil", map[string]any{}, ts)
	client.Flush()

	lines := fake.written()
	if len(lines) != 1 {
		t.Fatalf("wrote %d lines, want 1: %q", len(lines), lines)
	}
	line := lines[0]
	for _, want := range []string{
		"node_reading,",
		"class=environment",
		"device_id=node-001",
		"temperature=21.5",
		"humidity=48",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if !strings.HasSuffix(line, " 1792324800000000000") {
		t.Errorf("line %q has wrong timestamp", line)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.query) == 0 || !strings.Contains(fake.query[0], "bucket=nodes") {
		t.Errorf("write query = %q, want bucket=nodes", fake.query)
	}
}

func TestWriteAlarm(t *testing.T) {
	client, fake := newTestClient(t)

	client.WriteAlarm("node-001", "humidity_low", 12, 20, time.Now())
	client.Flush()

	lines := fake.written()
	if len(lines) != 1 {
		t.Fatalf("wrote %d lines, want 1", len(lines))
	}
	for _, want := range []string{"node_alarm,", "kind=humidity_low", "value=12", "limit=20"} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("line %q missing %q", lines[0], want)
		}
	}
}
