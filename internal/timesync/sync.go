package timesync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/ntp"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
)

// Defaults used when the configuration leaves a field at zero.
const (
	DefaultAttempts = 10
	DefaultTimeout  = 5 * time.Second
	retryInterval   = time.Second
)

// Result is the outcome of one sync run.
type Result struct {
	Server   string
	Offset   time.Duration
	Attempts int
	Err      error
}

// Synced reports whether the run obtained an offset.
func (r Result) Synced() bool {
	return r.Err == nil
}

// QueryFunc asks server for the offset of the local clock.
type QueryFunc func(ctx context.Context, server string, timeout time.Duration) (time.Duration, error)

// QueryNTP performs one SNTP exchange and rejects unusable responses
// (kiss-of-death, unsynchronised stratum).
func QueryNTP(ctx context.Context, server string, timeout time.Duration) (time.Duration, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", server, err)
	}
	if err := resp.Validate(); err != nil {
		return 0, fmt.Errorf("response from %s: %w", server, err)
	}
	return resp.ClockOffset, nil
}

// Syncer runs bounded SNTP retries.
type Syncer struct {
	query    QueryFunc
	attempts int
	timeout  time.Duration
	interval time.Duration
	logger   *logging.Logger
}

// New creates a Syncer from the timesync configuration.
func New(cfg config.TimeSyncConfig, logger *logging.Logger) *Syncer {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Syncer{
		query:    QueryNTP,
		attempts: cfg.Attempts,
		timeout:  time.Duration(cfg.Timeout) * time.Second,
		interval: retryInterval,
		logger:   logger.With("component", "timesync"),
	}
	if s.attempts <= 0 {
		s.attempts = DefaultAttempts
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	return s
}

// Start begins a sync against server and returns the channel its single
// Result will arrive on. Cancelling ctx stops the retries.
func (s *Syncer) Start(ctx context.Context, server string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		out <- s.Sync(ctx, server)
	}()
	return out
}

// Sync blocks until an offset is obtained, attempts run out or ctx ends.
func (s *Syncer) Sync(ctx context.Context, server string) Result {
	server = strings.TrimSpace(server)
	res := Result{Server: server}
	if server == "" {
		res.Err = ErrNoServer
		return res
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		res.Attempts = attempt
		offset, err := s.query(ctx, server, s.timeout)
		if err == nil {
			res.Offset = offset
			s.logger.Info("time synchronised", "server", server, "offset", offset, "attempts", attempt)
			return res
		}
		lastErr = err
		s.logger.Debug("time sync attempt failed", "server", server, "attempt", attempt, "error", err)

		if attempt == s.attempts {
			break
		}
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		case <-time.After(s.interval):
		}
	}

	res.Err = fmt.Errorf("%w after %d attempts: %w", ErrExhausted, res.Attempts, lastErr)
	s.logger.Warn("time sync failed", "server", server, "error", res.Err)
	return res
}

// Local converts a UTC instant to the node's configured fixed offset.
func Local(t time.Time, utcOffsetHours int) time.Time {
	name := fmt.Sprintf("UTC%+d", utcOffsetHours)
	return t.In(time.FixedZone(name, utcOffsetHours*int(time.Hour/time.Second)))
}
