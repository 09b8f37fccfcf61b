package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
)

// Status represents the current state of a supervised daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// ErrNotReady is returned by WaitReady when the daemon exits before
// printing its ready marker.
var ErrNotReady = errors.New("process: exited before ready")

// Config holds configuration for a supervised daemon.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// ReadyMarker is a substring of an output line that signals the daemon
	// is up (hostapd prints "AP-ENABLED"). Empty means ready on start.
	ReadyMarker string

	// RestartOnFailure restarts the daemon when it exits unexpectedly.
	RestartOnFailure bool

	// RestartDelay is the wait before a restart.
	RestartDelay time.Duration

	// MaxRestartAttempts limits restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration
}

// Manager supervises one long-running child process.
type Manager struct {
	config Config
	logger *logging.Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool

	ready  chan struct{}
	exited chan struct{}
	output *sync.WaitGroup
	done   chan struct{}
}

// NewManager creates a supervisor with the given configuration.
func NewManager(cfg Config, logger *logging.Logger) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 2 * time.Second
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Manager{
		config: cfg,
		logger: logger.With("component", "process", "name", cfg.Name),
		status: StatusStopped,
	}
}

// Start launches the daemon and begins supervising it.
// It returns once the process has been spawned; use WaitReady to block
// until the daemon reports readiness.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("process %s is already running", m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.restartCount = 0
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.spawn(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.supervise(ctx)
	return nil
}

// spawn starts one instance of the daemon.
func (m *Manager) spawn(ctx context.Context) error {
	m.logger.Info("starting process", "binary", m.config.Binary, "args", m.config.Args)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // Binary comes from bootstrap config

	// Own process group so Stop can signal the daemon and its children
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	ready := make(chan struct{})
	var once sync.Once
	markReady := func() { once.Do(func() { close(ready) }) }
	if m.config.ReadyMarker == "" {
		markReady()
	}

	output := new(sync.WaitGroup)
	output.Add(2)
	go m.captureOutput("stdout", stdout, markReady, output)
	go m.captureOutput("stderr", stderr, markReady, output)

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.ready = ready
	m.exited = make(chan struct{})
	m.output = output
	m.mu.Unlock()

	m.logger.Info("process started", "pid", cmd.Process.Pid)
	return nil
}

// captureOutput logs each output line and watches for the ready marker.
func (m *Manager) captureOutput(stream string, r io.Reader, markReady func(), wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		m.logger.Debug("process output", "stream", stream, "line", line)
		if m.config.ReadyMarker != "" && strings.Contains(line, m.config.ReadyMarker) {
			markReady()
		}
	}
}

// WaitReady blocks until the current instance prints its ready marker,
// exits, or ctx is done.
func (m *Manager) WaitReady(ctx context.Context) error {
	m.mu.RLock()
	ready, exited := m.ready, m.exited
	m.mu.RUnlock()

	if ready == nil {
		return ErrNotReady
	}

	select {
	case <-ready:
		return nil
	case <-exited:
		// Output may have been drained just before exit
		select {
		case <-ready:
			return nil
		default:
		}
		if err := m.LastError(); err != nil {
			return fmt.Errorf("%w: %w", ErrNotReady, err)
		}
		return ErrNotReady
	case <-ctx.Done():
		return ctx.Err()
	}
}

// supervise waits for exits and restarts the daemon when configured.
func (m *Manager) supervise(ctx context.Context) {
	defer func() {
		m.mu.RLock()
		done := m.done
		m.mu.RUnlock()
		close(done)
	}()

	for {
		m.mu.RLock()
		cmd, exited, output := m.cmd, m.exited, m.output
		m.mu.RUnlock()

		// Pipes must be drained before Wait closes them
		output.Wait()
		err := cmd.Wait()

		m.mu.Lock()
		stopRequested := m.stopRequested
		if stopRequested {
			m.status = StatusStopped
		} else {
			m.status = StatusFailed
			m.lastError = err
			if err == nil {
				m.lastError = errors.New("exited with status 0")
			}
		}
		m.mu.Unlock()
		close(exited)

		if stopRequested {
			m.logger.Info("process stopped as requested")
			return
		}

		m.logger.Warn("process exited unexpectedly", "error", err)

		if !m.config.RestartOnFailure || ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		m.restartCount++
		attempt := m.restartCount
		m.mu.Unlock()

		if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
			m.logger.Error("max restart attempts reached", "attempts", attempt-1)
			return
		}

		m.logger.Info("restarting process", "attempt", attempt, "delay", m.config.RestartDelay)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.config.RestartDelay):
			}

			m.mu.RLock()
			stopRequested = m.stopRequested
			m.mu.RUnlock()
			if stopRequested {
				m.mu.Lock()
				m.status = StatusStopped
				m.mu.Unlock()
				return
			}

			err := m.spawn(ctx)
			if err == nil {
				break
			}
			m.logger.Error("failed to restart process", "error", err)

			m.mu.Lock()
			m.restartCount++
			m.lastError = err
			attempt = m.restartCount
			m.mu.Unlock()

			if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
				m.logger.Error("max restart attempts reached", "attempts", attempt-1)
				return
			}
		}
	}
}

// Stop sends SIGTERM to the daemon's process group, escalating to SIGKILL
// after GracefulTimeout, and waits for supervision to end.
func (m *Manager) Stop() error {
	m.mu.Lock()
	m.stopRequested = true
	cmd, done := m.cmd, m.done
	running := m.status == StatusRunning || m.status == StatusStarting
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to send SIGTERM", "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL", "timeout", m.config.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

// Status returns the current status of the daemon.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the daemon is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the error of the last unexpected exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns the number of restarts since Start.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// Stats is a snapshot of supervisor state.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the daemon.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
