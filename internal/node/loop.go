package node

import (
	"context"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/link"
)

// Run drives the control loop until ctx ends or a restart is due.
//
// Each tick is bounded: link and broker maintenance never block on the
// network. Requests from Execute and the portal operations are executed
// between ticks, in arrival order.
//
// Returns:
//   - nil when ctx ends
//   - ErrRestart when a restart was requested and its delay elapsed
//   - ErrNotBooted when called before Boot
func (n *Node) Run(ctx context.Context) error {
	if !n.booted {
		return ErrNotBooted
	}
	defer close(n.stopped)

	ticker := time.NewTicker(n.cfg.TickInterval())
	defer ticker.Stop()

	n.tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-n.requests:
			req.fn(ctx)
			close(req.done)
			n.publish()
		case line := <-n.remote:
			n.handleRemote(ctx, line)
		case now := <-ticker.C:
			n.tick(ctx, now)
		}

		if !n.restartAt.IsZero() && !time.Now().Before(n.restartAt) {
			n.logger.Info("restarting")
			return ErrRestart
		}
	}
}

func (n *Node) tick(ctx context.Context, now time.Time) {
	n.refreshGauges(now)
	n.collectTimeSync()

	if n.mode == ModeRunning {
		switch n.link.Monitor() {
		case link.Lost:
			n.linkUp = false
		case link.Connected:
			n.linkUp = true
		}
		if !n.linkUp {
			n.link.Reconnect(now)
		}
		n.rssi = n.link.Info().RSSI

		n.session.Tick(now, n.linkUp)
		n.telemetry.Tick(ctx, now)
		n.updatePattern()
	}
	n.publish()
}

func (n *Node) refreshGauges(now time.Time) {
	if now.Sub(n.lastGauges) < gaugeInterval {
		return
	}
	n.lastGauges = now

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	n.freeHeap = ms.HeapSys - ms.HeapAlloc
	n.goroutines = runtime.NumGoroutine()
}

func (n *Node) collectTimeSync() {
	if n.syncResult == nil {
		return
	}
	select {
	case res := <-n.syncResult:
		n.syncResult = nil
		n.timeSynced = res.Synced()
		n.clockOffset = res.Offset
	default:
	}
}

// handleRemote executes a line from the broker command topic and
// publishes the reply on the response topic.
func (n *Node) handleRemote(ctx context.Context, line string) {
	res := n.executeRemote(ctx, line)
	n.session.Respond(res.Message)
	n.publish()
}

// submit runs fn on the loop goroutine and waits for it to finish.
func (n *Node) submit(ctx context.Context, fn func(ctx context.Context)) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case n.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-n.stopped:
		return ErrStopped
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// requestRestart schedules Run to return ErrRestart after the restart
// delay. Callers have already finished their durable writes.
func (n *Node) requestRestart(reason string) {
	if !n.restartAt.IsZero() {
		return
	}
	n.restartAt = time.Now().Add(n.opts.RestartDelay)
	n.logger.Info("restart scheduled", "reason", reason, "delay", n.opts.RestartDelay)
}

// publish stores a fresh Snapshot for readers on other goroutines.
func (n *Node) publish() {
	dev := n.device
	dev.Passphrase = ""

	s := &Snapshot{
		Mode:          n.mode,
		Name:          n.cfg.Node.Name,
		Version:       n.cfg.Node.Version,
		LinkState:     n.link.State().String(),
		LinkUp:        n.linkUp,
		SSID:          dev.SSID,
		Address:       addrString(n.link.Address()),
		MAC:           n.mac,
		RSSI:          n.rssi,
		SignalQuality: link.SignalQuality(n.rssi),
		BrokerHost:    dev.BrokerHost,
		BrokerPort:    dev.BrokerPort,
		TimeSynced:    n.timeSynced,
		ClockOffset:   n.clockOffset,
		FreeHeap:      n.freeHeap,
		Goroutines:    n.goroutines,
		Uptime:        n.uptime(),
		Device:        dev,
	}
	if n.session != nil {
		s.BrokerState = n.session.State().String()
		s.BrokerConnected = n.session.Connected()
		s.BrokerAttempts = n.session.Attempts()
	}
	if n.telemetry != nil {
		if r, ok := n.telemetry.Latest(); ok {
			s.Reading = &r
		}
		s.Telemetry = n.telemetry.Stats()
	}
	n.snap.Store(s)
}

// Snapshot returns a copy of the latest published state. Safe from any
// goroutine.
func (n *Node) Snapshot() Snapshot {
	return *n.snap.Load()
}
