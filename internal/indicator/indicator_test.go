package indicator

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
)

func TestPattern_Level(t *testing.T) {
	tests := []struct {
		pattern Pattern
		elapsed time.Duration
		want    int
	}{
		{Off, 0, 0},
		{Off, time.Second, 0},
		{Running, 0, 1},
		{Running, 7 * time.Second, 1},
		{Setup, 0, 1},
		{Setup, 150 * time.Millisecond, 0},
		{Setup, 250 * time.Millisecond, 1},
		{Connecting, 400 * time.Millisecond, 1},
		{Connecting, 600 * time.Millisecond, 0},
		{Fault, 100 * time.Millisecond, 1},
		{Fault, 200 * time.Millisecond, 0},
		{Fault, 350 * time.Millisecond, 1},
		{Fault, time.Second, 0},
		{Fault, 2*time.Second + 50*time.Millisecond, 1},
	}

	for _, tt := range tests {
		if got := tt.pattern.Level(tt.elapsed); got != tt.want {
			t.Errorf("%s.Level(%v) = %d, want %d", tt.pattern, tt.elapsed, got, tt.want)
		}
	}
}

// ============================================================================
// Reset button
// ============================================================================

func TestHoldWatcher(t *testing.T) {
	const hold = 40 * time.Millisecond
	base := time.Now()

	t.Run("fires after hold", func(t *testing.T) {
		var fired atomic.Int32
		w := newHoldWatcher(hold, func() { fired.Add(1) })
		w.edge(true, base)
		time.Sleep(3 * hold)
		if fired.Load() != 1 {
			t.Errorf("fired = %d, want 1", fired.Load())
		}
	})

	t.Run("short press does not fire", func(t *testing.T) {
		var fired atomic.Int32
		w := newHoldWatcher(hold, func() { fired.Add(1) })
		w.edge(true, base)
		w.edge(false, base.Add(debounce+time.Millisecond))
		time.Sleep(3 * hold)
		if fired.Load() != 0 {
			t.Errorf("fired = %d, want 0", fired.Load())
		}
	})

	t.Run("bounce ignored", func(t *testing.T) {
		var fired atomic.Int32
		w := newHoldWatcher(hold, func() { fired.Add(1) })
		w.edge(true, base)
		w.edge(false, base.Add(time.Millisecond))
		w.edge(true, base.Add(2*time.Millisecond))
		time.Sleep(3 * hold)
		if fired.Load() != 1 {
			t.Errorf("fired = %d, want 1", fired.Load())
		}
	})
}

// ============================================================================
// LED renderer
// ============================================================================

type fakeLine struct {
	mu     sync.Mutex
	values []int
}

func (f *fakeLine) SetValue(v int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = append(f.values, v)
	return nil
}

func (f *fakeLine) snapshot() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.values...)
}

func TestRenderer_ShowAndStop(t *testing.T) {
	line := &fakeLine{}
	r := newRenderer(line, logging.Discard())
	go r.run()

	r.show(Running)
	deadline := time.Now().Add(time.Second)
	for {
		vals := line.snapshot()
		if len(vals) > 0 && vals[len(vals)-1] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("LED never turned on, writes = %v", vals)
		}
		time.Sleep(frameInterval)
	}

	r.stop()
	r.stop()
	vals := line.snapshot()
	if vals[len(vals)-1] != 0 {
		t.Errorf("last write after stop = %d, want 0", vals[len(vals)-1])
	}
}
