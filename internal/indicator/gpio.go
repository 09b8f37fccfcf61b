package indicator

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gpiod "github.com/warthog618/go-gpiocdev"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
)

const (
	frameInterval = 50 * time.Millisecond
	debounce      = 30 * time.Millisecond

	// DefaultResetHold applies when the configured hold time is zero.
	DefaultResetHold = 5 * time.Second
)

// output is the part of *gpiod.Line the LED renderer needs.
type output interface {
	SetValue(value int) error
}

// Indicator owns the LED and button lines.
type Indicator struct {
	chip   *gpiod.Chip
	led    *gpiod.Line
	button *gpiod.Line
	logger *logging.Logger

	renderer *renderer
	watcher  *holdWatcher
}

// Open requests the configured lines on cfg.Chip. A negative line number
// leaves that line unused. onReset runs on a GPIO event goroutine.
func Open(cfg config.GPIOConfig, onReset func(), logger *logging.Logger) (*Indicator, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With("component", "indicator")

	chip, err := gpiod.NewChip(cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("open chip %s: %w", cfg.Chip, err)
	}
	ind := &Indicator{chip: chip, logger: logger}

	if cfg.LEDLine >= 0 {
		line, err := chip.RequestLine(cfg.LEDLine, gpiod.AsOutput(0))
		if err != nil {
			ind.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("request led line %d: %w", cfg.LEDLine, err)
		}
		ind.led = line
		ind.renderer = newRenderer(line, logger)
		go ind.renderer.run()
	}

	if cfg.ButtonLine >= 0 && onReset != nil {
		hold := time.Duration(cfg.ResetHold) * time.Second
		if hold <= 0 {
			hold = DefaultResetHold
		}
		ind.watcher = newHoldWatcher(hold, func() {
			logger.Warn("reset button held", "hold", hold)
			onReset()
		})
		line, err := chip.RequestLine(cfg.ButtonLine,
			gpiod.AsInput,
			gpiod.WithPullUp,
			gpiod.WithBothEdges,
			gpiod.WithEventHandler(ind.handleButton),
		)
		if err != nil {
			ind.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("request button line %d: %w", cfg.ButtonLine, err)
		}
		ind.button = line
	}

	logger.Info("gpio ready", "chip", cfg.Chip, "led", cfg.LEDLine, "button", cfg.ButtonLine)
	return ind, nil
}

// The button is active low: pulled up at rest, shorted to ground when pressed.
func (ind *Indicator) handleButton(evt gpiod.LineEvent) {
	ind.watcher.edge(evt.Type == gpiod.LineEventFallingEdge, time.Now())
}

// Show switches the LED pattern.
func (ind *Indicator) Show(p Pattern) {
	if ind.renderer != nil {
		ind.renderer.show(p)
	}
}

// Close turns the LED off and releases every line.
func (ind *Indicator) Close() error {
	var errs []error
	if ind.renderer != nil {
		ind.renderer.stop()
	}
	if ind.watcher != nil {
		ind.watcher.edge(false, time.Now())
	}
	for _, line := range []*gpiod.Line{ind.led, ind.button} {
		if line == nil {
			continue
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	if ind.chip != nil {
		if err := ind.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}

// renderer drives an output through the current pattern.
type renderer struct {
	out     output
	logger  *logging.Logger
	pattern atomic.Int32
	changed atomic.Int64

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func newRenderer(out output, logger *logging.Logger) *renderer {
	r := &renderer{out: out, logger: logger, done: make(chan struct{})}
	r.changed.Store(time.Now().UnixNano())
	r.wg.Add(1)
	return r
}

func (r *renderer) show(p Pattern) {
	if Pattern(r.pattern.Swap(int32(p))) != p {
		r.changed.Store(time.Now().UnixNano())
	}
}

func (r *renderer) run() {
	defer r.wg.Done()
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	last := -1
	for {
		select {
		case <-r.done:
			if err := r.out.SetValue(0); err != nil {
				r.logger.Debug("led off", "error", err)
			}
			return
		case now := <-ticker.C:
			elapsed := now.Sub(time.Unix(0, r.changed.Load()))
			level := Pattern(r.pattern.Load()).Level(elapsed)
			if level == last {
				continue
			}
			if err := r.out.SetValue(level); err != nil {
				r.logger.Debug("led write failed", "error", err)
				continue
			}
			last = level
		}
	}
}

func (r *renderer) stop() {
	r.once.Do(func() { close(r.done) })
	r.wg.Wait()
}

// holdWatcher fires once when a press outlasts hold.
type holdWatcher struct {
	hold time.Duration
	fire func()

	mu       sync.Mutex
	pressed  bool
	lastEdge time.Time
	timer    *time.Timer
}

func newHoldWatcher(hold time.Duration, fire func()) *holdWatcher {
	return &holdWatcher{hold: hold, fire: fire}
}

// edge records a level change. Changes within the debounce window of the
// previous accepted edge are ignored.
func (w *holdWatcher) edge(pressed bool, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if pressed == w.pressed || (!w.lastEdge.IsZero() && now.Sub(w.lastEdge) < debounce) {
		return
	}
	w.pressed = pressed
	w.lastEdge = now

	if pressed {
		w.timer = time.AfterFunc(w.hold, w.fire)
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
