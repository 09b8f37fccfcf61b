package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/nerrad567/gray-logic-node/internal/command"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
)

const prompt = "graynode> "

// Handler executes one command line and returns the text to print.
type Handler func(ctx context.Context, line string) string

// lineReader is the part of *readline.Instance the console uses.
type lineReader interface {
	Readline() (string, error)
	Close() error
}

// Console reads operator commands until its context ends or input closes.
type Console struct {
	rl     lineReader
	out    io.Writer
	device io.Closer
	logger *logging.Logger

	closeOnce sync.Once
}

// Open creates a console on the terminal, or on cfg.Device when set.
func Open(cfg config.ConsoleConfig, logger *logging.Logger) (*Console, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With("component", "console")

	if cfg.Device == "" {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          prompt,
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create readline: %w", err)
		}
		return &Console{rl: rl, out: rl.Stdout(), logger: logger}, nil
	}

	// #nosec G304 -- device path comes from the bootstrap config
	dev, err := os.OpenFile(cfg.Device, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening console device %s: %w", cfg.Device, err)
	}
	rl, err := readline.NewEx(&readline.Config{
		Stdin:          dev,
		Stdout:         dev,
		Stderr:         dev,
		FuncIsTerminal: func() bool { return false },
	})
	if err != nil {
		dev.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	logger.Info("console attached", "device", cfg.Device)
	return &Console{rl: rl, out: rl.Stdout(), device: dev, logger: logger}, nil
}

// newConsole wraps an existing reader and writer.
func newConsole(rl lineReader, out io.Writer, logger *logging.Logger) *Console {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Console{rl: rl, out: out, logger: logger}
}

// Writer returns the console output stream.
func (c *Console) Writer() io.Writer {
	return c.out
}

// Run reads lines until ctx is cancelled or input ends. Empty lines are
// ignored and lines longer than command.MaxLineLength are discarded.
func (c *Console) Run(ctx context.Context, handle Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading console: %w", err)
		}

		if len(line) > command.MaxLineLength {
			c.logger.Debug("discarding long line", "bytes", len(line))
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		c.logger.Debug("command received", "line", redact(line))
		if reply := handle(ctx, line); reply != "" {
			c.Println(reply)
		}
	}
}

// Println writes one line to the console.
func (c *Console) Println(text string) {
	if _, err := fmt.Fprintln(c.out, text); err != nil {
		c.logger.Debug("writing console", "error", err)
	}
}

// Close releases the reader and the device. It is safe to call twice.
func (c *Console) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.rl.Close()
		if c.device != nil {
			if cerr := c.device.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

// redact hides the passphrase of SET_WIFI lines.
func redact(line string) string {
	verb, args, ok := strings.Cut(line, ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(verb), command.VerbSetWiFi) {
		return line
	}
	ssid, _, _ := strings.Cut(args, ",")
	return verb + ":" + ssid + ",***"
}
