package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-runin/internal/pool"
	"github.com/arloliu/go-runin/logger"
)

var (
	// ErrNilWriter is returned by New without a LineWriter.
	ErrNilWriter = errors.New("sequencer: line writer is nil")
	// ErrEmptyScript is returned by ExecuteScript when the script has no command.
	ErrEmptyScript = errors.New("sequencer: script is empty")
)

// DefaultCommandDelay is the pause after each command of a run.
const DefaultCommandDelay = 200 * time.Millisecond

// MaxCommandDelay is the largest accepted command delay.
const MaxCommandDelay = time.Minute

// LineWriter writes one line-terminated command. *transport.Transport
// implements it.
type LineWriter interface {
	WriteLine(text string) error
}

// Clock provides the time source and suspension used between commands.
type Clock interface {
	Now() time.Time
	// Sleep pauses for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error { return pool.Sleep(ctx, d) }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Report summarizes one run.
type Report struct {
	// Total is the number of commands in the run.
	Total int
	// Sent is the number of commands written successfully.
	Sent int
	// Failed is the number of commands whose write failed.
	Failed int
	// Elapsed is the run time measured by the sequencer clock.
	Elapsed time.Duration
}

// Skipped returns the number of commands not attempted because the run was cancelled.
func (r Report) Skipped() int {
	return r.Total - r.Sent - r.Failed
}

// Option configures a Sequencer.
type Option interface {
	apply(*Sequencer) error
}

type optFunc func(*Sequencer) error

func (f optFunc) apply(s *Sequencer) error { return f(s) }

// WithCommandDelay sets the pause after each command. Zero disables it.
func WithCommandDelay(d time.Duration) Option {
	return optFunc(func(s *Sequencer) error {
		if d < 0 || d > MaxCommandDelay {
			return fmt.Errorf("sequencer: command delay %v out of range [0, %v]", d, MaxCommandDelay)
		}
		s.delay = d

		return nil
	})
}

// WithClock sets the clock used for delays.
func WithClock(c Clock) Option {
	return optFunc(func(s *Sequencer) error {
		if c == nil {
			return errors.New("sequencer: clock must not be nil")
		}
		s.clock = c

		return nil
	})
}

// WithLogger sets the logger of the sequencer.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(s *Sequencer) error {
		if l == nil {
			return errors.New("sequencer: logger must not be nil")
		}
		s.logger = l

		return nil
	})
}

// WithScript makes the sequencer operate on an existing script.
func WithScript(script *Script) Option {
	return optFunc(func(s *Sequencer) error {
		if script == nil {
			return errors.New("sequencer: script must not be nil")
		}
		s.script = script

		return nil
	})
}

// Sequencer owns a Script and dispatches commands through a LineWriter.
//
// Runs are strictly sequential: a second Execute waits for the first to
// finish. Reading the script and sending single commands with Send do not
// wait for a run.
type Sequencer struct {
	writer LineWriter
	script *Script
	delay  time.Duration
	clock  Clock
	logger logger.Logger

	execMu  sync.Mutex
	metrics Metrics
}

// New creates a Sequencer writing to w.
func New(w LineWriter, opts ...Option) (*Sequencer, error) {
	if w == nil {
		return nil, ErrNilWriter
	}

	s := &Sequencer{
		writer: w,
		script: &Script{},
		delay:  DefaultCommandDelay,
		clock:  systemClock{},
		logger: logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Script returns the script owned by the sequencer.
func (s *Sequencer) Script() *Script { return s.script }

// CommandDelay returns the pause after each command.
func (s *Sequencer) CommandDelay() time.Duration { return s.delay }

// GetMetrics returns the metrics associated with the sequencer.
func (s *Sequencer) GetMetrics() *Metrics { return &s.metrics }

// Execute writes cmds in order, pausing for the command delay after each one.
//
// A failed write is logged and the run continues. The returned error is
// non-nil only when ctx ends the run early; the report then tells how many
// commands were not attempted.
func (s *Sequencer) Execute(ctx context.Context, cmds []string) (Report, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	report := Report{Total: len(cmds)}
	start := s.clock.Now()
	s.metrics.incRunCount()

	s.logger.Info("sequencer: run started", "commands", len(cmds), "delay", s.delay)

	for i, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return s.finish(report, start, err)
		}

		if err := s.send(cmd); err != nil {
			report.Failed++
			s.logger.Warn("sequencer: command failed, continuing", "index", i, "command", cmd, "error", err)
		} else {
			report.Sent++
		}

		if err := s.clock.Sleep(ctx, s.delay); err != nil {
			return s.finish(report, start, err)
		}
	}

	return s.finish(report, start, nil)
}

// ExecuteScript executes a snapshot of the owned script.
func (s *Sequencer) ExecuteScript(ctx context.Context) (Report, error) {
	cmds := s.script.Commands()
	if len(cmds) == 0 {
		return Report{}, ErrEmptyScript
	}

	return s.Execute(ctx, cmds)
}

// Send writes one command immediately, without delay and without waiting
// for a running Execute.
func (s *Sequencer) Send(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.send(cmd); err != nil {
		s.logger.Warn("sequencer: command failed", "command", cmd, "error", err)
		return err
	}

	return nil
}

func (s *Sequencer) send(cmd string) error {
	s.logger.Debug("sequencer: sending", "command", cmd)

	if err := s.writer.WriteLine(cmd); err != nil {
		s.metrics.incCommandErrCount()
		return err
	}
	s.metrics.incCommandCount()

	return nil
}

func (s *Sequencer) finish(report Report, start time.Time, err error) (Report, error) {
	report.Elapsed = s.clock.Now().Sub(start)

	if err != nil {
		s.metrics.incRunAbortCount()
		s.logger.Warn("sequencer: run aborted",
			"sent", report.Sent, "failed", report.Failed, "skipped", report.Skipped(), "error", err)

		return report, err
	}

	s.logger.Info("sequencer: run finished",
		"sent", report.Sent, "failed", report.Failed, "elapsed", report.Elapsed)

	return report, nil
}
