package sequencer

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrInvalidSchedule is returned for a schedule other than "now" or "boot".
	ErrInvalidSchedule = errors.New("sequencer: schedule must be \"now\" or \"boot\"")
	// ErrNoStopCondition is returned when a start command has neither iterations nor duration.
	ErrNoStopCondition = errors.New("sequencer: either iterations or duration is required")
	// ErrInvalidIterations is returned for a negative iteration count.
	ErrInvalidIterations = errors.New("sequencer: iterations must be positive")
	// ErrInvalidDuration is returned for a negative duration.
	ErrInvalidDuration = errors.New("sequencer: duration must be positive")
	// ErrInvalidExitOnFailure is returned for an exit-on-failure flag other than "0" or "1".
	ErrInvalidExitOnFailure = errors.New("sequencer: exit on failure must be \"0\" or \"1\"")
)

// Schedule tells the agent when to run a command.
type Schedule string

const (
	// ScheduleNow runs the command immediately.
	ScheduleNow Schedule = "now"
	// ScheduleBoot defers the command to the next boot.
	ScheduleBoot Schedule = "boot"
)

// ParseSchedule converts s into a Schedule.
func ParseSchedule(s string) (Schedule, error) {
	sch := Schedule(s)
	if !sch.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
	}

	return sch, nil
}

// Valid reports whether s is a known schedule.
func (s Schedule) Valid() bool {
	return s == ScheduleNow || s == ScheduleBoot
}

func (s Schedule) String() string {
	return string(s)
}

// DefaultExitOnFailure is the agent's default for the -x flag; it is never
// rendered.
const DefaultExitOnFailure = "1"

// StartOptions are the parameters of a start command.
// Zero Iterations or DurationSeconds means the flag is absent.
type StartOptions struct {
	Iterations      int
	DurationSeconds int
	// ExitOnFailure is "0" or "1"; empty means DefaultExitOnFailure.
	ExitOnFailure string
	Silent        bool
}

// Validate checks the options before a start command is built from them.
func (o StartOptions) Validate() error {
	if o.Iterations < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIterations, o.Iterations)
	}
	if o.DurationSeconds < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDuration, o.DurationSeconds)
	}
	if o.Iterations == 0 && o.DurationSeconds == 0 {
		return ErrNoStopCondition
	}

	switch o.ExitOnFailure {
	case "", "0", "1":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidExitOnFailure, o.ExitOnFailure)
	}

	return nil
}

func (o StartOptions) exitOnFailure() string {
	if o.ExitOnFailure == "" {
		return DefaultExitOnFailure
	}

	return o.ExitOnFailure
}

// flags renders the options in the fixed order -n, -t, -x, -s.
func (o StartOptions) flags() []string {
	var out []string
	if o.Iterations > 0 {
		out = append(out, "-n", strconv.Itoa(o.Iterations))
	}
	if o.DurationSeconds > 0 {
		out = append(out, "-t", strconv.Itoa(o.DurationSeconds))
	}
	if x := o.exitOnFailure(); x != DefaultExitOnFailure {
		out = append(out, "-x", x)
	}
	if o.Silent {
		out = append(out, "-s")
	}

	return out
}
