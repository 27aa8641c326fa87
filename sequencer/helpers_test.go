package sequencer

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-runin/logger"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

// fakeClock advances only when Sleep is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	// onSleep, when set, runs before each sleep returns.
	onSleep func(n int)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	n := len(c.sleeps)
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}

	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]time.Duration(nil), c.sleeps...)
}

type writeCall struct {
	text string
	at   time.Time
}

// fakeWriter records lines with the clock time of the write.
type fakeWriter struct {
	mu    sync.Mutex
	clock Clock
	calls []writeCall
	fail  map[string]error
}

var errDeviceGone = errors.New("device gone")

func newFakeWriter(clock Clock) *fakeWriter {
	return &fakeWriter{clock: clock, fail: map[string]error{}}
}

func (w *fakeWriter) WriteLine(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var at time.Time
	if w.clock != nil {
		at = w.clock.Now()
	}
	w.calls = append(w.calls, writeCall{text: text, at: at})

	return w.fail[text]
}

func (w *fakeWriter) Lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.calls))
	for _, c := range w.calls {
		out = append(out, c.text)
	}

	return out
}

func (w *fakeWriter) Calls() []writeCall {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]writeCall(nil), w.calls...)
}
