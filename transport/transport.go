package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-runin/internal/pool"
	"github.com/arloliu/go-runin/internal/task"
	"github.com/arloliu/go-runin/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// Sentinel errors of the transport.
var (
	// ErrInvalidBaudRate is returned by Connect for a non-positive baud rate.
	ErrInvalidBaudRate = errors.New("transport: baud rate must be positive")
	// ErrBusy is returned by Connect when the Transport is not Disconnected.
	ErrBusy = errors.New("transport: connect already in progress or connected")
	// ErrNoPortSelected is returned when the host offers no port to open.
	ErrNoPortSelected = errors.New("transport: no port selected")
	// ErrNotConnected is returned by writes while the Transport is not Connected.
	// It is a soft failure: nothing was written and a warning was logged.
	ErrNotConnected = errors.New("transport: port not writable")
	// ErrWriterClosed is returned by writes racing with a teardown.
	ErrWriterClosed = errors.New("transport: writer closed")
	// ErrConnectAborted is returned by Connect when Disconnect was called before the link was up.
	ErrConnectAborted = errors.New("transport: connect aborted by disconnect")
)

// ConnectHandler is invoked after the link reaches the Connected state.
type ConnectHandler func(t *Transport)

// DisconnectHandler is invoked after a teardown completes. cause is nil when
// the teardown was requested with Disconnect, io.EOF when the device ended
// the stream, or the read error that ended the read loop.
type DisconnectHandler func(t *Transport, cause error)

// DataHandler is invoked from the read loop with each non-empty chunk of
// decoded text, in arrival order.
type DataHandler func(t *Transport, text string)

// Handlers groups the callbacks of one observer. Nil fields are skipped.
type Handlers struct {
	OnConnect    ConnectHandler
	OnDisconnect DisconnectHandler
	OnData       DataHandler
}

// Transport owns the link to a device. It is safe for concurrent use.
type Transport struct {
	pctx   context.Context
	cfg    *ConnectionConfig
	opener Opener
	logger logger.Logger

	state AtomicState

	linkMu  sync.Mutex
	link    *link
	pending *pendingConnect

	observers  *xsync.MapOf[uint64, Handlers]
	observerID atomic.Uint64

	metrics Metrics
}

// link holds the handles of one open connection. It is discarded on teardown.
type link struct {
	baudRate int
	port     Port
	writer   *textWriter
	reader   *textReader
	tasks    *task.Manager

	// readErr is written by the read loop and read by its exit handler,
	// both on the read loop goroutine.
	readErr error

	ready   chan struct{} // closed once connect handlers have run
	closing atomic.Bool
	closed  chan struct{}
}

// pendingConnect tracks a Connect that has not published its link yet, so a
// Disconnect arriving meanwhile can abort it.
type pendingConnect struct {
	cancel  context.CancelFunc
	aborted bool // guarded by Transport.linkMu
	done    chan struct{}
}

// New creates a Transport that requests ports from opener.
//
// ctx bounds the lifetime of every link opened by the Transport. A nil cfg
// means the defaults of NewConnectionConfig.
func New(ctx context.Context, opener Opener, cfg *ConnectionConfig) (*Transport, error) {
	if opener == nil {
		return nil, errors.New("transport: opener is nil")
	}

	if cfg == nil {
		var err error
		if cfg, err = NewConnectionConfig(); err != nil {
			return nil, err
		}
	}

	t := &Transport{
		pctx:      ctx,
		cfg:       cfg,
		opener:    opener,
		logger:    cfg.logger,
		observers: xsync.NewMapOf[uint64, Handlers](),
	}
	t.state.Set(DisconnectedState)

	return t, nil
}

// AddHandlers registers an observer and returns a function that removes it.
func (t *Transport) AddHandlers(h Handlers) (remove func()) {
	id := t.observerID.Add(1)
	t.observers.Store(id, h)

	return func() { t.observers.Delete(id) }
}

// State returns the current lifecycle state.
func (t *Transport) State() State {
	return t.state.Get()
}

// IsConnected reports whether the link is in the Connected state.
func (t *Transport) IsConnected() bool {
	return t.state.IsConnected()
}

// BaudRate returns the baud rate of the open link, or 0 when disconnected.
func (t *Transport) BaudRate() int {
	if l := t.currentLink(); l != nil {
		return l.baudRate
	}

	return 0
}

// GetLogger returns the logger associated with the transport.
func (t *Transport) GetLogger() logger.Logger {
	return t.logger
}

// GetMetrics returns the metrics associated with the transport.
func (t *Transport) GetMetrics() *Metrics {
	return &t.metrics
}

// --- Connection lifecycle ---

// Connect requests a port, opens it at baudRate and starts the read loop.
//
// On failure the Transport stays Disconnected, no handle is left open and
// connect handlers are not invoked.
func (t *Transport) Connect(ctx context.Context, baudRate int) error {
	if baudRate <= 0 {
		return ErrInvalidBaudRate
	}

	if !t.state.ToConnecting() {
		t.logger.Warn("transport: connect rejected", "state", t.state.String())

		return fmt.Errorf("%w: state %s", ErrBusy, t.state.String())
	}

	openCtx, cancel := context.WithCancel(ctx)
	pc := &pendingConnect{cancel: cancel, done: make(chan struct{})}
	t.linkMu.Lock()
	t.pending = pc
	t.linkMu.Unlock()

	defer func() {
		cancel()
		t.linkMu.Lock()
		if t.pending == pc {
			t.pending = nil
		}
		t.linkMu.Unlock()
		close(pc.done)
	}()

	l, err := t.openLink(openCtx, baudRate)

	t.linkMu.Lock()
	aborted := pc.aborted
	if err == nil && !aborted {
		t.link = l
		t.pending = nil
	}
	t.linkMu.Unlock()

	if err != nil {
		t.state.ToDisconnected()
		if aborted {
			t.logger.Info("transport: connect aborted by disconnect", "baudRate", baudRate)

			return fmt.Errorf("%w: %w", ErrConnectAborted, err)
		}
		t.metrics.incConnectErrCount()
		t.logger.Error("transport: connection failed", "baudRate", baudRate, "error", err)

		return err
	}

	if aborted {
		// The link was never published; release it without notifying.
		t.teardown(l, nil)
		t.logger.Info("transport: connect aborted by disconnect", "baudRate", baudRate)

		return ErrConnectAborted
	}

	if err := l.tasks.Start("readLoop", t.readLoopIteration(l), t.readLoopExit(l)); err != nil {
		t.logger.Error("transport: failed to start read loop", "error", err)
		t.teardown(l, err)

		return err
	}

	// The link must still be the published one: a teardown racing with this
	// point may already have let another Connect start.
	t.linkMu.Lock()
	connected := t.link == l && !l.closing.Load() && t.state.ToConnected()
	t.linkMu.Unlock()

	if !connected {
		// Disconnect was requested while the read loop was starting.
		<-l.closed

		return ErrConnectAborted
	}

	t.metrics.incConnectCount()
	t.logger.Info("transport: connected", "baudRate", baudRate)

	t.observers.Range(func(_ uint64, h Handlers) bool {
		if h.OnConnect != nil {
			h.OnConnect(t)
		}

		return true
	})

	// Data handlers only run once every connect handler has returned.
	close(l.ready)

	return nil
}

func (t *Transport) openLink(ctx context.Context, baudRate int) (*link, error) {
	port, err := t.opener.Open(ctx, baudRate)
	if err != nil {
		return nil, err
	}
	if port == nil {
		return nil, ErrNoPortSelected
	}

	if err := port.SetReadTimeout(t.cfg.readPollTimeout); err != nil {
		_ = port.Close()

		return nil, fmt.Errorf("transport: set read timeout: %w", err)
	}

	return &link{
		baudRate: baudRate,
		port:     port,
		writer:   newTextWriter(port, t.cfg.encoding),
		reader:   newTextReader(port, t.cfg.encoding, t.cfg.readBufferSize),
		tasks:    task.NewManager(t.pctx, t.logger),
		ready:    make(chan struct{}),
		closed:   make(chan struct{}),
	}, nil
}

// Disconnect tears the link down and waits for the teardown to finish.
//
// It is a no-op when the Transport is already disconnected, and waits for an
// in-progress teardown instead of starting a second one. Teardown errors are
// logged, never returned. Do not call Disconnect from a DataHandler; use
// DisconnectAsync.
//
// A Connect still opening the port is aborted: its context is cancelled,
// it returns ErrConnectAborted and Disconnect waits for it to return.
//
// A blocked read is not interrupted directly. The read loop observes the
// request when its current read returns, which takes at most the read poll
// timeout (see WithReadPollTimeout, 50ms by default); teardown gives up
// waiting after the close timeout and closes the port underneath it.
func (t *Transport) Disconnect() {
	t.linkMu.Lock()
	l := t.link
	pc := t.pending
	if l == nil && pc != nil {
		pc.aborted = true
		pc.cancel()
	}
	t.linkMu.Unlock()

	switch {
	case l != nil:
		t.teardown(l, nil)
	case pc != nil:
		t.logger.Debug("transport: aborting connect in progress")
		<-pc.done
	default:
		t.logger.Debug("transport: disconnect on disconnected transport")
	}
}

// DisconnectAsync starts a teardown without waiting for it. The returned
// channel is closed when the teardown has finished.
func (t *Transport) DisconnectAsync() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.Disconnect()
	}()

	return done
}

// Close disconnects the transport. It implements io.Closer and always returns nil.
func (t *Transport) Close() error {
	t.Disconnect()

	return nil
}

// teardown releases the handles of l in order: read loop, writer, port.
// Disconnect handlers are notified only if the link had reached Connected.
func (t *Transport) teardown(l *link, cause error) {
	// Serialized with the publish step of Connect under linkMu.
	t.linkMu.Lock()
	if !l.closing.CompareAndSwap(false, true) {
		t.linkMu.Unlock()
		<-l.closed

		return
	}
	from, _ := t.state.ToDisconnecting()
	t.linkMu.Unlock()
	t.logger.Debug("transport: start to close link", "from", from.String())

	// (1) Stop the read loop and await it.
	if l.tasks != nil {
		l.tasks.Stop()
		if t.awaitReadLoop(l) {
			if l.reader != nil {
				l.reader.Release()
			}
		} else {
			t.logger.Error("transport: read loop did not stop in time, closing port under it",
				"timeout", t.cfg.closeTimeout)
		}
	}

	// (2) Close the writer once pending output is flushed.
	if l.writer != nil {
		if err := l.writer.Close(); err != nil {
			t.logger.Debug("transport: failed to flush writer", "error", err)
		}
	}

	// (3) Close the port.
	if l.port != nil {
		if err := l.port.Close(); err != nil && !isPortClosedError(err) {
			t.logger.Debug("transport: failed to close port", "error", err)
		}
	}

	t.linkMu.Lock()
	if t.link == l {
		t.link = nil
	}
	t.linkMu.Unlock()

	t.state.ToDisconnected()
	close(l.closed)

	if from != ConnectedState {
		t.logger.Debug("transport: link closed before it was connected")

		return
	}

	t.metrics.incDisconnectCount()

	if cause != nil {
		t.logger.Warn("transport: disconnected", "cause", cause)
	} else {
		t.logger.Info("transport: disconnected")
	}

	t.observers.Range(func(_ uint64, h Handlers) bool {
		if h.OnDisconnect != nil {
			h.OnDisconnect(t, cause)
		}

		return true
	})
}

func (t *Transport) awaitReadLoop(l *link) bool {
	done := make(chan struct{})
	go func() {
		l.tasks.Wait()
		close(done)
	}()

	timer := pool.GetTimer(t.cfg.closeTimeout)
	defer pool.PutTimer(timer)

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (t *Transport) currentLink() *link {
	t.linkMu.Lock()
	defer t.linkMu.Unlock()

	return t.link
}

// --- Read loop ---

// readLoopIteration performs one bounded read and pushes the decoded text to
// the data handlers.
func (t *Transport) readLoopIteration(l *link) task.Func {
	started := false

	return func(ctx context.Context) bool {
		if !started {
			select {
			case <-l.ready:
				started = true
			case <-ctx.Done():
				return false
			}
		}

		text, n, err := l.reader.Read()
		t.metrics.addBytesRecv(n)

		if text != "" && ctx.Err() == nil {
			t.observers.Range(func(_ uint64, h Handlers) bool {
				if h.OnData != nil {
					h.OnData(t, text)
				}

				return true
			})
		}

		if err == nil {
			return true
		}

		if ctx.Err() != nil {
			// Cancelled by teardown; the error is a consequence of it.
			return false
		}

		if errors.Is(err, io.EOF) {
			t.logger.Debug("transport: end of stream")
			l.readErr = io.EOF
		} else {
			t.logger.Error("transport: read failed", "error", err)
			l.readErr = err
		}
		l.reader.Release()

		return false
	}
}

// readLoopExit turns a read loop that ended without a teardown into one.
func (t *Transport) readLoopExit(l *link) task.ExitFunc {
	return func(cancelled bool) {
		if l.closing.Load() {
			return
		}

		cause := l.readErr
		if cancelled {
			// The parent context of the transport is done.
			cause = t.pctx.Err()
		} else {
			t.metrics.incReadTermCount()
		}
		if cause == nil {
			cause = io.EOF
		}

		// The teardown waits for this goroutine, so it must run on another one.
		go t.teardown(l, cause)
	}
}

// --- Writing ---

// Write writes p verbatim to the port.
//
// While the Transport is not Connected, Write logs a warning, writes nothing
// and returns ErrNotConnected.
func (t *Transport) Write(p []byte) (int, error) {
	w, err := t.writer()
	if err != nil {
		return 0, err
	}

	n, err := w.Write(p)

	return t.afterWrite(n, err)
}

// WriteString encodes s with the configured encoding and writes it.
func (t *Transport) WriteString(s string) (int, error) {
	w, err := t.writer()
	if err != nil {
		return 0, err
	}

	n, err := w.WriteString(s)

	return t.afterWrite(n, err)
}

// WriteLine writes text followed by the line terminator.
func (t *Transport) WriteLine(text string) error {
	_, err := t.WriteString(text + t.cfg.lineTerminator)

	return err
}

func (t *Transport) writer() (*textWriter, error) {
	l := t.currentLink()
	if l == nil || !t.state.IsConnected() {
		t.metrics.incWriteErrCount()
		t.logger.Warn("transport: port not writable", "state", t.state.String())

		return nil, ErrNotConnected
	}

	return l.writer, nil
}

func (t *Transport) afterWrite(n int, err error) (int, error) {
	t.metrics.addBytesSent(n)

	if err != nil {
		t.metrics.incWriteErrCount()
		if errors.Is(err, ErrWriterClosed) {
			t.logger.Warn("transport: port not writable", "state", t.state.String())
		} else {
			t.logger.Error("transport: write failed", "error", err)
		}
	}

	return n, err
}
