package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-runin/logger"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestNew_NilOpener(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestNew_DefaultConfig(t *testing.T) {
	tr, err := New(context.Background(), OpenerFunc(func(context.Context, int) (Port, error) {
		return nil, ErrNoPortSelected
	}), nil)
	require.NoError(t, err)

	assert.Equal(t, DisconnectedState, tr.State())
	assert.NotNil(t, tr.GetLogger())
	assert.Zero(t, tr.BaudRate())
}

func TestTransport_ConnectDisconnect(t *testing.T) {
	port := newFakePort()
	tr, rec := newTestTransport(t, port)

	require.NoError(t, tr.Connect(context.Background(), 9600))

	assert.Equal(t, ConnectedState, tr.State())
	assert.True(t, tr.IsConnected())
	assert.Equal(t, 9600, tr.BaudRate())
	assert.Equal(t, 1, rec.Connects())
	assert.Equal(t, 5*time.Millisecond, port.readTimeout)

	tr.Disconnect()

	assert.Equal(t, DisconnectedState, tr.State())
	assert.Zero(t, tr.BaudRate())
	require.Len(t, rec.Disconnects(), 1)
	require.NoError(t, rec.Disconnects()[0])

	drains, closes := port.Counts()
	assert.Equal(t, 1, drains)
	assert.Equal(t, 1, closes)

	// A second disconnect neither fails nor notifies again.
	tr.Disconnect()
	require.NoError(t, tr.Close())
	assert.Len(t, rec.Disconnects(), 1)

	metrics := tr.GetMetrics()
	assert.Equal(t, uint64(1), metrics.ConnectCount.Load())
	assert.Equal(t, uint64(1), metrics.DisconnectCount.Load())
	assert.Zero(t, metrics.ReadTermCount.Load())
}

func TestTransport_DisconnectWithoutConnect(t *testing.T) {
	tr, rec := newTestTransport(t, newFakePort())

	tr.Disconnect()
	tr.Disconnect()

	assert.Equal(t, DisconnectedState, tr.State())
	assert.Empty(t, rec.Disconnects())
}

func TestTransport_TeardownOrder(t *testing.T) {
	port := newFakePort()
	tr, _ := newTestTransport(t, port)

	require.NoError(t, tr.Connect(context.Background(), 115200))
	require.Eventually(t, func() bool {
		return len(port.Events()) > 0
	}, time.Second, time.Millisecond, "read loop never read")

	tr.Disconnect()

	events := port.Events()
	drainAt := indexOf(events, "drain")
	closeAt := indexOf(events, "close")
	require.GreaterOrEqual(t, drainAt, 0)
	require.Greater(t, closeAt, drainAt, "port closed before writer was flushed")

	for _, ev := range events[drainAt:] {
		assert.NotEqual(t, "read", ev, "read attempted during teardown")
	}
}

func TestTransport_ReconnectAfterDisconnect(t *testing.T) {
	var opened atomic.Int32
	var ports []*fakePort
	var mu sync.Mutex

	cfg, err := NewConnectionConfig(WithReadPollTimeout(5 * time.Millisecond))
	require.NoError(t, err)

	tr, err := New(context.Background(), OpenerFunc(func(context.Context, int) (Port, error) {
		opened.Add(1)
		p := newFakePort()
		mu.Lock()
		ports = append(ports, p)
		mu.Unlock()

		return p, nil
	}), cfg)
	require.NoError(t, err)

	for range 3 {
		require.NoError(t, tr.Connect(context.Background(), 115200))
		tr.Disconnect()
	}

	assert.Equal(t, int32(3), opened.Load())
	for _, p := range ports {
		_, closes := p.Counts()
		assert.Equal(t, 1, closes)
	}
}

func TestTransport_ConnectInvalidBaudRate(t *testing.T) {
	tr, rec := newTestTransport(t, newFakePort())

	for _, baud := range []int{0, -9600} {
		err := tr.Connect(context.Background(), baud)
		require.ErrorIs(t, err, ErrInvalidBaudRate)
	}

	assert.Equal(t, DisconnectedState, tr.State())
	assert.Zero(t, rec.Connects())
}

func TestTransport_ConnectFailure(t *testing.T) {
	openErr := errors.New("permission denied")

	tests := []struct {
		name    string
		opener  OpenerFunc
		wantErr error
	}{
		{
			name: "open error",
			opener: func(context.Context, int) (Port, error) {
				return nil, openErr
			},
			wantErr: openErr,
		},
		{
			name: "no port selected",
			opener: func(context.Context, int) (Port, error) {
				return nil, ErrNoPortSelected
			},
			wantErr: ErrNoPortSelected,
		},
		{
			name: "nil port",
			opener: func(context.Context, int) (Port, error) {
				return nil, nil
			},
			wantErr: ErrNoPortSelected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(context.Background(), tt.opener, nil)
			require.NoError(t, err)

			rec := newRecorder()
			tr.AddHandlers(rec.handlers())

			err = tr.Connect(context.Background(), 115200)
			require.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, DisconnectedState, tr.State())
			assert.Zero(t, rec.Connects())
			assert.Empty(t, rec.Disconnects())
			assert.Equal(t, uint64(1), tr.GetMetrics().ConnectErrCount.Load())

			// The transport is usable again after a failed connect.
			err = tr.Connect(context.Background(), 115200)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTransport_DisconnectWhileOpening(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	ports := []*fakePort{newFakePort(), newFakePort()}

	cfg, err := NewConnectionConfig(WithReadPollTimeout(5 * time.Millisecond))
	require.NoError(t, err)

	// The first open only completes once its context is cancelled, and then
	// hands out a port anyway, like a driver that ignores cancellation.
	tr, err := New(context.Background(), OpenerFunc(func(ctx context.Context, _ int) (Port, error) {
		n := calls.Add(1)
		if n == 1 {
			close(entered)
			<-ctx.Done()
		}

		return ports[n-1], nil
	}), cfg)
	require.NoError(t, err)
	defer tr.Disconnect()

	rec := newRecorder()
	tr.AddHandlers(rec.handlers())

	connErr := make(chan error, 1)
	go func() { connErr <- tr.Connect(context.Background(), 115200) }()

	<-entered
	assert.Equal(t, ConnectingState, tr.State())

	tr.Disconnect()

	// Disconnect returns once the aborted link is released.
	assert.Equal(t, DisconnectedState, tr.State())
	_, closes := ports[0].Counts()
	assert.Equal(t, 1, closes, "opened port must be released")

	select {
	case err := <-connErr:
		require.ErrorIs(t, err, ErrConnectAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Disconnect")
	}

	assert.Zero(t, tr.BaudRate())
	assert.Zero(t, rec.Connects())
	assert.Empty(t, rec.Disconnects())
	assert.Zero(t, tr.GetMetrics().ConnectCount.Load())
	assert.NotContains(t, ports[0].Events(), "read")

	// The transport is usable after an aborted connect.
	require.NoError(t, tr.Connect(context.Background(), 9600))
	assert.True(t, tr.IsConnected())
	assert.Equal(t, 1, rec.Connects())
}

func TestTransport_DisconnectCancelsOpen(t *testing.T) {
	entered := make(chan struct{})

	tr, err := New(context.Background(), OpenerFunc(func(ctx context.Context, _ int) (Port, error) {
		close(entered)
		<-ctx.Done()

		return nil, ctx.Err()
	}), nil)
	require.NoError(t, err)

	connErr := make(chan error, 1)
	go func() { connErr <- tr.Connect(context.Background(), 115200) }()

	<-entered
	tr.Disconnect()

	err = <-connErr
	require.ErrorIs(t, err, ErrConnectAborted)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, DisconnectedState, tr.State())
	assert.Zero(t, tr.GetMetrics().ConnectErrCount.Load())
}

func TestTransport_ConnectBusy(t *testing.T) {
	var opened atomic.Int32
	port := newFakePort()

	cfg, err := NewConnectionConfig(WithReadPollTimeout(5 * time.Millisecond))
	require.NoError(t, err)

	tr, err := New(context.Background(), OpenerFunc(func(context.Context, int) (Port, error) {
		opened.Add(1)
		return port, nil
	}), cfg)
	require.NoError(t, err)
	defer tr.Disconnect()

	require.NoError(t, tr.Connect(context.Background(), 115200))

	err = tr.Connect(context.Background(), 115200)
	require.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, int32(1), opened.Load())
	assert.Equal(t, ConnectedState, tr.State())
}

func TestTransport_ConcurrentConnectOpensOnce(t *testing.T) {
	var opened atomic.Int32
	release := make(chan struct{})

	tr, err := New(context.Background(), OpenerFunc(func(context.Context, int) (Port, error) {
		opened.Add(1)
		<-release
		return newFakePort(), nil
	}), nil)
	require.NoError(t, err)
	defer tr.Disconnect()

	var wg sync.WaitGroup
	var busy atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errors.Is(tr.Connect(context.Background(), 115200), ErrBusy) {
				busy.Add(1)
			}
		}()
	}

	require.Eventually(t, func() bool { return busy.Load() == 7 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), opened.Load())
	assert.True(t, tr.IsConnected())
}

func TestTransport_WriteLine(t *testing.T) {
	port := newFakePort()
	tr, _ := newTestTransport(t, port)
	require.NoError(t, tr.Connect(context.Background(), 115200))

	require.NoError(t, tr.WriteLine("runin status"))
	n, err := tr.Write([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, "runin status\r\nraw", port.Written())
	assert.Equal(t, uint64(len("runin status\r\nraw")), tr.GetMetrics().BytesSentCount.Load())
}

func TestTransport_WriteLine_CustomTerminator(t *testing.T) {
	port := newFakePort()
	tr, _ := newTestTransport(t, port, WithLineTerminator("\n"))
	require.NoError(t, tr.Connect(context.Background(), 115200))

	require.NoError(t, tr.WriteLine("runin log"))
	assert.Equal(t, "runin log\n", port.Written())
}

func TestTransport_WriteNotConnected(t *testing.T) {
	ml := logger.NewPermissiveMockLogger()
	ml.On("Warn", "transport: port not writable", mock.Anything).Return()

	port := newFakePort()
	tr, _ := newTestTransport(t, port, WithLogger(ml))

	err := tr.WriteLine("runin start -w now -n 1")
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = tr.Write([]byte{0x03})
	require.ErrorIs(t, err, ErrNotConnected)

	assert.Empty(t, port.Written())
	assert.Equal(t, uint64(2), tr.GetMetrics().WriteErrCount.Load())
	ml.AssertNumberOfCalls(t, "Warn", 2)
}

func TestTransport_WriteAfterDisconnect(t *testing.T) {
	port := newFakePort()
	tr, _ := newTestTransport(t, port)
	require.NoError(t, tr.Connect(context.Background(), 115200))

	tr.Disconnect()

	require.ErrorIs(t, tr.WriteLine("late"), ErrNotConnected)
	assert.Empty(t, port.Written())
}

func TestTransport_WriteError(t *testing.T) {
	port := newFakePort()
	port.writeErr = errors.New("device unplugged")
	tr, _ := newTestTransport(t, port)
	require.NoError(t, tr.Connect(context.Background(), 115200))

	err := tr.WriteLine("runin status")
	require.ErrorIs(t, err, port.writeErr)
	assert.Equal(t, uint64(1), tr.GetMetrics().WriteErrCount.Load())
	assert.True(t, tr.IsConnected())
}

func TestTransport_ConcurrentWritesAreSerialized(t *testing.T) {
	port := newFakePort()
	tr, _ := newTestTransport(t, port)
	require.NoError(t, tr.Connect(context.Background(), 115200))

	const writers = 16
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, tr.WriteLine(fmt.Sprintf("runin add -w now cmd-%02d", i)))
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(port.Written(), "\r\n"), "\r\n")
	require.Len(t, lines, writers)
	for _, line := range lines {
		assert.Regexp(t, `^runin add -w now cmd-\d\d$`, line)
	}
}

func TestTransport_ReadLoopDeliversInOrder(t *testing.T) {
	port := newFakePort()
	tr, rec := newTestTransport(t, port)
	require.NoError(t, tr.Connect(context.Background(), 115200))

	port.feed([]byte("runin> "))
	port.feed([]byte("state: idle\r\n"))
	port.feed([]byte("progress: 0/5\r\n"))

	rec.waitText(t, "runin> state: idle\r\nprogress: 0/5\r\n")
	for _, chunk := range rec.Data() {
		assert.NotEmpty(t, chunk)
	}
}

func TestTransport_ReadLoopSplitMultiByte(t *testing.T) {
	port := newFakePort()
	tr, rec := newTestTransport(t, port)
	require.NoError(t, tr.Connect(context.Background(), 115200))

	euro := []byte("€")
	port.feed(euro[:1])
	port.feed(euro[1:])
	port.feed([]byte(" ok"))

	rec.waitText(t, "€ ok")
}

func TestTransport_LegacyEncoding(t *testing.T) {
	port := newFakePort()
	tr, rec := newTestTransport(t, port, WithEncoding(charmap.ISO8859_1))
	require.NoError(t, tr.Connect(context.Background(), 115200))

	require.NoError(t, tr.WriteLine("café"))
	assert.Equal(t, "caf\xe9\r\n", port.Written())

	port.feed([]byte("na\xefve"))
	rec.waitText(t, "naïve")

	// Received bytes are counted on the wire side of the decoder.
	assert.Equal(t, uint64(5), tr.GetMetrics().BytesRecvCount.Load())
}

func TestTransport_EndOfStream(t *testing.T) {
	port := newFakePort()
	tr, rec := newTestTransport(t, port)
	require.NoError(t, tr.Connect(context.Background(), 115200))

	port.feed([]byte("bye"))
	rec.waitText(t, "bye")

	port.end(nil)

	cause := rec.waitDisconnect(t)
	require.ErrorIs(t, cause, io.EOF)

	assert.Equal(t, DisconnectedState, tr.State())
	assert.Equal(t, []string{"bye"}, rec.Data())
	assert.Len(t, rec.Disconnects(), 1)
	assert.Equal(t, uint64(1), tr.GetMetrics().ReadTermCount.Load())

	_, closes := port.Counts()
	assert.Equal(t, 1, closes)

	// No late notification from an explicit disconnect.
	tr.Disconnect()
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.Disconnects(), 1)
	assert.Len(t, rec.Data(), 1)
}

func TestTransport_ReadErrorDisconnects(t *testing.T) {
	readErr := errors.New("input/output error")

	port := newFakePort()
	tr, rec := newTestTransport(t, port)
	require.NoError(t, tr.Connect(context.Background(), 115200))

	port.end(readErr)

	cause := rec.waitDisconnect(t)
	require.ErrorIs(t, cause, readErr)
	require.Eventually(t, func() bool {
		return tr.State() == DisconnectedState
	}, time.Second, time.Millisecond)

	require.ErrorIs(t, tr.WriteLine("status"), ErrNotConnected)
	require.NoError(t, tr.Connect(context.Background(), 115200))
}

func TestTransport_ReaderReleased(t *testing.T) {
	port := newFakePort()
	tr, _ := newTestTransport(t, port)
	require.NoError(t, tr.Connect(context.Background(), 115200))

	l := tr.currentLink()
	require.NotNil(t, l)

	tr.Disconnect()

	assert.True(t, l.reader.Released())
	assert.Nil(t, tr.currentLink())

	_, err := l.writer.Write([]byte("x"))
	require.ErrorIs(t, err, ErrWriterClosed)
}

func TestTransport_DisconnectAsyncFromDataHandler(t *testing.T) {
	port := newFakePort()
	tr, rec := newTestTransport(t, port)

	var done <-chan struct{}
	var once sync.Once
	doneSet := make(chan struct{})
	tr.AddHandlers(Handlers{
		OnData: func(tr *Transport, text string) {
			if strings.Contains(text, "quit") {
				once.Do(func() {
					done = tr.DisconnectAsync()
					close(doneSet)
				})
			}
		},
	})

	require.NoError(t, tr.Connect(context.Background(), 115200))
	port.feed([]byte("quit"))

	<-doneSet
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async disconnect did not complete")
	}

	assert.Equal(t, DisconnectedState, tr.State())
	require.Len(t, rec.Disconnects(), 1)
	assert.NoError(t, rec.Disconnects()[0])
}

func TestTransport_ConnectHandlerRunsBeforeData(t *testing.T) {
	port := newFakePort()
	port.feed([]byte("early"))

	tr, err := New(context.Background(), OpenerFunc(func(context.Context, int) (Port, error) {
		return port, nil
	}), nil)
	require.NoError(t, err)
	defer tr.Disconnect()

	var mu sync.Mutex
	var order []string
	got := make(chan struct{})
	tr.AddHandlers(Handlers{
		OnConnect: func(*Transport) {
			mu.Lock()
			order = append(order, "connect")
			mu.Unlock()
		},
		OnData: func(_ *Transport, text string) {
			mu.Lock()
			order = append(order, text)
			mu.Unlock()
			close(got)
		},
	})

	require.NoError(t, tr.Connect(context.Background(), 115200))
	<-got

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"connect", "early"}, order)
}

func TestTransport_RemoveHandlers(t *testing.T) {
	port := newFakePort()
	tr, rec := newTestTransport(t, port)

	var calls atomic.Int32
	remove := tr.AddHandlers(Handlers{OnConnect: func(*Transport) { calls.Add(1) }})
	remove()

	require.NoError(t, tr.Connect(context.Background(), 115200))
	assert.Zero(t, calls.Load())
	assert.Equal(t, 1, rec.Connects())
}

func TestTransport_ParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	port := newFakePort()

	cfg, err := NewConnectionConfig(WithReadPollTimeout(5 * time.Millisecond))
	require.NoError(t, err)

	tr, err := New(ctx, OpenerFunc(func(context.Context, int) (Port, error) {
		return port, nil
	}), cfg)
	require.NoError(t, err)

	rec := newRecorder()
	tr.AddHandlers(rec.handlers())
	require.NoError(t, tr.Connect(context.Background(), 115200))

	cancel()

	cause := rec.waitDisconnect(t)
	require.ErrorIs(t, cause, context.Canceled)
	require.Eventually(t, func() bool {
		return tr.State() == DisconnectedState
	}, time.Second, time.Millisecond)
}

func TestMetrics_Collectors(t *testing.T) {
	port := newFakePort()
	tr, rec := newTestTransport(t, port)
	require.NoError(t, tr.Connect(context.Background(), 115200))

	require.NoError(t, tr.WriteLine("abc"))
	port.feed([]byte("xyz"))
	rec.waitText(t, "xyz")

	collectors := tr.GetMetrics().Collectors("runin")
	require.Len(t, collectors, 7)

	assert.InDelta(t, 1, testutil.ToFloat64(collectors[0]), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(collectors[4]), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(collectors[5]), 0)
}

func indexOf(events []string, ev string) int {
	for i, e := range events {
		if e == ev {
			return i
		}
	}

	return -1
}
