package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Port is the duplex byte stream of an opened physical link.
//
// A go.bug.st/serial Port satisfies this interface. Read must return within
// the duration set by SetReadTimeout, returning (0, nil) when no byte arrived.
type Port interface {
	io.ReadWriteCloser
	// SetReadTimeout bounds how long Read blocks waiting for the first byte.
	SetReadTimeout(t time.Duration) error
	// Drain waits until all written bytes have been transmitted.
	Drain() error
}

// Opener requests a physical port from the host and opens it at the given baud rate.
type Opener interface {
	Open(ctx context.Context, baudRate int) (Port, error)
}

// OpenerFunc adapts an ordinary function to the Opener interface.
type OpenerFunc func(ctx context.Context, baudRate int) (Port, error)

// Open calls f(ctx, baudRate).
func (f OpenerFunc) Open(ctx context.Context, baudRate int) (Port, error) {
	return f(ctx, baudRate)
}

// PortSelector picks the port to open among the ports present on the host.
// It returns ErrNoPortSelected when none is acceptable.
type PortSelector func(ports []*enumerator.PortDetails) (string, error)

// SerialOpener opens a serial port through go.bug.st/serial.
//
// When PortName is empty the host ports are enumerated and Selector picks
// one; a nil Selector means FirstUSBPort.
type SerialOpener struct {
	PortName string
	Selector PortSelector

	// Line settings; zero values mean 8 data bits, no parity, one stop bit.
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
}

var _ Opener = (*SerialOpener)(nil)

// Open requests the port and opens it at baudRate.
func (o *SerialOpener) Open(ctx context.Context, baudRate int) (Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := o.PortName
	if name == "" {
		ports, err := ListPorts()
		if err != nil {
			return nil, err
		}

		selector := o.Selector
		if selector == nil {
			selector = FirstUSBPort
		}

		name, err = selector(ports)
		if err != nil {
			return nil, err
		}
		if name == "" {
			return nil, ErrNoPortSelected
		}
	}

	dataBits := o.DataBits
	if dataBits == 0 {
		dataBits = 8
	}

	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baudRate,
		DataBits: dataBits,
		Parity:   o.Parity,
		StopBits: o.StopBits,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", name, err)
	}

	return port, nil
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("transport: enumerate ports: %w", err)
	}

	return ports, nil
}

// FirstUSBPort selects the first USB serial adapter, or the only port when
// exactly one non-USB port exists.
func FirstUSBPort(ports []*enumerator.PortDetails) (string, error) {
	for _, p := range ports {
		if p != nil && p.IsUSB {
			return p.Name, nil
		}
	}

	if len(ports) == 1 && ports[0] != nil {
		return ports[0].Name, nil
	}

	return "", ErrNoPortSelected
}

// PortByName returns a selector accepting only the port with the given name.
func PortByName(name string) PortSelector {
	return func(ports []*enumerator.PortDetails) (string, error) {
		for _, p := range ports {
			if p != nil && p.Name == name {
				return p.Name, nil
			}
		}

		return "", fmt.Errorf("%w: %s not present", ErrNoPortSelected, name)
	}
}

// PortByUSBID returns a selector accepting the first USB port with the given
// vendor and product id (hex strings as reported by the enumerator, e.g. "0403").
func PortByUSBID(vid, pid string) PortSelector {
	return func(ports []*enumerator.PortDetails) (string, error) {
		for _, p := range ports {
			if p != nil && p.IsUSB && strings.EqualFold(p.VID, vid) && strings.EqualFold(p.PID, pid) {
				return p.Name, nil
			}
		}

		return "", fmt.Errorf("%w: no USB port %s:%s", ErrNoPortSelected, vid, pid)
	}
}

// isPortClosedError reports whether err only says that the port is already closed.
func isPortClosedError(err error) bool {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return portErr.Code() == serial.PortClosed
	}

	var portErrVal serial.PortError
	if errors.As(err, &portErrVal) {
		return portErrVal.Code() == serial.PortClosed
	}

	return errors.Is(err, io.ErrClosedPipe) || errors.Is(err, ErrWriterClosed)
}
