package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-runin/logger"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// Default values used by NewConnectionConfig.
const (
	DefaultBaudRate        = 115200
	DefaultReadPollTimeout = 50 * time.Millisecond // bound of one blocking read
	DefaultCloseTimeout    = 3 * time.Second       // wait for the read loop during teardown
	DefaultReadBufferSize  = 4096
	DefaultLineTerminator  = "\r\n"
)

// Range limits for the configurable values.
const (
	MinReadPollTimeout = time.Millisecond
	MaxReadPollTimeout = 5 * time.Second

	MinReadBufferSize = 16
	MaxReadBufferSize = 1 << 20
)

// ConnectionConfig holds the configuration of a Transport.
type ConnectionConfig struct {
	readPollTimeout time.Duration
	closeTimeout    time.Duration
	readBufferSize  int
	lineTerminator  string
	encoding        encoding.Encoding

	logger logger.Logger
}

// NewConnectionConfig creates a new Transport configuration.
//
// opts are functional options applied in order; see With* functions.
func NewConnectionConfig(opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		readPollTimeout: DefaultReadPollTimeout,
		closeTimeout:    DefaultCloseTimeout,
		readBufferSize:  DefaultReadBufferSize,
		lineTerminator:  DefaultLineTerminator,
		encoding:        unicode.UTF8,
		logger:          logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// ReadPollTimeout returns the upper bound of a single blocking read.
// It is also the upper bound of the delay between a disconnect request and
// the read loop noticing it.
func (cfg *ConnectionConfig) ReadPollTimeout() time.Duration { return cfg.readPollTimeout }

// CloseTimeout returns how long teardown waits for the read loop to exit.
func (cfg *ConnectionConfig) CloseTimeout() time.Duration { return cfg.closeTimeout }

// ReadBufferSize returns the size of the raw read buffer.
func (cfg *ConnectionConfig) ReadBufferSize() int { return cfg.readBufferSize }

// LineTerminator returns the terminator appended by WriteLine.
func (cfg *ConnectionConfig) LineTerminator() string { return cfg.lineTerminator }

// Encoding returns the text encoding used on the wire.
func (cfg *ConnectionConfig) Encoding() encoding.Encoding { return cfg.encoding }

// GetLogger returns the configured logger.
func (cfg *ConnectionConfig) GetLogger() logger.Logger { return cfg.logger }

// --- ConnOption ---

// ConnOption is a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc func(*ConnectionConfig) error

func (f connOptFunc) apply(cfg *ConnectionConfig) error { return f(cfg) }

// WithReadPollTimeout sets the upper bound of one blocking read.
func WithReadPollTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < MinReadPollTimeout || d > MaxReadPollTimeout {
			return fmt.Errorf("transport: read poll timeout %v out of range [%v, %v]", d, MinReadPollTimeout, MaxReadPollTimeout)
		}
		cfg.readPollTimeout = d

		return nil
	})
}

// WithCloseTimeout sets how long teardown waits for the read loop to exit
// before closing the port underneath it.
func WithCloseTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 {
			return errors.New("transport: close timeout must be positive")
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithReadBufferSize sets the size of the raw read buffer.
func WithReadBufferSize(size int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if size < MinReadBufferSize || size > MaxReadBufferSize {
			return fmt.Errorf("transport: read buffer size %d out of range [%d, %d]", size, MinReadBufferSize, MaxReadBufferSize)
		}
		cfg.readBufferSize = size

		return nil
	})
}

// WithLineTerminator sets the terminator appended by WriteLine. The default is CR+LF.
func WithLineTerminator(term string) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if term == "" {
			return errors.New("transport: line terminator must not be empty")
		}
		cfg.lineTerminator = term

		return nil
	})
}

// WithEncoding sets the text encoding of the wire. The default is UTF-8;
// devices with a legacy console can use a charmap encoding such as
// charmap.ISO8859_1.
func WithEncoding(enc encoding.Encoding) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if enc == nil {
			return errors.New("transport: encoding must not be nil")
		}
		cfg.encoding = enc

		return nil
	})
}

// WithLogger sets the logger for the transport.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("transport: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
