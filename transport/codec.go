package transport

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// textWriter is the outbound pipeline: it encodes text into wire bytes and
// serializes writers on the single port handle.
type textWriter struct {
	mu      sync.Mutex
	port    Port
	encoder *encoding.Encoder
	closed  bool
}

func newTextWriter(port Port, enc encoding.Encoding) *textWriter {
	return &textWriter{port: port, encoder: encoding.ReplaceUnsupported(enc.NewEncoder())}
}

// Write writes p verbatim, retrying short writes until all of p is written.
func (w *textWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWriterClosed
	}

	return w.writeAll(p)
}

// WriteString encodes s and writes the resulting bytes.
func (w *textWriter) WriteString(s string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWriterClosed
	}

	b, err := w.encoder.Bytes([]byte(s))
	if err != nil {
		return 0, err
	}

	return w.writeAll(b)
}

func (w *textWriter) writeAll(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n, err := w.port.Write(p)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
		p = p[n:]
	}

	return total, nil
}

// Close rejects further writes and waits until pending output is flushed.
// Closing twice is a no-op.
func (w *textWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	return w.port.Drain()
}

// textReader is the inbound pipeline: it reads raw chunks and decodes them to
// text, holding back an incomplete trailing sequence until its remaining
// bytes arrive.
type textReader struct {
	port     io.Reader
	decoder  *encoding.Decoder
	buf      []byte
	pending  []byte
	out      []byte
	released atomic.Bool
}

func newTextReader(port io.Reader, enc encoding.Encoding, bufSize int) *textReader {
	return &textReader{
		port:    port,
		decoder: enc.NewDecoder(),
		buf:     make([]byte, bufSize),
	}
}

// Read performs one bounded read and returns the text decoded from it, which
// may be empty, and the number of raw bytes read. On io.EOF the held-back
// bytes are flushed with the returned text.
func (r *textReader) Read() (string, int, error) {
	if r.released.Load() {
		return "", 0, io.EOF
	}

	n, err := r.port.Read(r.buf)
	atEOF := errors.Is(err, io.EOF)

	var text string
	if n > 0 || (atEOF && len(r.pending) > 0) {
		var decErr error
		text, decErr = r.decode(r.buf[:n], atEOF)
		if decErr != nil && err == nil {
			err = decErr
		}
	}

	return text, n, err
}

func (r *textReader) decode(chunk []byte, atEOF bool) (string, error) {
	src := append(r.pending, chunk...)

	// A replacement rune may be longer than the byte it replaces.
	need := len(src)*utf8.UTFMax + utf8.UTFMax
	if cap(r.out) < need {
		r.out = make([]byte, need)
	}
	dst := r.out[:need]

	nDst, nSrc, err := r.decoder.Transform(dst, src, atEOF)
	if err != nil && !errors.Is(err, transform.ErrShortSrc) {
		r.pending = r.pending[:0]
		r.decoder.Reset()

		return string(dst[:nDst]), err
	}

	r.pending = append(r.pending[:0], src[nSrc:]...)

	return string(dst[:nDst]), nil
}

// Release drops the reader's hold on the port. Later reads report io.EOF.
func (r *textReader) Release() {
	r.released.Store(true)
}

// Released reports whether Release has been called.
func (r *textReader) Released() bool {
	return r.released.Load()
}
