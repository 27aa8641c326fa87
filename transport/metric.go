package transport

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains atomic counters of a Transport.
// Metrics can be used as the value of a prometheus CounterFunc, see Collectors.
type Metrics struct {
	// ConnectCount indicates the number of successful connects.
	ConnectCount atomic.Uint64
	// ConnectErrCount indicates the number of failed connects.
	ConnectErrCount atomic.Uint64
	// DisconnectCount indicates the number of completed teardowns of connected links.
	DisconnectCount atomic.Uint64
	// ReadTermCount indicates the number of read loops that ended by themselves
	// (end of stream or read error).
	ReadTermCount atomic.Uint64

	// BytesSentCount indicates the number of bytes written to the port.
	BytesSentCount atomic.Uint64
	// BytesRecvCount indicates the number of bytes read from the port.
	BytesRecvCount atomic.Uint64
	// WriteErrCount indicates the number of failed or rejected writes.
	WriteErrCount atomic.Uint64
}

func (m *Metrics) incConnectCount() {
	m.ConnectCount.Add(1)
}

func (m *Metrics) incConnectErrCount() {
	m.ConnectErrCount.Add(1)
}

func (m *Metrics) incDisconnectCount() {
	m.DisconnectCount.Add(1)
}

func (m *Metrics) incReadTermCount() {
	m.ReadTermCount.Add(1)
}

func (m *Metrics) addBytesSent(n int) {
	if n > 0 {
		m.BytesSentCount.Add(uint64(n))
	}
}

func (m *Metrics) addBytesRecv(n int) {
	if n > 0 {
		m.BytesRecvCount.Add(uint64(n))
	}
}

func (m *Metrics) incWriteErrCount() {
	m.WriteErrCount.Add(1)
}

// Collectors returns prometheus counters reading the metrics, named
// <namespace>_transport_<metric>_total.
func (m *Metrics) Collectors(namespace string) []prometheus.Collector {
	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}

	return []prometheus.Collector{
		counter("connects_total", "Number of successful connects.", &m.ConnectCount),
		counter("connect_errors_total", "Number of failed connects.", &m.ConnectErrCount),
		counter("disconnects_total", "Number of completed teardowns of connected links.", &m.DisconnectCount),
		counter("read_terminations_total", "Number of read loops that ended without a disconnect request.", &m.ReadTermCount),
		counter("sent_bytes_total", "Number of bytes written to the port.", &m.BytesSentCount),
		counter("received_bytes_total", "Number of bytes read from the port.", &m.BytesRecvCount),
		counter("write_errors_total", "Number of failed or rejected writes.", &m.WriteErrCount),
	}
}
