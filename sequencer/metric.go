package sequencer

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains atomic counters of a Sequencer.
type Metrics struct {
	// CommandCount indicates the number of commands written.
	CommandCount atomic.Uint64
	// CommandErrCount indicates the number of commands whose write failed.
	CommandErrCount atomic.Uint64
	// RunCount indicates the number of runs started.
	RunCount atomic.Uint64
	// RunAbortCount indicates the number of runs ended early by cancellation.
	RunAbortCount atomic.Uint64
}

func (m *Metrics) incCommandCount()    { m.CommandCount.Add(1) }
func (m *Metrics) incCommandErrCount() { m.CommandErrCount.Add(1) }
func (m *Metrics) incRunCount()        { m.RunCount.Add(1) }
func (m *Metrics) incRunAbortCount()   { m.RunAbortCount.Add(1) }

// Collectors returns prometheus counters reading the metrics, named
// <namespace>_sequencer_<metric>_total.
func (m *Metrics) Collectors(namespace string) []prometheus.Collector {
	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}

	return []prometheus.Collector{
		counter("commands_total", "Number of commands written.", &m.CommandCount),
		counter("command_errors_total", "Number of commands whose write failed.", &m.CommandErrCount),
		counter("runs_total", "Number of script runs started.", &m.RunCount),
		counter("run_aborts_total", "Number of script runs cancelled before completion.", &m.RunAbortCount),
	}
}
