// Package sequencer turns an operator's script of runin commands into a
// throttled stream of line writes.
//
// A Script is the ordered list of command strings awaiting execution. The
// Builder renders structured parameters into canonical command strings:
//
//	b := sequencer.NewBuilder(cat)
//	script.Append(b.Add(sequencer.ScheduleNow, "memtester 64M 1"))
//	start, _ := b.Start(sequencer.ScheduleNow, sequencer.StartOptions{Iterations: 5})
//	script.Append(start) // "runin start -w now -n 5"
//
// A Sequencer dispatches commands one at a time through a LineWriter, usually
// a *transport.Transport, waiting a fixed delay after each command so the
// agent's input buffer does not overflow. Delivery is best effort: a failed
// write is logged and the run continues with the next command.
package sequencer
