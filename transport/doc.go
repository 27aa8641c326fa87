// Package transport owns the point-to-point serial link to a device running the
// runin command-scheduling agent.
//
// A Transport opens one physical port at a time, encodes outbound text into
// bytes, and pushes decoded inbound text to registered handlers from a single
// background read loop. It never interprets device output: the wire carries
// raw line-terminated text with no framing or acknowledgment.
//
// # Lifecycle
//
// The link moves through four states:
//
//	Disconnected -> Connecting -> Connected -> Disconnecting -> Disconnected
//
// Connecting and Disconnecting are transient. A connect request made while the
// Transport is not Disconnected is rejected with ErrBusy, so two physical
// handles are never open at the same time.
//
// Disconnect tears the link down in a fixed order: it stops the read loop and
// waits for it to exit, closes the writer after draining pending output, then
// closes the port. Each step is skipped if its handle was never created.
// Calling Disconnect on a disconnected Transport is a no-op.
//
// If the read loop ends on its own (end of stream or read error), the
// Transport performs the same teardown and notifies disconnect handlers with
// the cause, so a dead link is never reported as connected.
//
// # Handlers
//
// Handlers are invoked synchronously from the goroutine that caused the
// event: connect handlers from Connect, data handlers from the read loop and
// disconnect handlers from the goroutine performing the teardown. A handler
// must not call Disconnect directly from a data handler, since Disconnect
// waits for the read loop; use DisconnectAsync instead.
package transport
