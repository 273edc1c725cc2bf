package hub

import (
	"sync/atomic"

	"github.com/controledu/classroom/internal/wire"
)

// Conn is the minimal interface a transport (WebSocket upgrade or long-poll
// queue) must satisfy to be driven by the Hub. Using an interface here lets
// tests inject an in-memory fake instead of a real socket, the same way
// room.go's DatagramSender lets voice fan-out be tested without a live
// WebTransport session.
type Conn interface {
	// Send delivers one envelope (a response or a server-initiated push) to
	// this connection. Implementations must be safe for concurrent use.
	Send(env wire.Envelope) error
}

// circuitBreakerThreshold/ProbeInterval generalize client.go's datagram
// circuit breaker to hub push fan-out: a console that stops acking/erroring
// stops being pushed to until a periodic probe send succeeds again.
const (
	circuitBreakerThreshold     uint32 = 20
	circuitBreakerProbeInterval uint32 = 10
)

// sendHealth tracks consecutive Send failures for one connection and decides
// when fan-out should skip it. Snapshotted alongside its Conn under the hub's
// read lock, then read/written lock-free after release — atomic, like
// client.go's health field.
type sendHealth struct {
	failures atomic.Uint32
	skips    atomic.Uint32
}

func (h *sendHealth) shouldSkip() bool {
	if h.failures.Load() < circuitBreakerThreshold {
		return false
	}
	s := h.skips.Add(1)
	return s%circuitBreakerProbeInterval != 0
}

func (h *sendHealth) recordFailure() uint32 {
	return h.failures.Add(1)
}

func (h *sendHealth) recordSuccess() bool {
	wasTripped := h.failures.Swap(0) >= circuitBreakerThreshold
	if wasTripped {
		h.skips.Store(0)
	}
	return wasTripped
}
