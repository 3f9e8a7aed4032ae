package voice

import (
	"time"

	"github.com/antoniostano/durmah/internal/observability"
	"github.com/antoniostano/durmah/internal/protocol"
)

// emitter writes frames to one connection. Once done is closed every send is
// a silent no-op.
type emitter struct {
	out      chan<- protocol.ServerMessage
	done     <-chan struct{}
	critical time.Duration
	metrics  *observability.Metrics
}

func (e *emitter) send(msg protocol.ServerMessage) {
	msgType := string(msg.ServerType())
	record := func(result string) {
		e.metrics.WSMessages.WithLabelValues("outbound", msgType, result).Inc()
	}

	select {
	case <-e.done:
		record("closed")
		return
	default:
	}

	if !isCritical(msg) {
		select {
		case e.out <- msg:
			record("delivered")
		case <-e.done:
			record("closed")
		default:
			record("dropped")
		}
		return
	}

	timeout := e.critical
	if timeout <= 0 {
		timeout = 600 * time.Millisecond
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case e.out <- msg:
		record("delivered")
	case <-e.done:
		record("closed")
	case <-timer.C:
		record("timeout")
	}
}

// Partial transcripts are superseded by the next one, so losing one under
// pressure is harmless.
func isCritical(msg protocol.ServerMessage) bool {
	_, partial := msg.(protocol.PartialTranscript)
	return !partial
}
