// internal/session/bridge.go
package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"wagate/internal/engine"
)

// StatusEvent is one session lifecycle transition observed from the engine.
type StatusEvent struct {
	Session string `json:"session"`
	Status  string `json:"status"` // connecting | connected | disconnected
}

// Sink consumes forwarded engine events (the webhook dispatcher).
type Sink interface {
	DeliverStatus(ev StatusEvent)
	DeliverMessage(session string, payload map[string]any)
}

var statusEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wagate_session_status_events_total",
	Help: "Session lifecycle events observed from the engine.",
}, []string{"status"})

var messageEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "wagate_session_messages_total",
	Help: "Inbound messages observed from the engine.",
})

// Bridge subscribes once, for the process lifetime, to the engine's three
// lifecycle streams plus the inbound message stream and fans each event out
// to the sink in receipt order. Pure fan-out: no state, no suppression, no
// coalescing.
type Bridge struct {
	log  *zap.SugaredLogger
	sink Sink
}

// NewBridge registers the subscriptions. Construct exactly once at startup;
// sink may be nil when no webhook dispatch is configured.
func NewBridge(eng engine.Engine, sink Sink, log *zap.SugaredLogger) *Bridge {
	b := &Bridge{log: log, sink: sink}
	eng.OnConnecting(func(session string) { b.forward(session, "connecting") })
	eng.OnConnected(func(session string) { b.forward(session, "connected") })
	eng.OnDisconnected(func(session string) { b.forward(session, "disconnected") })
	eng.OnMessageReceived(b.forwardMessage)
	return b
}

func (b *Bridge) forwardMessage(session string, payload map[string]any) {
	b.log.Debugw("session message", "session", session)
	messageEvents.Inc()
	if b.sink == nil {
		return
	}
	b.sink.DeliverMessage(session, payload)
}

func (b *Bridge) forward(session, status string) {
	b.log.Infow("session status", "session", session, "status", status)
	statusEvents.WithLabelValues(status).Inc()
	if b.sink == nil {
		return
	}
	b.sink.DeliverStatus(StatusEvent{Session: session, Status: status})
}
