package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/logger"
)

// NATSRelay mirrors status-change events onto a NATS subject. It is an
// optional, best-effort side channel (SPEC_FULL §6.2) used only by the
// State Exporter — the state file on disk remains the source of truth
// for external readers, so a relay publish failure is logged and
// swallowed, never surfaced as a Core error.
//
// Grounded on the teacher's internal/events/bus.NATSEventBus: same
// connection-option shape (reconnect, error handlers), same
// marshal-then-publish Publish path.
type NATSRelay struct {
	conn      *nats.Conn
	subject   string
	log       *logger.Logger
}

// NewNATSRelay connects to url and prepares to publish onto
// "corral.<namespace>.status", or "corral.status" when namespace is empty.
func NewNATSRelay(url, namespace string, log *logger.Logger) (*NATSRelay, error) {
	opts := []nats.Option{
		nats.Name("corral"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	subject := "corral.status"
	if namespace != "" {
		subject = fmt.Sprintf("corral.%s.status", namespace)
	}

	return &NATSRelay{conn: conn, subject: subject, log: log}, nil
}

// Publish mirrors a status-change event. Errors are logged, not returned,
// per the "state-file write error: logged, ignored" policy in spec.md §7
// (the relay shares that policy — it's strictly best-effort).
func (r *NATSRelay) Publish(e StatusChange) {
	data, err := json.Marshal(e)
	if err != nil {
		r.log.Warn("failed to marshal status-change for nats relay")
		return
	}
	if err := r.conn.Publish(r.subject, data); err != nil {
		r.log.Warn("failed to publish status-change to nats")
	}
}

// Close closes the NATS connection without draining it first.
func (r *NATSRelay) Close() {
	r.conn.Close()
}
