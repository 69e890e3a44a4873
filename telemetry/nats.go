package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Connect opens a NATS connection that keeps reconnecting forever.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name("pulsesensor"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
}

// NATSSink publishes events as JSON on "<subject>.<channel>".
type NATSSink struct {
	nc      *nats.Conn
	subject string
}

// NewNATSSink wraps an open connection.
func NewNATSSink(nc *nats.Conn, subject string) *NATSSink {
	return &NATSSink{nc: nc, subject: subject}
}

// Subject returns the subject an event is published on.
func (s *NATSSink) Subject(e Event) string {
	if e.Kind == KindSample {
		return fmt.Sprintf("%s.%d.sample", s.subject, e.Channel)
	}
	return fmt.Sprintf("%s.%d", s.subject, e.Channel)
}

// Publish implements Sink.
func (s *NATSSink) Publish(e Event) error {
	b, err := e.Marshal()
	if err != nil {
		return err
	}
	if err := s.nc.Publish(s.Subject(e), b); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close implements Sink. The connection is drained, not dropped.
func (s *NATSSink) Close() error {
	return s.nc.Drain()
}

// Control is a remote configuration request.
type Control struct {
	Channel   int `json:"channel"`
	Threshold int `json:"threshold"`
}

// SubscribeControl delivers control messages published on subject to apply.
// Malformed messages are logged and dropped.
func SubscribeControl(nc *nats.Conn, subject string, apply func(Control)) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var c Control
		if err := json.Unmarshal(msg.Data, &c); err != nil {
			slog.Warn("bad control message", "component", "telemetry", "subject", subject, "err", err)
			return
		}
		apply(c)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}
