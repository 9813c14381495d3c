package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/nats-io/nats.go"

	monitoringapp "solar-fleet/internal/monitoring/application"
	"solar-fleet/internal/observability/metrics"
)

// DefaultSubject is the NATS subject alert events are published on.
const DefaultSubject = "fleet.alerts"

// MsgPublisher is the subset of *nats.Conn used to publish.
type MsgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSNotifier publishes alert events as JSON on a NATS subject.
// Subscribers can filter by appending the event type: fleet.alerts.raised.
type NATSNotifier struct {
	publisher MsgPublisher
	conn      *nats.Conn
	subject   string
	logger    *log.Logger
}

// ConnectNATS dials the server and returns a notifier owning the connection.
func ConnectNATS(url, subject string, logger *log.Logger) (*NATSNotifier, error) {
	if url == "" {
		return nil, errors.New("nats notifier: empty url")
	}
	conn, err := nats.Connect(url, nats.Name("solar-fleet"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	notifier, err := NewNATSNotifier(conn, subject, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	notifier.conn = conn
	return notifier, nil
}

// NewNATSNotifier constructs a notifier over an existing publisher.
func NewNATSNotifier(publisher MsgPublisher, subject string, logger *log.Logger) (*NATSNotifier, error) {
	if publisher == nil {
		return nil, errors.New("nats notifier: nil publisher")
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSNotifier{publisher: publisher, subject: subject, logger: logger}, nil
}

// Notify implements AlertNotifier.
func (n *NATSNotifier) Notify(_ context.Context, event monitoringapp.AlertEvent) {
	if n == nil || n.publisher == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	msg := nats.NewMsg(n.subject + "." + event.Type)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.PassID+"|"+event.Alert.Key()+"|"+event.Type)
	msg.Header.Set("Fleet-Severity", string(event.Alert.Severity))
	if err := n.publisher.PublishMsg(msg); err != nil {
		metrics.IncNotification("nats", metrics.ResultError)
		if n.logger != nil {
			n.logger.Printf("notify nats publish failed: subject=%s err=%v", msg.Subject, err)
		}
		return
	}
	metrics.IncNotification("nats", metrics.ResultSuccess)
}

// Close drains and closes an owned connection.
func (n *NATSNotifier) Close() {
	if n == nil || n.conn == nil {
		return
	}
	_ = n.conn.Drain()
	n.conn.Close()
}
