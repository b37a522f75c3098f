package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"paycore/internal/domain"
)

const (
	subjectNotifications = "payments.notifications"
	subjectAlerts        = "payments.alerts"
)

// NATSNotifier publishes notifications and alerts to NATS subjects
// (`payments.notifications.<type>`, `payments.alerts.<kind>`).
type NATSNotifier struct {
	conn *nats.Conn
}

// ConnectNATS dials the broker and returns a notifier bound to it.
func ConnectNATS(url, clientName string) (*NATSNotifier, error) {
	conn, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			zap.L().Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			zap.L().Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSNotifier{conn: conn}, nil
}

// Close drains the connection.
func (n *NATSNotifier) Close() {
	n.conn.Close()
}

type paymentNotification struct {
	Reference   string `json:"reference"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Recipient   string `json:"recipient"`
	ExternalRef string `json:"external_ref,omitempty"`
	At          string `json:"at"`
}

func (n *NATSNotifier) SendPaymentNotification(ctx context.Context, p *domain.Payment, recipient string) error {
	msg := paymentNotification{
		Reference:   p.ReferenceNumber,
		Type:        string(p.Type),
		Status:      string(p.Status),
		Amount:      p.Amount.Value().StringFixed(2),
		Currency:    p.Amount.Currency(),
		Recipient:   recipient,
		ExternalRef: p.Metadata[domain.MetaExternalRef],
		At:          time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", subjectNotifications, p.Type)
	if err := n.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (n *NATSNotifier) SendAlert(ctx context.Context, alert Alert) error {
	if alert.At.IsZero() {
		alert.At = time.Now().UTC()
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", subjectAlerts, alert.Kind)
	if err := n.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}
