package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/coreledger/txcore/internal/domain/audit"
)

// AuditPublisher adapts the async Kafka producer to the audit.Publisher
// contract so the Audit Sink can drain into the audit.transactions.events
// topic without depending on Sarama directly.
type AuditPublisher struct {
	producer *AsyncProducer
}

func NewAuditPublisher(producer *AsyncProducer) *AuditPublisher {
	return &AuditPublisher{producer: producer}
}

type auditEventEnvelope struct {
	Timestamp     string `json:"timestamp"`
	CorrelationID string `json:"correlationId"`
	Caller        string `json:"caller"`
	Kind          string `json:"kind"`
	FromAccountID string `json:"fromAccountId"`
	ToAccountID   string `json:"toAccountId"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	Outcome       string `json:"outcome"`
	ReasonCode    string `json:"reasonCode,omitempty"`
}

func (p *AuditPublisher) Publish(event audit.Event) error {
	envelope := auditEventEnvelope{
		Timestamp:     event.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		CorrelationID: event.CorrelationID,
		Caller:        event.Caller,
		Kind:          string(event.Kind),
		FromAccountID: event.FromAccountID,
		ToAccountID:   event.ToAccountID,
		Amount:        event.Amount.StringFixed(2),
		Status:        string(event.Status),
		Outcome:       string(event.Outcome),
		ReasonCode:    event.ReasonCode,
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	return p.producer.PublishAsync(TopicAuditEvents, event.CorrelationID, payload)
}
