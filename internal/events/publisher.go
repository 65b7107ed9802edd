package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/hainguyen99-cdm/xscan-sub002/internal/models"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/logging"
)

// Topic for downstream analytics consumers
const donationEventsTopic = "donation_events"

// Event types emitted on the firehose
const (
	TypeDonationObserved = "donation_observed"
	TypeAlertDelivered   = "alert_delivered"
)

// DonationEvent is the analytics envelope for observed donations and
// delivered alerts.
type DonationEvent struct {
	EventType string    `json:"event_type"`
	TenantID  string    `json:"tenant_id"`
	Reference string    `json:"reference,omitempty"`
	AlertID   string    `json:"alert_id,omitempty"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher pushes donation events to Kafka for analytics. Publishing is
// fire-and-forget: a broker outage degrades analytics, never alert delivery.
type Publisher struct {
	client *kgo.Client
	logger logging.Logger
}

// NewPublisher creates a Kafka-backed event publisher
func NewPublisher(brokers []string, clientID string, logger logging.Logger) (*Publisher, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Publisher{client: client, logger: logger}, nil
}

// Close flushes and closes the underlying client
func (p *Publisher) Close() {
	p.client.Close()
}

// GetClient returns the underlying kgo.Client for health checks
func (p *Publisher) GetClient() *kgo.Client {
	return p.client
}

// PublishDonationObserved emits an event for a newly persisted transaction
func (p *Publisher) PublishDonationObserved(tx *models.BankTransaction) {
	p.publish(DonationEvent{
		EventType: TypeDonationObserved,
		TenantID:  tx.TenantID,
		Reference: tx.Reference,
		Amount:    tx.Amount,
		Currency:  tx.Currency,
		Timestamp: time.Now().UTC(),
	})
}

// PublishAlertDelivered emits an event when the overlay finished showing an
// alert.
func (p *Publisher) PublishAlertDelivered(alert models.DonationAlert) {
	p.publish(DonationEvent{
		EventType: TypeAlertDelivered,
		TenantID:  alert.TenantID,
		Reference: alert.Reference,
		AlertID:   alert.AlertID,
		Amount:    alert.Amount,
		Currency:  alert.Currency,
		Timestamp: time.Now().UTC(),
	})
}

func (p *Publisher) publish(event DonationEvent) {
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).Error("Failed to marshal donation event")
		return
	}

	record := &kgo.Record{
		Topic: donationEventsTopic,
		Key:   []byte(event.TenantID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	p.client.Produce(context.Background(), record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.WithFields(logging.Fields{
				"event_type": event.EventType,
				"tenant_id":  event.TenantID,
				"error":      err,
			}).Warn("Failed to publish donation event")
		}
	})
}
