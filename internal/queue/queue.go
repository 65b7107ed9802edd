package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hainguyen99-cdm/xscan-sub002/internal/metrics"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/models"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/tiers"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/logging"
)

const (
	// DefaultDisplayDuration is used when a tenant's configuration cannot be
	// resolved.
	DefaultDisplayDuration = 5000 * time.Millisecond

	// AckBuffer is added on top of the effective display duration before the
	// timeout fallback fires.
	AckBuffer = 2000 * time.Millisecond
)

// OutboundAlert is what the queue hands to the realtime gateway: the alert
// plus the presentation configuration resolved for its amount.
type OutboundAlert struct {
	Alert    models.DonationAlert
	Settings models.AlertDisplaySettings
	Level    *models.DonationLevel
}

// Gateway is the transport the queue pushes displayed alerts through.
// Implemented by the websocket hub.
type Gateway interface {
	SendAlert(tenantID string, alert OutboundAlert)
}

// ConfigSource resolves per-tenant alert configuration. Implemented by
// store.SettingsStore.
type ConfigSource interface {
	GetAlertConfig(ctx context.Context, tenantID string) (*models.TenantAlertConfig, error)
}

// EventPublisher receives delivered-alert events for downstream analytics.
// Optional; nil disables publishing.
type EventPublisher interface {
	PublishAlertDelivered(alert models.DonationAlert)
}

// tenantQueue is the in-memory queue state for one tenant. All fields are
// guarded by the owning Manager's mutex.
type tenantQueue struct {
	pending     []models.DonationAlert
	inQueueRefs map[string]bool
	current     string // alert id currently displayed, "" when none
	processing  bool
	awaitingAck bool
	ackCh       chan struct{}
	enqueuedAt  map[string]time.Time
}

// Manager owns every tenant's alert queue. Per tenant the processing loop is
// strictly sequential: at most one alert is in flight at any time, and alerts
// go out in submission order. Different tenants run fully independently.
type Manager struct {
	mu      sync.Mutex
	tenants map[string]*tenantQueue

	gateway   Gateway
	config    ConfigSource
	publisher EventPublisher
	logger    logging.Logger
	metrics   *metrics.Metrics

	defaultDuration time.Duration
	ackBuffer       time.Duration
}

// NewManager creates an alert queue manager
func NewManager(gateway Gateway, config ConfigSource, logger logging.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		tenants:         make(map[string]*tenantQueue),
		gateway:         gateway,
		config:          config,
		logger:          logger,
		metrics:         m,
		defaultDuration: DefaultDisplayDuration,
		ackBuffer:       AckBuffer,
	}
}

// SetGateway installs the delivery transport. The hub and the manager
// reference each other, so the gateway is attached after both exist and
// before any alert is submitted.
func (q *Manager) SetGateway(gateway Gateway) {
	q.mu.Lock()
	q.gateway = gateway
	q.mu.Unlock()
}

// SetEventPublisher installs the optional analytics publisher.
func (q *Manager) SetEventPublisher(publisher EventPublisher) {
	q.mu.Lock()
	q.publisher = publisher
	q.mu.Unlock()
}

// Submit adds an alert to the tail of the tenant's queue. Duplicate
// references already in queue or in flight are silently dropped. If the
// queue was idle, processing starts.
func (q *Manager) Submit(alert models.DonationAlert) bool {
	q.mu.Lock()

	tq, ok := q.tenants[alert.TenantID]
	if !ok {
		tq = &tenantQueue{
			inQueueRefs: make(map[string]bool),
			enqueuedAt:  make(map[string]time.Time),
		}
		q.tenants[alert.TenantID] = tq
	}

	if alert.Reference != "" && tq.inQueueRefs[alert.Reference] {
		q.mu.Unlock()
		q.logger.WithFields(logging.Fields{
			"tenant_id": alert.TenantID,
			"reference": alert.Reference,
		}).Debug("Dropping duplicate alert submission")
		return false
	}

	if alert.AlertID == "" {
		alert.AlertID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	tq.pending = append(tq.pending, alert)
	if alert.Reference != "" {
		tq.inQueueRefs[alert.Reference] = true
	}
	tq.enqueuedAt[alert.AlertID] = time.Now()
	q.setQueueDepth(alert.TenantID, len(tq.pending))

	start := !tq.processing
	if start {
		tq.processing = true
	}
	q.mu.Unlock()

	if start {
		go q.run(alert.TenantID, tq)
	}
	return true
}

// Ack handles a client-side "alert completed" event. Acks for an alert id
// that is not currently displayed are ignored.
func (q *Manager) Ack(tenantID, alertID string) {
	q.mu.Lock()
	tq, ok := q.tenants[tenantID]
	if !ok || !tq.awaitingAck || tq.current != alertID {
		q.mu.Unlock()
		q.logger.WithFields(logging.Fields{
			"tenant_id": tenantID,
			"alert_id":  alertID,
		}).Debug("Ignoring stale alert acknowledgment")
		return
	}
	tq.awaitingAck = false
	ackCh := tq.ackCh
	q.mu.Unlock()

	// Buffered channel; awaitingAck guards against a second send.
	ackCh <- struct{}{}
}

// run is the per-tenant processing loop. Exactly one instance runs per tenant
// while its queue is non-empty.
func (q *Manager) run(tenantID string, tq *tenantQueue) {
	for {
		q.mu.Lock()
		if len(tq.pending) == 0 {
			tq.processing = false
			tq.current = ""
			q.setQueueDepth(tenantID, 0)
			q.mu.Unlock()
			return
		}
		alert := tq.pending[0]
		tq.pending = tq.pending[1:]
		tq.current = alert.AlertID
		tq.awaitingAck = true
		tq.ackCh = make(chan struct{}, 1)
		ackCh := tq.ackCh
		q.setQueueDepth(tenantID, len(tq.pending))
		q.mu.Unlock()

		outbound, visible := q.resolve(alert)

		q.gateway.SendAlert(tenantID, outbound)
		q.logger.WithFields(logging.Fields{
			"tenant_id": tenantID,
			"alert_id":  alert.AlertID,
			"reference": alert.Reference,
			"amount":    alert.Amount,
			"visible":   visible,
		}).Info("Alert displayed")

		timer := time.NewTimer(visible + q.ackBuffer)
		outcome := "acked"
		select {
		case <-ackCh:
			timer.Stop()
		case <-timer.C:
			outcome = "timeout"
			q.mu.Lock()
			tq.awaitingAck = false
			q.mu.Unlock()
			q.logger.WithFields(logging.Fields{
				"tenant_id": tenantID,
				"alert_id":  alert.AlertID,
			}).Warn("No acknowledgment before timeout, forcing queue forward")
		}

		q.complete(tq, alert, outcome)
	}
}

// complete clears the dedup reference, records delivery metrics and emits
// the analytics event after an alert was acked or timed out.
func (q *Manager) complete(tq *tenantQueue, alert models.DonationAlert, outcome string) {
	q.mu.Lock()
	if alert.Reference != "" {
		delete(tq.inQueueRefs, alert.Reference)
	}
	enqueued := tq.enqueuedAt[alert.AlertID]
	delete(tq.enqueuedAt, alert.AlertID)
	tq.current = ""
	publisher := q.publisher
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.AlertsDelivered.WithLabelValues(outcome).Inc()
		if !enqueued.IsZero() {
			q.metrics.AckLatency.WithLabelValues(outcome).Observe(time.Since(enqueued).Seconds())
		}
	}

	if publisher != nil && !alert.IsTest {
		publisher.PublishAlertDelivered(alert)
	}
}

// resolve looks up tenant configuration and computes the outbound payload and
// the effective visible duration. Lookup failure falls back to hard defaults
// and is never fatal.
func (q *Manager) resolve(alert models.DonationAlert) (OutboundAlert, time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cfg, err := q.config.GetAlertConfig(ctx, alert.TenantID)
	if err != nil {
		q.logger.WithFields(logging.Fields{
			"tenant_id": alert.TenantID,
			"error":     err,
		}).Warn("Alert configuration lookup failed, using defaults")
		return OutboundAlert{Alert: alert}, q.defaultDuration
	}

	settings, level := tiers.Resolve(cfg, alert.Amount, alert.Currency)

	visible := q.defaultDuration
	if settings.Animation.Duration > 0 {
		visible = time.Duration(settings.Animation.FadeIn+settings.Animation.Duration+settings.Animation.FadeOut) * time.Millisecond
	}

	return OutboundAlert{Alert: alert, Settings: settings, Level: level}, visible
}

// PendingCount returns the queue depth for a tenant, in-flight alert
// excluded.
func (q *Manager) PendingCount(tenantID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	tq, ok := q.tenants[tenantID]
	if !ok {
		return 0
	}
	return len(tq.pending)
}

// CurrentAlertID returns the alert id currently displayed for a tenant, or
// empty when idle.
func (q *Manager) CurrentAlertID(tenantID string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	tq, ok := q.tenants[tenantID]
	if !ok {
		return ""
	}
	return tq.current
}

func (q *Manager) setQueueDepth(tenantID string, depth int) {
	if q.metrics != nil {
		q.metrics.QueueDepth.WithLabelValues(tenantID).Set(float64(depth))
	}
}
