package poller

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hainguyen99-cdm/xscan-sub002/internal/bankfeed"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/metrics"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/models"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/logging"
)

// DefaultInterval between poll cycles
const DefaultInterval = 10 * time.Second

// FeedClient fetches one tenant's bank statement. Implemented by
// bankfeed.Client.
type FeedClient interface {
	Fetch(ctx context.Context, creds models.FeedCredentials) (*bankfeed.ProviderResponse, error)
}

// TransactionInserter persists newly observed transactions. Implemented by
// store.TransactionStore.
type TransactionInserter interface {
	Insert(ctx context.Context, tx *models.BankTransaction) (bool, error)
}

// CredentialsSource lists tenants with an active feed. Implemented by
// store.SettingsStore.
type CredentialsSource interface {
	ListFeedCredentials(ctx context.Context) ([]models.FeedCredentials, error)
}

// AlertSink consumes donation alerts. Implemented by queue.Manager.
type AlertSink interface {
	Submit(alert models.DonationAlert) bool
}

// EventPublisher receives observed-donation events for downstream analytics.
// Optional; nil disables publishing.
type EventPublisher interface {
	PublishDonationObserved(tx *models.BankTransaction)
}

// Config holds poller configuration
type Config struct {
	Interval       time.Duration
	MaxConcurrency int
}

// Poller periodically fetches every active tenant's bank feed, persists new
// credit transactions and turns them into donation alerts. One tenant's
// failure never affects another's cycle.
type Poller struct {
	cfg       Config
	feed      FeedClient
	store     TransactionInserter
	creds     CredentialsSource
	sink      AlertSink
	publisher EventPublisher
	logger    logging.Logger
	metrics   *metrics.Metrics
}

// New creates a transaction poller
func New(cfg Config, feed FeedClient, store TransactionInserter, creds CredentialsSource, sink AlertSink, publisher EventPublisher, logger logging.Logger, m *metrics.Metrics) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	return &Poller{
		cfg:       cfg,
		feed:      feed,
		store:     store,
		creds:     creds,
		sink:      sink,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
	}
}

// Run polls on a fixed interval until the context is cancelled
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.WithField("interval", p.cfg.Interval).Info("Transaction poller started")

	for {
		p.PollOnce(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			p.logger.Info("Transaction poller stopped")
			return
		}
	}
}

// PollOnce runs one poll cycle across all active tenants with bounded
// fan-out.
func (p *Poller) PollOnce(ctx context.Context) {
	creds, err := p.creds.ListFeedCredentials(ctx)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to list feed credentials, skipping cycle")
		p.countCycle("error")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrency)

	for _, c := range creds {
		c := c
		g.Go(func() error {
			// Tenant failures are isolated: log, never propagate.
			if err := p.pollTenant(gctx, c); err != nil {
				p.logger.WithFields(logging.Fields{
					"tenant_id": c.TenantID,
					"error":     err,
				}).Warn("Poll cycle failed for tenant")
			}
			return nil
		})
	}

	_ = g.Wait()
	p.countCycle("ok")
}

func (p *Poller) pollTenant(ctx context.Context, creds models.FeedCredentials) error {
	resp, err := p.feed.Fetch(ctx, creds)
	if err != nil {
		if p.metrics != nil {
			kind := "unavailable"
			if errors.Is(err, bankfeed.ErrFeedRejected) {
				kind = "rejected"
			}
			p.metrics.FeedFailures.WithLabelValues(kind).Inc()
		}
		return err
	}

	for _, entry := range resp.Entries {
		p.processEntry(ctx, creds.TenantID, entry)
	}
	return nil
}

// processEntry classifies, parses and persists one statement line, then
// submits the resulting alert.
func (p *Poller) processEntry(ctx context.Context, tenantID string, entry bankfeed.StatementEntry) {
	if !entry.IsCredit() {
		p.countTransaction("skipped")
		return
	}

	amount := ParseAmount(entry.CreditAmount)
	if amount <= 0 {
		p.countTransaction("skipped")
		return
	}

	raw, _ := json.Marshal(entry)
	tx := &models.BankTransaction{
		TenantID:        tenantID,
		Reference:       entry.Reference,
		Description:     entry.Description,
		Amount:          amount,
		Currency:        models.CurrencyVND,
		TransactionDate: entry.ParsedDate(),
		RawPayload:      raw,
	}

	inserted, err := p.store.Insert(ctx, tx)
	if err != nil {
		p.logger.WithFields(logging.Fields{
			"tenant_id": tenantID,
			"reference": entry.Reference,
			"error":     err,
		}).Error("Failed to persist transaction")
		return
	}
	if !inserted {
		// Already observed in an earlier cycle; expected and benign.
		p.countTransaction("duplicate")
		return
	}
	p.countTransaction("new")

	if p.publisher != nil {
		p.publisher.PublishDonationObserved(tx)
	}

	alert := models.DonationAlert{
		TenantID:      tenantID,
		DonorName:     ExtractDonorName(entry.Description),
		Amount:        amount,
		Currency:      tx.Currency,
		Message:       ExtractMessage(entry.Description),
		Reference:     entry.Reference,
		PaymentMethod: "bank_transfer",
		CreatedAt:     time.Now().UTC(),
	}
	if p.sink.Submit(alert) && p.metrics != nil {
		p.metrics.AlertsQueued.WithLabelValues("bank_feed").Inc()
	}
}

func (p *Poller) countCycle(status string) {
	if p.metrics != nil {
		p.metrics.PollCycles.WithLabelValues(status).Inc()
	}
}

func (p *Poller) countTransaction(result string) {
	if p.metrics != nil {
		p.metrics.TransactionsSeen.WithLabelValues(result).Inc()
	}
}

// ParseAmount strips every non-digit character from a provider amount field
// and parses the remainder. Returns 0 for unparsable input.
func ParseAmount(field string) int64 {
	var digits strings.Builder
	for _, r := range field {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0
	}

	var amount int64
	for _, r := range digits.String() {
		d := int64(r - '0')
		if amount > (1<<63-1-d)/10 {
			return 0 // overflow, treat as unparsable
		}
		amount = amount*10 + d
	}
	return amount
}

var (
	// A phrase ending in a transfer keyword, e.g. "NGUYEN VAN A chuyen khoan"
	transferPattern = regexp.MustCompile(`(?i)\b([\p{L} ]+?)\s*(?:chuyen khoan|chuyen tien|ck)\b`)

	// Fallback: an all-caps name-like run of at least two words
	allCapsPattern = regexp.MustCompile(`\b([A-Z][A-Z]+(?: [A-Z][A-Z]+)+)\b`)
)

// ExtractDonorName pulls a human-readable sender name out of the free-text
// transfer description. Best effort: transfer-keyword phrase first, then an
// all-caps name-like substring, then the raw description.
func ExtractDonorName(description string) string {
	desc := strings.TrimSpace(description)
	if desc == "" {
		return models.AnonymousDonorName
	}

	if m := transferPattern.FindStringSubmatch(desc); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name
		}
	}
	if m := allCapsPattern.FindStringSubmatch(desc); m != nil {
		return m[1]
	}
	return desc
}

// ExtractMessage derives the overlay message from the description: the text
// after the transfer keyword when present, else the raw description.
func ExtractMessage(description string) string {
	desc := strings.TrimSpace(description)
	if loc := transferPattern.FindStringIndex(desc); loc != nil {
		if rest := strings.TrimSpace(strings.Trim(desc[loc[1]:], "-: ")); rest != "" {
			return rest
		}
	}
	return desc
}
