package bankfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/hainguyen99-cdm/xscan-sub002/internal/models"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/logging"
)

var (
	// ErrFeedUnavailable is returned after connection-level failures exhaust
	// all retry attempts. The poll cycle for the tenant is skipped.
	ErrFeedUnavailable = errors.New("bank feed unavailable")

	// ErrFeedRejected is returned on a non-2xx response. Not retryable: the
	// provider understood the request and refused it.
	ErrFeedRejected = errors.New("bank feed rejected request")
)

// statement operation code expected by the provider
const operationCode = "STMT_INQUIRY"

// StatementEntry is one line item in a provider statement response
type StatementEntry struct {
	Reference       string `json:"refNo"`
	Description     string `json:"description"`
	CreditAmount    string `json:"creditAmount"`
	DebitAmount     string `json:"debitAmount"`
	TransactionDate string `json:"transactionDate"` // "2006-01-02 15:04:05"
}

// IsCredit reports whether the entry is an incoming transfer. The provider
// fills exactly one of creditAmount/debitAmount per line.
func (e StatementEntry) IsCredit() bool {
	credit := strings.TrimSpace(e.CreditAmount)
	return credit != "" && credit != "0"
}

// ParsedDate parses the provider timestamp, falling back to now on malformed
// input so a bad date never drops a real credit.
func (e StatementEntry) ParsedDate() time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", strings.TrimSpace(e.TransactionDate))
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

// ProviderResponse is the provider's statement inquiry envelope
type ProviderResponse struct {
	ResultCode string           `json:"resultCode"`
	Message    string           `json:"message,omitempty"`
	Entries    []StatementEntry `json:"transactionHistoryList"`
}

// Config holds tenant-independent client configuration
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	MaxAttempts    int
	AttemptDelay   time.Duration
}

// DefaultConfig returns the default bank feed client configuration
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		RequestTimeout: 10 * time.Second,
		MaxAttempts:    3,
		AttemptDelay:   2 * time.Second,
	}
}

// Client fetches bank statements from the external provider. One HTTP call
// per tenant per poll cycle, with a fixed-delay retry policy that only fires
// on connection-level failures.
type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   failsafe.Executor[*http.Response]
	logger     logging.Logger
}

// NewClient creates a bank feed client
func NewClient(cfg Config, logger logging.Logger) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.AttemptDelay <= 0 {
		cfg.AttemptDelay = 2 * time.Second
	}

	// HTTP status errors are surfaced via the response, so a non-nil err here
	// is always a transport failure.
	retry := retrypolicy.NewBuilder[*http.Response]().
		WithDelay(cfg.AttemptDelay).
		WithMaxRetries(cfg.MaxAttempts - 1).
		HandleIf(func(_ *http.Response, err error) bool {
			return err != nil
		}).
		Build()

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		executor:   failsafe.With(retry),
		logger:     logger,
	}
}

// Fetch performs one statement inquiry for a tenant's account
func (c *Client) Fetch(ctx context.Context, creds models.FeedCredentials) (*ProviderResponse, error) {
	form := url.Values{}
	form.Set("operation", operationCode)
	form.Set("accountNumber", creds.AccountNumber)

	resp, err := c.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Access-Code", creds.AccessCode)
		req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
		if creds.Cookie != "" {
			req.Header.Set("Cookie", creds.Cookie)
		}
		return c.httpClient.Do(req)
	})
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"tenant_id": creds.TenantID,
			"error":     err,
		}).Warn("Bank feed unreachable after retries")
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrFeedRejected, resp.StatusCode, string(body))
	}

	var provider ProviderResponse
	if err := json.NewDecoder(resp.Body).Decode(&provider); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrFeedRejected, err)
	}

	return &provider, nil
}
