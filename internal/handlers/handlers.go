package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hainguyen99-cdm/xscan-sub002/internal/metrics"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/models"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/queue"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/security"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/store"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/logging"
)

// Gateway is what handlers need from the realtime hub
type Gateway interface {
	ConnectionCount(tenantID string) int
}

// HeraldHandlers wires the HTTP trigger surface to the queue, the security
// authority and the stores.
type HeraldHandlers struct {
	gateway       Gateway
	alerts        *queue.Manager
	authority     *security.Authority
	securityStore *store.SecurityStore
	transactions  *store.TransactionStore
	logger        logging.Logger
	metrics       *metrics.Metrics
	widgetBaseURL string
}

// NewHeraldHandlers creates the handler set
func NewHeraldHandlers(gateway Gateway, alerts *queue.Manager, authority *security.Authority,
	securityStore *store.SecurityStore, transactions *store.TransactionStore,
	widgetBaseURL string, logger logging.Logger, m *metrics.Metrics) *HeraldHandlers {
	return &HeraldHandlers{
		gateway:       gateway,
		alerts:        alerts,
		authority:     authority,
		securityStore: securityStore,
		transactions:  transactions,
		logger:        logger,
		metrics:       m,
		widgetBaseURL: widgetBaseURL,
	}
}

// ErrorResponse is the uniform error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// TriggerAlertRequest is the body of the donation/test trigger endpoints
type TriggerAlertRequest struct {
	DonorName     string `json:"donor_name"`
	Amount        int64  `json:"amount" binding:"required"`
	Currency      string `json:"currency"`
	Message       string `json:"message"`
	Reference     string `json:"reference"`
	PaymentMethod string `json:"payment_method"`
	Anonymous     bool   `json:"anonymous"`
}

// TriggerAlertResponse reports the queued alert
type TriggerAlertResponse struct {
	AlertID         string `json:"alert_id"`
	WidgetURL       string `json:"widget_url"`
	ConnectionCount int    `json:"connection_count"`
	Queued          bool   `json:"queued"`
}

// TriggerDonation converts an externally-originated donation (card, wallet)
// into a queued alert. The channel token travels in the path; optional
// signature headers are verified by the authority.
func (h *HeraldHandlers) TriggerDonation(c *gin.Context) {
	h.trigger(c, false)
}

// TriggerTest queues a test alert so streamers can preview their overlay
func (h *HeraldHandlers) TriggerTest(c *gin.Context) {
	h.trigger(c, true)
}

func (h *HeraldHandlers) trigger(c *gin.Context, isTest bool) {
	result, ok := h.validateRequest(c)
	if !ok {
		return
	}

	var req TriggerAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_amount", Message: "amount must be positive"})
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = models.CurrencyVND
	}
	if !models.ValidCurrency(currency) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_currency", Message: "unsupported currency: " + currency})
		return
	}

	donor := req.DonorName
	if req.Anonymous || donor == "" {
		donor = models.AnonymousDonorName
	}

	alert := models.DonationAlert{
		AlertID:       uuid.New().String(),
		TenantID:      result.TenantID,
		DonorName:     donor,
		Amount:        req.Amount,
		Currency:      currency,
		Message:       req.Message,
		Reference:     req.Reference,
		IsTest:        isTest,
		PaymentMethod: req.PaymentMethod,
		CreatedAt:     time.Now().UTC(),
	}

	queued := h.alerts.Submit(alert)
	if queued && h.metrics != nil {
		source := "http"
		if isTest {
			source = "test"
		}
		h.metrics.AlertsQueued.WithLabelValues(source).Inc()
	}

	c.JSON(http.StatusOK, TriggerAlertResponse{
		AlertID:         alert.AlertID,
		WidgetURL:       fmt.Sprintf("%s/widget/alerts?token=%s", h.widgetBaseURL, c.Param("token")),
		ConnectionCount: h.gateway.ConnectionCount(result.TenantID),
		Queued:          queued,
	})
}

// validateRequest runs the full security chain for a trigger request and
// writes the rejection response itself when the request fails.
func (h *HeraldHandlers) validateRequest(c *gin.Context) (*security.ValidationResult, bool) {
	result, err := h.authority.Validate(c.Request.Context(), security.ValidateRequest{
		Token:     c.Param("token"),
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Signature: c.GetHeader("X-Signature"),
		Timestamp: c.GetHeader("X-Timestamp"),
		Nonce:     c.GetHeader("X-Nonce"),
	})
	if err != nil {
		h.logger.WithError(err).Error("Channel validation failed")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "validation_unavailable"})
		return nil, false
	}
	if !result.Valid {
		if h.metrics != nil {
			h.metrics.ValidationFailures.WithLabelValues(result.Reason).Inc()
		}
		status := http.StatusUnauthorized
		if result.Reason == models.ViolationRateLimitExceeded {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, ErrorResponse{Error: result.Reason, Message: rejectionMessage(result.Reason)})
		return nil, false
	}

	c.Set("tenant_id", result.TenantID)
	return result, true
}

func rejectionMessage(reason string) string {
	switch reason {
	case models.ViolationInvalidToken:
		return "channel token is invalid"
	case models.ViolationTokenRevoked:
		return "channel token has been revoked"
	case models.ViolationTokenExpired:
		return "channel token has expired"
	case models.ViolationIPNotAllowed:
		return "client address is not allow-listed"
	case models.ViolationSignatureMismatch:
		return "request signature verification failed"
	case models.ViolationReplayAttack:
		return "request nonce was already used"
	case models.ViolationRateLimitExceeded:
		return "too many requests for this token"
	default:
		return "request rejected"
	}
}

// RecentTransactions returns the newest observed transactions for a tenant
func (h *HeraldHandlers) RecentTransactions(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if !h.authorizeTenant(c, tenantID) {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	transactions, err := h.transactions.RecentByTenant(c.Request.Context(), tenantID, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to fetch recent transactions")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "query_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// DonationTotal returns the aggregate donated amount for a tenant
func (h *HeraldHandlers) DonationTotal(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if !h.authorizeTenant(c, tenantID) {
		return
	}

	currency := c.DefaultQuery("currency", models.CurrencyVND)
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_since", Message: "since must be RFC3339"})
			return
		}
		since = parsed
	}

	total, err := h.transactions.TotalAmount(c.Request.Context(), tenantID, currency, since)
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute donation total")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "query_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id": tenantID,
		"currency":  currency,
		"total":     total,
		"formatted": models.FormatAmount(total, currency),
	})
}

// authorizeTenant ensures the JWT tenant matches the path tenant
func (h *HeraldHandlers) authorizeTenant(c *gin.Context, tenantID string) bool {
	if claimed := c.GetString("tenant_id"); claimed != tenantID {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "tenant_mismatch"})
		return false
	}
	return true
}

// HandleNotFound is the fallback route
func (h *HeraldHandlers) HandleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "unknown endpoint: " + c.Request.URL.Path})
}
