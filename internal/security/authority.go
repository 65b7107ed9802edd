package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hainguyen99-cdm/xscan-sub002/internal/models"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/logging"
)

const (
	tokenHexLength = 64

	// DefaultClockSkew bounds how far a signed request's timestamp may drift
	// from server time.
	DefaultClockSkew = 5 * time.Minute

	// DefaultNonceTTL is the replay-protection retention window.
	DefaultNonceTTL = time.Hour

	// Default fixed-window rate limit per (token, client IP).
	DefaultRateLimit       = 10
	DefaultRateLimitWindow = time.Minute
)

// SettingsSource loads security settings and records violations. Implemented
// by store.SecurityStore.
type SettingsSource interface {
	GetByToken(ctx context.Context, token string) (*models.SecuritySettings, error)
	AppendViolation(ctx context.Context, tenantID string, v models.SecurityViolation) error
}

// ValidateRequest carries everything known about an inbound channel request.
type ValidateRequest struct {
	Token     string
	ClientIP  string
	UserAgent string

	// Signature fields, required only when the tenant enables request signing
	Signature string
	Timestamp string // unix seconds
	Nonce     string
}

// ValidationResult is the outcome of a validation chain run.
type ValidationResult struct {
	Valid    bool
	Reason   string // violation type when invalid
	TenantID string
	Settings *models.SecuritySettings
}

// Authority gates the realtime channel and the alert trigger endpoints.
// Checks run in a fixed order and short-circuit on the first failure; every
// failure lands in the tenant's violation log.
type Authority struct {
	source    SettingsSource
	replay    ReplayCache
	limiter   RateLimiter
	clockSkew time.Duration
	logger    logging.Logger
}

// NewAuthority creates a secure channel authority
func NewAuthority(source SettingsSource, replay ReplayCache, limiter RateLimiter, logger logging.Logger) *Authority {
	return &Authority{
		source:    source,
		replay:    replay,
		limiter:   limiter,
		clockSkew: DefaultClockSkew,
		logger:    logger,
	}
}

// Validate runs the full validation chain for a channel token request.
// A non-nil error means infrastructure failure (store or cache unreachable),
// not an invalid request.
func (a *Authority) Validate(ctx context.Context, req ValidateRequest) (*ValidationResult, error) {
	if !isHexToken(req.Token) {
		// No tenant to attribute the violation to; log only.
		a.logger.WithFields(logging.Fields{
			"client_ip": req.ClientIP,
			"reason":    models.ViolationInvalidToken,
		}).Warn("Channel token with invalid format")
		return &ValidationResult{Valid: false, Reason: models.ViolationInvalidToken}, nil
	}

	settings, err := a.source.GetByToken(ctx, req.Token)
	if err != nil {
		if isNotFound(err) {
			a.logger.WithFields(logging.Fields{
				"client_ip": req.ClientIP,
				"reason":    models.ViolationInvalidToken,
			}).Warn("Unknown channel token")
			return &ValidationResult{Valid: false, Reason: models.ViolationInvalidToken}, nil
		}
		return nil, fmt.Errorf("security settings lookup: %w", err)
	}

	if settings.Revoked {
		a.recordViolation(ctx, settings.TenantID, req, models.ViolationTokenRevoked,
			"token revoked: "+settings.RevokedReason)
		return a.reject(settings, models.ViolationTokenRevoked), nil
	}

	if settings.TokenExpiresAt != nil && time.Now().After(*settings.TokenExpiresAt) {
		a.recordViolation(ctx, settings.TenantID, req, models.ViolationTokenExpired,
			"token expired at "+settings.TokenExpiresAt.UTC().Format(time.RFC3339))
		return a.reject(settings, models.ViolationTokenExpired), nil
	}

	if settings.RequireIPValidation && !ipAllowed(req.ClientIP, settings.AllowedIPs) {
		a.recordViolation(ctx, settings.TenantID, req, models.ViolationIPNotAllowed,
			"client ip not in allow list")
		return a.reject(settings, models.ViolationIPNotAllowed), nil
	}

	if settings.RequireRequestSigning {
		if reason := a.verifySignature(req, settings.SigningSecret); reason != "" {
			a.recordViolation(ctx, settings.TenantID, req, reason, "request signature check failed")
			return a.reject(settings, reason), nil
		}

		first, err := a.replay.Remember(ctx, req.Token, req.Nonce)
		if err != nil {
			return nil, err
		}
		if !first {
			a.recordViolation(ctx, settings.TenantID, req, models.ViolationReplayAttack,
				"nonce already used: "+req.Nonce)
			return a.reject(settings, models.ViolationReplayAttack), nil
		}
	}

	allowed, err := a.limiter.Allow(ctx, req.Token, req.ClientIP)
	if err != nil {
		return nil, err
	}
	if !allowed {
		a.recordViolation(ctx, settings.TenantID, req, models.ViolationRateLimitExceeded,
			"request cap exceeded")
		return a.reject(settings, models.ViolationRateLimitExceeded), nil
	}

	return &ValidationResult{Valid: true, TenantID: settings.TenantID, Settings: settings}, nil
}

// verifySignature checks the HMAC-SHA256 over "timestamp:nonce". Returns the
// violation type on failure, empty string on success.
func (a *Authority) verifySignature(req ValidateRequest, secret string) string {
	if req.Signature == "" || req.Timestamp == "" || req.Nonce == "" {
		return models.ViolationSignatureMismatch
	}

	ts, err := strconv.ParseInt(req.Timestamp, 10, 64)
	if err != nil {
		return models.ViolationSignatureMismatch
	}
	drift := time.Since(time.Unix(ts, 0))
	if drift < -a.clockSkew || drift > a.clockSkew {
		return models.ViolationSignatureMismatch
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(req.Timestamp + ":" + req.Nonce))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(req.Signature))) {
		return models.ViolationSignatureMismatch
	}
	return ""
}

func (a *Authority) reject(settings *models.SecuritySettings, reason string) *ValidationResult {
	return &ValidationResult{Valid: false, Reason: reason, TenantID: settings.TenantID}
}

func (a *Authority) recordViolation(ctx context.Context, tenantID string, req ValidateRequest, violationType, details string) {
	a.logger.WithFields(logging.Fields{
		"tenant_id": tenantID,
		"client_ip": req.ClientIP,
		"reason":    violationType,
	}).Warn("Channel request rejected")

	v := models.SecurityViolation{
		Type:      violationType,
		Timestamp: time.Now().UTC(),
		IP:        req.ClientIP,
		UserAgent: req.UserAgent,
		Details:   details,
	}
	if err := a.source.AppendViolation(ctx, tenantID, v); err != nil {
		a.logger.WithError(err).Error("Failed to append security violation")
	}
}

// isHexToken reports whether the token is a 64-char lowercase hex string
func isHexToken(token string) bool {
	if len(token) != tokenHexLength {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

// ipAllowed matches the client IP against allow-listed literal addresses and
// CIDR ranges.
func ipAllowed(clientIP string, allowed []string) bool {
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}

	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, cidr, err := net.ParseCIDR(entry)
			if err == nil && cidr.Contains(ip) {
				return true
			}
			continue
		}
		if listed := net.ParseIP(entry); listed != nil && listed.Equal(ip) {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
