package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hainguyen99-cdm/xscan-sub002/internal/models"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/logging"
)

// ErrSettingsNotFound is returned when no security settings exist for a
// token or tenant.
var ErrSettingsNotFound = sql.ErrNoRows

// SecurityStore persists per-tenant channel security settings and the
// append-only violation log.
type SecurityStore struct {
	db     *sql.DB
	logger logging.Logger
}

// NewSecurityStore creates a security settings store backed by Postgres
func NewSecurityStore(db *sql.DB, logger logging.Logger) *SecurityStore {
	return &SecurityStore{db: db, logger: logger}
}

const securitySettingsColumns = `tenant_id, token, token_expires_at, revoked, revoked_reason, revoked_at,
	       allowed_ips, max_connections, require_ip_validation, require_request_signing,
	       signing_secret, last_audit_at, updated_at`

func scanSecuritySettings(row *sql.Row) (*models.SecuritySettings, error) {
	var s models.SecuritySettings
	var allowedIPs pq.StringArray
	err := row.Scan(&s.TenantID, &s.Token, &s.TokenExpiresAt, &s.Revoked, &s.RevokedReason,
		&s.RevokedAt, &allowedIPs, &s.MaxConnections, &s.RequireIPValidation,
		&s.RequireRequestSigning, &s.SigningSecret, &s.LastAuditAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.AllowedIPs = allowedIPs
	return &s, nil
}

// GetByToken loads security settings for a channel token
func (s *SecurityStore) GetByToken(ctx context.Context, token string) (*models.SecuritySettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+securitySettingsColumns+`
		FROM channel_security_settings
		WHERE token = $1
	`, token)
	settings, err := scanSecuritySettings(row)
	if err == sql.ErrNoRows {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load security settings by token: %w", err)
	}
	return settings, nil
}

// GetByTenant loads security settings for a tenant
func (s *SecurityStore) GetByTenant(ctx context.Context, tenantID string) (*models.SecuritySettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+securitySettingsColumns+`
		FROM channel_security_settings
		WHERE tenant_id = $1
	`, tenantID)
	settings, err := scanSecuritySettings(row)
	if err == sql.ErrNoRows {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load security settings by tenant: %w", err)
	}
	return settings, nil
}

// Revoke marks the tenant's channel token as revoked. The token row is kept
// so the revocation reason can be shown and audited.
func (s *SecurityStore) Revoke(ctx context.Context, tenantID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE channel_security_settings
		SET revoked = TRUE, revoked_reason = $2, revoked_at = NOW(), updated_at = NOW()
		WHERE tenant_id = $1
	`, tenantID, reason)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSettingsNotFound
	}
	return nil
}

// Regenerate issues a fresh channel token and signing secret for a tenant
// and clears any revocation. Returns the new token.
func (s *SecurityStore) Regenerate(ctx context.Context, tenantID string) (string, error) {
	token, err := GenerateHexSecret()
	if err != nil {
		return "", err
	}
	secret, err := GenerateHexSecret()
	if err != nil {
		return "", err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE channel_security_settings
		SET token = $2, signing_secret = $3,
		    revoked = FALSE, revoked_reason = '', revoked_at = NULL,
		    updated_at = NOW()
		WHERE tenant_id = $1
	`, tenantID, token, secret)
	if err != nil {
		return "", fmt.Errorf("failed to regenerate token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", ErrSettingsNotFound
	}
	return token, nil
}

// SettingsUpdate is a partial update of mutable security configuration.
// Nil fields are left untouched.
type SettingsUpdate struct {
	TokenExpiresAt        *time.Time
	AllowedIPs            *[]string
	MaxConnections        *int
	RequireIPValidation   *bool
	RequireRequestSigning *bool
}

// UpdateSettings merges a partial security configuration and stamps the
// last-audit time.
func (s *SecurityStore) UpdateSettings(ctx context.Context, tenantID string, update SettingsUpdate) error {
	var allowedIPs interface{}
	if update.AllowedIPs != nil {
		allowedIPs = pq.StringArray(*update.AllowedIPs)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE channel_security_settings
		SET token_expires_at        = COALESCE($2, token_expires_at),
		    allowed_ips             = COALESCE($3, allowed_ips),
		    max_connections         = COALESCE($4, max_connections),
		    require_ip_validation   = COALESCE($5, require_ip_validation),
		    require_request_signing = COALESCE($6, require_request_signing),
		    last_audit_at           = NOW(),
		    updated_at              = NOW()
		WHERE tenant_id = $1
	`, tenantID, update.TokenExpiresAt, allowedIPs, update.MaxConnections,
		update.RequireIPValidation, update.RequireRequestSigning)
	if err != nil {
		return fmt.Errorf("failed to update security settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSettingsNotFound
	}
	return nil
}

// AppendViolation records one entry in the tenant's violation log
func (s *SecurityStore) AppendViolation(ctx context.Context, tenantID string, v models.SecurityViolation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_violations (tenant_id, type, ip, user_agent, details)
		VALUES ($1, $2, $3, $4, $5)
	`, tenantID, v.Type, v.IP, v.UserAgent, v.Details)
	if err != nil {
		return fmt.Errorf("failed to append violation: %w", err)
	}
	return nil
}

// RecentViolations returns the newest violation log entries for a tenant
func (s *SecurityStore) RecentViolations(ctx context.Context, tenantID string, limit int) ([]models.SecurityViolation, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, ip, user_agent, details, created_at
		FROM security_violations
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	var violations []models.SecurityViolation
	for rows.Next() {
		var v models.SecurityViolation
		if err := rows.Scan(&v.Type, &v.IP, &v.UserAgent, &v.Details, &v.Timestamp); err != nil {
			s.logger.WithError(err).Error("Error scanning violation row")
			continue
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// GenerateHexSecret returns 32 random bytes hex-encoded (64 chars), the
// format used for both channel tokens and signing secrets.
func GenerateHexSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
