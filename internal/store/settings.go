package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hainguyen99-cdm/xscan-sub002/internal/models"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/logging"
)

// SettingsStore loads per-tenant alert presentation configuration, donation
// levels and bank feed credentials.
type SettingsStore struct {
	db     *sql.DB
	logger logging.Logger
}

// NewSettingsStore creates a settings store backed by Postgres
func NewSettingsStore(db *sql.DB, logger logging.Logger) *SettingsStore {
	return &SettingsStore{db: db, logger: logger}
}

// GetAlertConfig loads the full alert configuration for a tenant: behavior
// mode, base display settings and donation levels in configuration order.
func (s *SettingsStore) GetAlertConfig(ctx context.Context, tenantID string) (*models.TenantAlertConfig, error) {
	cfg := &models.TenantAlertConfig{
		TenantID:     tenantID,
		BehaviorMode: models.BehaviorAuto,
	}

	var settingsJSON []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT behavior_mode, settings
		FROM tenant_alert_settings
		WHERE tenant_id = $1
	`, tenantID).Scan(&cfg.BehaviorMode, &settingsJSON)
	if err == sql.ErrNoRows {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert settings: %w", err)
	}

	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &cfg.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode alert settings: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, min_amount, max_amount, currency, enabled, overrides, sort_order
		FROM donation_levels
		WHERE tenant_id = $1
		ORDER BY sort_order ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load donation levels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var level models.DonationLevel
		var overridesJSON []byte
		if err := rows.Scan(&level.ID, &level.Name, &level.MinAmount, &level.MaxAmount,
			&level.Currency, &level.Enabled, &overridesJSON, &level.SortOrder); err != nil {
			s.logger.WithError(err).Error("Error scanning donation level row")
			continue
		}
		if len(overridesJSON) > 0 {
			var overrides models.AlertDisplaySettings
			if err := json.Unmarshal(overridesJSON, &overrides); err != nil {
				s.logger.WithFields(logging.Fields{
					"tenant_id": tenantID,
					"level_id":  level.ID,
					"error":     err,
				}).Warn("Skipping donation level with malformed overrides")
				continue
			}
			level.Overrides = &overrides
		}
		cfg.Levels = append(cfg.Levels, level)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read donation levels: %w", err)
	}

	return cfg, nil
}

// ListFeedCredentials returns feed credentials for all tenants with polling
// enabled.
func (s *SettingsStore) ListFeedCredentials(ctx context.Context) ([]models.FeedCredentials, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, account_number, access_code, access_token, cookie
		FROM tenant_feed_credentials
		WHERE enabled = TRUE
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list feed credentials: %w", err)
	}
	defer rows.Close()

	var creds []models.FeedCredentials
	for rows.Next() {
		var c models.FeedCredentials
		if err := rows.Scan(&c.TenantID, &c.AccountNumber, &c.AccessCode, &c.AccessToken, &c.Cookie); err != nil {
			s.logger.WithError(err).Error("Error scanning feed credentials row")
			continue
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}
