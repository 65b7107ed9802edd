package store

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/hainguyen99-cdm/xscan-sub002/internal/models"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/logging"
)

func securityRows(token string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"tenant_id", "token", "token_expires_at", "revoked", "revoked_reason", "revoked_at",
		"allowed_ips", "max_connections", "require_ip_validation", "require_request_signing",
		"signing_secret", "last_audit_at", "updated_at",
	}).AddRow(
		"tenant-1", token, nil, false, "", nil,
		pq.StringArray{"10.0.0.0/8"}, 5, true, false,
		"secret", nil, time.Now(),
	)
}

func TestSecurityGetByToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	store := NewSecurityStore(db, logging.NewLogger())
	token := "token-abc"

	mock.ExpectQuery("FROM channel_security_settings").
		WithArgs(token).
		WillReturnRows(securityRows(token))

	settings, err := store.GetByToken(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.TenantID != "tenant-1" {
		t.Fatalf("unexpected tenant: %q", settings.TenantID)
	}
	if len(settings.AllowedIPs) != 1 || settings.AllowedIPs[0] != "10.0.0.0/8" {
		t.Fatalf("allowed ips not scanned: %+v", settings.AllowedIPs)
	}
	if !settings.RequireIPValidation {
		t.Fatal("require_ip_validation lost in scan")
	}
}

func TestSecurityGetByToken_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	store := NewSecurityStore(db, logging.NewLogger())

	mock.ExpectQuery("FROM channel_security_settings").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))

	_, err = store.GetByToken(context.Background(), "missing")
	if !errors.Is(err, ErrSettingsNotFound) {
		t.Fatalf("expected ErrSettingsNotFound, got %v", err)
	}
}

func TestSecurityRevoke(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	store := NewSecurityStore(db, logging.NewLogger())

	mock.ExpectExec("UPDATE channel_security_settings").
		WithArgs("tenant-1", "compromised").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Revoke(context.Background(), "tenant-1", "compromised"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectExec("UPDATE channel_security_settings").
		WithArgs("ghost", "reason").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Revoke(context.Background(), "ghost", "reason"); !errors.Is(err, ErrSettingsNotFound) {
		t.Fatalf("expected ErrSettingsNotFound for unknown tenant, got %v", err)
	}
}

func TestSecurityRegenerate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	store := NewSecurityStore(db, logging.NewLogger())

	mock.ExpectExec("UPDATE channel_security_settings").
		WithArgs("tenant-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	token, err := store.Regenerate(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(token))
	}
	if _, err := hex.DecodeString(token); err != nil {
		t.Fatalf("token is not hex: %v", err)
	}
}

func TestSecurityUpdateSettings_PartialMerge(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	store := NewSecurityStore(db, logging.NewLogger())
	maxConns := 10

	// Only max_connections set; every other field travels as NULL so
	// COALESCE keeps the stored value.
	mock.ExpectExec("UPDATE channel_security_settings").
		WithArgs("tenant-1", nil, nil, 10, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.UpdateSettings(context.Background(), "tenant-1", SettingsUpdate{MaxConnections: &maxConns})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAppendAndListViolations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	store := NewSecurityStore(db, logging.NewLogger())

	mock.ExpectExec("INSERT INTO security_violations").
		WithArgs("tenant-1", models.ViolationReplayAttack, "203.0.113.10", "curl/8.0", "nonce already used: n1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.AppendViolation(context.Background(), "tenant-1", models.SecurityViolation{
		Type:      models.ViolationReplayAttack,
		IP:        "203.0.113.10",
		UserAgent: "curl/8.0",
		Details:   "nonce already used: n1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Now()
	mock.ExpectQuery("FROM security_violations").
		WithArgs("tenant-1", 50).
		WillReturnRows(sqlmock.NewRows([]string{"type", "ip", "user_agent", "details", "created_at"}).
			AddRow(models.ViolationReplayAttack, "203.0.113.10", "curl/8.0", "nonce already used: n1", now))

	violations, err := store.RecentViolations(context.Background(), "tenant-1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(violations) != 1 || violations[0].Type != models.ViolationReplayAttack {
		t.Fatalf("unexpected violations: %+v", violations)
	}
}
