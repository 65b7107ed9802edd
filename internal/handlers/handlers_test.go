package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/lib/pq"

	"github.com/hainguyen99-cdm/xscan-sub002/internal/queue"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/security"
	"github.com/hainguyen99-cdm/xscan-sub002/internal/store"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/auth"
	"github.com/hainguyen99-cdm/xscan-sub002/pkg/logging"
)

const channelToken = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

var jwtSecret = []byte("test-jwt-secret")

type stubGateway struct{ count int }

func (g *stubGateway) ConnectionCount(tenantID string) int { return g.count }

type stubAlertGateway struct{}

func (stubAlertGateway) SendAlert(tenantID string, alert queue.OutboundAlert) {}

func newTestRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, *queue.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	logger := logging.NewLogger()
	securityStore := store.NewSecurityStore(db, logger)
	transactionStore := store.NewTransactionStore(db, logger)
	settingsStore := store.NewSettingsStore(db, logger)

	replay := security.NewMemoryReplayCache(time.Hour)
	t.Cleanup(replay.Stop)
	limiter := security.NewMemoryRateLimiter(100, time.Minute)
	t.Cleanup(limiter.Stop)
	authority := security.NewAuthority(securityStore, replay, limiter, logger)

	alerts := queue.NewManager(stubAlertGateway{}, settingsStore, logger, nil)

	h := NewHeraldHandlers(&stubGateway{count: 1}, alerts, authority, securityStore,
		transactionStore, "http://widgets.local", logger, nil)

	router := gin.New()
	router.POST("/api/alerts/:token/donation", h.TriggerDonation)
	router.POST("/api/alerts/:token/test", h.TriggerTest)

	admin := router.Group("/api/tenants/:tenant_id")
	admin.Use(auth.JWTAuthMiddleware(jwtSecret))
	admin.GET("/security", h.GetSecuritySettings)
	admin.POST("/security/revoke", h.RevokeToken)
	admin.GET("/transactions", h.RecentTransactions)
	admin.GET("/donations/total", h.DonationTotal)

	return router, mock, alerts
}

func expectSettingsByToken(mock sqlmock.Sqlmock, revoked bool) {
	mock.ExpectQuery("FROM channel_security_settings").
		WithArgs(channelToken).
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "token", "token_expires_at", "revoked", "revoked_reason", "revoked_at",
			"allowed_ips", "max_connections", "require_ip_validation", "require_request_signing",
			"signing_secret", "last_audit_at", "updated_at",
		}).AddRow("tenant-1", channelToken, nil, revoked, "", nil,
			pq.StringArray{}, 5, false, false, "secret", nil, time.Now()))
}

func bearerToken(t *testing.T, tenantID string) string {
	t.Helper()
	token, err := auth.GenerateJWT("user-1", tenantID, "owner", jwtSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to sign jwt: %v", err)
	}
	return "Bearer " + token
}

func TestTriggerTest_QueuesAlert(t *testing.T) {
	router, mock, alerts := newTestRouter(t)
	expectSettingsByToken(mock, false)

	body, _ := json.Marshal(TriggerAlertRequest{
		DonorName: "Tester",
		Amount:    25000,
		Currency:  "VND",
		Message:   "overlay check",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/alerts/"+channelToken+"/test", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp TriggerAlertResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.AlertID == "" || !resp.Queued {
		t.Fatalf("expected queued alert with id, got %+v", resp)
	}
	if !strings.Contains(resp.WidgetURL, channelToken) {
		t.Fatalf("widget url should carry the token, got %q", resp.WidgetURL)
	}
	if resp.ConnectionCount != 1 {
		t.Fatalf("expected connection count 1, got %d", resp.ConnectionCount)
	}
	_ = alerts
}

func TestTriggerDonation_RevokedTokenRejected(t *testing.T) {
	router, mock, _ := newTestRouter(t)
	expectSettingsByToken(mock, true)
	mock.ExpectExec("INSERT INTO security_violations").
		WillReturnResult(sqlmock.NewResult(1, 1))

	body, _ := json.Marshal(TriggerAlertRequest{Amount: 1000})
	req := httptest.NewRequest(http.MethodPost, "/api/alerts/"+channelToken+"/donation", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Error != "token_revoked" {
		t.Fatalf("expected token_revoked, got %q", resp.Error)
	}
}

func TestTriggerDonation_RejectsBadBody(t *testing.T) {
	router, mock, _ := newTestRouter(t)

	cases := []struct {
		name string
		body string
	}{
		{"negative amount", `{"amount": -5}`},
		{"unsupported currency", `{"amount": 1000, "currency": "GBP"}`},
		{"not json", `nope`},
	}
	for _, tc := range cases {
		expectSettingsByToken(mock, false)
		req := httptest.NewRequest(http.MethodPost, "/api/alerts/"+channelToken+"/donation", strings.NewReader(tc.body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d: %s", tc.name, w.Code, w.Body.String())
		}
	}
}

func TestGetSecuritySettings_RequiresJWT(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tenants/tenant-1/security", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", w.Code)
	}
}

func TestGetSecuritySettings_TenantScoped(t *testing.T) {
	router, _, _ := newTestRouter(t)

	// JWT for tenant-2 must not read tenant-1's settings.
	req := httptest.NewRequest(http.MethodGet, "/api/tenants/tenant-1/security", nil)
	req.Header.Set("Authorization", bearerToken(t, "tenant-2"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on tenant mismatch, got %d", w.Code)
	}
}

func TestGetSecuritySettings_HidesSigningSecret(t *testing.T) {
	router, mock, _ := newTestRouter(t)

	mock.ExpectQuery("FROM channel_security_settings").
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "token", "token_expires_at", "revoked", "revoked_reason", "revoked_at",
			"allowed_ips", "max_connections", "require_ip_validation", "require_request_signing",
			"signing_secret", "last_audit_at", "updated_at",
		}).AddRow("tenant-1", channelToken, nil, false, "", nil,
			pq.StringArray{"10.0.0.0/8"}, 5, true, true, "super-secret", nil, time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/api/tenants/tenant-1/security", nil)
	req.Header.Set("Authorization", bearerToken(t, "tenant-1"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "super-secret") {
		t.Fatal("signing secret must never appear in a response")
	}

	var resp SecuritySettingsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Token != channelToken || resp.MaxConnections != 5 {
		t.Fatalf("unexpected settings: %+v", resp)
	}
}

func TestRevokeToken(t *testing.T) {
	router, mock, _ := newTestRouter(t)

	mock.ExpectExec("UPDATE channel_security_settings").
		WithArgs("tenant-1", "stream ended").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body := strings.NewReader(`{"reason": "stream ended"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/tenants/tenant-1/security/revoke", body)
	req.Header.Set("Authorization", bearerToken(t, "tenant-1"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDonationTotal(t *testing.T) {
	router, mock, _ := newTestRouter(t)

	mock.ExpectQuery(`SELECT SUM\(amount\) FROM bank_transactions`).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(150000)))

	req := httptest.NewRequest(http.MethodGet, "/api/tenants/tenant-1/donations/total?currency=VND", nil)
	req.Header.Set("Authorization", bearerToken(t, "tenant-1"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp["formatted"] != "150.000 ₫" {
		t.Fatalf("unexpected formatted total: %v", resp["formatted"])
	}
}
