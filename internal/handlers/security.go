package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hainguyen99-cdm/xscan-sub002/internal/store"
)

// SecuritySettingsResponse exposes channel security state without the
// signing secret.
type SecuritySettingsResponse struct {
	TenantID              string     `json:"tenant_id"`
	Token                 string     `json:"token"`
	TokenExpiresAt        *time.Time `json:"token_expires_at,omitempty"`
	Revoked               bool       `json:"revoked"`
	RevokedReason         string     `json:"revoked_reason,omitempty"`
	RevokedAt             *time.Time `json:"revoked_at,omitempty"`
	AllowedIPs            []string   `json:"allowed_ips"`
	MaxConnections        int        `json:"max_connections"`
	RequireIPValidation   bool       `json:"require_ip_validation"`
	RequireRequestSigning bool       `json:"require_request_signing"`
	LastAuditAt           *time.Time `json:"last_audit_at,omitempty"`
}

// UpdateSecurityRequest carries a partial settings update. Absent fields
// keep their stored value.
type UpdateSecurityRequest struct {
	TokenExpiresAt        *time.Time `json:"token_expires_at"`
	AllowedIPs            *[]string  `json:"allowed_ips"`
	MaxConnections        *int       `json:"max_connections"`
	RequireIPValidation   *bool      `json:"require_ip_validation"`
	RequireRequestSigning *bool      `json:"require_request_signing"`
}

// RevokeTokenRequest names the reason recorded with a revocation
type RevokeTokenRequest struct {
	Reason string `json:"reason"`
}

// GetSecuritySettings returns the channel security configuration for the
// authenticated tenant.
func (h *HeraldHandlers) GetSecuritySettings(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if !h.authorizeTenant(c, tenantID) {
		return
	}

	settings, err := h.securityStore.GetByTenant(c.Request.Context(), tenantID)
	if err != nil {
		if errors.Is(err, store.ErrSettingsNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "settings_not_found"})
			return
		}
		h.logger.WithError(err).Error("Failed to load security settings")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "query_failed"})
		return
	}

	c.JSON(http.StatusOK, SecuritySettingsResponse{
		TenantID:              settings.TenantID,
		Token:                 settings.Token,
		TokenExpiresAt:        settings.TokenExpiresAt,
		Revoked:               settings.Revoked,
		RevokedReason:         settings.RevokedReason,
		RevokedAt:             settings.RevokedAt,
		AllowedIPs:            settings.AllowedIPs,
		MaxConnections:        settings.MaxConnections,
		RequireIPValidation:   settings.RequireIPValidation,
		RequireRequestSigning: settings.RequireRequestSigning,
		LastAuditAt:           settings.LastAuditAt,
	})
}

// UpdateSecuritySettings applies a partial update to channel security
func (h *HeraldHandlers) UpdateSecuritySettings(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if !h.authorizeTenant(c, tenantID) {
		return
	}

	var req UpdateSecurityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if req.MaxConnections != nil && *req.MaxConnections < 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "max_connections must be at least 1"})
		return
	}

	err := h.securityStore.UpdateSettings(c.Request.Context(), tenantID, store.SettingsUpdate{
		TokenExpiresAt:        req.TokenExpiresAt,
		AllowedIPs:            req.AllowedIPs,
		MaxConnections:        req.MaxConnections,
		RequireIPValidation:   req.RequireIPValidation,
		RequireRequestSigning: req.RequireRequestSigning,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to update security settings")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "update_failed"})
		return
	}

	h.GetSecuritySettings(c)
}

// RevokeToken marks the channel token revoked. Existing connections keep
// running until they disconnect; new handshakes are rejected.
func (h *HeraldHandlers) RevokeToken(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if !h.authorizeTenant(c, tenantID) {
		return
	}

	var req RevokeTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = "revoked by tenant"
	}

	if err := h.securityStore.Revoke(c.Request.Context(), tenantID, req.Reason); err != nil {
		h.logger.WithError(err).Error("Failed to revoke channel token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "revoke_failed"})
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"reason":    req.Reason,
	}).Info("Channel token revoked")

	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

// RegenerateToken rotates the channel token and signing secret
func (h *HeraldHandlers) RegenerateToken(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if !h.authorizeTenant(c, tenantID) {
		return
	}

	token, err := h.securityStore.Regenerate(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to regenerate channel token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "regenerate_failed"})
		return
	}

	h.logger.WithFields(map[string]interface{}{"tenant_id": tenantID}).Info("Channel token regenerated")

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"widget_url": h.widgetBaseURL + "/widget/alerts?token=" + token,
	})
}

// ListViolations returns recent security violations for audit
func (h *HeraldHandlers) ListViolations(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	if !h.authorizeTenant(c, tenantID) {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	violations, err := h.securityStore.RecentViolations(c.Request.Context(), tenantID, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to fetch security violations")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "query_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"violations": violations,
		"count":      len(violations),
	})
}
