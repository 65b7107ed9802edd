package models

import (
	"encoding/json"
	"time"
)

// Supported donation currencies
const (
	CurrencyVND = "VND"
	CurrencyUSD = "USD"
	CurrencyEUR = "EUR"
)

// ValidCurrency reports whether the given currency code is supported.
func ValidCurrency(code string) bool {
	switch code {
	case CurrencyVND, CurrencyUSD, CurrencyEUR:
		return true
	}
	return false
}

// BankTransaction is one observed external credit. The (tenant_id, reference)
// pair is unique, which is what makes polling idempotent. Records are append
// only, never mutated or deleted.
type BankTransaction struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	Reference       string          `json:"reference"`
	Description     string          `json:"description"`
	Amount          int64           `json:"amount"` // minor units, always positive
	Currency        string          `json:"currency"`
	TransactionDate time.Time       `json:"transaction_date"`
	RawPayload      json.RawMessage `json:"raw_payload,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// DonationAlert is one pending or in-flight overlay notification. Alerts are
// held in memory only; loss on restart is acceptable.
type DonationAlert struct {
	AlertID       string    `json:"alert_id"`
	TenantID      string    `json:"tenant_id"`
	DonorName     string    `json:"donor_name"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Message       string    `json:"message,omitempty"`
	Reference     string    `json:"reference"`
	IsTest        bool      `json:"is_test,omitempty"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AnonymousDonorName is used when a donor opts out of showing their name.
const AnonymousDonorName = "Anonymous"

// Behavior modes for tier resolution
const (
	BehaviorBasic          = "basic"
	BehaviorDonationLevels = "donation-levels"
	BehaviorAuto           = "auto"
)

// ImageSettings configures the alert image section
type ImageSettings struct {
	URL    string `json:"url,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// SoundSettings configures the alert sound section
type SoundSettings struct {
	URL    string `json:"url,omitempty"`
	Volume int    `json:"volume,omitempty"` // 0-100
}

// AnimationSettings configures entrance/exit animation and timing. Durations
// are milliseconds.
type AnimationSettings struct {
	AnimationIn  string `json:"animation_in,omitempty"`
	AnimationOut string `json:"animation_out,omitempty"`
	FadeIn       int    `json:"fade_in,omitempty"`
	FadeOut      int    `json:"fade_out,omitempty"`
	Duration     int    `json:"duration,omitempty"`
}

// StyleSettings configures alert text styling
type StyleSettings struct {
	Font        string `json:"font,omitempty"`
	FontSize    int    `json:"font_size,omitempty"`
	FontWeight  string `json:"font_weight,omitempty"`
	TextColor   string `json:"text_color,omitempty"`
	AccentColor string `json:"accent_color,omitempty"`
}

// PositionSettings configures where the alert renders in the overlay
type PositionSettings struct {
	Horizontal string `json:"horizontal,omitempty"` // left, center, right
	Vertical   string `json:"vertical,omitempty"`   // top, middle, bottom
	OffsetX    int    `json:"offset_x,omitempty"`
	OffsetY    int    `json:"offset_y,omitempty"`
}

// DisplaySettings configures which alert elements are shown
type DisplaySettings struct {
	ShowAmount  bool `json:"show_amount"`
	ShowMessage bool `json:"show_message"`
	ShowDonor   bool `json:"show_donor"`
}

// GeneralSettings holds remaining presentation knobs
type GeneralSettings struct {
	TemplateText string `json:"template_text,omitempty"`
	TTSEnabled   bool   `json:"tts_enabled,omitempty"`
	TTSLanguage  string `json:"tts_language,omitempty"`
}

// AlertDisplaySettings is the full per-tenant presentation configuration.
// Tier overrides merge into this section by section. Display is a pointer so
// a tier that leaves it out is distinguishable from one that turns every
// element off.
type AlertDisplaySettings struct {
	Image     ImageSettings     `json:"image"`
	Sound     SoundSettings     `json:"sound"`
	Animation AnimationSettings `json:"animation"`
	Style     StyleSettings     `json:"style"`
	Position  PositionSettings  `json:"position"`
	Display   *DisplaySettings  `json:"display,omitempty"`
	General   GeneralSettings   `json:"general"`
}

// DonationLevel is a tenant-configured amount range with its own presentation
// overrides. Ranges may overlap or leave gaps; resolution is first match in
// configuration order.
type DonationLevel struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	MinAmount int64                 `json:"min_amount"`
	MaxAmount int64                 `json:"max_amount"`
	Currency  string                `json:"currency"`
	Enabled   bool                  `json:"enabled"`
	Overrides *AlertDisplaySettings `json:"overrides,omitempty"`
	SortOrder int                   `json:"sort_order"`
}

// TenantAlertConfig bundles everything the queue and tier resolver need for
// one tenant.
type TenantAlertConfig struct {
	TenantID     string               `json:"tenant_id"`
	BehaviorMode string               `json:"behavior_mode"`
	Settings     AlertDisplaySettings `json:"settings"`
	Levels       []DonationLevel      `json:"levels"`
}

// Violation types recorded by the security authority
const (
	ViolationInvalidToken      = "invalid_token"
	ViolationTokenRevoked      = "token_revoked"
	ViolationTokenExpired      = "token_expired"
	ViolationIPNotAllowed      = "ip_not_allowed"
	ViolationSignatureMismatch = "signature_mismatch"
	ViolationReplayAttack      = "replay_attack"
	ViolationRateLimitExceeded = "rate_limit_exceeded"
)

// SecurityViolation is one append-only entry in a tenant's violation log
type SecurityViolation struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Details   string    `json:"details,omitempty"`
}

// SecuritySettings is the persisted security state for one tenant's channel
// token.
type SecuritySettings struct {
	TenantID              string     `json:"tenant_id"`
	Token                 string     `json:"token"` // 64 hex chars
	TokenExpiresAt        *time.Time `json:"token_expires_at,omitempty"`
	Revoked               bool       `json:"revoked"`
	RevokedReason         string     `json:"revoked_reason,omitempty"`
	RevokedAt             *time.Time `json:"revoked_at,omitempty"`
	AllowedIPs            []string   `json:"allowed_ips,omitempty"` // literals and CIDR ranges
	MaxConnections        int        `json:"max_connections"`
	RequireIPValidation   bool       `json:"require_ip_validation"`
	RequireRequestSigning bool       `json:"require_request_signing"`
	SigningSecret         string     `json:"-"`
	LastAuditAt           *time.Time `json:"last_audit_at,omitempty"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// FeedCredentials identifies one tenant's bank statement feed
type FeedCredentials struct {
	TenantID      string `json:"tenant_id"`
	AccountNumber string `json:"account_number"`
	AccessCode    string `json:"access_code"`
	AccessToken   string `json:"access_token"`
	Cookie        string `json:"cookie,omitempty"`
}
