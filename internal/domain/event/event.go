// Package event defines security and audit event records emitted by the
// authorization pipeline. Writes are fire-and-forget; a failed write never
// alters the outcome of the request that produced it.
package event

import "time"

// Severity classifies how urgent a security event is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Kind identifies what happened.
type Kind string

const (
	KindRateLimitExceeded Kind = "rate_limit_exceeded"
	KindIPBlocked         Kind = "ip_blocked"
	KindBlockedAccess     Kind = "blocked_access_attempt"
	KindAccessDenied      Kind = "access_denied"
	KindLogin             Kind = "login"
	KindLogout            Kind = "logout"
	KindTokenRefresh      Kind = "token_refresh"
)

// SecurityEvent is one audit-log record.
type SecurityEvent struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Severity  Severity  `json:"severity"`
	ClientIP  string    `json:"client_ip,omitempty"`
	Method    string    `json:"method,omitempty"`
	Path      string    `json:"path,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	CompanyID string    `json:"company_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
