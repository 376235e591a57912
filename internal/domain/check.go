package domain

import "time"

// CheckKind classifies one probe outcome.
type CheckKind string

const (
	CheckUp      CheckKind = "up"
	CheckDown    CheckKind = "down"    // HTTP response outside [200,400)
	CheckTimeout CheckKind = "timeout" // deadline hit before a response
	CheckError   CheckKind = "error"   // transport or unexpected failure
	CheckUnknown CheckKind = "unknown"
)

// CheckResult is what the prober returns. It is data, never an error.
type CheckResult struct {
	Kind           CheckKind  `json:"kind"`
	StatusCode     *int       `json:"status_code,omitempty"`
	ResponseTimeMS *float64   `json:"response_time_ms,omitempty"`
	Error          string     `json:"error,omitempty"`
	ContentLength  *int64     `json:"content_length,omitempty"`
	ContentHash    *string    `json:"content_hash,omitempty"`
	SSLExpiry      *time.Time `json:"ssl_expiry,omitempty"`
	SSLIssuer      string     `json:"ssl_issuer,omitempty"`
	CheckedAt      time.Time  `json:"checked_at"`
}

// Status folds the kind into the target-level up/down/unknown.
func (r CheckResult) Status() Status {
	switch r.Kind {
	case CheckUp:
		return StatusUp
	case CheckDown, CheckTimeout, CheckError:
		return StatusDown
	default:
		return StatusUnknown
	}
}

func (r CheckResult) Code() int {
	if r.StatusCode == nil {
		return 0
	}
	return *r.StatusCode
}

// HealthCheck is a persisted CheckResult. Append-only.
type HealthCheck struct {
	ID             int64    `json:"id"`
	TargetID       TargetID `json:"target_id"`
	ContentChanged bool     `json:"content_changed"`
	CheckResult
}

func NewHealthCheck(id TargetID, r CheckResult) *HealthCheck {
	return &HealthCheck{TargetID: id, CheckResult: r}
}
