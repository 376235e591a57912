package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Defaults applied when a target is registered without explicit settings.
const (
	DefaultIntervalSeconds = 300
	DefaultTimeoutSeconds  = 10
	DefaultMaxRetries      = 3
)

// RetriesUnset asks the engine to fill MaxRetries from its configured default.
const RetriesUnset = -1

var ErrInvalidTarget = errors.New("invalid target")

type TargetID string

func NewTargetID() TargetID { return TargetID(uuid.NewString()) }

// Status is the last known availability of a target.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusUp      Status = "up"
	StatusDown    Status = "down"
)

type Target struct {
	ID          TargetID `json:"id"`
	OwnerID     string   `json:"owner_id"`
	URL         string   `json:"url"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`

	IntervalSeconds int  `json:"interval_seconds"`
	TimeoutSeconds  int  `json:"timeout_seconds"`
	MaxRetries      int  `json:"max_retries"`
	TrackContent    bool `json:"track_content"`

	Status             Status     `json:"status"`
	LastCheck          *time.Time `json:"last_check,omitempty"`
	LastResponseTimeMS *float64   `json:"last_response_time_ms,omitempty"`
	LastStatusCode     *int       `json:"last_status_code,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
	ContentHash        string     `json:"content_hash,omitempty"`
	FailureStreak      int        `json:"failure_streak"`

	TotalChecks      int64 `json:"total_checks"`
	SuccessfulChecks int64 `json:"successful_checks"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTarget returns an active target with default cadence and unknown status.
func NewTarget(owner, rawURL string) *Target {
	now := time.Now().UTC()
	return &Target{
		ID:              NewTargetID(),
		OwnerID:         owner,
		URL:             strings.TrimSpace(rawURL),
		IntervalSeconds: DefaultIntervalSeconds,
		TimeoutSeconds:  DefaultTimeoutSeconds,
		MaxRetries:      DefaultMaxRetries,
		Status:          StatusUnknown,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (t *Target) Validate() error {
	if strings.TrimSpace(t.OwnerID) == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidTarget)
	}
	if err := ValidateURL(t.URL); err != nil {
		return err
	}
	return validateCadence(t.IntervalSeconds, t.TimeoutSeconds, t.MaxRetries)
}

// DisplayName is the name if set, otherwise the URL.
func (t *Target) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.URL
}

func (t *Target) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

func (t *Target) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

func (t *Target) UptimePercentage() float64 {
	return UptimePercentage(t.TotalChecks, t.SuccessfulChecks)
}

// UptimePercentage is successful/total*100 clamped to [0,100]; 0 when nothing was checked.
func UptimePercentage(total, successful int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(successful) / float64(total) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func ValidateURL(raw string) error {
	u, err := url.ParseRequestURI(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: url: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https", ErrInvalidTarget)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url host is empty", ErrInvalidTarget)
	}
	return nil
}

func validateCadence(interval, timeout, retries int) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0", ErrInvalidTarget)
	}
	if timeout <= 0 {
		return fmt.Errorf("%w: timeout must be > 0", ErrInvalidTarget)
	}
	if retries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0", ErrInvalidTarget)
	}
	return nil
}

// TargetUpdate names the configuration fields an owner may change. Nil fields are left untouched.
type TargetUpdate struct {
	Name            *string `json:"name,omitempty"`
	Description     *string `json:"description,omitempty"`
	IntervalSeconds *int    `json:"interval_seconds,omitempty"`
	TimeoutSeconds  *int    `json:"timeout_seconds,omitempty"`
	MaxRetries      *int    `json:"max_retries,omitempty"`
	TrackContent    *bool   `json:"track_content,omitempty"`
	Active          *bool   `json:"active,omitempty"`
}

func (u TargetUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.IntervalSeconds == nil &&
		u.TimeoutSeconds == nil && u.MaxRetries == nil && u.TrackContent == nil && u.Active == nil
}

// Validate checks the set fields on their own.
func (u TargetUpdate) Validate() error {
	interval, timeout, retries := 1, 1, 0
	if u.IntervalSeconds != nil {
		interval = *u.IntervalSeconds
	}
	if u.TimeoutSeconds != nil {
		timeout = *u.TimeoutSeconds
	}
	if u.MaxRetries != nil {
		retries = *u.MaxRetries
	}
	return validateCadence(interval, timeout, retries)
}

// Apply copies the set fields onto t and validates the result.
func (u TargetUpdate) Apply(t *Target) error {
	if err := u.Validate(); err != nil {
		return err
	}
	next := *t
	if u.Name != nil {
		next.Name = *u.Name
	}
	if u.Description != nil {
		next.Description = *u.Description
	}
	if u.IntervalSeconds != nil {
		next.IntervalSeconds = *u.IntervalSeconds
	}
	if u.TimeoutSeconds != nil {
		next.TimeoutSeconds = *u.TimeoutSeconds
	}
	if u.MaxRetries != nil {
		next.MaxRetries = *u.MaxRetries
	}
	if u.TrackContent != nil {
		next.TrackContent = *u.TrackContent
	}
	if u.Active != nil {
		next.Active = *u.Active
	}
	if err := validateCadence(next.IntervalSeconds, next.TimeoutSeconds, next.MaxRetries); err != nil {
		return err
	}
	next.UpdatedAt = time.Now().UTC()
	*t = next
	return nil
}

// RuntimeUpdate is the write set produced by one processed probe.
// Counters are incremented by the store, never computed by the caller.
type RuntimeUpdate struct {
	Status         Status
	CheckedAt      time.Time
	ResponseTimeMS *float64
	StatusCode     *int
	Error          string
	ContentHash    *string // written only when non-nil
	FailureStreak  int
	Successful     bool
}

// Apply mutates t the same way the SQL stores do.
func (u RuntimeUpdate) Apply(t *Target) {
	checked := u.CheckedAt
	t.Status = u.Status
	t.LastCheck = &checked
	t.LastResponseTimeMS = u.ResponseTimeMS
	t.LastStatusCode = u.StatusCode
	t.LastError = u.Error
	if u.ContentHash != nil {
		t.ContentHash = *u.ContentHash
	}
	t.FailureStreak = u.FailureStreak
	t.TotalChecks++
	if u.Successful {
		t.SuccessfulChecks++
	}
	t.UpdatedAt = checked
}
