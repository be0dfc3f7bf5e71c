package alarms

import (
	"errors"
	"strings"
	"time"

	telemetry "github.com/Dipeshbist/Yeti-Server/internal/telemetry/domain"
)

const (
	// DefaultThreshold is the temperature above which an alert fires.
	DefaultThreshold = 80.0
	// DefaultKeyMatch selects telemetry keys by case-insensitive substring.
	DefaultKeyMatch = "temp"
	// DefaultFreshnessWindow drops replayed samples older than this.
	DefaultFreshnessWindow = 30 * time.Second
)

// ErrInvalidRule is returned for an unusable rule.
var ErrInvalidRule = errors.New("alarm rule: invalid")

// Rule is a fixed "key contains X and value > threshold" check.
// A zero FreshnessWindow disables the age check.
type Rule struct {
	KeyMatch        string
	Threshold       float64
	FreshnessWindow time.Duration
}

// DefaultRule returns the temperature rule.
func DefaultRule() Rule {
	return Rule{KeyMatch: DefaultKeyMatch, Threshold: DefaultThreshold, FreshnessWindow: DefaultFreshnessWindow}
}

// Validate checks the rule configuration.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.KeyMatch) == "" {
		return errors.Join(ErrInvalidRule, errors.New("empty key match"))
	}
	if r.FreshnessWindow < 0 {
		return errors.Join(ErrInvalidRule, errors.New("negative freshness window"))
	}
	return nil
}

// Matches reports whether key is watched by the rule.
func (r Rule) Matches(key string) bool {
	needle := strings.ToLower(strings.TrimSpace(r.KeyMatch))
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(key), needle)
}

// Fresh reports whether sample is recent enough to alert on.
func (r Rule) Fresh(sample telemetry.Sample, now time.Time) bool {
	if r.FreshnessWindow <= 0 {
		return true
	}
	return sample.Age(now) <= r.FreshnessWindow
}

// Evaluate returns the measured value and whether sample breaches the rule.
// Non-numeric values never breach.
func (r Rule) Evaluate(sample telemetry.Sample, now time.Time) (float64, bool) {
	if !r.Matches(sample.Key) {
		return 0, false
	}
	measured, ok := sample.Value.Float64()
	if !ok || measured <= r.Threshold {
		return measured, false
	}
	if !r.Fresh(sample, now) {
		return measured, false
	}
	return measured, true
}

// Alert is one detected breach on one device.
type Alert struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"deviceId"`
	DeviceName string    `json:"deviceName"`
	CustomerID string    `json:"customerId"`
	Key        string    `json:"key"`
	Measured   float64   `json:"measured"`
	Threshold  float64   `json:"threshold"`
	TS         int64     `json:"ts"`
	When       time.Time `json:"when"`
}
