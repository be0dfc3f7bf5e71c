package telemetry

import (
	"errors"
	"time"
)

// Sample is a single telemetry data point.
type Sample struct {
	Key   string `json:"key"`
	TS    int64  `json:"ts"`
	Value Value  `json:"value"`
}

// Time returns the sample timestamp.
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.TS).UTC()
}

// Age returns how old the sample is relative to now.
func (s Sample) Age(now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-s.TS) * time.Millisecond
}

// Series maps telemetry keys to ordered samples.
type Series map[string][]Sample

// Points counts samples across all keys.
func (s Series) Points() int {
	total := 0
	for _, samples := range s {
		total += len(samples)
	}
	return total
}

// Attribute is a device attribute entry.
type Attribute struct {
	Key          string `json:"key"`
	LastUpdateTS int64  `json:"lastUpdateTs"`
	Value        Value  `json:"value"`
}

// Scope partitions a device's attribute store.
type Scope string

const (
	ScopeClient Scope = "CLIENT_SCOPE"
	ScopeServer Scope = "SERVER_SCOPE"
	ScopeShared Scope = "SHARED_SCOPE"
)

// ErrInvalidScope is returned for unknown attribute scopes.
var ErrInvalidScope = errors.New("telemetry: invalid attribute scope")

// ParseScope accepts both "SERVER" and "SERVER_SCOPE" spellings.
func ParseScope(value string) (Scope, error) {
	switch value {
	case "CLIENT", string(ScopeClient):
		return ScopeClient, nil
	case "SERVER", string(ScopeServer):
		return ScopeServer, nil
	case "SHARED", string(ScopeShared):
		return ScopeShared, nil
	default:
		return "", ErrInvalidScope
	}
}
