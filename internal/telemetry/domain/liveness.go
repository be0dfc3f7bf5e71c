package telemetry

import "time"

const (
	// OnlineWindow is the maximum age of lastActivityTime for a reachable device.
	OnlineWindow = 10 * time.Second
	// LiveSampleWindow is the maximum age for a sample to be flagged live.
	LiveSampleWindow = 10 * time.Second
	// DefaultFreshnessWindow bounds which samples live polling returns.
	DefaultFreshnessWindow = 30 * time.Second

	// LastActivityAttribute is the server-scope attribute maintained by the platform.
	LastActivityAttribute = "lastActivityTime"
)

// LiveValue is a fresh sample annotated with its live flag.
type LiveValue struct {
	Value     Value `json:"value"`
	Timestamp int64 `json:"timestamp"`
	IsLive    bool  `json:"isLive"`
}

// LastActivity returns the lastActivityTime attribute as a timestamp in ms.
func LastActivity(attrs []Attribute) (int64, bool) {
	for _, attr := range attrs {
		if attr.Key != LastActivityAttribute {
			continue
		}
		ms, ok := attr.Value.Float64()
		if !ok {
			ms, ok = Cast(attr.Value.Text).Float64()
		}
		if !ok || ms <= 0 {
			return 0, false
		}
		return int64(ms), true
	}
	return 0, false
}

// IsOnline reports whether the device was active within OnlineWindow.
// The boundary is inclusive.
func IsOnline(attrs []Attribute, now time.Time) bool {
	last, ok := LastActivity(attrs)
	if !ok {
		return false
	}
	return now.UnixMilli()-last <= OnlineWindow.Milliseconds()
}

// IsLiveSample reports whether the sample is at most LiveSampleWindow old.
func IsLiveSample(sample Sample, now time.Time) bool {
	return now.UnixMilli()-sample.TS <= LiveSampleWindow.Milliseconds()
}

// IsFresh reports whether the sample is within window. A non-positive window accepts everything.
func IsFresh(sample Sample, window time.Duration, now time.Time) bool {
	if window <= 0 {
		return true
	}
	return now.UnixMilli()-sample.TS <= window.Milliseconds()
}

// FilterLive keeps the newest sample per key when it is within window.
func FilterLive(series Series, window time.Duration, now time.Time) map[string]LiveValue {
	out := make(map[string]LiveValue, len(series))
	for key, samples := range series {
		if len(samples) == 0 {
			continue
		}
		latest := samples[0]
		for _, s := range samples[1:] {
			if s.TS > latest.TS {
				latest = s
			}
		}
		if !IsFresh(latest, window, now) {
			continue
		}
		out[key] = LiveValue{
			Value:     latest.Value,
			Timestamp: latest.TS,
			IsLive:    IsLiveSample(latest, now),
		}
	}
	return out
}

// AnyLive reports whether at least one value is flagged live.
func AnyLive(values map[string]LiveValue) bool {
	for _, v := range values {
		if v.IsLive {
			return true
		}
	}
	return false
}
