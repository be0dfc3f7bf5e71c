package alarms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	telemetry "github.com/Dipeshbist/Yeti-Server/internal/telemetry/domain"
)

func TestRuleMatchesSubstringCaseInsensitive(t *testing.T) {
	rule := DefaultRule()
	assert.True(t, rule.Matches("temp"))
	assert.True(t, rule.Matches("s1/Temp_in"))
	assert.True(t, rule.Matches("TEMPERATURE"))
	assert.False(t, rule.Matches("humidity"))
	assert.False(t, Rule{}.Matches("temp"))
}

func TestRuleEvaluate(t *testing.T) {
	rule := DefaultRule()
	now := time.UnixMilli(1_500)

	cases := []struct {
		name   string
		sample telemetry.Sample
		breach bool
	}{
		{"above", telemetry.Sample{Key: "temp", TS: 1_000, Value: telemetry.NumberValue(85)}, true},
		{"equal", telemetry.Sample{Key: "temp", TS: 1_000, Value: telemetry.NumberValue(80)}, false},
		{"below", telemetry.Sample{Key: "temp", TS: 1_000, Value: telemetry.NumberValue(79)}, false},
		{"text", telemetry.Sample{Key: "temp", TS: 1_000, Value: telemetry.StringValue("hot")}, false},
		{"other key", telemetry.Sample{Key: "pressure", TS: 1_000, Value: telemetry.NumberValue(99)}, false},
		{"stale", telemetry.Sample{Key: "temp", TS: 1_000, Value: telemetry.NumberValue(99)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			at := now
			if tc.name == "stale" {
				at = now.Add(time.Minute)
			}
			_, breach := rule.Evaluate(tc.sample, at)
			assert.Equal(t, tc.breach, breach)
		})
	}
}

func TestRuleWithoutWindowIgnoresAge(t *testing.T) {
	rule := Rule{KeyMatch: "temp", Threshold: 80}
	measured, breach := rule.Evaluate(telemetry.Sample{Key: "temp", TS: 0, Value: telemetry.NumberValue(81)}, time.Now())
	assert.True(t, breach)
	assert.Equal(t, 81.0, measured)
}

func TestRuleValidate(t *testing.T) {
	assert.NoError(t, DefaultRule().Validate())
	assert.ErrorIs(t, Rule{}.Validate(), ErrInvalidRule)
	assert.ErrorIs(t, Rule{KeyMatch: "temp", FreshnessWindow: -time.Second}.Validate(), ErrInvalidRule)
}
