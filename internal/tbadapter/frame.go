package tbadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	telemetry "github.com/Dipeshbist/Yeti-Server/internal/telemetry/domain"
)

var errNotObject = errors.New("tbadapter: frame data is not an object")

type subscriptionCmd struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Scope      string `json:"scope"`
	CmdID      int    `json:"cmdId"`
}

type subscribeCommand struct {
	TsSubCmds   []subscriptionCmd `json:"tsSubCmds"`
	HistoryCmds []json.RawMessage `json:"historyCmds"`
	AttrSubCmds []json.RawMessage `json:"attrSubCmds"`
}

func latestTelemetryCommand(deviceID string) subscribeCommand {
	return subscribeCommand{
		TsSubCmds: []subscriptionCmd{{
			EntityType: "DEVICE",
			EntityID:   deviceID,
			Scope:      "LATEST_TELEMETRY",
			CmdID:      1,
		}},
		HistoryCmds: []json.RawMessage{},
		AttrSubCmds: []json.RawMessage{},
	}
}

type frameEnvelope struct {
	SubscriptionID int             `json:"subscriptionId"`
	ErrorCode      int             `json:"errorCode"`
	ErrorMsg       string          `json:"errorMsg"`
	Data           json.RawMessage `json:"data"`
}

// FrameError is an error frame reported by the platform for a subscription.
type FrameError struct {
	Code    int
	Message string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("tbadapter: subscription error %d: %s", e.Code, e.Message)
}

// ParseFrame decodes a subscription update into samples, preserving the key
// order of the frame and the point order within each key. Frames without data
// yield no samples.
func ParseFrame(payload []byte) ([]telemetry.Sample, error) {
	var env frameEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("tbadapter: decode frame: %w", err)
	}
	if env.ErrorCode != 0 {
		return nil, &FrameError{Code: env.ErrorCode, Message: env.ErrorMsg}
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("tbadapter: decode frame data: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errNotObject
	}

	var samples []telemetry.Sample
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("tbadapter: decode frame key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errNotObject
		}
		var points [][]json.RawMessage
		if err := dec.Decode(&points); err != nil {
			return nil, fmt.Errorf("tbadapter: decode points for %q: %w", key, err)
		}
		for _, point := range points {
			if len(point) < 2 {
				return nil, fmt.Errorf("tbadapter: malformed point for %q", key)
			}
			ts, err := parseTimestamp(point[0])
			if err != nil {
				return nil, fmt.Errorf("tbadapter: timestamp for %q: %w", key, err)
			}
			value, err := telemetry.CastJSON(point[1])
			if err != nil {
				return nil, fmt.Errorf("tbadapter: value for %q: %w", key, err)
			}
			samples = append(samples, telemetry.Sample{Key: key, TS: ts, Value: value})
		}
	}
	return samples, nil
}
