package messages

import (
	"encoding/json"
	"strings"
	"time"
)

// Action is a relay transition decided by the controller.
type Action string

const (
	ActionOn        Action = "ON"
	ActionOff       Action = "OFF"
	ActionRecommend Action = "RECOMMEND"
	ActionForceOn   Action = "FORCE_ON"
	ActionForceOff  Action = "FORCE_OFF"
)

// Relay payload encodings. Every actuation is attempted on all of them so
// heterogeneous firmwares can pick whatever they understand.
const (
	EncodingPlain   = "plain"   // "ON" / "OFF"
	EncodingNumeric = "numeric" // "1" / "0"
	EncodingJSON    = "json"    // RelayCommand envelope
)

// RelayCommand is the JSON envelope encoding of a relay actuation.
type RelayCommand struct {
	DeviceID  string    `json:"device_id"`
	Action    Action    `json:"action"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"ts"`
}

// EncodeRelayPayload renders action in the given encoding.
func EncodeRelayPayload(encoding, deviceID string, action Action, now time.Time) ([]byte, error) {
	on := action == ActionOn || action == ActionForceOn
	switch encoding {
	case EncodingPlain:
		if on {
			return []byte("ON"), nil
		}
		return []byte("OFF"), nil
	case EncodingNumeric:
		if on {
			return []byte("1"), nil
		}
		return []byte("0"), nil
	default:
		cmd := RelayCommand{DeviceID: deviceID, Action: normalizeAction(on), Source: "controller", Timestamp: now.UTC()}
		return json.Marshal(cmd)
	}
}

// ParseRelayPayload decodes any of the three relay encodings, reporting the
// requested relay state. Used by receivers (e.g. the simulator) that must
// accept whichever encoding arrives first.
func ParseRelayPayload(payload []byte) (on bool, ok bool) {
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case "ON", "1", "TRUE":
		return true, true
	case "OFF", "0", "FALSE":
		return false, true
	}
	var cmd RelayCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return false, false
	}
	switch cmd.Action {
	case ActionOn, ActionForceOn:
		return true, true
	case ActionOff, ActionForceOff:
		return false, true
	}
	return false, false
}

func normalizeAction(on bool) Action {
	if on {
		return ActionOn
	}
	return ActionOff
}

// PublishReport aggregates per-encoding delivery results for one actuation.
// The action is committed when at least one encoding went through.
type PublishReport struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}

func (r PublishReport) Committed() bool { return len(r.Succeeded) > 0 }
