package controller

import (
	"fmt"
	"strings"
)

const devicePlaceholder = "{device}"

// RelayRouter resolves the egress topic carrying a device's relay commands.
type RelayRouter interface {
	Topic(deviceID string) string
}

type relayRouter struct {
	overrides map[string]string
	template  string
}

var _ RelayRouter = (*relayRouter)(nil)

// NewRelayRouter accepts a fixed mapping like
// "field1=cmd/irrigation/zone1,field2=cmd/irrigation/zone2" plus a template
// with a "{device}" placeholder for everything not in the map.
func NewRelayRouter(mapStr, template string) (RelayRouter, error) {
	r := &relayRouter{
		overrides: make(map[string]string),
		template:  template,
	}

	for _, p := range strings.Split(mapStr, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid RELAY_TOPIC_MAP entry: %q", p)
		}
		device, topic := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		if device == "" || topic == "" {
			return nil, fmt.Errorf("invalid RELAY_TOPIC_MAP entry: %q", p)
		}
		r.overrides[device] = topic
	}

	if r.template == "" {
		r.template = "cmd/irrigation/" + devicePlaceholder
	}
	if !strings.Contains(r.template, devicePlaceholder) {
		return nil, fmt.Errorf("RELAY_TOPIC_TEMPLATE %q lacks %s placeholder", r.template, devicePlaceholder)
	}
	return r, nil
}

func (r *relayRouter) Topic(deviceID string) string {
	if t, ok := r.overrides[deviceID]; ok {
		return t
	}
	return strings.NewReplacer(devicePlaceholder, deviceID).Replace(r.template)
}
