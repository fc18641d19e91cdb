package messages_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agroflow/irrigation-controller/internal/model/messages"
)

func TestEncodeRelayPayload(t *testing.T) {
	now := time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)

	b, err := messages.EncodeRelayPayload(messages.EncodingPlain, "field1", messages.ActionOn, now)
	require.NoError(t, err)
	assert.Equal(t, "ON", string(b))

	b, err = messages.EncodeRelayPayload(messages.EncodingNumeric, "field1", messages.ActionOff, now)
	require.NoError(t, err)
	assert.Equal(t, "0", string(b))

	b, err = messages.EncodeRelayPayload(messages.EncodingJSON, "field1", messages.ActionOn, now)
	require.NoError(t, err)
	var cmd messages.RelayCommand
	require.NoError(t, json.Unmarshal(b, &cmd))
	assert.Equal(t, "field1", cmd.DeviceID)
	assert.Equal(t, messages.ActionOn, cmd.Action)
	assert.Equal(t, "controller", cmd.Source)
	assert.Equal(t, now, cmd.Timestamp)
}

func TestEncodeRelayPayloadNormalizesForcedActions(t *testing.T) {
	now := time.Now()

	b, err := messages.EncodeRelayPayload(messages.EncodingPlain, "d", messages.ActionForceOn, now)
	require.NoError(t, err)
	assert.Equal(t, "ON", string(b), "devices never see FORCE_* variants")

	b, err = messages.EncodeRelayPayload(messages.EncodingJSON, "d", messages.ActionForceOff, now)
	require.NoError(t, err)
	var cmd messages.RelayCommand
	require.NoError(t, json.Unmarshal(b, &cmd))
	assert.Equal(t, messages.ActionOff, cmd.Action)
}

func TestParseRelayPayload(t *testing.T) {
	cases := []struct {
		payload string
		on      bool
		ok      bool
	}{
		{"ON", true, true},
		{" on ", true, true},
		{"1", true, true},
		{"TRUE", true, true},
		{"OFF", false, true},
		{"0", false, true},
		{`{"device_id":"d","action":"ON"}`, true, true},
		{`{"device_id":"d","action":"FORCE_OFF"}`, false, true},
		{`{"device_id":"d","action":"RECOMMEND"}`, false, false},
		{"maybe", false, false},
		{"", false, false},
	}
	for _, tc := range cases {
		on, ok := messages.ParseRelayPayload([]byte(tc.payload))
		assert.Equal(t, tc.ok, ok, "payload %q", tc.payload)
		assert.Equal(t, tc.on, on, "payload %q", tc.payload)
	}
}

func TestPublishReportCommitted(t *testing.T) {
	assert.False(t, messages.PublishReport{}.Committed())
	assert.False(t, messages.PublishReport{Failed: map[string]string{"plain": "x"}}.Committed())
	assert.True(t, messages.PublishReport{Succeeded: []string{"json"}}.Committed())
}
