package common

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSide_Text(t *testing.T) {
	cases := []struct {
		side Side
		text string
	}{
		{Buy, "BUY"},
		{Sell, "SELL"},
		{Side(7), "7"},
	}
	for _, c := range cases {
		text, err := c.side.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, c.text, string(text))

		var back Side
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, c.side, back)
	}
}

func TestSide_UnmarshalTextIgnoresCase(t *testing.T) {
	var s Side
	require.NoError(t, s.UnmarshalText([]byte("sell")))
	assert.Equal(t, Sell, s)

	assert.Error(t, s.UnmarshalText([]byte("short")))
}

func TestEvent_SideIsNamedInJSON(t *testing.T) {
	raw, err := json.Marshal(Event{Kind: OrderAccepted, Side: Sell})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"side":"SELL"`)

	var back Event
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, Sell, back.Side)
}
