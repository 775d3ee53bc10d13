package sim

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/common"
	"kestrel/internal/config"
	"kestrel/internal/engine"
)

var testInstrument = config.Instrument{Symbol: "AAPL", TickSize: "0.01"}

func testOptions() Options {
	return Options{
		InitialPrice: decimal.RequireFromString("100"),
		Volatility:   0.001,
		Drift:        decimal.Zero,
		MaxQty:       50,
		Mix:          DefaultMix,
	}
}

func TestGenerator_Deterministic(t *testing.T) {
	a, err := NewGenerator(testInstrument, testOptions(), 7)
	require.NoError(t, err)
	b, err := NewGenerator(testInstrument, testOptions(), 7)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		x, y := a.Next(), b.Next()
		assert.Equal(t, x.Action, y.Action)
		assert.True(t, x.Price.Equal(y.Price))
		assert.Equal(t, x.Qty, y.Qty)
	}
}

func TestGenerator_StaysOnTickGrid(t *testing.T) {
	gen, err := NewGenerator(testInstrument, testOptions(), 1)
	require.NoError(t, err)

	seen := map[Action]int{}
	for i := 0; i < 2000; i++ {
		intent := gen.Next()
		seen[intent.Action]++
		assert.NotZero(t, intent.Qty)
		assert.NotEmpty(t, intent.ID)
		if intent.Action == Limit || intent.Action == Modify {
			_, err := testInstrument.ToTicks(intent.Price)
			require.NoError(t, err, "price %s off grid", intent.Price)
			assert.True(t, intent.Price.IsPositive())
		}
	}
	// Roughly the configured mix.
	assert.Greater(t, seen[Limit], seen[Market])
	assert.Greater(t, seen[Market], 0)
	assert.Greater(t, seen[Cancel], 0)
	assert.Greater(t, seen[Modify], 0)
}

func TestIntent_JSONNamesSide(t *testing.T) {
	raw, err := json.Marshal(Intent{ID: "x", Symbol: "AAPL", Action: Limit, Side: common.Buy, Price: decimal.RequireFromString("100.01"), Qty: 3})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"LIMIT"`)
	assert.Contains(t, string(raw), `"action":"BUY"`)

	raw, err = json.Marshal(Intent{Action: Market, Side: common.Sell})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"action":"SELL"`)
}

func TestApply_DrivesEngine(t *testing.T) {
	gen, err := NewGenerator(testInstrument, testOptions(), 3)
	require.NoError(t, err)
	eng := engine.New(testInstrument.Symbol)

	var stats Stats
	for i := 0; i < 1000; i++ {
		require.NoError(t, Apply(eng, testInstrument, gen.Next(), &stats))
	}

	assert.Equal(t, 1000, stats.Intents)
	assert.Greater(t, stats.Trades, 0)
	assert.NoError(t, eng.Halted())
	assert.Equal(t, eng.LastSequence(), stats.LastSeq)

	depth := eng.Depth(1)
	if len(depth.Bids) > 0 && len(depth.Asks) > 0 {
		assert.Less(t, depth.Bids[0].Price, depth.Asks[0].Price)
	}
}

func TestNewGenerator_Invalid(t *testing.T) {
	_, err := NewGenerator(config.Instrument{Symbol: "X", TickSize: "0"}, testOptions(), 1)
	assert.Error(t, err)

	opts := testOptions()
	opts.InitialPrice = decimal.Zero
	_, err = NewGenerator(testInstrument, opts, 1)
	assert.Error(t, err)
}
