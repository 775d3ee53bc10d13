package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/common"
	"kestrel/internal/engine"
)

type sinkReporter struct{ sink *Sink }

func (r sinkReporter) Report(events []common.Event) {
	_ = r.sink.Publish(context.Background(), events)
}

func TestSink_CountsEngineStream(t *testing.T) {
	var eng *engine.Engine
	sink := NewSink(func(instrument string) (int, bool) {
		if instrument != "AAPL" {
			return 0, false
		}
		return eng.Resting(), true
	})
	eng = engine.New("AAPL", engine.WithReporter(sinkReporter{sink}))

	_, err := eng.Submit(common.Order{Side: common.Sell, OrderType: common.LimitOrder, LimitPrice: 100, Quantity: 5})
	require.NoError(t, err)
	_, err = eng.Submit(common.Order{Side: common.Sell, OrderType: common.LimitOrder, LimitPrice: 101, Quantity: 5})
	require.NoError(t, err)
	assert.Equal(t, float64(2), testutil.ToFloat64(sink.restingOrder.WithLabelValues("AAPL")))

	_, err = eng.Submit(common.Order{Side: common.Buy, OrderType: common.MarketOrder, Quantity: 7})
	require.NoError(t, err)

	assert.Equal(t, float64(3), testutil.ToFloat64(sink.events.WithLabelValues("AAPL", "order_accepted")))
	assert.Equal(t, float64(2), testutil.ToFloat64(sink.trades.WithLabelValues("AAPL")))
	assert.Equal(t, float64(7), testutil.ToFloat64(sink.tradedVolume.WithLabelValues("AAPL")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.restingOrder.WithLabelValues("AAPL")))
	assert.Equal(t, float64(eng.LastSequence()), testutil.ToFloat64(sink.lastSequence.WithLabelValues("AAPL")))
}

func TestSink_Handler(t *testing.T) {
	sink := NewSink(nil)
	require.NoError(t, sink.Publish(context.Background(), []common.Event{
		{Sequence: 1, Kind: common.OrderRejected, Instrument: "MSFT"},
	}))

	rec := httptest.NewRecorder()
	sink.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `kestrel_engine_events_total{instrument="MSFT",kind="order_rejected"} 1`)
}
