package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/common"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublisher_KeysByInstrument(t *testing.T) {
	writer := &fakeWriter{}
	pub := NewPublisherWithWriter(writer, "kestrel.events")

	trade := &common.Trade{ID: 1, Instrument: "AAPL", MakerOrderID: "m", TakerOrderID: "t", Price: 100, Quantity: 2}
	err := pub.Publish(context.Background(), []common.Event{
		{Sequence: 7, Kind: common.OrderAccepted, Instrument: "AAPL", OrderID: "t"},
		{Sequence: 8, Kind: common.TradeExecuted, Instrument: "AAPL", OrderID: "t", Trade: trade},
	})
	require.NoError(t, err)
	require.Len(t, writer.msgs, 2)

	for _, msg := range writer.msgs {
		assert.Equal(t, "AAPL", string(msg.Key))
	}
	assert.Equal(t, "trade", string(writer.msgs[1].Headers[0].Value))

	var decoded common.Event
	require.NoError(t, json.Unmarshal(writer.msgs[1].Value, &decoded))
	assert.Equal(t, uint64(8), decoded.Sequence)
	assert.Equal(t, common.TradeExecuted, decoded.Kind)
	require.NotNil(t, decoded.Trade)
	assert.Equal(t, "m", decoded.Trade.MakerOrderID)

	require.NoError(t, pub.Close())
	assert.True(t, writer.closed)
}

func TestPublisher_WriterFailure(t *testing.T) {
	down := errors.New("broker down")
	pub := NewPublisherWithWriter(&fakeWriter{err: down}, "kestrel.events")

	err := pub.Publish(context.Background(), []common.Event{{Sequence: 1, Kind: common.OrderAccepted, Instrument: "AAPL"}})
	assert.ErrorIs(t, err, down)
}
