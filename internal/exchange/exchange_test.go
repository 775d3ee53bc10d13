package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/common"
	"kestrel/internal/config"
	"kestrel/internal/engine"
)

// --- Setup & Helpers ---

type memorySink struct {
	name string
	err  error

	mu     sync.Mutex
	events []common.Event
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Publish(_ context.Context, events []common.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return s.err
}

func (s *memorySink) sequences() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seqs := make([]uint64, len(s.events))
	for i, e := range s.events {
		seqs[i] = e.Sequence
	}
	return seqs
}

func listTestExchange(t *testing.T, opts ...engine.Option) *Exchange {
	t.Helper()
	ex := New()
	for _, inst := range []config.Instrument{
		{Symbol: "AAPL", TickSize: "0.01"},
		{Symbol: "MSFT", TickSize: "0.05"},
	} {
		_, err := ex.List(inst, opts...)
		require.NoError(t, err)
	}
	return ex
}

func limit(side common.Side, price common.Price, qty uint64) common.Order {
	return common.Order{Side: side, OrderType: common.LimitOrder, TimeInForce: common.GTC, LimitPrice: price, Quantity: qty}
}

// --- Exchange ---

func TestExchange_Lookup(t *testing.T) {
	ex := listTestExchange(t)

	assert.Equal(t, []string{"AAPL", "MSFT"}, ex.Symbols())

	eng, err := ex.Engine("MSFT")
	require.NoError(t, err)
	assert.Equal(t, "MSFT", eng.Instrument())

	inst, err := ex.Instrument("MSFT")
	require.NoError(t, err)
	assert.Equal(t, "0.05", inst.TickSize)

	_, err = ex.Engine("TSLA")
	assert.ErrorIs(t, err, ErrUnknownInstrument)

	_, err = ex.List(config.Instrument{Symbol: "AAPL", TickSize: "0.01"})
	assert.ErrorIs(t, err, ErrDuplicateInstrument)

	_, err = ex.List(config.Instrument{Symbol: "BAD", TickSize: "zero"})
	assert.Error(t, err)
}

func TestExchange_InstrumentsAreIndependent(t *testing.T) {
	ex := listTestExchange(t)
	aapl, _ := ex.Engine("AAPL")
	msft, _ := ex.Engine("MSFT")

	_, err := aapl.Submit(limit(common.Sell, 100, 5))
	require.NoError(t, err)

	// The same price on another instrument does not see AAPL's ask.
	result, err := msft.Submit(limit(common.Buy, 100, 5))
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Equal(t, 1, aapl.Resting())
	assert.Equal(t, 1, msft.Resting())
	assert.Equal(t, uint64(2), aapl.LastSequence())
	assert.Equal(t, uint64(2), msft.LastSequence())
	assert.Empty(t, ex.Halted())
}

// --- Dispatcher ---

func TestDispatcher_FansOutInOrder(t *testing.T) {
	first := &memorySink{name: "first"}
	second := &memorySink{name: "second", err: errors.New("unavailable")}
	dispatcher := NewDispatcher(2, first, second)
	dispatcher.Start()

	eng := engine.New("AAPL", engine.WithReporter(dispatcher))
	for i := 0; i < 10; i++ {
		_, err := eng.Submit(limit(common.Sell, common.Price(100+i), 1))
		require.NoError(t, err)
	}
	_, err := eng.Submit(limit(common.Buy, 200, 10))
	require.NoError(t, err)

	require.NoError(t, dispatcher.Close())

	want := make([]uint64, eng.LastSequence())
	for i := range want {
		want[i] = uint64(i + 1)
	}
	// A failing sink still receives every batch and does not hold up others.
	assert.Equal(t, want, first.sequences())
	assert.Equal(t, want, second.sequences())
}

func TestDispatcher_DropsAfterClose(t *testing.T) {
	sink := &memorySink{name: "sink"}
	dispatcher := NewDispatcher(4, sink)
	dispatcher.Start()
	require.NoError(t, dispatcher.Close())
	require.NoError(t, dispatcher.Close())

	dispatcher.Report([]common.Event{{Sequence: 1}})
	assert.Empty(t, sink.sequences())
}

func TestDispatcher_CloseWithoutStart(t *testing.T) {
	assert.NoError(t, NewDispatcher(1).Close())
}
