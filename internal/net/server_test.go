package net

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/common"
	"kestrel/internal/config"
	"kestrel/internal/engine"
	"kestrel/internal/exchange"
)

// --- Setup & Helpers ---

func startTestServer(t *testing.T) *Server {
	t.Helper()

	ex := exchange.New()
	srv := New("127.0.0.1", 0, ex, WithWorkers(4), WithReadTimeout(5*time.Second))
	dispatcher := exchange.NewDispatcher(64, srv)
	dispatcher.Start()

	_, err := ex.List(config.Instrument{Symbol: "AAPL", TickSize: "0.01"}, engine.WithReporter(dispatcher))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	srv.Addr()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		assert.NoError(t, dispatcher.Close())
	})
	return srv
}

type testClient struct {
	t    *testing.T
	conn net.Conn
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(typeOf MessageType, body []byte, err error) {
	c.t.Helper()
	require.NoError(c.t, err)
	require.NoError(c.t, WriteFrame(c.conn, uint16(typeOf), body))
}

func (c *testClient) place(side common.Side, price common.Price, qty uint64, id string) {
	c.t.Helper()
	msg := NewOrderMessage{
		OrderType:   common.LimitOrder,
		Side:        side,
		TimeInForce: common.GTC,
		LimitPrice:  price,
		Quantity:    qty,
		Instrument:  "AAPL",
		Username:    "tester",
		ClientID:    id,
	}
	body, err := msg.Serialize()
	c.send(NewOrder, body, err)
}

func (c *testClient) next() Report {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	typeOf, body, err := ReadFrame(c.conn)
	require.NoError(c.t, err)
	report, err := ParseReport(typeOf, body)
	require.NoError(c.t, err)
	return report
}

// --- Tests ---

func TestServer_RoutesReportsToOwners(t *testing.T) {
	srv := startTestServer(t)
	alice := dial(t, srv)
	bob := dial(t, srv)

	alice.place(common.Sell, 100, 5, "a1")
	r := alice.next()
	assert.Equal(t, common.OrderAccepted, r.Kind)
	assert.Equal(t, "a1", r.OrderID)

	bob.place(common.Buy, 101, 3, "b1")
	assert.Equal(t, common.OrderAccepted, bob.next().Kind)

	exec := bob.next()
	assert.Equal(t, ExecutionReport, exec.MessageType)
	assert.Equal(t, common.Price(100), exec.Price)
	assert.Equal(t, uint64(3), exec.Quantity)
	assert.Equal(t, "a1", exec.Text)
	assert.Equal(t, common.OrderFilled, bob.next().Kind)

	exec = alice.next()
	assert.Equal(t, ExecutionReport, exec.MessageType)
	assert.Equal(t, common.Sell, exec.Side)
	assert.Equal(t, "b1", exec.Text)
	r = alice.next()
	assert.Equal(t, common.OrderPartiallyFilled, r.Kind)
	assert.Equal(t, uint64(2), r.Remaining)

	// Another session cannot touch alice's order.
	body, err := CancelOrderMessage{Instrument: "AAPL", OrderID: "a1"}.Serialize()
	bob.send(CancelOrder, body, err)
	r = bob.next()
	assert.Equal(t, ErrorReport, r.MessageType)
	assert.Contains(t, r.Text, "unknown order")

	body, err = ModifyOrderMessage{Instrument: "AAPL", OrderID: "a1", Quantity: 1, LimitPrice: 100}.Serialize()
	alice.send(ModifyOrder, body, err)
	r = alice.next()
	assert.Equal(t, common.OrderModified, r.Kind)
	assert.Equal(t, uint64(1), r.Remaining)

	body, err = CancelOrderMessage{Instrument: "AAPL", OrderID: "a1"}.Serialize()
	alice.send(CancelOrder, body, err)
	r = alice.next()
	assert.Equal(t, common.OrderCancelled, r.Kind)
	assert.Equal(t, "cancelled", r.Text)
}

func TestServer_ErrorReports(t *testing.T) {
	srv := startTestServer(t)
	client := dial(t, srv)

	msg := NewOrderMessage{OrderType: common.LimitOrder, Side: common.Buy, LimitPrice: 1, Quantity: 1, Instrument: "TSLA"}
	body, err := msg.Serialize()
	client.send(NewOrder, body, err)
	r := client.next()
	assert.Equal(t, ErrorReport, r.MessageType)
	assert.Contains(t, r.Text, "unknown instrument")

	// Invalid orders are rejected by the engine and reported as such.
	client.place(common.Buy, 0, 1, "bad")
	r = client.next()
	assert.Equal(t, OrderReport, r.MessageType)
	assert.Equal(t, common.OrderRejected, r.Kind)

	client.send(MessageType(77), nil, nil)
	assert.Equal(t, ErrorReport, client.next().MessageType)

	// Heartbeats are echoed.
	client.send(Heartbeat, nil, nil)
	require.NoError(t, client.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	typeOf, body, err := ReadFrame(client.conn)
	require.NoError(t, err)
	assert.Equal(t, uint16(Heartbeat), typeOf)
	assert.Empty(t, body)
}

func TestServer_DuplicateClientID(t *testing.T) {
	srv := startTestServer(t)
	client := dial(t, srv)

	client.place(common.Buy, 100, 1, "dup")
	assert.Equal(t, common.OrderAccepted, client.next().Kind)

	client.place(common.Buy, 100, 1, "dup")
	r := client.next()
	assert.Equal(t, ErrorReport, r.MessageType)
	assert.Contains(t, r.Text, ErrDuplicateOrderID.Error())
}
