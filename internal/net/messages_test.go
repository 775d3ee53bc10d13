package net

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kestrel/internal/common"
)

func frame(t *testing.T, typeOf MessageType, body []byte) (uint16, []byte) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, uint16(typeOf), body))
	gotType, gotBody, err := ReadFrame(&buf)
	require.NoError(t, err)
	return gotType, gotBody
}

func TestMessages_NewOrderOverTheWire(t *testing.T) {
	sent := NewOrderMessage{
		BaseMessage: BaseMessage{TypeOf: NewOrder},
		OrderType:   common.LimitOrder,
		Side:        common.Sell,
		TimeInForce: common.IOC,
		LimitPrice:  10025,
		Quantity:    40,
		Instrument:  "BTCUSD",
		Username:    "alice",
		ClientID:    "a-1",
	}
	body, err := sent.Serialize()
	require.NoError(t, err)

	msg, err := parseMessage(frame(t, NewOrder, body))
	require.NoError(t, err)

	got, ok := msg.(NewOrderMessage)
	require.True(t, ok)
	assert.Equal(t, "BTCUSD", got.Instrument)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "a-1", got.ClientID)
	assert.Equal(t, common.Price(10025), got.LimitPrice)
	assert.Equal(t, common.IOC, got.TimeInForce)

	order := got.Order("a-1")
	assert.Equal(t, common.Order{
		ID:          "a-1",
		Instrument:  "BTCUSD",
		Side:        common.Sell,
		OrderType:   common.LimitOrder,
		TimeInForce: common.IOC,
		LimitPrice:  10025,
		Quantity:    40,
		Owner:       "alice",
	}, order)
}

func TestMessages_CancelAndModify(t *testing.T) {
	body, err := CancelOrderMessage{Instrument: "AAPL", OrderID: "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d"}.Serialize()
	require.NoError(t, err)
	msg, err := parseMessage(frame(t, CancelOrder, body))
	require.NoError(t, err)
	cancel := msg.(CancelOrderMessage)
	assert.Equal(t, "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d", cancel.OrderID)
	assert.Equal(t, CancelOrder, cancel.GetType())

	body, err = ModifyOrderMessage{Instrument: "AAPL", OrderID: "x", Quantity: 7, LimitPrice: 99}.Serialize()
	require.NoError(t, err)
	msg, err = parseMessage(frame(t, ModifyOrder, body))
	require.NoError(t, err)
	modify := msg.(ModifyOrderMessage)
	assert.Equal(t, uint64(7), modify.Quantity)
	assert.Equal(t, common.Price(99), modify.LimitPrice)
	assert.Equal(t, "x", modify.OrderID)
}

func TestMessages_Malformed(t *testing.T) {
	_, err := parseMessage(uint16(NewOrder), make([]byte, NewOrderMessageHeaderLen-1))
	assert.ErrorIs(t, err, ErrMessageTooShort)

	// Declared strings longer than the body.
	body := make([]byte, CancelOrderMessageHeaderLen)
	body[0], body[1] = 4, 10
	_, err = parseMessage(uint16(CancelOrder), append(body, "AAPL"...))
	assert.ErrorIs(t, err, ErrMessageTooShort)

	_, err = parseMessage(42, nil)
	assert.ErrorIs(t, err, ErrInvalidMessageType)

	var buf bytes.Buffer
	header := make([]byte, FrameLengthLen)
	binary.BigEndian.PutUint32(header, MAX_FRAME_SIZE+1)
	buf.Write(header)
	_, _, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReport_ExecutionForEachSide(t *testing.T) {
	ts := time.Unix(1700000000, 42)
	event := common.Event{
		Sequence:   9,
		Kind:       common.TradeExecuted,
		Instrument: "AAPL",
		OrderID:    "taker",
		Side:       common.Buy,
		Price:      100,
		Quantity:   3,
		Timestamp:  ts,
		Trade: &common.Trade{
			MakerOrderID: "maker",
			TakerOrderID: "taker",
			TakerSide:    common.Buy,
			Price:        100,
			Quantity:     3,
		},
	}

	taker := eventReport(event, "taker")
	assert.Equal(t, ExecutionReport, taker.MessageType)
	assert.Equal(t, common.Buy, taker.Side)
	assert.Equal(t, "maker", taker.Text)

	maker := eventReport(event, "maker")
	assert.Equal(t, common.Sell, maker.Side)
	assert.Equal(t, "taker", maker.Text)

	body, err := maker.Serialize()
	require.NoError(t, err)
	decoded, err := ParseReport(uint16(ExecutionReport), body)
	require.NoError(t, err)
	assert.Equal(t, maker, decoded)
	assert.Equal(t, uint64(ts.UnixNano()), decoded.Timestamp)
}
