package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"kestrel/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrFrameTooLarge      = errors.New("frame exceeds maximum size")
	ErrFieldTooLong       = errors.New("field too long")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	NewOrder
	CancelOrder
	ModifyOrder
)

type ReportType uint16

const (
	OrderReport ReportType = iota + 0x100
	ExecutionReport
	ErrorReport
)

type Message interface {
	GetType() MessageType
}

// Every frame is [length:4][type:2][body], big endian, where length
// counts the type and body bytes.
const (
	FrameLengthLen              = 4
	BaseMessageHeaderLen        = 2
	NewOrderMessageHeaderLen    = 1 + 1 + 1 + 8 + 8 + 1 + 1 + 1
	CancelOrderMessageHeaderLen = 1 + 1
	ModifyOrderMessageHeaderLen = 8 + 8 + 1 + 1
	MAX_FRAME_SIZE              = 4 * 1024
)

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

// ReadFrame reads one length-prefixed frame and returns its type and body.
func ReadFrame(r io.Reader) (uint16, []byte, error) {
	var header [FrameLengthLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n < BaseMessageHeaderLen {
		return 0, nil, ErrMessageTooShort
	}
	if n > MAX_FRAME_SIZE {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, err
	}
	return binary.BigEndian.Uint16(buf[0:2]), buf[2:], nil
}

// WriteFrame writes body as a single frame of the given type.
func WriteFrame(w io.Writer, typeOf uint16, body []byte) error {
	buf := make([]byte, FrameLengthLen+BaseMessageHeaderLen+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(BaseMessageHeaderLen+len(body)))
	binary.BigEndian.PutUint16(buf[4:6], typeOf)
	copy(buf[6:], body)
	_, err := w.Write(buf)
	return err
}

func parseMessage(typeOf uint16, msg []byte) (Message, error) {
	switch MessageType(typeOf) {
	case Heartbeat:
		return BaseMessage{TypeOf: Heartbeat}, nil
	case NewOrder:
		return parseNewOrder(msg)
	case CancelOrder:
		return parseCancelOrder(msg)
	case ModifyOrder:
		return parseModifyOrder(msg)
	default:
		return BaseMessage{}, fmt.Errorf("%w: %d", ErrInvalidMessageType, typeOf)
	}
}

type NewOrderMessage struct {
	BaseMessage
	OrderType     common.OrderType   // 1 byte
	Side          common.Side        // 1 byte
	TimeInForce   common.TimeInForce // 1 byte
	LimitPrice    common.Price       // 8 bytes, in ticks
	Quantity      uint64             // 8 bytes
	InstrumentLen uint8              // 1 byte
	UsernameLen   uint8              // 1 byte
	ClientIDLen   uint8              // 1 byte
	Instrument    string             // n bytes
	Username      string             // n bytes
	ClientID      string             // n bytes, optional
}

// Order builds the engine order; id is the order id the gateway assigned.
func (o *NewOrderMessage) Order(id string) common.Order {
	return common.Order{
		ID:          id,
		Instrument:  o.Instrument,
		Side:        o.Side,
		OrderType:   o.OrderType,
		TimeInForce: o.TimeInForce,
		LimitPrice:  o.LimitPrice,
		Quantity:    o.Quantity,
		Owner:       o.Username,
	}
}

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}
	if len(msg) < NewOrderMessageHeaderLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}

	m.OrderType = common.OrderType(msg[0])
	m.Side = common.Side(msg[1])
	m.TimeInForce = common.TimeInForce(msg[2])
	m.LimitPrice = common.Price(binary.BigEndian.Uint64(msg[3:11]))
	m.Quantity = binary.BigEndian.Uint64(msg[11:19])
	m.InstrumentLen = msg[19]
	m.UsernameLen = msg[20]
	m.ClientIDLen = msg[21]

	fields, err := splitStrings(msg[NewOrderMessageHeaderLen:], m.InstrumentLen, m.UsernameLen, m.ClientIDLen)
	if err != nil {
		return NewOrderMessage{}, err
	}
	m.Instrument, m.Username, m.ClientID = fields[0], fields[1], fields[2]
	return m, nil
}

func (o NewOrderMessage) Serialize() ([]byte, error) {
	if err := checkLengths(o.Instrument, o.Username, o.ClientID); err != nil {
		return nil, err
	}
	buf := make([]byte, NewOrderMessageHeaderLen, NewOrderMessageHeaderLen+len(o.Instrument)+len(o.Username)+len(o.ClientID))
	buf[0] = byte(o.OrderType)
	buf[1] = byte(o.Side)
	buf[2] = byte(o.TimeInForce)
	binary.BigEndian.PutUint64(buf[3:11], uint64(o.LimitPrice))
	binary.BigEndian.PutUint64(buf[11:19], o.Quantity)
	buf[19] = uint8(len(o.Instrument))
	buf[20] = uint8(len(o.Username))
	buf[21] = uint8(len(o.ClientID))
	buf = append(buf, o.Instrument...)
	buf = append(buf, o.Username...)
	return append(buf, o.ClientID...), nil
}

type CancelOrderMessage struct {
	BaseMessage
	InstrumentLen uint8  // 1 byte
	OrderIDLen    uint8  // 1 byte
	Instrument    string // n bytes
	OrderID       string // n bytes
}

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}
	if len(msg) < CancelOrderMessageHeaderLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	m.InstrumentLen = msg[0]
	m.OrderIDLen = msg[1]

	fields, err := splitStrings(msg[CancelOrderMessageHeaderLen:], m.InstrumentLen, m.OrderIDLen)
	if err != nil {
		return CancelOrderMessage{}, err
	}
	m.Instrument, m.OrderID = fields[0], fields[1]
	return m, nil
}

func (o CancelOrderMessage) Serialize() ([]byte, error) {
	if err := checkLengths(o.Instrument, o.OrderID); err != nil {
		return nil, err
	}
	buf := []byte{uint8(len(o.Instrument)), uint8(len(o.OrderID))}
	buf = append(buf, o.Instrument...)
	return append(buf, o.OrderID...), nil
}

type ModifyOrderMessage struct {
	BaseMessage
	Quantity      uint64       // 8 bytes, new open quantity
	LimitPrice    common.Price // 8 bytes, in ticks
	InstrumentLen uint8        // 1 byte
	OrderIDLen    uint8        // 1 byte
	Instrument    string       // n bytes
	OrderID       string       // n bytes
}

func parseModifyOrder(msg []byte) (ModifyOrderMessage, error) {
	m := ModifyOrderMessage{BaseMessage: BaseMessage{TypeOf: ModifyOrder}}
	if len(msg) < ModifyOrderMessageHeaderLen {
		return ModifyOrderMessage{}, ErrMessageTooShort
	}
	m.Quantity = binary.BigEndian.Uint64(msg[0:8])
	m.LimitPrice = common.Price(binary.BigEndian.Uint64(msg[8:16]))
	m.InstrumentLen = msg[16]
	m.OrderIDLen = msg[17]

	fields, err := splitStrings(msg[ModifyOrderMessageHeaderLen:], m.InstrumentLen, m.OrderIDLen)
	if err != nil {
		return ModifyOrderMessage{}, err
	}
	m.Instrument, m.OrderID = fields[0], fields[1]
	return m, nil
}

func (o ModifyOrderMessage) Serialize() ([]byte, error) {
	if err := checkLengths(o.Instrument, o.OrderID); err != nil {
		return nil, err
	}
	buf := make([]byte, ModifyOrderMessageHeaderLen, ModifyOrderMessageHeaderLen+len(o.Instrument)+len(o.OrderID))
	binary.BigEndian.PutUint64(buf[0:8], o.Quantity)
	binary.BigEndian.PutUint64(buf[8:16], uint64(o.LimitPrice))
	buf[16] = uint8(len(o.Instrument))
	buf[17] = uint8(len(o.OrderID))
	buf = append(buf, o.Instrument...)
	return append(buf, o.OrderID...), nil
}

// Report is sent from the server to the session owning an order.
type Report struct {
	MessageType ReportType       // 2 bytes, the frame type
	Kind        common.EventKind // 1 byte
	Side        common.Side      // 1 byte
	Sequence    uint64           // 8 bytes
	Timestamp   uint64           // 8 bytes, unix nanoseconds
	Price       common.Price     // 8 bytes
	Quantity    uint64           // 8 bytes
	Remaining   uint64           // 8 bytes
	Instrument  string           // 1 byte length + n bytes
	OrderID     string           // 1 byte length + n bytes
	Text        string           // 2 byte length + n bytes
}

const reportFixedHeaderLen = 1 + 1 + 8 + 8 + 8 + 8 + 8 + 1 + 1 + 2

// Serialize converts the report body to be sent on the wire.
func (r *Report) Serialize() ([]byte, error) {
	if err := checkLengths(r.Instrument, r.OrderID); err != nil {
		return nil, err
	}
	if len(r.Text) > 0xffff {
		return nil, fmt.Errorf("%w: text of %d bytes", ErrFieldTooLong, len(r.Text))
	}

	buf := make([]byte, reportFixedHeaderLen, reportFixedHeaderLen+len(r.Instrument)+len(r.OrderID)+len(r.Text))
	buf[0] = byte(r.Kind)
	buf[1] = byte(r.Side)
	binary.BigEndian.PutUint64(buf[2:10], r.Sequence)
	binary.BigEndian.PutUint64(buf[10:18], r.Timestamp)
	binary.BigEndian.PutUint64(buf[18:26], uint64(r.Price))
	binary.BigEndian.PutUint64(buf[26:34], r.Quantity)
	binary.BigEndian.PutUint64(buf[34:42], r.Remaining)
	buf[42] = uint8(len(r.Instrument))
	buf[43] = uint8(len(r.OrderID))
	binary.BigEndian.PutUint16(buf[44:46], uint16(len(r.Text)))

	buf = append(buf, r.Instrument...)
	buf = append(buf, r.OrderID...)
	return append(buf, r.Text...), nil
}

// ParseReport decodes a report frame body.
func ParseReport(typeOf uint16, msg []byte) (Report, error) {
	reportType := ReportType(typeOf)
	if reportType != OrderReport && reportType != ExecutionReport && reportType != ErrorReport {
		return Report{}, fmt.Errorf("%w: %d", ErrInvalidMessageType, typeOf)
	}
	if len(msg) < reportFixedHeaderLen {
		return Report{}, ErrMessageTooShort
	}

	r := Report{
		MessageType: reportType,
		Kind:        common.EventKind(msg[0]),
		Side:        common.Side(msg[1]),
		Sequence:    binary.BigEndian.Uint64(msg[2:10]),
		Timestamp:   binary.BigEndian.Uint64(msg[10:18]),
		Price:       common.Price(binary.BigEndian.Uint64(msg[18:26])),
		Quantity:    binary.BigEndian.Uint64(msg[26:34]),
		Remaining:   binary.BigEndian.Uint64(msg[34:42]),
	}
	instLen, idLen := int(msg[42]), int(msg[43])
	textLen := int(binary.BigEndian.Uint16(msg[44:46]))

	rest := msg[reportFixedHeaderLen:]
	if len(rest) < instLen+idLen+textLen {
		return Report{}, ErrMessageTooShort
	}
	r.Instrument = string(rest[:instLen])
	r.OrderID = string(rest[instLen : instLen+idLen])
	r.Text = string(rest[instLen+idLen : instLen+idLen+textLen])
	return r, nil
}

// eventReport turns an engine event into the report its owner receives.
func eventReport(event common.Event, orderID string) Report {
	r := Report{
		MessageType: OrderReport,
		Kind:        event.Kind,
		Side:        event.Side,
		Sequence:    event.Sequence,
		Timestamp:   uint64(event.Timestamp.UnixNano()),
		Price:       event.Price,
		Quantity:    event.Quantity,
		Remaining:   event.Remaining,
		Instrument:  event.Instrument,
		OrderID:     orderID,
		Text:        event.Reason,
	}
	if event.Kind == common.TradeExecuted && event.Trade != nil {
		r.MessageType = ExecutionReport
		r.Price = event.Trade.Price
		r.Quantity = event.Trade.Quantity
		// The text names the other side of the execution.
		if orderID == event.Trade.MakerOrderID {
			r.Side = event.Trade.TakerSide.Opposite()
			r.Text = event.Trade.TakerOrderID
		} else {
			r.Text = event.Trade.MakerOrderID
		}
	}
	return r
}

func errorReport(err error) Report {
	return Report{
		MessageType: ErrorReport,
		Text:        err.Error(),
	}
}

func splitStrings(msg []byte, lengths ...uint8) ([]string, error) {
	fields := make([]string, len(lengths))
	offset := 0
	for i, n := range lengths {
		if len(msg) < offset+int(n) {
			return nil, ErrMessageTooShort
		}
		fields[i] = string(msg[offset : offset+int(n)])
		offset += int(n)
	}
	return fields, nil
}

func checkLengths(fields ...string) error {
	for _, field := range fields {
		if len(field) > 0xff {
			return fmt.Errorf("%w: %q", ErrFieldTooLong, field)
		}
	}
	return nil
}
