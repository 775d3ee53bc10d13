package common

import (
	"fmt"
	"time"
)

// EventKind tags the variant carried by an Event. The set is closed.
type EventKind uint8

const (
	OrderAccepted EventKind = iota + 1
	OrderPartiallyFilled
	OrderFilled
	OrderCancelled
	OrderRejected
	OrderModified
	TradeExecuted
)

var eventKindNames = map[EventKind]string{
	OrderAccepted:        "order_accepted",
	OrderPartiallyFilled: "order_partially_filled",
	OrderFilled:          "order_filled",
	OrderCancelled:       "order_cancelled",
	OrderRejected:        "order_rejected",
	OrderModified:        "order_modified",
	TradeExecuted:        "trade",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

func (k EventKind) MarshalText() ([]byte, error) {
	name, ok := eventKindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown event kind %d", k)
	}
	return []byte(name), nil
}

func (k *EventKind) UnmarshalText(text []byte) error {
	for kind, name := range eventKindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", text)
}

// Event is one entry of an instrument's sequenced output stream.
//
// Order events fill the order fields. Quantity is the quantity the event
// refers to (accepted, filled by the last execution, cancelled) and
// Remaining is what is left open afterwards. TradeExecuted events carry
// Trade and leave the order fields describing the taker.
type Event struct {
	Sequence   uint64    `json:"seq"`
	Kind       EventKind `json:"kind"`
	Instrument string    `json:"instrument"`
	OrderID    string    `json:"order_id,omitempty"`
	Owner      string    `json:"owner,omitempty"`
	Side       Side      `json:"side"`
	Price      Price     `json:"price"`
	Quantity   uint64    `json:"qty"`
	Remaining  uint64    `json:"remaining"`
	Reason     string    `json:"reason,omitempty"`
	Trade      *Trade    `json:"trade,omitempty"`
	Timestamp  time.Time `json:"ts"`
}

func (e Event) String() string {
	if e.Kind == TradeExecuted && e.Trade != nil {
		return fmt.Sprintf("#%d %s", e.Sequence, e.Trade)
	}
	s := fmt.Sprintf("#%d %s %s %s %d@%d remaining=%d",
		e.Sequence, e.Kind, e.Instrument, e.OrderID, e.Quantity, e.Price, e.Remaining)
	if e.Reason != "" {
		s += " (" + e.Reason + ")"
	}
	return s
}
