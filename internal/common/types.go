package common

import (
	"fmt"
	"strconv"
	"strings"
)

// Price is an integer number of ticks. Conversion from decimal prices
// happens at the boundary, see config.Instrument.
type Price int64

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "unknown"
}

// MarshalText writes BUY or SELL. A side outside the enum is written as its
// number so that rejected orders still serialise.
func (s Side) MarshalText() ([]byte, error) {
	switch s {
	case Buy:
		return []byte("BUY"), nil
	case Sell:
		return []byte("SELL"), nil
	}
	return strconv.AppendInt(nil, int64(s), 10), nil
}

func (s *Side) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "BUY":
		*s = Buy
		return nil
	case "SELL":
		*s = Sell
		return nil
	}
	n, err := strconv.Atoi(string(text))
	if err != nil {
		return fmt.Errorf("unknown side %q", text)
	}
	*s = Side(n)
	return nil
}

// Opposite returns the side an order of this side matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) valid() bool { return s == Buy || s == Sell }

type OrderType int

const (
	// Limit orders are an order to buy or sell a security at a specified
	// price or better. Limit orders may rest on the order book until
	// filled.
	LimitOrder OrderType = iota
	// Market orders are instructions to buy or sell immediately at
	// whatever price the opposite side offers. They never rest.
	MarketOrder
)

func (t OrderType) String() string {
	switch t {
	case LimitOrder:
		return "limit"
	case MarketOrder:
		return "market"
	}
	return "unknown"
}

func (t OrderType) valid() bool { return t == LimitOrder || t == MarketOrder }

type TimeInForce int

const (
	// GTC leftovers rest in the book until filled or cancelled.
	GTC TimeInForce = iota
	// IOC leftovers are discarded once matching stops.
	IOC
	// FOK orders either fill completely on arrival or do not trade at all.
	FOK
)

func (tif TimeInForce) String() string {
	switch tif {
	case GTC:
		return "gtc"
	case IOC:
		return "ioc"
	case FOK:
		return "fok"
	}
	return "unknown"
}

func (tif TimeInForce) valid() bool { return tif >= GTC && tif <= FOK }

// Status is the lifecycle state of an order.
type Status int

const (
	New Status = iota
	Resting
	PartiallyFilled
	Filled
	Cancelled
	Discarded
	Rejected
)

func (s Status) String() string {
	switch s {
	case New:
		return "new"
	case Resting:
		return "resting"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Discarded:
		return "discarded"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == Filled || s == Cancelled || s == Discarded || s == Rejected
}

// Disposition is what happened to an incoming order once a call settled.
type Disposition int

const (
	DispositionNone Disposition = iota
	DispositionFilled
	DispositionResting
	DispositionDiscarded
	DispositionRejected
)

func (d Disposition) String() string {
	switch d {
	case DispositionFilled:
		return "filled"
	case DispositionResting:
		return "resting"
	case DispositionDiscarded:
		return "discarded"
	case DispositionRejected:
		return "rejected"
	}
	return "none"
}
