package common

import (
	"fmt"
	"time"
)

type Order struct {
	ID            string      // Caller supplied or engine assigned
	Instrument    string      // Instrument symbol
	Side          Side        // Order side
	OrderType     OrderType   //
	TimeInForce   TimeInForce //
	LimitPrice    Price       // Limiting price, zero for market orders
	Quantity      uint64      // Remaining quantity
	TotalQuantity uint64      // Total volume requested
	Sequence      uint64      // Arrival sequence, assigned on acceptance
	Status        Status      //
	Timestamp     time.Time   // Time of arrival of order
	Owner         string      // Who owns this order
}

// Filled returns the quantity executed so far.
func (order Order) Filled() uint64 {
	return order.TotalQuantity - order.Quantity
}

// Validate checks the order before it may touch any book state.
func (order Order) Validate() error {
	if !order.Side.valid() {
		return fmt.Errorf("%w: side %d", ErrInvalidOrder, order.Side)
	}
	if !order.OrderType.valid() {
		return fmt.Errorf("%w: order type %d", ErrInvalidOrder, order.OrderType)
	}
	if !order.TimeInForce.valid() {
		return fmt.Errorf("%w: time in force %d", ErrInvalidOrder, order.TimeInForce)
	}
	if order.Quantity == 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	if order.OrderType == LimitOrder && order.LimitPrice <= 0 {
		return fmt.Errorf("%w: limit price must be positive", ErrInvalidOrder)
	}
	return nil
}

// Marketable reports whether a resting level at price can trade against
// this order.
func (order Order) Marketable(price Price) bool {
	if order.OrderType == MarketOrder {
		return true
	}
	if order.Side == Buy {
		return price <= order.LimitPrice
	}
	return price >= order.LimitPrice
}

func (order Order) String() string {
	return fmt.Sprintf(
		"%s %s %s %s %d/%d @ %d [%s] seq=%d owner=%s",
		order.ID,
		order.Instrument,
		order.Side,
		order.OrderType,
		order.Quantity,
		order.TotalQuantity,
		order.LimitPrice,
		order.TimeInForce,
		order.Sequence,
		order.Owner,
	)
}
