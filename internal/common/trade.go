package common

import (
	"fmt"
	"time"
)

// Trade pairs a resting maker with the incoming taker. It is immutable
// once emitted.
type Trade struct {
	ID           uint64    // Per-instrument trade counter
	Instrument   string    //
	MakerOrderID string    // Resting order
	TakerOrderID string    // Incoming order
	TakerSide    Side      // Aggressor side
	Price        Price     // Always the maker's price
	Quantity     uint64    // Executed quantity
	Sequence     uint64    // Sequence of the TradeExecuted event
	Timestamp    time.Time //
}

func (t Trade) String() string {
	return fmt.Sprintf(
		"trade %d %s: %d @ %d maker=%s taker=%s (%s) seq=%d",
		t.ID,
		t.Instrument,
		t.Quantity,
		t.Price,
		t.MakerOrderID,
		t.TakerOrderID,
		t.TakerSide,
		t.Sequence,
	)
}
