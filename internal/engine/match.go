package engine

import (
	"errors"

	"kestrel/internal/common"
)

// process accepts an order that passed validation (and, for FOK, the
// pre-check), matches it and applies its time-in-force to the leftover.
func (engine *Engine) process(order *common.Order) Result {
	accepted := engine.emit(common.OrderAccepted, order, order.Quantity, "")
	order.Sequence = accepted.Sequence

	trades := engine.match(order)

	var traded uint64
	for _, trade := range trades {
		traded += trade.Quantity
	}
	if traded > 0 {
		if order.Quantity == 0 {
			order.Status = common.Filled
			engine.emit(common.OrderFilled, order, traded, "")
		} else {
			order.Status = common.PartiallyFilled
			engine.emit(common.OrderPartiallyFilled, order, traded, "")
		}
	}

	var disposition common.Disposition
	switch {
	case order.Quantity == 0:
		disposition = common.DispositionFilled
	case order.OrderType == common.LimitOrder && order.TimeInForce == common.GTC:
		if order.Status == common.New {
			order.Status = common.Resting
		}
		engine.book.InsertResting(*order)
		disposition = common.DispositionResting
	default:
		// IOC and FOK leftovers, and any market order remainder, never rest.
		leftover := order.Quantity
		order.Quantity = 0
		order.Status = common.Discarded
		engine.emit(common.OrderCancelled, order, leftover, "discarded")
		order.Quantity = leftover
		disposition = common.DispositionDiscarded
	}

	engine.logger.Debug().
		Str("order", order.ID).
		Stringer("side", order.Side).
		Int64("price", int64(order.LimitPrice)).
		Uint64("qty", order.TotalQuantity).
		Int("trades", len(trades)).
		Stringer("disposition", disposition).
		Msg("order processed")

	return engine.result(*order, trades, disposition)
}

// match consumes the opposite side while it stays marketable, oldest
// order first at each level. The incoming order is the liquidity taker
// and every execution happens at the resting maker's price.
//
// A partially filled maker stays at the head of its level, so time
// priority is never disturbed by partial consumption.
func (engine *Engine) match(taker *common.Order) []common.Trade {
	var trades []common.Trade
	for taker.Quantity > 0 {
		level, ok := engine.book.best(taker.Side.Opposite())
		if !ok || !taker.Marketable(level.Price) {
			break
		}

		h := level.front()
		qty := min(taker.Quantity, engine.book.registry.Order(h).Quantity)
		taker.Quantity -= qty

		maker := engine.book.execute(level, h, qty)
		trades = append(trades, engine.trade(taker, maker, qty))

		if maker.Quantity == 0 {
			maker.Status = common.Filled
			engine.emit(common.OrderFilled, &maker, qty, "")
		} else {
			maker.Status = common.PartiallyFilled
			engine.book.registry.Order(h).Status = common.PartiallyFilled
			engine.emit(common.OrderPartiallyFilled, &maker, qty, "")
		}
	}
	return trades
}

func (engine *Engine) trade(taker *common.Order, maker common.Order, qty uint64) common.Trade {
	engine.lastTradeID++
	event := engine.emit(common.TradeExecuted, taker, qty, "")

	trade := common.Trade{
		ID:           engine.lastTradeID,
		Instrument:   engine.instrument,
		MakerOrderID: maker.ID,
		TakerOrderID: taker.ID,
		TakerSide:    taker.Side,
		Price:        maker.LimitPrice,
		Quantity:     qty,
		Sequence:     event.Sequence,
		Timestamp:    event.Timestamp,
	}

	// The trade event carries the execution price, not the taker's limit.
	last := &engine.pending[len(engine.pending)-1]
	last.Price = trade.Price
	last.Trade = &trade
	return trade
}

// isDefect reports errors that mean the book can no longer be trusted.
func isDefect(err error) bool {
	return errors.Is(err, common.ErrCrossedBook) || errors.Is(err, common.ErrInconsistentBook)
}
