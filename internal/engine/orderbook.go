package engine

import (
	"fmt"

	"github.com/tidwall/btree"

	"kestrel/internal/common"
)

type PriceLevels = btree.BTreeG[*PriceLevel]

// OrderBook holds both sides of one instrument. It is not safe for
// concurrent use; the owning Engine serializes access.
type OrderBook struct {
	instrument string

	// Price levels keyed by price. Both trees are ordered best first so
	// Min is always the top of book.
	bids *PriceLevels
	asks *PriceLevels

	registry *Registry

	// Some book keeping
	bidQuantity uint64 // Track the bid-side liquidity of the book.
	askQuantity uint64 // Track the ask-side liquidity of the book.
}

func NewOrderBook(instrument string) *OrderBook {
	// Sorted greatest first.
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price > b.Price
	})
	// Sorted least first.
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price < b.Price
	})
	return &OrderBook{
		instrument: instrument,
		bids:       bids,
		asks:       asks,
		registry:   NewRegistry(),
	}
}

func (book *OrderBook) levels(side common.Side) *PriceLevels {
	if side == common.Buy {
		return book.bids
	}
	return book.asks
}

func (book *OrderBook) best(side common.Side) (*PriceLevel, bool) {
	return book.levels(side).Min()
}

// BestBid returns the highest bid level, if any.
func (book *OrderBook) BestBid() (*PriceLevel, bool) { return book.bids.Min() }

// BestAsk returns the lowest ask level, if any.
func (book *OrderBook) BestAsk() (*PriceLevel, bool) { return book.asks.Min() }

// Len is the number of resting orders on both sides.
func (book *OrderBook) Len() int { return book.registry.Len() }

// Liquidity returns the total resting quantity per side.
func (book *OrderBook) Liquidity() (bids, asks uint64) {
	return book.bidQuantity, book.askQuantity
}

// Locate finds a resting order by id.
func (book *OrderBook) Locate(id string) (common.Order, bool) {
	loc, ok := book.registry.Locate(id)
	if !ok {
		return common.Order{}, false
	}
	return *book.registry.Order(loc.Handle), true
}

// InsertResting appends the order to the tail of its price level,
// creating the level if needed, and registers it.
func (book *OrderBook) InsertResting(order common.Order) Handle {
	levels := book.levels(order.Side)

	// Levels comparator only accounts for price levels, so we create a
	// dummy price level for the search.
	level, ok := levels.Get(&PriceLevel{Price: order.LimitPrice})
	if !ok {
		level = newPriceLevel(order.LimitPrice)
		levels.Set(level)
	}

	h := book.registry.Register(order)
	level.pushBack(book.registry, h)
	book.track(order.Side, order.Quantity, true)
	return h
}

// RemoveOrder takes a resting order out of its level and the registry,
// deleting the level if it empties. It returns the order as it was.
func (book *OrderBook) RemoveOrder(id string) (common.Order, error) {
	loc, ok := book.registry.Locate(id)
	if !ok {
		return common.Order{}, fmt.Errorf("%w: %s", common.ErrUnknownOrder, id)
	}
	level, ok := book.levels(loc.Side).Get(&PriceLevel{Price: loc.Price})
	if !ok {
		return common.Order{}, fmt.Errorf("%w: %s at %d", common.ErrInconsistentBook, id, loc.Price)
	}

	order := *book.registry.Order(loc.Handle)
	book.unlink(level, loc.Handle)
	return order, nil
}

// reduce lowers a resting order's open quantity in place, keeping its
// FIFO position.
func (book *OrderBook) reduce(loc Location, qty uint64) error {
	level, ok := book.levels(loc.Side).Get(&PriceLevel{Price: loc.Price})
	if !ok {
		return fmt.Errorf("%w: level %d", common.ErrInconsistentBook, loc.Price)
	}
	level.reduce(book.registry, loc.Handle, qty)
	book.track(loc.Side, qty, false)
	return nil
}

// execute fills qty against the resting order at h. A maker that reaches
// zero is removed together with its level if that empties. The returned
// copy reflects the maker after the fill.
func (book *OrderBook) execute(level *PriceLevel, h Handle, qty uint64) common.Order {
	level.reduce(book.registry, h, qty)
	maker := *book.registry.Order(h)
	book.track(maker.Side, qty, false)

	if maker.Quantity == 0 {
		book.unlink(level, h)
	}
	return maker
}

// unlink removes h from level and the registry in one step.
func (book *OrderBook) unlink(level *PriceLevel, h Handle) {
	order := book.registry.Order(h)
	side, id, open := order.Side, order.ID, order.Quantity

	level.remove(book.registry, h)
	if level.Empty() {
		book.levels(side).Delete(level)
	}
	book.registry.Unregister(id)
	book.track(side, open, false)
}

func (book *OrderBook) track(side common.Side, qty uint64, add bool) {
	total := &book.askQuantity
	if side == common.Buy {
		total = &book.bidQuantity
	}
	if add {
		*total += qty
	} else {
		*total -= qty
	}
}

// CanFill is the read-only FOK pre-check: it walks the opposite side the
// way the matching loop would and reports whether the whole quantity is
// available at acceptable prices.
func (book *OrderBook) CanFill(order common.Order) bool {
	need := order.Quantity
	book.levels(order.Side.Opposite()).Scan(func(level *PriceLevel) bool {
		if !order.Marketable(level.Price) {
			return false
		}
		if level.quantity >= need {
			need = 0
			return false
		}
		need -= level.quantity
		return true
	})
	return need == 0
}

// Crossed reports best bid >= best ask.
func (book *OrderBook) Crossed() bool {
	bid, bidOk := book.bids.Min()
	ask, askOk := book.asks.Min()
	return bidOk && askOk && bid.Price >= ask.Price
}

// LevelView is an aggregated price level.
type LevelView struct {
	Price    common.Price `json:"price"`
	Quantity uint64       `json:"qty"`
	Orders   int          `json:"orders"`
}

// Depth is an aggregated view of the top of both sides.
type Depth struct {
	Bids []LevelView `json:"bids"`
	Asks []LevelView `json:"asks"`
}

// Depth returns up to n levels per side, best first. n <= 0 returns all.
func (book *OrderBook) Depth(n int) Depth {
	collect := func(levels *PriceLevels) []LevelView {
		views := make([]LevelView, 0, levels.Len())
		levels.Scan(func(level *PriceLevel) bool {
			views = append(views, LevelView{
				Price:    level.Price,
				Quantity: level.quantity,
				Orders:   level.count,
			})
			return n <= 0 || len(views) < n
		})
		return views
	}
	return Depth{Bids: collect(book.bids), Asks: collect(book.asks)}
}

// FlatPriceLevel is a copy of a level with its orders in FIFO order.
type FlatPriceLevel struct {
	PriceLevel common.Price
	Orders     []common.Order
}

// Snapshot copies every level of both sides, best first.
func (book *OrderBook) Snapshot() (bids, asks []FlatPriceLevel) {
	return book.flatten(book.bids), book.flatten(book.asks)
}

func (book *OrderBook) flatten(levels *PriceLevels) []FlatPriceLevel {
	flat := make([]FlatPriceLevel, 0, levels.Len())
	levels.Scan(func(level *PriceLevel) bool {
		orders := make([]common.Order, 0, level.count)
		level.each(book.registry, func(order *common.Order) bool {
			orders = append(orders, *order)
			return true
		})
		flat = append(flat, FlatPriceLevel{PriceLevel: level.Price, Orders: orders})
		return true
	})
	return flat
}
