package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kestrel/internal/common"
)

// Reporter receives each call's events, in sequence order, while the
// engine still holds its lock. Implementations must not block on I/O.
type Reporter interface {
	Report(events []common.Event)
}

type nopReporter struct{}

func (nopReporter) Report([]common.Event) {}

// Result describes what a single Submit, Cancel or Modify did.
type Result struct {
	Order       common.Order // The order as it stands after the call
	Trades      []common.Trade
	Disposition common.Disposition
	Events      []common.Event
}

// Filled returns the quantity traded during the call.
func (r Result) Filled() uint64 {
	var total uint64
	for _, trade := range r.Trades {
		total += trade.Quantity
	}
	return total
}

type Option func(*Engine)

// WithReporter installs the downstream event consumer.
func WithReporter(reporter Reporter) Option {
	return func(engine *Engine) { engine.reporter = reporter }
}

// WithStartSequence resumes sequencing after seq.
func WithStartSequence(seq uint64) Option {
	return func(engine *Engine) { engine.sequencer.Reset(seq) }
}

// WithLogger replaces the instrument's child of the global logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(engine *Engine) { engine.logger = logger }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(engine *Engine) { engine.now = now }
}

// Engine is the matching engine of one instrument. It owns the book, the
// registry and the sequencer; every public method runs under one mutex,
// so an instrument has exactly one writer at a time.
type Engine struct {
	mu sync.Mutex

	instrument string
	book       *OrderBook
	sequencer  *Sequencer
	reporter   Reporter
	logger     zerolog.Logger
	now        func() time.Time

	lastTradeID uint64
	halted      error

	// Resting order count as of the last completed call, readable
	// without the lock.
	resting atomic.Int64

	// Events produced by the call in progress.
	pending []common.Event
}

func New(instrument string, opts ...Option) *Engine {
	engine := &Engine{
		instrument: instrument,
		book:       NewOrderBook(instrument),
		sequencer:  NewSequencer(0),
		reporter:   nopReporter{},
		logger:     log.With().Str("instrument", instrument).Logger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

func (engine *Engine) Instrument() string { return engine.instrument }

// Submit validates and matches an incoming order, then applies its
// time-in-force to whatever is left.
func (engine *Engine) Submit(order common.Order) (Result, error) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	if err := engine.usable(); err != nil {
		return Result{}, err
	}
	defer engine.flush()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Instrument == "" {
		order.Instrument = engine.instrument
	}
	if order.Timestamp.IsZero() {
		order.Timestamp = engine.now()
	}
	if order.OrderType == common.MarketOrder {
		order.LimitPrice = 0
	}
	order.TotalQuantity = order.Quantity
	order.Status = common.New

	if err := engine.validate(order); err != nil {
		return engine.reject(order, err, common.Rejected, common.DispositionRejected), err
	}

	// Fill-or-kill must know it can complete before touching anything.
	// A killed order never reaches the book, so it counts as discarded.
	if order.TimeInForce == common.FOK && !engine.book.CanFill(order) {
		err := fmt.Errorf("%w: fok %s for %d not fillable", common.ErrRejectedByPolicy, order.ID, order.Quantity)
		return engine.reject(order, err, common.Discarded, common.DispositionDiscarded), err
	}

	result := engine.process(&order)
	return result, engine.settle()
}

// Cancel removes a resting order. An order that already filled, or was
// already cancelled, is unknown.
func (engine *Engine) Cancel(id string) (Result, error) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	if err := engine.usable(); err != nil {
		return Result{}, err
	}
	defer engine.flush()

	order, err := engine.book.RemoveOrder(id)
	if err != nil {
		return Result{}, engine.check(err)
	}
	order.Status = common.Cancelled
	engine.emit(common.OrderCancelled, &order, order.Quantity, "cancelled")

	engine.logger.Debug().Str("order", id).Msg("order cancelled")
	return engine.result(order, nil, common.DispositionNone), engine.settle()
}

// Modify changes a resting order's open quantity and price. A pure
// reduction at the same price keeps the order's place in the queue;
// anything else cancels it and enters it again as a new arrival, which
// may trade straight away.
func (engine *Engine) Modify(id string, quantity uint64, price common.Price) (Result, error) {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	if err := engine.usable(); err != nil {
		return Result{}, err
	}
	defer engine.flush()

	loc, ok := engine.book.registry.Locate(id)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", common.ErrUnknownOrder, id)
	}
	if quantity == 0 || price <= 0 {
		return Result{}, fmt.Errorf("%w: modify %s to %d @ %d", common.ErrInvalidOrder, id, quantity, price)
	}

	current := *engine.book.registry.Order(loc.Handle)
	if price == current.LimitPrice && quantity <= current.Quantity {
		if quantity == current.Quantity {
			return engine.result(current, nil, common.DispositionResting), nil
		}
		filled := current.Filled()
		if err := engine.book.reduce(loc, current.Quantity-quantity); err != nil {
			return Result{}, engine.check(err)
		}
		current.Quantity = quantity
		current.TotalQuantity = filled + quantity
		engine.book.registry.Order(loc.Handle).TotalQuantity = current.TotalQuantity
		engine.emit(common.OrderModified, &current, quantity, "reduced")
		return engine.result(current, nil, common.DispositionResting), engine.settle()
	}

	removed, err := engine.book.RemoveOrder(id)
	if err != nil {
		return Result{}, engine.check(err)
	}
	removed.Status = common.Cancelled
	engine.emit(common.OrderCancelled, &removed, removed.Quantity, "replaced")

	replacement := removed
	replacement.LimitPrice = price
	replacement.TotalQuantity = removed.Filled() + quantity
	replacement.Quantity = quantity
	replacement.TimeInForce = common.GTC
	replacement.Status = common.New
	replacement.Timestamp = engine.now()

	result := engine.process(&replacement)
	return result, engine.settle()
}

// Order returns a resting order by id.
func (engine *Engine) Order(id string) (common.Order, bool) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.book.Locate(id)
}

// Depth returns the aggregated top n levels of each side.
func (engine *Engine) Depth(n int) Depth {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.book.Depth(n)
}

// Snapshot copies every resting order, level by level.
func (engine *Engine) Snapshot() (bids, asks []FlatPriceLevel) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.book.Snapshot()
}

// Resting is the number of orders in the book after the last completed
// call. It does not take the engine lock, so reporters may call it.
func (engine *Engine) Resting() int {
	return int(engine.resting.Load())
}

// LastSequence is the sequence of the most recent event.
func (engine *Engine) LastSequence() uint64 {
	return engine.sequencer.Current()
}

// Halted returns the invariant violation that stopped the engine, if any.
func (engine *Engine) Halted() error {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	return engine.halted
}

func (engine *Engine) validate(order common.Order) error {
	if err := order.Validate(); err != nil {
		return err
	}
	if order.Instrument != engine.instrument {
		return fmt.Errorf("%w: instrument %q on %q book", common.ErrInvalidOrder, order.Instrument, engine.instrument)
	}
	if _, ok := engine.book.registry.Locate(order.ID); ok {
		return fmt.Errorf("%w: duplicate order id %s", common.ErrInvalidOrder, order.ID)
	}
	return nil
}

func (engine *Engine) reject(order common.Order, err error, status common.Status, disposition common.Disposition) Result {
	order.Status = status
	engine.emit(common.OrderRejected, &order, order.Quantity, err.Error())
	engine.logger.Debug().Err(err).Str("order", order.ID).Stringer("disposition", disposition).Msg("order rejected")
	return engine.result(order, nil, disposition)
}

func (engine *Engine) usable() error {
	if engine.halted != nil {
		return fmt.Errorf("%w: %v", common.ErrHalted, engine.halted)
	}
	return nil
}

// check halts the engine if err is an internal consistency failure.
func (engine *Engine) check(err error) error {
	if isDefect(err) {
		engine.halt(err)
	}
	return err
}

// settle verifies the book at rest. A crossed book is a defect: matching
// for this instrument stops for good.
func (engine *Engine) settle() error {
	if !engine.book.Crossed() {
		return nil
	}
	bid, _ := engine.book.BestBid()
	ask, _ := engine.book.BestAsk()
	err := fmt.Errorf("%w: bid %d >= ask %d", common.ErrCrossedBook, bid.Price, ask.Price)
	engine.halt(err)
	return err
}

func (engine *Engine) halt(err error) {
	engine.halted = err
	engine.logger.Error().Err(err).Msg("halting instrument")
}

func (engine *Engine) emit(kind common.EventKind, order *common.Order, qty uint64, reason string) common.Event {
	event := common.Event{
		Sequence:   engine.sequencer.Next(),
		Kind:       kind,
		Instrument: engine.instrument,
		OrderID:    order.ID,
		Owner:      order.Owner,
		Side:       order.Side,
		Price:      order.LimitPrice,
		Quantity:   qty,
		Remaining:  order.Quantity,
		Reason:     reason,
		Timestamp:  engine.now(),
	}
	engine.pending = append(engine.pending, event)
	return event
}

func (engine *Engine) result(order common.Order, trades []common.Trade, disposition common.Disposition) Result {
	events := make([]common.Event, len(engine.pending))
	copy(events, engine.pending)
	return Result{
		Order:       order,
		Trades:      trades,
		Disposition: disposition,
		Events:      events,
	}
}

// flush hands the call's events to the reporter before the lock is
// released.
func (engine *Engine) flush() {
	engine.resting.Store(int64(engine.book.Len()))
	if len(engine.pending) == 0 {
		return
	}
	events := make([]common.Event, len(engine.pending))
	copy(events, engine.pending)
	engine.pending = engine.pending[:0]
	engine.reporter.Report(events)
}
