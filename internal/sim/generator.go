// Package sim generates synthetic order flow for an instrument.
package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kestrel/internal/common"
	"kestrel/internal/config"
	"kestrel/internal/engine"
)

type Action uint8

const (
	Limit Action = iota
	Market
	Cancel
	Modify
)

var actionNames = map[Action]string{
	Limit:  "LIMIT",
	Market: "MARKET",
	Cancel: "CANCEL",
	Modify: "MODIFY",
}

func (a Action) String() string { return actionNames[a] }

func (a Action) MarshalText() ([]byte, error) {
	name, ok := actionNames[a]
	if !ok {
		return nil, fmt.Errorf("unknown action %d", a)
	}
	return []byte(name), nil
}

// Mix is the probability of each action. Weights need not sum to one.
type Mix struct {
	Limit, Market, Cancel, Modify float64
	// Probability that a new order buys.
	Buy float64
}

var DefaultMix = Mix{Limit: 0.7, Market: 0.15, Cancel: 0.1, Modify: 0.05, Buy: 0.6}

// Intent is one generated request.
type Intent struct {
	ID     string          `json:"id"`
	Symbol string          `json:"symbol"`
	Action Action          `json:"type"`
	Side   common.Side     `json:"action"`
	Price  decimal.Decimal `json:"price"`
	Qty    uint64          `json:"qty"`
}

func (i Intent) String() string {
	b, _ := json.Marshal(i)
	return string(b)
}

type Options struct {
	InitialPrice decimal.Decimal
	// Volatility scales the per-step random shock relative to the price.
	Volatility float64
	// Drift is added to the price every step.
	Drift  decimal.Decimal
	MaxQty uint64
	// Spread is how many ticks around the mid new limit orders are placed.
	Spread int64
	Mix    Mix
}

// Generator walks a price path and emits order intents around it.
// Cancels and modifies pick one of the orders it has entered before.
type Generator struct {
	instrument config.Instrument
	tick       decimal.Decimal
	opts       Options
	rng        *rand.Rand
	price      decimal.Decimal
	live       []string
}

func NewGenerator(instrument config.Instrument, opts Options, seed uint64) (*Generator, error) {
	tick, err := instrument.Tick()
	if err != nil {
		return nil, err
	}
	if !opts.InitialPrice.IsPositive() {
		return nil, errors.New("initial price must be positive")
	}
	if opts.MaxQty == 0 {
		opts.MaxQty = 100
	}
	if opts.Spread <= 0 {
		opts.Spread = 5
	}
	return &Generator{
		instrument: instrument,
		tick:       tick,
		opts:       opts,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		price:      opts.InitialPrice,
	}, nil
}

// Price is the current point of the walk.
func (g *Generator) Price() decimal.Decimal { return g.price }

func (g *Generator) Next() Intent {
	g.step()

	action := g.action()
	if (action == Cancel || action == Modify) && len(g.live) == 0 {
		action = Limit
	}

	intent := Intent{
		Symbol: g.instrument.Symbol,
		Action: action,
		Side:   common.Sell,
		Qty:    1 + g.rng.Uint64N(g.opts.MaxQty),
	}
	if g.rng.Float64() < g.opts.Mix.Buy {
		intent.Side = common.Buy
	}

	switch action {
	case Limit:
		intent.ID = uuid.NewString()
		intent.Price = g.quote(intent.Side)
		g.live = append(g.live, intent.ID)
	case Market:
		intent.ID = uuid.NewString()
	case Cancel:
		intent.ID = g.pick(true)
	case Modify:
		intent.ID = g.pick(false)
		intent.Price = g.quote(intent.Side)
	}
	return intent
}

// step moves the mid by a gaussian shock plus drift, never below one tick.
func (g *Generator) step() {
	shock := decimal.NewFromFloat(g.rng.NormFloat64() * g.opts.Volatility)
	next := g.price.Add(g.price.Mul(shock)).Add(g.opts.Drift)
	next = next.Div(g.tick).Round(0).Mul(g.tick)
	if next.LessThan(g.tick) {
		next = g.tick
	}
	g.price = next
}

func (g *Generator) action() Action {
	mix := g.opts.Mix
	weights := []float64{mix.Limit, mix.Market, mix.Cancel, mix.Modify}
	var total float64
	for _, w := range weights {
		total += w
	}
	r := g.rng.Float64() * total
	for i, w := range weights {
		if r < w {
			return Action(i)
		}
		r -= w
	}
	return Limit
}

// quote places a limit a few ticks either side of the mid, leaning
// passive so the book builds depth.
func (g *Generator) quote(side common.Side) decimal.Decimal {
	offset := g.rng.Int64N(2*g.opts.Spread+1) - g.opts.Spread/2
	if side == common.Buy {
		offset = -offset
	}
	price := g.price.Add(g.tick.Mul(decimal.NewFromInt(offset)))
	if price.LessThan(g.tick) {
		price = g.tick
	}
	return price
}

func (g *Generator) pick(remove bool) string {
	i := g.rng.IntN(len(g.live))
	id := g.live[i]
	if remove {
		g.live[i] = g.live[len(g.live)-1]
		g.live = g.live[:len(g.live)-1]
	}
	return id
}

// Stats summarises a simulation run.
type Stats struct {
	Intents  int
	Trades   int
	Volume   uint64
	Rejected int
	Unknown  int
	Resting  int
	LastSeq  uint64
}

// Apply sends an intent to eng, converting prices to ticks.
func Apply(eng *engine.Engine, instrument config.Instrument, intent Intent, stats *Stats) error {
	stats.Intents++

	var (
		result engine.Result
		err    error
	)
	switch intent.Action {
	case Limit, Market:
		order := common.Order{
			ID:          intent.ID,
			Side:        intent.Side,
			OrderType:   common.LimitOrder,
			TimeInForce: common.GTC,
			Quantity:    intent.Qty,
			Owner:       "sim",
		}
		if intent.Action == Market {
			order.OrderType = common.MarketOrder
			order.TimeInForce = common.IOC
		} else if order.LimitPrice, err = instrument.ToTicks(intent.Price); err != nil {
			return err
		}
		result, err = eng.Submit(order)
	case Cancel:
		result, err = eng.Cancel(intent.ID)
	case Modify:
		price, convErr := instrument.ToTicks(intent.Price)
		if convErr != nil {
			return convErr
		}
		result, err = eng.Modify(intent.ID, intent.Qty, price)
	}

	stats.Trades += len(result.Trades)
	stats.Volume += result.Filled()
	stats.Resting = eng.Resting()
	stats.LastSeq = eng.LastSequence()

	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrUnknownOrder):
		// Filled or cancelled already.
		stats.Unknown++
		return nil
	case errors.Is(err, common.ErrInvalidOrder), errors.Is(err, common.ErrRejectedByPolicy):
		stats.Rejected++
		return nil
	}
	return err
}
