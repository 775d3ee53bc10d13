package exchange

import (
	"errors"
	"fmt"
	"sort"

	"kestrel/internal/config"
	"kestrel/internal/engine"
)

var (
	ErrUnknownInstrument   = errors.New("unknown instrument")
	ErrDuplicateInstrument = errors.New("instrument already listed")
)

type listing struct {
	instrument config.Instrument
	engine     *engine.Engine
}

// Exchange holds one independent matching engine per listed instrument.
// It is built once at startup and read concurrently afterwards.
type Exchange struct {
	listings map[string]listing
}

func New() *Exchange {
	return &Exchange{listings: make(map[string]listing)}
}

// List creates the engine for inst.
func (ex *Exchange) List(inst config.Instrument, opts ...engine.Option) (*engine.Engine, error) {
	if _, ok := ex.listings[inst.Symbol]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateInstrument, inst.Symbol)
	}
	if _, err := inst.Tick(); err != nil {
		return nil, err
	}
	eng := engine.New(inst.Symbol, opts...)
	ex.listings[inst.Symbol] = listing{instrument: inst, engine: eng}
	return eng, nil
}

// Engine looks up the engine of symbol.
func (ex *Exchange) Engine(symbol string) (*engine.Engine, error) {
	l, ok := ex.listings[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInstrument, symbol)
	}
	return l.engine, nil
}

func (ex *Exchange) Instrument(symbol string) (config.Instrument, error) {
	l, ok := ex.listings[symbol]
	if !ok {
		return config.Instrument{}, fmt.Errorf("%w: %q", ErrUnknownInstrument, symbol)
	}
	return l.instrument, nil
}

// Symbols lists the instruments in name order.
func (ex *Exchange) Symbols() []string {
	symbols := make([]string, 0, len(ex.listings))
	for symbol := range ex.listings {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Halted reports every instrument whose engine has stopped.
func (ex *Exchange) Halted() map[string]error {
	halted := make(map[string]error)
	for symbol, l := range ex.listings {
		if err := l.engine.Halted(); err != nil {
			halted[symbol] = err
		}
	}
	return halted
}
