package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"kestrel/internal/config"
	"kestrel/internal/engine"
	"kestrel/internal/exchange"
	"kestrel/internal/journal"
	"kestrel/internal/sim"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	symbol := flag.String("symbol", "", "Instrument to simulate (default: first configured)")
	count := flag.Int("n", 10000, "Number of intents to generate")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")
	price := flag.String("price", "100", "Initial mid price")
	volatility := flag.Float64("volatility", 0.0005, "Per-step relative volatility")
	drift := flag.String("drift", "0", "Per-step price drift")
	printOnly := flag.Bool("print", false, "Print intents as JSON lines instead of matching them")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	if err := cfg.Log.Setup(); err != nil {
		log.Fatal().Err(err).Msg("unable to set up logging")
	}

	inst := cfg.Instruments[0]
	if *symbol != "" {
		if inst, err = cfg.Lookup(*symbol); err != nil {
			log.Fatal().Err(err).Msg("unknown instrument")
		}
	}

	gen, err := sim.NewGenerator(inst, sim.Options{
		InitialPrice: decimal.RequireFromString(*price),
		Volatility:   *volatility,
		Drift:        decimal.RequireFromString(*drift),
		Mix:          sim.DefaultMix,
	}, *seed)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create generator")
	}

	if *printOnly {
		for i := 0; i < *count; i++ {
			fmt.Fprintln(os.Stdout, gen.Next())
		}
		return
	}

	var sinks []exchange.Sink
	opts := []engine.Option{}
	if cfg.Journal.Dir != "" {
		jrnl, err := journal.Open(cfg.Journal.Dir)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to open journal")
		}
		defer jrnl.Close()
		last, err := jrnl.LastSequence(inst.Symbol)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to read journal")
		}
		opts = append(opts, engine.WithStartSequence(last))
		sinks = append(sinks, jrnl)
	}

	dispatcher := exchange.NewDispatcher(cfg.Dispatch.QueueSize, sinks...)
	dispatcher.Start()
	opts = append(opts, engine.WithReporter(dispatcher))

	ex := exchange.New()
	eng, err := ex.List(inst, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to list instrument")
	}

	var stats sim.Stats
	start := time.Now()
	for i := 0; i < *count; i++ {
		if err := sim.Apply(eng, inst, gen.Next(), &stats); err != nil {
			log.Error().Err(err).Int("step", i).Msg("simulation stopped")
			break
		}
	}
	elapsed := time.Since(start)

	if err := dispatcher.Close(); err != nil {
		log.Error().Err(err).Msg("dispatcher failed")
	}

	depth := eng.Depth(1)
	event := log.Info().
		Str("instrument", inst.Symbol).
		Int("intents", stats.Intents).
		Int("trades", stats.Trades).
		Uint64("volume", stats.Volume).
		Int("rejected", stats.Rejected).
		Int("unknown", stats.Unknown).
		Int("resting", stats.Resting).
		Uint64("last_seq", stats.LastSeq).
		Dur("elapsed", elapsed).
		Str("mid", gen.Price().String())
	if len(depth.Bids) > 0 {
		event = event.Str("best_bid", inst.FromTicks(depth.Bids[0].Price).String())
	}
	if len(depth.Asks) > 0 {
		event = event.Str("best_ask", inst.FromTicks(depth.Asks[0].Price).String())
	}
	event.Msg("simulation finished")
}
