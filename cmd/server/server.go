package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"kestrel/internal/config"
	"kestrel/internal/engine"
	"kestrel/internal/exchange"
	"kestrel/internal/journal"
	"kestrel/internal/metrics"
	"kestrel/internal/net"
	"kestrel/internal/publish"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	if err := cfg.Log.Setup(); err != nil {
		log.Fatal().Err(err).Msg("unable to set up logging")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	ex := exchange.New()

	// Sinks see every batch in this order: durable first, then market
	// data, then metrics, then the owners' sessions.
	var sinks []exchange.Sink

	var jrnl *journal.Journal
	if cfg.Journal.Dir != "" {
		var err error
		if jrnl, err = journal.Open(cfg.Journal.Dir); err != nil {
			return err
		}
		defer func() {
			if err := jrnl.Close(); err != nil {
				log.Error().Err(err).Msg("unable to close journal")
			}
		}()
		sinks = append(sinks, jrnl)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub := publish.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := pub.Close(); err != nil {
				log.Error().Err(err).Msg("unable to close kafka writer")
			}
		}()
		sinks = append(sinks, pub)
	}

	var metricsSink *metrics.Sink
	if cfg.Metrics.Address != "" {
		metricsSink = metrics.NewSink(func(symbol string) (int, bool) {
			eng, err := ex.Engine(symbol)
			if err != nil {
				return 0, false
			}
			return eng.Resting(), true
		})
		sinks = append(sinks, metricsSink)
	}

	srv := net.New(
		cfg.Server.Address,
		cfg.Server.Port,
		ex,
		net.WithWorkers(uint(cfg.Server.Workers)),
		net.WithReadTimeout(cfg.Server.ReadTimeout),
	)
	sinks = append(sinks, srv)

	dispatcher := exchange.NewDispatcher(cfg.Dispatch.QueueSize, sinks...)
	dispatcher.Start()
	// Drain before the sinks above are closed.
	defer func() {
		if err := dispatcher.Close(); err != nil {
			log.Error().Err(err).Msg("dispatcher failed")
		}
	}()

	for _, inst := range cfg.Instruments {
		opts := []engine.Option{engine.WithReporter(dispatcher)}
		if jrnl != nil {
			last, err := jrnl.LastSequence(inst.Symbol)
			if err != nil {
				return err
			}
			if last > 0 {
				log.Info().Str("instrument", inst.Symbol).Uint64("sequence", last).Msg("resuming sequence from journal")
			}
			opts = append(opts, engine.WithStartSequence(last))
		}
		if _, err := ex.List(inst, opts...); err != nil {
			return err
		}
		log.Info().Str("instrument", inst.Symbol).Str("tick", inst.TickSize).Msg("instrument listed")
	}

	if metricsSink != nil {
		go serveMetrics(ctx, cfg.Metrics.Address, metricsSink)
	}

	return srv.Run(ctx)
}

func serveMetrics(ctx context.Context, address string, sink *metrics.Sink) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", sink.Handler())
	httpSrv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("unable to stop metrics server")
		}
	}()

	log.Info().Str("address", address).Msg("serving metrics")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics server failed")
	}
}
