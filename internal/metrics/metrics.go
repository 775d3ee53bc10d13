// Package metrics exposes the engines' event streams as prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kestrel/internal/common"
)

const namespace = "kestrel"

// RestingFunc reports how many orders rest on an instrument's book.
type RestingFunc func(instrument string) (int, bool)

// Sink counts events as they leave the dispatcher.
type Sink struct {
	registry *prometheus.Registry
	resting  RestingFunc

	events       *prometheus.CounterVec
	tradedVolume *prometheus.CounterVec
	trades       *prometheus.CounterVec
	restingOrder *prometheus.GaugeVec
	lastSequence *prometheus.GaugeVec
	batchSize    prometheus.Histogram
}

func NewSink(resting RestingFunc) *Sink {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Sink{
		registry: registry,
		resting:  resting,
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "events_total",
				Help:      "Events emitted by the matching engines",
			},
			[]string{"instrument", "kind"},
		),
		tradedVolume: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "traded_quantity_total",
				Help:      "Quantity executed across all trades",
			},
			[]string{"instrument"},
		),
		trades: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "trades_total",
				Help:      "Number of executions",
			},
			[]string{"instrument"},
		),
		restingOrder: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "book",
				Name:      "resting_orders",
				Help:      "Orders currently resting on the book",
			},
			[]string{"instrument"},
		),
		lastSequence: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "last_sequence",
				Help:      "Sequence number of the latest dispatched event",
			},
			[]string{"instrument"},
		),
		batchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "batch_events",
				Help:      "Events per dispatched batch",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
	}
}

func (s *Sink) Name() string { return "metrics" }

func (s *Sink) Publish(_ context.Context, events []common.Event) error {
	s.batchSize.Observe(float64(len(events)))

	touched := make(map[string]struct{})
	for _, event := range events {
		s.events.WithLabelValues(event.Instrument, event.Kind.String()).Inc()
		if event.Kind == common.TradeExecuted {
			s.trades.WithLabelValues(event.Instrument).Inc()
			s.tradedVolume.WithLabelValues(event.Instrument).Add(float64(event.Quantity))
		}
		s.lastSequence.WithLabelValues(event.Instrument).Set(float64(event.Sequence))
		touched[event.Instrument] = struct{}{}
	}

	if s.resting != nil {
		for instrument := range touched {
			if n, ok := s.resting(instrument); ok {
				s.restingOrder.WithLabelValues(instrument).Set(float64(n))
			}
		}
	}
	return nil
}

func (s *Sink) Registry() *prometheus.Registry { return s.registry }

// Handler serves the sink's registry in the prometheus text format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}
