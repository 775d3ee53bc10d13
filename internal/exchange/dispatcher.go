package exchange

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"kestrel/internal/common"
)

// Sink consumes event batches after they leave the engine.
type Sink interface {
	Name() string
	Publish(ctx context.Context, events []common.Event) error
}

// Dispatcher decouples engines from their downstream consumers. Engines
// report into a bounded queue; a single goroutine drains it and hands
// every batch to each sink in turn, so all sinks see the same order.
//
// A full queue blocks the reporting engine. Events are never dropped
// while the dispatcher is open.
type Dispatcher struct {
	t     tomb.Tomb
	queue chan []common.Event
	sinks []Sink

	mu      sync.RWMutex
	started bool
	closed  bool
}

func NewDispatcher(size int, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	return &Dispatcher{
		queue: make(chan []common.Event, size),
		sinks: sinks,
	}
}

// Start runs the drain loop.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	d.t.Go(d.run)
}

// Report implements engine.Reporter.
func (d *Dispatcher) Report(events []common.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		log.Warn().Int("events", len(events)).Msg("dispatcher closed, dropping events")
		return
	}
	d.queue <- events
}

// Close stops accepting events, waits for the queue to drain and
// returns once every sink has seen everything reported before.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	started := d.started
	d.mu.Unlock()
	if !started {
		return nil
	}
	return d.t.Wait()
}

func (d *Dispatcher) run() error {
	ctx := d.t.Context(context.Background())
	for batch := range d.queue {
		if len(batch) == 0 {
			continue
		}
		for _, sink := range d.sinks {
			if err := sink.Publish(ctx, batch); err != nil {
				log.Error().
					Err(err).
					Str("sink", sink.Name()).
					Uint64("from", batch[0].Sequence).
					Int("events", len(batch)).
					Msg("sink failed to publish events")
			}
		}
	}
	return nil
}
