package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/cockroachdb/pebble"

	"kestrel/internal/common"
)

const keyPrefix = "event/"

var ErrCorruptKey = errors.New("corrupt journal key")

// Journal is an append-only pebble store of every instrument's event
// stream, keyed so that a prefix scan replays one instrument in sequence
// order.
type Journal struct {
	db *pebble.DB
}

func Open(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("unable to open journal at %s: %w", dir, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) Name() string { return "journal" }

// Publish writes a batch of events in one synced pebble batch.
func (j *Journal) Publish(_ context.Context, events []common.Event) error {
	batch := j.db.NewBatch()
	defer batch.Close()

	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("unable to encode event %d: %w", event.Sequence, err)
		}
		if err := batch.Set(keyFor(event.Instrument, event.Sequence), value, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// LastSequence returns the highest journaled sequence of instrument, or
// zero when nothing was journaled yet.
func (j *Journal) LastSequence(instrument string) (uint64, error) {
	lower, upper := bounds(instrument)
	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return sequenceOf(instrument, iter.Key())
}

// Scan calls fn for every event of instrument with a sequence of at least
// from, in sequence order. Returning an error from fn stops the scan.
func (j *Journal) Scan(instrument string, from uint64, fn func(common.Event) error) error {
	lower, upper := bounds(instrument)
	if from > 0 {
		lower = keyFor(instrument, from)
	}
	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var event common.Event
		if err := json.Unmarshal(iter.Value(), &event); err != nil {
			return fmt.Errorf("unable to decode %s: %w", iter.Key(), err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Keys are event/<len>/<instrument>/<20 digit sequence>. Zero padding keeps
// byte order equal to sequence order. The length stops one symbol's range
// from swallowing another that extends it with a slash.
func instrumentPrefix(instrument string) string {
	return fmt.Sprintf("%s%d/%s/", keyPrefix, len(instrument), instrument)
}

func keyFor(instrument string, seq uint64) []byte {
	return fmt.Appendf(nil, "%s%020d", instrumentPrefix(instrument), seq)
}

func bounds(instrument string) (lower, upper []byte) {
	prefix := instrumentPrefix(instrument)
	lower = []byte(prefix)
	upper = []byte(prefix[:len(prefix)-1] + "0") // '0' sorts right after '/'
	return lower, upper
}

func sequenceOf(instrument string, key []byte) (uint64, error) {
	prefix := len(instrumentPrefix(instrument))
	if len(key) <= prefix {
		return 0, fmt.Errorf("%w: %q", ErrCorruptKey, key)
	}
	seq, err := strconv.ParseUint(string(key[prefix:]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrCorruptKey, key)
	}
	return seq, nil
}
