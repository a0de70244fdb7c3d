// Package msgid generates time-ordered identifiers for ledger entries.
//
// An ID is "<UTC timestamp>_<uuid>", where the timestamp is fixed-width
// RFC3339 with nanoseconds, so byte order equals chronological order.
package msgid

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const layout = "2006-01-02T15:04:05.000000000Z"

// ErrMalformed is returned when an ID does not have the expected shape.
var ErrMalformed = errors.New("malformed message id")

// Generator hands out IDs whose timestamps strictly increase within the process.
type Generator struct {
	now  func() time.Time
	last atomic.Int64
}

// NewGenerator creates a generator using the wall clock.
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// NewGeneratorWithClock creates a generator with a custom clock.
func NewGeneratorWithClock(now func() time.Time) *Generator {
	return &Generator{now: now}
}

// Next returns a new ID and the timestamp encoded in it.
func (g *Generator) Next() (string, time.Time) {
	ts := g.tick()
	return Format(ts, uuid.Must(uuid.NewV7()).String()), ts
}

// tick returns now, bumped past the last issued timestamp if the clock
// stalled or went backwards.
func (g *Generator) tick() time.Time {
	for {
		last := g.last.Load()
		ns := g.now().UnixNano()
		if ns <= last {
			ns = last + 1
		}
		if g.last.CompareAndSwap(last, ns) {
			return time.Unix(0, ns).UTC()
		}
	}
}

// Format builds an ID from a timestamp and a unique suffix.
func Format(ts time.Time, suffix string) string {
	return ts.UTC().Format(layout) + "_" + suffix
}

// Time extracts the timestamp component of an ID.
func Time(id string) (time.Time, error) {
	prefix, suffix, ok := strings.Cut(id, "_")
	if !ok || suffix == "" || len(prefix) != len(layout) {
		return time.Time{}, ErrMalformed
	}
	ts, err := time.Parse(layout, prefix)
	if err != nil {
		return time.Time{}, ErrMalformed
	}
	return ts, nil
}

// Valid reports whether id was produced by Format.
func Valid(id string) bool {
	_, err := Time(id)
	return err == nil
}
