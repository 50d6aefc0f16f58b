// Package debounce coalesces bursts of mutation records into single
// matching passes. A framework tearing down and rebuilding a subtree within
// milliseconds becomes one pass, not many.
package debounce

import (
	"time"

	"github.com/hazyhaar/domtrack/mutation"
)

// Config controls the batching behaviour.
type Config struct {
	// Window is the debounce time. Default: 250ms.
	Window time.Duration
	// MaxBuffer flushes immediately when this many records accumulate.
	// Default: 1000.
	MaxBuffer int
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = 250 * time.Millisecond
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 1000
	}
}

// Debouncer collects raw records and emits compressed slices when the
// window expires or the buffer fills. Not safe for concurrent use; it lives
// on the tracker's single update goroutine.
type Debouncer struct {
	cfg     Config
	records []mutation.Record
	timer   *time.Timer
	timerCh <-chan time.Time
	flushFn func([]mutation.Record)
}

// New creates a Debouncer delivering to flushFn.
func New(cfg Config, flushFn func([]mutation.Record)) *Debouncer {
	cfg.defaults()
	return &Debouncer{
		cfg:     cfg,
		records: make([]mutation.Record, 0, cfg.MaxBuffer),
		flushFn: flushFn,
	}
}

// Add pushes records into the buffer and (re)starts the window timer.
// A pending timer is reset, never stacked: a new burst postpones the pass.
// Returns true if the buffer filled and an immediate flush was triggered.
func (d *Debouncer) Add(recs ...mutation.Record) bool {
	d.records = append(d.records, recs...)

	if len(d.records) >= d.cfg.MaxBuffer {
		d.Flush()
		return true
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.NewTimer(d.cfg.Window)
	d.timerCh = d.timer.C
	return false
}

// TimerC returns the channel that fires when the debounce window expires.
// Nil while no flush is pending.
func (d *Debouncer) TimerC() <-chan time.Time {
	return d.timerCh
}

// Pending reports whether records are buffered.
func (d *Debouncer) Pending() bool {
	return len(d.records) > 0
}

// Flush compresses and emits the buffered records, then resets.
func (d *Debouncer) Flush() {
	if len(d.records) == 0 {
		return
	}

	compressed := Compress(d.records)
	d.flushFn(compressed)

	d.records = d.records[:0]
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
		d.timerCh = nil
	}
}

// Compress collapses redundant churn before a pass:
//   - N consecutive attr on same (xpath, name) → keep last (old_value from first)
//   - N consecutive text on same xpath → keep last
//   - insert/remove/move are structurally significant, never compressed
func Compress(records []mutation.Record) []mutation.Record {
	if len(records) <= 1 {
		return records
	}

	result := make([]mutation.Record, 0, len(records))

	for i := 0; i < len(records); i++ {
		rec := records[i]

		switch rec.Op {
		case mutation.OpAttr:
			firstOld := rec.OldValue
			j := i + 1
			for j < len(records) &&
				records[j].Op == mutation.OpAttr &&
				records[j].XPath == rec.XPath &&
				records[j].Name == rec.Name {
				rec = records[j]
				j++
			}
			rec.OldValue = firstOld
			result = append(result, rec)
			i = j - 1

		case mutation.OpText:
			firstOld := rec.OldValue
			j := i + 1
			for j < len(records) &&
				records[j].Op == mutation.OpText &&
				records[j].XPath == rec.XPath {
				rec = records[j]
				j++
			}
			rec.OldValue = firstOld
			result = append(result, rec)
			i = j - 1

		default:
			result = append(result, rec)
		}
	}

	return result
}
