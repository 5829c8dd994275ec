// Package battery implements the AttentionBattery (component C6): a
// leaky-bucket energy accumulator with causal admission rules. Structured
// like the pack's token bucket (internal/budget/token_bucket.go) — a
// mutex-guarded capacity/level pair with atomic lifetime counters — but
// the periodic full-refill of that bucket is replaced with continuous
// leak-based decay, and Consume subtracts an arbitrary float cost rather
// than a fixed per-state cost table.
package battery

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Battery is the AttentionBattery.
type Battery struct {
	mu       sync.Mutex
	level    float64
	capacity float64
	leakRate float64

	lastDecay time.Time
	cursor    uint64 // causal_event_cursor, monotonic-only

	consumedTotal atomic.Uint64 // lifetime whole-unit cost consumed, for metrics
	chargedTotal  atomic.Uint64

	now func() time.Time
}

// New creates a Battery initialized at jumpstart (spec's "small positive
// jumpstart" resolution of the zero-vs-15 Open Question).
func New(capacity, leakRate, jumpstart float64, now func() time.Time) *Battery {
	if now == nil {
		now = time.Now
	}
	if jumpstart < 0 {
		jumpstart = 0
	}
	if jumpstart > capacity {
		jumpstart = capacity
	}
	return &Battery{
		level:     jumpstart,
		capacity:  capacity,
		leakRate:  leakRate,
		lastDecay: now(),
		now:       now,
	}
}

// decay applies the leak: level ← max(0, level − (now−last_decay)·leak_rate).
// Must be called with mu held.
func (b *Battery) decay() {
	now := b.now()
	elapsed := now.Sub(b.lastDecay).Seconds()
	if elapsed > 0 {
		b.level = math.Max(0, b.level-elapsed*b.leakRate)
		b.lastDecay = now
	}
}

// Level returns the current level after applying decay.
func (b *Battery) Level() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decay()
	return b.level
}

// Capacity returns the configured capacity.
func (b *Battery) Capacity() float64 { return b.capacity }

// ChargeFocus is the v2, focus-based charge path (spec §4.6):
// focus_charge = minutes·10; edit_bonus = √bursts·5; nav_bonus = nav·2.
func (b *Battery) ChargeFocus(focusMinutes float64, editBurstCount, navigationEvents int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decay()

	focusCharge := focusMinutes * 10
	editBonus := math.Sqrt(float64(editBurstCount)) * 5
	navBonus := float64(navigationEvents) * 2

	b.level = math.Min(b.capacity, b.level+focusCharge+editBonus+navBonus)
	b.chargedTotal.Add(1)
}

// ChargeLegacy is the legacy kinematic charge path (spec §4.6). If
// hardwareEventCount does not exceed the recorded cursor, it returns
// without charging — the causality rule that forbids charging on
// "phantom" intervals. The cursor only moves forward: a count lower than
// a previously observed value is treated like an unchanged one (no charge,
// cursor left as it is).
func (b *Battery) ChargeLegacy(motorEntropy float64, dt time.Duration, hardwareEventCount uint64, keyboardHits int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decay()

	if hardwareEventCount <= b.cursor {
		return
	}
	deltaEvents := hardwareEventCount - b.cursor

	mouseContribution := math.Min(motorEntropy*dt.Seconds()*5, float64(deltaEvents)*0.1)
	keyboardContribution := math.Min(0.5*float64(keyboardHits), 20)

	b.level = math.Min(b.capacity, b.level+mouseContribution+keyboardContribution)
	b.cursor = hardwareEventCount
	b.chargedTotal.Add(1)
}

// Consume applies decay, then subtracts cost if sufficient energy is
// available. Returns false without subtracting if level < cost.
func (b *Battery) Consume(cost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decay()

	if b.level >= cost {
		b.level -= cost
		b.consumedTotal.Add(uint64(math.Round(cost)))
		return true
	}
	return false
}

// Cursor returns the current causal_event_cursor, for tests and metrics.
func (b *Battery) Cursor() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cursor
}

// ConsumedTotal returns the lifetime whole-unit cost consumed.
func (b *Battery) ConsumedTotal() uint64 { return b.consumedTotal.Load() }

// ChargedTotal returns the lifetime number of successful charge calls.
func (b *Battery) ChargedTotal() uint64 { return b.chargedTotal.Load() }
