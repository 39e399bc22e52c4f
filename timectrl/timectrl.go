package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time, so simulation
// components can depend on a clock abstraction rather than a concrete
// controller.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// After returns a channel that receives the simulation time once d has
	// elapsed in simulation time.
	After(d time.Duration) <-chan time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run while still stepping by Tick.
	Accelerated
)

// Listener receives the new simulation time and the simulated time elapsed
// since its previous call.
type Listener func(now time.Time, dt time.Duration)

type cadenceListener struct {
	every   time.Duration
	pending time.Duration
	fn      Listener
}

type timer struct {
	at time.Time
	ch chan time.Time
}

// TimeController is the host-owned simulation clock. Frame listeners run on
// every tick; cadence listeners run at a lower, fixed simulated interval.
// It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	// currentTime tracks the current simulation time.
	currentTime time.Time

	listeners []Listener
	cadence   []*cadenceListener
	timers    []timer
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime jumps the simulation clock without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	due := tc.dueTimersLocked()
	tc.mu.Unlock()
	fire(due, t)
}

// After returns a channel that receives the simulation time once d has
// elapsed in simulation time. Implements SimClock.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	tc.mu.Lock()
	now := tc.currentTime
	if d <= 0 {
		tc.mu.Unlock()
		ch <- now
		return ch
	}
	tc.timers = append(tc.timers, timer{at: now.Add(d), ch: ch})
	tc.mu.Unlock()
	return ch
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn Listener) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// AddCadenceListener registers a callback invoked once at least `every` of
// simulated time has accumulated. dt is the accumulated time.
func (tc *TimeController) AddCadenceListener(every time.Duration, fn Listener) {
	if every <= 0 {
		tc.AddListener(fn)
		return
	}
	tc.mu.Lock()
	tc.cadence = append(tc.cadence, &cadenceListener{every: every, fn: fn})
	tc.mu.Unlock()
}

// Step advances simulation time by d and notifies listeners. Hosts without
// a real-time loop and tests drive the clock with Step.
func (tc *TimeController) Step(d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(d)
	now := tc.currentTime
	frame := append([]Listener(nil), tc.listeners...)
	var slow []func()
	for _, c := range tc.cadence {
		c.pending += d
		if c.pending >= c.every {
			fn, acc := c.fn, c.pending
			c.pending = 0
			slow = append(slow, func() { fn(now, acc) })
		}
	}
	due := tc.dueTimersLocked()
	tc.mu.Unlock()

	// Notify outside the lock so listeners may read the clock.
	for _, fn := range frame {
		fn(now, d)
	}
	for _, fn := range slow {
		fn()
	}
	fire(due, now)
	return now
}

// Start runs the controller for the specified duration (forever when
// duration <= 0) in a separate goroutine until ctx is cancelled. It returns
// a channel that is closed when the controller finishes.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		tc.currentTime = tc.StartTime
		tick := tc.Tick
		mode := tc.Mode
		tc.mu.Unlock()
		if tick <= 0 {
			return
		}

		var ticks <-chan time.Time
		if mode == RealTime {
			ticker := time.NewTicker(tick)
			defer ticker.Stop()
			ticks = ticker.C
		}

		elapsed := time.Duration(0)
		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			if ticks != nil {
				select {
				case <-ctx.Done():
					return
				case <-ticks:
				}
			} else if ctx.Err() != nil {
				return
			}
			tc.Step(tick)
			elapsed += tick
		}
	}()
	return done
}

// dueTimersLocked removes and returns timers whose deadline has passed.
// Callers hold tc.mu.
func (tc *TimeController) dueTimersLocked() []chan time.Time {
	var due []chan time.Time
	kept := tc.timers[:0]
	for _, t := range tc.timers {
		if !t.at.After(tc.currentTime) {
			due = append(due, t.ch)
			continue
		}
		kept = append(kept, t)
	}
	tc.timers = kept
	return due
}

func fire(chans []chan time.Time, now time.Time) {
	for _, ch := range chans {
		ch <- now
	}
}
