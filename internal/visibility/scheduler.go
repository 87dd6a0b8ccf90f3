// Package visibility drives a panel's presentation through the
// hidden → appearing → shown → disappearing cycle, with a grace period
// between "paused" and "treat as stopped".
package visibility

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/avendeel/sonabridge/internal/filter"
)

// Phase is one leg of the show/hide cycle.
type Phase string

const (
	PhaseHidden       Phase = "hidden"
	PhaseAppearing    Phase = "appearing"
	PhaseShown        Phase = "shown"
	PhaseDisappearing Phase = "disappearing"
)

// State is the derived presentation of one panel. Locked means an entity
// is selected and playing or buffering: the panel must not hide, whatever
// transient values pass through. PendingHideAtMs is the UnixMilli moment
// the grace timer will fire, zero when none is armed.
type State struct {
	Phase           Phase `json:"phase"`
	Visible         bool  `json:"visible"`
	Locked          bool  `json:"locked"`
	PendingHideAtMs int64 `json:"pending_hide_at_ms,omitempty"`
}

// Timings configures the transition clockwork.
type Timings struct {
	FrameInterval time.Duration // one animation frame
	Appear        time.Duration // enter transition length
	Disappear     time.Duration // exit transition length
	Grace         time.Duration // pause before an implicit stop
}

// DefaultTimings returns the stock clockwork: 16 ms frames, 300/250 ms
// transitions, a 5 s grace period.
func DefaultTimings() Timings {
	return Timings{
		FrameInterval: 16 * time.Millisecond,
		Appear:        300 * time.Millisecond,
		Disappear:     250 * time.Millisecond,
		Grace:         5 * time.Second,
	}
}

func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.FrameInterval <= 0 {
		t.FrameInterval = d.FrameInterval
	}
	if t.Appear <= 0 {
		t.Appear = d.Appear
	}
	if t.Disappear <= 0 {
		t.Disappear = d.Disappear
	}
	if t.Grace <= 0 {
		t.Grace = d.Grace
	}
	return t
}

// Scheduler is the transition state machine for one panel. Timers live in
// named slots, one per purpose: show (frame delay, then appear, then
// disappear, strictly sequential) and grace. Every slot carries a
// generation; cancelling or rescheduling bumps it, and a firing callback
// no-ops unless its generation is still current, so a stale fire can never
// act against newer state.
type Scheduler struct {
	mu  sync.Mutex
	clk clock.Clock
	log zerolog.Logger

	t Timings

	phase  Phase
	locked bool
	closed bool

	showTimer *clock.Timer
	showGen   uint64

	graceTimer    *clock.Timer
	graceGen      uint64
	pendingHideAt time.Time

	stop     func()      // implicit stop when the grace period elapses
	onChange func(State) // presentation push

	lastEmit State
}

// New returns a scheduler in the hidden phase. Zero timings fall back to
// the defaults.
func New(clk clock.Clock, t Timings, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		clk:   clk,
		t:     t.withDefaults(),
		log:   log,
		phase: PhaseHidden,
	}
}

// OnStop registers the implicit-stop callback, fired at most once per
// elapsed grace period. It runs outside the scheduler lock and must not
// call back into the scheduler.
func (s *Scheduler) OnStop(fn func()) {
	s.mu.Lock()
	s.stop = fn
	s.mu.Unlock()
}

// OnChange registers the presentation push. It runs under the scheduler
// lock, so pushes arrive in transition order; it must not call back into
// the scheduler.
func (s *Scheduler) OnChange(fn func(State)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// State returns the current presentation.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Update feeds the next gated view in. All transition rules run in one
// critical section, so a timer fire can never interleave mid-decision.
func (s *Scheduler) Update(v filter.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	live := v.Playing || v.Buffering
	s.locked = v.HasEntity && live

	switch {
	case live && v.HasEntity:
		s.cancelGraceLocked()
		s.beginShowLocked()

	case live:
		// Stability rule: the entity blinked out mid switch while audio
		// is still live. Re-lock to shown instead of hide-then-show.
		s.cancelGraceLocked()
		if s.phase == PhaseHidden {
			s.cancelShowLocked()
		} else {
			s.locked = true
			s.relockShownLocked()
		}

	case v.HasEntity:
		// Paused with the entity retained.
		if s.phase == PhaseHidden {
			// A pending enter must not run for paused playback.
			s.cancelShowLocked()
		} else if s.graceTimer == nil && (s.phase == PhaseAppearing || s.phase == PhaseShown) {
			s.armGraceLocked()
		}

	default:
		// Nothing selected: hidden now, no grace, no exit animation.
		s.toHiddenLocked()
	}

	s.emitLocked()
}

// Stopped records a user-issued stop: the hidden transition runs
// immediately and the grace timer dies with it, so the implicit stop can
// never double a manual one.
func (s *Scheduler) Stopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.locked = false
	s.toHiddenLocked()
	s.emitLocked()
}

// Close tears the scheduler down and cancels every timer. No callback
// fires afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancelShowLocked()
	s.cancelGraceLocked()
}

// ── Transitions ──────────────────────────────────────────────────────────

func (s *Scheduler) beginShowLocked() {
	switch s.phase {
	case PhaseAppearing, PhaseShown:
		// Already on stage or on the way; the pending leg keeps its timer.

	case PhaseDisappearing:
		// Live audio interrupted the exit: re-lock without running the
		// cycle backwards.
		s.cancelShowLocked()
		s.phase = PhaseShown

	case PhaseHidden:
		if s.showTimer != nil {
			return // enter already scheduled; do not reset the delay
		}
		// Two frame boundaries let layout settle before the enter
		// transition starts.
		s.scheduleShowLocked(2*s.t.FrameInterval, s.frameDelayElapsed)
	}
}

func (s *Scheduler) relockShownLocked() {
	if s.phase == PhaseShown {
		return
	}
	s.cancelShowLocked()
	s.phase = PhaseShown
}

func (s *Scheduler) toHiddenLocked() {
	s.cancelShowLocked()
	s.cancelGraceLocked()
	s.phase = PhaseHidden
}

func (s *Scheduler) armGraceLocked() {
	s.cancelGraceLocked()
	s.pendingHideAt = s.clk.Now().Add(s.t.Grace)
	s.graceGen++
	gen := s.graceGen
	s.graceTimer = s.clk.AfterFunc(s.t.Grace, func() { s.graceExpired(gen) })
}

// scheduleShowLocked arms the show slot for the next sequential leg.
func (s *Scheduler) scheduleShowLocked(d time.Duration, fn func(gen uint64)) {
	s.showGen++
	gen := s.showGen
	s.showTimer = s.clk.AfterFunc(d, func() { fn(gen) })
}

// ── Timer callbacks ──────────────────────────────────────────────────────

func (s *Scheduler) frameDelayElapsed(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.showGen {
		return
	}
	s.phase = PhaseAppearing
	s.scheduleShowLocked(s.t.Appear, s.appearElapsed)
	s.emitLocked()
}

func (s *Scheduler) appearElapsed(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.showGen {
		return
	}
	s.showTimer = nil
	s.phase = PhaseShown
	s.emitLocked()
}

func (s *Scheduler) graceExpired(gen uint64) {
	var stop func()

	s.mu.Lock()
	if s.closed || gen != s.graceGen {
		s.mu.Unlock()
		return
	}
	s.graceTimer = nil
	s.pendingHideAt = time.Time{}

	// Paused long enough: treat as stopped and leave the stage.
	s.log.Debug().Msg("grace period elapsed, issuing implicit stop")
	stop = s.stop
	s.phase = PhaseDisappearing
	s.scheduleShowLocked(s.t.Disappear, s.hideElapsed)
	s.emitLocked()
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (s *Scheduler) hideElapsed(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.showGen {
		return
	}
	s.showTimer = nil
	s.phase = PhaseHidden
	s.emitLocked()
}

// ── Slots ────────────────────────────────────────────────────────────────

func (s *Scheduler) cancelShowLocked() {
	s.showGen++
	if s.showTimer != nil {
		s.showTimer.Stop()
		s.showTimer = nil
	}
}

func (s *Scheduler) cancelGraceLocked() {
	s.graceGen++
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.pendingHideAt = time.Time{}
}

func (s *Scheduler) stateLocked() State {
	st := State{Phase: s.phase, Visible: s.phase != PhaseHidden, Locked: s.locked}
	if !s.pendingHideAt.IsZero() {
		st.PendingHideAtMs = s.pendingHideAt.UnixMilli()
	}
	return st
}

func (s *Scheduler) emitLocked() {
	st := s.stateLocked()
	if st == s.lastEmit {
		return
	}
	s.lastEmit = st
	if s.onChange != nil {
		s.onChange(st)
	}
}
