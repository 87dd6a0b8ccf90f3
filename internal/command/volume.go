package command

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/avendeel/sonabridge/internal/proto"
	"github.com/avendeel/sonabridge/internal/source"
	"github.com/avendeel/sonabridge/internal/state"
)

// VolumeThrottle serializes volume input into at most one backend send per
// debounce window, with a failsafe guaranteeing a send under continuous
// input. Every input lands in the store immediately as a tagged optimistic
// echo, so the UI tracks the gesture while the wire stays quiet.
//
// Two named slots: debounce is cancelled and rescheduled on every input;
// the failsafe arms when a burst starts and is not pushed back, otherwise
// it could never fire while input keeps coming. Any send clears both.
type VolumeThrottle struct {
	tr   Transport
	st   *state.Store
	clk  clock.Clock
	log  zerolog.Logger
	step int

	debounce time.Duration
	failsafe time.Duration

	mu            sync.Mutex
	level         int
	dirty         bool
	debounceTimer *clock.Timer
	debounceGen   uint64
	failsafeTimer *clock.Timer
	failsafeGen   uint64
	closed        bool
}

// NewVolumeThrottle builds a throttle. Non-positive durations fall back to
// 50 ms debounce and 200 ms failsafe; a non-positive step falls back to 5.
func NewVolumeThrottle(tr Transport, st *state.Store, clk clock.Clock, debounce, failsafe time.Duration, step int, log zerolog.Logger) *VolumeThrottle {
	if debounce <= 0 {
		debounce = 50 * time.Millisecond
	}
	if failsafe <= 0 {
		failsafe = 200 * time.Millisecond
	}
	if step <= 0 {
		step = 5
	}
	return &VolumeThrottle{
		tr:       tr,
		st:       st,
		clk:      clk,
		log:      log,
		step:     step,
		debounce: debounce,
		failsafe: failsafe,
	}
}

// Step returns the configured increment for one up/down tick.
func (v *VolumeThrottle) Step() int { return v.step }

// AdjustVolume moves the level by delta relative to the latest target.
func (v *VolumeThrottle) AdjustVolume(delta int) int {
	v.mu.Lock()
	base := v.level
	if !v.dirty {
		base = v.st.Snapshot().Volume
	}
	v.mu.Unlock()
	return v.SetVolume(base + delta)
}

// SetVolume records an absolute target, clamped to 0..100, and reschedules
// the timers. Returns the clamped level.
func (v *VolumeThrottle) SetVolume(level int) int {
	level = source.ClampVolume(level)
	v.st.ApplyOptimisticVolume(level)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return level
	}

	v.level = level
	v.dirty = true

	// Debounce: reset on every input.
	v.debounceGen++
	gen := v.debounceGen
	if v.debounceTimer != nil {
		v.debounceTimer.Stop()
	}
	v.debounceTimer = v.clk.AfterFunc(v.debounce, func() { v.timerFired(gen, &v.debounceGen) })

	// Failsafe: arm once per burst.
	if v.failsafeTimer == nil {
		v.failsafeGen++
		fgen := v.failsafeGen
		v.failsafeTimer = v.clk.AfterFunc(v.failsafe, func() { v.timerFired(fgen, &v.failsafeGen) })
	}

	return level
}

// End flushes the gesture: both timers die and the final value goes out
// immediately, once per dirty burst.
func (v *VolumeThrottle) End(ctx context.Context) {
	v.mu.Lock()
	if v.closed || !v.dirty {
		v.clearSlotsLocked()
		v.mu.Unlock()
		return
	}
	level := v.takeLocked()
	v.mu.Unlock()

	v.deliver(ctx, level)
}

// Close cancels both slots; nothing fires afterwards.
func (v *VolumeThrottle) Close() {
	v.mu.Lock()
	v.closed = true
	v.clearSlotsLocked()
	v.dirty = false
	v.mu.Unlock()
}

func (v *VolumeThrottle) timerFired(gen uint64, slot *uint64) {
	v.mu.Lock()
	if v.closed || gen != *slot || !v.dirty {
		v.mu.Unlock()
		return
	}
	level := v.takeLocked()
	v.mu.Unlock()

	v.deliver(context.Background(), level)
}

// takeLocked consumes the pending burst: latest level out, both slots
// cleared, dirty reset.
func (v *VolumeThrottle) takeLocked() int {
	level := v.level
	v.dirty = false
	v.clearSlotsLocked()
	return level
}

func (v *VolumeThrottle) clearSlotsLocked() {
	v.debounceGen++
	if v.debounceTimer != nil {
		v.debounceTimer.Stop()
		v.debounceTimer = nil
	}
	v.failsafeGen++
	if v.failsafeTimer != nil {
		v.failsafeTimer.Stop()
		v.failsafeTimer = nil
	}
}

func (v *VolumeThrottle) deliver(ctx context.Context, level int) {
	if err := v.tr.Call(ctx, proto.Command{Kind: proto.CmdSetVolume, Volume: level}); err != nil {
		v.log.Warn().Err(err).Int("level", level).Msg("volume send failed")
	}
}
