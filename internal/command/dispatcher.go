// Package command turns user intents into outbound backend commands.
// Transport controls are fire-and-confirm: nothing flips locally, the UI
// waits for the next remote delta. The volume path is the exception and
// runs through the throttle in this package.
package command

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/avendeel/sonabridge/internal/proto"
	"github.com/avendeel/sonabridge/internal/source"
	"github.com/avendeel/sonabridge/internal/state"
)

// Sentinel errors rejected client-side, before any network call.
var (
	ErrBusy            = errors.New("command: control busy")
	ErrSpeedNotAllowed = errors.New("command: speed not allowed")
	ErrUnknownSource   = errors.New("command: unknown source")
)

// Transport carries one command to the backend and waits for its ack.
type Transport interface {
	Call(ctx context.Context, cmd proto.Command) error
}

// control names one UI control. Play, pause and resume share the
// transport toggle; subscribe and unsubscribe share the library control.
type control string

const (
	ctlToggle  control = "toggle"
	ctlStop    control = "stop"
	ctlSeek    control = "seek"
	ctlSpeed   control = "speed"
	ctlLibrary control = "library"
)

type slotKey struct {
	src source.Kind
	ctl control
}

// Dispatcher validates and sends user commands, one in flight per control
// per source. Transport failures on playback controls are logged and left
// to the next reconciliation; retrying a stale play or seek after the
// backend moved on would corrupt state rather than fix it.
type Dispatcher struct {
	tr     Transport
	st     *state.Store
	speeds []float64
	log    zerolog.Logger

	mu       sync.Mutex
	inflight map[slotKey]struct{}
}

// NewDispatcher wires the dispatcher to its transport and the store it
// consults for clamping and optimistic echoes. speeds is the setSpeed
// allow-list.
func NewDispatcher(tr Transport, st *state.Store, speeds []float64, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		tr:       tr,
		st:       st,
		speeds:   speeds,
		log:      log,
		inflight: make(map[slotKey]struct{}),
	}
}

// Play starts playback of one entity on a source.
func (d *Dispatcher) Play(ctx context.Context, k source.Kind, entityID string) error {
	if !source.Known(k) {
		return ErrUnknownSource
	}
	if entityID == "" {
		return errors.New("command: play needs an entity id")
	}
	return d.send(ctx, k, ctlToggle, proto.Command{Kind: proto.CmdPlay, Source: k, EntityID: entityID})
}

// Pause pauses the active playback.
func (d *Dispatcher) Pause(ctx context.Context, k source.Kind) error {
	if !source.Known(k) {
		return ErrUnknownSource
	}
	return d.send(ctx, k, ctlToggle, proto.Command{Kind: proto.CmdPause, Source: k})
}

// Resume continues paused playback.
func (d *Dispatcher) Resume(ctx context.Context, k source.Kind) error {
	if !source.Known(k) {
		return ErrUnknownSource
	}
	return d.send(ctx, k, ctlToggle, proto.Command{Kind: proto.CmdResume, Source: k})
}

// Stop ends playback and deselects the entity backend-side.
func (d *Dispatcher) Stop(ctx context.Context, k source.Kind) error {
	if !source.Known(k) {
		return ErrUnknownSource
	}
	return d.send(ctx, k, ctlStop, proto.Command{Kind: proto.CmdStop, Source: k})
}

// Seek jumps to a position, clamped to [0, duration] against the current
// snapshot. The target shows optimistically until the next authoritative
// delta overwrites it. Callers send once per gesture end, not per move.
func (d *Dispatcher) Seek(ctx context.Context, k source.Kind, position float64) error {
	if !source.Known(k) {
		return ErrUnknownSource
	}

	snap := d.st.Snapshot()
	if position < 0 {
		position = 0
	}
	if dur := snap.Metadata.Duration; snap.ActiveSource == k && dur > 0 && position > dur {
		position = dur
	}

	d.st.ApplyOptimisticPosition(k, position)
	return d.send(ctx, k, ctlSeek, proto.Command{Kind: proto.CmdSeek, Source: k, Position: position})
}

// SetSpeed sets the playback rate. Values outside the allow-list are
// rejected without a network call.
func (d *Dispatcher) SetSpeed(ctx context.Context, k source.Kind, speed float64) error {
	if !source.Known(k) {
		return ErrUnknownSource
	}
	if !d.speedAllowed(speed) {
		return fmt.Errorf("%w: %g", ErrSpeedNotAllowed, speed)
	}
	return d.send(ctx, k, ctlSpeed, proto.Command{Kind: proto.CmdSetSpeed, Source: k, Speed: speed})
}

// Subscribe adds an entity to the library. Unlike the playback controls
// this is an explicit, attributable action: failures surface to the
// caller instead of waiting for reconciliation.
func (d *Dispatcher) Subscribe(ctx context.Context, k source.Kind, entityID string) error {
	return d.library(ctx, k, proto.CmdSubscribe, entityID)
}

// Unsubscribe removes an entity from the library.
func (d *Dispatcher) Unsubscribe(ctx context.Context, k source.Kind, entityID string) error {
	return d.library(ctx, k, proto.CmdUnsubscribe, entityID)
}

func (d *Dispatcher) library(ctx context.Context, k source.Kind, kind proto.CommandKind, entityID string) error {
	if !source.Known(k) {
		return ErrUnknownSource
	}
	if entityID == "" {
		return fmt.Errorf("command: %s needs an entity id", kind)
	}

	key := slotKey{src: k, ctl: ctlLibrary}
	if !d.acquire(key) {
		return ErrBusy
	}
	defer d.release(key)

	if err := d.tr.Call(ctx, proto.Command{Kind: kind, Source: k, EntityID: entityID}); err != nil {
		d.log.Warn().Err(err).Str("kind", string(kind)).Str("source", string(k)).Msg("library command failed")
		return fmt.Errorf("%s %s: %w", kind, entityID, err)
	}
	return nil
}

// send pushes one playback command through its control slot.
func (d *Dispatcher) send(ctx context.Context, k source.Kind, ctl control, cmd proto.Command) error {
	key := slotKey{src: k, ctl: ctl}
	if !d.acquire(key) {
		return ErrBusy
	}
	defer d.release(key)

	if err := d.tr.Call(ctx, cmd); err != nil {
		// No retry. The next delta reconciles whatever the backend
		// actually did with the command.
		d.log.Error().Err(err).Str("kind", string(cmd.Kind)).Str("source", string(k)).Msg("transport command failed")
		return fmt.Errorf("%s: %w", cmd.Kind, err)
	}
	return nil
}

func (d *Dispatcher) acquire(key slotKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[key]; busy {
		return false
	}
	d.inflight[key] = struct{}{}
	return true
}

func (d *Dispatcher) release(key slotKey) {
	d.mu.Lock()
	delete(d.inflight, key)
	d.mu.Unlock()
}

func (d *Dispatcher) speedAllowed(speed float64) bool {
	for _, s := range d.speeds {
		if s == speed {
			return true
		}
	}
	return false
}
