// Package panel binds one audio source to its UI surface: it drains the
// store, filters what belongs to its source, drives the visibility
// scheduler and fronts the command dispatcher for the HTTP routes.
package panel

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/avendeel/sonabridge/internal/command"
	"github.com/avendeel/sonabridge/internal/filter"
	"github.com/avendeel/sonabridge/internal/source"
	"github.com/avendeel/sonabridge/internal/state"
	"github.com/avendeel/sonabridge/internal/visibility"
)

// ViewState is the UI-facing projection of one panel.
type ViewState struct {
	Source       source.Kind      `json:"source"`
	Presentation visibility.State `json:"presentation"`
	Playing      bool             `json:"playing"`
	Buffering    bool             `json:"buffering"`
	Position     float64          `json:"position"`
	Duration     float64          `json:"duration"`
	Metadata     *source.Metadata `json:"metadata,omitempty"`
	Stale        bool             `json:"stale"`
}

// Panel owns the per-source pipeline. One exists per configured source;
// they share the store and dispatcher but nothing else.
type Panel struct {
	kind source.Kind
	st   *state.Store
	disp *command.Dispatcher
	clk  clock.Clock
	log  zerolog.Logger

	sched   *visibility.Scheduler
	updates <-chan source.Snapshot
	cancel  func()

	mu     sync.Mutex
	onPres func(source.Kind, visibility.State)
}

// New builds a panel and subscribes it to the store. Run must be started
// for updates to flow.
func New(kind source.Kind, st *state.Store, disp *command.Dispatcher, t visibility.Timings, clk clock.Clock, log zerolog.Logger) *Panel {
	p := &Panel{
		kind: kind,
		st:   st,
		disp: disp,
		clk:  clk,
		log:  log.With().Str("panel", string(kind)).Logger(),
	}
	p.sched = visibility.New(clk, t, p.log)
	p.sched.OnStop(p.implicitStop)
	p.sched.OnChange(p.forwardPresentation)
	p.updates, p.cancel = st.Subscribe()
	return p
}

// Source returns the source this panel fronts.
func (p *Panel) Source() source.Kind {
	return p.kind
}

// OnPresentation registers the presentation listener. Register before Run.
func (p *Panel) OnPresentation(fn func(source.Kind, visibility.State)) {
	p.mu.Lock()
	p.onPres = fn
	p.mu.Unlock()
}

// Run drains the store mailbox until ctx ends or the panel is closed.
func (p *Panel) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-p.updates:
			if !ok {
				return
			}
			p.sched.Update(filter.ViewOf(snap, p.kind, p.clk.Now()))
		}
	}
}

// ViewState projects the current store snapshot for this source, with the
// position extrapolated to now.
func (p *Panel) ViewState() ViewState {
	v := filter.ViewOf(p.st.Snapshot(), p.kind, p.clk.Now())
	return ViewState{
		Source:       p.kind,
		Presentation: p.sched.State(),
		Playing:      v.Playing,
		Buffering:    v.Buffering,
		Position:     v.Position,
		Duration:     v.Duration,
		Metadata:     v.Metadata,
		Stale:        v.Stale,
	}
}

// Presentation returns the scheduler's current derived state.
func (p *Panel) Presentation() visibility.State {
	return p.sched.State()
}

// ── command façade ──

// Play starts one entity on this panel's source.
func (p *Panel) Play(ctx context.Context, entityID string) error {
	return p.disp.Play(ctx, p.kind, entityID)
}

// Pause pauses playback.
func (p *Panel) Pause(ctx context.Context) error {
	return p.disp.Pause(ctx, p.kind)
}

// Resume continues paused playback.
func (p *Panel) Resume(ctx context.Context) error {
	return p.disp.Resume(ctx, p.kind)
}

// Stop dispatches a stop and, when the dispatch went out, tells the
// scheduler so the panel hides now instead of riding out the grace timer.
func (p *Panel) Stop(ctx context.Context) error {
	if err := p.disp.Stop(ctx, p.kind); err != nil {
		return err
	}
	p.sched.Stopped()
	return nil
}

// Seek jumps to a position in the current entity.
func (p *Panel) Seek(ctx context.Context, position float64) error {
	return p.disp.Seek(ctx, p.kind, position)
}

// SetSpeed sets the playback rate.
func (p *Panel) SetSpeed(ctx context.Context, speed float64) error {
	return p.disp.SetSpeed(ctx, p.kind, speed)
}

// Subscribe adds an entity to this source's library.
func (p *Panel) Subscribe(ctx context.Context, entityID string) error {
	return p.disp.Subscribe(ctx, p.kind, entityID)
}

// Unsubscribe removes an entity from this source's library.
func (p *Panel) Unsubscribe(ctx context.Context, entityID string) error {
	return p.disp.Unsubscribe(ctx, p.kind, entityID)
}

// Close tears down the scheduler and the store subscription. Run returns
// once the mailbox closes.
func (p *Panel) Close() {
	p.cancel()
	p.sched.Close()
}

// implicitStop runs when the grace timer expires. The scheduler already
// started hiding; this only tells the backend. Never notifies the
// scheduler back, that would double-drive the transition.
func (p *Panel) implicitStop() {
	go func() {
		if err := p.disp.Stop(context.Background(), p.kind); err != nil {
			p.log.Warn().Err(err).Msg("implicit stop failed")
		}
	}()
}

func (p *Panel) forwardPresentation(vs visibility.State) {
	p.mu.Lock()
	fn := p.onPres
	p.mu.Unlock()
	if fn != nil {
		fn(p.kind, vs)
	}
}
