// Package state owns the unified system state pushed by the backend.
// The channel read loop is the only remote writer; the command layer adds
// bounded optimistic echoes that every remote write clears.
package state

import (
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/avendeel/sonabridge/internal/proto"
	"github.com/avendeel/sonabridge/internal/source"
)

// ErrMalformedDelta marks an inbound delta missing its active_source tag.
var ErrMalformedDelta = errors.New("state: delta missing active_source")

// optimistic holds the tagged local echoes. A tag lives only until the
// next remote write; remote truth always wins.
type optimistic struct {
	position    *float64
	positionFor source.Kind
	volume      *int
}

// Store is the single holder of SystemState. Readers get value snapshots;
// subscribers get a capacity-1 mailbox that always carries the newest
// snapshot.
type Store struct {
	mu    sync.Mutex
	state source.State
	stale bool
	seq   uint64
	opt   optimistic

	subs map[chan source.Snapshot]struct{}

	clk clock.Clock
	log zerolog.Logger
}

// New returns an empty store: no source active, plugin inactive.
func New(clk clock.Clock, log zerolog.Logger) *Store {
	return &Store{
		state: source.NewState(),
		subs:  make(map[chan source.Snapshot]struct{}),
		clk:   clk,
		log:   log,
	}
}

// ApplyDelta merges a partial backend update. A delta without
// active_source is dropped whole and logged; nothing is applied from it.
// When the active source changes, metadata is replaced in full from the
// delta rather than merged, so no field of the old source survives.
func (s *Store) ApplyDelta(d proto.StateDelta) error {
	if d.ActiveSource == nil {
		s.log.Warn().Msg("dropping malformed delta without active_source")
		return ErrMalformedDelta
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.opt = optimistic{}

	next := *d.ActiveSource
	switched := next != s.state.ActiveSource
	s.state.ActiveSource = next

	if d.PluginState != nil {
		s.state.PluginState = *d.PluginState
	}
	if d.Transitioning != nil {
		s.state.Transitioning = *d.Transitioning
	}
	if d.TargetSource != nil {
		s.state.TargetSource = *d.TargetSource
	}
	if d.Volume != nil {
		s.state.Volume = source.ClampVolume(*d.Volume)
	}

	if switched {
		s.state.Metadata = source.Metadata{Source: next}
	}
	if d.Metadata != nil {
		s.mergeMetadataLocked(next, d.Metadata)
	}

	s.bumpLocked()
	return nil
}

func (s *Store) mergeMetadataLocked(active source.Kind, d *proto.MetadataDelta) {
	m := &s.state.Metadata
	m.Source = active
	if d.IsPlaying != nil {
		m.IsPlaying = *d.IsPlaying
	}
	if d.IsBuffering != nil {
		m.IsBuffering = *d.IsBuffering
	}
	if d.Position != nil {
		m.Position = *d.Position
		m.PositionUpdatedMs = s.clk.Now().UnixMilli()
	}
	if d.Duration != nil {
		m.Duration = *d.Duration
	}
	if d.Radio != nil {
		r := *d.Radio
		m.Radio = &r
		m.Podcast = nil
	}
	if d.Podcast != nil {
		p := *d.Podcast
		m.Podcast = &p
		m.Radio = nil
	}
}

// ApplyFull replaces the whole state after a (re)connect resync.
// Staleness and any optimistic echo end here: this is authoritative truth.
func (s *Store) ApplyFull(st source.State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opt = optimistic{}
	s.stale = false

	st = st.Clone()
	st.Metadata.Source = st.ActiveSource
	if st.Metadata.PositionUpdatedMs == 0 {
		st.Metadata.PositionUpdatedMs = s.clk.Now().UnixMilli()
	}
	st.Volume = source.ClampVolume(st.Volume)
	s.state = st

	s.bumpLocked()
}

// ApplyPluginEvent merges a per-plugin lifecycle event. Events for a
// source that is neither active nor the switch target are dropped.
func (s *Store) ApplyPluginEvent(ev proto.PluginEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.state.TargetSource
	if ev.TargetSource != nil {
		target = *ev.TargetSource
	}
	if ev.Source != s.state.ActiveSource && ev.Source != target {
		s.log.Debug().Str("source", string(ev.Source)).Msg("plugin event for inactive source dropped")
		return
	}

	s.opt = optimistic{}
	s.state.PluginState = ev.PluginState
	if ev.Transitioning != nil {
		s.state.Transitioning = *ev.Transitioning
	}
	if ev.TargetSource != nil {
		s.state.TargetSource = *ev.TargetSource
	}

	s.bumpLocked()
}

// MarkStale freezes the last known state when the channel drops. Snapshots
// keep their content but carry the stale flag until the resync lands.
func (s *Store) MarkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale {
		return
	}
	s.stale = true
	s.bumpLocked()
}

// ApplyOptimisticPosition shows a seek target before the backend confirms
// it. Ignored unless k is the active source. The tag dies with the next
// remote write.
func (s *Store) ApplyOptimisticPosition(k source.Kind, seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.ActiveSource != k {
		return
	}
	p := seconds
	s.opt.position = &p
	s.opt.positionFor = k
	s.bumpLocked()
}

// ApplyOptimisticVolume shows a volume target before the backend confirms
// it. The tag dies with the next remote write.
func (s *Store) ApplyOptimisticVolume(level int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := source.ClampVolume(level)
	s.opt.volume = &v
	s.bumpLocked()
}

// Snapshot returns an immutable copy of the current state with the
// optimistic overlay applied.
func (s *Store) Snapshot() source.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() source.Snapshot {
	snap := source.Snapshot{State: s.state.Clone(), Stale: s.stale, Seq: s.seq}
	if s.opt.position != nil && snap.ActiveSource == s.opt.positionFor {
		snap.Metadata.Position = *s.opt.position
		snap.Metadata.PositionUpdatedMs = s.clk.Now().UnixMilli()
	}
	if s.opt.volume != nil {
		snap.Volume = *s.opt.volume
	}
	return snap
}

// Subscribe returns a capacity-1 mailbox primed with the current
// snapshot. A subscriber that falls behind skips intermediate states
// rather than queueing them; state is absolute, so only the newest value
// matters. cancel is idempotent.
func (s *Store) Subscribe() (<-chan source.Snapshot, func()) {
	ch := make(chan source.Snapshot, 1)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// bumpLocked advances the apply counter and pushes the new snapshot to
// every mailbox.
func (s *Store) bumpLocked() {
	s.seq++
	snap := s.snapshotLocked()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Mailbox full: the subscriber is behind. Replace the
			// pending snapshot so it wakes to the newest state.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
