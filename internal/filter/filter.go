// Package filter derives per-source views from the system snapshot.
// Everything here is pure: no state, recomputed on every read, and gated
// by source identity so one source's fields never show under another's
// name.
package filter

import (
	"time"

	"github.com/avendeel/sonabridge/internal/source"
)

// IsActive reports whether k is the currently active source.
func IsActive(st source.Snapshot, k source.Kind) bool {
	return st.ActiveSource == k
}

// IsPlaying is true only for the active source, whatever the metadata
// says.
func IsPlaying(st source.Snapshot, k source.Kind) bool {
	return IsActive(st, k) && st.Metadata.IsPlaying
}

// IsBuffering is true only for the active source.
func IsBuffering(st source.Snapshot, k source.Kind) bool {
	return IsActive(st, k) && st.Metadata.IsBuffering
}

// View is the gated projection one panel consumes. For an inactive source
// every playback field is zero and Metadata is nil.
type View struct {
	Kind      source.Kind
	Active    bool
	Playing   bool
	Buffering bool
	HasEntity bool
	Position  float64
	Duration  float64
	Stale     bool
	Metadata  *source.Metadata
}

// ViewOf derives the view of st for identity k at time now. While playing,
// the position advances from the last authoritative write, clamped to the
// duration when one is known.
func ViewOf(st source.Snapshot, k source.Kind, now time.Time) View {
	v := View{Kind: k, Stale: st.Stale}
	if !IsActive(st, k) {
		return v
	}

	m := st.Metadata.Clone()
	v.Active = true
	v.Playing = m.IsPlaying
	v.Buffering = m.IsBuffering
	v.HasEntity = m.HasEntity()
	v.Position = positionAt(m, now)
	v.Duration = m.Duration
	v.Metadata = &m
	return v
}

func positionAt(m source.Metadata, now time.Time) float64 {
	pos := m.Position
	if m.IsPlaying && m.PositionUpdatedMs > 0 {
		pos += float64(now.UnixMilli()-m.PositionUpdatedMs) / 1000.0
	}
	if m.Duration > 0 && pos > m.Duration {
		pos = m.Duration
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}
