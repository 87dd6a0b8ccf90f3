// Package source holds the data model shared by the whole daemon: source
// identities, the backend plugin lifecycle, per-source metadata, and the
// system state snapshot.
package source

// Kind identifies one of the mutually exclusive audio sources.
type Kind string

const (
	None    Kind = "none"
	Radio   Kind = "radio"
	Podcast Kind = "podcast"
)

// Known reports whether k is a source this daemon can bind a panel to.
func Known(k Kind) bool {
	return k == Radio || k == Podcast
}

// PluginState mirrors the backend plugin lifecycle for the active source.
type PluginState string

const (
	PluginInactive      PluginState = "inactive"
	PluginReady         PluginState = "ready"
	PluginConnected     PluginState = "connected"
	PluginTransitioning PluginState = "transitioning"
)

// State is the canonical backend truth. There is exactly one instance,
// owned by the store; everyone else sees value copies.
type State struct {
	ActiveSource  Kind        `json:"active_source"`
	PluginState   PluginState `json:"plugin_state"`
	Transitioning bool        `json:"transitioning"`
	TargetSource  Kind        `json:"target_source,omitempty"`
	Volume        int         `json:"volume"`
	Metadata      Metadata    `json:"metadata"`
}

// NewState returns the boot state: no source selected, plugin inactive.
func NewState() State {
	return State{
		ActiveSource: None,
		PluginState:  PluginInactive,
		Metadata:     Metadata{Source: None},
	}
}

// Clone returns a deep copy; mutating it never touches the original.
func (s State) Clone() State {
	c := s
	c.Metadata = s.Metadata.Clone()
	return c
}

// Snapshot is the read-side projection handed to consumers: the state
// value plus staleness and a store-local apply counter.
type Snapshot struct {
	State
	Stale bool   `json:"stale"`
	Seq   uint64 `json:"seq"`
}

// ClampVolume bounds a volume level to the backend's 0..100 range.
func ClampVolume(level int) int {
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}
