// Package proto defines the wire shapes spoken over the backend channel:
// the envelope, state deltas, plugin events, commands, and acks.
package proto

import (
	"encoding/json"

	"github.com/avendeel/sonabridge/internal/source"
)

// Message categories carried in the envelope.
const (
	CategoryState   = "player.state"
	CategoryPlugin  = "plugin.state"
	CategoryCommand = "player.command"
)

// Events within a category.
const (
	EventPush      = "push"      // partial state delta
	EventFull      = "full"      // complete state snapshot
	EventCommand   = "command"   // outbound user command
	EventAck       = "ack"       // command acknowledgement
	EventSubscribe = "subscribe" // session subscription request
	EventGetState  = "get_state" // full-state resend request
)

// Envelope frames every message in both directions.
type Envelope struct {
	Category string          `json:"category"`
	Event    string          `json:"event"`
	ID       string          `json:"id,omitempty"`
	ReplyTo  string          `json:"reply_to,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// SubscribeRequest announces which categories and sources this session
// wants pushed.
type SubscribeRequest struct {
	Categories []string      `json:"categories"`
	Sources    []source.Kind `json:"sources"`
}

// StateDelta is a partial update to the system state. Nil means "field
// absent"; ActiveSource is mandatory, a delta without it is malformed and
// must be dropped whole.
type StateDelta struct {
	ActiveSource  *source.Kind        `json:"active_source,omitempty"`
	PluginState   *source.PluginState `json:"plugin_state,omitempty"`
	Transitioning *bool               `json:"transitioning,omitempty"`
	TargetSource  *source.Kind        `json:"target_source,omitempty"`
	Volume        *int                `json:"volume,omitempty"`
	Metadata      *MetadataDelta      `json:"metadata,omitempty"`
}

// MetadataDelta is the partial-metadata portion of a delta. A variant,
// when present, replaces its counterpart wholesale.
type MetadataDelta struct {
	IsPlaying   *bool    `json:"is_playing,omitempty"`
	IsBuffering *bool    `json:"is_buffering,omitempty"`
	Position    *float64 `json:"position,omitempty"`
	Duration    *float64 `json:"duration,omitempty"`

	Radio   *source.RadioInfo   `json:"radio,omitempty"`
	Podcast *source.PodcastInfo `json:"podcast,omitempty"`
}

// PluginEvent is a per-plugin lifecycle notification, keyed by source.
type PluginEvent struct {
	Source        source.Kind        `json:"source"`
	PluginState   source.PluginState `json:"plugin_state"`
	Transitioning *bool              `json:"transitioning,omitempty"`
	TargetSource  *source.Kind       `json:"target_source,omitempty"`
}

// CommandKind names one user intent.
type CommandKind string

const (
	CmdPlay        CommandKind = "play"
	CmdPause       CommandKind = "pause"
	CmdResume      CommandKind = "resume"
	CmdStop        CommandKind = "stop"
	CmdSeek        CommandKind = "seek"
	CmdSetSpeed    CommandKind = "set_speed"
	CmdSetVolume   CommandKind = "set_volume"
	CmdSubscribe   CommandKind = "subscribe"
	CmdUnsubscribe CommandKind = "unsubscribe"
)

// Command is one outbound user intent. Position and Volume keep their
// zero values on the wire so "seek to 0" and "mute" survive encoding.
type Command struct {
	Kind     CommandKind `json:"kind"`
	Source   source.Kind `json:"source,omitempty"`
	EntityID string      `json:"entity_id,omitempty"`
	Position float64     `json:"position"`
	Speed    float64     `json:"speed,omitempty"`
	Volume   int         `json:"volume"`
}

// Ack closes the loop on one command.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
