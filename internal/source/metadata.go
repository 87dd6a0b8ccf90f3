package source

// RadioInfo is the radio variant of the metadata union.
type RadioInfo struct {
	StationID   string `json:"station_id"`
	StationName string `json:"station_name"`
	StreamURL   string `json:"stream_url,omitempty"`
	Genre       string `json:"genre,omitempty"`
	NowPlaying  string `json:"now_playing,omitempty"`
}

// PodcastInfo is the podcast variant of the metadata union.
type PodcastInfo struct {
	EpisodeID    string  `json:"episode_id"`
	EpisodeTitle string  `json:"episode_title"`
	ShowTitle    string  `json:"show_title,omitempty"`
	ArtworkURL   string  `json:"artwork_url,omitempty"`
	Speed        float64 `json:"speed,omitempty"`
}

// Metadata is the per-source playback payload, tagged by Source. At most
// one variant pointer is set, the one matching the tag. The whole value is
// replaced when the active source changes so that nothing bleeds from one
// source into the next.
type Metadata struct {
	Source      Kind    `json:"source"`
	IsPlaying   bool    `json:"is_playing"`
	IsBuffering bool    `json:"is_buffering"`
	Position    float64 `json:"position"`
	Duration    float64 `json:"duration"`

	// PositionUpdatedMs is the UnixMilli stamp of the last authoritative
	// position write; readers extrapolate from it while playing.
	PositionUpdatedMs int64 `json:"position_updated_ms,omitempty"`

	Radio   *RadioInfo   `json:"radio,omitempty"`
	Podcast *PodcastInfo `json:"podcast,omitempty"`
}

// HasEntity reports whether a concrete entity (station, episode) is
// selected in the variant matching the tag.
func (m Metadata) HasEntity() bool {
	switch m.Source {
	case Radio:
		return m.Radio != nil && m.Radio.StationID != ""
	case Podcast:
		return m.Podcast != nil && m.Podcast.EpisodeID != ""
	default:
		return false
	}
}

// Clone returns a deep copy with fresh variant pointers.
func (m Metadata) Clone() Metadata {
	c := m
	if m.Radio != nil {
		r := *m.Radio
		c.Radio = &r
	}
	if m.Podcast != nil {
		p := *m.Podcast
		c.Podcast = &p
	}
	return c
}
