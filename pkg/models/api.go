package models

// StreamInfo represents stream metadata returned by the API
type StreamInfo struct {
	App         string          `json:"app"`
	Name        string          `json:"name"`
	State       StreamState     `json:"state"`
	Publisher   ConnID          `json:"publisher"`
	Subscribers int             `json:"subscribers"`
	StartedAt   string          `json:"startedAt,omitempty"`
	Duration    int             `json:"duration,omitempty"` // seconds
	VideoCodec  string          `json:"videoCodec,omitempty"`
	AudioCodec  string          `json:"audioCodec,omitempty"`
	Resolution  string          `json:"resolution,omitempty"` // e.g., "1920x1080"
	Video       *VideoTrack     `json:"video,omitempty"`
	Audio       *AudioTrack     `json:"audio,omitempty"`
	Metadata    *StreamMetadata `json:"metadata,omitempty"`
	Stats       StreamStats     `json:"stats"`
}

// VideoTrack is the video configuration announced by the AVC sequence header.
type VideoTrack struct {
	Codec   string `json:"codec"` // RFC 6381, e.g. "avc1.64001f"
	Profile uint32 `json:"profile"`
	Level   uint32 `json:"level"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// AudioTrack is the audio configuration announced by the AAC sequence header.
type AudioTrack struct {
	Codec      string `json:"codec"` // e.g. "mp4a.40.2"
	ObjectType int    `json:"objectType"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// StreamListResponse represents a list of streams
type StreamListResponse struct {
	Streams []StreamInfo `json:"streams"`
	Total   int          `json:"total"`
}
