package models

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// StreamKey identifies a published stream within an application namespace.
// Comparison is case-sensitive.
type StreamKey struct {
	App  string
	Name string
}

func (k StreamKey) String() string {
	return k.App + "/" + k.Name
}

// ConnID is the opaque identifier of an RTMP connection.
type ConnID string

// StreamState represents the current state of a stream
type StreamState string

const (
	StreamStateLive StreamState = "live"
	// StreamStateStopped streams have lost their publisher and wait for the next sweep.
	StreamStateStopped StreamState = "stopped"
)

// StreamStats tracks stream statistics
type StreamStats struct {
	BytesReceived      uint64    `json:"bytesReceived"`
	VideoFrames        uint64    `json:"videoFrames"`
	AudioFrames        uint64    `json:"audioFrames"`
	KeyFrames          uint64    `json:"keyFrames"`
	TextMessages       uint64    `json:"textMessages"`
	DroppedSubscribers uint64    `json:"droppedSubscribers"`
	GOPLength          int       `json:"gopLength"`
	LastFrameTime      time.Time `json:"lastFrameTime,omitempty"`
}

// StreamMetadata is the subset of onMetaData properties reported by the API.
// Encoders disagree on value types, so it is decoded weakly.
type StreamMetadata struct {
	Width           float64 `mapstructure:"width" json:"width,omitempty"`
	Height          float64 `mapstructure:"height" json:"height,omitempty"`
	FrameRate       float64 `mapstructure:"framerate" json:"frameRate,omitempty"`
	VideoDataRate   float64 `mapstructure:"videodatarate" json:"videoDataRate,omitempty"`
	VideoCodecID    string  `mapstructure:"videocodecid" json:"videoCodecId,omitempty"`
	AudioDataRate   float64 `mapstructure:"audiodatarate" json:"audioDataRate,omitempty"`
	AudioSampleRate float64 `mapstructure:"audiosamplerate" json:"audioSampleRate,omitempty"`
	AudioSampleSize float64 `mapstructure:"audiosamplesize" json:"audioSampleSize,omitempty"`
	AudioCodecID    string  `mapstructure:"audiocodecid" json:"audioCodecId,omitempty"`
	Stereo          bool    `mapstructure:"stereo" json:"stereo,omitempty"`
	Encoder         string  `mapstructure:"encoder" json:"encoder,omitempty"`
	Duration        float64 `mapstructure:"duration" json:"duration,omitempty"`
}

// DecodeStreamMetadata decodes a native onMetaData map. Unknown keys are ignored.
func DecodeStreamMetadata(props map[string]interface{}) (*StreamMetadata, error) {
	var md StreamMetadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &md,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(props); err != nil {
		return nil, fmt.Errorf("decode stream metadata: %w", err)
	}
	return &md, nil
}

// Resolution formats width and height as "WxH", or "" when unknown.
func (m *StreamMetadata) Resolution() string {
	if m == nil || m.Width <= 0 || m.Height <= 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", int(m.Width), int(m.Height))
}
