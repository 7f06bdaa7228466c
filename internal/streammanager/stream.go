package streammanager

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gopcast/internal/amf"
	"gopcast/internal/flv"
	"gopcast/internal/message"
	"gopcast/internal/metrics"
	"gopcast/pkg/models"
)

// Transport resolves connection ids to live connections at delivery time.
type Transport interface {
	IsActive(id models.ConnID) bool
	// Deliver queues msg for id. An error means the connection can no
	// longer receive and should be dropped.
	Deliver(id models.ConnID, msg message.Message) error
}

// Stream is one published stream: its publisher, its subscribers and the media
// cached for late joiners. Every method is safe for concurrent use.
type Stream struct {
	key       models.StreamKey
	publisher models.ConnID
	transport Transport
	log       logrus.FieldLogger
	metrics   *metrics.Metrics

	mu          sync.Mutex
	subscribers []models.ConnID
	gop         []message.Message
	gopLimit    int
	avcConfig   *message.Video
	aacConfig   *message.Audio
	metadata    *amf.Object
	startedAt   time.Time
	videoCodec  string
	audioCodec  string
	videoTrack  *models.VideoTrack
	audioTrack  *models.AudioTrack
	stats       models.StreamStats
}

// NewStream creates a stream owned by publisher.
func NewStream(key models.StreamKey, publisher models.ConnID, transport Transport, log logrus.FieldLogger) *Stream {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Stream{
		key:       key,
		publisher: publisher,
		transport: transport,
		log:       log.WithField("stream", key.String()),
		startedAt: time.Now(),
	}
}

func (s *Stream) Key() models.StreamKey { return s.key }

func (s *Stream) Publisher() models.ConnID { return s.publisher }

// PublisherActive reports whether the publishing connection is still open.
func (s *Stream) PublisherActive() bool {
	return s.publisher != "" && s.transport.IsActive(s.publisher)
}

// AddSubscriber attaches id and replays the cached configuration records and
// GOP to it, in that order. Inactive or already attached connections are refused.
func (s *Stream) AddSubscriber(id models.ConnID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.transport.IsActive(id) || slices.Contains(s.subscribers, id) {
		return false
	}

	replay := make([]message.Message, 0, len(s.gop)+2)
	if s.avcConfig != nil {
		replay = append(replay, s.avcConfig)
	}
	if s.aacConfig != nil {
		replay = append(replay, s.aacConfig)
	}
	replay = append(replay, s.gop...)
	for _, m := range replay {
		if err := s.transport.Deliver(id, m); err != nil {
			s.log.WithError(err).WithField("conn", id).Warn("Subscriber failed during GOP replay")
			return false
		}
	}

	s.subscribers = append(s.subscribers, id)
	s.metrics.RecordSubscriberAdded()
	s.log.WithFields(logrus.Fields{"conn": id, "replayed": len(replay)}).Info("Subscriber attached")
	return true
}

// SubscriberCount returns the number of attached subscribers, active or not.
func (s *Stream) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// OnRecvVideo caches and fans out a video message. A key frame starts a new GOP.
func (s *Stream) OnRecvVideo(v *message.Video) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.VideoFrames++
	s.stats.BytesReceived += uint64(len(v.Payload) + 1)
	s.stats.LastFrameTime = time.Now()
	s.metrics.RecordFrame(s.key.String(), "video", len(v.Payload)+1)

	if v.IsAVCConfig() {
		s.avcConfig = v
		if h, err := flv.ParseVideoTagHeader(v.Control, v.Payload); err == nil {
			s.videoCodec = flv.VideoCodecName(h.CodecID)
		}
		if track, err := flv.ParseAVCSequenceHeader(v.Payload); err != nil {
			s.log.WithError(err).Warn("Unreadable AVC sequence header")
		} else {
			s.videoTrack = track
		}
		s.log.Info("Received AVC sequence header")
	}
	if v.IsKeyFrame() {
		s.stats.KeyFrames++
		s.metrics.RecordKeyFrame()
		clear(s.gop)
		s.gop = s.gop[:0]
	}
	s.cache(v)
	s.broadcast(v)
}

// OnRecvAudio caches and fans out an audio message.
func (s *Stream) OnRecvAudio(a *message.Audio) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.AudioFrames++
	s.stats.BytesReceived += uint64(len(a.Payload) + 1)
	s.stats.LastFrameTime = time.Now()
	s.metrics.RecordFrame(s.key.String(), "audio", len(a.Payload)+1)

	if a.IsAACConfig() {
		s.aacConfig = a
		if h, err := flv.ParseAudioTagHeader(a.Control, a.Payload); err == nil {
			s.audioCodec = flv.AudioCodecName(h.SoundFormat)
		}
		if track, err := flv.ParseAACSequenceHeader(a.Payload); err != nil {
			s.log.WithError(err).Warn("Unreadable AAC sequence header")
		} else {
			s.audioTrack = track
		}
		s.log.Info("Received AAC sequence header")
	}
	s.cache(a)
	s.broadcast(a)
}

// OnRecvText fans out a timed data message. It is not cached.
func (s *Stream) OnRecvText(t *message.Text) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TextMessages++
	s.stats.BytesReceived += uint64(len(t.Payload))
	s.metrics.RecordFrame(s.key.String(), "text", len(t.Payload))
	s.broadcast(t)
}

// SetMetadata replaces the stream metadata with a copy of md.
func (s *Stream) SetMetadata(md *amf.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if md == nil {
		s.metadata = nil
		return
	}
	s.metadata = md.Clone()
}

// Metadata returns a copy of the stream metadata, or nil if none was set.
func (s *Stream) Metadata() *amf.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadata == nil {
		return nil
	}
	return s.metadata.Clone()
}

// Info returns a snapshot for the status API.
func (s *Stream) Info() models.StreamInfo {
	active := s.PublisherActive()

	s.mu.Lock()
	defer s.mu.Unlock()

	info := models.StreamInfo{
		App:         s.key.App,
		Name:        s.key.Name,
		State:       models.StreamStateLive,
		Publisher:   s.publisher,
		Subscribers: len(s.subscribers),
		StartedAt:   s.startedAt.UTC().Format(time.RFC3339),
		Duration:    int(time.Since(s.startedAt).Seconds()),
		VideoCodec:  s.videoCodec,
		AudioCodec:  s.audioCodec,
		Video:       s.videoTrack,
		Audio:       s.audioTrack,
		Stats:       s.stats,
	}
	info.Stats.GOPLength = len(s.gop)
	if !active {
		info.State = models.StreamStateStopped
	}
	if s.metadata != nil {
		md, err := models.DecodeStreamMetadata(s.metadata.Map())
		if err != nil {
			s.log.WithError(err).Debug("Metadata not reportable")
		} else {
			info.Metadata = md
			info.Resolution = md.Resolution()
		}
	}
	if info.Resolution == "" && s.videoTrack != nil {
		info.Resolution = fmt.Sprintf("%dx%d", s.videoTrack.Width, s.videoTrack.Height)
	}
	return info
}

// cache appends m to the GOP. A GOP that reaches the limit, as an audio-only
// stream eventually does, sheds its oldest quarter. Callers hold s.mu.
func (s *Stream) cache(m message.Message) {
	limit := s.gopLimit
	if limit < 1 {
		limit = DefaultGOPLimit
	}
	if len(s.gop) >= limit {
		drop := max(limit/4, 1)
		n := copy(s.gop, s.gop[drop:])
		clear(s.gop[n:])
		s.gop = s.gop[:n]
		s.log.WithField("dropped", drop).Debug("GOP cache limit reached")
	}
	s.gop = append(s.gop, m)
}

// broadcast delivers m to every active subscriber and swap-removes the rest.
// Callers hold s.mu.
func (s *Stream) broadcast(m message.Message) {
	for i := 0; i < len(s.subscribers); {
		id := s.subscribers[i]
		reason := "inactive"
		if s.transport.IsActive(id) {
			err := s.transport.Deliver(id, m)
			if err == nil {
				i++
				continue
			}
			reason = "delivery_failed"
			s.log.WithError(err).WithField("conn", id).Debug("Delivery failed")
		}

		last := len(s.subscribers) - 1
		s.subscribers[i] = s.subscribers[last]
		s.subscribers[last] = ""
		s.subscribers = s.subscribers[:last]
		s.stats.DroppedSubscribers++
		s.metrics.RecordSubscriberDropped(reason)
		s.log.WithField("conn", id).Info("Subscriber removed")
	}
}

// release detaches every subscriber when the stream leaves the registry.
func (s *Stream) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range s.subscribers {
		s.metrics.RecordSubscriberDropped("stream_reaped")
	}
	s.subscribers = nil
	clear(s.gop)
	s.gop = nil
}

func (s *Stream) age() time.Duration {
	return time.Since(s.startedAt)
}
