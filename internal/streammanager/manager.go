package streammanager

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gopcast/internal/metrics"
	"gopcast/pkg/models"
)

// DefaultReapInterval is how often streams without an active publisher are removed.
const DefaultReapInterval = 30 * time.Second

// DefaultGOPLimit caps the messages cached for late joiners per stream.
const DefaultGOPLimit = 4096

// Manager handles stream lifecycle and maintains in-memory registry
type Manager struct {
	streams map[models.StreamKey]*Stream
	mu      sync.RWMutex

	reapInterval time.Duration
	gopLimit     int
	metrics      *metrics.Metrics
	log          logrus.FieldLogger
}

// New creates a new stream manager. m may be nil.
func New(log logrus.FieldLogger, m *metrics.Metrics, reapInterval time.Duration) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if reapInterval <= 0 {
		reapInterval = DefaultReapInterval
	}
	return &Manager{
		streams:      make(map[models.StreamKey]*Stream),
		reapInterval: reapInterval,
		gopLimit:     DefaultGOPLimit,
		metrics:      m,
		log:          log,
	}
}

// Create inserts s under key unless a stream is already registered there.
// The check and the insert happen under one lock.
func (m *Manager) Create(key models.StreamKey, s *Stream) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.streams[key]; exists {
		return false
	}
	s.metrics = m.metrics
	s.gopLimit = m.gopLimit
	m.streams[key] = s
	m.metrics.RecordStreamStart()
	m.log.WithFields(logrus.Fields{"stream": key.String(), "conn": s.Publisher()}).Info("Stream is now live")
	return true
}

// SetGOPLimit sets the GOP cache cap of streams created from now on. Values
// below 1 restore DefaultGOPLimit.
func (m *Manager) SetGOPLimit(n int) {
	if n < 1 {
		n = DefaultGOPLimit
	}
	m.mu.Lock()
	m.gopLimit = n
	m.mu.Unlock()
}

// Get retrieves a stream by key
func (m *Manager) Get(key models.StreamKey) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.streams[key]
	return s, exists
}

// List returns all registered streams ordered by app, then name.
func (m *Manager) List() []*Stream {
	m.mu.RLock()
	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(streams, func(a, b *Stream) int {
		if c := strings.Compare(a.key.App, b.key.App); c != 0 {
			return c
		}
		return strings.Compare(a.key.Name, b.key.Name)
	})
	return streams
}

// Count returns the total number of streams
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

// Sweep removes every stream whose publisher is no longer active and returns
// how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, s := range m.streams {
		if s.PublisherActive() {
			continue
		}
		delete(m.streams, key)
		s.release()
		m.metrics.RecordStreamReaped(s.age().Seconds())
		m.log.WithField("stream", key.String()).Info("Cleaned up stream")
		removed++
	}
	return removed
}

// Run sweeps at the reap interval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.log.WithField("removed", n).Debug("Stream sweep finished")
			}
		}
	}
}
