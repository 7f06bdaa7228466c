package rtmp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"gopcast/internal/auth"
	"gopcast/internal/command"
	"gopcast/internal/message"
	"gopcast/internal/metrics"
	"gopcast/internal/streammanager"
	"gopcast/pkg/models"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("rtmp: server closed")

// Config holds the transport settings of the RTMP server
type Config struct {
	Addr string
	// WriteQueueSize bounds the encoded messages waiting for a connection's
	// writer. A connection whose queue is full is closed.
	WriteQueueSize int
	WriteTimeout   time.Duration
	ReadBufferSize int
	// MaxMessageSize bounds the declared length of inbound messages. Zero
	// means the protocol limit of 16 MiB.
	MaxMessageSize uint32
	Command        command.Config
}

func DefaultConfig() Config {
	return Config{
		Addr:           ":1935",
		WriteQueueSize: 1024,
		WriteTimeout:   10 * time.Second,
		ReadBufferSize: 4096,
		Command:        command.DefaultConfig(),
	}
}

// Server represents the RTMP server. It owns every session and resolves
// connection ids for the streams that fan media out to them.
type Server struct {
	cfg        Config
	registry   *streammanager.Manager
	dispatcher *command.Dispatcher
	log        logrus.FieldLogger
	metrics    *metrics.Metrics

	mu        sync.RWMutex
	sessions  map[models.ConnID]*session
	listeners map[net.Listener]struct{}
	closed    bool
	wg        sync.WaitGroup
}

// New creates a new RTMP server
func New(cfg Config, registry *streammanager.Manager, policy *auth.Manager, log logrus.FieldLogger, m *metrics.Metrics) *Server {
	def := DefaultConfig()
	if cfg.WriteQueueSize <= 0 {
		cfg.WriteQueueSize = def.WriteQueueSize
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = def.ReadBufferSize
	}
	if cfg.Command == (command.Config{}) {
		cfg.Command = def.Command
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{
		cfg:       cfg,
		registry:  registry,
		log:       log,
		metrics:   m,
		sessions:  make(map[models.ConnID]*session),
		listeners: make(map[net.Listener]struct{}),
	}
	s.dispatcher = command.New(cfg.Command, registry, s, policy, log, m)
	return s
}

// ListenAndServe starts the RTMP server
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on l until l fails or the server is closed.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listeners[l] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.listeners, l)
		s.mu.Unlock()
	}()

	s.log.WithField("addr", l.Addr().String()).Info("RTMP server listening")
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			return fmt.Errorf("accept: %w", err)
		}

		sess := newSession(s, conn)
		if !s.add(sess) {
			conn.Close()
			return ErrServerClosed
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.serve()
		}()
	}
}

// Close stops every listener and closes every session, then waits for the
// session goroutines to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var result *multierror.Error
	for l := range s.listeners {
		if err := l.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close listener %s: %w", l.Addr(), err))
		}
	}
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("close connection %s: %w", sess.id, err))
		}
		sess.close(nil)
	}
	s.wg.Wait()
	return result.ErrorOrNil()
}

// IsActive reports whether id names an open connection.
func (s *Server) IsActive(id models.ConnID) bool {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	return ok && sess.active.Load()
}

// Deliver queues msg on the connection id.
func (s *Server) Deliver(id models.ConnID, msg message.Message) error {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionClosed, id)
	}
	return sess.Send(msg)
}

// SessionCount returns the number of open connections.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Server) add(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess.id] = sess
	return true
}

func (s *Server) remove(id models.ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
