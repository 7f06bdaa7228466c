package rtmp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gopcast/internal/amf"
	"gopcast/internal/chunk"
	"gopcast/internal/handshake"
	"gopcast/internal/message"
	"gopcast/internal/streammanager"
	"gopcast/pkg/models"
)

var (
	ErrSessionClosed = errors.New("rtmp: session closed")
	ErrSlowConsumer  = errors.New("rtmp: write queue full")
)

const setDataFrame = "@setDataFrame"

// session is one RTMP connection. The read loop owns the handshake engine,
// the decoder and the publish state; the encoder is shared with delivering
// goroutines under encMu.
type session struct {
	id     models.ConnID
	conn   net.Conn
	server *Server
	log    logrus.FieldLogger

	encMu   sync.Mutex
	encoder *chunk.Encoder
	queue   chan []byte

	done      chan struct{}
	closeOnce sync.Once
	active    atomic.Bool

	decoder    *chunk.Decoder
	app        string
	publishing *streammanager.Stream
	ackWindow  uint32
	lastAck    uint64
}

func newSession(s *Server, conn net.Conn) *session {
	id := models.ConnID(uuid.NewString())
	sess := &session{
		id:      id,
		conn:    conn,
		server:  s,
		log:     s.log.WithFields(logrus.Fields{"conn": id, "remote": conn.RemoteAddr().String()}),
		encoder: chunk.NewEncoder(),
		queue:   make(chan []byte, s.cfg.WriteQueueSize),
		done:    make(chan struct{}),
		decoder: chunk.NewDecoder(),
	}
	sess.decoder.SetMaxMessageSize(s.cfg.MaxMessageSize)
	sess.active.Store(true)
	return sess
}

func (s *session) ID() models.ConnID { return s.id }

func (s *session) App() string { return s.app }

func (s *session) SetMediaStreamID(id uint32) {
	s.encMu.Lock()
	defer s.encMu.Unlock()
	s.encoder.SetMediaStreamID(id)
}

// Send encodes msgs in order and queues them for the writer. It never blocks:
// a full queue closes the session.
func (s *session) Send(msgs ...message.Message) error {
	s.encMu.Lock()
	defer s.encMu.Unlock()

	for _, m := range msgs {
		b, err := s.encoder.Encode(m)
		if err != nil {
			return fmt.Errorf("encode %T: %w", m, err)
		}
		if err := s.enqueue(b); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) enqueue(b []byte) error {
	if !s.active.Load() {
		return ErrSessionClosed
	}
	select {
	case s.queue <- b:
		return nil
	default:
		s.server.metrics.RecordRTMPError("slow_consumer")
		s.close(ErrSlowConsumer)
		return ErrSlowConsumer
	}
}

func (s *session) serve() {
	s.server.metrics.RecordRTMPConnection()
	s.log.Info("New RTMP connection")
	go s.writeLoop()
	defer s.close(nil)

	hs := handshake.New()
	buf := make([]byte, s.server.cfg.ReadBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.server.metrics.RecordRTMPBytes(n)
			if hs != nil {
				rest, herr := s.feedHandshake(hs, buf[:n])
				if herr != nil {
					s.server.metrics.RecordRTMPError("handshake")
					s.log.WithError(herr).Warn("Handshake failed")
					return
				}
				if hs.State() == handshake.Done {
					hs = nil
					if ferr := s.feedChunks(rest); ferr != nil {
						s.fail(ferr)
						return
					}
				}
			} else if ferr := s.feedChunks(buf[:n]); ferr != nil {
				s.fail(ferr)
				return
			}
		}
		if err != nil {
			switch {
			case hs != nil && s.active.Load():
				s.log.WithError(hs.Close()).Debug("Connection closed during handshake")
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), !s.active.Load():
			default:
				s.server.metrics.RecordRTMPError("io")
				s.log.WithError(err).Warn("Read failed")
			}
			return
		}
	}
}

func (s *session) feedHandshake(hs *handshake.Engine, p []byte) ([]byte, error) {
	reply, rest, err := hs.Feed(p)
	if err != nil {
		return nil, err
	}
	if reply != nil {
		if err := s.enqueue(reply); err != nil {
			return nil, err
		}
	}
	if hs.State() == handshake.Done {
		s.log.Debug("Handshake complete")
	}
	return rest, nil
}

func (s *session) fail(err error) {
	stage := "io"
	if errors.Is(err, chunk.ErrFraming) {
		stage = "framing"
	}
	s.server.metrics.RecordRTMPError(stage)
	s.log.WithError(err).Warn("Closing connection")
}

// feedChunks decodes p and handles every completed message, including the
// ones completed before a framing error.
func (s *session) feedChunks(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	raws, err := s.decoder.Feed(p)
	for _, raw := range raws {
		s.handle(raw)
	}
	if ackErr := s.acknowledge(); ackErr != nil && err == nil {
		err = ackErr
	}
	return err
}

func (s *session) handle(raw message.Raw) {
	msg, err := message.Decode(raw)
	if err != nil {
		s.log.WithError(err).WithField("type", raw.Header.TypeID).Debug("Dropping undecodable message")
		return
	}

	switch m := msg.(type) {
	case *message.SetChunkSize:
		s.log.WithField("size", m.Size).Debug("Peer chunk size changed")
	case *message.WindowAckSize:
		s.ackWindow = m.Size
	case *message.UserControl:
		if m.Event == message.EventPingRequest {
			s.Send(&message.UserControl{Event: message.EventPingResponse, Data: m.Data})
		}
	case *message.Command:
		s.dispatch(m)
	case *message.Data:
		s.handleData(raw, m)
	case *message.Video:
		if s.publishing != nil {
			s.publishing.OnRecvVideo(m)
		}
	case *message.Audio:
		if s.publishing != nil {
			s.publishing.OnRecvAudio(m)
		}
	case *message.Text:
		if s.publishing != nil {
			s.publishing.OnRecvText(m)
		}
	case *message.Abort, *message.Acknowledgement, *message.SetPeerBandwidth:
	default:
		s.log.WithField("type", msg.Type()).Debug("Ignoring message")
	}
}

func (s *session) dispatch(cmd *message.Command) {
	res, err := s.server.dispatcher.Dispatch(s, cmd)
	if err != nil {
		return
	}
	if res.App != "" {
		s.app = res.App
	}
	if res.Published != nil {
		s.publishing = res.Published
		s.log.WithField("stream", res.Published.Key().String()).Info("Publishing")
	}
}

// handleData stores @setDataFrame metadata and forwards any other data message
// to subscribers untouched.
func (s *session) handleData(raw message.Raw, m *message.Data) {
	if s.publishing == nil {
		return
	}
	if name, _ := m.Name(); name == setDataFrame {
		for _, v := range m.Values[1:] {
			if md, ok := v.(*amf.Object); ok {
				s.publishing.SetMetadata(md)
				s.log.WithField("properties", md.Len()).Info("Received stream metadata")
				return
			}
		}
		s.log.Debug("Metadata frame without an object")
		return
	}
	s.publishing.OnRecvText(&message.Text{
		Timestamp:      raw.Header.Timestamp,
		TimestampDelta: raw.Header.TimestampDelta,
		TypeID:         message.TypeData,
		Payload:        raw.Payload,
	})
}

// acknowledge sends an Acknowledgement whenever a full window of bytes has
// arrived since the last one.
func (s *session) acknowledge() error {
	if s.ackWindow == 0 {
		return nil
	}
	received := s.decoder.BytesReceived()
	if received-s.lastAck < uint64(s.ackWindow) {
		return nil
	}
	s.lastAck = received
	return s.Send(&message.Acknowledgement{SequenceNumber: uint32(received)})
}

func (s *session) writeLoop() {
	for {
		select {
		case b := <-s.queue:
			if s.server.cfg.WriteTimeout > 0 {
				s.conn.SetWriteDeadline(time.Now().Add(s.server.cfg.WriteTimeout))
			}
			if _, err := s.conn.Write(b); err != nil {
				if s.active.Load() {
					s.server.metrics.RecordRTMPError("io")
					s.log.WithError(err).Warn("Write failed")
				}
				s.close(err)
				return
			}
			s.server.metrics.RecordRTMPBytesSent(len(b))
		case <-s.done:
			return
		}
	}
}

// close marks the session inactive, stops the writer and drops the
// connection. Streams notice on their next delivery or sweep.
func (s *session) close(reason error) {
	s.closeOnce.Do(func() {
		s.active.Store(false)
		close(s.done)
		s.conn.Close()
		s.server.remove(s.id)
		s.server.metrics.RecordRTMPDisconnect()

		entry := s.log
		if reason != nil {
			entry = entry.WithError(reason)
		}
		entry.Info("RTMP connection closed")
	})
}
