// Package command answers the NetConnection and NetStream commands a client
// sends and drives publish and play against the stream registry.
package command

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"gopcast/internal/amf"
	"gopcast/internal/auth"
	"gopcast/internal/message"
	"gopcast/internal/metrics"
	"gopcast/internal/streammanager"
	"gopcast/pkg/models"
)

var (
	// ErrDispatch is the kind of every rejected command. Rejections are never
	// answered; the connection stays open.
	ErrDispatch = errors.New("command rejected")

	ErrMalformedCommand = fmt.Errorf("%w: malformed command", ErrDispatch)
	ErrUnsupportedApp   = fmt.Errorf("%w: unsupported application", ErrDispatch)
	ErrDuplicatePublish = fmt.Errorf("%w: stream already published", ErrDispatch)
	ErrStreamNotFound   = fmt.Errorf("%w: stream not found", ErrDispatch)
	ErrSubscribeRefused = fmt.Errorf("%w: subscription refused", ErrDispatch)
)

// Conn is the connection a command arrived on.
type Conn interface {
	ID() models.ConnID
	// App is the application namespace from connect, "" before connect.
	App() string
	// SetMediaStreamID sets the message stream id media is sent on.
	SetMediaStreamID(id uint32)
	// Send queues msgs for the peer in order.
	Send(msgs ...message.Message) error
}

type Outcome int

const (
	Handled Outcome = iota
	NoOp
	Ignored
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Handled:
		return "handled"
	case NoOp:
		return "noop"
	case Ignored:
		return "ignored"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result reports what a dispatched command did to the connection.
type Result struct {
	Name    string
	Outcome Outcome
	// App is set by connect.
	App string
	// Published is the stream created by publish.
	Published *streammanager.Stream
	// Played is the stream joined by play.
	Played *streammanager.Stream
}

// Config carries the connection parameters announced in reply to connect.
type Config struct {
	WindowAckSize uint32
	PeerBandwidth uint32
	ChunkSize     uint32
}

// DefaultConfig holds the values clients expect from a stock server.
func DefaultConfig() Config {
	return Config{
		WindowAckSize: 250000,
		PeerBandwidth: 2500000,
		ChunkSize:     4096,
	}
}

// Dispatcher is stateless; every piece of per-connection state lives in Conn
// and in the Result handed back to the caller.
type Dispatcher struct {
	cfg       Config
	registry  *streammanager.Manager
	transport streammanager.Transport
	policy    *auth.Manager
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
}

func New(cfg Config, registry *streammanager.Manager, transport streammanager.Transport, policy *auth.Manager, log logrus.FieldLogger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		cfg:       cfg,
		registry:  registry,
		transport: transport,
		policy:    policy,
		log:       log,
		metrics:   m,
	}
}

// Dispatch routes cmd by its name, the first string value, and answers it on conn.
func (d *Dispatcher) Dispatch(conn Conn, cmd *message.Command) (Result, error) {
	name, ok := cmd.Name()
	if !ok {
		d.metrics.RecordCommandDropped("malformed")
		return Result{Outcome: Dropped}, fmt.Errorf("%w: no name among %d values", ErrMalformedCommand, len(cmd.Values))
	}
	txn := transactionID(cmd.Values)
	log := d.log.WithFields(logrus.Fields{"conn": conn.ID(), "command": name})
	log.Debug("Received command")

	res := Result{Name: name, Outcome: Handled}
	var err error
	switch name {
	case "connect":
		res.App, err = d.connect(conn, cmd, txn)
	case "releaseStream", "FCPublish":
		err = conn.Send(result(cmd.StreamID, txn, amf.Null{}, amf.Undefined{}))
	case "createStream":
		err = conn.Send(result(cmd.StreamID, txn, amf.Null{}, amf.Number(1)))
	case "publish":
		res.Published, err = d.publish(conn, cmd)
	case "play":
		res.Played, err = d.play(conn, cmd)
	case "FCUnpublish", "deleteStream":
		res.Outcome = NoOp
	default:
		res.Outcome = Ignored
	}

	if err != nil {
		res.Outcome = Dropped
		d.metrics.RecordCommandDropped(dropReason(err))
		log.WithError(err).Warn("Command dropped")
		return res, err
	}

	label := name
	if res.Outcome == Ignored {
		label = "other"
	}
	d.metrics.RecordCommand(label, res.Outcome.String())
	return res, nil
}

func (d *Dispatcher) connect(conn Conn, cmd *message.Command, txn float64) (string, error) {
	params, err := parseConnectParams(cmd.Values)
	if err != nil {
		d.log.WithError(err).WithField("conn", conn.ID()).Warn("Unreadable connect object")
	}

	err = conn.Send(
		&message.WindowAckSize{Size: d.cfg.WindowAckSize},
		&message.SetPeerBandwidth{Size: d.cfg.PeerBandwidth, Limit: message.LimitDynamic},
		&message.SetChunkSize{Size: d.cfg.ChunkSize},
		connectResult(cmd.StreamID, txn, params.ObjectEncoding),
		onBWDone(cmd.StreamID, txn),
	)
	if err != nil {
		return "", fmt.Errorf("send connect response: %w", err)
	}

	d.log.WithFields(logrus.Fields{
		"conn":     conn.ID(),
		"app":      params.App,
		"flashVer": params.FlashVer,
		"tcUrl":    params.TcURL,
	}).Info("Client connected")
	return params.App, nil
}

func (d *Dispatcher) publish(conn Conn, cmd *message.Command) (*streammanager.Stream, error) {
	name, ok := stringAt(cmd.Values, 3)
	if !ok || stripQuery(name) == "" {
		return nil, fmt.Errorf("%w: publish without a stream name", ErrMalformedCommand)
	}
	name = stripQuery(name)

	app := conn.App()
	if app == "" {
		app, _ = stringAt(cmd.Values, 4)
	}
	if err := d.policy.AuthorizePublish(app); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedApp, err)
	}

	key := models.StreamKey{App: app, Name: name}
	s := streammanager.NewStream(key, conn.ID(), d.transport, d.log)
	if !d.registry.Create(key, s) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePublish, key)
	}

	err := conn.Send(
		onFCPublish(cmd.StreamID),
		onStatus(cmd.StreamID, publishStartStatus(string(conn.ID()))),
	)
	if err != nil {
		return s, fmt.Errorf("send publish response: %w", err)
	}
	return s, nil
}

func (d *Dispatcher) play(conn Conn, cmd *message.Command) (*streammanager.Stream, error) {
	name, ok := stringAt(cmd.Values, 3)
	if !ok || stripQuery(name) == "" {
		return nil, fmt.Errorf("%w: play without a stream name", ErrMalformedCommand)
	}
	key := models.StreamKey{App: d.policy.PlayApp(conn.App()), Name: stripQuery(name)}

	s, ok := d.registry.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, key)
	}

	conn.SetMediaStreamID(cmd.StreamID)
	err := conn.Send(
		&message.UserControl{Event: message.EventStreamBegin, Data: cmd.StreamID},
		onStatus(cmd.StreamID, playStartStatus()),
		sampleAccess(cmd.StreamID),
		onMetaData(cmd.StreamID, s.Metadata()),
	)
	if err != nil {
		return nil, fmt.Errorf("send play response: %w", err)
	}

	if !s.AddSubscriber(conn.ID()) {
		return nil, fmt.Errorf("%w: %s for %s", ErrSubscribeRefused, key, conn.ID())
	}
	d.log.WithFields(logrus.Fields{"conn": conn.ID(), "stream": key.String()}).Info("Stream is playing")
	return s, nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedCommand):
		return "malformed"
	case errors.Is(err, ErrUnsupportedApp):
		return "unsupported_app"
	case errors.Is(err, ErrDuplicatePublish):
		return "duplicate_publish"
	case errors.Is(err, ErrStreamNotFound):
		return "stream_not_found"
	case errors.Is(err, ErrSubscribeRefused):
		return "subscribe_refused"
	default:
		return "send_failed"
	}
}
