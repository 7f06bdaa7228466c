// Package handshake implements the server side of the plain RTMP handshake as
// a byte-fed state machine.
package handshake

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	Version    = 3
	NonceSize  = 1536
	HelloSize  = 1 + NonceSize
	ReplySize  = 1 + NonceSize + NonceSize
	randomSize = NonceSize - 8
)

// ErrHandshake is the kind of every handshake failure. It is fatal to the connection.
var ErrHandshake = errors.New("rtmp: handshake failed")

type State int

const (
	AwaitClientHello State = iota
	AwaitClientAck
	Done
)

func (s State) String() string {
	switch s {
	case AwaitClientHello:
		return "await-client-hello"
	case AwaitClientAck:
		return "await-client-ack"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Engine runs once per connection, before the chunk codec takes over.
type Engine struct {
	state   State
	pending []byte
	started time.Time
	random  io.Reader
}

// New creates an engine awaiting C0+C1.
func New() *Engine {
	return &Engine{
		state:   AwaitClientHello,
		started: time.Now(),
		random:  rand.Reader,
	}
}

func (e *Engine) State() State { return e.state }

// Feed consumes bytes from the peer. When C0+C1 is complete it returns the
// S0+S1+S2 reply to write. When C2 is complete the engine is Done and any
// bytes that followed C2 are returned in rest for the chunk codec.
func (e *Engine) Feed(p []byte) (reply, rest []byte, err error) {
	if e.state == Done {
		return nil, nil, fmt.Errorf("%w: engine already done", ErrHandshake)
	}
	e.pending = append(e.pending, p...)

	if e.state == AwaitClientHello {
		if len(e.pending) < HelloSize {
			return nil, nil, nil
		}
		if v := e.pending[0]; v != Version {
			return nil, nil, fmt.Errorf("%w: unsupported version %d", ErrHandshake, v)
		}
		if reply, err = e.serverHello(e.pending[1:HelloSize]); err != nil {
			return nil, nil, err
		}
		e.pending = e.pending[HelloSize:]
		e.state = AwaitClientAck
	}

	if e.state == AwaitClientAck && len(e.pending) >= NonceSize {
		if extra := e.pending[NonceSize:]; len(extra) > 0 {
			rest = make([]byte, len(extra))
			copy(rest, extra)
		}
		e.pending = nil
		e.state = Done
	}
	return reply, rest, nil
}

// Close reports a short read if the peer went away before the handshake finished.
func (e *Engine) Close() error {
	if e.state == Done {
		return nil
	}
	return fmt.Errorf("%w: %w in state %s (%d bytes buffered)", ErrHandshake, io.ErrUnexpectedEOF, e.state, len(e.pending))
}

func (e *Engine) serverHello(c1 []byte) ([]byte, error) {
	out := make([]byte, ReplySize)
	out[0] = Version
	s1 := out[1 : 1+NonceSize]
	binary.BigEndian.PutUint32(s1[0:4], uint32(time.Since(e.started).Milliseconds()))
	// s1[4:8] stays zero
	if _, err := io.ReadFull(e.random, s1[8:8+randomSize]); err != nil {
		return nil, fmt.Errorf("%w: generating server nonce: %w", ErrHandshake, err)
	}
	copy(out[1+NonceSize:], c1)
	return out, nil
}
