package chunk

import (
	"encoding/binary"
	"fmt"

	"gopcast/internal/message"
)

type mediaCategory int

const (
	categoryAudio mediaCategory = iota
	categoryVideo
	categoryText
	numCategories
)

// Encoder turns messages into chunks for one outbound connection. Control
// messages go out on chunk stream 2 and commands on 3, always with a full
// header. Media uses one chunk stream per category: a full header with
// timestamp 0 for the first message, then delta headers.
type Encoder struct {
	chunkSize     uint32
	mediaStreamID uint32
	started       [numCategories]bool
}

func NewEncoder() *Encoder {
	return &Encoder{chunkSize: DefaultChunkSize}
}

// ChunkSize is the current outbound chunk size.
func (e *Encoder) ChunkSize() uint32 { return e.chunkSize }

// SetMediaStreamID sets the message stream id stamped on media headers.
func (e *Encoder) SetMediaStreamID(id uint32) { e.mediaStreamID = id }

// Encode returns the chunked bytes for m. Encoding a SetChunkSize switches the
// output chunk size for every later message.
func (e *Encoder) Encode(m message.Message) ([]byte, error) {
	body, err := message.Encode(m)
	if err != nil {
		return nil, err
	}
	if len(body) > maxMessageLength {
		return nil, fmt.Errorf("chunk: %T body of %d bytes exceeds the message length limit", m, len(body))
	}

	switch x := m.(type) {
	case *message.Audio:
		return e.media(categoryAudio, ChannelAudio, m.Type(), x.TimestampDelta, body), nil
	case *message.Video:
		return e.media(categoryVideo, ChannelVideo, m.Type(), x.TimestampDelta, body), nil
	case *message.Text:
		return e.media(categoryText, ChannelText, m.Type(), x.TimestampDelta, body), nil
	case *message.SetChunkSize:
		out := e.full(ChannelControl, 0, m.Type(), 0, body)
		if x.Size >= 1 {
			e.chunkSize = x.Size & maxChunkSize
		}
		return out, nil
	case *message.Command:
		return e.full(ChannelCommand, 0, m.Type(), x.StreamID, body), nil
	case *message.Data:
		return e.full(ChannelCommand, 0, m.Type(), x.StreamID, body), nil
	case *message.Unknown:
		return e.full(ChannelCommand, 0, m.Type(), x.Header.StreamID, body), nil
	default:
		return e.full(ChannelControl, 0, m.Type(), 0, body), nil
	}
}

func (e *Encoder) media(c mediaCategory, csid uint32, typ message.TypeID, delta uint32, body []byte) []byte {
	if !e.started[c] {
		e.started[c] = true
		return e.full(csid, 0, typ, e.mediaStreamID, body)
	}
	hdr := appendBasicHeader(make([]byte, 0, 16), fmtMedium, csid)
	hdr = appendUint24(hdr, min(delta, extendedMarker))
	hdr = appendUint24(hdr, uint32(len(body)))
	hdr = append(hdr, byte(typ))
	var ext []byte
	if delta >= extendedMarker {
		ext = binary.BigEndian.AppendUint32(nil, delta)
		hdr = append(hdr, ext...)
	}
	return e.chunked(hdr, ext, csid, body)
}

func (e *Encoder) full(csid, timestamp uint32, typ message.TypeID, streamID uint32, body []byte) []byte {
	hdr := appendBasicHeader(make([]byte, 0, 18), fmtFull, csid)
	hdr = appendUint24(hdr, min(timestamp, extendedMarker))
	hdr = appendUint24(hdr, uint32(len(body)))
	hdr = append(hdr, byte(typ))
	hdr = binary.LittleEndian.AppendUint32(hdr, streamID)
	var ext []byte
	if timestamp >= extendedMarker {
		ext = binary.BigEndian.AppendUint32(nil, timestamp)
		hdr = append(hdr, ext...)
	}
	return e.chunked(hdr, ext, csid, body)
}

// chunked writes hdr followed by body split into chunk-size pieces, each
// continuation prefixed by a format 3 basic header and, when the message
// header used one, the same extended timestamp field.
func (e *Encoder) chunked(hdr, ext []byte, csid uint32, body []byte) []byte {
	size := int(e.chunkSize)
	pieces := 1
	if len(body) > size {
		pieces = (len(body) + size - 1) / size
	}
	out := make([]byte, 0, len(hdr)+len(body)+(pieces-1)*(3+len(ext)))
	out = append(out, hdr...)

	first := min(size, len(body))
	out = append(out, body[:first]...)
	for rest := body[first:]; len(rest) > 0; {
		n := min(size, len(rest))
		out = appendBasicHeader(out, fmtNone, csid)
		out = append(out, ext...)
		out = append(out, rest[:n]...)
		rest = rest[n:]
	}
	return out
}
