package chunk

import (
	"encoding/binary"
	"fmt"

	"gopcast/internal/message"
)

// channelState is the inbound header-compression state of one chunk stream id.
type channelState struct {
	established bool
	lastFormat  uint8
	timestamp   uint32
	delta       uint32
	length      uint32
	typeID      message.TypeID
	streamID    uint32
	extended    bool
	// extValue is the last 4-byte extended field read on this channel.
	extValue uint32

	buf       []byte
	remaining uint32
}

// Decoder reassembles messages from arbitrarily split input buffers.
// It is not safe for concurrent use; each connection owns one.
type Decoder struct {
	chunkSize  uint32
	maxMessage uint32
	channels   map[uint32]*channelState
	pending    []byte
	received   uint64
}

func NewDecoder() *Decoder {
	return &Decoder{
		chunkSize:  DefaultChunkSize,
		maxMessage: maxMessageLength,
		channels:   make(map[uint32]*channelState),
	}
}

// SetMaxMessageSize rejects, as a framing error, any message header declaring
// more than n bytes. Zero restores the protocol limit.
func (d *Decoder) SetMaxMessageSize(n uint32) {
	if n == 0 || n > maxMessageLength {
		n = maxMessageLength
	}
	d.maxMessage = n
}

// ChunkSize is the current inbound chunk size.
func (d *Decoder) ChunkSize() uint32 { return d.chunkSize }

// BytesReceived counts every byte fed to the decoder.
func (d *Decoder) BytesReceived() uint64 { return d.received }

// Feed appends p to the input and returns every message completed by it.
// Protocol control messages that affect framing (SetChunkSize, Abort) are
// applied before the next chunk is parsed, and are returned as well.
func (d *Decoder) Feed(p []byte) ([]message.Raw, error) {
	d.received += uint64(len(p))
	d.pending = append(d.pending, p...)

	var out []message.Raw
	for {
		raw, n, err := d.next(d.pending)
		if err != nil {
			return out, err
		}
		if n == 0 {
			break
		}
		d.pending = d.pending[n:]
		if raw == nil {
			continue
		}
		if err := d.apply(raw); err != nil {
			return out, err
		}
		out = append(out, *raw)
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return out, nil
}

func (d *Decoder) apply(raw *message.Raw) error {
	switch raw.Header.TypeID {
	case message.TypeSetChunkSize:
		if len(raw.Payload) < 4 {
			return fmt.Errorf("%w: set chunk size body of %d bytes", ErrFraming, len(raw.Payload))
		}
		size := binary.BigEndian.Uint32(raw.Payload) & maxChunkSize
		if size < 1 {
			return fmt.Errorf("%w: invalid chunk size %d", ErrFraming, size)
		}
		d.chunkSize = size
	case message.TypeAbort:
		if len(raw.Payload) < 4 {
			return nil
		}
		if ch := d.channels[binary.BigEndian.Uint32(raw.Payload)]; ch != nil {
			ch.buf = nil
			ch.remaining = 0
		}
	}
	return nil
}

// next parses one chunk from b. It returns n == 0 when b does not yet hold a
// complete chunk; no state is changed in that case.
func (d *Decoder) next(b []byte) (*message.Raw, int, error) {
	if len(b) < 1 {
		return nil, 0, nil
	}
	format := b[0] >> 6
	csid := uint32(b[0] & 0x3F)
	off := 1
	switch csid {
	case 0:
		if len(b) < 2 {
			return nil, 0, nil
		}
		csid = uint32(b[1]) + 64
		off = 2
	case 1:
		if len(b) < 3 {
			return nil, 0, nil
		}
		csid = uint32(binary.LittleEndian.Uint16(b[1:3])) + 64
		off = 3
	}

	ch := d.channels[csid]
	if format != fmtFull && (ch == nil || !ch.established) {
		return nil, 0, fmt.Errorf("%w: format %d header on unestablished chunk stream %d", ErrFraming, format, csid)
	}

	hlen := messageHeaderSize[format]
	if len(b) < off+hlen {
		return nil, 0, nil
	}
	h := b[off : off+hlen]
	off += hlen

	var st channelState
	if ch != nil {
		st = *ch
	}
	if format != fmtNone && st.remaining > 0 {
		return nil, 0, fmt.Errorf("%w: format %d header on chunk stream %d with %d bytes outstanding", ErrFraming, format, csid, st.remaining)
	}

	readExtended := func() (uint32, bool) {
		if len(b) < off+4 {
			return 0, false
		}
		v := binary.BigEndian.Uint32(b[off : off+4])
		off += 4
		st.extValue = v
		return v, true
	}

	start := false
	switch format {
	case fmtFull:
		ts := uint24(h[0:3])
		st.length = uint24(h[3:6])
		st.typeID = message.TypeID(h[6])
		st.streamID = binary.LittleEndian.Uint32(h[7:11])
		st.extended = ts == extendedMarker
		if st.extended {
			v, ok := readExtended()
			if !ok {
				return nil, 0, nil
			}
			ts = v
		}
		if st.established {
			st.delta = ts - st.timestamp
		} else {
			st.delta = 0
		}
		st.timestamp = ts
		st.established = true
		start = true
	case fmtMedium, fmtShort:
		delta := uint24(h[0:3])
		if format == fmtMedium {
			st.length = uint24(h[3:6])
			st.typeID = message.TypeID(h[6])
		}
		st.extended = delta == extendedMarker
		if st.extended {
			v, ok := readExtended()
			if !ok {
				return nil, 0, nil
			}
			delta = v
		}
		st.delta = delta
		st.timestamp += delta
		start = true
	case fmtNone:
		if st.remaining > 0 && st.extended {
			// some encoders repeat the extended field on continuation chunks
			if len(b) < off+4 {
				return nil, 0, nil
			}
			if binary.BigEndian.Uint32(b[off:off+4]) == st.extValue {
				off += 4
			}
		}
		if st.remaining == 0 {
			// a new message that reuses every field of the previous one
			if st.extended {
				v, ok := readExtended()
				if !ok {
					return nil, 0, nil
				}
				if st.lastFormat == fmtFull {
					st.delta = v - st.timestamp
					st.timestamp = v
				} else {
					st.delta = v
					st.timestamp += v
				}
			} else {
				st.timestamp += st.delta
			}
			start = true
		}
	}
	if format != fmtNone {
		st.lastFormat = format
	}
	if (format == fmtFull || format == fmtMedium) && st.length > d.maxMessage {
		return nil, 0, fmt.Errorf("%w: %d byte message on chunk stream %d exceeds the %d byte limit", ErrFraming, st.length, csid, d.maxMessage)
	}
	if start {
		st.remaining = st.length
		st.buf = nil
	}

	n := st.remaining
	if n > d.chunkSize {
		n = d.chunkSize
	}
	if uint64(len(b)) < uint64(off)+uint64(n) {
		return nil, 0, nil
	}

	if ch == nil {
		ch = &channelState{}
		d.channels[csid] = ch
	}
	if start {
		// grown by append as chunks arrive
		st.buf = make([]byte, 0, min(st.length, d.chunkSize))
	}
	st.buf = append(st.buf, b[off:off+int(n)]...)
	st.remaining -= n
	off += int(n)

	var raw *message.Raw
	if st.remaining == 0 {
		raw = &message.Raw{
			Header: message.Header{
				Timestamp:      st.timestamp,
				TimestampDelta: st.delta,
				Length:         st.length,
				TypeID:         st.typeID,
				StreamID:       st.streamID,
			},
			Payload: st.buf,
		}
		st.buf = nil
	}
	*ch = st
	return raw, off, nil
}
