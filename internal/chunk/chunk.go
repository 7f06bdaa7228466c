// Package chunk multiplexes logical RTMP messages onto a byte stream and back.
package chunk

import (
	"encoding/binary"
	"errors"
)

// DefaultChunkSize is the chunk size both directions start with.
const DefaultChunkSize = 128

// Fixed outbound chunk stream ids
const (
	ChannelControl uint32 = 2
	ChannelCommand uint32 = 3
	ChannelAudio   uint32 = 10
	ChannelVideo   uint32 = 12
	ChannelText    uint32 = 14
)

const (
	fmtFull   = 0
	fmtMedium = 1
	fmtShort  = 2
	fmtNone   = 3

	extendedMarker   = 0xFFFFFF
	maxMessageLength = 0xFFFFFF
	maxChunkSize     = 0x7FFFFFFF
)

// ErrFraming is the kind of every chunk-level protocol violation. It is fatal
// to the connection that produced it.
var ErrFraming = errors.New("rtmp: chunk framing error")

// messageHeaderSize is indexed by chunk format.
var messageHeaderSize = [4]int{11, 7, 3, 0}

func appendBasicHeader(b []byte, format uint8, csid uint32) []byte {
	switch {
	case csid <= 63:
		return append(b, format<<6|byte(csid))
	case csid <= 319:
		return append(b, format<<6, byte(csid-64))
	default:
		return binary.LittleEndian.AppendUint16(append(b, format<<6|1), uint16(csid-64))
	}
}

func appendUint24(b []byte, v uint32) []byte {
	return append(b, byte(v>>16), byte(v>>8), byte(v))
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
