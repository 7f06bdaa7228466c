// Package message defines the logical RTMP messages carried by the chunk stream
// and the codec for their bodies.
package message

import (
	"gopcast/internal/amf"
)

// TypeID is the RTMP message type identifier.
type TypeID uint8

const (
	TypeSetChunkSize     TypeID = 1
	TypeAbort            TypeID = 2
	TypeAcknowledgement  TypeID = 3
	TypeUserControl      TypeID = 4
	TypeWindowAckSize    TypeID = 5
	TypeSetPeerBandwidth TypeID = 6
	TypeAudio            TypeID = 8
	TypeVideo            TypeID = 9
	TypeDataAMF3         TypeID = 15
	TypeData             TypeID = 18
	TypeCommand          TypeID = 20
)

// User control event types
const (
	EventStreamBegin      uint16 = 0
	EventStreamEOF        uint16 = 1
	EventStreamDry        uint16 = 2
	EventSetBufferLength  uint16 = 3
	EventStreamIsRecorded uint16 = 4
	EventPingRequest      uint16 = 6
	EventPingResponse     uint16 = 7
)

// Peer bandwidth limit types
const (
	LimitHard    uint8 = 0
	LimitSoft    uint8 = 1
	LimitDynamic uint8 = 2
)

// Header is the reassembled message header as tracked by the chunk layer.
type Header struct {
	Timestamp      uint32
	TimestampDelta uint32
	Length         uint32
	TypeID         TypeID
	StreamID       uint32
}

// Raw is a fully reassembled message whose body has not been decoded yet.
type Raw struct {
	Header  Header
	Payload []byte
}

// Message is the closed set of messages understood by the server. Only the
// types in this package implement it.
type Message interface {
	Type() TypeID
	message()
}

type SetChunkSize struct {
	Size uint32
}

type Abort struct {
	ChunkStreamID uint32
}

type Acknowledgement struct {
	SequenceNumber uint32
}

type UserControl struct {
	Event uint16
	Data  uint32
}

type WindowAckSize struct {
	Size uint32
}

type SetPeerBandwidth struct {
	Size  uint32
	Limit uint8
}

// Audio is an audio message; Control is the FLV audio tag header byte.
type Audio struct {
	Timestamp      uint32
	TimestampDelta uint32
	Control        byte
	Payload        []byte
}

// Video is a video message; Control is the FLV video tag header byte.
type Video struct {
	Timestamp      uint32
	TimestampDelta uint32
	Control        byte
	Payload        []byte
}

// Text is a timed data message forwarded to players without decoding.
type Text struct {
	Timestamp      uint32
	TimestampDelta uint32
	TypeID         TypeID
	Payload        []byte
}

type Data struct {
	StreamID uint32
	Values   []amf.Value
}

type Command struct {
	StreamID uint32
	Values   []amf.Value
}

// Unknown carries any message type the server does not interpret.
type Unknown struct {
	Header  Header
	Payload []byte
}

func (*SetChunkSize) Type() TypeID     { return TypeSetChunkSize }
func (*Abort) Type() TypeID            { return TypeAbort }
func (*Acknowledgement) Type() TypeID  { return TypeAcknowledgement }
func (*UserControl) Type() TypeID      { return TypeUserControl }
func (*WindowAckSize) Type() TypeID    { return TypeWindowAckSize }
func (*SetPeerBandwidth) Type() TypeID { return TypeSetPeerBandwidth }
func (*Audio) Type() TypeID            { return TypeAudio }
func (*Video) Type() TypeID            { return TypeVideo }
func (*Data) Type() TypeID             { return TypeData }
func (*Command) Type() TypeID          { return TypeCommand }
func (m *Unknown) Type() TypeID        { return m.Header.TypeID }

func (m *Text) Type() TypeID {
	if m.TypeID == 0 {
		return TypeData
	}
	return m.TypeID
}

func (*SetChunkSize) message()     {}
func (*Abort) message()            {}
func (*Acknowledgement) message()  {}
func (*UserControl) message()      {}
func (*WindowAckSize) message()    {}
func (*SetPeerBandwidth) message() {}
func (*Audio) message()            {}
func (*Video) message()            {}
func (*Text) message()             {}
func (*Data) message()             {}
func (*Command) message()          {}
func (*Unknown) message()          {}

// IsKeyFrame reports an H.264 key frame (frame type 1, codec id 7).
func (m *Video) IsKeyFrame() bool {
	return m.Control == 0x17
}

// IsAVCConfig reports an AVCDecoderConfigurationRecord (AVC sequence header).
func (m *Video) IsAVCConfig() bool {
	return m.IsKeyFrame() && len(m.Payload) > 0 && m.Payload[0] == 0x00
}

// IsAACConfig reports an AudioSpecificConfig (AAC sequence header).
func (m *Audio) IsAACConfig() bool {
	return m.Control>>4 == 10 && len(m.Payload) > 0 && m.Payload[0] == 0x00
}

// Name returns the command or data handler name: the first string value.
func (m *Command) Name() (string, bool) {
	return firstString(m.Values)
}

func (m *Data) Name() (string, bool) {
	return firstString(m.Values)
}

func firstString(vals []amf.Value) (string, bool) {
	v, ok := amf.FirstOf(vals, amf.KindString)
	if !ok {
		return "", false
	}
	return string(v.(amf.String)), true
}
