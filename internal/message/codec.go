package message

import (
	"encoding/binary"
	"fmt"

	"gopcast/internal/amf"
)

// Decode interprets a reassembled payload according to its type id.
func Decode(raw Raw) (Message, error) {
	h, p := raw.Header, raw.Payload
	switch h.TypeID {
	case TypeSetChunkSize:
		v, err := u32(p, "set chunk size")
		if err != nil {
			return nil, err
		}
		return &SetChunkSize{Size: v & 0x7FFFFFFF}, nil
	case TypeAbort:
		v, err := u32(p, "abort")
		if err != nil {
			return nil, err
		}
		return &Abort{ChunkStreamID: v}, nil
	case TypeAcknowledgement:
		v, err := u32(p, "acknowledgement")
		if err != nil {
			return nil, err
		}
		return &Acknowledgement{SequenceNumber: v}, nil
	case TypeWindowAckSize:
		v, err := u32(p, "window ack size")
		if err != nil {
			return nil, err
		}
		return &WindowAckSize{Size: v}, nil
	case TypeSetPeerBandwidth:
		if len(p) < 5 {
			return nil, fmt.Errorf("set peer bandwidth body too short: %d bytes", len(p))
		}
		return &SetPeerBandwidth{Size: binary.BigEndian.Uint32(p), Limit: p[4]}, nil
	case TypeUserControl:
		if len(p) < 2 {
			return nil, fmt.Errorf("user control body too short: %d bytes", len(p))
		}
		uc := &UserControl{Event: binary.BigEndian.Uint16(p)}
		if len(p) >= 6 {
			uc.Data = binary.BigEndian.Uint32(p[2:])
		}
		return uc, nil
	case TypeAudio:
		if len(p) == 0 {
			return nil, fmt.Errorf("empty audio message")
		}
		return &Audio{Timestamp: h.Timestamp, TimestampDelta: h.TimestampDelta, Control: p[0], Payload: p[1:]}, nil
	case TypeVideo:
		if len(p) == 0 {
			return nil, fmt.Errorf("empty video message")
		}
		return &Video{Timestamp: h.Timestamp, TimestampDelta: h.TimestampDelta, Control: p[0], Payload: p[1:]}, nil
	case TypeCommand:
		vals, err := amf.Decode(p)
		if err != nil {
			return nil, fmt.Errorf("command message: %w", err)
		}
		return &Command{StreamID: h.StreamID, Values: vals}, nil
	case TypeData:
		vals, err := amf.Decode(p)
		if err != nil {
			return nil, fmt.Errorf("data message: %w", err)
		}
		return &Data{StreamID: h.StreamID, Values: vals}, nil
	case TypeDataAMF3:
		return &Text{Timestamp: h.Timestamp, TimestampDelta: h.TimestampDelta, TypeID: TypeDataAMF3, Payload: p}, nil
	default:
		return &Unknown{Header: h, Payload: p}, nil
	}
}

// Encode produces the body bytes of m.
func Encode(m Message) ([]byte, error) {
	switch x := m.(type) {
	case *SetChunkSize:
		return binary.BigEndian.AppendUint32(nil, x.Size&0x7FFFFFFF), nil
	case *Abort:
		return binary.BigEndian.AppendUint32(nil, x.ChunkStreamID), nil
	case *Acknowledgement:
		return binary.BigEndian.AppendUint32(nil, x.SequenceNumber), nil
	case *WindowAckSize:
		return binary.BigEndian.AppendUint32(nil, x.Size), nil
	case *SetPeerBandwidth:
		return append(binary.BigEndian.AppendUint32(nil, x.Size), x.Limit), nil
	case *UserControl:
		b := binary.BigEndian.AppendUint16(make([]byte, 0, 6), x.Event)
		return binary.BigEndian.AppendUint32(b, x.Data), nil
	case *Audio:
		return append([]byte{x.Control}, x.Payload...), nil
	case *Video:
		return append([]byte{x.Control}, x.Payload...), nil
	case *Text:
		return x.Payload, nil
	case *Command:
		return amf.Encode(x.Values...)
	case *Data:
		return amf.Encode(x.Values...)
	case *Unknown:
		return x.Payload, nil
	default:
		return nil, fmt.Errorf("message: cannot encode %T", m)
	}
}

func u32(p []byte, what string) (uint32, error) {
	if len(p) < 4 {
		return 0, fmt.Errorf("%s body too short: %d bytes", what, len(p))
	}
	return binary.BigEndian.Uint32(p), nil
}
