package message

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"gopcast/internal/amf"
)

func TestVideoPredicates(t *testing.T) {
	cases := []struct {
		name   string
		msg    Video
		key    bool
		config bool
	}{
		{"avc sequence header", Video{Control: 0x17, Payload: []byte{0x00, 0, 0, 0, 1}}, true, true},
		{"avc key frame nalu", Video{Control: 0x17, Payload: []byte{0x01, 0, 0, 0}}, true, false},
		{"avc inter frame", Video{Control: 0x27, Payload: []byte{0x01, 0, 0, 0}}, false, false},
		{"inter frame with zero byte", Video{Control: 0x27, Payload: []byte{0x00}}, false, false},
		{"key frame with empty body", Video{Control: 0x17}, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.msg.IsKeyFrame(); got != tc.key {
				t.Errorf("IsKeyFrame = %v, want %v", got, tc.key)
			}
			if got := tc.msg.IsAVCConfig(); got != tc.config {
				t.Errorf("IsAVCConfig = %v, want %v", got, tc.config)
			}
		})
	}
}

func TestAudioPredicate(t *testing.T) {
	cases := []struct {
		msg  Audio
		want bool
	}{
		{Audio{Control: 0xAF, Payload: []byte{0x00, 0x12, 0x10}}, true},
		{Audio{Control: 0xAF, Payload: []byte{0x01, 0x21}}, false},
		{Audio{Control: 0x2F, Payload: []byte{0x00}}, false},
		{Audio{Control: 0xAF}, false},
	}
	for _, tc := range cases {
		if got := tc.msg.IsAACConfig(); got != tc.want {
			t.Errorf("IsAACConfig(%#x % x) = %v, want %v", tc.msg.Control, tc.msg.Payload, got, tc.want)
		}
	}
}

func TestBodyRoundTrip(t *testing.T) {
	msgs := []Message{
		&SetChunkSize{Size: 4096},
		&Abort{ChunkStreamID: 12},
		&Acknowledgement{SequenceNumber: 1 << 20},
		&WindowAckSize{Size: 250000},
		&SetPeerBandwidth{Size: 2500000, Limit: LimitDynamic},
		&UserControl{Event: EventStreamBegin, Data: 1},
		&Command{Values: []amf.Value{amf.String("connect"), amf.Number(1), amf.Null{}}},
		&Data{Values: []amf.Value{amf.String("onMetaData"), amf.NewECMAArray(amf.Prop("width", amf.Number(640)))}},
	}
	for _, m := range msgs {
		body, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode(%T): %v", m, err)
		}
		got, err := Decode(Raw{Header: Header{TypeID: m.Type(), Length: uint32(len(body))}, Payload: body})
		if err != nil {
			t.Fatalf("Decode(%T): %v", m, err)
		}
		if !reflect.DeepEqual(got, m) {
			t.Fatalf("round trip %T = %#v, want %#v", m, got, m)
		}
	}
}

func TestMediaBodySplitsControlByte(t *testing.T) {
	raw := Raw{
		Header:  Header{Timestamp: 40, TimestampDelta: 40, TypeID: TypeVideo},
		Payload: []byte{0x27, 0x01, 0xAA},
	}
	m, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	v := m.(*Video)
	if v.Control != 0x27 || !bytes.Equal(v.Payload, []byte{0x01, 0xAA}) {
		t.Fatalf("video = %#v", v)
	}
	if v.Timestamp != 40 || v.TimestampDelta != 40 {
		t.Fatalf("timestamps = %d/%d, want 40/40", v.Timestamp, v.TimestampDelta)
	}
	body, _ := Encode(v)
	if !bytes.Equal(body, raw.Payload) {
		t.Fatalf("Encode = % x, want % x", body, raw.Payload)
	}
}

func TestDecodeMalformedCommand(t *testing.T) {
	_, err := Decode(Raw{Header: Header{TypeID: TypeCommand}, Payload: []byte{0x02, 0x00, 0x09, 'c'}})
	if !errors.Is(err, amf.ErrDecode) {
		t.Fatalf("err = %v, want amf.ErrDecode", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	m, err := Decode(Raw{Header: Header{TypeID: 22}, Payload: []byte{1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	if m.Type() != 22 {
		t.Fatalf("Type = %d, want 22", m.Type())
	}
	if _, ok := m.(*Unknown); !ok {
		t.Fatalf("got %T, want *Unknown", m)
	}
}

func TestCommandNameIsFirstString(t *testing.T) {
	cmd := &Command{Values: []amf.Value{amf.Number(3), amf.Null{}, amf.String("createStream")}}
	name, ok := cmd.Name()
	if !ok || name != "createStream" {
		t.Fatalf("Name = %q, %v", name, ok)
	}
	if _, ok := (&Command{}).Name(); ok {
		t.Fatalf("empty command reported a name")
	}
}
