package flv

import "fmt"

// Video frame types (upper nibble of the first video tag byte)
const (
	FrameTypeKey        = 1
	FrameTypeInter      = 2
	FrameTypeDisposable = 3
)

// Video codec ids (lower nibble)
const (
	VideoCodecH263 = 2
	VideoCodecVP6  = 4
	VideoCodecAVC  = 7
	VideoCodecHEVC = 12
)

// Audio sound formats (upper nibble of the first audio tag byte)
const (
	SoundFormatMP3   = 2
	SoundFormatNelly = 6
	SoundFormatAAC   = 10
	SoundFormatSpeex = 11
)

// AVCPacketType / AACPacketType values
const (
	PacketTypeSequenceHeader = 0
	PacketTypeNALU           = 1
	PacketTypeEndOfSequence  = 2
)

// VideoTagHeader is the FLV video tag header that precedes codec data.
type VideoTagHeader struct {
	FrameType       uint8
	CodecID         uint8
	AVCPacketType   uint8
	CompositionTime int32
}

func (h VideoTagHeader) IsKeyFrame() bool { return h.FrameType == FrameTypeKey }

func (h VideoTagHeader) IsSequenceHeader() bool {
	return h.CodecID == VideoCodecAVC && h.AVCPacketType == PacketTypeSequenceHeader
}

// ParseVideoTagHeader parses control + body as carried by an RTMP video message.
//
// Byte 0: frame type (4 bits) + codec id (4 bits)
// Byte 1: AVCPacketType (AVC only)
// Bytes 2-4: composition time offset (AVC only)
func ParseVideoTagHeader(control byte, body []byte) (VideoTagHeader, error) {
	h := VideoTagHeader{
		FrameType: control >> 4,
		CodecID:   control & 0x0F,
	}
	if h.CodecID != VideoCodecAVC {
		return h, nil
	}
	if len(body) < 4 {
		return h, fmt.Errorf("avc video tag too short: %d bytes", len(body)+1)
	}
	h.AVCPacketType = body[0]
	ct := int32(body[1])<<16 | int32(body[2])<<8 | int32(body[3])
	if ct&0x800000 != 0 {
		ct |= -1 << 24
	}
	h.CompositionTime = ct
	return h, nil
}

// AudioTagHeader is the FLV audio tag header.
type AudioTagHeader struct {
	SoundFormat   uint8
	SoundRate     uint8
	SoundSize     uint8
	SoundType     uint8
	AACPacketType uint8
}

func (h AudioTagHeader) IsSequenceHeader() bool {
	return h.SoundFormat == SoundFormatAAC && h.AACPacketType == PacketTypeSequenceHeader
}

// ParseAudioTagHeader parses control + body as carried by an RTMP audio message.
func ParseAudioTagHeader(control byte, body []byte) (AudioTagHeader, error) {
	h := AudioTagHeader{
		SoundFormat: control >> 4,
		SoundRate:   (control >> 2) & 0x03,
		SoundSize:   (control >> 1) & 0x01,
		SoundType:   control & 0x01,
	}
	if h.SoundFormat != SoundFormatAAC {
		return h, nil
	}
	if len(body) < 1 {
		return h, fmt.Errorf("aac audio tag too short")
	}
	h.AACPacketType = body[0]
	return h, nil
}

// VideoCodecName maps a codec id to the short name reported by the status API.
func VideoCodecName(id uint8) string {
	switch id {
	case VideoCodecAVC:
		return "h264"
	case VideoCodecHEVC:
		return "h265"
	case VideoCodecH263:
		return "h263"
	case VideoCodecVP6:
		return "vp6"
	default:
		return fmt.Sprintf("video(%d)", id)
	}
}

// AudioCodecName maps a sound format to the short name reported by the status API.
func AudioCodecName(format uint8) string {
	switch format {
	case SoundFormatAAC:
		return "aac"
	case SoundFormatMP3:
		return "mp3"
	case SoundFormatSpeex:
		return "speex"
	case SoundFormatNelly:
		return "nellymoser"
	default:
		return fmt.Sprintf("audio(%d)", format)
	}
}
