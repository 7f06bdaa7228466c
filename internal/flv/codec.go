package flv

import (
	"bytes"
	"fmt"

	"github.com/Eyevinn/mp4ff/aac"
	"github.com/Eyevinn/mp4ff/avc"

	"gopcast/pkg/models"
)

// ParseAVCSequenceHeader decodes the AVCDecoderConfigurationRecord carried by
// the body of an AVC sequence header: packet type, composition time, record.
// Resolution comes from the first SPS.
func ParseAVCSequenceHeader(body []byte) (*models.VideoTrack, error) {
	if len(body) < 11 {
		return nil, fmt.Errorf("avc sequence header too short: %d bytes", len(body))
	}
	rec, err := avc.DecodeAVCDecConfRec(body[4:])
	if err != nil {
		return nil, fmt.Errorf("decode avc decoder configuration: %w", err)
	}
	if len(rec.SPSnalus) == 0 {
		return nil, fmt.Errorf("avc decoder configuration carries no SPS")
	}
	sps, err := avc.ParseSPSNALUnit(rec.SPSnalus[0], false)
	if err != nil {
		return nil, fmt.Errorf("parse SPS: %w", err)
	}

	return &models.VideoTrack{
		Codec:   fmt.Sprintf("avc1.%02x%02x%02x", rec.AVCProfileIndication, rec.ProfileCompatibility, rec.AVCLevelIndication),
		Profile: uint32(sps.Profile),
		Level:   uint32(sps.Level),
		Width:   int(sps.Width),
		Height:  int(sps.Height),
	}, nil
}

// ParseAACSequenceHeader decodes the AudioSpecificConfig carried by the body
// of an AAC sequence header: packet type, config.
func ParseAACSequenceHeader(body []byte) (*models.AudioTrack, error) {
	if len(body) < 3 {
		return nil, fmt.Errorf("aac sequence header too short: %d bytes", len(body))
	}
	asc, err := aac.DecodeAudioSpecificConfig(bytes.NewReader(body[1:]))
	if err != nil {
		return nil, fmt.Errorf("decode audio specific config: %w", err)
	}

	return &models.AudioTrack{
		Codec:      fmt.Sprintf("mp4a.40.%d", asc.ObjectType),
		ObjectType: int(asc.ObjectType),
		SampleRate: int(asc.SamplingFrequency),
		Channels:   int(asc.ChannelConfiguration),
	}, nil
}
