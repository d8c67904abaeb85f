package sfu

import "github.com/pion/webrtc/v3"

// routerCodecs is the fixed codec set every router in the system
// negotiates, per spec.md §4.4: Opus 48kHz stereo, VP8, and H.264
// baseline. No other codec is ever offered.
var routerCodecs = []webrtc.RTPCodecParameters{
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	},
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		PayloadType: 96,
	},
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 102,
	},
}

// newMediaEngine builds a pion MediaEngine restricted to routerCodecs, used
// to construct each Worker's webrtc.API.
func newMediaEngine() (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	for _, codec := range routerCodecs {
		kind := webrtc.RTPCodecTypeVideo
		if codec.MimeType == webrtc.MimeTypeOpus {
			kind = webrtc.RTPCodecTypeAudio
		}
		if err := m.RegisterCodec(codec, kind); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RTPCapabilities is the simplified mediasoup-style capability set
// exchanged with clients: what codecs a party can consume. The router's
// own capabilities (returned from join_media_room) always list
// routerCodecs; a peer's capabilities are whatever `set_rtp_capabilities`
// last reported.
type RTPCapabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

type CodecCapability struct {
	MimeType  string `json:"mimeType"`
	ClockRate int    `json:"clockRate"`
	Channels  int    `json:"channels,omitempty"`
}

// routerRTPCapabilities is the capability descriptor returned by
// join_media_room.
func routerRTPCapabilities() RTPCapabilities {
	caps := RTPCapabilities{}
	for _, codec := range routerCodecs {
		caps.Codecs = append(caps.Codecs, CodecCapability{
			MimeType:  codec.MimeType,
			ClockRate: int(codec.ClockRate),
			Channels:  int(codec.Channels),
		})
	}
	return caps
}

// canConsume reports whether a peer's declared capabilities include the
// given mime type, per spec.md §4.4's consume-time capability check.
func canConsume(caps RTPCapabilities, mimeType string) bool {
	for _, c := range caps.Codecs {
		if c.MimeType == mimeType {
			return true
		}
	}
	return false
}
