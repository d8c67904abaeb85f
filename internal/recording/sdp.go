package recording

import (
	"fmt"

	"github.com/observer/teatime/internal/sfu"
)

// codecName resolves the codec ffmpeg's SDP demuxer should expect for a
// tap, preferring the producer's actual negotiated mime type and falling
// back to the kind's default when the track hasn't bound yet (a producer
// signalled via produce() but never sending media still gets tapped).
func codecName(kind sfu.Kind, mimeType string) (name string, clockRate int, channels int) {
	switch mimeType {
	case "video/VP8", "video/vp8":
		return "VP8", 90000, 0
	case "video/H264", "video/h264":
		return "H264", 90000, 0
	case "audio/opus", "audio/OPUS":
		return "opus", 48000, 2
	}
	if kind == sfu.KindAudio {
		return "opus", 48000, 2
	}
	return "VP8", 90000, 0
}

// buildTapSDP describes one inbound RTP stream for ffmpeg's "-f sdp"
// demuxer: a single m= line naming the fixed payload type every tap
// rewrites onto its packets (spec.md §4.5 step 4).
func buildTapSDP(kind sfu.Kind, mimeType string, port int) string {
	name, clock, channels := codecName(kind, mimeType)
	pt := payloadTypeVideo
	media := "video"
	if kind == sfu.KindAudio {
		pt = payloadTypeAudio
		media = "audio"
	}

	rtpmap := fmt.Sprintf("%s/%d", name, clock)
	if channels > 0 {
		rtpmap = fmt.Sprintf("%s/%d/%d", name, clock, channels)
	}

	return fmt.Sprintf(
		"v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nc=IN IP4 127.0.0.1\r\nt=0 0\r\nm=%s %d RTP/AVP %d\r\na=rtpmap:%d %s\r\n",
		media, port, pt, pt, rtpmap,
	)
}
