package recording

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/observer/teatime/internal/domain"
	"github.com/observer/teatime/internal/sfu"
)

// session is the in-memory state of one active recording: the muxer
// process, its taps, and everything that needs cleaning up on stop.
type session struct {
	id         string
	roomID     uuid.UUID
	callID     uuid.UUID
	startedAt  time.Time
	hasVideo   bool
	outputPath string

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	taps     []*tap
	sdpPaths []string
}

// pickPort finds an unused UDP port in the RTP tap window, retrying on
// bind failure (Open Question: spec allows but doesn't require this;
// bounded at 10 attempts since two live taps must never share a port).
func pickPort() (int, error) {
	for i := 0; i < maxPortBindAttempts; i++ {
		port := portRangeLow + rand.Intn(portRangeHigh-portRangeLow)
		l, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
		if err != nil {
			continue
		}
		_ = l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free udp port in [%d, %d) after %d attempts", portRangeLow, portRangeHigh, maxPortBindAttempts)
}

// buildMuxerArgs assembles the ffmpeg invocation per spec.md §4.5: robust
// probing flags, one -i per audio input then per video input, a filter
// graph that mixes audio and (if present) stacks video, and output codecs
// chosen by container (AAC/H.264 for mp4, mp3 for audio-only).
func buildMuxerArgs(audioSDPs, videoSDPs []string, hasVideo bool, outputPath string) []string {
	args := []string{
		"-y",
		"-protocol_whitelist", "file,udp,rtp",
		"-analyzeduration", "1000000",
		"-probesize", "5000000",
		"-fflags", "+genpts+discardcorrupt",
	}
	for _, sdp := range audioSDPs {
		args = append(args, "-i", sdp)
	}
	for _, sdp := range videoSDPs {
		args = append(args, "-i", sdp)
	}

	var filters []string
	if n := len(audioSDPs); n > 1 {
		labels := ""
		for i := 0; i < n; i++ {
			labels += fmt.Sprintf("[%d:a]", i)
		}
		filters = append(filters, fmt.Sprintf("%samix=inputs=%d:duration=longest[aout]", labels, n))
	} else if n == 1 {
		filters = append(filters, "[0:a]acopy[aout]")
	}

	if hasVideo {
		offset := len(audioSDPs)
		if n := len(videoSDPs); n >= 2 {
			labels := ""
			for i := 0; i < n; i++ {
				labels += fmt.Sprintf("[%d:v]", offset+i)
			}
			filters = append(filters, fmt.Sprintf("%shstack=inputs=%d[vout]", labels, n))
		} else if n == 1 {
			filters = append(filters, fmt.Sprintf("[%d:v]copy[vout]", offset))
		}
	}

	if len(filters) > 0 {
		complex := filters[0]
		for _, f := range filters[1:] {
			complex += ";" + f
		}
		args = append(args, "-filter_complex", complex)
	}
	if len(audioSDPs) > 0 {
		args = append(args, "-map", "[aout]")
	}
	if hasVideo && len(videoSDPs) > 0 {
		args = append(args, "-map", "[vout]")
	}

	if len(audioSDPs) > 0 {
		if hasVideo {
			args = append(args, "-c:a", "aac", "-b:a", "192k")
		} else {
			args = append(args, "-c:a", "libmp3lame", "-b:a", "192k")
		}
	}
	if hasVideo && len(videoSDPs) > 0 {
		args = append(args, "-c:v", "libx264", "-preset", "fast", "-crf", "23")
	}

	return append(args, outputPath)
}

// start implements the Recording Controller's start sequence (spec.md
// §4.5): tap every existing producer, write its SDP, spawn the muxer, wait
// for it to bind, then resume taps in input order.
func (c *Controller) start(ctx context.Context, roomID uuid.UUID, router *sfu.Router) (*session, error) {
	now := time.Now()

	var audio, video []*sfu.Producer
	for _, p := range router.AllProducers() {
		if p.Closed() {
			continue
		}
		if p.Kind == sfu.KindAudio {
			audio = append(audio, p)
		} else {
			video = append(video, p)
		}
	}
	if len(audio)+len(video) == 0 {
		return nil, fmt.Errorf("no producers to record")
	}

	hasVideo := len(video) > 0
	recID := fmt.Sprintf("%s_%d", roomID.String(), now.UnixMilli())
	dir := filepath.Join(c.outputDir, "recordings")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	ext := ".mp3"
	if hasVideo {
		ext = ".mp4"
	}
	outputPath := filepath.Join(dir, recID+ext)

	var taps []*tap
	var sdpPaths []string
	var audioSDPs, videoSDPs []string

	cleanup := func() {
		for _, t := range taps {
			t.Close()
		}
		for _, p := range sdpPaths {
			_ = os.Remove(p)
		}
	}

	// addTap wires one producer's RTP into a loopback UDP tap; failure is
	// logged and that input is skipped (spec.md §4.5 failure semantics),
	// not treated as fatal to the whole recording.
	addTap := func(p *sfu.Producer) (string, bool) {
		port, err := pickPort()
		if err != nil {
			c.logger.Warn("recording: rtp tap port allocation failed, skipping input", "room_id", roomID, "producer_id", p.ID, "error", err)
			return "", false
		}
		conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
		if err != nil {
			c.logger.Warn("recording: rtp tap dial failed, skipping input", "room_id", roomID, "producer_id", p.ID, "error", err)
			return "", false
		}
		sdpPath := filepath.Join(dir, fmt.Sprintf("%s_%s.sdp", recID, p.ID))
		if err := os.WriteFile(sdpPath, []byte(buildTapSDP(p.Kind, p.MimeType, port)), 0600); err != nil {
			_ = conn.Close()
			c.logger.Warn("recording: rtp tap sdp write failed, skipping input", "room_id", roomID, "producer_id", p.ID, "error", err)
			return "", false
		}

		tapID := uuid.New()
		t := newTap(tapID, p, conn)
		p.AddSink(tapID, t)
		taps = append(taps, t)
		sdpPaths = append(sdpPaths, sdpPath)
		return sdpPath, true
	}

	for _, p := range audio {
		if path, ok := addTap(p); ok {
			audioSDPs = append(audioSDPs, path)
		}
	}
	if hasVideo {
		for _, p := range video {
			if path, ok := addTap(p); ok {
				videoSDPs = append(videoSDPs, path)
			}
		}
	}
	if len(audioSDPs) == 0 && len(videoSDPs) == 0 {
		cleanup()
		return nil, fmt.Errorf("every rtp tap failed to start")
	}

	args := buildMuxerArgs(audioSDPs, videoSDPs, hasVideo, outputPath)
	cmd := exec.Command("ffmpeg", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("muxer stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn muxer: %w", err)
	}

	time.Sleep(muxerBindDelay)
	for _, t := range taps {
		t.resume()
	}

	callID := uuid.Nil
	if call, lookupErr := c.calls.GetActiveCallForRoom(ctx, roomID); lookupErr != nil {
		c.logger.Warn("recording: active call lookup failed", "room_id", roomID, "error", lookupErr)
	} else if call != nil {
		callID = call.ID
	}

	c.logger.Info("recording started", "room_id", roomID, "recording_id", recID, "output", outputPath, "has_video", hasVideo)

	return &session{
		id:         recID,
		roomID:     roomID,
		callID:     callID,
		startedAt:  now,
		hasVideo:   hasVideo,
		outputPath: outputPath,
		cmd:        cmd,
		stdin:      stdin,
		taps:       taps,
		sdpPaths:   sdpPaths,
	}, nil
}

// stop implements the graceful-flush-then-escalate shutdown (spec.md
// §4.5): "q" on stdin, SIGTERM after ~2s, SIGKILL after another ~2s.
func (c *Controller) stop(sess *session) *domain.Recording {
	if sess.stdin != nil {
		_, _ = io.WriteString(sess.stdin, "q")
		_ = sess.stdin.Close()
	}

	done := make(chan error, 1)
	go func() { done <- sess.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(stopGraceStep):
		if sess.cmd.Process != nil {
			_ = sess.cmd.Process.Signal(syscall.SIGTERM)
		}
		select {
		case <-done:
		case <-time.After(stopGraceStep):
			if sess.cmd.Process != nil {
				_ = sess.cmd.Process.Kill()
			}
			<-done
		}
	}

	for _, t := range sess.taps {
		t.Close()
	}
	for _, p := range sess.sdpPaths {
		_ = os.Remove(p)
	}

	endedAt := time.Now()
	c.logger.Info("recording stopped", "room_id", sess.roomID, "recording_id", sess.id,
		"duration", endedAt.Sub(sess.startedAt).String())

	return &domain.Recording{
		ID:         sess.id,
		CallID:     sess.callID,
		RoomID:     sess.roomID,
		StartedAt:  sess.startedAt,
		EndedAt:    &endedAt,
		OutputPath: sess.outputPath,
		HasVideo:   sess.hasVideo,
	}
}
