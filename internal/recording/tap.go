package recording

import (
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/observer/teatime/internal/sfu"
)

// tap is a plain (non-WebRTC) RTP sink: it rewrites every packet's payload
// type to the fixed value the muxer's SDP describes and writes it to a
// loopback UDP socket. It satisfies sfu.RTPSink so a Producer can forward
// to it exactly as it would to a Consumer. Starts paused, matching
// Consumer's "paused until explicitly resumed" discipline (spec.md §4.5:
// resuming before the muxer binds its socket drops initial packets).
type tap struct {
	id          uuid.UUID
	producer    *sfu.Producer
	conn        *net.UDPConn
	payloadType uint8

	mu     sync.Mutex
	paused bool
	closed bool
}

func newTap(id uuid.UUID, producer *sfu.Producer, conn *net.UDPConn) *tap {
	pt := uint8(payloadTypeVideo)
	if producer.Kind == sfu.KindAudio {
		pt = payloadTypeAudio
	}
	return &tap{id: id, producer: producer, conn: conn, payloadType: pt, paused: true}
}

func (t *tap) WriteRTP(pkt *rtp.Packet) {
	t.mu.Lock()
	if t.paused || t.closed {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	out := *pkt
	out.PayloadType = t.payloadType
	buf, err := out.Marshal()
	if err != nil {
		return
	}
	_, _ = t.conn.Write(buf)
}

func (t *tap) resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
}

// Close implements sfu.RTPSink. Idempotent: fires on producerclose
// (producer track ended / peer removed) or explicit recording stop.
func (t *tap) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.producer.RemoveSink(t.id)
	_ = t.conn.Close()
}
