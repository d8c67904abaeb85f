package sfu

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// Consumer is a server-side handle to media flowing out to a client,
// created paused until the client explicitly resumes it (spec.md §4.4:
// "starting paused prevents dropped initial keyframes").
type Consumer struct {
	ID         uuid.UUID
	PeerID     uuid.UUID
	ProducerID uuid.UUID
	Kind       Kind

	track    *webrtc.TrackLocalStaticRTP
	producer *Producer

	mu     sync.Mutex
	paused bool
	closed bool
}

func newConsumer(id, peerID uuid.UUID, producer *Producer, track *webrtc.TrackLocalStaticRTP) *Consumer {
	return &Consumer{
		ID:         id,
		PeerID:     peerID,
		ProducerID: producer.ID,
		Kind:       producer.Kind,
		track:      track,
		producer:   producer,
		paused:     true,
	}
}

// WriteRTP forwards one RTP packet unless the consumer is paused or closed.
func (c *Consumer) WriteRTP(pkt *rtp.Packet) {
	c.mu.Lock()
	if c.paused || c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	_ = c.track.WriteRTP(pkt)
}

// Resume implements resume_consumer.
func (c *Consumer) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Close detaches from the producer. Idempotent: fires on transportclose,
// producerclose, or explicit teardown (spec.md §4.4, §9).
func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.producer.RemoveSink(c.ID)
}
