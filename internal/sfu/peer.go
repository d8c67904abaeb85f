package sfu

import "github.com/google/uuid"

// Peer is the client-facing participant record. It holds only ids into
// the Router's arena tables, never direct pointers to Transport/Producer/
// Consumer — spec.md §9's "arena + id handles" discipline for breaking
// the otherwise-cyclic room/peer/producer/consumer graph.
type Peer struct {
	ID       uuid.UUID // session id
	UserID   uuid.UUID
	Username string

	Capabilities RTPCapabilities

	SendTransportID *uuid.UUID
	RecvTransportID *uuid.UUID
	ProducerIDs     map[uuid.UUID]bool
	ConsumerIDs     map[uuid.UUID]bool
}

func newPeer(id, userID uuid.UUID, username string) *Peer {
	return &Peer{
		ID:          id,
		UserID:      userID,
		Username:    username,
		ProducerIDs: make(map[uuid.UUID]bool),
		ConsumerIDs: make(map[uuid.UUID]bool),
	}
}

// HasProducer reports whether this peer owns at least one live producer,
// the unit the recording trigger/stop policy counts (spec.md §4.5).
func (p *Peer) HasProducer() bool {
	return len(p.ProducerIDs) > 0
}
