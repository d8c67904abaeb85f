package sfu

import (
	"sync"

	"github.com/google/uuid"
)

// Router is the per-room media processing node: arena tables for peers,
// transports, producers, and consumers, all cross-linked by id rather
// than pointer (spec.md §9). One router is created lazily per room on a
// round-robin worker and destroyed when its last peer leaves (§4.4, §4.7).
type Router struct {
	ID     uuid.UUID // room id
	worker *Worker
	net    NetConfig

	mu         sync.RWMutex
	peers      map[uuid.UUID]*Peer
	transports map[uuid.UUID]*Transport
	producers  map[uuid.UUID]*Producer
	consumers  map[uuid.UUID]*Consumer
}

func newRouter(roomID uuid.UUID, worker *Worker, net NetConfig) *Router {
	return &Router{
		ID:         roomID,
		worker:     worker,
		net:        net,
		peers:      make(map[uuid.UUID]*Peer),
		transports: make(map[uuid.UUID]*Transport),
		producers:  make(map[uuid.UUID]*Producer),
		consumers:  make(map[uuid.UUID]*Consumer),
	}
}

// RTPCapabilities returns the router's fixed capability set, the same for
// every room (spec.md §4.4's {Opus, VP8, H.264} set).
func (r *Router) RTPCapabilities() RTPCapabilities {
	return routerRTPCapabilities()
}

func (r *Router) addPeer(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.ID] = p
}

func (r *Router) getPeer(id uuid.UUID) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

func (r *Router) peerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// ActiveMediaPeerCount counts peers with at least one live producer — the
// input to the recording trigger/stop policy (spec.md §4.5).
func (r *Router) ActiveMediaPeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, p := range r.peers {
		if p.HasProducer() {
			count++
		}
	}
	return count
}

func (r *Router) addTransport(t *Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.ID] = t
}

func (r *Router) getTransport(id uuid.UUID) (*Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[id]
	return t, ok
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.ID] = p
}

func (r *Router) getProducer(id uuid.UUID) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

// ProducersExcept lists every live producer not owned by excludePeer, for
// get_producers (spec.md §4.4).
func (r *Router) ProducersExcept(excludePeer uuid.UUID) []*Producer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Producer
	for _, p := range r.producers {
		if p.PeerID != excludePeer && !p.Closed() {
			out = append(out, p)
		}
	}
	return out
}

// AllProducers snapshots every live producer, used by the recording
// controller when deciding which streams to tap at start (spec.md §4.5).
func (r *Router) AllProducers() []*Producer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Producer, 0, len(r.producers))
	for _, p := range r.producers {
		out = append(out, p)
	}
	return out
}

func (r *Router) addConsumer(c *Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[c.ID] = c
}

func (r *Router) getConsumer(id uuid.UUID) (*Consumer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.consumers[id]
	return c, ok
}

// removePeer tears down everything owned by a peer, in the order the
// design notes require: consumer -> producer -> transport -> peer.
// Returns the producer and consumer ids that were closed, so callers can
// notify the recording controller and other peers.
func (r *Router) removePeer(peerID uuid.UUID) (closedProducers, closedConsumers []uuid.UUID) {
	r.mu.Lock()
	peer, ok := r.peers[peerID]
	if !ok {
		r.mu.Unlock()
		return nil, nil
	}

	var consumers []*Consumer
	for id := range peer.ConsumerIDs {
		if c, ok := r.consumers[id]; ok {
			consumers = append(consumers, c)
		}
		delete(r.consumers, id)
	}
	var producers []*Producer
	for id := range peer.ProducerIDs {
		if p, ok := r.producers[id]; ok {
			producers = append(producers, p)
			closedProducers = append(closedProducers, id)
		}
		delete(r.producers, id)
	}
	var transports []*Transport
	for _, id := range []*uuid.UUID{peer.SendTransportID, peer.RecvTransportID} {
		if id != nil {
			if t, ok := r.transports[*id]; ok {
				transports = append(transports, t)
			}
			delete(r.transports, *id)
		}
	}
	delete(r.peers, peerID)
	r.mu.Unlock()

	for _, c := range consumers {
		c.Close()
		closedConsumers = append(closedConsumers, c.ID)
	}
	for _, p := range producers {
		p.Close()
	}
	for _, t := range transports {
		_ = t.Close()
	}
	return closedProducers, closedConsumers
}
