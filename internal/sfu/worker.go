package sfu

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
)

// Worker is a media processing unit. Pion's API instance plays the role
// mediasoup assigns its native worker process: it owns the MediaEngine and
// SettingEngine that every transport created under it inherits. spec.md
// §4.4: N workers at startup, one per host CPU, assigned to rooms
// round-robin; a dead worker is unrecoverable.
type Worker struct {
	id     int
	api    *webrtc.API
	logger *slog.Logger
}

// NetConfig carries the externally reachable address workers announce to
// peers during ICE gathering — required for any deployment behind NAT.
type NetConfig struct {
	AnnouncedIP string
	ICEServers  []webrtc.ICEServer
}

func newWorker(id int, net NetConfig, logger *slog.Logger) (*Worker, error) {
	mediaEngine, err := newMediaEngine()
	if err != nil {
		return nil, fmt.Errorf("worker %d: build media engine: %w", id, err)
	}

	settingEngine := webrtc.SettingEngine{}
	if net.AnnouncedIP != "" {
		settingEngine.SetNAT1To1IPs([]string{net.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	)

	return &Worker{id: id, api: api, logger: logger.With("worker_id", id)}, nil
}

func (w *Worker) newPeerConnection(net NetConfig) (*webrtc.PeerConnection, error) {
	return w.api.NewPeerConnection(webrtc.Configuration{ICEServers: net.ICEServers})
}

// WorkerPool is N workers assigned round-robin to new rooms.
type WorkerPool struct {
	workers []*Worker
	next    uint64
}

// NewWorkerPool creates n workers. Per spec.md §4.4, n is normally the
// host CPU count; the caller (cmd/server) decides that.
func NewWorkerPool(n int, net NetConfig, logger *slog.Logger) (*WorkerPool, error) {
	if n < 1 {
		n = 1
	}
	pool := &WorkerPool{workers: make([]*Worker, n)}
	for i := 0; i < n; i++ {
		w, err := newWorker(i, net, logger)
		if err != nil {
			return nil, err
		}
		pool.workers[i] = w
	}
	return pool, nil
}

// Next returns the next worker in round-robin order.
func (p *WorkerPool) Next() *Worker {
	i := atomic.AddUint64(&p.next, 1) - 1
	return p.workers[i%uint64(len(p.workers))]
}
