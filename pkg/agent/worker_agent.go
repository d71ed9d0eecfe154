package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/shurlinet/agentswarm/pkg/overlay"
)

// WorkerAgentConfig configures a worker (member) agent. AdminAddr is
// typically left empty and filled in by AdminAgent.Start from the admin
// it is registered under; set it directly when running a worker against
// an admin started elsewhere.
type WorkerAgentConfig struct {
	Name        string
	WorkspaceID string
	AdminAddr   string
	Topic       overlay.Topic
	Discovery   overlay.DiscoveryOptions
}

// WorkerAgent wraps a member peer runtime with a message handler and a
// processor task.
type WorkerAgent struct {
	config  WorkerAgentConfig
	handler MessageHandler
	proc    Processor
	metrics *overlay.Metrics

	mu   sync.RWMutex
	peer *overlay.Peer
	id   *peer.ID
}

// NewWorkerAgent constructs a worker agent. handler and proc may be nil.
func NewWorkerAgent(cfg WorkerAgentConfig, handler MessageHandler, proc Processor, metrics *overlay.Metrics) *WorkerAgent {
	return &WorkerAgent{config: cfg, handler: handler, proc: proc, metrics: metrics}
}

// Detail reports the agent's display name and, once Start has brought the
// peer up, its assigned peer identity.
func (w *WorkerAgent) Detail() AgentDetail {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return AgentDetail{Name: w.config.Name, ID: w.id}
}

// Broadcast sends data to the worker's own peer command channel; the peer
// publishes it over gossip. It fails if Start has not yet brought the peer
// up (ErrPeerUnreachable), if the peer is shutting down, or if its outbound
// queue is full.
func (w *WorkerAgent) Broadcast(data []byte) error {
	w.mu.RLock()
	p := w.peer
	w.mu.RUnlock()
	if p == nil {
		return overlay.ErrPeerUnreachable
	}
	return p.Publish(data)
}

// Stop triggers the agent's cancellation signal.
func (w *WorkerAgent) Stop() {
	w.mu.RLock()
	p := w.peer
	w.mu.RUnlock()
	if p != nil {
		p.Shutdown()
	}
}

// Start spawns the member peer runtime, its listener, and its processor
// task with initialInput. It returns once any one of the three completes
// or ctx is cancelled.
func (w *WorkerAgent) Start(ctx context.Context, initialInput []byte) error {
	p, err := overlay.NewMemberPeer(overlay.MemberPeerConfig{
		Name:        w.config.Name,
		WorkspaceID: w.config.WorkspaceID,
		AdminAddr:   w.config.AdminAddr,
		Topic:       w.config.Topic,
		Discovery:   w.config.Discovery,
	}, w.metrics)
	if err != nil {
		return err
	}

	id := p.ID()
	w.mu.Lock()
	w.peer = p
	w.id = &id
	w.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := p.Run(runCtx); err != nil {
			slog.Error("agent: worker peer runtime exited with error", "agent", w.config.Name, "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		runListener(runCtx, p.Events(), w.handler, w.metrics)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if w.proc != nil {
			w.proc.Run(runCtx, initialInput)
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	<-done
	return nil
}
