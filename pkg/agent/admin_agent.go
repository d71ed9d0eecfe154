package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/shurlinet/agentswarm/pkg/overlay"
)

// AdminAgentConfig configures the admin agent that anchors a workspace.
type AdminAgentConfig struct {
	Name        string
	WorkspaceID string
	// Port is the admin's fixed listen port; workers dial it by address.
	Port      int
	Topic     overlay.Topic
	Discovery overlay.DiscoveryOptions
}

// AdminAgent wraps an admin peer runtime with a message handler and a
// processor task, and fans out to the workers given to Start.
type AdminAgent struct {
	config  AdminAgentConfig
	handler MessageHandler
	proc    Processor
	metrics *overlay.Metrics

	mu   sync.RWMutex
	peer *overlay.Peer
	id   *peer.ID
}

// NewAdminAgent constructs an admin agent. handler and proc may be nil for
// an agent that only relays (no application-level reaction).
func NewAdminAgent(cfg AdminAgentConfig, handler MessageHandler, proc Processor, metrics *overlay.Metrics) *AdminAgent {
	return &AdminAgent{config: cfg, handler: handler, proc: proc, metrics: metrics}
}

// Detail reports the agent's display name and, once Start has brought the
// peer up, its assigned peer identity.
func (a *AdminAgent) Detail() AgentDetail {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return AgentDetail{Name: a.config.Name, ID: a.id}
}

// Broadcast publishes data over the admin's gossip topic. Self-delivery
// means the admin's own handler will also observe it.
func (a *AdminAgent) Broadcast(data []byte) error {
	a.mu.RLock()
	p := a.peer
	a.mu.RUnlock()
	if p == nil {
		return overlay.ErrPeerUnreachable
	}
	return p.Publish(data)
}

// Stop triggers the agent's cancellation signal. It does not block until
// termination; call Start (which returns on termination) to wait for it.
func (a *AdminAgent) Stop() {
	a.mu.RLock()
	p := a.peer
	a.mu.RUnlock()
	if p != nil {
		p.Shutdown()
	}
}

// Start spawns the admin peer runtime, a listener task translating peer
// events into handler invocations, the processor task (given
// initialInput), and every worker (with this admin's dial address threaded
// into its config). It returns once any one of {admin runtime, listener,
// processor, external cancellation, any worker} completes: per the
// workspace's shared-fate contract, the first completion is sufficient to
// tear down everything else.
func (a *AdminAgent) Start(ctx context.Context, initialInput []byte, workers []*WorkerAgent) error {
	p, err := overlay.NewAdminPeer(overlay.AdminPeerConfig{
		Name:        a.config.Name,
		WorkspaceID: a.config.WorkspaceID,
		Port:        a.config.Port,
		Topic:       a.config.Topic,
		Discovery:   a.config.Discovery,
	}, a.metrics)
	if err != nil {
		return err
	}

	id := p.ID()
	a.mu.Lock()
	a.peer = p
	a.id = &id
	a.mu.Unlock()

	adminAddr, err := p.DialAddr()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := p.Run(runCtx); err != nil {
			slog.Error("agent: admin peer runtime exited with error", "agent", a.config.Name, "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		runListener(runCtx, p.Events(), a.handler, a.metrics)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if a.proc != nil {
			a.proc.Run(runCtx, initialInput)
		}
	}()

	for _, w := range workers {
		w := w
		w.config.AdminAddr = adminAddr
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			if err := w.Start(runCtx, initialInput); err != nil {
				slog.Error("agent: worker exited with error", "worker", w.config.Name, "error", err)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	<-done
	return nil
}
