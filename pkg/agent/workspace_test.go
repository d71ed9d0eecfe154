package agent

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/shurlinet/agentswarm/pkg/overlay"
)

type capturedMessage struct {
	from peer.ID
	data []byte
}

type capturingHandler struct {
	received chan capturedMessage
}

func newCapturingHandler() *capturingHandler {
	return &capturingHandler{received: make(chan capturedMessage, 16)}
}

func (h *capturingHandler) OnMessage(_ context.Context, from peer.ID, data []byte, _ int64) {
	h.received <- capturedMessage{from: from, data: append([]byte(nil), data...)}
}

// blockingProcessor simulates a real long-running task: it only returns
// when the workspace is cancelled, so the processor itself is never the
// thing that ends the test early.
func blockingProcessor() Processor {
	return ProcessorFunc(func(ctx context.Context, _ []byte) {
		<-ctx.Done()
	})
}

func TestWorkspace_SingletonAdminWorkerEcho(t *testing.T) {
	metrics := overlay.NewMetrics("test", "go1.23")

	adminHandler := newCapturingHandler()
	workerHandler := newCapturingHandler()

	admin := NewAdminAgent(AdminAgentConfig{
		Name: "admin", WorkspaceID: "ws-agent-echo", Port: 0,
	}, adminHandler, blockingProcessor(), metrics)
	worker := NewWorkerAgent(WorkerAgentConfig{
		Name: "worker", WorkspaceID: "ws-agent-echo",
	}, workerHandler, blockingProcessor(), metrics)

	ws := NewWorkspace(admin, worker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- ws.Run(ctx, nil) }()

	// Mesh formation between admin and worker is asynchronous (rendezvous
	// register/discover, then gossipsub mesh heartbeat); re-broadcast on a
	// tick until it lands rather than assuming a fixed settle time.
	payload := []byte("hi")
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(15 * time.Second)

	var sawAdmin, sawWorker bool
	for !sawAdmin || !sawWorker {
		select {
		case <-ticker.C:
			_ = worker.Broadcast(payload)
		case msg := <-adminHandler.received:
			if string(msg.data) == string(payload) {
				sawAdmin = true
			}
		case msg := <-workerHandler.received:
			if string(msg.data) == string(payload) {
				sawWorker = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for delivery: admin=%v worker(self)=%v", sawAdmin, sawWorker)
		}
	}

	if admin.Detail().ID == nil {
		t.Error("admin Detail().ID was never assigned")
	}
	if worker.Detail().ID == nil {
		t.Error("worker Detail().ID was never assigned")
	}

	ws.Stop()

	select {
	case <-runDone:
	case <-time.After(10 * time.Second):
		t.Fatal("workspace did not terminate after Stop")
	}
}

func TestWorkerAgent_BroadcastBeforeStartIsUnreachable(t *testing.T) {
	w := NewWorkerAgent(WorkerAgentConfig{Name: "worker", WorkspaceID: "ws"}, nil, nil, nil)
	if err := w.Broadcast([]byte("x")); err != overlay.ErrPeerUnreachable {
		t.Errorf("Broadcast before Start = %v, want %v", err, overlay.ErrPeerUnreachable)
	}
}

func TestAdminAgent_ProcessorCompletionEndsWorkspace(t *testing.T) {
	metrics := overlay.NewMetrics("test", "go1.23")

	admin := NewAdminAgent(AdminAgentConfig{
		Name: "admin", WorkspaceID: "ws-proc-done", Port: 0,
	}, nil, ProcessorFunc(func(ctx context.Context, _ []byte) {
		// Returns immediately: this alone must end Start.
	}), metrics)

	done := make(chan error, 1)
	go func() { done <- admin.Start(context.Background(), nil, nil) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("admin agent did not terminate when its processor completed")
	}
}
