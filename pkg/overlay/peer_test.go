package overlay

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/goleak"
)

func adminDialAddr(t *testing.T, p *Peer) string {
	t.Helper()
	addr, err := p.DialAddr()
	if err != nil {
		t.Fatalf("DialAddr: %v", err)
	}
	return addr
}

func waitForPeerDiscovered(t *testing.T, p *Peer, want peer.ID) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-p.Events():
			if ev.Kind == KindPeerDiscovered && ev.Peer == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for PeerDiscovered(%s)", want)
		}
	}
}

func waitForMessage(t *testing.T, events <-chan NodeMessage, data string, from peer.ID) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == KindMessage && string(ev.Data) == data && ev.CreatedBy == from {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for message %q from %s", data, from)
		}
	}
}

func TestPeer_SingletonAdminWorkerEcho(t *testing.T) {
	// Snapshot running goroutines first: libp2p's own host/swarm machinery
	// keeps background goroutines alive independent of anything this test
	// starts, so only goroutines created after this point (and not cleaned
	// up by Shutdown) should count as a leak.
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	metrics := NewMetrics("test", "go1.23")

	admin, err := NewAdminPeer(AdminPeerConfig{Name: "admin", WorkspaceID: "ws-echo", Port: 0}, metrics)
	if err != nil {
		t.Fatalf("NewAdminPeer: %v", err)
	}

	worker, err := NewMemberPeer(MemberPeerConfig{
		Name:        "worker",
		WorkspaceID: "ws-echo",
		AdminAddr:   adminDialAddr(t, admin),
	}, metrics)
	if err != nil {
		t.Fatalf("NewMemberPeer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adminDone := make(chan error, 1)
	go func() { adminDone <- admin.Run(ctx) }()

	workerDone := make(chan error, 1)
	go func() { workerDone <- worker.Run(ctx) }()

	waitForPeerDiscovered(t, admin, worker.ID())
	waitForPeerDiscovered(t, worker, admin.ID())

	if err := worker.Publish([]byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitForMessage(t, admin.Events(), "hello", worker.ID())
	waitForMessage(t, worker.Events(), "hello", worker.ID())

	admin.Shutdown()
	worker.Shutdown()

	select {
	case <-adminDone:
	case <-time.After(10 * time.Second):
		t.Fatal("admin did not shut down")
	}
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not shut down")
	}

	if admin.State() != StateDone {
		t.Errorf("admin state = %v, want StateDone", admin.State())
	}
	if worker.State() != StateDone {
		t.Errorf("worker state = %v, want StateDone", worker.State())
	}
}

func TestNewAdminPeer_MDNSDisabledByDefault(t *testing.T) {
	metrics := NewMetrics("test", "go1.23")
	admin, err := NewAdminPeer(AdminPeerConfig{Name: "admin", WorkspaceID: "ws-mdns-off", Port: 0}, metrics)
	if err != nil {
		t.Fatalf("NewAdminPeer: %v", err)
	}
	defer admin.net.Close()

	if admin.mdns != nil {
		t.Error("expected mdns to be nil when Discovery.MDNSEnabled is left unset")
	}
}

func TestNewAdminPeer_MDNSEnabledWhenConfigured(t *testing.T) {
	metrics := NewMetrics("test", "go1.23")
	admin, err := NewAdminPeer(AdminPeerConfig{
		Name:        "admin",
		WorkspaceID: "ws-mdns-on",
		Port:        0,
		Discovery:   DiscoveryOptions{Network: "ws-mdns-on", MDNSEnabled: true},
	}, metrics)
	if err != nil {
		t.Fatalf("NewAdminPeer: %v", err)
	}
	defer admin.net.Close()

	if admin.mdns == nil {
		t.Fatal("expected mdns to be constructed when Discovery.MDNSEnabled is true")
	}
	if admin.mdns.serviceType != "_agentswarm-ws-mdns-on._udp" {
		t.Errorf("mdns.serviceType = %q, want namespaced service type", admin.mdns.serviceType)
	}
}

func TestPeer_ShutdownIsIdempotent(t *testing.T) {
	metrics := NewMetrics("test", "go1.23")
	admin, err := NewAdminPeer(AdminPeerConfig{Name: "admin", WorkspaceID: "ws-idem", Port: 0}, metrics)
	if err != nil {
		t.Fatalf("NewAdminPeer: %v", err)
	}

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- admin.Run(ctx) }()

	admin.Shutdown()
	admin.Shutdown()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("admin did not shut down after duplicate Shutdown calls")
	}
}

func TestPeer_PublishBeforeSubscriptionIsDroppedNotBlocked(t *testing.T) {
	metrics := NewMetrics("test", "go1.23")
	admin, err := NewAdminPeer(AdminPeerConfig{Name: "admin", WorkspaceID: "ws-early", Port: 0}, metrics)
	if err != nil {
		t.Fatalf("NewAdminPeer: %v", err)
	}

	// Before Run ever reaches RUNNING, gossip is nil; Publish should still
	// accept the command (it fails only when the peer is shutting down or the
	// queue is full), and the
	// peer's eventual shutdown must not block on it.
	if err := admin.Publish([]byte("too early")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- admin.Run(context.Background()) }()

	admin.Shutdown()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("admin did not shut down with a queued pre-subscription publish")
	}
}
