package rendezvous

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeMetrics records every call it receives, for assertions in tests. Safe
// for concurrent use since registerLoop/discoverLoop call it from separate
// goroutines.
type fakeMetrics struct {
	mu                sync.Mutex
	registrations     []string
	discovers         []string
	reconnectAttempts []string
}

func (f *fakeMetrics) IncRegistration(result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations = append(f.registrations, result)
}

func (f *fakeMetrics) IncDiscover(result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discovers = append(f.discovers, result)
}

func (f *fakeMetrics) IncReconnectAttempt(loop string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnectAttempts = append(f.reconnectAttempts, loop)
}

func (f *fakeMetrics) snapshot() (registrations, discovers, reconnects []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.registrations...),
		append([]string(nil), f.discovers...),
		append([]string(nil), f.reconnectAttempts...)
}

func TestClientAndServer_RecordSuccessfulRegisterAndDiscover(t *testing.T) {
	serverHost := newTestHost(t)
	clientHost := newTestHost(t)
	connectHosts(t, clientHost, serverHost)

	serverMetrics := &fakeMetrics{}
	clientMetrics := &fakeMetrics{}

	srv := NewServer(serverHost, serverMetrics)
	defer srv.Close()

	c := NewClient(clientHost, serverHost.ID(), "ns", []string{"/ip4/127.0.0.1/tcp/4001"}, clientMetrics)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.Register(ctx); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := c.Discover(ctx); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	regs, discs, _ := clientMetrics.snapshot()
	if len(regs) != 1 || regs[0] != "ok" {
		t.Errorf("client registrations = %v, want [\"ok\"]", regs)
	}
	if len(discs) != 1 || discs[0] != "ok" {
		t.Errorf("client discovers = %v, want [\"ok\"]", discs)
	}

	srvRegs, srvDiscs, _ := serverMetrics.snapshot()
	if len(srvRegs) != 1 || srvRegs[0] != "ok" {
		t.Errorf("server registrations = %v, want [\"ok\"]", srvRegs)
	}
	if len(srvDiscs) != 1 || srvDiscs[0] != "ok" {
		t.Errorf("server discovers = %v, want [\"ok\"]", srvDiscs)
	}
}

func TestServer_RecordsRejectedMissingNamespace(t *testing.T) {
	serverHost := newTestHost(t)
	clientHost := newTestHost(t)
	connectHosts(t, clientHost, serverHost)

	serverMetrics := &fakeMetrics{}
	srv := NewServer(serverHost, serverMetrics)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := &Client{host: clientHost, server: serverHost.ID()}
	if _, err := c.Discover(ctx); err == nil {
		t.Fatal("expected error for missing namespace")
	}

	_, discs, _ := serverMetrics.snapshot()
	if len(discs) != 1 || discs[0] != "rejected" {
		t.Errorf("server discovers = %v, want [\"rejected\"]", discs)
	}
}

func TestClient_RecordsReconnectAttemptsOnBackoff(t *testing.T) {
	// No listener is installed on serverHost for ProtocolID, so every
	// register/discover round trip fails and the loops back off.
	serverHost := newTestHost(t)
	clientHost := newTestHost(t)
	connectHosts(t, clientHost, serverHost)

	metrics := &fakeMetrics{}
	c := NewClient(clientHost, serverHost.ID(), "ns", nil, metrics)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go c.registerLoop(ctx)
	go c.discoverLoop(ctx)

	<-ctx.Done()

	_, _, reconnects := metrics.snapshot()
	if len(reconnects) == 0 {
		t.Error("expected at least one recorded reconnect attempt")
	}
	for _, loop := range reconnects {
		if loop != "register" && loop != "discover" {
			t.Errorf("unexpected reconnect attempt label %q", loop)
		}
	}
}
