package rendezvous

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

func newTestHost(t *testing.T) host.Host {
	t.Helper()
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("libp2p.New: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func connectHosts(t *testing.T, a, b host.Host) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Connect(ctx, peer.AddrInfo{ID: b.ID(), Addrs: b.Addrs()}); err != nil {
		t.Fatalf("connect: %v", err)
	}
}

func TestServer_RegisterThenDiscover(t *testing.T) {
	serverHost := newTestHost(t)
	clientHost := newTestHost(t)
	connectHosts(t, clientHost, serverHost)

	srv := NewServer(serverHost, nil)
	defer srv.Close()

	c := NewClient(clientHost, serverHost.ID(), "ns", []string{"/ip4/127.0.0.1/tcp/4001"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ttl, err := c.Register(ctx)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if ttl <= 0 {
		t.Errorf("expected positive TTL, got %v", ttl)
	}

	select {
	case ev := <-srv.PeerRegistered():
		if ev.Namespace != "ns" || ev.Peer != clientHost.ID() {
			t.Errorf("unexpected PeerRegistered event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a PeerRegistered event")
	}

	otherHost := newTestHost(t)
	connectHosts(t, otherHost, serverHost)
	other := NewClient(otherHost, serverHost.ID(), "ns", nil, nil)
	found, err := other.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(found) != 1 || found[0].PeerID != clientHost.ID() {
		t.Errorf("Discover = %+v, want one entry for %s", found, clientHost.ID())
	}
}

func TestServer_DiscoverExcludesExpired(t *testing.T) {
	serverHost := newTestHost(t)
	clientHost := newTestHost(t)
	connectHosts(t, clientHost, serverHost)

	srv := NewServer(serverHost, nil)
	defer srv.Close()

	srv.mu.Lock()
	srv.entries["ns"] = map[peer.ID]*registration{
		clientHost.ID(): {
			peerID:    clientHost.ID(),
			addrs:     []string{"/ip4/127.0.0.1/tcp/1"},
			expiresAt: time.Now().Add(-time.Second),
		},
	}
	srv.mu.Unlock()

	c := NewClient(clientHost, serverHost.ID(), "ns", nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	found, err := c.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected expired registration to be excluded, got %+v", found)
	}
}

func TestServer_DiscoverRequiresNamespace(t *testing.T) {
	serverHost := newTestHost(t)
	clientHost := newTestHost(t)
	connectHosts(t, clientHost, serverHost)

	srv := NewServer(serverHost, nil)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := (&Client{host: clientHost, server: serverHost.ID()}).Discover(ctx)
	if err == nil {
		t.Fatal("expected error for missing namespace")
	}
}

func TestNextBackoff_CapsAtMax(t *testing.T) {
	d := backoffBase
	for i := 0; i < 10; i++ {
		d = nextBackoff(d)
	}
	if d != backoffMax {
		t.Errorf("backoff = %v, want it capped at %v", d, backoffMax)
	}
}
