package overlay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

func newTestNetwork(t *testing.T, listen ...string) *Network {
	t.Helper()
	id, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	if len(listen) == 0 {
		listen = []string{"/ip4/127.0.0.1/tcp/0"}
	}
	n, err := NewNetwork(NetworkConfig{Identity: id, ListenAddresses: listen})
	if err != nil {
		t.Fatalf("NewNetwork: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

func TestNewNetwork_RequiresIdentity(t *testing.T) {
	_, err := NewNetwork(NetworkConfig{})
	if err == nil {
		t.Fatal("expected error when Identity is nil")
	}
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Kind != KindConfig {
		t.Errorf("got %v, want KindConfig overlay.Error", err)
	}
}

func TestNewNetwork_ListensAndReportsPeerID(t *testing.T) {
	n := newTestNetwork(t)
	if n.PeerID() == "" {
		t.Error("PeerID() empty")
	}
	if len(n.Host().Addrs()) == 0 {
		t.Error("expected at least one listen address")
	}
}

func TestNetwork_ConnectSucceeds(t *testing.T) {
	a := newTestNetwork(t)
	b := newTestNetwork(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := a.Connect(ctx, peer.AddrInfo{ID: b.PeerID(), Addrs: b.Host().Addrs()})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(a.Host().Network().ConnsToPeer(b.PeerID())) == 0 {
		t.Error("expected an open connection to b")
	}
}

func TestNetwork_ConnectUnreachableIsClassified(t *testing.T) {
	a := newTestNetwork(t)
	unreachable, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	addr := mustMultiaddr(t, "/ip4/127.0.0.1/tcp/1")
	err = a.Connect(ctx, peer.AddrInfo{ID: unreachable.ID(), Addrs: []ma.Multiaddr{addr}})
	if err == nil {
		t.Fatal("expected a dial error")
	}
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Kind != KindTransport {
		t.Errorf("got %v, want KindTransport overlay.Error", err)
	}
}

func peerAddrInfo(n *Network) peer.AddrInfo {
	return peer.AddrInfo{ID: n.PeerID(), Addrs: n.Host().Addrs()}
}

func mustMultiaddr(t *testing.T, s string) ma.Multiaddr {
	t.Helper()
	addr, err := ma.NewMultiaddr(s)
	if err != nil {
		t.Fatalf("bad multiaddr %q: %v", s, err)
	}
	return addr
}
