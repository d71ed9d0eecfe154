package overlay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

func newMDNSNetwork(t *testing.T) *Network {
	t.Helper()
	return newTestNetwork(t, "/ip4/0.0.0.0/tcp/0")
}

func TestMDNSDiscovery_SelfIgnored(t *testing.T) {
	net := newMDNSNetwork(t)
	h := net.Host()

	md := NewMDNSDiscovery(h, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := md.Start(ctx); err != nil {
		t.Fatalf("md.Start: %v", err)
	}
	defer md.Close()

	md.HandlePeerFound(peer.AddrInfo{ID: h.ID(), Addrs: h.Addrs()})
}

func TestMDNSDiscovery_HandlePeerFound(t *testing.T) {
	netA := newMDNSNetwork(t)
	netB := newMDNSNetwork(t)

	md := NewMDNSDiscovery(netA.Host(), "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := md.Start(ctx); err != nil {
		t.Fatalf("md.Start: %v", err)
	}
	defer md.Close()

	addr, _ := ma.NewMultiaddr("/ip4/192.168.1.100/tcp/9999")
	md.HandlePeerFound(peer.AddrInfo{
		ID:    netB.Host().ID(),
		Addrs: []ma.Multiaddr{addr},
	})

	addrs := netA.Host().Peerstore().Addrs(netB.Host().ID())
	if len(addrs) == 0 {
		t.Fatal("expected addresses in peerstore after HandlePeerFound")
	}

	found := false
	for _, a := range addrs {
		if a.Equal(addr) {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("expected address %s in peerstore, got %v", addr, addrs)
	}
}

func TestMDNSDiscovery_BrowseNow(t *testing.T) {
	net := newMDNSNetwork(t)
	h := net.Host()

	md := NewMDNSDiscovery(h, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := md.Start(ctx); err != nil {
		t.Fatalf("md.Start: %v", err)
	}
	defer md.Close()

	fakePeer, _ := peer.Decode("12D3KooWDpJ7As7BWAwRMfu1VU2WCqNjvq387JEYKDBj4kx6nXTN")
	md.mu.Lock()
	md.lastTry[fakePeer] = time.Now()
	md.mu.Unlock()

	md.BrowseNow()

	md.mu.Lock()
	if len(md.lastTry) != 0 {
		t.Errorf("BrowseNow should clear dedup map, got %d entries", len(md.lastTry))
	}
	md.mu.Unlock()

	select {
	case <-md.browseNowCh:
	default:
	}
}

func TestMDNSDiscovery_HandlePeerFound_ReportsFound(t *testing.T) {
	netA := newMDNSNetwork(t)
	netB := newMDNSNetwork(t)

	md := NewMDNSDiscovery(netA.Host(), "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := md.Start(ctx); err != nil {
		t.Fatalf("md.Start: %v", err)
	}
	defer md.Close()

	md.HandlePeerFound(peer.AddrInfo{
		ID:    netB.Host().ID(),
		Addrs: netB.Host().Addrs(),
	})

	select {
	case pi := <-md.Found():
		if pi.ID != netB.Host().ID() {
			t.Errorf("found peer %s, want %s", pi.ID, netB.Host().ID())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Found() to report the connected peer")
	}
}

func TestMDNSDiscovery_DedupSuppressesRepeat(t *testing.T) {
	netA := newMDNSNetwork(t)

	md := NewMDNSDiscovery(netA.Host(), "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := md.Start(ctx); err != nil {
		t.Fatalf("md.Start: %v", err)
	}
	defer md.Close()

	pid, _ := peer.Decode("12D3KooWDpJ7As7BWAwRMfu1VU2WCqNjvq387JEYKDBj4kx6nXTN")
	md.mu.Lock()
	md.lastTry[pid] = time.Now()
	md.mu.Unlock()

	addr, _ := ma.NewMultiaddr("/ip4/192.168.1.100/tcp/9999")
	md.HandlePeerFound(peer.AddrInfo{ID: pid, Addrs: []ma.Multiaddr{addr}})

	select {
	case <-md.Found():
		t.Fatal("expected deduped peer to not be connected to")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestMDNSDiscovery_TwoHosts(t *testing.T) {
	if testing.Short() {
		t.Skip("mDNS requires multicast networking")
	}

	netA := newMDNSNetwork(t)
	netB := newMDNSNetwork(t)

	mdA := NewMDNSDiscovery(netA.Host(), "", nil)
	mdB := NewMDNSDiscovery(netB.Host(), "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := mdA.Start(ctx); err != nil {
		t.Fatalf("mdA.Start: %v", err)
	}
	t.Cleanup(func() { mdA.Close() })

	if err := mdB.Start(ctx); err != nil {
		t.Fatalf("mdB.Start: %v", err)
	}
	t.Cleanup(func() { mdB.Close() })

	deadline := time.After(15 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for mDNS discovery")
		case <-tick.C:
			addrsA := netA.Host().Peerstore().Addrs(netB.Host().ID())
			addrsB := netB.Host().Peerstore().Addrs(netA.Host().ID())
			if len(addrsA) > 0 && len(addrsB) > 0 {
				return
			}
		}
	}
}

func TestMDNSServiceType_NamespacesByNetwork(t *testing.T) {
	if got, want := mdnsServiceType(""), "_agentswarm._udp"; got != want {
		t.Errorf("mdnsServiceType(\"\") = %q, want %q", got, want)
	}

	wsA := mdnsServiceType("workspace-A")
	wsB := mdnsServiceType("workspace-B")
	if wsA == wsB {
		t.Errorf("mdnsServiceType for distinct networks collided: %q", wsA)
	}
	if wsA == mdnsServiceType("") {
		t.Errorf("mdnsServiceType(%q) must differ from the default shared type", "workspace-A")
	}
	for _, s := range []string{wsA, wsB} {
		if !strings.HasPrefix(s, "_agentswarm-") || !strings.HasSuffix(s, "._udp") {
			t.Errorf("mdnsServiceType = %q, want _agentswarm-<ns>._udp shape", s)
		}
	}
}

func TestMDNSServiceType_SanitizesUnsafeCharacters(t *testing.T) {
	got := mdnsServiceType("My Workspace!!")
	if strings.ContainsAny(got, " !") {
		t.Errorf("mdnsServiceType = %q, want no spaces or punctuation", got)
	}
}
