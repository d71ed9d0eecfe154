package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/shurlinet/agentswarm/pkg/overlay/rendezvous"
)

// PeerState is the peer runtime's lifecycle state, advanced in one
// direction only.
type PeerState int32

const (
	StateNew PeerState = iota
	StateListening
	StateRegistering
	StateRegistered
	StateDiscovering
	StateRegisteredAsServer
	StateRunning
	StateStopping
	StateDone
)

func (s PeerState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateListening:
		return "listening"
	case StateRegistering:
		return "registering"
	case StateRegistered:
		return "registered"
	case StateDiscovering:
		return "discovering"
	case StateRegisteredAsServer:
		return "registered_as_server"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// DiscoveryOptions configures LAN peer discovery for a peer. The zero value
// disables mDNS.
type DiscoveryOptions struct {
	// Network namespaces the mDNS DNS-SD service type so unrelated
	// workspaces sharing a LAN don't see each other's peers over mDNS. ""
	// uses the shared default service type. The rendezvous namespace is the
	// peer's WorkspaceID, not Network.
	Network string
	// MDNSEnabled controls whether mDNS/DNS-SD LAN discovery is started.
	MDNSEnabled bool
}

// AdminPeerConfig configures an admin peer: the rendezvous-server-hosting
// peer that anchors a workspace.
type AdminPeerConfig struct {
	Name        string
	WorkspaceID string
	// Port is the TCP/QUIC listen port. 0 picks an ephemeral port.
	Port      int
	Topic     Topic
	Discovery DiscoveryOptions
}

// MemberPeerConfig configures a member (worker) peer: a rendezvous-client
// peer that registers with an admin and joins its gossip topic.
//
// AdminAddr is a full multiaddr (e.g. "/ip4/10.0.0.1/tcp/7000/p2p/<id>")
// reachable over either transport base; it carries the admin's identity and
// listen port in one value rather than as separate fields.
type MemberPeerConfig struct {
	Name        string
	WorkspaceID string
	AdminAddr   string
	Topic       Topic
	Discovery   DiscoveryOptions
}

// Peer is the overlay's event loop: it drives the behaviour bundle, turns
// inbound protocol events into NodeMessages, and accepts outbound commands.
type Peer struct {
	name        string
	workspaceID string
	topic       Topic
	isAdmin     bool

	net         *Network
	prober      *Prober
	versionGate *VersionGate
	mdns        *MDNSDiscovery
	metrics     *Metrics

	gossip *Gossip

	rendezvousServer *rendezvous.Server
	rendezvousClient *rendezvous.Client

	state atomic.Int32

	commands chan command
	events   chan NodeMessage

	ctx    context.Context
	cancel context.CancelFunc

	watched map[peer.ID]bool
}

type commandKind int

const (
	cmdPublish commandKind = iota
)

type command struct {
	kind    commandKind
	payload []byte
}

// commandQueueCapacity bounds the peer's outbound command channel; a full
// queue backpressures Publish callers rather than growing unbounded.
const commandQueueCapacity = 100

// NewAdminPeer constructs a peer hosting a rendezvous server for the given
// workspace, listening on both transport bases at cfg.Port.
func NewAdminPeer(cfg AdminPeerConfig, metrics *Metrics) (*Peer, error) {
	if cfg.Name == "" {
		return nil, newError(KindConfig, "peer.new_admin", errRequired("Name"))
	}
	if cfg.WorkspaceID == "" {
		return nil, newError(KindConfig, "peer.new_admin", errRequired("WorkspaceID"))
	}

	identity, err := NewIdentity()
	if err != nil {
		return nil, err
	}

	net, err := NewNetwork(NetworkConfig{
		Identity: identity,
		ListenAddresses: []string{
			fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.Port),
			fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", cfg.Port),
		},
	})
	if err != nil {
		return nil, err
	}

	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	p := newPeer(cfg.Name, cfg.WorkspaceID, topic, true, net, metrics, cfg.Discovery)
	p.rendezvousServer = rendezvous.NewServer(net.Host(), rendezvousMetrics(metrics))
	p.state.Store(int32(StateListening))
	return p, nil
}

// rendezvousMetrics adapts a possibly-nil *Metrics to a rendezvous.Metrics,
// returning a true nil interface (rather than a non-nil interface wrapping a
// nil pointer) when m is nil.
func rendezvousMetrics(m *Metrics) rendezvous.Metrics {
	if m == nil {
		return nil
	}
	return m
}

// NewMemberPeer constructs a peer that dials cfg.AdminAddr and registers as
// a rendezvous client under the workspace namespace.
func NewMemberPeer(cfg MemberPeerConfig, metrics *Metrics) (*Peer, error) {
	if cfg.Name == "" {
		return nil, newError(KindConfig, "peer.new_member", errRequired("Name"))
	}
	if cfg.WorkspaceID == "" {
		return nil, newError(KindConfig, "peer.new_member", errRequired("WorkspaceID"))
	}
	if cfg.AdminAddr == "" {
		return nil, newError(KindConfig, "peer.new_member", errRequired("AdminAddr"))
	}

	adminInfo, err := parseAdminAddr(cfg.AdminAddr)
	if err != nil {
		return nil, newError(KindConfig, "peer.new_member", err)
	}

	identity, err := NewIdentity()
	if err != nil {
		return nil, err
	}

	net, err := NewNetwork(NetworkConfig{
		Identity: identity,
		ListenAddresses: []string{
			"/ip4/0.0.0.0/tcp/0",
			"/ip4/0.0.0.0/udp/0/quic-v1",
		},
	})
	if err != nil {
		return nil, err
	}

	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	p := newPeer(cfg.Name, cfg.WorkspaceID, topic, false, net, metrics, cfg.Discovery)
	p.rendezvousClient = rendezvous.NewClient(net.Host(), adminInfo.ID, cfg.WorkspaceID, hostAddrStrings(net), rendezvousMetrics(metrics))
	p.state.Store(int32(StateListening))

	p.ctx = context.WithValue(p.ctx, adminAddrInfoKey{}, adminInfo)
	return p, nil
}

type adminAddrInfoKey struct{}

func newPeer(name, workspaceID string, topic Topic, isAdmin bool, net *Network, metrics *Metrics, discovery DiscoveryOptions) *Peer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		name:        name,
		workspaceID: workspaceID,
		topic:       topic,
		isAdmin:     isAdmin,
		net:         net,
		metrics:     metrics,
		prober:      NewProber(net.Host(), metrics),
		commands:    make(chan command, commandQueueCapacity),
		events:      make(chan NodeMessage, 64),
		ctx:         ctx,
		cancel:      cancel,
		watched:     make(map[peer.ID]bool),
	}
	if discovery.MDNSEnabled {
		p.mdns = NewMDNSDiscovery(net.Host(), discovery.Network, metrics)
	}
	gate, err := NewVersionGate(net.Host())
	if err == nil {
		p.versionGate = gate
	}
	return p
}

// ID returns this peer's identity.
func (p *Peer) ID() peer.ID { return p.net.PeerID() }

// DialAddr returns a multiaddr other peers can dial to reach this one,
// suitable for MemberPeerConfig.AdminAddr. Only meaningful once the peer's
// network is listening (true as soon as the constructor returns).
func (p *Peer) DialAddr() (string, error) {
	addrs := p.net.Host().Addrs()
	if len(addrs) == 0 {
		return "", newError(KindConfig, "peer.dial_addr", errors.New("peer has no listen addresses"))
	}
	return fmt.Sprintf("%s/p2p/%s", addrs[0], p.ID()), nil
}

// State returns the peer's current lifecycle state.
func (p *Peer) State() PeerState { return PeerState(p.state.Load()) }

// Events delivers every NodeMessage the peer runtime emits: inbound gossip
// messages, membership changes, topic subscription announcements, and
// protocol-level errors.
func (p *Peer) Events() <-chan NodeMessage { return p.events }

// Publish enqueues a gossip publish and returns immediately; delivery is
// best-effort per the overlay's gossip contract. It fails only if the peer
// is shutting down or the outbound command queue is full.
func (p *Peer) Publish(data []byte) error {
	if err := p.ctx.Err(); err != nil {
		return newError(KindCancelled, "peer.publish", err)
	}
	select {
	case p.commands <- command{kind: cmdPublish, payload: data}:
		return nil
	default:
		return newError(KindChannel, "peer.publish", errors.New("command queue full"))
	}
}

// Shutdown cancels the peer's context, the single cancellation signal every
// subtask observes at its next suspension point. There is no separate
// shutdown flag: a boolean checked only at loop entry cannot reliably
// interrupt a task blocked in a channel receive, which is the failure mode
// this design avoids.
func (p *Peer) Shutdown() { p.cancel() }

// Run drives the peer runtime until Shutdown is called or ctx is
// cancelled. It returns once the peer has released its resources and
// reached StateDone.
func (p *Peer) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, p.cancel)
	defer stop()

	if p.versionGate != nil {
		go p.versionGate.Run()
	}
	if p.mdns != nil {
		if err := p.mdns.Start(p.ctx); err != nil {
			slog.Warn("peer: mdns failed to start", "peer", p.name, "error", err)
		}
	}

	var err error
	if p.isAdmin {
		err = p.runAdmin()
	} else {
		err = p.runMember()
	}

	p.state.Store(int32(StateStopping))
	p.teardown()
	p.state.Store(int32(StateDone))
	close(p.events)
	return err
}

func (p *Peer) runAdmin() error {
	slog.Info("peer: admin waiting for first registration", "peer", p.name, "workspace", p.workspaceID)

	select {
	case ev := <-p.rendezvousServer.PeerRegistered():
		if err := p.subscribeTopic(); err != nil {
			return err
		}
		p.emitPeerDiscovered(ev.Peer)
	case <-p.ctx.Done():
		return nil
	}

	p.state.Store(int32(StateRegisteredAsServer))
	p.state.Store(int32(StateRunning))
	slog.Info("peer: admin running", "peer", p.name, "topic", p.topic)

	return p.loop()
}

func (p *Peer) runMember() error {
	adminInfo, _ := p.ctx.Value(adminAddrInfoKey{}).(peer.AddrInfo)

	p.state.Store(int32(StateRegistering))
	if err := p.net.Connect(p.ctx, adminInfo); err != nil {
		if p.ctx.Err() != nil {
			return nil
		}
		return err
	}
	p.emitPeerDiscovered(adminInfo.ID)

	ttl, err := p.rendezvousClient.Register(p.ctx)
	if err != nil {
		if p.ctx.Err() != nil {
			return nil
		}
		return newError(KindTransport, "peer.register", err)
	}
	slog.Info("peer: registered with admin", "peer", p.name, "ttl", ttl)
	p.state.Store(int32(StateRegistered))

	p.state.Store(int32(StateDiscovering))
	siblings, err := p.rendezvousClient.Discover(p.ctx)
	if err != nil {
		if p.ctx.Err() != nil {
			return nil
		}
		return newError(KindTransport, "peer.discover", err)
	}
	for _, sib := range siblings {
		p.connectSibling(sib)
	}

	if err := p.subscribeTopic(); err != nil {
		return err
	}

	p.rendezvousClient.Run(p.ctx)

	p.state.Store(int32(StateRunning))
	slog.Info("peer: member running", "peer", p.name, "topic", p.topic)

	return p.loop()
}

func (p *Peer) subscribeTopic() error {
	g, err := NewGossip(p.ctx, p.net.Host(), p.topic, p.metrics)
	if err != nil {
		return err
	}
	p.gossip = g
	return nil
}

func (p *Peer) connectSibling(sib rendezvous.Discovered) {
	addrs := make([]ma.Multiaddr, 0, len(sib.Addrs))
	for _, a := range sib.Addrs {
		addr, err := ma.NewMultiaddr(a)
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	ai := peer.AddrInfo{ID: sib.PeerID, Addrs: addrs}
	if err := p.net.Connect(p.ctx, ai); err != nil {
		slog.Debug("peer: failed to connect discovered sibling", "peer", p.name, "sibling", sib.PeerID, "error", err)
		return
	}
	p.emitPeerDiscovered(sib.PeerID)
}

// loop is the peer's main event loop: it multiplexes outbound commands and
// every inbound behaviour-bundle event onto the peer's single NodeMessage
// stream until ctx is cancelled.
func (p *Peer) loop() error {
	for {
		select {
		case <-p.ctx.Done():
			return nil

		case cmd := <-p.commands:
			p.handleCommand(cmd)

		case ev, ok := <-p.gossip.Events():
			if !ok {
				continue
			}
			p.emit(ev)

		case pid := <-p.prober.Expired():
			p.emitPeerExpired(pid)

		case ai := <-p.mdnsFound():
			p.connectAddrInfo(ai)

		case d := <-p.rendezvousFound():
			p.connectSibling(d)

		case ev, ok := <-p.rendezvousRegistered():
			if ok {
				p.emitPeerDiscovered(ev.Peer)
			}
		}
	}
}

func (p *Peer) mdnsFound() <-chan peer.AddrInfo {
	if p.mdns == nil {
		return nil
	}
	return p.mdns.Found()
}

func (p *Peer) rendezvousFound() <-chan rendezvous.Discovered {
	if p.rendezvousClient == nil {
		return nil
	}
	return p.rendezvousClient.Found()
}

func (p *Peer) rendezvousRegistered() <-chan rendezvous.PeerRegisteredEvent {
	if p.rendezvousServer == nil {
		return nil
	}
	return p.rendezvousServer.PeerRegistered()
}

func (p *Peer) connectAddrInfo(ai peer.AddrInfo) {
	if p.watched[ai.ID] {
		return
	}
	p.emitPeerDiscovered(ai.ID)
}

func (p *Peer) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdPublish:
		if p.gossip == nil {
			slog.Debug("peer: publish dropped, topic not yet subscribed", "peer", p.name)
			return
		}
		if err := p.gossip.Publish(p.ctx, cmd.payload); err != nil {
			slog.Debug("peer: publish failed, dropped", "peer", p.name, "error", err)
		}
	}
}

func (p *Peer) emit(ev NodeMessage) {
	select {
	case p.events <- ev:
	case <-p.ctx.Done():
	}
}

func (p *Peer) emitPeerDiscovered(pid peer.ID) {
	if p.watched[pid] {
		return
	}
	p.watched[pid] = true
	p.prober.Watch(p.ctx, pid)
	p.emit(NodeMessage{Kind: KindPeerDiscovered, Peer: pid})
}

func (p *Peer) emitPeerExpired(pid peer.ID) {
	delete(p.watched, pid)
	p.emit(NodeMessage{Kind: KindPeerExpired, Peer: pid})
}

func (p *Peer) teardown() {
	if p.gossip != nil {
		p.gossip.Close()
	}
	if p.versionGate != nil {
		p.versionGate.Close()
	}
	if p.mdns != nil {
		p.mdns.Close()
	}
	if p.rendezvousServer != nil {
		p.rendezvousServer.Close()
	}
	p.net.Close()
}

func hostAddrStrings(n *Network) []string {
	var out []string
	for _, a := range n.Host().Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, n.PeerID()))
	}
	return out
}

func parseAdminAddr(addr string) (peer.AddrInfo, error) {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("parse admin address: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("admin address must include /p2p/<id>: %w", err)
	}
	return *info, nil
}
