package overlay

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	yamux "github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
)

// DialTimeout bounds every connection attempt made through Network.Connect:
// a member's dial of its admin and its dials of siblings learned via
// rendezvous. mDNS connects use their own mdnsConnectTimeout, and rendezvous
// round trips open streams without a timeout of their own.
const DialTimeout = 20 * time.Second

// NetworkConfig configures the libp2p host backing a peer.
type NetworkConfig struct {
	Identity        *Identity
	ListenAddresses []string
}

// Network wraps a libp2p host configured with the transport stack common to
// every peer in the overlay: TCP and QUIC transports, Noise security, Yamux
// stream multiplexing.
type Network struct {
	host   host.Host
	ctx    context.Context
	cancel context.CancelFunc
}

// NewNetwork constructs the libp2p host for a peer.
func NewNetwork(cfg NetworkConfig) (*Network, error) {
	if cfg.Identity == nil {
		return nil, newError(KindConfig, "network.new", errRequired("Identity"))
	}

	ctx, cancel := context.WithCancel(context.Background())

	opts := []libp2p.Option{
		libp2p.Identity(cfg.Identity.PrivKey()),
		libp2p.ProtocolVersion(ProtocolVersion),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
	}
	if len(cfg.ListenAddresses) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.ListenAddresses...))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, newError(KindTransport, "network.new", err)
	}

	return &Network{host: h, ctx: ctx, cancel: cancel}, nil
}

// Host returns the underlying libp2p host.
func (n *Network) Host() host.Host { return n.host }

// PeerID returns the peer ID of this network node.
func (n *Network) PeerID() peer.ID { return n.host.ID() }

// Connect dials a peer with the overlay's standard dial timeout, returning a
// typed overlay error on failure.
func (n *Network) Connect(ctx context.Context, ai peer.AddrInfo) error {
	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()
	if err := n.host.Connect(dialCtx, ai); err != nil {
		return classifyDialErr("network.connect", err)
	}
	return nil
}

// Close shuts down the network and releases its background context.
func (n *Network) Close() error {
	n.cancel()
	return n.host.Close()
}

func errRequired(field string) error {
	return &requiredFieldError{field: field}
}

type requiredFieldError struct{ field string }

func (e *requiredFieldError) Error() string { return e.field + " is required" }
