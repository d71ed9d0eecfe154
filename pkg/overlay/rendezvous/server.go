package rendezvous

import (
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

// DefaultTTL is used when a register request omits a TTL.
const DefaultTTL = 2 * time.Minute

// MaxTTL bounds how long the server will honor a requested registration.
const MaxTTL = 10 * time.Minute

// registration is one directory entry held by the server.
type registration struct {
	peerID    peer.ID
	addrs     []string
	expiresAt time.Time
}

// PeerRegisteredEvent is delivered on the channel returned by
// Server.PeerRegistered whenever a new peer registers in a namespace, one
// event per distinct (namespace, peer) pair seen for the first time since
// the peer last expired. This is the overlay's equivalent of the reference
// protocol's rendezvous PeerRegistered event: the admin peer subscribes to
// the gossip topic on the first one and reports each as a discovered peer.
type PeerRegisteredEvent struct {
	Namespace string
	Peer      peer.ID
}

// Server answers rendezvous register/discover requests from an in-memory
// directory. It never persists state to disk.
type Server struct {
	host    host.Host
	metrics Metrics

	mu      sync.Mutex
	entries map[string]map[peer.ID]*registration

	registered chan PeerRegisteredEvent
}

// NewServer constructs a rendezvous server and installs its stream handler
// on h. metrics may be nil. Call Close to remove the handler.
func NewServer(h host.Host, metrics Metrics) *Server {
	s := &Server{
		host:       h,
		metrics:    metrics,
		entries:    make(map[string]map[peer.ID]*registration),
		registered: make(chan PeerRegisteredEvent, 32),
	}
	h.SetStreamHandler(ProtocolID, s.handleStream)
	return s
}

// PeerRegistered delivers an event each time a peer registers in a
// namespace for the first time since its last expiry.
func (s *Server) PeerRegistered() <-chan PeerRegisteredEvent { return s.registered }

// Close removes the stream handler.
func (s *Server) Close() error {
	s.host.RemoveStreamHandler(ProtocolID)
	return nil
}

func (s *Server) handleStream(stream network.Stream) {
	defer stream.Close()

	var req request
	if err := readFrame(stream, &req); err != nil {
		slog.Debug("rendezvous: bad request", "peer", stream.Conn().RemotePeer(), "error", err)
		stream.Reset()
		return
	}

	remote := stream.Conn().RemotePeer()

	switch req.Action {
	case actionRegister:
		resp := s.register(remote, req.Register)
		if err := writeFrame(stream, resp); err != nil {
			slog.Debug("rendezvous: write register response", "error", err)
		}
	case actionDiscover:
		resp := s.discover(req.Discover)
		if err := writeFrame(stream, resp); err != nil {
			slog.Debug("rendezvous: write discover response", "error", err)
		}
	default:
		writeFrame(stream, response{OK: false, Error: "unknown action"})
	}
}

func (s *Server) register(remote peer.ID, req *registerRequest) response {
	if req == nil || req.Namespace == "" {
		s.incRegistration("rejected")
		return response{OK: false, Error: "namespace is required"}
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	s.mu.Lock()
	ns, ok := s.entries[req.Namespace]
	if !ok {
		ns = make(map[peer.ID]*registration)
		s.entries[req.Namespace] = ns
	}
	prev, existed := ns[remote]
	if existed && time.Now().After(prev.expiresAt) {
		existed = false
	}
	ns[remote] = &registration{
		peerID:    remote,
		addrs:     append([]string(nil), req.Addrs...),
		expiresAt: time.Now().Add(ttl),
	}
	s.mu.Unlock()

	if !existed {
		select {
		case s.registered <- PeerRegisteredEvent{Namespace: req.Namespace, Peer: remote}:
		default:
		}
	}

	s.incRegistration("ok")
	return response{OK: true, TTLSeconds: int64(ttl.Seconds())}
}

func (s *Server) discover(req *discoverRequest) response {
	if req == nil || req.Namespace == "" {
		s.incDiscover("rejected")
		return response{OK: false, Error: "namespace is required"}
	}

	now := time.Now()
	s.mu.Lock()
	ns := s.entries[req.Namespace]
	var out []registrationWire
	for id, reg := range ns {
		if now.After(reg.expiresAt) {
			delete(ns, id)
			continue
		}
		out = append(out, registrationWire{PeerID: id.String(), Addrs: reg.addrs})
	}
	s.mu.Unlock()

	s.incDiscover("ok")
	return response{OK: true, Registrations: out}
}

func (s *Server) incRegistration(result string) {
	if s.metrics != nil {
		s.metrics.IncRegistration(result)
	}
}

func (s *Server) incDiscover(result string) {
	if s.metrics != nil {
		s.metrics.IncDiscover(result)
	}
}
