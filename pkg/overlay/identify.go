package overlay

import (
	"strconv"
	"strings"

	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
)

// ProtocolSemver is the major.minor version advertised over identify.
// Peers advertising a different major version are rejected.
const ProtocolSemver = "0.1"

// ProtocolVersion is the libp2p identify protocol-version string this
// module advertises, following the reference protocol's
// "/<PRODUCT>-IDENTITY/<semver>" convention.
const ProtocolVersion = "/AGENTSWARM-IDENTITY/" + ProtocolSemver

// VersionGate watches new connections and closes any whose peer advertises
// an identify protocol version with an incompatible major component.
type VersionGate struct {
	host host.Host
	sub  event.Subscription
}

// NewVersionGate subscribes to identify completion events on h.
func NewVersionGate(h host.Host) (*VersionGate, error) {
	sub, err := h.EventBus().Subscribe(new(event.EvtPeerIdentificationCompleted))
	if err != nil {
		return nil, newError(KindConfig, "identify.subscribe", err)
	}
	return &VersionGate{host: h, sub: sub}, nil
}

// Run processes identification events until the event-bus subscription is
// closed (typically by calling Close).
func (g *VersionGate) Run() {
	for e := range g.sub.Out() {
		evt, ok := e.(event.EvtPeerIdentificationCompleted)
		if !ok {
			continue
		}
		if !majorVersionCompatible(evt.ProtocolVersion) {
			g.host.Network().ClosePeer(evt.Peer)
		}
	}
}

// Close unsubscribes from the event bus, ending Run.
func (g *VersionGate) Close() error { return g.sub.Close() }

// majorVersionCompatible reports whether a remote's advertised protocol
// version string shares this peer's major version component. An empty or
// unparseable version is treated as incompatible: peers that don't speak
// this protocol at all shouldn't stay connected.
func majorVersionCompatible(remote string) bool {
	remoteMajor, ok := protocolMajor(remote)
	if !ok {
		return false
	}
	localMajor, _ := protocolMajor(ProtocolVersion)
	return remoteMajor == localMajor
}

func protocolMajor(version string) (int, bool) {
	idx := strings.LastIndex(version, "/")
	if idx < 0 {
		return 0, false
	}
	semver := version[idx+1:]
	dot := strings.Index(semver, ".")
	if dot < 0 {
		dot = len(semver)
	}
	major, err := strconv.Atoi(semver[:dot])
	if err != nil {
		return 0, false
	}
	return major, true
}
