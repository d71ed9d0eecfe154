package overlay

import (
	"context"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/zeroconf/v2"
	ma "github.com/multiformats/go-multiaddr"
)

// mdnsBaseService is the DNS-SD service name shared by all agentswarm
// peers absent a namespace.
const mdnsBaseService = "_agentswarm"

// mdnsServiceType returns the DNS-SD service type to advertise and browse
// under, namespaced by network so unrelated workspaces sharing a LAN don't
// discover each other's peers over mDNS. network "" keeps
// the original shared service type.
func mdnsServiceType(network string) string {
	if network == "" {
		return mdnsBaseService + "._udp"
	}
	return mdnsBaseService + "-" + sanitizeMDNSLabel(network) + "._udp"
}

// sanitizeMDNSLabel reduces network to the lowercase alphanumeric-and-hyphen
// characters a DNS-SD service label allows, truncated so "_agentswarm-"
// plus the label fits one 63-byte DNS label, and trimmed of edge hyphens.
func sanitizeMDNSLabel(network string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(network) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	label := b.String()
	if len(label) > 51 {
		label = label[:51]
	}
	label = strings.Trim(label, "-")
	if label == "" {
		return "ns"
	}
	return label
}

const (
	// mdnsConnectTimeout is the per-peer connection timeout for mDNS
	// discovered peers.
	mdnsConnectTimeout = 5 * time.Second

	// mdnsDedupeInterval suppresses repeated connection attempts to the
	// same peer within this window.
	mdnsDedupeInterval = 30 * time.Second

	// mdnsMaxConcurrentConnects limits simultaneous mDNS connection attempts.
	mdnsMaxConcurrentConnects = 5

	// mdnsBrowseInterval controls how often the browse loop re-queries the
	// network. Each round opens a fresh multicast socket.
	mdnsBrowseInterval = 30 * time.Second

	// mdnsBrowseTimeout bounds each browse round.
	mdnsBrowseTimeout = 10 * time.Second

	// dnsaddrPrefix matches libp2p's TXT record format for multiaddrs.
	dnsaddrPrefix = "dnsaddr="
)

// MDNSDiscovery handles LAN peer discovery via mDNS (DNS-SD). It advertises
// this host's addresses over zeroconf and periodically browses for peers
// advertising the same service.
type MDNSDiscovery struct {
	host        host.Host
	server      *zeroconf.Server
	serviceType string
	metrics     *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	lastTry map[peer.ID]time.Time

	sem chan struct{}

	browseNowCh chan struct{}

	// found reports newly connected peers to the peer runtime.
	found chan peer.AddrInfo
}

// NewMDNSDiscovery creates an mDNS discovery service that advertises and
// browses under network's namespaced DNS-SD service type. metrics may be
// nil.
func NewMDNSDiscovery(h host.Host, network string, m *Metrics) *MDNSDiscovery {
	return &MDNSDiscovery{
		host:        h,
		serviceType: mdnsServiceType(network),
		metrics:     m,
		lastTry:     make(map[peer.ID]time.Time),
		sem:         make(chan struct{}, mdnsMaxConcurrentConnects),
		browseNowCh: make(chan struct{}, 1),
		found:       make(chan peer.AddrInfo, 16),
	}
}

// Found delivers peers this discovery service has successfully connected to.
func (md *MDNSDiscovery) Found() <-chan peer.AddrInfo { return md.found }

// Start begins mDNS advertising and periodic browsing on the local network.
func (md *MDNSDiscovery) Start(ctx context.Context) error {
	md.ctx, md.cancel = context.WithCancel(ctx)

	if err := md.startServer(); err != nil {
		return newError(KindTransport, "mdns.start", err)
	}

	md.wg.Add(1)
	go md.browseLoop()
	return nil
}

// Close stops the mDNS service and waits for in-flight connection attempts
// to finish.
func (md *MDNSDiscovery) Close() error {
	md.cancel()
	if md.server != nil {
		md.server.Shutdown()
	}
	md.wg.Wait()
	return nil
}

// startServer registers our service with zeroconf, encoding listen
// addresses as TXT records in libp2p's dnsaddr= format.
func (md *MDNSDiscovery) startServer() error {
	interfaceAddrs, err := md.host.Network().InterfaceListenAddresses()
	if err != nil {
		return err
	}

	p2pAddrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{
		ID:    md.host.ID(),
		Addrs: interfaceAddrs,
	})
	if err != nil {
		return err
	}

	var txts []string
	for _, addr := range p2pAddrs {
		if isSuitableForMDNS(addr) {
			txts = append(txts, dnsaddrPrefix+addr.String())
		}
	}

	ips := getIPs(p2pAddrs)

	peerName := randomString(32 + rand.Intn(32))
	server, err := zeroconf.RegisterProxy(
		peerName,
		md.serviceType,
		"local",
		4001,
		peerName,
		ips,
		txts,
		nil,
	)
	if err != nil {
		return err
	}
	md.server = server
	return nil
}

// BrowseNow triggers an immediate mDNS re-browse, clearing dedup timers.
func (md *MDNSDiscovery) BrowseNow() {
	md.mu.Lock()
	clear(md.lastTry)
	md.mu.Unlock()
	select {
	case md.browseNowCh <- struct{}{}:
	default:
	}
}

func (md *MDNSDiscovery) browseLoop() {
	defer md.wg.Done()

	select {
	case <-time.After(2 * time.Second):
	case <-md.ctx.Done():
		return
	}

	md.runBrowse()

	ticker := time.NewTicker(mdnsBrowseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-md.ctx.Done():
			return
		case <-ticker.C:
			md.runBrowse()
		case <-md.browseNowCh:
			md.runBrowse()
		}
	}
}

// runBrowse executes one bounded zeroconf browse round, feeding discovered
// TXT record sets through processTextRecords.
func (md *MDNSDiscovery) runBrowse() {
	browseCtx, browseCancel := context.WithTimeout(md.ctx, mdnsBrowseTimeout)
	defer browseCancel()

	entries := make(chan *zeroconf.ServiceEntry, 100)

	var browseWG sync.WaitGroup
	browseWG.Add(1)
	go func() {
		defer browseWG.Done()
		for entry := range entries {
			md.processTextRecords(entry.Text)
		}
	}()

	if err := zeroconf.Browse(browseCtx, md.serviceType, "local", entries); err != nil {
		if md.ctx.Err() == nil {
			slog.Debug("mdns: browse round error", "error", err)
		}
	}
	browseWG.Wait()
}

// processTextRecords converts mDNS TXT records to peer.AddrInfo and feeds
// each through HandlePeerFound.
func (md *MDNSDiscovery) processTextRecords(txts []string) {
	addrs := make([]ma.Multiaddr, 0, len(txts))
	for _, txt := range txts {
		if !strings.HasPrefix(txt, dnsaddrPrefix) {
			continue
		}
		addr, err := ma.NewMultiaddr(txt[len(dnsaddrPrefix):])
		if err != nil {
			slog.Debug("mdns: bad multiaddr in TXT", "error", err)
			continue
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return
	}

	infos, err := peer.AddrInfosFromP2pAddrs(addrs...)
	if err != nil {
		slog.Debug("mdns: failed to parse peer addrs", "error", err)
		return
	}
	for _, info := range infos {
		if info.ID == md.host.ID() {
			continue
		}
		md.HandlePeerFound(info)
	}
}

// HandlePeerFound is called when a peer is discovered via mDNS on the local
// network. Peer identity is deduplicated on peer.ID (a hash of the peer's
// public key), so the same peer observed from multiple TXT records is only
// dialed once per mdnsDedupeInterval.
func (md *MDNSDiscovery) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == md.host.ID() {
		return
	}

	short := shortPeerID(pi.ID)

	md.mu.Lock()
	if last, ok := md.lastTry[pi.ID]; ok && time.Since(last) < mdnsDedupeInterval {
		md.mu.Unlock()
		return
	}
	md.lastTry[pi.ID] = time.Now()
	md.mu.Unlock()

	slog.Info("mdns: peer discovered on LAN", "peer", short, "addrs", len(pi.Addrs))
	if md.metrics != nil {
		md.metrics.PeersDiscoveredTotal.WithLabelValues("mdns").Inc()
	}

	allAddrs := pi.Addrs
	lanAddrs := filterLANAddrs(allAddrs)
	if len(lanAddrs) > 0 {
		pi.Addrs = lanAddrs
		md.host.Peerstore().AddAddrs(pi.ID, lanAddrs, 10*time.Minute)
	} else {
		md.host.Peerstore().AddAddrs(pi.ID, allAddrs, 10*time.Minute)
	}

	select {
	case md.sem <- struct{}{}:
	default:
		slog.Debug("mdns: concurrent connect limit reached, skipping", "peer", short)
		return
	}

	md.wg.Add(1)
	go func() {
		defer md.wg.Done()
		defer func() { <-md.sem }()

		ctx, cancel := context.WithTimeout(md.ctx, mdnsConnectTimeout)
		defer cancel()

		if err := md.host.Connect(ctx, pi); err != nil {
			slog.Debug("mdns: connect failed", "peer", short, "error", err)
			md.host.Peerstore().AddAddrs(pi.ID, allAddrs, 10*time.Minute)
			return
		}

		slog.Info("mdns: connected to LAN peer", "peer", short)
		md.host.Peerstore().AddAddrs(pi.ID, allAddrs, 10*time.Minute)

		select {
		case md.found <- pi:
		case <-md.ctx.Done():
		}
	}()
}

func shortPeerID(id peer.ID) string {
	s := id.String()
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}

// isSuitableForMDNS returns true for multiaddrs that should be advertised
// via mDNS: IP-based addresses or .local DNS names, never relay/browser-only
// transports.
func isSuitableForMDNS(addr ma.Multiaddr) bool {
	if addr == nil {
		return false
	}
	first, _ := ma.SplitFirst(addr)
	if first == nil {
		return false
	}
	switch first.Protocol().Code {
	case ma.P_IP4, ma.P_IP6:
	case ma.P_DNS, ma.P_DNS4, ma.P_DNS6, ma.P_DNSADDR:
		if !strings.HasSuffix(strings.ToLower(first.Value()), ".local") {
			return false
		}
	default:
		return false
	}
	excluded := false
	ma.ForEach(addr, func(c ma.Component) bool {
		switch c.Protocol().Code {
		case ma.P_CIRCUIT, ma.P_WEBTRANSPORT, ma.P_WEBRTC,
			ma.P_WEBRTC_DIRECT, ma.P_P2P_WEBRTC_DIRECT, ma.P_WS, ma.P_WSS:
			excluded = true
			return false
		}
		return true
	})
	return !excluded
}

// getIPs extracts one IPv4 and one IPv6 address from multiaddrs for the
// A/AAAA records the DNS-SD spec requires, falling back to loopback.
func getIPs(addrs []ma.Multiaddr) []string {
	var ip4, ip6 string
	for _, addr := range addrs {
		first, _ := ma.SplitFirst(addr)
		if first == nil {
			continue
		}
		if ip4 == "" && first.Protocol().Code == ma.P_IP4 {
			ip4 = first.Value()
		} else if ip6 == "" && first.Protocol().Code == ma.P_IP6 {
			ip6 = first.Value()
		}
	}
	var ips []string
	if ip4 != "" {
		ips = append(ips, ip4)
	}
	if ip6 != "" {
		ips = append(ips, ip6)
	}
	if len(ips) == 0 {
		ips = append(ips, "127.0.0.1")
	}
	return ips
}

func randomString(l int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	s := make([]byte, 0, l)
	for i := 0; i < l; i++ {
		s = append(s, alphabet[rand.Intn(len(alphabet))])
	}
	return string(s)
}

// filterLANAddrs returns only the multiaddrs with a private IPv4 address on
// the same subnet as one of our local interfaces, since mDNS implies "same
// LAN" and private IPv4 is the most reliable same-LAN signal across
// consumer routers that otherwise isolate IPv6 between clients.
func filterLANAddrs(addrs []ma.Multiaddr) []ma.Multiaddr {
	localNets := localIPv4Subnets()
	if len(localNets) == 0 {
		return nil
	}

	var lan []ma.Multiaddr
	for _, addr := range addrs {
		first, _ := ma.SplitFirst(addr)
		if first == nil {
			continue
		}
		if first.Protocol().Code != ma.P_IP4 {
			continue
		}
		ip := net.ParseIP(first.Value())
		if ip == nil || ip.IsLoopback() {
			continue
		}
		for _, ln := range localNets {
			if ln.Contains(ip) {
				lan = append(lan, addr)
				break
			}
		}
	}
	return lan
}

// localIPv4Subnets returns the CIDR networks of all private IPv4 addresses
// on active, non-loopback interfaces.
func localIPv4Subnets() []*net.IPNet {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var nets []*net.IPNet
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			if ip4.IsLinkLocalUnicast() || ip4.IsLoopback() || !ip4.IsPrivate() {
				continue
			}
			nets = append(nets, ipNet)
		}
	}
	return nets
}
