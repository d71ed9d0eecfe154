package overlay

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	libp2pping "github.com/libp2p/go-libp2p/p2p/protocol/ping"
)

// ProbeInterval is how often a watched peer is pinged.
const ProbeInterval = 10 * time.Second

// MaxMissedPings is the number of consecutive failed probes before a peer is
// reported expired.
const MaxMissedPings = 3

// pingTimeout bounds a single probe round trip.
const pingTimeout = 5 * time.Second

// Prober periodically pings a set of peers over the libp2p core ping
// protocol and reports peers that stop responding.
type Prober struct {
	host    host.Host
	metrics *Metrics
	expired chan peer.ID
}

// NewProber constructs a Prober. metrics may be nil.
func NewProber(h host.Host, metrics *Metrics) *Prober {
	return &Prober{host: h, metrics: metrics, expired: make(chan peer.ID, 16)}
}

// Expired delivers peer IDs declared unreachable after MaxMissedPings
// consecutive failed probes.
func (p *Prober) Expired() <-chan peer.ID { return p.expired }

// Watch starts probing pid on ProbeInterval until ctx is cancelled or the
// peer is declared expired.
func (p *Prober) Watch(ctx context.Context, pid peer.ID) {
	go p.watchLoop(ctx, pid)
}

func (p *Prober) watchLoop(ctx context.Context, pid peer.ID) {
	ticker := time.NewTicker(ProbeInterval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rtt, err := p.probe(ctx, pid)
			if err != nil {
				misses++
				if misses >= MaxMissedPings {
					if p.metrics != nil {
						p.metrics.PeersExpiredTotal.WithLabelValues("ping_miss").Inc()
					}
					select {
					case p.expired <- pid:
					case <-ctx.Done():
					}
					return
				}
				continue
			}
			misses = 0
			if p.metrics != nil {
				p.metrics.PingRTTSeconds.WithLabelValues().Observe(rtt.Seconds())
			}
		}
	}
}

// probe sends a single ping and returns the measured round-trip time.
func (p *Prober) probe(ctx context.Context, pid peer.ID) (time.Duration, error) {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	resCh := libp2pping.Ping(pingCtx, p.host, pid)
	select {
	case res := <-resCh:
		if res.Error != nil {
			return 0, classifyDialErr("ping.probe", res.Error)
		}
		return res.RTT, nil
	case <-pingCtx.Done():
		return 0, classifyDialErr("ping.probe", pingCtx.Err())
	}
}
