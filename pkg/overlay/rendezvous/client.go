package rendezvous

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

// backoffBase and backoffMax bound the client's reconnect/re-register
// backoff: 1s doubling up to a 30s ceiling, reset on success.
const (
	backoffBase = 1 * time.Second
	backoffMax  = 30 * time.Second
)

// RegisterInterval is how often a client re-registers while healthy,
// comfortably inside the server's DefaultTTL.
const RegisterInterval = 60 * time.Second

// DiscoverInterval is how often a client polls discover while running.
const DiscoverInterval = 20 * time.Second

// Discovered is a single peer the client learned about via discover.
type Discovered struct {
	PeerID peer.ID
	Addrs  []string
}

// Client talks to a single rendezvous server peer.
type Client struct {
	host      host.Host
	server    peer.ID
	namespace string
	addrs     []string
	metrics   Metrics

	found chan Discovered
}

// NewClient constructs a rendezvous client that will register addrs under
// namespace with server. metrics may be nil.
func NewClient(h host.Host, server peer.ID, namespace string, addrs []string, metrics Metrics) *Client {
	return &Client{
		host:      h,
		server:    server,
		namespace: namespace,
		addrs:     addrs,
		metrics:   metrics,
		found:     make(chan Discovered, 32),
	}
}

// Found delivers peers learned about via Discover calls made from Run.
func (c *Client) Found() <-chan Discovered { return c.found }

// Register performs a single register round trip, returning the TTL the
// server granted.
func (c *Client) Register(ctx context.Context) (time.Duration, error) {
	resp, err := c.roundTrip(ctx, request{
		Action: actionRegister,
		Register: &registerRequest{
			Namespace:  c.namespace,
			Addrs:      c.addrs,
			TTLSeconds: int64(DefaultTTL.Seconds()),
		},
	})
	if err != nil {
		c.incRegistration("error")
		return 0, err
	}
	if !resp.OK {
		c.incRegistration("rejected")
		return 0, fmt.Errorf("rendezvous: register rejected: %s", resp.Error)
	}
	c.incRegistration("ok")
	return time.Duration(resp.TTLSeconds) * time.Second, nil
}

// Discover performs a single discover round trip.
func (c *Client) Discover(ctx context.Context) ([]Discovered, error) {
	resp, err := c.roundTrip(ctx, request{
		Action:   actionDiscover,
		Discover: &discoverRequest{Namespace: c.namespace},
	})
	if err != nil {
		c.incDiscover("error")
		return nil, err
	}
	if !resp.OK {
		c.incDiscover("rejected")
		return nil, fmt.Errorf("rendezvous: discover rejected: %s", resp.Error)
	}
	c.incDiscover("ok")

	out := make([]Discovered, 0, len(resp.Registrations))
	for _, r := range resp.Registrations {
		id, err := peer.Decode(r.PeerID)
		if err != nil {
			continue
		}
		if id == c.host.ID() {
			continue
		}
		out = append(out, Discovered{PeerID: id, Addrs: r.Addrs})
	}
	return out, nil
}

func (c *Client) incRegistration(result string) {
	if c.metrics != nil {
		c.metrics.IncRegistration(result)
	}
}

func (c *Client) incDiscover(result string) {
	if c.metrics != nil {
		c.metrics.IncDiscover(result)
	}
}

func (c *Client) incReconnectAttempt(loop string) {
	if c.metrics != nil {
		c.metrics.IncReconnectAttempt(loop)
	}
}

// Run re-registers on RegisterInterval and polls discover on
// DiscoverInterval until ctx is cancelled. Failures of either operation are
// retried with exponential backoff (1s doubling to a 30s cap), reset to
// backoffBase on the next success.
func (c *Client) Run(ctx context.Context) {
	go c.registerLoop(ctx)
	go c.discoverLoop(ctx)
}

func (c *Client) registerLoop(ctx context.Context) {
	backoff := backoffBase
	for {
		if _, err := c.Register(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("rendezvous: register failed, backing off", "error", err, "backoff", backoff)
			c.incReconnectAttempt("register")
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = backoffBase
		if !sleepOrDone(ctx, RegisterInterval) {
			return
		}
	}
}

func (c *Client) discoverLoop(ctx context.Context) {
	backoff := backoffBase
	for {
		peers, err := c.Discover(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("rendezvous: discover failed, backing off", "error", err, "backoff", backoff)
			c.incReconnectAttempt("discover")
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = backoffBase
		for _, p := range peers {
			select {
			case c.found <- p:
			case <-ctx.Done():
				return
			}
		}
		if !sleepOrDone(ctx, DiscoverInterval) {
			return
		}
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > backoffMax {
		return backoffMax
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) roundTrip(ctx context.Context, req request) (response, error) {
	stream, err := c.host.NewStream(ctx, c.server, ProtocolID)
	if err != nil {
		return response{}, fmt.Errorf("rendezvous: open stream: %w", err)
	}
	defer stream.Close()

	if err := writeFrame(stream, req); err != nil {
		stream.Reset()
		return response{}, err
	}

	var resp response
	if err := readFrame(stream, &resp); err != nil {
		stream.Reset()
		return response{}, err
	}
	return resp, nil
}
