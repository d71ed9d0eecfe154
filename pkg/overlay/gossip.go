package overlay

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
)

// Topic is the name of a gossip topic.
type Topic string

// DefaultTopic is used when a peer's configuration does not specify one.
const DefaultTopic Topic = "test_topic"

// GossipHeartbeat is the gossipsub heartbeat interval in seconds, matching
// the reference protocol's.
const GossipHeartbeat = 10

// Gossip wraps a single joined-and-subscribed gossipsub topic.
type Gossip struct {
	host    host.Host
	ps      *pubsub.PubSub
	topic   *pubsub.Topic
	sub     *pubsub.Subscription
	evts    *pubsub.TopicEventHandler
	name    Topic
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	events chan NodeMessage
}

// NewGossip constructs a gossipsub router on h, joins and subscribes to
// topic. Message IDs are the decimal FNV-1a hash of the encoded envelope
// (creation time plus payload), so one message reaching a peer over several
// mesh paths is delivered once by gossipsub's seen-cache, while two
// publishes of the same payload in different milliseconds are distinct
// messages. The router's heartbeat runs every GossipHeartbeat seconds.
func NewGossip(ctx context.Context, h host.Host, topic Topic, metrics *Metrics) (*Gossip, error) {
	gctx, cancel := context.WithCancel(ctx)

	params := pubsub.DefaultGossipSubParams()
	params.HeartbeatInterval = GossipHeartbeat * time.Second
	ps, err := pubsub.NewGossipSub(gctx, h,
		pubsub.WithMessageIdFn(gossipMessageID),
		pubsub.WithGossipSubParams(params),
	)
	if err != nil {
		cancel()
		return nil, newError(KindTransport, "gossip.new", err)
	}

	t, err := ps.Join(string(topic))
	if err != nil {
		cancel()
		return nil, newError(KindTransport, "gossip.join", err)
	}

	sub, err := t.Subscribe()
	if err != nil {
		cancel()
		return nil, newError(KindTransport, "gossip.subscribe", err)
	}

	evts, err := t.EventHandler()
	if err != nil {
		cancel()
		return nil, newError(KindTransport, "gossip.event_handler", err)
	}

	g := &Gossip{
		host:    h,
		ps:      ps,
		topic:   t,
		sub:     sub,
		evts:    evts,
		name:    topic,
		metrics: metrics,
		ctx:     gctx,
		cancel:  cancel,
		events:  make(chan NodeMessage, 64),
	}

	g.wg.Add(2)
	go g.handleMessages()
	go g.handleTopicEvents()
	go func() {
		g.wg.Wait()
		close(g.events)
	}()

	return g, nil
}

// Events delivers a KindMessage NodeMessage for every accepted message on
// the topic, including this host's own publishes, and a KindSubscribed
// NodeMessage whenever a remote peer joins the topic.
func (g *Gossip) Events() <-chan NodeMessage { return g.events }

// Publish sends data to the topic. created_by on the receiving side will be
// the publishing host's authenticated peer ID, not anything the caller
// supplies here.
func (g *Gossip) Publish(ctx context.Context, data []byte) error {
	wire := encodeGossipEnvelope(gossipEnvelope{
		Time:    nowMillis(),
		Payload: data,
	})
	if err := g.topic.Publish(ctx, wire); err != nil {
		return newError(KindTransport, "gossip.publish", err)
	}
	if g.metrics != nil {
		g.metrics.GossipPublishedTotal.WithLabelValues(string(g.name)).Inc()
	}
	return nil
}

// ListPeers returns the number of peers gossipsub currently considers
// subscribed to this topic.
func (g *Gossip) ListPeers() int { return len(g.topic.ListPeers()) }

// Close cancels the subscription and leaves the topic.
func (g *Gossip) Close() error {
	g.cancel()
	g.sub.Cancel()
	g.evts.Cancel()
	if err := g.topic.Close(); err != nil {
		return newError(KindTransport, "gossip.close", err)
	}
	return nil
}

// handleTopicEvents surfaces remote peers joining this topic as
// KindSubscribed NodeMessages.
func (g *Gossip) handleTopicEvents() {
	defer g.wg.Done()
	for {
		evt, err := g.evts.NextPeerEvent(g.ctx)
		if err != nil {
			return
		}
		if evt.Type != pubsub.PeerJoin {
			continue
		}
		ev := NodeMessage{
			Kind:  KindSubscribed,
			Peer:  evt.Peer,
			Topic: g.name,
		}
		select {
		case g.events <- ev:
		case <-g.ctx.Done():
			return
		}
	}
}

func (g *Gossip) handleMessages() {
	defer g.wg.Done()
	for {
		msg, err := g.sub.Next(g.ctx)
		if err != nil {
			if g.ctx.Err() != nil {
				return
			}
			slog.Error("gossip: error reading from topic", "topic", g.name, "error", err)
			continue
		}

		env, err := decodeGossipEnvelope(msg.Data)
		if err != nil {
			slog.Warn("gossip: malformed message", "from", msg.GetFrom(), "error", err)
			continue
		}

		if g.metrics != nil {
			g.metrics.GossipReceivedTotal.WithLabelValues(string(g.name)).Inc()
		}

		// msg.GetFrom() is the signed author recovered from the envelope's
		// authenticated sender field, not the peer that happened to relay
		// it to us over the mesh; a publisher's own subscription also
		// receives its own message, so self-delivery falls out naturally.
		ev := NodeMessage{
			Kind:      KindMessage,
			Data:      env.Payload,
			CreatedBy: msg.GetFrom(),
			Time:      env.Time,
		}

		select {
		case g.events <- ev:
		case <-g.ctx.Done():
			return
		}
	}
}

// gossipMessageID computes the decimal string of a 64-bit FNV-1a hash of
// the pubsub message data, which is the encoded gossipEnvelope (creation
// time plus payload). Copies of one message share an ID and are
// deduplicated by the library's seen-cache; because the envelope carries
// the publish time, equal payloads published in different milliseconds get
// different IDs.
func gossipMessageID(m *pubsub.Message) string {
	h := fnv.New64a()
	h.Write(m.Data)
	return strconv.FormatUint(h.Sum64(), 10)
}
