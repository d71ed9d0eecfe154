package overlay

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// MessageKind discriminates the variants of NodeMessage.
type MessageKind uint8

const (
	// KindMessage is an accepted inbound gossip message.
	KindMessage MessageKind = iota
	// KindPeerDiscovered reports a newly discovered or connected peer.
	KindPeerDiscovered
	// KindPeerExpired reports a peer no longer considered reachable.
	KindPeerExpired
	// KindSubscribed reports a remote peer announcing subscription to a topic.
	KindSubscribed
	// KindError carries an overlay-level error surfaced to the application.
	KindError
)

// NodeMessage is the single event type the peer runtime emits to its owner.
// Exactly the fields relevant to Kind are populated; the rest are zero.
type NodeMessage struct {
	Kind MessageKind

	// KindMessage
	Data      []byte
	CreatedBy peer.ID
	Time      int64 // unix milliseconds

	// KindPeerDiscovered / KindPeerExpired / KindSubscribed
	Peer peer.ID

	// KindSubscribed
	Topic Topic

	// KindError
	ErrKind        ErrorKind
	ErrDescription string
}

// NewMessageEvent builds a KindMessage NodeMessage with the current time.
func NewMessageEvent(data []byte, createdBy peer.ID) NodeMessage {
	return NodeMessage{
		Kind:      KindMessage,
		Data:      data,
		CreatedBy: createdBy,
		Time:      nowMillis(),
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// gossipEnvelope is the wire format carried inside a pubsub message: a
// length-prefixed payload plus the unix-ms creation time. The signing
// identity is not part of the envelope; it comes from the pubsub message's
// authenticated sender field, so created_by can never be forged by the
// payload itself.
type gossipEnvelope struct {
	Time    int64
	Payload []byte
}

// encodeGossipEnvelope serializes an envelope: 8-byte big-endian time,
// 4-byte big-endian payload length, then the payload bytes.
func encodeGossipEnvelope(e gossipEnvelope) []byte {
	buf := make([]byte, 8+4+len(e.Payload))
	binary.BigEndian.PutUint64(buf[0:8], uint64(e.Time))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(e.Payload)))
	copy(buf[12:], e.Payload)
	return buf
}

// decodeGossipEnvelope is the inverse of encodeGossipEnvelope.
func decodeGossipEnvelope(buf []byte) (gossipEnvelope, error) {
	if len(buf) < 12 {
		return gossipEnvelope{}, fmt.Errorf("gossip envelope too short: %d bytes", len(buf))
	}
	t := int64(binary.BigEndian.Uint64(buf[0:8]))
	n := binary.BigEndian.Uint32(buf[8:12])
	if uint32(len(buf)-12) != n {
		return gossipEnvelope{}, fmt.Errorf("gossip envelope length mismatch: header says %d, have %d", n, len(buf)-12)
	}
	payload := make([]byte, n)
	copy(payload, buf[12:])
	return gossipEnvelope{Time: t, Payload: payload}, nil
}
