// Package rendezvous implements the overlay's peer-registration protocol: a
// server peer keeps an in-memory directory of (namespace, peer, addresses,
// ttl) registrations and answers discover requests; client peers
// periodically re-register and poll discover. No library in the retrieved
// example corpus provides an equivalent Go protocol, so this is built from
// scratch in the style of a small, explicit, length-prefixed request/
// response stream protocol.
package rendezvous

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/protocol"
)

// ProtocolID identifies the rendezvous stream protocol on the libp2p host.
const ProtocolID protocol.ID = "/agentswarm/rendezvous/1.0.0"

// maxMessageSize bounds a single request or response frame.
const maxMessageSize = 64 * 1024

// action discriminates the two rendezvous operations.
type action string

const (
	actionRegister action = "register"
	actionDiscover action = "discover"
)

// request is the single wire shape sent by a client. Exactly one of
// Register/Discover is populated, matching Action.
type request struct {
	Action   action            `json:"action"`
	Register *registerRequest  `json:"register,omitempty"`
	Discover *discoverRequest  `json:"discover,omitempty"`
}

type registerRequest struct {
	Namespace  string   `json:"namespace"`
	Addrs      []string `json:"addrs"`
	TTLSeconds int64    `json:"ttl_seconds"`
}

type discoverRequest struct {
	Namespace string `json:"namespace"`
}

// response is the single wire shape sent back by the server.
type response struct {
	OK            bool               `json:"ok"`
	Error         string             `json:"error,omitempty"`
	TTLSeconds    int64              `json:"ttl_seconds,omitempty"`
	Registrations []registrationWire `json:"registrations,omitempty"`
}

// registrationWire is a single directory entry as seen by a discover caller.
type registrationWire struct {
	PeerID string   `json:"peer_id"`
	Addrs  []string `json:"addrs"`
}

// writeFrame writes a 4-byte big-endian length prefix followed by the JSON
// encoding of v.
func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(body) > maxMessageSize {
		return fmt.Errorf("frame too large: %d bytes", len(body))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// readFrame reads a length-prefixed JSON frame into v.
func readFrame(r io.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxMessageSize {
		return fmt.Errorf("frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read frame body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}
