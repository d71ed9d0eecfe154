// Package agent wraps the overlay's peer runtime into named agents with a
// user-supplied message handler and processor task, and aggregates one
// admin agent with its workers into a workspace.
package agent

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
)

// MessageHandler receives every inbound gossip message an agent's peer
// accepts, including the agent's own broadcasts. Implementations must be
// safe to call concurrently across agents; within one agent, invocations
// are serialized by the agent's listener task.
type MessageHandler interface {
	OnMessage(ctx context.Context, senderID peer.ID, data []byte, timeMs int64)
}

// Processor is a single long-running task started once per agent lifetime
// with the agent's initial input. Its return is one of the agent's
// termination triggers.
type Processor interface {
	Run(ctx context.Context, input []byte)
}

// MessageHandlerFunc adapts a plain function to a MessageHandler.
type MessageHandlerFunc func(ctx context.Context, senderID peer.ID, data []byte, timeMs int64)

func (f MessageHandlerFunc) OnMessage(ctx context.Context, senderID peer.ID, data []byte, timeMs int64) {
	f(ctx, senderID, data, timeMs)
}

// ProcessorFunc adapts a plain function to a Processor.
type ProcessorFunc func(ctx context.Context, input []byte)

func (f ProcessorFunc) Run(ctx context.Context, input []byte) { f(ctx, input) }

// AgentDetail describes an agent as exposed to callers: a display name and
// the peer identity assigned once its peer runtime comes up. Identity
// transitions exactly once, from absent to present.
type AgentDetail struct {
	Name string
	ID   *peer.ID
}
