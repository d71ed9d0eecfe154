package agent

import (
	"context"
	"log/slog"

	"github.com/shurlinet/agentswarm/pkg/overlay"
)

// runListener drains a peer's event stream and invokes handler for every
// KindMessage event, sequentially: invocations for distinct messages are
// never concurrent within one agent, matching the serialization guarantee
// the application relies on.
func runListener(ctx context.Context, events <-chan overlay.NodeMessage, handler MessageHandler, metrics *overlay.Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case overlay.KindMessage:
				invokeHandler(ctx, handler, ev, metrics)
			case overlay.KindError:
				slog.Warn("agent: peer reported error", "kind", ev.ErrKind, "description", ev.ErrDescription)
			default:
				slog.Debug("agent: listener event", "kind", ev.Kind, "peer", ev.Peer)
			}
		}
	}
}

// invokeHandler calls handler.OnMessage, recovering from and logging any
// panic so a misbehaving handler cannot poison the listener goroutine.
func invokeHandler(ctx context.Context, handler MessageHandler, ev overlay.NodeMessage, metrics *overlay.Metrics) {
	if handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent: message handler panicked", "recovered", r)
			if metrics != nil {
				metrics.HandlerInvocationsTotal.WithLabelValues("panic").Inc()
			}
		}
	}()
	handler.OnMessage(ctx, ev.CreatedBy, ev.Data, ev.Time)
	if metrics != nil {
		metrics.HandlerInvocationsTotal.WithLabelValues("ok").Inc()
	}
}
