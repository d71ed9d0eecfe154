package agent

import (
	"context"
)

// Workspace binds one admin agent to N worker agents under a shared
// lifecycle: the set of peers sharing one rendezvous namespace and, by
// convention, one gossip topic. This is the embedding-API-level grouping
// spec.md's admin/worker wiring implies but does not name as a standalone
// type; it exists so a caller doesn't have to thread worker lists and
// admin addresses by hand.
type Workspace struct {
	Admin   *AdminAgent
	Workers []*WorkerAgent
}

// NewWorkspace constructs a workspace from an already-built admin agent and
// its workers. The admin and every worker must share the same WorkspaceID.
func NewWorkspace(admin *AdminAgent, workers ...*WorkerAgent) *Workspace {
	return &Workspace{Admin: admin, Workers: workers}
}

// Run starts the admin agent (which in turn starts every worker) and
// blocks until the workspace terminates: any agent's runtime, listener, or
// processor completing, or ctx being cancelled, ends the whole workspace.
func (w *Workspace) Run(ctx context.Context, initialInput []byte) error {
	return w.Admin.Start(ctx, initialInput, w.Workers)
}

// Stop triggers every agent's cancellation signal.
func (w *Workspace) Stop() {
	w.Admin.Stop()
	for _, worker := range w.Workers {
		worker.Stop()
	}
}
