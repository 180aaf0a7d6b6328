// Package tascade is the minimal public API for embedding the coordinator
// in another Go program.
//
// Most integrations should talk to a running coordinator over HTTP through
// the client package instead. This package exports only what an in-process
// embedder needs: the storage opener, the coordinator kernel, and the
// domain types they exchange.
package tascade

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tascade/tascade/internal/core"
	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/storage/sqlite"
	"github.com/tascade/tascade/internal/types"
)

// Storage is the persistence interface the coordinator runs on.
type Storage = storage.Storage

// Coordinator is the orchestration kernel: graph, scheduler, leases,
// changesets, gates, and the event log, behind serializable transactions.
type Coordinator = core.Coordinator

// Options tunes coordinator defaults (lease TTLs, sweep batching).
type Options = core.Options

// Coordinator operation inputs.
type (
	CreateTaskInput = core.CreateTaskInput
	ClaimRequest    = core.ClaimRequest
	ReadyQuery      = core.ReadyQuery
)

// Domain types an embedder exchanges with the coordinator.
type (
	Task          = types.Task
	TaskState     = types.TaskState
	WorkSpec      = types.WorkSpec
	Lease         = types.Lease
	Reservation   = types.Reservation
	ClaimResult   = types.ClaimResult
	Changeset     = types.Changeset
	PlanOp        = types.PlanOp
	ContextBundle = types.ContextBundle
	Event         = types.Event
	Error         = types.Error
)

// Open creates or opens a coordinator database at dbPath, running schema
// migrations as needed.
func Open(ctx context.Context, dbPath string) (Storage, error) {
	return sqlite.New(ctx, dbPath)
}

// New builds a coordinator over an open store.
func New(store Storage, log zerolog.Logger, opts Options) *Coordinator {
	return core.New(store, log, opts)
}

// AsError unwraps a kernel error envelope so embedders can branch on its
// code the same way HTTP clients do.
func AsError(err error) (*Error, bool) {
	return types.AsError(err)
}
