package toolcall

import (
	"context"
	"net/http"
	"time"

	"github.com/tascade/tascade/internal/core"
	"github.com/tascade/tascade/internal/types"
)

type listReadyIn struct {
	Ref             string             `json:"ref"`
	Capabilities    types.Capabilities `json:"capabilities,omitempty"`
	IncludeReserved bool               `json:"include_reserved,omitempty"`
	Limit           int                `json:"limit,omitempty"`
	Actor           string             `json:"actor,omitempty"`
}

type claimIn struct {
	Ref          string             `json:"ref"`
	Capabilities types.Capabilities `json:"capabilities,omitempty"`
	TTLSeconds   int                `json:"ttl_seconds,omitempty"`
	Actor        string             `json:"actor,omitempty"`
}

type heartbeatIn struct {
	Token      string `json:"token"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type releaseLeaseIn struct {
	Token  string `json:"token"`
	Reason string `json:"reason,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

type assignIn struct {
	Ref        string `json:"ref"`
	Assignee   string `json:"assignee"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
	Actor      string `json:"actor,omitempty"`
}

type transitionIn struct {
	Ref        string          `json:"ref"`
	To         types.TaskState `json:"to"`
	Rationale  string          `json:"rationale,omitempty"`
	LeaseToken string          `json:"lease_token,omitempty"`
	Force      bool            `json:"force,omitempty"`
	Actor      string          `json:"actor,omitempty"`
}

// Lease and reservation grants are held by whoever presents the token or
// assignee name; the token itself authorizes heartbeat and release, so
// those two operations skip the project binding check.
func execOps() []Operation {
	return []Operation{
		define(Operation{
			Name: "list_ready_tasks", Method: http.MethodGet, Path: "/v1/projects/{ref}/ready",
			Scope: types.RoleAgent, ReadOnly: true,
			Summary: "List claimable tasks ordered by priority, contention, and age. Capability filter optional.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *listReadyIn) (any, error) {
			if _, err := guardProject(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.ListReady(ctx, in.Ref, core.ReadyQuery{
				Actor:           actorName(id, in.Actor),
				Capabilities:    in.Capabilities,
				IncludeReserved: in.IncludeReserved,
				Limit:           in.Limit,
			})
		}),
		define(Operation{
			Name: "claim_task", Method: http.MethodPost, Path: "/v1/tasks/{ref}/claim",
			Scope:   types.RoleAgent,
			Summary: "Claim a ready task. Returns the task, a lease with token and fencing counter, and the execution snapshot.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *claimIn) (any, error) {
			if _, err := guardTask(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.ClaimTask(ctx, core.ClaimRequest{
				TaskRef:      in.Ref,
				Actor:        actorName(id, in.Actor),
				Capabilities: in.Capabilities,
				TTL:          time.Duration(in.TTLSeconds) * time.Second,
			})
		}),
		define(Operation{
			Name: "claim_next_task", Method: http.MethodPost, Path: "/v1/projects/{ref}/claim",
			Scope:   types.RoleAgent,
			Summary: "Claim the best ready task in one call, honoring reservations and capability requirements.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *claimIn) (any, error) {
			if _, err := guardProject(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.ClaimNext(ctx, in.Ref, actorName(id, in.Actor), in.Capabilities,
				time.Duration(in.TTLSeconds)*time.Second)
		}),
		define(Operation{
			Name: "heartbeat_lease", Method: http.MethodPost, Path: "/v1/leases/heartbeat",
			Scope:   types.RoleAgent,
			Summary: "Extend a lease. The response carries a plan advisory when the plan moved since the claim.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *heartbeatIn) (any, error) {
			return coord.Heartbeat(ctx, in.Token, time.Duration(in.TTLSeconds)*time.Second)
		}),
		define(Operation{
			Name: "release_lease", Method: http.MethodPost, Path: "/v1/leases/release",
			Scope:   types.RoleAgent,
			Summary: "Release a lease voluntarily; the task returns to the ready set.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *releaseLeaseIn) (any, error) {
			return coord.ReleaseLease(ctx, in.Token, in.Reason, actorName(id, in.Actor))
		}),
		define(Operation{
			Name: "assign_task", Method: http.MethodPost, Path: "/v1/tasks/{ref}/assign",
			Scope:   types.RolePlanner,
			Summary: "Reserve a ready task for a named agent. Others cannot claim it until the reservation lapses.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *assignIn) (any, error) {
			if _, err := guardTask(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.AssignTask(ctx, in.Ref, in.Assignee,
				time.Duration(in.TTLSeconds)*time.Second, actorName(id, in.Actor))
		}),
		define(Operation{
			Name: "release_reservation", Method: http.MethodDelete, Path: "/v1/tasks/{ref}/reservation",
			Scope:   types.RolePlanner,
			Summary: "Release a task's active reservation, returning it to the open ready set.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *projectRefIn) (any, error) {
			if _, err := guardTask(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.ReleaseAssignment(ctx, in.Ref, actorName(id, in.Actor))
		}),
		define(Operation{
			Name: "transition_task", Method: http.MethodPost, Path: "/v1/tasks/{ref}/transition",
			Scope:   types.RoleAgent,
			Summary: "Move a task through the lifecycle state machine. Execution transitions require the lease token.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *transitionIn) (any, error) {
			if _, err := guardTask(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			if in.Force && (id == nil || !id.Allows(types.RoleOperator)) {
				return nil, types.NewError(types.ErrAuthDenied, "force transitions require the operator scope")
			}
			return coord.Transition(ctx, core.TransitionRequest{
				TaskRef:    in.Ref,
				To:         in.To,
				Actor:      actorName(id, in.Actor),
				Rationale:  in.Rationale,
				LeaseToken: in.LeaseToken,
				Force:      in.Force,
			})
		}),
	}
}
