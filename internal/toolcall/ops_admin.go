package toolcall

import (
	"context"
	"net/http"

	"github.com/tascade/tascade/internal/core"
	"github.com/tascade/tascade/internal/types"
)

type taskContextIn struct {
	Ref            string `json:"ref"`
	AncestorDepth  int    `json:"ancestor_depth,omitempty"`
	DependentDepth int    `json:"dependent_depth,omitempty"`
	MaxNodes       int    `json:"max_nodes,omitempty"`
	EventLimit     int    `json:"event_limit,omitempty"`
}

type listEventsIn struct {
	Ref      string   `json:"ref"`
	AfterSeq int64    `json:"after_seq,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Types    []string `json:"types,omitempty"`
}

type issueKeyIn struct {
	Ref    string   `json:"ref"`
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
	Actor  string   `json:"actor,omitempty"`
}

type revokeKeyIn struct {
	Key   string `json:"key"`
	Actor string `json:"actor,omitempty"`
}

type listKeysIn struct {
	Project string `json:"project,omitempty"`
}

func adminOps() []Operation {
	return []Operation{
		define(Operation{
			Name: "get_task_context", Method: http.MethodGet, Path: "/v1/tasks/{ref}/context",
			Scope: types.RoleAgent, ReadOnly: true,
			Summary: "Project a bounded context bundle for a task: ancestors, dependents, blockers, siblings, gates, artifacts, recent events.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *taskContextIn) (any, error) {
			if _, err := guardTask(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.TaskContext(ctx, in.Ref, types.ContextOptions{
				AncestorDepth:  in.AncestorDepth,
				DependentDepth: in.DependentDepth,
				MaxNodes:       in.MaxNodes,
				EventLimit:     in.EventLimit,
			})
		}),
		define(Operation{
			Name: "list_events", Method: http.MethodGet, Path: "/v1/projects/{ref}/events",
			Scope: types.RoleAgent, ReadOnly: true,
			Summary: "Pull a project's ordered event log after a sequence number, optionally filtered by event type.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *listEventsIn) (any, error) {
			if _, err := guardProject(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			q := core.EventQuery{ProjectRef: in.Ref, AfterSeq: in.AfterSeq, Limit: in.Limit}
			for _, t := range in.Types {
				q.Types = append(q.Types, types.EventType(t))
			}
			return coord.Events(ctx, q)
		}),
		define(Operation{
			Name: "status_board", Method: http.MethodGet, Path: "/v1/projects/{ref}/board",
			Scope: types.RoleAgent, ReadOnly: true,
			Summary: "Operator overview of one project: per-milestone state counts, the head of the ready set, the log position.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *projectRefIn) (any, error) {
			if _, err := guardProject(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.StatusBoardFor(ctx, in.Ref)
		}),
		define(Operation{
			Name: "issue_api_key", Method: http.MethodPost, Path: "/v1/projects/{ref}/keys",
			Scope:   types.RoleAdmin,
			Summary: "Issue an API key bound to a project. The raw key is returned once and never stored.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *issueKeyIn) (any, error) {
			if _, err := guardProject(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			scopes, err := parseScopes(in.Scopes)
			if err != nil {
				return nil, err
			}
			return coord.IssueAPIKey(ctx, core.APIKeyInput{
				ProjectRef: in.Ref,
				Name:       in.Name,
				Scopes:     scopes,
				Actor:      actorName(id, in.Actor),
			})
		}),
		define(Operation{
			Name: "revoke_api_key", Method: http.MethodPost, Path: "/v1/keys/revoke",
			Scope:   types.RoleAdmin,
			Summary: "Revoke an API key by ID or by the raw key.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *revokeKeyIn) (any, error) {
			if err := coord.RevokeAPIKey(ctx, in.Key, actorName(id, in.Actor)); err != nil {
				return nil, err
			}
			return map[string]bool{"revoked": true}, nil
		}),
		define(Operation{
			Name: "list_api_keys", Method: http.MethodGet, Path: "/v1/keys",
			Scope: types.RoleAdmin, ReadOnly: true,
			Summary: "List API keys, optionally scoped to one project. Hashes are never returned.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *listKeysIn) (any, error) {
			if in.Project != "" {
				if _, err := guardProject(ctx, coord, id, in.Project); err != nil {
					return nil, err
				}
			}
			return coord.ListAPIKeys(ctx, in.Project)
		}),
	}
}

func parseScopes(raw []string) (types.RoleScopes, error) {
	var out types.RoleScopes
	for _, s := range raw {
		r := types.RoleScope(s)
		if !types.ValidRoleScope(r) {
			return nil, types.NewError(types.ErrAuthDenied, "unknown role scope %q", s)
		}
		out = append(out, r)
	}
	return out, nil
}
