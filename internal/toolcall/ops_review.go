package toolcall

import (
	"context"
	"net/http"

	"github.com/tascade/tascade/internal/core"
	"github.com/tascade/tascade/internal/types"
)

type recordReviewIn struct {
	Ref        string   `json:"ref"`
	ReviewedBy string   `json:"reviewed_by"`
	Verdict    string   `json:"verdict"`
	Notes      string   `json:"notes,omitempty"`
	Evidence   []string `json:"evidence,omitempty"`
	Actor      string   `json:"actor,omitempty"`
}

type submitArtifactIn struct {
	Ref         string             `json:"ref"`
	Kind        types.ArtifactKind `json:"kind"`
	ArtifactRef string             `json:"artifact_ref"`
	Checks      types.CheckOutcome `json:"checks"`
	Summary     string             `json:"summary,omitempty"`
	LeaseToken  string             `json:"lease_token,omitempty"`
	Actor       string             `json:"actor,omitempty"`
}

type enqueueIntegrationIn struct {
	Ref            string `json:"ref"`
	ArtifactRef    string `json:"artifact_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Actor          string `json:"actor,omitempty"`
}

type integrationResultIn struct {
	ID     string                  `json:"id"`
	Status types.IntegrationStatus `json:"status"`
	Detail string                  `json:"detail,omitempty"`
	Actor  string                  `json:"actor,omitempty"`
}

type gateDecisionIn struct {
	Ref       string   `json:"ref"`
	Verdict   string   `json:"verdict"`
	DecidedBy string   `json:"decided_by"`
	Rationale string   `json:"rationale"`
	RiskNote  string   `json:"risk_note,omitempty"`
	Evidence  []string `json:"evidence,omitempty"`
	Actor     string   `json:"actor,omitempty"`
}

type createGateRuleIn struct {
	Project            string          `json:"project,omitempty"`
	Name               string          `json:"name"`
	Trigger            string          `json:"trigger"`
	Match              types.GateMatch `json:"match,omitempty"`
	GateClass          types.TaskClass `json:"gate_class,omitempty"`
	ReviewerCapability string          `json:"reviewer_capability,omitempty"`
	Actor              string          `json:"actor,omitempty"`
}

type listGateRulesIn struct {
	Project     string `json:"project,omitempty"`
	EnabledOnly bool   `json:"enabled_only,omitempty"`
}

type setGateRuleEnabledIn struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

func reviewOps() []Operation {
	return []Operation{
		define(Operation{
			Name: "record_review", Method: http.MethodPost, Path: "/v1/tasks/{ref}/reviews",
			Scope:   types.RoleReviewer,
			Summary: "Record an ordinary review on a task. Gate verdicts go through record_gate_decision instead.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *recordReviewIn) (any, error) {
			if _, err := guardTask(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.RecordReview(ctx, in.Ref, in.ReviewedBy, in.Verdict, in.Notes,
				in.Evidence, actorName(id, in.Actor))
		}),
		define(Operation{
			Name: "submit_artifact", Method: http.MethodPost, Path: "/v1/tasks/{ref}/artifacts",
			Scope:   types.RoleAgent,
			Summary: "Attach a work artifact (patch, branch, file_set, command_log) with its check outcome. In-flight tasks require the lease token.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *submitArtifactIn) (any, error) {
			if _, err := guardTask(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.SubmitArtifact(ctx, core.ArtifactInput{
				TaskRef:    in.Ref,
				Kind:       in.Kind,
				Ref:        in.ArtifactRef,
				Checks:     in.Checks,
				Summary:    in.Summary,
				LeaseToken: in.LeaseToken,
				Actor:      actorName(id, in.Actor),
			})
		}),
		define(Operation{
			Name: "list_artifacts", Method: http.MethodGet, Path: "/v1/tasks/{ref}/artifacts",
			Scope: types.RoleAgent, ReadOnly: true,
			Summary: "List a task's artifacts, newest first.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *taskRefIn) (any, error) {
			if _, err := guardTask(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.ListTaskArtifacts(ctx, in.Ref)
		}),
		define(Operation{
			Name: "enqueue_integration_attempt", Method: http.MethodPost, Path: "/v1/tasks/{ref}/integration",
			Scope:   types.RoleAgent,
			Summary: "Queue an implemented task for integration. Defaults to the latest artifact with passing checks.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *enqueueIntegrationIn) (any, error) {
			if _, err := guardTask(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.EnqueueIntegration(ctx, core.IntegrationRequest{
				TaskRef:        in.Ref,
				ArtifactRef:    in.ArtifactRef,
				IdempotencyKey: in.IdempotencyKey,
				Actor:          actorName(id, in.Actor),
			})
		}),
		define(Operation{
			Name: "report_integration_result", Method: http.MethodPost, Path: "/v1/integration/{id}/result",
			Scope:   types.RoleAgent,
			Summary: "Report a terminal integration outcome: success integrates the task, conflict and failed_checks send it back.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *integrationResultIn) (any, error) {
			return coord.ReportIntegrationResult(ctx, core.IntegrationResult{
				AttemptRef: in.ID,
				Status:     in.Status,
				Detail:     in.Detail,
				Actor:      actorName(id, in.Actor),
			})
		}),
		define(Operation{
			Name: "list_integration_attempts", Method: http.MethodGet, Path: "/v1/tasks/{ref}/integration",
			Scope: types.RoleAgent, ReadOnly: true,
			Summary: "List a task's integration attempts, newest first.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *taskRefIn) (any, error) {
			if _, err := guardTask(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.ListIntegrationAttempts(ctx, in.Ref)
		}),
		define(Operation{
			Name: "record_gate_decision", Method: http.MethodPost, Path: "/v1/tasks/{ref}/gate-decision",
			Scope:   types.RoleReviewer,
			Summary: "Record a gate verdict (approved, approved_with_risk, rejected). Approval releases the candidates; rejection blocks them.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *gateDecisionIn) (any, error) {
			if _, err := guardTask(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.RecordGateDecision(ctx, core.GateDecisionRequest{
				GateRef:   in.Ref,
				Verdict:   in.Verdict,
				DecidedBy: in.DecidedBy,
				Rationale: in.Rationale,
				RiskNote:  in.RiskNote,
				Evidence:  in.Evidence,
				Actor:     actorName(id, in.Actor),
			})
		}),
		define(Operation{
			Name: "get_gate_status", Method: http.MethodGet, Path: "/v1/tasks/{ref}/gate",
			Scope: types.RoleAgent, ReadOnly: true,
			Summary: "Show the gates holding a task, with candidate links and latest decisions.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *taskRefIn) (any, error) {
			if _, err := guardTask(ctx, coord, id, in.Ref); err != nil {
				return nil, err
			}
			return coord.GateStatuses(ctx, in.Ref)
		}),
		define(Operation{
			Name: "create_gate_rule", Method: http.MethodPost, Path: "/v1/gate-rules",
			Scope:   types.RoleOperator,
			Summary: "Create a gate rule. Empty project makes it global (admin only).",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *createGateRuleIn) (any, error) {
			if in.Project != "" {
				if _, err := guardProject(ctx, coord, id, in.Project); err != nil {
					return nil, err
				}
			} else if id != nil && !id.Allows(types.RoleAdmin) {
				return nil, types.NewError(types.ErrAuthDenied, "global gate rules require the admin scope")
			}
			return coord.CreateGateRule(ctx, core.GateRuleInput{
				ProjectRef:         in.Project,
				Name:               in.Name,
				Trigger:            types.GateTrigger(in.Trigger),
				Match:              in.Match,
				GateClass:          in.GateClass,
				ReviewerCapability: in.ReviewerCapability,
				Actor:              actorName(id, in.Actor),
			})
		}),
		define(Operation{
			Name: "list_gate_rules", Method: http.MethodGet, Path: "/v1/gate-rules",
			Scope: types.RoleAgent, ReadOnly: true,
			Summary: "List gate rules visible to a project (its own plus globals).",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *listGateRulesIn) (any, error) {
			if in.Project != "" {
				if _, err := guardProject(ctx, coord, id, in.Project); err != nil {
					return nil, err
				}
			}
			return coord.ListGateRules(ctx, in.Project, in.EnabledOnly)
		}),
		define(Operation{
			Name: "set_gate_rule_enabled", Method: http.MethodPost, Path: "/v1/gate-rules/{id}/enable",
			Scope:   types.RoleOperator,
			Summary: "Enable or disable a gate rule without deleting its history.",
		}, func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *setGateRuleEnabledIn) (any, error) {
			rule, err := coord.Store().GetGateRule(ctx, in.ID)
			if err != nil {
				return nil, err
			}
			if rule.ProjectID == "" {
				if id != nil && !id.Allows(types.RoleAdmin) {
					return nil, types.NewError(types.ErrAuthDenied, "global gate rules require the admin scope")
				}
			} else if err := requireProject(id, rule.ProjectID); err != nil {
				return nil, err
			}
			if err := coord.SetGateRuleEnabled(ctx, in.ID, in.Enabled); err != nil {
				return nil, err
			}
			return map[string]bool{"enabled": in.Enabled}, nil
		}),
	}
}
