package core

import (
	"testing"

	"github.com/tascade/tascade/internal/types"
)

func reviewRule(t *testing.T, env *testEnv, p *types.Project, name string, trigger types.GateTrigger, match types.GateMatch) *types.GateRule {
	t.Helper()
	rule, err := env.Coord.CreateGateRule(env.Ctx, GateRuleInput{
		ProjectRef: p.ID, Name: name, Trigger: trigger, Match: match, Actor: "planner",
	})
	if err != nil {
		t.Fatalf("CreateGateRule(%q) failed: %v", name, err)
	}
	return rule
}

// soleGate returns the single gate covering the candidate.
func soleGate(t *testing.T, env *testEnv, candidate *types.Task) types.GateStatus {
	t.Helper()
	statuses, err := env.Coord.GateStatuses(env.Ctx, candidate.ID)
	if err != nil {
		t.Fatalf("GateStatuses(%s) failed: %v", candidate.ShortID, err)
	}
	if len(statuses) != 1 {
		t.Fatalf("candidate %s covered by %d gates, want 1", candidate.ShortID, len(statuses))
	}
	return statuses[0]
}

func TestGateSpawnsOnImplemented(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("reviewed")
	m := env.Milestone(p, "m")
	reviewRule(t, env, p, "backend-review", types.TriggerTaskImplemented, types.GateMatch{Capability: "backend"})

	matching := env.TaskWith(m, "api endpoint", nil, types.Capabilities{"backend"})
	exempt := env.TaskWith(m, "docs page", nil, types.Capabilities{"docs"})

	env.Implement(matching, "agent-ada")
	env.Implement(exempt, "agent-bea")

	status := soleGate(t, env, matching)
	if status.Gate.Class != types.ClassReviewGate {
		t.Errorf("gate class = %s, want review_gate", status.Gate.Class)
	}
	if status.Gate.State != types.StateReady {
		t.Errorf("gate state = %s, want ready (candidate is implemented)", status.Gate.State)
	}
	if status.Gate.Priority != 0 {
		t.Errorf("gate priority = %d, want 0", status.Gate.Priority)
	}
	if len(status.Candidates) != 1 || status.Candidates[0].CandidateTaskID != matching.ID {
		t.Errorf("gate candidates = %+v", status.Candidates)
	}
	if !hasEvent(env.Events(p), types.EventGateCreated) {
		t.Error("missing gate.created event")
	}

	// The exempt task is not covered.
	statuses, err := env.Coord.GateStatuses(env.Ctx, exempt.ID)
	if err != nil {
		t.Fatalf("GateStatuses failed: %v", err)
	}
	if len(statuses) != 0 {
		t.Errorf("non-matching task grew %d gates", len(statuses))
	}

	// An undecided gate blocks integration.
	if _, err := env.Coord.RecordReview(env.Ctx, matching.ID, "reviewer-rhea", types.ReviewApproved,
		"fine", []string{"run:1"}, "reviewer-rhea"); err != nil {
		t.Fatalf("RecordReview failed: %v", err)
	}
	attempt, err := env.Coord.EnqueueIntegration(env.Ctx, IntegrationRequest{TaskRef: matching.ID, Actor: "integrator"})
	if err != nil {
		t.Fatalf("EnqueueIntegration failed: %v", err)
	}
	if _, err := env.Coord.ReportIntegrationResult(env.Ctx, IntegrationResult{
		AttemptRef: attempt.ID, Status: types.IntegrationSuccess, Actor: "integrator",
	}); err != nil {
		t.Fatalf("ReportIntegrationResult failed: %v", err)
	}
	// Success recorded, but the gate holds the task at implemented.
	if got := env.Reload(matching); got.State != types.StateImplemented {
		t.Fatalf("state = %s, want implemented until the gate approves", got.State)
	}
	_, err = env.Coord.Transition(env.Ctx, TransitionRequest{TaskRef: matching.ID, To: types.StateIntegrated, Actor: "operator"})
	if de, ok := types.AsError(err); !ok || de.SubCode != types.SubGateNotPassed {
		t.Fatalf("integrate under open gate = %v, want sub code %s", err, types.SubGateNotPassed)
	}
}

func TestGateWalkUpApproval(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("walkup")
	m := env.Milestone(p, "m")
	reviewRule(t, env, p, "all-review", types.TriggerTaskImplemented, types.GateMatch{})

	task := env.Task(m, "auditable")
	env.Implement(task, "agent-ada")
	gate := soleGate(t, env, task)

	// An operator-path decision needs no lease while the gate is ready.
	decision, err := env.Coord.RecordGateDecision(env.Ctx, GateDecisionRequest{
		GateRef: gate.Gate.ID, Verdict: types.GateApproved, DecidedBy: "reviewer-rhea",
		Rationale: "diff is sound", Actor: "reviewer-rhea",
	})
	if err != nil {
		t.Fatalf("RecordGateDecision failed: %v", err)
	}
	if decision.Verdict != types.GateApproved {
		t.Errorf("verdict = %s", decision.Verdict)
	}

	// The gate task itself stays on the board for the reviewer to walk.
	status := soleGate(t, env, task)
	if status.Gate.State != types.StateReady {
		t.Errorf("gate state after walk-up = %s, want ready", status.Gate.State)
	}
	if status.Latest == nil || status.Latest.Verdict != types.GateApproved {
		t.Errorf("latest decision = %+v", status.Latest)
	}

	// The candidate integrates now.
	if got := env.Integrate(env.Reload(task)); got.State != types.StateIntegrated {
		t.Fatalf("candidate state = %s, want integrated", got.State)
	}
}

func TestGateLeaseHolderApprovalAdvancesGate(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("walked")
	m := env.Milestone(p, "m")
	reviewRule(t, env, p, "security", types.TriggerTaskImplemented, types.GateMatch{Capability: "auth"})

	task := env.TaskWith(m, "token handling", nil, types.Capabilities{"auth"})
	env.Implement(task, "agent-ada")
	gate := soleGate(t, env, task)

	res, err := env.Coord.ClaimTask(env.Ctx, ClaimRequest{TaskRef: gate.Gate.ID, Actor: "reviewer-rhea"})
	if err != nil {
		t.Fatalf("claim of gate task failed: %v", err)
	}
	if _, err := env.Coord.RecordGateDecision(env.Ctx, GateDecisionRequest{
		GateRef: gate.Gate.ID, Verdict: types.GateApprovedWithRisk, DecidedBy: "reviewer-rhea",
		Rationale: "narrow blast radius", RiskNote: "retry path untested", Actor: "reviewer-rhea",
	}); err != nil {
		t.Fatalf("RecordGateDecision failed: %v", err)
	}

	// Holding reviewer's decision completes the gate task and ends the lease.
	status := soleGate(t, env, task)
	if status.Gate.State != types.StateImplemented {
		t.Errorf("gate state = %s, want implemented", status.Gate.State)
	}
	if _, err := env.Coord.Heartbeat(env.Ctx, res.Lease.Token, 0); !types.IsCode(err, types.ErrLeaseStale) {
		t.Errorf("gate lease should be finished, heartbeat err = %v", err)
	}
}

func TestGateRejectionAndRecovery(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("pushback")
	m := env.Milestone(p, "m")
	reviewRule(t, env, p, "all-review", types.TriggerTaskImplemented, types.GateMatch{})

	task := env.Task(m, "contested change")
	env.Implement(task, "agent-ada")
	gate := soleGate(t, env, task)

	if _, err := env.Coord.RecordGateDecision(env.Ctx, GateDecisionRequest{
		GateRef: gate.Gate.ID, Verdict: types.GateRejected, DecidedBy: "reviewer-rhea",
		Rationale: "missing error handling", Actor: "reviewer-rhea",
	}); err != nil {
		t.Fatalf("RecordGateDecision failed: %v", err)
	}

	if got := env.Reload(task); got.State != types.StateBlocked {
		t.Fatalf("candidate state = %s, want blocked after rejection", got.State)
	}
	if !hasEvent(env.Events(p), types.EventTaskGateRejected) {
		t.Error("missing task.gate_rejected event")
	}
	// The candidate edge is unsatisfied again, so the gate leaves the board.
	if status := soleGate(t, env, task); status.Gate.State != types.StateBacklog {
		t.Errorf("gate state after rejection = %s, want backlog", status.Gate.State)
	}

	// Recovery: the candidate returns to implemented, the gate follows to
	// ready, and no duplicate gate is created.
	if _, err := env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateImplemented, Actor: "agent-ada",
	}); err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	status := soleGate(t, env, task)
	if status.Gate.State != types.StateReady {
		t.Errorf("gate state after recovery = %s, want ready", status.Gate.State)
	}

	// Integration stays barred while the latest verdict is the rejection.
	failing := mustUnapproved(t, env, task.ID)
	if len(failing) != 1 {
		t.Errorf("unapproved gates = %v, want the rejecting gate", failing)
	}

	if _, err := env.Coord.RecordGateDecision(env.Ctx, GateDecisionRequest{
		GateRef: gate.Gate.ID, Verdict: types.GateApproved, DecidedBy: "reviewer-rhea",
		Rationale: "handles errors now", Actor: "reviewer-rhea",
	}); err != nil {
		t.Fatalf("re-decision failed: %v", err)
	}
	if got := env.Integrate(env.Reload(task)); got.State != types.StateIntegrated {
		t.Fatalf("state = %s, want integrated after approval", got.State)
	}
}

func mustUnapproved(t *testing.T, env *testEnv, taskID string) []string {
	t.Helper()
	failing, err := unapprovedGates(env.Ctx, env.Store, taskID)
	if err != nil {
		t.Fatalf("unapprovedGates failed: %v", err)
	}
	return failing
}

func TestMilestoneCompleteGate(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("phase-end")
	m := env.Milestone(p, "m")
	reviewRule(t, env, p, "milestone-audit", types.TriggerMilestoneComplete, types.GateMatch{})

	a := env.Task(m, "first")
	b := env.Task(m, "second")

	env.Implement(a, "agent-ada")
	statuses, err := env.Coord.GateStatuses(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("GateStatuses failed: %v", err)
	}
	if len(statuses) != 0 {
		t.Fatalf("milestone gate fired with %s still open", b.ShortID)
	}

	env.Implement(b, "agent-bea")
	status := soleGate(t, env, a)
	if len(status.Candidates) != 2 {
		t.Fatalf("gate covers %d candidates, want both tasks", len(status.Candidates))
	}
	if status.Candidates[0].Position != 0 || status.Candidates[1].Position != 1 {
		t.Errorf("candidate positions = %d,%d", status.Candidates[0].Position, status.Candidates[1].Position)
	}

	// Both tasks share the one gate.
	other := soleGate(t, env, b)
	if other.Gate.ID != status.Gate.ID {
		t.Errorf("second candidate covered by a different gate")
	}
}

func TestGateRuleManagement(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("rules")
	m := env.Milestone(p, "m")

	rule := reviewRule(t, env, p, "style", types.TriggerTaskImplemented, types.GateMatch{})

	_, err := env.Coord.CreateGateRule(env.Ctx, GateRuleInput{
		ProjectRef: p.ID, Name: "style", Trigger: types.TriggerTaskImplemented, Actor: "planner",
	})
	if !types.IsCode(err, types.ErrConflict) {
		t.Errorf("duplicate rule name = %v, want CONFLICT", err)
	}
	_, err = env.Coord.CreateGateRule(env.Ctx, GateRuleInput{
		ProjectRef: p.ID, Name: "bad", Trigger: "on_merge", Actor: "planner",
	})
	if !types.IsCode(err, types.ErrInvariantViolation) {
		t.Errorf("unknown trigger = %v, want INVARIANT_VIOLATION", err)
	}
	_, err = env.Coord.CreateGateRule(env.Ctx, GateRuleInput{
		ProjectRef: p.ID, Name: "bad-class", Trigger: types.TriggerTaskImplemented,
		GateClass: types.ClassImplementation, Actor: "planner",
	})
	if !types.IsCode(err, types.ErrInvalidTaskClass) {
		t.Errorf("non-gate class = %v, want INVALID_TASK_CLASS", err)
	}

	// Disabled rules stop firing.
	if err := env.Coord.SetGateRuleEnabled(env.Ctx, rule.ID, false); err != nil {
		t.Fatalf("SetGateRuleEnabled failed: %v", err)
	}
	enabled, err := env.Coord.ListGateRules(env.Ctx, p.ID, true)
	if err != nil {
		t.Fatalf("ListGateRules failed: %v", err)
	}
	if len(enabled) != 0 {
		t.Errorf("enabled rules = %d, want 0", len(enabled))
	}

	task := env.Task(m, "unreviewed")
	env.Implement(task, "agent-ada")
	statuses, err := env.Coord.GateStatuses(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("GateStatuses failed: %v", err)
	}
	if len(statuses) != 0 {
		t.Errorf("disabled rule still spawned a gate")
	}
}

func TestGateDecisionValidation(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("verdicts")
	m := env.Milestone(p, "m")
	reviewRule(t, env, p, "all", types.TriggerTaskImplemented, types.GateMatch{})
	task := env.Task(m, "work")
	env.Implement(task, "agent-ada")
	gate := soleGate(t, env, task)

	cases := []struct {
		name string
		req  GateDecisionRequest
	}{
		{"unknown verdict", GateDecisionRequest{GateRef: gate.Gate.ID, Verdict: "maybe", DecidedBy: "r", Rationale: "x", Actor: "r"}},
		{"missing rationale", GateDecisionRequest{GateRef: gate.Gate.ID, Verdict: types.GateApproved, DecidedBy: "r", Actor: "r"}},
		{"risk without note", GateDecisionRequest{GateRef: gate.Gate.ID, Verdict: types.GateApprovedWithRisk, DecidedBy: "r", Rationale: "x", Actor: "r"}},
		{"not a gate", GateDecisionRequest{GateRef: task.ID, Verdict: types.GateApproved, DecidedBy: "r", Rationale: "x", Actor: "r"}},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.Coord.RecordGateDecision(env.Ctx, tt.req); !types.IsCode(err, types.ErrInvariantViolation) {
				t.Errorf("error = %v, want INVARIANT_VIOLATION", err)
			}
		})
	}
}
