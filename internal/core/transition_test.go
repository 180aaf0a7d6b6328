package core

import (
	"testing"

	"github.com/tascade/tascade/internal/types"
)

func TestLifecycleHappyPath(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("delivery")
	m := env.Milestone(p, "v1")
	task := env.Task(m, "wire the parser")

	if task.State != types.StateReady {
		t.Fatalf("new task state = %s, want ready (no prerequisites)", task.State)
	}

	res := env.Claim(task, "agent-ada")
	if res.Task.State != types.StateClaimed {
		t.Errorf("claimed task state = %s", res.Task.State)
	}
	if res.Lease.Fencing != 1 {
		t.Errorf("first lease fencing = %d, want 1", res.Lease.Fencing)
	}
	if res.Snapshot.WorkSpecHash == "" {
		t.Error("claim captured no work spec hash")
	}

	if _, err := env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateInProgress, Actor: "agent-ada", LeaseToken: res.Lease.Token,
	}); err != nil {
		t.Fatalf("to in_progress failed: %v", err)
	}
	env.PassedArtifact(task, res.Lease.Token, "agent-ada")
	if _, err := env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateImplemented, Actor: "agent-ada", LeaseToken: res.Lease.Token,
	}); err != nil {
		t.Fatalf("to implemented failed: %v", err)
	}

	got := env.Integrate(env.Reload(task))
	if got.State != types.StateIntegrated {
		t.Fatalf("final state = %s, want integrated", got.State)
	}

	events := env.Events(p)
	for _, et := range []types.EventType{
		types.EventTaskCreated, types.EventLeaseAcquired, types.EventSnapshotCaptured,
		types.EventTaskStateChanged, types.EventArtifactCreated, types.EventLeaseReleased,
		types.EventReviewRecorded, types.EventIntegrationQueued, types.EventIntegrationSucceeded,
	} {
		if !hasEvent(events, et) {
			t.Errorf("event log missing %s", et)
		}
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("edges")
	m := env.Milestone(p, "m")
	task := env.Task(m, "strict")

	// ready -> implemented skips the whole execution path.
	_, err := env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateImplemented, Actor: "agent-ada",
	})
	if !types.IsCode(err, types.ErrInvariantViolation) {
		t.Fatalf("error = %v, want INVARIANT_VIOLATION", err)
	}
	de, _ := types.AsError(err)
	if de.SubCode != types.SubIllegalTransition {
		t.Errorf("sub code = %q, want %q", de.SubCode, types.SubIllegalTransition)
	}
	if _, ok := de.Details["allowed"]; !ok {
		t.Error("illegal transition error should list the allowed targets")
	}

	// claimed and reserved are not enterable through transition at all.
	for _, to := range []types.TaskState{types.StateClaimed, types.StateReserved} {
		_, err := env.Coord.Transition(env.Ctx, TransitionRequest{TaskRef: task.ID, To: to, Actor: "agent-ada"})
		if !types.IsCode(err, types.ErrInvariantViolation) {
			t.Errorf("transition to %s error = %v, want INVARIANT_VIOLATION", to, err)
		}
	}
}

func TestTerminalStatesAdmitNothing(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("terminal")
	m := env.Milestone(p, "m")

	done := env.Task(m, "done")
	env.Implement(done, "agent-ada")
	env.Integrate(env.Reload(done))

	gone := env.Task(m, "gone")
	if _, err := env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: gone.ID, To: types.StateCancelled, Actor: "operator", Rationale: "descoped",
	}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	for _, ref := range []string{done.ID, gone.ID} {
		_, err := env.Coord.Transition(env.Ctx, TransitionRequest{
			TaskRef: ref, To: types.StateReady, Actor: "operator", Rationale: "resurrect", Force: true,
		})
		if !types.IsCode(err, types.ErrInvariantViolation) {
			t.Errorf("forced transition out of terminal state: err = %v, want INVARIANT_VIOLATION", err)
		}
	}
}

func TestImplementedRequiresPassingArtifact(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("evidence")
	m := env.Milestone(p, "m")
	task := env.Task(m, "no proof")

	res := env.StartWork(task, "agent-ada")
	_, err := env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateImplemented, Actor: "agent-ada", LeaseToken: res.Lease.Token,
	})
	de, ok := types.AsError(err)
	if !ok || de.SubCode != types.SubMissingPassedCheck {
		t.Fatalf("error = %v, want sub code %s", err, types.SubMissingPassedCheck)
	}

	// A failing artifact is not enough.
	if _, err := env.Coord.SubmitArtifact(env.Ctx, ArtifactInput{
		TaskRef: task.ID, Kind: types.ArtifactPatch, Ref: "patch:1", Checks: types.ChecksFailed,
		Summary: "red build", LeaseToken: res.Lease.Token, Actor: "agent-ada",
	}); err != nil {
		t.Fatalf("SubmitArtifact failed: %v", err)
	}
	_, err = env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateImplemented, Actor: "agent-ada", LeaseToken: res.Lease.Token,
	})
	if de, ok := types.AsError(err); !ok || de.SubCode != types.SubMissingPassedCheck {
		t.Fatalf("error after failed artifact = %v, want sub code %s", err, types.SubMissingPassedCheck)
	}
}

func TestInProgressRequiresLeaseToken(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("tokens")
	m := env.Milestone(p, "m")
	task := env.Task(m, "guarded")
	env.Claim(task, "agent-ada")

	_, err := env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateInProgress, Actor: "agent-ada",
	})
	if !types.IsCode(err, types.ErrLeaseStale) {
		t.Errorf("missing token error = %v, want LEASE_STALE", err)
	}

	_, err = env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateInProgress, Actor: "agent-ada", LeaseToken: "lt_bogus",
	})
	if !types.IsCode(err, types.ErrLeaseStale) {
		t.Errorf("bogus token error = %v, want LEASE_STALE", err)
	}
}

func TestIntegratedInvariants(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("gatekeeping")
	m := env.Milestone(p, "m")
	task := env.Task(m, "careful")
	env.Implement(task, "agent-ada")

	// No review at all.
	_, err := env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateIntegrated, Actor: "operator",
	})
	if !types.IsCode(err, types.ErrInvariantViolation) {
		t.Fatalf("no-review error = %v, want INVARIANT_VIOLATION", err)
	}

	if _, err := env.Coord.RecordReview(env.Ctx, task.ID, "reviewer-rhea", types.ReviewApproved,
		"ok", []string{"run:checks#9"}, "reviewer-rhea"); err != nil {
		t.Fatalf("RecordReview failed: %v", err)
	}

	// The approving reviewer may not perform the integration transition.
	_, err = env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateIntegrated, Actor: "reviewer-rhea",
	})
	if de, ok := types.AsError(err); !ok || de.SubCode != types.SubSelfReview {
		t.Fatalf("self-review error = %v, want sub code %s", err, types.SubSelfReview)
	}

	// Review present but nothing merged yet.
	_, err = env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateIntegrated, Actor: "operator",
	})
	if de, ok := types.AsError(err); !ok || de.SubCode != types.SubNotIntegrated {
		t.Fatalf("no-attempt error = %v, want sub code %s", err, types.SubNotIntegrated)
	}

	attempt, err := env.Coord.EnqueueIntegration(env.Ctx, IntegrationRequest{TaskRef: task.ID, Actor: "integrator"})
	if err != nil {
		t.Fatalf("EnqueueIntegration failed: %v", err)
	}
	if _, err := env.Coord.ReportIntegrationResult(env.Ctx, IntegrationResult{
		AttemptRef: attempt.ID, Status: types.IntegrationSuccess, Actor: "integrator",
	}); err != nil {
		t.Fatalf("ReportIntegrationResult failed: %v", err)
	}
	if got := env.Reload(task); got.State != types.StateIntegrated {
		t.Fatalf("state after successful report = %s, want integrated", got.State)
	}
}

func TestReviewGuards(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("reviews")
	m := env.Milestone(p, "m")
	task := env.Task(m, "unreviewed")

	// No artifacts yet: nothing to review.
	_, err := env.Coord.RecordReview(env.Ctx, task.ID, "reviewer-rhea", types.ReviewApproved,
		"", []string{"run:1"}, "reviewer-rhea")
	if !types.IsCode(err, types.ErrInvariantViolation) {
		t.Errorf("review without artifacts error = %v, want INVARIANT_VIOLATION", err)
	}

	env.Implement(task, "agent-ada")

	// The artifact producer cannot be the reviewer of record.
	_, err = env.Coord.RecordReview(env.Ctx, task.ID, "agent-ada", types.ReviewApproved,
		"", []string{"run:1"}, "agent-ada")
	if de, ok := types.AsError(err); !ok || de.SubCode != types.SubSelfReview {
		t.Errorf("producer-as-reviewer error = %v, want sub code %s", err, types.SubSelfReview)
	}

	// Evidence refs are mandatory.
	_, err = env.Coord.RecordReview(env.Ctx, task.ID, "reviewer-rhea", types.ReviewApproved, "", nil, "reviewer-rhea")
	if de, ok := types.AsError(err); !ok || de.SubCode != types.SubMissingEvidence {
		t.Errorf("evidence-free review error = %v, want sub code %s", err, types.SubMissingEvidence)
	}
}

func TestForceTransition(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("force")
	m := env.Milestone(p, "m")
	task := env.Task(m, "stuck")
	env.StartWork(task, "agent-ada")

	// Force demands a rationale.
	_, err := env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateReady, Actor: "operator", Force: true,
	})
	if !types.IsCode(err, types.ErrInvariantViolation) {
		t.Fatalf("force without rationale error = %v", err)
	}

	// Forcing in_progress back to ready without a token strands the lease;
	// the kernel invalidates it as part of the jump.
	got, err := env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateReady, Actor: "operator", Rationale: "agent wedged", Force: true,
	})
	if err != nil {
		t.Fatalf("forced transition failed: %v", err)
	}
	if got.State != types.StateReady {
		t.Errorf("state = %s, want ready", got.State)
	}
	events := env.Events(p)
	if !hasEvent(events, types.EventTaskForceTransition) {
		t.Error("missing task.force_transitioned event")
	}
	if !hasEvent(events, types.EventLeaseInvalidated) {
		t.Error("forced jump should invalidate the live lease")
	}

	// The old token is dead.
	if _, err := env.Coord.Heartbeat(env.Ctx, "lt_missing", 0); !types.IsCode(err, types.ErrLeaseStale) {
		t.Errorf("heartbeat on unknown token = %v, want LEASE_STALE", err)
	}
}

func TestBlockedRecoveryToImplemented(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("recovery")
	m := env.Milestone(p, "m")
	task := env.Task(m, "flaky")

	res := env.StartWork(task, "agent-ada")
	env.PassedArtifact(task, res.Lease.Token, "agent-ada")
	if _, err := env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateBlocked, Actor: "agent-ada", LeaseToken: res.Lease.Token, Rationale: "infra outage",
	}); err != nil {
		t.Fatalf("to blocked failed: %v", err)
	}

	// blocked -> implemented is the recovery edge; the artifact already exists.
	got, err := env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateImplemented, Actor: "operator",
	})
	if err != nil {
		t.Fatalf("recovery to implemented failed: %v", err)
	}
	if got.State != types.StateImplemented {
		t.Errorf("state = %s, want implemented", got.State)
	}
}
