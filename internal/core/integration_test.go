package core

import (
	"testing"

	"github.com/tascade/tascade/internal/types"
)

func TestArtifactRules(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("evidence")
	m := env.Milestone(p, "m")
	task := env.Task(m, "traceable")

	bad := []struct {
		name string
		in   ArtifactInput
	}{
		{"unknown kind", ArtifactInput{TaskRef: task.ID, Kind: "tarball", Ref: "x", Checks: types.ChecksPassed, Actor: "a"}},
		{"kernel-internal kind", ArtifactInput{TaskRef: task.ID, Kind: types.ArtifactDecision, Ref: "x", Checks: types.ChecksPassed, Actor: "a"}},
		{"empty ref", ArtifactInput{TaskRef: task.ID, Kind: types.ArtifactBranch, Ref: "  ", Checks: types.ChecksPassed, Actor: "a"}},
		{"unknown checks", ArtifactInput{TaskRef: task.ID, Kind: types.ArtifactBranch, Ref: "x", Checks: "green", Actor: "a"}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.Coord.SubmitArtifact(env.Ctx, tt.in); !types.IsCode(err, types.ErrInvariantViolation) {
				t.Errorf("SubmitArtifact = %v, want INVARIANT_VIOLATION", err)
			}
		})
	}

	// In-flight tasks accept artifacts only from the lease holder.
	res := env.Claim(task, "agent-ada")
	_, err := env.Coord.SubmitArtifact(env.Ctx, ArtifactInput{
		TaskRef: task.ID, Kind: types.ArtifactPatch, Ref: "patch:draft", Checks: types.ChecksSkipped, Actor: "agent-ada",
	})
	if !types.IsCode(err, types.ErrLeaseStale) {
		t.Errorf("in-flight artifact without token = %v, want LEASE_STALE", err)
	}
	_, err = env.Coord.SubmitArtifact(env.Ctx, ArtifactInput{
		TaskRef: task.ID, Kind: types.ArtifactPatch, Ref: "patch:draft", Checks: types.ChecksSkipped,
		LeaseToken: "lt_forged", Actor: "agent-mal",
	})
	if !types.IsCode(err, types.ErrLeaseStale) {
		t.Errorf("in-flight artifact with foreign token = %v, want LEASE_STALE", err)
	}

	held, err := env.Coord.SubmitArtifact(env.Ctx, ArtifactInput{
		TaskRef: task.ID, Kind: types.ArtifactPatch, Ref: "patch:draft", Checks: types.ChecksSkipped,
		LeaseToken: res.Lease.Token, Actor: "agent-ada",
	})
	if err != nil {
		t.Fatalf("holder artifact failed: %v", err)
	}
	if held.LeaseID != res.Lease.ID {
		t.Errorf("artifact lease = %s, want the holder's lease", held.LeaseID)
	}
	if held.SnapshotHash == "" {
		t.Error("in-flight artifact should pin the execution snapshot hash")
	}

	// After the lease ends, artifacts attach freely and pin the latest
	// snapshot.
	if _, err := env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateInProgress, Actor: "agent-ada", LeaseToken: res.Lease.Token,
	}); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	env.PassedArtifact(task, res.Lease.Token, "agent-ada")
	if _, err := env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateImplemented, Actor: "agent-ada", LeaseToken: res.Lease.Token,
	}); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	later, err := env.Coord.SubmitArtifact(env.Ctx, ArtifactInput{
		TaskRef: task.ID, Kind: types.ArtifactCommandLog, Ref: "log:post-hoc", Checks: types.ChecksSkipped, Actor: "reviewer-rhea",
	})
	if err != nil {
		t.Fatalf("post-work artifact failed: %v", err)
	}
	if later.SnapshotHash != held.SnapshotHash {
		t.Errorf("snapshot hash drifted: %s vs %s", later.SnapshotHash, held.SnapshotHash)
	}

	if !hasEvent(env.Events(p), types.EventArtifactCreated) {
		t.Error("missing artifact.created event")
	}

	// Terminal tasks are closed books.
	env.Integrate(env.Reload(task))
	_, err = env.Coord.SubmitArtifact(env.Ctx, ArtifactInput{
		TaskRef: task.ID, Kind: types.ArtifactBranch, Ref: "branch:late", Checks: types.ChecksPassed, Actor: "agent-ada",
	})
	if !types.IsCode(err, types.ErrInvariantViolation) {
		t.Errorf("artifact on integrated task = %v, want INVARIANT_VIOLATION", err)
	}
}

func TestEnqueueIntegrationGuards(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("queued")
	m := env.Milestone(p, "m")

	ready := env.Task(m, "not started")
	_, err := env.Coord.EnqueueIntegration(env.Ctx, IntegrationRequest{TaskRef: ready.ID, Actor: "integrator"})
	if !types.IsCode(err, types.ErrInvariantViolation) {
		t.Errorf("enqueue of ready task = %v, want INVARIANT_VIOLATION", err)
	}

	task := env.Task(m, "done")
	env.Implement(task, "agent-ada")
	failed, err := env.Coord.SubmitArtifact(env.Ctx, ArtifactInput{
		TaskRef: task.ID, Kind: types.ArtifactBranch, Ref: "branch:broken", Checks: types.ChecksFailed, Actor: "agent-ada",
	})
	if err != nil {
		t.Fatalf("SubmitArtifact failed: %v", err)
	}

	_, err = env.Coord.EnqueueIntegration(env.Ctx, IntegrationRequest{
		TaskRef: task.ID, ArtifactRef: failed.ID, Actor: "integrator",
	})
	if de, ok := types.AsError(err); !ok || de.SubCode != types.SubMissingPassedCheck {
		t.Errorf("enqueue of failed artifact = %v, want sub code %s", err, types.SubMissingPassedCheck)
	}
	_, err = env.Coord.EnqueueIntegration(env.Ctx, IntegrationRequest{
		TaskRef: task.ID, ArtifactRef: "nope", Actor: "integrator",
	})
	if !types.IsCode(err, types.ErrNotFound) {
		t.Errorf("enqueue of unknown artifact = %v, want NOT_FOUND", err)
	}

	// Default selection takes the newest artifact with passing checks, not
	// the newest artifact.
	attempt, err := env.Coord.EnqueueIntegration(env.Ctx, IntegrationRequest{TaskRef: task.ID, Actor: "integrator"})
	if err != nil {
		t.Fatalf("EnqueueIntegration failed: %v", err)
	}
	if attempt.ArtifactID == failed.ID {
		t.Error("queued the failed artifact")
	}
	if attempt.Status != types.IntegrationQueued {
		t.Errorf("attempt status = %s, want queued", attempt.Status)
	}
	if !hasEvent(env.Events(p), types.EventIntegrationQueued) {
		t.Error("missing integration.queued event")
	}
}

func TestIntegrationIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("retries")
	m := env.Milestone(p, "m")
	task := env.Task(m, "merge me")
	env.Implement(task, "agent-ada")
	if _, err := env.Coord.RecordReview(env.Ctx, task.ID, "reviewer-rhea", types.ReviewApproved,
		"fine", []string{"run:1"}, "reviewer-rhea"); err != nil {
		t.Fatalf("RecordReview failed: %v", err)
	}

	first, err := env.Coord.EnqueueIntegration(env.Ctx, IntegrationRequest{
		TaskRef: task.ID, IdempotencyKey: "merge-7", Actor: "integrator",
	})
	if err != nil {
		t.Fatalf("EnqueueIntegration failed: %v", err)
	}
	retry, err := env.Coord.EnqueueIntegration(env.Ctx, IntegrationRequest{
		TaskRef: task.ID, IdempotencyKey: "merge-7", Actor: "integrator",
	})
	if err != nil {
		t.Fatalf("retried enqueue failed: %v", err)
	}
	if retry.ID != first.ID {
		t.Errorf("retry queued a second attempt: %s vs %s", retry.ID, first.ID)
	}

	if _, err := env.Coord.ReportIntegrationResult(env.Ctx, IntegrationResult{
		AttemptRef: first.ID, Status: types.IntegrationSuccess, Actor: "integrator",
	}); err != nil {
		t.Fatalf("ReportIntegrationResult failed: %v", err)
	}
	if got := env.Reload(task); got.State != types.StateIntegrated {
		t.Fatalf("state = %s, want integrated", got.State)
	}

	// The key keeps answering with the finished attempt even after the task
	// left implemented.
	late, err := env.Coord.EnqueueIntegration(env.Ctx, IntegrationRequest{
		TaskRef: task.ID, IdempotencyKey: "merge-7", Actor: "integrator",
	})
	if err != nil {
		t.Fatalf("late retry failed: %v", err)
	}
	if late.ID != first.ID || late.Status != types.IntegrationSuccess {
		t.Errorf("late retry = %s %s, want the original success", late.ID, late.Status)
	}
}

func TestIntegrationConflictAndRecovery(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("collisions")
	m := env.Milestone(p, "m")
	task := env.Task(m, "racy change")
	env.Implement(task, "agent-ada")
	if _, err := env.Coord.RecordReview(env.Ctx, task.ID, "reviewer-rhea", types.ReviewApproved,
		"fine", []string{"run:1"}, "reviewer-rhea"); err != nil {
		t.Fatalf("RecordReview failed: %v", err)
	}

	attempt, err := env.Coord.EnqueueIntegration(env.Ctx, IntegrationRequest{TaskRef: task.ID, Actor: "integrator"})
	if err != nil {
		t.Fatalf("EnqueueIntegration failed: %v", err)
	}
	running, err := env.Coord.MarkIntegrationRunning(env.Ctx, attempt.ID, "integrator")
	if err != nil {
		t.Fatalf("MarkIntegrationRunning failed: %v", err)
	}
	if running.Status != types.IntegrationRunning {
		t.Errorf("status = %s, want running", running.Status)
	}
	// Marking running twice is a no-op.
	if _, err := env.Coord.MarkIntegrationRunning(env.Ctx, attempt.ID, "integrator"); err != nil {
		t.Errorf("second mark running = %v, want nil", err)
	}

	done, err := env.Coord.ReportIntegrationResult(env.Ctx, IntegrationResult{
		AttemptRef: attempt.ID, Status: types.IntegrationConflict, Detail: "main moved under us", Actor: "integrator",
	})
	if err != nil {
		t.Fatalf("ReportIntegrationResult failed: %v", err)
	}
	if done.Detail != "main moved under us" || done.FinishedAt == nil {
		t.Errorf("attempt not finalized: %+v", done)
	}
	if got := env.Reload(task); got.State != types.StateConflict {
		t.Fatalf("state = %s, want conflict", got.State)
	}
	if !hasEvent(env.Events(p), types.EventIntegrationConflict) {
		t.Error("missing integration.conflict event")
	}

	// Rebase recovery: back to implemented on the standing artifact, then a
	// clean attempt integrates.
	if _, err := env.Coord.Transition(env.Ctx, TransitionRequest{
		TaskRef: task.ID, To: types.StateImplemented, Actor: "agent-ada",
	}); err != nil {
		t.Fatalf("recovery transition failed: %v", err)
	}
	if got := env.Integrate(env.Reload(task)); got.State != types.StateIntegrated {
		t.Fatalf("state after clean retry = %s, want integrated", got.State)
	}

	attempts, err := env.Coord.ListIntegrationAttempts(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("ListIntegrationAttempts failed: %v", err)
	}
	if len(attempts) != 2 {
		t.Errorf("attempts = %d, want the conflict and the success", len(attempts))
	}
}

func TestIntegrationFailedChecks(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("red-ci")
	m := env.Milestone(p, "m")
	task := env.Task(m, "regression")
	env.Implement(task, "agent-ada")

	attempt, err := env.Coord.EnqueueIntegration(env.Ctx, IntegrationRequest{TaskRef: task.ID, Actor: "integrator"})
	if err != nil {
		t.Fatalf("EnqueueIntegration failed: %v", err)
	}
	if _, err := env.Coord.ReportIntegrationResult(env.Ctx, IntegrationResult{
		AttemptRef: attempt.ID, Status: types.IntegrationFailedChecks, Detail: "unit suite broke", Actor: "integrator",
	}); err != nil {
		t.Fatalf("ReportIntegrationResult failed: %v", err)
	}
	if got := env.Reload(task); got.State != types.StateBlocked {
		t.Fatalf("state = %s, want blocked", got.State)
	}
	if !hasEvent(env.Events(p), types.EventIntegrationFailedChecks) {
		t.Error("missing integration.failed_checks event")
	}
}

func TestIntegrationReportGuards(t *testing.T) {
	env := newTestEnv(t)
	m := env.Milestone(env.Project("strict"), "m")
	task := env.Task(m, "guarded")
	env.Implement(task, "agent-ada")

	attempt, err := env.Coord.EnqueueIntegration(env.Ctx, IntegrationRequest{TaskRef: task.ID, Actor: "integrator"})
	if err != nil {
		t.Fatalf("EnqueueIntegration failed: %v", err)
	}

	_, err = env.Coord.ReportIntegrationResult(env.Ctx, IntegrationResult{
		AttemptRef: attempt.ID, Status: types.IntegrationRunning, Actor: "integrator",
	})
	if !types.IsCode(err, types.ErrInvariantViolation) {
		t.Errorf("non-terminal result = %v, want INVARIANT_VIOLATION", err)
	}

	if _, err := env.Coord.ReportIntegrationResult(env.Ctx, IntegrationResult{
		AttemptRef: attempt.ID, Status: types.IntegrationFailedChecks, Actor: "integrator",
	}); err != nil {
		t.Fatalf("ReportIntegrationResult failed: %v", err)
	}
	// Same outcome again: idempotent.
	if _, err := env.Coord.ReportIntegrationResult(env.Ctx, IntegrationResult{
		AttemptRef: attempt.ID, Status: types.IntegrationFailedChecks, Actor: "integrator",
	}); err != nil {
		t.Errorf("idempotent re-report = %v, want nil", err)
	}
	// A different outcome contradicts the record.
	_, err = env.Coord.ReportIntegrationResult(env.Ctx, IntegrationResult{
		AttemptRef: attempt.ID, Status: types.IntegrationSuccess, Actor: "integrator",
	})
	if !types.IsCode(err, types.ErrConflict) {
		t.Errorf("contradicting report = %v, want CONFLICT", err)
	}
	if _, err := env.Coord.MarkIntegrationRunning(env.Ctx, attempt.ID, "integrator"); !types.IsCode(err, types.ErrConflict) {
		t.Errorf("mark running after finish = %v, want CONFLICT", err)
	}
}
