package client

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tascade/tascade/internal/core"
	"github.com/tascade/tascade/internal/httpapi"
	"github.com/tascade/tascade/internal/storage/sqlite"
	"github.com/tascade/tascade/internal/types"
	"github.com/tascade/tascade/internal/version"
)

type clientEnv struct {
	t   *testing.T
	Ctx context.Context
	C   *Client
}

// newClientEnv stands up a real server on a fresh database and a client
// holding a global admin key.
func newClientEnv(t *testing.T) *clientEnv {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "tascade.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	coord := core.New(store, zerolog.Nop(), core.Options{})
	issued, err := coord.IssueAPIKey(ctx, core.APIKeyInput{
		Name:   "root",
		Scopes: types.RoleScopes{types.RoleAdmin},
		Actor:  "test",
	})
	if err != nil {
		t.Fatalf("issue admin key: %v", err)
	}

	srv := httptest.NewServer(httpapi.New(coord, zerolog.Nop(), httpapi.Options{}).Routes())
	t.Cleanup(srv.Close)

	c := New(srv.URL, issued.Raw)
	c.Actor = "test"
	return &clientEnv{t: t, Ctx: ctx, C: c}
}

func (e *clientEnv) project(name string) *types.Project {
	e.t.Helper()
	p, err := e.C.CreateProject(e.Ctx, name, "")
	if err != nil {
		e.t.Fatalf("create project: %v", err)
	}
	return p
}

func (e *clientEnv) task(milestoneRef, title string) *types.Task {
	e.t.Helper()
	task, err := e.C.CreateTask(e.Ctx, milestoneRef, TaskParams{
		Title:    title,
		WorkSpec: []byte(`{"goal":"` + title + `"}`),
	})
	if err != nil {
		e.t.Fatalf("create task: %v", err)
	}
	return task
}

func TestHello(t *testing.T) {
	env := newClientEnv(t)

	h, serverBehind, err := env.C.Hello(env.Ctx)
	if err != nil {
		t.Fatalf("hello: %v", err)
	}
	if h.Status != "ok" {
		t.Errorf("status = %q, want ok", h.Status)
	}
	if h.Version != version.Version {
		t.Errorf("version = %q, want %q", h.Version, version.Version)
	}
	if h.MinClient != version.MinClient {
		t.Errorf("min_client = %q, want %q", h.MinClient, version.MinClient)
	}
	if serverBehind {
		t.Error("server reported behind a client of the same build")
	}
}

func TestErrorEnvelopeDecodesToTypedError(t *testing.T) {
	env := newClientEnv(t)

	_, err := env.C.GetTask(env.Ctx, "P9.M9.T9")
	if err == nil {
		t.Fatal("expected an error for a missing task")
	}
	if !types.IsCode(err, types.ErrNotFound) {
		t.Fatalf("code = %v, want %s", types.CodeOf(err), types.ErrNotFound)
	}
	de, ok := types.AsError(err)
	if !ok {
		t.Fatalf("error is %T, want *types.Error", err)
	}
	if de.Message == "" {
		t.Error("typed error lost its message crossing the wire")
	}
}

func TestBadKeyIsAuthDenied(t *testing.T) {
	env := newClientEnv(t)

	bad := New(env.C.BaseURL, "tsc_00000000000000000000000000000000")
	if _, err := bad.ListProjects(env.Ctx, ""); !types.IsCode(err, types.ErrAuthDenied) {
		t.Fatalf("code = %v, want %s", types.CodeOf(err), types.ErrAuthDenied)
	}
}

func TestClaimFlowEndToEnd(t *testing.T) {
	env := newClientEnv(t)

	p := env.project("clientflow")
	m, err := env.C.CreateMilestone(env.Ctx, p.ShortID, "", "m1", "")
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	task := env.task(m.ShortID, "wire the client")
	if task.State != types.StateReady {
		t.Fatalf("state = %s, want ready", task.State)
	}

	ready, err := env.C.ListReady(env.Ctx, p.ShortID, ReadyFilter{Limit: 5})
	if err != nil {
		t.Fatalf("list ready: %v", err)
	}
	if len(ready) != 1 || ready[0].Task.ShortID != task.ShortID {
		t.Fatalf("ready = %+v, want exactly %s", ready, task.ShortID)
	}

	claim, err := env.C.ClaimTask(env.Ctx, task.ShortID, nil, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim.Lease.Token == "" {
		t.Fatal("claim returned no lease token")
	}
	if claim.Snapshot.PlanVersion != p.PlanVersion {
		t.Errorf("snapshot plan_version = %d, want %d", claim.Snapshot.PlanVersion, p.PlanVersion)
	}

	hb, err := env.C.Heartbeat(env.Ctx, claim.Lease.Token, time.Minute)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if hb.Advisory.PlanStale {
		t.Error("advisory reported a stale plan with no replan applied")
	}

	if _, err := env.C.Transition(env.Ctx, task.ShortID, TransitionParams{
		To:         types.StateInProgress,
		LeaseToken: claim.Lease.Token,
	}); err != nil {
		t.Fatalf("transition in_progress: %v", err)
	}
	if _, err := env.C.SubmitArtifact(env.Ctx, task.ShortID, ArtifactParams{
		Kind:       types.ArtifactBranch,
		Ref:        "tascade/wire-the-client",
		Checks:     types.ChecksPassed,
		LeaseToken: claim.Lease.Token,
	}); err != nil {
		t.Fatalf("submit artifact: %v", err)
	}
	got, err := env.C.Transition(env.Ctx, task.ShortID, TransitionParams{
		To:         types.StateImplemented,
		LeaseToken: claim.Lease.Token,
	})
	if err != nil {
		t.Fatalf("transition implemented: %v", err)
	}
	if got.State != types.StateImplemented {
		t.Fatalf("state = %s, want implemented", got.State)
	}

	// The lease died with the transition out of in_progress.
	if _, err := env.C.Heartbeat(env.Ctx, claim.Lease.Token, time.Minute); !types.IsCode(err, types.ErrLeaseStale) {
		t.Fatalf("heartbeat after finish: code = %v, want %s", types.CodeOf(err), types.ErrLeaseStale)
	}

	events, err := env.C.Events(env.Ctx, p.ShortID, 0, 0, []string{string(types.EventTaskStateChanged)})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("state change events = %d, want 2", len(events))
	}

	board, err := env.C.StatusBoard(env.Ctx, p.ShortID)
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	if board.Counts[types.StateImplemented] != 1 {
		t.Errorf("board implemented count = %d, want 1", board.Counts[types.StateImplemented])
	}
}

func TestDependencyAndContextCalls(t *testing.T) {
	env := newClientEnv(t)

	p := env.project("clientdeps")
	m, err := env.C.CreateMilestone(env.Ctx, p.ShortID, "", "m1", "")
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	a := env.task(m.ShortID, "first")
	b := env.task(m.ShortID, "second")

	if _, err := env.C.AddDependency(env.Ctx, a.ShortID, b.ShortID, types.UnlockOnImplemented); err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	deps, err := env.C.Dependencies(env.Ctx, b.ShortID)
	if err != nil {
		t.Fatalf("dependencies: %v", err)
	}
	if len(deps.DependsOn) != 1 || deps.DependsOn[0].Task.ShortID != a.ShortID {
		t.Fatalf("depends_on = %+v, want %s", deps.DependsOn, a.ShortID)
	}

	bundle, err := env.C.TaskContext(env.Ctx, b.ShortID, types.ContextOptions{})
	if err != nil {
		t.Fatalf("task context: %v", err)
	}
	if len(bundle.Blockers) != 1 {
		t.Fatalf("blockers = %d, want 1", len(bundle.Blockers))
	}
	if bundle.Blockers[0].Task.ShortID != a.ShortID {
		t.Errorf("blocker = %s, want %s", bundle.Blockers[0].Task.ShortID, a.ShortID)
	}

	if err := env.C.RemoveDependency(env.Ctx, a.ShortID, b.ShortID); err != nil {
		t.Fatalf("remove dependency: %v", err)
	}
	deps, err = env.C.Dependencies(env.Ctx, b.ShortID)
	if err != nil {
		t.Fatalf("dependencies after removal: %v", err)
	}
	if len(deps.DependsOn) != 0 {
		t.Fatalf("depends_on survived removal: %+v", deps.DependsOn)
	}
}

func TestKeyLifecycleOverClient(t *testing.T) {
	env := newClientEnv(t)

	p := env.project("clientkeys")
	issued, err := env.C.IssueKey(env.Ctx, p.ShortID, "agent-key", []string{"agent"})
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}
	if issued.Raw == "" || issued.Key.ID == "" {
		t.Fatalf("issued key incomplete: %+v", issued)
	}

	agent := New(env.C.BaseURL, issued.Raw)
	if _, err := agent.GetProject(env.Ctx, p.ShortID); err != nil {
		t.Fatalf("agent read own project: %v", err)
	}
	if _, err := agent.CreateProject(env.Ctx, "sneaky", ""); !types.IsCode(err, types.ErrAuthDenied) {
		t.Fatalf("agent created a project: %v", err)
	}

	if err := env.C.RevokeKey(env.Ctx, issued.Key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := agent.GetProject(env.Ctx, p.ShortID); !types.IsCode(err, types.ErrAuthDenied) {
		t.Fatalf("revoked key still works: %v", err)
	}

	keys, err := env.C.ListKeys(env.Ctx, p.ShortID)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 1 || keys[0].Status != types.KeyRevoked {
		t.Fatalf("keys = %+v, want one revoked key", keys)
	}
}
