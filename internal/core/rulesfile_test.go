package core

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/tascade/tascade/internal/types"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gates.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}
	return path
}

func ruleByName(t *testing.T, rules []*types.GateRule, name string) *types.GateRule {
	t.Helper()
	for _, r := range rules {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("rule %q not found in %d rules", name, len(rules))
	return nil
}

func TestRulesFileLoad(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("filed")
	m := env.Milestone(p, "m")

	path := writeRules(t, fmt.Sprintf(`
[[rule]]
name = "auth-review"
project = %q
trigger = "task_implemented"
reviewer_capability = "security"
[rule.match]
capability = "auth"

[[rule]]
name = "global-audit"
trigger = "milestone_complete"
enabled = false
`, p.ShortID))

	if err := env.Coord.LoadRulesFile(env.Ctx, path); err != nil {
		t.Fatalf("LoadRulesFile failed: %v", err)
	}

	rules, err := env.Coord.ListGateRules(env.Ctx, p.ID, false)
	if err != nil {
		t.Fatalf("ListGateRules failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want project rule plus global", len(rules))
	}
	auth := ruleByName(t, rules, "auth-review")
	if auth.Source != types.RuleSourceFile {
		t.Errorf("source = %s, want file", auth.Source)
	}
	if auth.Match.Capability != "auth" || auth.ReviewerCapability != "security" {
		t.Errorf("match not decoded: %+v", auth)
	}
	if !auth.Enabled {
		t.Error("auth-review should default to enabled")
	}
	if audit := ruleByName(t, rules, "global-audit"); audit.Enabled {
		t.Error("global-audit declared enabled = false")
	}

	// The loaded rule actually fires.
	task := env.TaskWith(m, "session tokens", nil, types.Capabilities{"auth"})
	env.Implement(task, "agent-ada")
	statuses, err := env.Coord.GateStatuses(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("GateStatuses failed: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("file rule spawned %d gates, want 1", len(statuses))
	}
}

func TestRulesFileReloadUpsertsByName(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("refiled")

	path := writeRules(t, fmt.Sprintf(`
[[rule]]
name = "keep"
project = %q
trigger = "task_implemented"
reviewer_capability = "backend"

[[rule]]
name = "drop"
project = %q
trigger = "task_implemented"
`, p.ShortID, p.ShortID))
	if err := env.Coord.LoadRulesFile(env.Ctx, path); err != nil {
		t.Fatalf("initial load failed: %v", err)
	}
	rules, err := env.Coord.ListGateRules(env.Ctx, p.ID, false)
	if err != nil {
		t.Fatalf("ListGateRules failed: %v", err)
	}
	keptID := ruleByName(t, rules, "keep").ID

	// Second revision: "keep" changes reviewer, "drop" disappears.
	if err := os.WriteFile(path, []byte(fmt.Sprintf(`
[[rule]]
name = "keep"
project = %q
trigger = "task_implemented"
reviewer_capability = "frontend"

[[rule]]
name = "added"
project = %q
trigger = "milestone_complete"
`, p.ShortID, p.ShortID)), 0o644); err != nil {
		t.Fatalf("failed to rewrite rules file: %v", err)
	}
	if err := env.Coord.LoadRulesFile(env.Ctx, path); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	rules, err = env.Coord.ListGateRules(env.Ctx, p.ID, false)
	if err != nil {
		t.Fatalf("ListGateRules failed: %v", err)
	}
	kept := ruleByName(t, rules, "keep")
	if kept.ID != keptID {
		t.Errorf("reload reassigned rule ID %s -> %s", keptID, kept.ID)
	}
	if kept.ReviewerCapability != "frontend" {
		t.Errorf("reviewer_capability = %q, want updated value", kept.ReviewerCapability)
	}
	if dropped := ruleByName(t, rules, "drop"); dropped.Enabled {
		t.Error("removed rule should be disabled, not left enabled")
	}
	if added := ruleByName(t, rules, "added"); !added.Enabled {
		t.Error("new rule should be enabled")
	}
}

func TestRulesFileCannotShadowAPIRule(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("owned")

	if _, err := env.Coord.CreateGateRule(env.Ctx, GateRuleInput{
		ProjectRef: p.ID, Name: "deploy-check", Trigger: types.TriggerTaskImplemented, Actor: "planner",
	}); err != nil {
		t.Fatalf("CreateGateRule failed: %v", err)
	}

	path := writeRules(t, fmt.Sprintf(`
[[rule]]
name = "deploy-check"
project = %q
trigger = "task_implemented"
`, p.ShortID))
	err := env.Coord.LoadRulesFile(env.Ctx, path)
	if !types.IsCode(err, types.ErrConflict) {
		t.Fatalf("shadowing an API rule = %v, want CONFLICT", err)
	}

	rules, err := env.Coord.ListGateRules(env.Ctx, p.ID, false)
	if err != nil {
		t.Fatalf("ListGateRules failed: %v", err)
	}
	if got := ruleByName(t, rules, "deploy-check"); got.Source != types.RuleSourceAPI {
		t.Errorf("API rule source mutated to %s", got.Source)
	}
}

func TestRulesFileMissingDisablesFileRules(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("gone")

	path := writeRules(t, fmt.Sprintf(`
[[rule]]
name = "transient"
project = %q
trigger = "task_implemented"
`, p.ShortID))
	if err := env.Coord.LoadRulesFile(env.Ctx, path); err != nil {
		t.Fatalf("initial load failed: %v", err)
	}
	if _, err := env.Coord.CreateGateRule(env.Ctx, GateRuleInput{
		ProjectRef: p.ID, Name: "durable", Trigger: types.TriggerTaskImplemented, Actor: "planner",
	}); err != nil {
		t.Fatalf("CreateGateRule failed: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("failed to remove rules file: %v", err)
	}
	if err := env.Coord.LoadRulesFile(env.Ctx, path); err != nil {
		t.Fatalf("load of missing file = %v, want nil", err)
	}

	rules, err := env.Coord.ListGateRules(env.Ctx, p.ID, false)
	if err != nil {
		t.Fatalf("ListGateRules failed: %v", err)
	}
	if ruleByName(t, rules, "transient").Enabled {
		t.Error("file rule should be disabled when its file is gone")
	}
	if !ruleByName(t, rules, "durable").Enabled {
		t.Error("API rule must survive a missing rules file")
	}
}

func TestRulesFileRejectsBadContent(t *testing.T) {
	env := newTestEnv(t)
	p := env.Project("strict")

	cases := []struct {
		name    string
		content string
		code    types.ErrorCode
	}{
		{"malformed toml", `[[rule]` + "\n", types.ErrInvariantViolation},
		{"missing name", "[[rule]]\ntrigger = \"task_implemented\"\n", types.ErrInvariantViolation},
		{"unknown trigger", "[[rule]]\nname = \"x\"\ntrigger = \"on_merge\"\n", types.ErrInvariantViolation},
		{"bad gate class", "[[rule]]\nname = \"x\"\ntrigger = \"task_implemented\"\ngate_class = \"implementation\"\n", types.ErrInvalidTaskClass},
		{
			"duplicate names",
			"[[rule]]\nname = \"x\"\ntrigger = \"task_implemented\"\n\n[[rule]]\nname = \"x\"\ntrigger = \"task_implemented\"\n",
			types.ErrConflict,
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRules(t, tt.content)
			if err := env.Coord.LoadRulesFile(env.Ctx, path); !types.IsCode(err, tt.code) {
				t.Errorf("LoadRulesFile = %v, want %s", err, tt.code)
			}
		})
	}

	// A rejected file leaves previously loaded rules alone.
	good := writeRules(t, fmt.Sprintf("[[rule]]\nname = \"stable\"\nproject = %q\ntrigger = \"task_implemented\"\n", p.ShortID))
	if err := env.Coord.LoadRulesFile(env.Ctx, good); err != nil {
		t.Fatalf("good load failed: %v", err)
	}
	bad := writeRules(t, `[[rule]`+"\n")
	if err := env.Coord.LoadRulesFile(env.Ctx, bad); err == nil {
		t.Fatal("bad load should fail")
	}
	rules, err := env.Coord.ListGateRules(env.Ctx, p.ID, true)
	if err != nil {
		t.Fatalf("ListGateRules failed: %v", err)
	}
	if len(rules) != 1 || rules[0].Name != "stable" {
		t.Errorf("rules after failed reload = %+v, want stable intact", rules)
	}
}
