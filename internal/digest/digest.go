// Package digest builds reviewer-facing digests of gate tasks using
// Claude. A digest compresses the held candidates, their artifacts and
// check outcomes, and the downstream blast radius into a short risk
// summary. Without an API key, Render produces the same facts locally.
package digest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tascade/tascade/internal/audit"
	"github.com/tascade/tascade/internal/types"
)

const (
	defaultModel   = "claude-3-5-haiku-20241022"
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxTokens      = 1024

	// specPreviewLimit caps each candidate's work spec in the prompt so a
	// wide gate stays within the token budget.
	specPreviewLimit = 1500
)

// ErrAPIKeyRequired is returned when an API key is needed but not provided.
var ErrAPIKeyRequired = errors.New("API key required")

// Input is everything a digest covers: the gate, the tasks it holds, and
// the decision history.
type Input struct {
	Project    types.Project
	Gate       types.Task
	Candidates []Candidate
	Decisions  []types.GateDecision
}

// Candidate is one held task with its evidence. Dependents are the tasks
// an approval would move toward ready.
type Candidate struct {
	Task       types.Task
	Artifacts  []types.Artifact
	Dependents []types.ContextEdge
}

// Spec previews the candidate's work spec, capped so prompts stay small.
func (c Candidate) Spec() string {
	s := strings.TrimSpace(string(c.Task.WorkSpec))
	if len(s) > specPreviewLimit {
		s = strings.ToValidUTF8(s[:specPreviewLimit], "") + "..."
	}
	return s
}

// Generator wraps the Anthropic API for gate digests.
type Generator struct {
	client         anthropic.Client
	model          anthropic.Model
	tmpl           *template.Template
	maxRetries     int
	initialBackoff time.Duration
	auditLog       *audit.Log
	auditActor     string
}

// NewGenerator creates a digest generator. Env var ANTHROPIC_API_KEY takes
// precedence over the explicit key; an empty model takes the default.
func NewGenerator(apiKey, model string) (*Generator, error) {
	envKey := os.Getenv("ANTHROPIC_API_KEY")
	if envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or configure digest.api_key", ErrAPIKeyRequired)
	}
	if model == "" {
		model = defaultModel
	}

	tmpl, err := template.New("digest").Parse(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse digest template: %w", err)
	}

	return &Generator{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          anthropic.Model(model),
		tmpl:           tmpl,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

// EnableAudit records every model call to the given log under actor.
func (g *Generator) EnableAudit(log *audit.Log, actor string) {
	g.auditLog = log
	g.auditActor = actor
}

// Digest asks the model for a review digest of the gate.
func (g *Generator) Digest(ctx context.Context, in Input) (string, error) {
	prompt, err := g.renderPrompt(in)
	if err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}

	resp, callErr := g.callWithRetry(ctx, prompt)
	if g.auditLog != nil {
		// Best-effort: a digest never fails because audit logging failed.
		e := &audit.Entry{
			Kind:     "llm_call",
			Actor:    g.auditActor,
			TaskID:   in.Gate.ID,
			Model:    string(g.model),
			Prompt:   prompt,
			Response: resp,
		}
		if callErr != nil {
			e.Error = callErr.Error()
		}
		_, _ = g.auditLog.Append(e)
	}
	return resp, callErr
}

func (g *Generator) renderPrompt(in Input) (string, error) {
	var b strings.Builder
	if err := g.tmpl.Execute(&b, in); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (g *Generator) callWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	params := anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := g.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := g.client.Messages.New(ctx, params)
		if err == nil {
			if len(message.Content) == 0 {
				return "", fmt.Errorf("unexpected response format: no content blocks")
			}
			content := message.Content[0]
			if content.Type != "text" {
				return "", fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
			}
			return content.Text, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			return "", fmt.Errorf("non-retryable error: %w", err)
		}
	}

	return "", fmt.Errorf("failed after %d retries: %w", g.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	return false
}

// Render formats the digest input locally, for runs without an API key.
// It carries the same facts the model would see, unsummarized.
func Render(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Gate %s: %s (project %s)\n", in.Gate.ShortID, in.Gate.Title, in.Project.Name)
	if in.Gate.Description != "" {
		fmt.Fprintf(&b, "%s\n", in.Gate.Description)
	}
	fmt.Fprintf(&b, "\nHeld work (%d):\n", len(in.Candidates))
	for _, c := range in.Candidates {
		fmt.Fprintf(&b, "  %s %q [%s, priority %d]\n", c.Task.ShortID, c.Task.Title, c.Task.State, c.Task.Priority)
		for _, a := range c.Artifacts {
			fmt.Fprintf(&b, "    artifact %s %s (checks %s)\n", a.Kind, a.Ref, a.Checks)
		}
		if len(c.Dependents) > 0 {
			b.WriteString("    unlocks")
			for _, d := range c.Dependents {
				fmt.Fprintf(&b, " %s", d.Task.ShortID)
			}
			b.WriteString("\n")
		}
	}
	if len(in.Decisions) > 0 {
		b.WriteString("\nPrior verdicts:\n")
		for _, d := range in.Decisions {
			fmt.Fprintf(&b, "  %s by %s: %s\n", d.Verdict, d.DecidedBy, d.Rationale)
		}
	}
	return b.String()
}

const promptTemplate = `You are preparing a decision digest for a human reviewer gating a batch of agent-built changes. Compress aggressively: the reviewer wants risk signal, not restated specs.

**Gate:** {{.Gate.ShortID}} {{.Gate.Title}} (project {{.Project.Name}})
{{if .Gate.Description}}{{.Gate.Description}}
{{end}}
**Held work:**
{{range .Candidates}}- {{.Task.ShortID}} "{{.Task.Title}}" [{{.Task.State}}, priority {{.Task.Priority}}]
{{if .Spec}}  spec: {{.Spec}}
{{end}}{{range .Artifacts}}  artifact: {{.Kind}} {{.Ref}} (checks {{.Checks}}){{if .Summary}}: {{.Summary}}{{end}}
{{end}}{{if .Dependents}}  unlocks:{{range .Dependents}} {{.Task.ShortID}}{{end}}
{{end}}{{end}}
{{if .Decisions}}**Prior verdicts:**
{{range .Decisions}}- {{.Verdict}} by {{.DecidedBy}}: {{.Rationale}}{{if .RiskNote}} (risk: {{.RiskNote}}){{end}}
{{end}}
{{end}}Respond in this exact format:

**Scope:** [1-2 sentences on what this batch changes]

**Checks:** [one line across all candidates; name any failures]

**Risk:** [short bullets; flag failed checks, wide unlock fan-out, thin evidence]

**Recommendation:** [approved | approved_with_risk | rejected, with one sentence of rationale]`
