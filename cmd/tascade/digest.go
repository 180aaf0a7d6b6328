package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tascade/tascade/internal/audit"
	"github.com/tascade/tascade/internal/config"
	"github.com/tascade/tascade/internal/digest"
	"github.com/tascade/tascade/internal/ui"
)

var digestCmd = &cobra.Command{
	Use:   "digest <gate-task>",
	Short: "Summarize a gate's held work for its reviewer",
	Long: `Collect a gate's candidates, their artifacts and check outcomes, and the
downstream unlock fan-out, then summarize them with Claude into a short risk
digest. Without an API key (digest.api_key or ANTHROPIC_API_KEY) the same
facts are printed unsummarized.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		c := api()

		gate, err := c.GetTask(ctx, args[0])
		if err != nil {
			fail(err)
		}
		if !gate.Class.IsGateClass() {
			fail(fmt.Errorf("%s is a %s task, not a gate", gate.ShortID, gate.Class))
		}
		project, err := c.GetProject(ctx, gate.ProjectID)
		if err != nil {
			fail(err)
		}
		statuses, err := c.GateStatus(ctx, args[0])
		if err != nil {
			fail(err)
		}
		if len(statuses) == 0 {
			fail(fmt.Errorf("no gate status for %s", gate.ShortID))
		}
		st := statuses[0]

		in := digest.Input{Project: *project, Gate: *gate, Decisions: st.Decisions}
		for _, link := range st.Candidates {
			task, err := c.GetTask(ctx, link.CandidateTaskID)
			if err != nil {
				fail(err)
			}
			arts, err := c.ListArtifacts(ctx, link.CandidateTaskID)
			if err != nil {
				fail(err)
			}
			deps, err := c.Dependencies(ctx, link.CandidateTaskID)
			if err != nil {
				fail(err)
			}
			cand := digest.Candidate{Task: *task, Dependents: deps.RequiredBy}
			for _, a := range arts {
				cand.Artifacts = append(cand.Artifacts, *a)
			}
			in.Candidates = append(in.Candidates, cand)
		}

		text, generated, err := generateDigest(cmd, in)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(map[string]any{"gate": gate.ShortID, "generated": generated, "digest": text})
			return
		}
		if generated {
			fmt.Println(ui.RenderMarkdown(text))
			return
		}
		fmt.Println(text)
	},
}

// generateDigest runs the model when a key is configured, falling back to
// the local rendering when it is not. --local skips the model outright.
func generateDigest(cmd *cobra.Command, in digest.Input) (string, bool, error) {
	if local, _ := cmd.Flags().GetBool("local"); local {
		return digest.Render(in), false, nil
	}
	gen, err := digest.NewGenerator(config.GetString("digest.api_key"), config.GetString("digest.model"))
	if errors.Is(err, digest.ErrAPIKeyRequired) {
		return digest.Render(in), false, nil
	}
	if err != nil {
		return "", false, err
	}
	if auditPath := config.GetString("digest.audit_log"); auditPath != "" {
		log, err := audit.Open(auditPath)
		if err != nil {
			return "", false, err
		}
		gen.EnableAudit(log, config.Actor(actorFlag))
	}
	text, err := gen.Digest(cmd.Context(), in)
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

func init() {
	digestCmd.Flags().Bool("local", false, "Skip the model, print the collected facts")
	rootCmd.AddCommand(digestCmd)
}
