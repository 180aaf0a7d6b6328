package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// rulesFileDoc is the on-disk shape of gates.toml:
//
//	[[rule]]
//	name = "security-review"
//	trigger = "task_implemented"
//	gate_class = "review_gate"
//	reviewer_capability = "security"
//	[rule.match]
//	path_prefix = "internal/auth"
type rulesFileDoc struct {
	Rules []rulesFileEntry `toml:"rule"`
}

type rulesFileEntry struct {
	Name               string          `toml:"name"`
	Project            string          `toml:"project"`
	Trigger            string          `toml:"trigger"`
	Match              types.GateMatch `toml:"match"`
	GateClass          string          `toml:"gate_class"`
	ReviewerCapability string          `toml:"reviewer_capability"`
	Enabled            *bool           `toml:"enabled"`
}

func (e rulesFileEntry) validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return types.NewError(types.ErrInvariantViolation, "rule is missing a name")
	}
	if !types.ValidGateTrigger(types.GateTrigger(e.Trigger)) {
		return types.NewError(types.ErrInvariantViolation, "rule %q: unknown trigger %q", e.Name, e.Trigger)
	}
	if e.GateClass != "" && !types.TaskClass(e.GateClass).IsGateClass() {
		return types.NewError(types.ErrInvalidTaskClass, "rule %q: gate_class must be review_gate or merge_gate", e.Name)
	}
	return nil
}

// LoadRulesFile reads gates.toml and reconciles file-sourced rules against
// it: entries are upserted by name, and file rules absent from the current
// file are disabled rather than deleted so their gate history stays
// attributable. API-sourced rules are never touched. A missing file is not
// an error; it disables all file rules.
func (c *Coordinator) LoadRulesFile(ctx context.Context, path string) error {
	var doc rulesFileDoc
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if os.IsNotExist(err) {
			return c.write(ctx, func(tx storage.Transaction) error {
				return tx.DisableFileRulesExcept(ctx, nil)
			})
		}
		return types.NewError(types.ErrInvariantViolation, "failed to parse rules file %s: %v", path, err)
	}

	seen := make(map[string]bool, len(doc.Rules))
	for _, e := range doc.Rules {
		if err := e.validate(); err != nil {
			return err
		}
		if seen[e.Name] {
			return types.NewError(types.ErrConflict, "rule %q appears twice in %s", e.Name, path)
		}
		seen[e.Name] = true
	}

	keep := make([]string, 0, len(doc.Rules))
	err := c.write(ctx, func(tx storage.Transaction) error {
		for _, e := range doc.Rules {
			projectID := ""
			if e.Project != "" {
				p, err := tx.GetProject(ctx, e.Project)
				if err != nil {
					return err
				}
				projectID = p.ID
			}
			gateClass := types.TaskClass(e.GateClass)
			if gateClass == "" {
				gateClass = types.ClassReviewGate
			}
			rule := &types.GateRule{
				Name:               e.Name,
				ProjectID:          projectID,
				Trigger:            types.GateTrigger(e.Trigger),
				Match:              e.Match,
				GateClass:          gateClass,
				ReviewerCapability: e.ReviewerCapability,
				Enabled:            e.Enabled == nil || *e.Enabled,
				Source:             types.RuleSourceFile,
			}
			existing, err := tx.GateRuleByName(ctx, projectID, e.Name)
			if err != nil {
				return err
			}
			switch {
			case existing == nil:
				rule.ID = newID()
				if err := tx.CreateGateRule(ctx, rule); err != nil {
					return err
				}
			case existing.Source != types.RuleSourceFile:
				// The file cannot hijack an API rule of the same name.
				return types.NewError(types.ErrConflict,
					"rule %q already exists with source %s", e.Name, existing.Source)
			default:
				rule.ID = existing.ID
				rule.CreatedAt = existing.CreatedAt
				if err := tx.UpdateGateRule(ctx, rule); err != nil {
					return err
				}
			}
			keep = append(keep, e.Name)
		}
		return tx.DisableFileRulesExcept(ctx, keep)
	})
	if err != nil {
		return err
	}
	c.log.Info().Str("path", path).Int("rules", len(keep)).Msg("gate rules file loaded")
	return nil
}

// RulesWatcher hot-reloads gates.toml. Edits within the debounce window
// collapse into one reload; a reload that fails to parse logs and keeps the
// previously loaded rules.
type RulesWatcher struct {
	coord    *Coordinator
	path     string
	dir      string
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewRulesWatcher builds a watcher for the given rules file. The parent
// directory is watched too, so the file may be created or replaced (editor
// save-via-rename) after startup.
func NewRulesWatcher(coord *Coordinator, path string) (*RulesWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	rw := &RulesWatcher{
		coord:    coord,
		path:     path,
		dir:      filepath.Dir(path),
		watcher:  w,
		debounce: 500 * time.Millisecond,
	}
	if err := w.Add(rw.dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	// Best effort: the file itself may not exist yet.
	_ = w.Add(path)
	return rw, nil
}

// Run loads the file once, then blocks reloading it on changes until ctx is
// canceled. The initial load error is returned; reload errors are logged.
func (rw *RulesWatcher) Run(ctx context.Context) error {
	if err := rw.coord.LoadRulesFile(ctx, rw.path); err != nil {
		return err
	}
	defer rw.Close()
	for {
		select {
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != rw.path && filepath.Base(event.Name) != filepath.Base(rw.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				_ = rw.watcher.Add(rw.path)
			}
			rw.trigger(ctx)
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return nil
			}
			rw.coord.log.Warn().Err(err).Msg("rules watcher error")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// trigger schedules a debounced reload. Each new event resets the timer.
func (rw *RulesWatcher) trigger(ctx context.Context) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.timer != nil {
		rw.timer.Stop()
	}
	rw.timer = time.AfterFunc(rw.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		if err := rw.coord.LoadRulesFile(ctx, rw.path); err != nil {
			rw.coord.log.Error().Err(err).Str("path", rw.path).Msg("gate rules reload failed, keeping previous rules")
		}
	})
}

// Close stops the watcher and any pending reload.
func (rw *RulesWatcher) Close() error {
	rw.mu.Lock()
	if rw.timer != nil {
		rw.timer.Stop()
		rw.timer = nil
	}
	rw.mu.Unlock()
	return rw.watcher.Close()
}
