package core

import (
	"context"
	"strings"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// CreateProject registers a new planning scope at plan version 1.
func (c *Coordinator) CreateProject(ctx context.Context, name, description, actor string) (*types.Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, types.NewError(types.ErrInvariantViolation, "project name is required")
	}
	p := &types.Project{
		ID:          newID(),
		Name:        name,
		Description: description,
	}
	err := c.write(ctx, func(tx storage.Transaction) error {
		if err := tx.CreateProject(ctx, p); err != nil {
			return err
		}
		return appendEvent(ctx, tx, p.ID, "project", p.ID, types.EventProjectCreated, actor, map[string]any{
			"name":     p.Name,
			"short_id": p.ShortID,
		})
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("project", p.ShortID).Str("name", name).Msg("project created")
	return p, nil
}

// GetProject resolves ref (opaque ID or P<n>).
func (c *Coordinator) GetProject(ctx context.Context, ref string) (*types.Project, error) {
	return c.store.GetProject(ctx, ref)
}

// ListProjects returns projects, optionally filtered by status.
func (c *Coordinator) ListProjects(ctx context.Context, status types.ProjectStatus) ([]*types.Project, error) {
	return c.store.ListProjects(ctx, status)
}

// ArchiveProject freezes a project. Archived projects reject every mutation
// but stay fully readable; in-flight leases are invalidated so agents fail
// fast instead of working against a dead plan.
func (c *Coordinator) ArchiveProject(ctx context.Context, ref, actor string) (*types.Project, error) {
	var out *types.Project
	err := c.write(ctx, func(tx storage.Transaction) error {
		p, err := tx.GetProject(ctx, ref)
		if err != nil {
			return err
		}
		if p.Status == types.ProjectArchived {
			return types.NewError(types.ErrConflict, "project %s is already archived", p.ShortID)
		}
		tasks, err := tx.ListTasks(ctx, types.TaskFilter{
			ProjectID: p.ID,
			States:    []types.TaskState{types.StateClaimed, types.StateInProgress},
		})
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if err := invalidateLease(ctx, tx, task, "project archived", actor); err != nil {
				return err
			}
		}
		if err := tx.ArchiveProject(ctx, p.ID); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, p.ID, "project", p.ID, types.EventProjectArchived, actor, nil); err != nil {
			return err
		}
		p.Status = types.ProjectArchived
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("project", out.ShortID).Msg("project archived")
	return out, nil
}

// CreatePhase adds an ordering phase to a project.
func (c *Coordinator) CreatePhase(ctx context.Context, projectRef, name, description string, actor string) (*types.Phase, error) {
	if strings.TrimSpace(name) == "" {
		return nil, types.NewError(types.ErrInvariantViolation, "phase name is required")
	}
	ph := &types.Phase{ID: newID(), Name: name, Description: description}
	err := c.write(ctx, func(tx storage.Transaction) error {
		p, err := mutableProject(ctx, tx, projectRef)
		if err != nil {
			return err
		}
		ph.ProjectID = p.ID
		seq, err := tx.NextPhaseSequence(ctx, p.ID)
		if err != nil {
			return err
		}
		ph.Sequence = seq
		if err := tx.CreatePhase(ctx, ph); err != nil {
			return err
		}
		return appendEvent(ctx, tx, p.ID, "phase", ph.ID, types.EventPhaseCreated, actor, map[string]any{
			"name":     ph.Name,
			"short_id": ph.ShortID,
		})
	})
	if err != nil {
		return nil, err
	}
	return ph, nil
}

// CreateMilestone adds a milestone, optionally under a phase.
func (c *Coordinator) CreateMilestone(ctx context.Context, projectRef, phaseRef, name, description string, actor string) (*types.Milestone, error) {
	if strings.TrimSpace(name) == "" {
		return nil, types.NewError(types.ErrInvariantViolation, "milestone name is required")
	}
	m := &types.Milestone{ID: newID(), Name: name, Description: description}
	err := c.write(ctx, func(tx storage.Transaction) error {
		p, err := mutableProject(ctx, tx, projectRef)
		if err != nil {
			return err
		}
		m.ProjectID = p.ID
		if phaseRef != "" {
			ph, err := tx.GetPhase(ctx, phaseRef)
			if err != nil {
				return err
			}
			if ph.ProjectID != p.ID {
				return types.NewError(types.ErrInvariantViolation, "phase %s belongs to a different project", ph.ShortID)
			}
			m.PhaseID = ph.ID
		}
		seq, err := tx.NextMilestoneSequence(ctx, p.ID)
		if err != nil {
			return err
		}
		m.Sequence = seq
		if err := tx.CreateMilestone(ctx, m); err != nil {
			return err
		}
		return appendEvent(ctx, tx, p.ID, "milestone", m.ID, types.EventMilestoneCreated, actor, map[string]any{
			"name":     m.Name,
			"short_id": m.ShortID,
		})
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMilestone resolves ref (opaque ID or P<n>.M<m>).
func (c *Coordinator) GetMilestone(ctx context.Context, ref string) (*types.Milestone, error) {
	return c.store.GetMilestone(ctx, ref)
}

// ListMilestones returns the project's milestones in sequence order.
func (c *Coordinator) ListMilestones(ctx context.Context, projectRef string) ([]*types.Milestone, error) {
	p, err := c.store.GetProject(ctx, projectRef)
	if err != nil {
		return nil, err
	}
	return c.store.ListMilestones(ctx, p.ID)
}
