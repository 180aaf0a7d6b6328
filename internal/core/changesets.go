package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

// ChangesetInput describes a draft changeset: an ordered batch of plan ops
// authored against the project's current plan version.
type ChangesetInput struct {
	ProjectRef string
	Title      string
	Author     string
	Ops        []types.PlanOp
}

// CreateChangeset records a draft. Ops are shape-checked up front; graph
// validation happens at validate/apply time against the live plan.
func (c *Coordinator) CreateChangeset(ctx context.Context, in ChangesetInput) (*types.Changeset, error) {
	if err := requireActor(in.Author); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, types.NewError(types.ErrInvariantViolation, "changeset title is required")
	}
	if len(in.Ops) == 0 {
		return nil, types.NewError(types.ErrInvariantViolation, "changeset requires at least one op")
	}
	for i := range in.Ops {
		if err := in.Ops[i].ValidateShape(); err != nil {
			if de, ok := types.AsError(err); ok {
				return nil, de.WithDetail("op_index", i)
			}
			return nil, err
		}
	}
	cs := &types.Changeset{
		ID:     newID(),
		Status: types.ChangesetDraft,
		Author: in.Author,
		Title:  in.Title,
		Ops:    in.Ops,
	}
	err := c.write(ctx, func(tx storage.Transaction) error {
		p, err := mutableProject(ctx, tx, in.ProjectRef)
		if err != nil {
			return err
		}
		cs.ProjectID = p.ID
		cs.BasePlanVersion = p.PlanVersion
		if err := tx.CreateChangeset(ctx, cs); err != nil {
			return err
		}
		return appendEvent(ctx, tx, p.ID, "changeset", cs.ID, types.EventChangesetCreated, in.Author, map[string]any{
			"short_id":          cs.ShortID,
			"title":             cs.Title,
			"op_count":          len(cs.Ops),
			"base_plan_version": cs.BasePlanVersion,
		})
	})
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// GetChangeset resolves ref (opaque ID or P<n>.C<c>).
func (c *Coordinator) GetChangeset(ctx context.Context, ref string) (*types.Changeset, error) {
	return c.store.GetChangeset(ctx, ref)
}

// ListChangesets returns a project's changesets, optionally by status.
func (c *Coordinator) ListChangesets(ctx context.Context, projectRef string, status types.ChangesetStatus) ([]*types.Changeset, error) {
	p, err := c.store.GetProject(ctx, projectRef)
	if err != nil {
		return nil, err
	}
	return c.store.ListChangesets(ctx, p.ID, status)
}

// ValidateChangeset simulates the changeset against the live plan and
// persists the resulting report. A clean report promotes the changeset to
// validated; errors leave it draft with the report attached.
func (c *Coordinator) ValidateChangeset(ctx context.Context, ref, actor string) (*types.ValidationReport, error) {
	var report *types.ValidationReport
	err := c.write(ctx, func(tx storage.Transaction) error {
		cs, err := tx.GetChangeset(ctx, ref)
		if err != nil {
			return err
		}
		p, err := mutableProject(ctx, tx, cs.ProjectID)
		if err != nil {
			return err
		}
		if cs.Status == types.ChangesetApplied || cs.Status == types.ChangesetRejected {
			return types.NewError(types.ErrConflict, "changeset %s is %s", cs.ShortID, cs.Status)
		}
		g, err := loadPlanGraph(ctx, tx, p)
		if err != nil {
			return err
		}
		report = g.simulate(cs.Ops)
		cs.Validation = report
		if report.OK {
			cs.Status = types.ChangesetValidated
		} else {
			cs.Status = types.ChangesetDraft
		}
		if err := tx.UpdateChangeset(ctx, cs); err != nil {
			return err
		}
		return appendEvent(ctx, tx, p.ID, "changeset", cs.ID, types.EventChangesetValidated, actor, map[string]any{
			"short_id": cs.ShortID,
			"ok":       report.OK,
			"errors":   len(report.Errors),
		})
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// ApplyChangeset executes the changeset atomically: every op lands, claims
// on materially changed tasks are invalidated, the whole graph's readiness
// is recomputed, and the plan version advances by one. The changeset must
// still be based on the current plan version unless allowRebase is set.
func (c *Coordinator) ApplyChangeset(ctx context.Context, ref, actor string, allowRebase bool) (*types.Changeset, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	var out *types.Changeset
	err := c.write(ctx, func(tx storage.Transaction) error {
		cs, err := tx.GetChangeset(ctx, ref)
		if err != nil {
			return err
		}
		p, err := mutableProject(ctx, tx, cs.ProjectID)
		if err != nil {
			return err
		}
		if cs.Status == types.ChangesetApplied || cs.Status == types.ChangesetRejected {
			return types.NewError(types.ErrConflict, "changeset %s is %s", cs.ShortID, cs.Status)
		}
		rebased := cs.BasePlanVersion != p.PlanVersion
		if rebased && !allowRebase {
			return types.NewError(types.ErrPlanStale,
				"changeset %s is based on plan version %d but the project is at %d",
				cs.ShortID, cs.BasePlanVersion, p.PlanVersion).
				WithDetail("base_plan_version", cs.BasePlanVersion).
				WithDetail("current_plan_version", p.PlanVersion)
		}

		// Dry-run against the same transaction's view before any row moves,
		// so a doomed changeset fails whole with the full error list.
		g, err := loadPlanGraph(ctx, tx, p)
		if err != nil {
			return err
		}
		sim := g.simulate(cs.Ops)
		if !sim.OK {
			return types.NewError(types.ErrInvariantViolation, "changeset %s failed validation", cs.ShortID).
				WithDetail("errors", sim.Errors)
		}

		st := newApplyState()
		for i := range cs.Ops {
			if err := c.applyOp(ctx, tx, p, cs, st, &cs.Ops[i], actor); err != nil {
				if de, ok := types.AsError(err); ok {
					return de.WithDetail("op_index", i)
				}
				return fmt.Errorf("op %d: %w", i+1, err)
			}
		}

		// Invalidation: deduped across ops, after the graph settled.
		materialShorts := st.materialShortIDs()
		for _, id := range st.materialIDs() {
			task, err := tx.GetTask(ctx, id)
			if err != nil {
				return err
			}
			if err := applyMaterialChange(ctx, tx, task, p.PlanVersion, "plan changed by "+cs.ShortID, actor); err != nil {
				return err
			}
		}

		// Full readiness pass: every surviving backlog/ready task is
		// re-evaluated against the new edge set.
		candidates, err := tx.ListTasks(ctx, types.TaskFilter{
			ProjectID: p.ID,
			States:    []types.TaskState{types.StateBacklog, types.StateReady},
		})
		if err != nil {
			return err
		}
		for _, t := range candidates {
			if err := refreshTaskReadiness(ctx, tx, t, p.PlanVersion, actor); err != nil {
				return err
			}
		}

		version, err := tx.BumpPlanVersion(ctx, p.ID)
		if err != nil {
			return err
		}
		cs.Status = types.ChangesetApplied
		cs.AppliedVersion = version
		cs.Validation = sim
		if err := tx.UpdateChangeset(ctx, cs); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, p.ID, "changeset", cs.ID, types.EventChangesetApplied, actor, types.PlanAppliedPayload{
			ChangesetID:      cs.ID,
			ChangesetShortID: cs.ShortID,
			PlanVersion:      version,
			OpCount:          len(cs.Ops),
			MaterialTasks:    materialShorts,
			Rebased:          rebased,
		}); err != nil {
			return err
		}
		out = cs
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().
		Str("changeset", out.ShortID).
		Int64("plan_version", out.AppliedVersion).
		Int("ops", len(out.Ops)).
		Msg("changeset applied")
	return out, nil
}

// RejectChangeset closes a draft or validated changeset without applying it.
func (c *Coordinator) RejectChangeset(ctx context.Context, ref, actor string) (*types.Changeset, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	var out *types.Changeset
	err := c.write(ctx, func(tx storage.Transaction) error {
		cs, err := tx.GetChangeset(ctx, ref)
		if err != nil {
			return err
		}
		if cs.Status == types.ChangesetApplied {
			return types.NewError(types.ErrConflict, "changeset %s is already applied", cs.ShortID)
		}
		if cs.Status == types.ChangesetRejected {
			out = cs
			return nil
		}
		cs.Status = types.ChangesetRejected
		if err := tx.UpdateChangeset(ctx, cs); err != nil {
			return err
		}
		if err := appendEvent(ctx, tx, cs.ProjectID, "changeset", cs.ID, types.EventChangesetRejected, actor, map[string]any{
			"short_id": cs.ShortID,
		}); err != nil {
			return err
		}
		out = cs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// applyState threads alias and milestone-name resolution plus the material
// set through the ops of one apply.
type applyState struct {
	aliases  map[string]string          // alias -> task ID
	created  map[string]bool            // task IDs created by this changeset
	msNames  map[string]*types.Milestone // milestones created by this changeset, by name
	material map[string]string          // task ID -> short ID
}

func newApplyState() *applyState {
	return &applyState{
		aliases:  map[string]string{},
		created:  map[string]bool{},
		msNames:  map[string]*types.Milestone{},
		material: map[string]string{},
	}
}

func (st *applyState) markMaterial(t *types.Task) {
	if st.created[t.ID] {
		return // tasks this changeset created have no claims to invalidate
	}
	st.material[t.ID] = t.ShortID
}

func (st *applyState) materialIDs() []string {
	ids := make([]string, 0, len(st.material))
	for id := range st.material {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (st *applyState) materialShortIDs() []string {
	shorts := make([]string, 0, len(st.material))
	for _, s := range st.material {
		shorts = append(shorts, s)
	}
	sort.Strings(shorts)
	return shorts
}

func (st *applyState) resolveTask(ctx context.Context, r storage.Reader, ref string) (*types.Task, error) {
	if id, ok := st.aliases[ref]; ok {
		ref = id
	}
	return r.GetTask(ctx, ref)
}

func (st *applyState) resolveMilestone(ctx context.Context, r storage.Reader, ref string) (*types.Milestone, error) {
	if m, ok := st.msNames[ref]; ok {
		return m, nil
	}
	return r.GetMilestone(ctx, ref)
}

func (c *Coordinator) applyOp(ctx context.Context, tx storage.Transaction, p *types.Project, cs *types.Changeset, st *applyState, op *types.PlanOp, actor string) error {
	switch op.Op {
	case types.OpAddTask:
		return c.applyAddTask(ctx, tx, p, cs, st, op, actor)
	case types.OpUpdateTask:
		return c.applyUpdateTask(ctx, tx, st, op, actor)
	case types.OpRemoveTask:
		return c.applyRemoveTask(ctx, tx, st, op, actor)
	case types.OpAddDependency:
		return c.applyAddDependency(ctx, tx, p, cs, st, op, actor)
	case types.OpRemoveDependency:
		return c.applyRemoveDependency(ctx, tx, st, op, actor)
	case types.OpAddMilestone:
		return c.applyAddMilestone(ctx, tx, p, st, op, actor)
	case types.OpReorder:
		return c.applyReorder(ctx, tx, st, op, actor)
	case types.OpRetarget:
		return c.applyRetarget(ctx, tx, st, op, actor)
	}
	return types.NewError(types.ErrInvariantViolation, "unknown plan op %q", op.Op).WithSub(types.SubUnknownPlanOp)
}

func (c *Coordinator) applyAddTask(ctx context.Context, tx storage.Transaction, p *types.Project, cs *types.Changeset, st *applyState, op *types.PlanOp, actor string) error {
	m, err := st.resolveMilestone(ctx, tx, op.Milestone)
	if err != nil {
		return err
	}
	class := op.Class
	if class == "" {
		class = types.ClassImplementation
	}
	if !types.ValidTaskClass(class) {
		return types.NewError(types.ErrInvalidTaskClass, "unknown task class %q", class)
	}
	if class.IsGateClass() {
		return types.NewError(types.ErrInvalidTaskClass, "gate tasks are created by gate rules, not plan ops")
	}
	if _, err := types.ParseWorkSpec(op.WorkSpec); err != nil {
		return err
	}
	priority := types.DefaultPriority
	if op.Priority != nil {
		priority = *op.Priority
	}
	var caps types.Capabilities
	if op.Capabilities != nil {
		caps = types.NormalizeCapabilities(*op.Capabilities)
	}
	description := ""
	if op.Description != nil {
		description = *op.Description
	}
	task := &types.Task{
		ID:           newID(),
		MilestoneID:  m.ID,
		Title:        op.Title,
		Description:  description,
		Class:        class,
		Priority:     priority,
		Capabilities: caps,
		WorkSpec:     op.WorkSpec,
	}
	if err := tx.CreateTask(ctx, task); err != nil {
		return err
	}
	if op.Alias != "" {
		st.aliases[op.Alias] = task.ID
	}
	st.created[task.ID] = true
	return appendEvent(ctx, tx, p.ID, "task", task.ID, types.EventTaskCreated, actor, map[string]any{
		"short_id":  task.ShortID,
		"title":     task.Title,
		"state":     task.State,
		"milestone": m.ShortID,
		"changeset": cs.ShortID,
	})
}

func (c *Coordinator) applyUpdateTask(ctx context.Context, tx storage.Transaction, st *applyState, op *types.PlanOp, actor string) error {
	task, err := st.resolveTask(ctx, tx, op.Task)
	if err != nil {
		return err
	}
	if task.State.IsTerminal() {
		return types.NewError(types.ErrInvariantViolation, "task %s is %s", task.ShortID, task.State)
	}
	updates := map[string]any{}
	material := false
	if op.Title != "" {
		updates["title"] = op.Title
	}
	if op.Description != nil {
		updates["description"] = *op.Description
	}
	if op.Priority != nil {
		if *op.Priority < 0 {
			return types.NewError(types.ErrInvariantViolation, "priority must be >= 0")
		}
		updates["priority"] = *op.Priority
	}
	if op.Class != "" && op.Class != task.Class {
		if !types.ValidTaskClass(op.Class) {
			return types.NewError(types.ErrInvalidTaskClass, "unknown task class %q", op.Class)
		}
		if op.Class.IsGateClass() || task.Class.IsGateClass() {
			return types.NewError(types.ErrInvalidTaskClass, "gate task classes are managed by gate rules")
		}
		updates["class"] = op.Class
		material = true
	}
	if op.Capabilities != nil {
		updates["capabilities"] = types.NormalizeCapabilities(*op.Capabilities)
		material = true
	}
	if len(op.WorkSpec) > 0 {
		if _, err := types.ParseWorkSpec(op.WorkSpec); err != nil {
			return err
		}
		eq, err := types.WorkSpecMaterialEqual(task.WorkSpec, op.WorkSpec)
		if err != nil || !eq {
			material = true
		}
		updates["work_spec"] = op.WorkSpec
	}
	if len(updates) == 0 {
		return nil
	}
	if err := tx.UpdateTaskFields(ctx, task.ID, updates); err != nil {
		return err
	}
	if err := appendEvent(ctx, tx, task.ProjectID, "task", task.ID, types.EventTaskUpdated, actor, map[string]any{
		"fields":   updateKeys(updates),
		"material": material,
	}); err != nil {
		return err
	}
	if material {
		st.markMaterial(task)
	}
	return nil
}

func (c *Coordinator) applyRemoveTask(ctx context.Context, tx storage.Transaction, st *applyState, op *types.PlanOp, actor string) error {
	task, err := st.resolveTask(ctx, tx, op.Task)
	if err != nil {
		return err
	}
	if task.State == types.StateInProgress {
		return types.NewError(types.ErrInvariantViolation, "task %s is in progress", task.ShortID).
			WithSub(types.SubTaskInFlight)
	}
	if task.State == types.StateIntegrated {
		return types.NewError(types.ErrInvariantViolation, "task %s is integrated and part of the record", task.ShortID)
	}
	if err := invalidateLease(ctx, tx, task, "task removed from plan", actor); err != nil {
		return err
	}
	if err := releaseReservation(ctx, tx, task, types.ReservationReleased, "task removed from plan", actor); err != nil {
		return err
	}
	if err := appendEvent(ctx, tx, task.ProjectID, "task", task.ID, types.EventTaskRemoved, actor, map[string]any{
		"short_id": task.ShortID,
		"title":    task.Title,
		"state":    task.State,
	}); err != nil {
		return err
	}
	if err := tx.DeleteTask(ctx, task.ID); err != nil {
		return err
	}
	// Edges cascade with the row; nothing left to invalidate.
	delete(st.material, task.ID)
	return nil
}

func (c *Coordinator) applyAddDependency(ctx context.Context, tx storage.Transaction, p *types.Project, cs *types.Changeset, st *applyState, op *types.PlanOp, actor string) error {
	from, err := st.resolveTask(ctx, tx, op.From)
	if err != nil {
		return err
	}
	to, err := st.resolveTask(ctx, tx, op.To)
	if err != nil {
		return err
	}
	if from.ID == to.ID {
		return types.NewError(types.ErrDependencyCycle, "task %s cannot depend on itself", to.ShortID)
	}
	if to.State.IsTerminal() {
		return types.NewError(types.ErrInvariantViolation, "task %s is %s", to.ShortID, to.State)
	}
	unlockOn := op.UnlockOn
	if unlockOn == "" {
		unlockOn = types.UnlockOnImplemented
	}
	if existing, err := tx.GetDependency(ctx, from.ID, to.ID); err != nil {
		return err
	} else if existing != nil {
		if existing.UnlockOn == unlockOn {
			return nil
		}
		return types.NewError(types.ErrConflict,
			"edge %s -> %s already exists with unlock_on=%s", from.ShortID, to.ShortID, existing.UnlockOn)
	}
	if cycle, err := tx.WouldCycle(ctx, p.ID, from.ID, to.ID); err != nil {
		return err
	} else if cycle {
		return types.NewError(types.ErrDependencyCycle,
			"edge %s -> %s would create a cycle", from.ShortID, to.ShortID)
	}
	d := &types.Dependency{
		ID:         newID(),
		ProjectID:  p.ID,
		FromTaskID: from.ID,
		ToTaskID:   to.ID,
		UnlockOn:   unlockOn,
		CreatedBy:  "changeset:" + cs.ShortID,
	}
	if err := tx.AddDependency(ctx, d); err != nil {
		return err
	}
	if err := appendEvent(ctx, tx, p.ID, "dependency", d.ID, types.EventDependencyCreated, actor, map[string]any{
		"from":      from.ShortID,
		"to":        to.ShortID,
		"unlock_on": unlockOn,
	}); err != nil {
		return err
	}
	st.markMaterial(to)
	return nil
}

func (c *Coordinator) applyRemoveDependency(ctx context.Context, tx storage.Transaction, st *applyState, op *types.PlanOp, actor string) error {
	from, err := st.resolveTask(ctx, tx, op.From)
	if err != nil {
		return err
	}
	to, err := st.resolveTask(ctx, tx, op.To)
	if err != nil {
		return err
	}
	existing, err := tx.GetDependency(ctx, from.ID, to.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return types.NotFound("dependency", from.ShortID+" -> "+to.ShortID)
	}
	if err := tx.RemoveDependency(ctx, from.ID, to.ID); err != nil {
		return err
	}
	if err := appendEvent(ctx, tx, to.ProjectID, "dependency", existing.ID, types.EventDependencyRemoved, actor, map[string]any{
		"from": from.ShortID,
		"to":   to.ShortID,
	}); err != nil {
		return err
	}
	st.markMaterial(to)
	return nil
}

func (c *Coordinator) applyAddMilestone(ctx context.Context, tx storage.Transaction, p *types.Project, st *applyState, op *types.PlanOp, actor string) error {
	if _, exists := st.msNames[op.Name]; exists {
		return types.NewError(types.ErrConflict, "milestone %q already added by this changeset", op.Name)
	}
	m := &types.Milestone{ID: newID(), ProjectID: p.ID, Name: op.Name}
	if op.Sequence != nil {
		m.Sequence = *op.Sequence
	} else {
		seq, err := tx.NextMilestoneSequence(ctx, p.ID)
		if err != nil {
			return err
		}
		m.Sequence = seq
	}
	if err := tx.CreateMilestone(ctx, m); err != nil {
		return err
	}
	st.msNames[op.Name] = m
	return appendEvent(ctx, tx, p.ID, "milestone", m.ID, types.EventMilestoneCreated, actor, map[string]any{
		"name":     m.Name,
		"short_id": m.ShortID,
		"sequence": m.Sequence,
	})
}

func (c *Coordinator) applyReorder(ctx context.Context, tx storage.Transaction, st *applyState, op *types.PlanOp, actor string) error {
	if op.Task != "" {
		task, err := st.resolveTask(ctx, tx, op.Task)
		if err != nil {
			return err
		}
		if *op.Priority < 0 {
			return types.NewError(types.ErrInvariantViolation, "priority must be >= 0")
		}
		if task.Priority == *op.Priority {
			return nil
		}
		if err := tx.UpdateTaskFields(ctx, task.ID, map[string]any{"priority": *op.Priority}); err != nil {
			return err
		}
		return appendEvent(ctx, tx, task.ProjectID, "task", task.ID, types.EventTaskUpdated, actor, map[string]any{
			"fields": []string{"priority"},
		})
	}
	m, err := st.resolveMilestone(ctx, tx, op.Milestone)
	if err != nil {
		return err
	}
	if *op.Sequence < 0 {
		return types.NewError(types.ErrInvariantViolation, "sequence must be >= 0")
	}
	return tx.SetMilestoneSequence(ctx, m.ID, *op.Sequence)
}

func (c *Coordinator) applyRetarget(ctx context.Context, tx storage.Transaction, st *applyState, op *types.PlanOp, actor string) error {
	task, err := st.resolveTask(ctx, tx, op.Task)
	if err != nil {
		return err
	}
	if task.State.IsTerminal() {
		return types.NewError(types.ErrInvariantViolation, "task %s is %s", task.ShortID, task.State)
	}
	m, err := st.resolveMilestone(ctx, tx, op.Milestone)
	if err != nil {
		return err
	}
	if m.ID == task.MilestoneID {
		return nil
	}
	oldShort := task.ShortID
	newShort, err := tx.SetTaskMilestone(ctx, task.ID, m.ID)
	if err != nil {
		return err
	}
	task.ShortID = newShort
	task.MilestoneID = m.ID
	if err := appendEvent(ctx, tx, task.ProjectID, "task", task.ID, types.EventTaskUpdated, actor, map[string]any{
		"fields":            []string{"milestone"},
		"short_id":          newShort,
		"previous_short_id": oldShort,
		"milestone":         m.ShortID,
	}); err != nil {
		return err
	}
	st.markMaterial(task)
	return nil
}

// planGraph is an in-memory copy of one project's plan used to simulate a
// changeset without touching rows. The apply path runs the same checks
// against the live transaction; simulation exists so validation can report
// every problem at once and preview the blast radius.
type planGraph struct {
	tasks      []*planTask
	byKey      map[string]*planTask
	byRef      map[string]string // ID and short ID -> key
	aliases    map[string]string // alias -> key
	milestones map[string]bool   // resolvable milestone refs
	edges      []*planEdge
}

type planTask struct {
	key        string
	label      string // short ID, or alias/title for tasks the changeset adds
	state      types.TaskState
	class      types.TaskClass
	workSpec   []byte
	isNew      bool
	removed    bool
	material   bool
	wasClaimed bool
}

type planEdge struct {
	from, to string
	unlock   types.UnlockOn
	removed  bool
}

func loadPlanGraph(ctx context.Context, r storage.Reader, p *types.Project) (*planGraph, error) {
	g := &planGraph{
		byKey:      map[string]*planTask{},
		byRef:      map[string]string{},
		aliases:    map[string]string{},
		milestones: map[string]bool{},
	}
	tasks, err := r.ListTasks(ctx, types.TaskFilter{ProjectID: p.ID})
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		pt := &planTask{
			key:        t.ID,
			label:      t.ShortID,
			state:      t.State,
			class:      t.Class,
			workSpec:   t.WorkSpec,
			wasClaimed: t.State == types.StateClaimed,
		}
		g.tasks = append(g.tasks, pt)
		g.byKey[t.ID] = pt
		g.byRef[t.ID] = t.ID
		g.byRef[t.ShortID] = t.ID
	}
	milestones, err := r.ListMilestones(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range milestones {
		g.milestones[m.ID] = true
		g.milestones[m.ShortID] = true
	}
	deps, err := r.ProjectDependencies(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	for _, d := range deps {
		g.edges = append(g.edges, &planEdge{from: d.FromTaskID, to: d.ToTaskID, unlock: d.UnlockOn})
	}
	return g, nil
}

func (g *planGraph) resolve(ref string) *planTask {
	if key, ok := g.aliases[ref]; ok {
		return g.byKey[key]
	}
	if key, ok := g.byRef[ref]; ok {
		return g.byKey[key]
	}
	if key, ok := g.byRef[strings.ToUpper(ref)]; ok {
		return g.byKey[key]
	}
	return nil
}

func (g *planGraph) hasMilestone(ref string) bool {
	return g.milestones[ref] || g.milestones[strings.ToUpper(ref)]
}

// simulate runs the ops against the in-memory graph, collecting one error
// per failing op, and previews the impact of the survivors.
func (g *planGraph) simulate(ops []types.PlanOp) *types.ValidationReport {
	report := &types.ValidationReport{OK: true}
	for i := range ops {
		op := &ops[i]
		if msg := g.simOp(i, op); msg != "" {
			report.OK = false
			report.Errors = append(report.Errors, fmt.Sprintf("op %d: %s", i+1, msg))
		}
	}
	g.fillImpact(&report.Impact)
	return report
}

// simOp applies one op to the graph, returning an error message or "".
func (g *planGraph) simOp(i int, op *types.PlanOp) string {
	if err := op.ValidateShape(); err != nil {
		if de, ok := types.AsError(err); ok {
			return de.Message
		}
		return err.Error()
	}
	switch op.Op {
	case types.OpAddTask:
		return g.simAddTask(i, op)
	case types.OpUpdateTask:
		return g.simUpdateTask(op)
	case types.OpRemoveTask:
		return g.simRemoveTask(op)
	case types.OpAddDependency:
		return g.simAddDependency(op)
	case types.OpRemoveDependency:
		return g.simRemoveDependency(op)
	case types.OpAddMilestone:
		if g.hasMilestone(op.Name) {
			return fmt.Sprintf("milestone %q already exists", op.Name)
		}
		g.milestones[op.Name] = true
		return ""
	case types.OpReorder:
		return g.simReorder(op)
	case types.OpRetarget:
		return g.simRetarget(op)
	}
	return fmt.Sprintf("unknown plan op %q", op.Op)
}

func (g *planGraph) simAddTask(i int, op *types.PlanOp) string {
	if op.Alias != "" {
		if _, taken := g.aliases[op.Alias]; taken {
			return fmt.Sprintf("alias %q already used", op.Alias)
		}
	}
	if !g.hasMilestone(op.Milestone) {
		return fmt.Sprintf("milestone %s not found", op.Milestone)
	}
	class := op.Class
	if class == "" {
		class = types.ClassImplementation
	}
	if !types.ValidTaskClass(class) {
		return fmt.Sprintf("unknown task class %q", class)
	}
	if class.IsGateClass() {
		return "gate tasks are created by gate rules, not plan ops"
	}
	if op.Priority != nil && *op.Priority < 0 {
		return "priority must be >= 0"
	}
	if _, err := types.ParseWorkSpec(op.WorkSpec); err != nil {
		if de, ok := types.AsError(err); ok {
			return de.Message
		}
		return err.Error()
	}
	label := op.Alias
	if label == "" {
		label = op.Title
	}
	pt := &planTask{
		key:      fmt.Sprintf("new#%d", i),
		label:    label,
		state:    types.StateBacklog,
		class:    class,
		workSpec: op.WorkSpec,
		isNew:    true,
	}
	g.tasks = append(g.tasks, pt)
	g.byKey[pt.key] = pt
	if op.Alias != "" {
		g.aliases[op.Alias] = pt.key
	}
	return ""
}

func (g *planGraph) simUpdateTask(op *types.PlanOp) string {
	pt := g.resolve(op.Task)
	if pt == nil {
		return fmt.Sprintf("task %s not found", op.Task)
	}
	if pt.removed {
		return fmt.Sprintf("task %s was removed by an earlier op", pt.label)
	}
	if pt.state.IsTerminal() {
		return fmt.Sprintf("task %s is %s", pt.label, pt.state)
	}
	if op.Priority != nil && *op.Priority < 0 {
		return "priority must be >= 0"
	}
	material := false
	if op.Class != "" && op.Class != pt.class {
		if !types.ValidTaskClass(op.Class) {
			return fmt.Sprintf("unknown task class %q", op.Class)
		}
		if op.Class.IsGateClass() || pt.class.IsGateClass() {
			return "gate task classes are managed by gate rules"
		}
		pt.class = op.Class
		material = true
	}
	if op.Capabilities != nil {
		material = true
	}
	if len(op.WorkSpec) > 0 {
		if _, err := types.ParseWorkSpec(op.WorkSpec); err != nil {
			if de, ok := types.AsError(err); ok {
				return de.Message
			}
			return err.Error()
		}
		eq, err := types.WorkSpecMaterialEqual(pt.workSpec, op.WorkSpec)
		if err != nil || !eq {
			material = true
		}
		pt.workSpec = op.WorkSpec
	}
	if material && !pt.isNew {
		pt.material = true
	}
	return ""
}

func (g *planGraph) simRemoveTask(op *types.PlanOp) string {
	pt := g.resolve(op.Task)
	if pt == nil {
		return fmt.Sprintf("task %s not found", op.Task)
	}
	if pt.removed {
		return fmt.Sprintf("task %s was removed by an earlier op", pt.label)
	}
	if pt.state == types.StateInProgress {
		return fmt.Sprintf("task %s is in progress", pt.label)
	}
	if pt.state == types.StateIntegrated {
		return fmt.Sprintf("task %s is integrated and part of the record", pt.label)
	}
	pt.removed = true
	return ""
}

func (g *planGraph) simAddDependency(op *types.PlanOp) string {
	from := g.resolve(op.From)
	if from == nil {
		return fmt.Sprintf("task %s not found", op.From)
	}
	to := g.resolve(op.To)
	if to == nil {
		return fmt.Sprintf("task %s not found", op.To)
	}
	if from == to {
		return fmt.Sprintf("task %s cannot depend on itself", to.label)
	}
	if from.removed || to.removed {
		return "dependency endpoint was removed by an earlier op"
	}
	if to.state.IsTerminal() {
		return fmt.Sprintf("task %s is %s", to.label, to.state)
	}
	unlockOn := op.UnlockOn
	if unlockOn == "" {
		unlockOn = types.UnlockOnImplemented
	}
	for _, e := range g.edges {
		if e.removed || e.from != from.key || e.to != to.key {
			continue
		}
		if e.unlock == unlockOn {
			return "" // identical edge: no-op
		}
		return fmt.Sprintf("edge %s -> %s already exists with unlock_on=%s", from.label, to.label, e.unlock)
	}
	if g.wouldCycle(from.key, to.key) {
		return fmt.Sprintf("edge %s -> %s would create a cycle", from.label, to.label)
	}
	g.edges = append(g.edges, &planEdge{from: from.key, to: to.key, unlock: unlockOn})
	if !to.isNew {
		to.material = true
	}
	return ""
}

func (g *planGraph) simRemoveDependency(op *types.PlanOp) string {
	from := g.resolve(op.From)
	if from == nil {
		return fmt.Sprintf("task %s not found", op.From)
	}
	to := g.resolve(op.To)
	if to == nil {
		return fmt.Sprintf("task %s not found", op.To)
	}
	for _, e := range g.edges {
		if e.removed || e.from != from.key || e.to != to.key {
			continue
		}
		e.removed = true
		if !to.isNew {
			to.material = true
		}
		return ""
	}
	return fmt.Sprintf("dependency %s -> %s not found", from.label, to.label)
}

func (g *planGraph) simReorder(op *types.PlanOp) string {
	if op.Task != "" {
		pt := g.resolve(op.Task)
		if pt == nil {
			return fmt.Sprintf("task %s not found", op.Task)
		}
		if pt.removed {
			return fmt.Sprintf("task %s was removed by an earlier op", pt.label)
		}
		if *op.Priority < 0 {
			return "priority must be >= 0"
		}
		return ""
	}
	if !g.hasMilestone(op.Milestone) {
		return fmt.Sprintf("milestone %s not found", op.Milestone)
	}
	if *op.Sequence < 0 {
		return "sequence must be >= 0"
	}
	return ""
}

func (g *planGraph) simRetarget(op *types.PlanOp) string {
	pt := g.resolve(op.Task)
	if pt == nil {
		return fmt.Sprintf("task %s not found", op.Task)
	}
	if pt.removed {
		return fmt.Sprintf("task %s was removed by an earlier op", pt.label)
	}
	if pt.state.IsTerminal() {
		return fmt.Sprintf("task %s is %s", pt.label, pt.state)
	}
	if !g.hasMilestone(op.Milestone) {
		return fmt.Sprintf("milestone %s not found", op.Milestone)
	}
	if !pt.isNew {
		pt.material = true
	}
	return ""
}

// wouldCycle reports whether adding from -> to closes a cycle: true when
// from is reachable from to over the surviving edge set.
func (g *planGraph) wouldCycle(fromKey, toKey string) bool {
	seen := map[string]bool{}
	var walk func(key string) bool
	walk = func(key string) bool {
		if key == fromKey {
			return true
		}
		if seen[key] {
			return false
		}
		seen[key] = true
		for _, e := range g.edges {
			if e.removed || e.from != key {
				continue
			}
			if t := g.byKey[e.to]; t == nil || t.removed {
				continue
			}
			if walk(e.to) {
				return true
			}
		}
		return false
	}
	return walk(toKey)
}

// satisfiedAfter reports whether every surviving edge into pt meets its
// threshold. Edges from removed prerequisites vanish with them.
func (g *planGraph) satisfiedAfter(pt *planTask) bool {
	for _, e := range g.edges {
		if e.removed || e.to != pt.key {
			continue
		}
		prereq := g.byKey[e.from]
		if prereq == nil || prereq.removed {
			continue
		}
		if !e.unlock.Satisfied(prereq.state) {
			return false
		}
	}
	return true
}

func (g *planGraph) fillImpact(imp *types.Impact) {
	for _, pt := range g.tasks {
		switch {
		case pt.removed && pt.isNew:
			// added and removed by the same changeset: net nothing
		case pt.removed:
			imp.RemovedTasks = append(imp.RemovedTasks, pt.label)
		case pt.isNew:
			imp.NewTasks = append(imp.NewTasks, pt.label)
			if g.satisfiedAfter(pt) {
				imp.NewlyReady = append(imp.NewlyReady, pt.label)
			}
		default:
			satisfied := g.satisfiedAfter(pt)
			switch pt.state {
			case types.StateBacklog:
				if satisfied {
					imp.NewlyReady = append(imp.NewlyReady, pt.label)
				}
			case types.StateReady:
				if !satisfied {
					imp.NewlyBlocked = append(imp.NewlyBlocked, pt.label)
				}
			case types.StateReserved, types.StateClaimed:
				if pt.material && !satisfied {
					imp.NewlyBlocked = append(imp.NewlyBlocked, pt.label)
				}
			}
			if pt.material {
				imp.MateriallyChanged = append(imp.MateriallyChanged, pt.label)
				if pt.wasClaimed {
					imp.InvalidatedClaims = append(imp.InvalidatedClaims, pt.label)
				}
			}
		}
	}
	sort.Strings(imp.NewTasks)
	sort.Strings(imp.RemovedTasks)
	sort.Strings(imp.NewlyReady)
	sort.Strings(imp.NewlyBlocked)
	sort.Strings(imp.InvalidatedClaims)
	sort.Strings(imp.MateriallyChanged)
}
