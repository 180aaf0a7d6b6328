package core

import (
	"context"
	"sort"

	"github.com/tascade/tascade/internal/types"
)

// MilestoneStatus is one row of the status board.
type MilestoneStatus struct {
	Milestone types.Milestone         `json:"milestone"`
	Counts    map[types.TaskState]int `json:"counts"`
	Total     int                     `json:"total"`
	Done      bool                    `json:"done"`
}

// StatusBoard is the operator overview of one project: per-milestone state
// counts, the head of the ready set, and the log position.
type StatusBoard struct {
	Project    types.Project           `json:"project"`
	Counts     map[types.TaskState]int `json:"counts"`
	Milestones []MilestoneStatus       `json:"milestones"`
	Ready      []*types.ReadyTask      `json:"ready,omitempty"`
	LatestSeq  int64                   `json:"latest_seq"`
}

// boardReadyPreview bounds the ready-set excerpt on the board.
const boardReadyPreview = 10

// StatusBoardFor assembles the board for one project.
func (c *Coordinator) StatusBoardFor(ctx context.Context, projectRef string) (*StatusBoard, error) {
	p, err := c.store.GetProject(ctx, projectRef)
	if err != nil {
		return nil, err
	}
	counts, err := c.store.StateCounts(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	board := &StatusBoard{Project: *p, Counts: counts}

	milestones, err := c.store.ListMilestones(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	perMilestone, err := c.store.MilestoneStateCounts(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range milestones {
		mc := perMilestone[m.ID]
		if mc == nil {
			mc = map[types.TaskState]int{}
		}
		total, open := 0, 0
		for state, n := range mc {
			total += n
			switch state {
			case types.StateImplemented, types.StateIntegrated, types.StateCancelled:
			default:
				open += n
			}
		}
		board.Milestones = append(board.Milestones, MilestoneStatus{
			Milestone: *m,
			Counts:    mc,
			Total:     total,
			Done:      total > 0 && open == 0,
		})
	}
	sort.Slice(board.Milestones, func(i, j int) bool {
		a, b := board.Milestones[i].Milestone, board.Milestones[j].Milestone
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		return a.ShortID < b.ShortID
	})

	ready, err := c.ListReady(ctx, p.ID, ReadyQuery{Limit: boardReadyPreview})
	if err != nil {
		return nil, err
	}
	board.Ready = ready

	seq, err := c.store.LatestSeq(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	board.LatestSeq = seq
	return board, nil
}
