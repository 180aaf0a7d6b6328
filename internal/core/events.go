package core

import (
	"context"

	"github.com/tascade/tascade/internal/types"
)

// EventQuery pages through one project's ordered log.
type EventQuery struct {
	ProjectRef string
	AfterSeq   int64
	Limit      int
	Types      []types.EventType
}

// DefaultEventLimit bounds one events page.
const DefaultEventLimit = 100

// Events returns log entries with seq > AfterSeq, oldest first.
func (c *Coordinator) Events(ctx context.Context, q EventQuery) ([]*types.Event, error) {
	p, err := c.store.GetProject(ctx, q.ProjectRef)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	return c.store.ListEvents(ctx, p.ID, q.AfterSeq, limit, q.Types)
}

// LatestSeq returns the highest committed seq for a project, 0 when the log
// is empty.
func (c *Coordinator) LatestSeq(ctx context.Context, projectRef string) (int64, error) {
	p, err := c.store.GetProject(ctx, projectRef)
	if err != nil {
		return 0, err
	}
	return c.store.LatestSeq(ctx, p.ID)
}

// EntityHistory returns the most recent events touching one entity, newest
// first, across entity types.
func (c *Coordinator) EntityHistory(ctx context.Context, entityID string, limit int) ([]*types.Event, error) {
	if limit <= 0 {
		limit = types.DefaultContextEvents
	}
	return c.store.EventsForEntity(ctx, entityID, limit)
}
