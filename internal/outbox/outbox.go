// Package outbox tails the per-project event log through durable cursors
// and fans events out to local consumers: the JSONL shipper, the metrics
// projection, and the replay verifier. Delivery is at-least-once; every
// consumer tolerates seeing an event twice.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/types"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 200
)

// Consumer processes ordered event batches. Each Consume call carries
// events of a single project, in ascending sequence order; the batch is
// acked only after Consume returns nil, so an error replays it.
type Consumer interface {
	Name() string
	Consume(ctx context.Context, events []*types.Event) error
}

// Bootstrapper consumers rebuild in-memory state from the full log before
// tailing starts. The runner invokes it once, ahead of the first sweep.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, store storage.Reader) error
}

// Options tunes the runner.
type Options struct {
	PollInterval time.Duration
	BatchSize    int
}

// Runner drives consumers over the outbox cursors of every project.
type Runner struct {
	store     storage.Storage
	log       zerolog.Logger
	opts      Options
	consumers []Consumer
}

func NewRunner(store storage.Storage, log zerolog.Logger, opts Options, consumers ...Consumer) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Runner{
		store:     store,
		log:       log.With().Str("component", "outbox").Logger(),
		opts:      opts,
		consumers: consumers,
	}
}

// Run bootstraps the consumers, then polls until the context ends. Sweep
// errors are logged and retried on the next tick rather than stopping the
// loop; the cursor left behind by a failed consumer makes the retry safe.
func (r *Runner) Run(ctx context.Context) error {
	for _, c := range r.consumers {
		b, ok := c.(Bootstrapper)
		if !ok {
			continue
		}
		if err := b.Bootstrap(ctx, r.store); err != nil {
			return fmt.Errorf("failed to bootstrap %s consumer: %w", c.Name(), err)
		}
	}
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		if n, err := r.RunOnce(ctx); err != nil {
			r.log.Warn().Err(err).Msg("outbox sweep failed")
		} else if n > 0 {
			r.log.Debug().Int("events", n).Msg("outbox delivered")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs one full sweep: every consumer drains every project to
// the head of its log. It returns the number of events delivered, summed
// across consumers.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	projects, err := r.store.ListProjects(ctx, "")
	if err != nil {
		return 0, err
	}
	delivered := 0
	var firstErr error
	for _, p := range projects {
		for _, c := range r.consumers {
			n, err := r.drain(ctx, c, p.ID)
			delivered += n
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("consumer %s on %s: %w", c.Name(), p.ShortID, err)
			}
		}
	}
	return delivered, firstErr
}

// drain pages one consumer from its acked cursor to the log head, acking
// after each processed batch.
func (r *Runner) drain(ctx context.Context, c Consumer, projectID string) (int, error) {
	total := 0
	for {
		acked, err := r.store.GetCursor(ctx, c.Name(), projectID)
		if err != nil {
			return total, err
		}
		events, err := r.store.ListEvents(ctx, projectID, acked, r.opts.BatchSize, nil)
		if err != nil {
			return total, err
		}
		if len(events) == 0 {
			return total, nil
		}
		if err := c.Consume(ctx, events); err != nil {
			return total, err
		}
		last := events[len(events)-1].Seq
		err = r.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
			return tx.AckCursor(ctx, c.Name(), projectID, last)
		})
		if err != nil {
			return total, err
		}
		total += len(events)
		if len(events) < r.opts.BatchSize {
			return total, nil
		}
	}
}
