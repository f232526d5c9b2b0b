package compare

import (
	"context"

	"golang.org/x/sync/errgroup"

	"evogate/internal/logging"
	"evogate/internal/sandbox"
)

// Candidate is one independent comparison request.
type Candidate struct {
	Key        string
	OldCode    string
	NewCode    string
	Cases      []sandbox.TestCase
	Iterations int
}

// Pool runs independent comparisons in parallel. Measurements inside one
// comparison stay sequential.
type Pool struct {
	engine  *Engine
	workers int
}

// NewPool creates a pool running at most workers comparisons at once.
func NewPool(e *Engine, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{engine: e, workers: workers}
}

// Run compares every candidate. Results are in input order and carry the
// candidate key. It stops scheduling new work when ctx is cancelled.
func (p *Pool) Run(ctx context.Context, candidates []Candidate) ([]Evaluation, error) {
	results := make([]Evaluation, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, c := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ev := p.engine.Compare(gctx, c.OldCode, c.NewCode, c.Cases, c.Iterations)
			ev.Key = c.Key
			results[i] = ev
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	logging.CompareDebug("pool finished %d comparisons with %d workers", len(candidates), p.workers)
	return results, nil
}
