package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/carecost/carecost/pkg/plan"
)

// Candidate is one benefit with the member accumulators bound to it by the
// matcher.
type Candidate struct {
	Benefit      plan.Benefit
	Accumulators []plan.Accumulator
}

// Engine runs calculation records through the node graph. The zero value is
// not usable; construct with New.
type Engine struct {
	workers int
	logger  *slog.Logger
}

// New creates an engine. workers bounds the parallelism of
// HighestMemberPay; values below 1 run candidates sequentially.
func New(workers int, logger *slog.Logger) *Engine {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{workers: workers, logger: logger}
}

// run walks a record through the graph from the coverage node. The visited
// set enforces acyclicity: re-entering a node is a configuration error, not
// a member charge.
func run(r *Record) error {
	visited := make(map[nodeID]bool, 8)
	id := nodeCoverage
	for id != nodeDone {
		if visited[id] {
			return fmt.Errorf("node %s entered twice", id)
		}
		visited[id] = true
		next, err := step(id, r)
		if err != nil {
			return err
		}
		id = next
	}
	return nil
}

// Evaluate builds the record for one candidate at the given negotiated rate
// and runs it through the graph. Configuration errors surface before any
// observable settlement reaches the caller.
func (e *Engine) Evaluate(rate decimal.Decimal, c Candidate) (*Record, error) {
	r := NewRecord(rate, c.Benefit, c.Accumulators)
	if err := run(r); err != nil {
		return nil, fmt.Errorf("evaluating benefit %q: %w", c.Benefit.Name, err)
	}
	return r, nil
}

// HighestMemberPay evaluates every candidate independently and returns the
// record with the maximum member pay, along with the index of the winning
// candidate. Ties break to the lowest index. A failure on one candidate
// excludes it from the maximum without affecting the others; when every
// candidate fails, the first error is returned.
func (e *Engine) HighestMemberPay(ctx context.Context, rate decimal.Decimal, candidates []Candidate) (*Record, int, error) {
	if len(candidates) == 0 {
		return nil, -1, fmt.Errorf("no candidates")
	}

	records := make([]*Record, len(candidates))
	errs := make([]error, len(candidates))

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	for i := range candidates {
		if ctx.Err() != nil {
			return nil, -1, ctx.Err()
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			records[i], errs[i] = e.Evaluate(rate, candidates[i])
		}(i)
	}
	wg.Wait()

	best := -1
	for i, r := range records {
		if errs[i] != nil {
			e.logger.Warn("engine: candidate excluded from worst-case selection",
				"index", i, "benefit", candidates[i].Benefit.Name, "error", errs[i])
			continue
		}
		if best == -1 || r.MemberPays.GreaterThan(records[best].MemberPays) {
			best = i
		}
	}
	if best == -1 {
		return nil, -1, fmt.Errorf("all candidates failed: %w", firstErr(errs))
	}
	return records[best], best, nil
}

func firstErr(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
