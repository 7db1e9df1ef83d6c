package workflow

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/blackboard"
)

// branchResult is the outcome of one parallel branch, tagged with its
// position in the workflow's agent list.
type branchResult struct {
	index  int
	record StepRecord
	output blackboard.Value
	err    error
}

type branchFunc func(ctx context.Context, spec AgentSpec) (StepRecord, blackboard.Value, error)

// scheduler runs parallel branches on a bounded goroutine pool shared by
// every execution of an engine.
type scheduler struct {
	pool   chan struct{}
	logger *zap.Logger
}

func newScheduler(poolSize int, logger *zap.Logger) *scheduler {
	if poolSize <= 0 {
		poolSize = 10
	}
	return &scheduler{
		pool:   make(chan struct{}, poolSize),
		logger: logger,
	}
}

// dispatch starts every branch without waiting on the others. The returned
// channel is buffered for all results and closed once every branch returns,
// so abandoned branches never block.
func (s *scheduler) dispatch(ctx context.Context, branches []AgentSpec, run branchFunc) <-chan branchResult {
	results := make(chan branchResult, len(branches))
	var wg sync.WaitGroup

	for i, spec := range branches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case s.pool <- struct{}{}: // acquire slot
			case <-ctx.Done():
				results <- branchResult{index: i, record: StepRecord{AgentID: spec.AgentID, Status: StepFailed, Error: ctx.Err().Error()}, err: ctx.Err()}
				return
			}
			defer func() { <-s.pool }() // release slot

			rec, out, err := run(ctx, spec)
			results <- branchResult{index: i, record: rec, output: out, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}
