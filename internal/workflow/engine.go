package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/agent"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/blackboard"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/bus"
)

// Options tunes an Engine.
type Options struct {
	ParallelTimeout     time.Duration
	PoolSize            int
	BranchFailure       string
	MaxConditionalSteps int
}

func (o Options) withDefaults() Options {
	if o.ParallelTimeout <= 0 {
		o.ParallelTimeout = 5 * time.Minute
	}
	if o.BranchFailure == "" {
		o.BranchFailure = BranchFailureNull
	}
	if o.MaxConditionalSteps <= 0 {
		o.MaxConditionalSteps = 50
	}
	return o
}

// run is the live state of one execution.
type run struct {
	mu   sync.Mutex
	exec *Execution
	def  *Definition
	bus  *bus.MessageBus
	done chan struct{}
	// stop is closed once the execution is cancelled.
	stop chan struct{}
}

func (r *run) snapshot() *Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec.clone()
}

func (r *run) cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec.Status == StatusCancelled
}

func (r *run) record(rec StepRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exec.Steps = append(r.exec.Steps, rec)
}

// Engine drives workflow executions. Each execution owns one MessageBus and
// one blackboard context keyed by the execution id; both are torn down when
// the execution reaches a terminal state.
type Engine struct {
	agents   *agent.Registry
	contexts *blackboard.Manager
	messages bus.Store
	store    Store
	sched    *scheduler
	runs     *haxmap.Map[string, *run]
	opts     Options
	logger   *zap.Logger
}

// NewEngine wires an engine. Nil stores fall back to in-memory ones.
func NewEngine(agents *agent.Registry, contexts *blackboard.Manager, messages bus.Store, store Store, opts Options, logger *zap.Logger) *Engine {
	if messages == nil {
		messages = bus.NewMemoryStore()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	opts = opts.withDefaults()
	return &Engine{
		agents:   agents,
		contexts: contexts,
		messages: messages,
		store:    store,
		sched:    newScheduler(opts.PoolSize, logger),
		runs:     haxmap.New[string, *run](),
		opts:     opts,
		logger:   logger,
	}
}

// CreateWorkflow validates and stores a definition.
func (e *Engine) CreateWorkflow(ctx context.Context, d *Definition) (*Definition, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	def := *d
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	def.CreatedAt, def.UpdatedAt = now, now
	if err := e.store.CreateWorkflow(ctx, &def); err != nil {
		return nil, fmt.Errorf("create workflow %s: %w", def.Name, err)
	}
	e.logger.Info("workflow created",
		zap.String("id", def.ID),
		zap.String("name", def.Name),
		zap.String("type", string(def.Type)))
	return &def, nil
}

// GetWorkflow loads a stored definition.
func (e *Engine) GetWorkflow(ctx context.Context, id string) (*Definition, error) {
	d, err := e.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	if d == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return d, nil
}

// ListWorkflows returns every stored definition.
func (e *Engine) ListWorkflows(ctx context.Context) ([]*Definition, error) {
	return e.store.ListWorkflows(ctx)
}

// Start launches an execution of a stored, active workflow and returns it
// in the running state without waiting for it to finish.
func (e *Engine) Start(ctx context.Context, workflowID string, input blackboard.Value) (*Execution, error) {
	def, err := e.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !def.IsActive {
		return nil, fmt.Errorf("%w: workflow %s is inactive", ErrInvalidDefinition, workflowID)
	}
	return e.StartDefinition(ctx, def, input)
}

// StartDefinition launches an execution of def. The execution outlives ctx
// cancellation; use Cancel to stop it.
func (e *Engine) StartDefinition(ctx context.Context, def *Definition, input blackboard.Value) (*Execution, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	for _, spec := range def.Agents {
		if _, ok := e.agents.Get(spec.AgentID); !ok {
			return nil, fmt.Errorf("start %s: %w: %s", def.Name, agent.ErrAgentNotFound, spec.AgentID)
		}
	}

	exec := &Execution{
		ID:         uuid.New().String(),
		WorkflowID: def.ID,
		Status:     StatusPending,
		Input:      input,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	if _, err := e.contexts.Create(exec.ID, seed(input)); err != nil {
		e.abort(ctx, exec, err)
		return nil, err
	}
	r := &run{
		exec: exec,
		def:  def,
		bus:  bus.New(exec.ID, e.messages, e.logger),
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	if err := exec.transition(StatusRunning); err != nil {
		_ = e.contexts.Delete(ctx, exec.ID)
		return nil, err
	}
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		_ = e.contexts.Delete(ctx, exec.ID)
		err = fmt.Errorf("start execution %s: %w", exec.ID, err)
		e.abort(ctx, exec, err)
		return nil, err
	}
	e.runs.Set(exec.ID, r)

	e.logger.Info("execution started",
		zap.String("execution", exec.ID),
		zap.String("workflow", def.ID),
		zap.String("type", string(def.Type)),
		zap.Int("agents", len(def.Agents)))

	started := exec.clone()
	go e.execute(context.WithoutCancel(ctx), r)
	return started, nil
}

// abort marks an execution that never got going as failed so the stored
// record does not stay pending.
func (e *Engine) abort(ctx context.Context, exec *Execution, cause error) {
	exec.Status = StatusFailed
	exec.Error = cause.Error()
	now := time.Now().UTC()
	exec.CompletedAt = &now
	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		e.logger.Error("persist failed start",
			zap.String("execution", exec.ID),
			zap.NamedError("cause", cause),
			zap.Error(err))
	}
}

// seed turns the execution input into initial blackboard data: a map input
// is copied key by key, anything else is stored under "input".
func seed(input blackboard.Value) *blackboard.Fields {
	if input.Kind() == blackboard.KindMap {
		return input.Fields()
	}
	f := blackboard.NewFields()
	if !input.IsNull() {
		f.Set("input", input)
	}
	return f
}

// Run starts a stored workflow and waits for it to finish.
func (e *Engine) Run(ctx context.Context, workflowID string, input blackboard.Value) (*Execution, error) {
	exec, err := e.Start(ctx, workflowID, input)
	if err != nil {
		return nil, err
	}
	return e.Wait(ctx, exec.ID)
}

// RunDefinition runs def to completion without storing it.
func (e *Engine) RunDefinition(ctx context.Context, def *Definition, input blackboard.Value) (*Execution, error) {
	exec, err := e.StartDefinition(ctx, def, input)
	if err != nil {
		return nil, err
	}
	return e.Wait(ctx, exec.ID)
}

// Wait blocks until the execution is terminal or ctx is done.
func (e *Engine) Wait(ctx context.Context, executionID string) (*Execution, error) {
	r, ok := e.runs.Get(executionID)
	if !ok {
		return e.Status(ctx, executionID)
	}
	select {
	case <-r.done:
		return r.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the current state of an execution.
func (e *Engine) Status(ctx context.Context, executionID string) (*Execution, error) {
	if r, ok := e.runs.Get(executionID); ok {
		return r.snapshot(), nil
	}
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", executionID, err)
	}
	if exec == nil {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	return exec, nil
}

// Executions lists the executions of a workflow.
func (e *Engine) Executions(ctx context.Context, workflowID string) ([]*Execution, error) {
	return e.store.ListExecutionsByWorkflow(ctx, workflowID)
}

// Cancel marks a live execution cancelled. In-flight agent calls run to
// completion but no further step is scheduled and their results never
// reach the blackboard. A parallel join stops waiting immediately.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	r, ok := e.runs.Get(executionID)
	if !ok {
		exec, err := e.Status(ctx, executionID)
		if err != nil {
			return err
		}
		return CanTransition(exec.Status, StatusCancelled)
	}

	r.mu.Lock()
	err := r.exec.transition(StatusCancelled)
	if err == nil {
		close(r.stop)
	}
	final := r.exec.clone()
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if err := e.store.UpdateExecution(ctx, final); err != nil {
		e.logger.Error("persist cancellation", zap.String("execution", executionID), zap.Error(err))
	}
	e.logger.Info("execution cancelled", zap.String("execution", executionID))
	return nil
}

// Messages reads an execution's message log.
func (e *Engine) Messages(ctx context.Context, executionID string, f bus.Filter) ([]*bus.Message, error) {
	return bus.History(ctx, e.messages, executionID, f)
}

// Context returns the live blackboard of an execution, or its archived
// snapshot once finished.
func (e *Engine) Context(ctx context.Context, executionID string) (*blackboard.Snapshot, error) {
	if snap := e.contexts.GetSnapshot(executionID); snap != nil {
		return snap, nil
	}
	snap, err := e.contexts.Persisted(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: %s", blackboard.ErrContextNotFound, executionID)
	}
	return snap, nil
}

// Bus returns the live bus of an execution.
func (e *Engine) Bus(executionID string) (*bus.MessageBus, bool) {
	r, ok := e.runs.Get(executionID)
	if !ok {
		return nil, false
	}
	return r.bus, true
}

// Active lists the ids of executions that have not finished.
func (e *Engine) Active() []string {
	var ids []string
	e.runs.ForEach(func(id string, _ *run) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// Shutdown cancels every live execution and waits for their in-flight
// steps to return.
func (e *Engine) Shutdown(ctx context.Context) error {
	var pending []*run
	e.runs.ForEach(func(id string, r *run) bool {
		pending = append(pending, r)
		return true
	})
	for _, r := range pending {
		if err := e.Cancel(ctx, r.exec.ID); err != nil && !errors.Is(err, ErrInvalidTransition) {
			e.logger.Warn("cancel on shutdown", zap.String("execution", r.exec.ID), zap.Error(err))
		}
	}
	for _, r := range pending {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, r *run) {
	var err error
	switch r.def.Type {
	case TypeSequential:
		err = e.runSequential(ctx, r)
	case TypeParallel:
		err = e.runParallel(ctx, r)
	case TypeConditional:
		err = e.runConditional(ctx, r)
	}
	e.finish(ctx, r, err)
}

func (e *Engine) finish(ctx context.Context, r *run, runErr error) {
	id := r.exec.ID
	snap := e.contexts.GetSnapshot(id)

	r.mu.Lock()
	if r.exec.Status == StatusRunning {
		if runErr != nil {
			_ = r.exec.transition(StatusFailed)
			r.exec.Error = runErr.Error()
		} else {
			_ = r.exec.transition(StatusCompleted)
			r.exec.Output = snap.Value()
		}
	}
	final := r.exec.clone()
	r.mu.Unlock()

	if err := e.store.UpdateExecution(ctx, final); err != nil {
		e.logger.Error("persist execution", zap.String("execution", id), zap.Error(err))
	}
	if err := e.contexts.Archive(ctx, id); err != nil {
		e.logger.Warn("archive context", zap.String("execution", id), zap.Error(err))
	}
	r.bus.Close()
	e.runs.Del(id)
	close(r.done)

	fields := []zap.Field{
		zap.String("execution", id),
		zap.String("status", string(final.Status)),
		zap.Int("steps", len(final.Steps)),
	}
	if final.StartedAt != nil && final.CompletedAt != nil {
		fields = append(fields, zap.Duration("took", final.CompletedAt.Sub(*final.StartedAt)))
	}
	if runErr != nil {
		fields = append(fields, zap.Error(runErr))
	}
	e.logger.Info("execution finished", fields...)
}

// runStep executes one agent against snap and records nothing itself.
func (e *Engine) runStep(ctx context.Context, r *run, spec AgentSpec, input blackboard.Value, snap *blackboard.Snapshot) (StepRecord, blackboard.Value, error) {
	start := time.Now()
	rec := StepRecord{AgentID: spec.AgentID, Optional: spec.Optional, StartedAt: start.UTC()}

	out, err := e.invoke(ctx, spec, &agent.Call{
		ExecutionID: r.exec.ID,
		Input:       stepInput(spec, input),
		Context:     snap,
		Bus:         r.bus,
	})
	rec.Duration = time.Since(start)
	if err != nil {
		rec.Status = StepFailed
		rec.Error = err.Error()
		return rec, blackboard.Null, err
	}
	rec.Status = StepCompleted
	rec.Output = out
	e.logger.Debug("step completed",
		zap.String("execution", r.exec.ID),
		zap.String("agent", spec.AgentID),
		zap.Duration("took", rec.Duration))
	return rec, out, nil
}

func (e *Engine) invoke(ctx context.Context, spec AgentSpec, call *agent.Call) (out blackboard.Value, err error) {
	a, ok := e.agents.Get(spec.AgentID)
	if !ok {
		return blackboard.Null, fmt.Errorf("%w: %s", agent.ErrAgentNotFound, spec.AgentID)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s: panic: %v", agent.ErrAgentExecution, spec.AgentID, p)
		}
	}()
	res, err := a.Execute(ctx, call)
	if err != nil {
		if !errors.Is(err, agent.ErrAgentExecution) && !errors.Is(err, agent.ErrOutputParse) {
			err = fmt.Errorf("%w: %s: %w", agent.ErrAgentExecution, spec.AgentID, err)
		}
		return blackboard.Null, err
	}
	if res == nil {
		return blackboard.Null, nil
	}
	return res.Value, nil
}

func stepInput(spec AgentSpec, input blackboard.Value) blackboard.Value {
	if spec.Instruction == "" {
		return input
	}
	return blackboard.MapOf("instruction", spec.Instruction, "input", input)
}

// fold writes a step output into the blackboard: map outputs key by key,
// other non-null outputs under the agent id.
func (e *Engine) fold(executionID, agentID string, out blackboard.Value) {
	switch {
	case out.Kind() == blackboard.KindMap:
		e.contexts.Update(executionID, out.Fields())
	case !out.IsNull():
		patch := blackboard.NewFields()
		patch.Set(agentID, out)
		e.contexts.Update(executionID, patch)
	}
}

// runSequential feeds each agent the previous agent's output. A required
// step failure fails the execution; optional failures are recorded and
// skipped.
func (e *Engine) runSequential(ctx context.Context, r *run) error {
	input := r.exec.Input
	for _, spec := range r.def.Agents {
		if r.cancelled() {
			return nil
		}
		rec, out, err := e.runStep(ctx, r, spec, input, e.contexts.GetSnapshot(r.exec.ID))
		r.record(rec)
		if r.cancelled() {
			return nil
		}
		if err != nil {
			if spec.Optional {
				e.logger.Warn("optional step failed",
					zap.String("execution", r.exec.ID),
					zap.String("agent", spec.AgentID),
					zap.Error(err))
				continue
			}
			return fmt.Errorf("step %s: %w", spec.AgentID, err)
		}
		e.fold(r.exec.ID, spec.AgentID, out)
		input = out
	}
	return nil
}

// runParallel fans every agent out against one snapshot, joins them under
// the parallel timeout and merges the outputs in configuration order.
func (e *Engine) runParallel(ctx context.Context, r *run) error {
	snap := e.contexts.GetSnapshot(r.exec.ID)
	input := r.exec.Input
	policy := r.def.Flow.BranchFailure
	if policy == "" {
		policy = e.opts.BranchFailure
	}

	n := len(r.def.Agents)
	results := e.sched.dispatch(ctx, r.def.Agents, func(ctx context.Context, spec AgentSpec) (StepRecord, blackboard.Value, error) {
		return e.runStep(ctx, r, spec, input, snap)
	})

	timer := time.NewTimer(e.opts.ParallelTimeout)
	defer timer.Stop()

	outputs := make([]blackboard.Value, n)
	for received := 0; received < n; {
		select {
		case res := <-results:
			received++
			r.record(res.record)
			if res.err == nil {
				outputs[res.index] = res.output
				continue
			}
			spec := r.def.Agents[res.index]
			if !spec.Optional && policy == BranchFailureFail {
				return fmt.Errorf("branch %s: %w", spec.AgentID, res.err)
			}
			e.logger.Warn("branch failed, recording null",
				zap.String("execution", r.exec.ID),
				zap.String("agent", spec.AgentID),
				zap.Error(res.err))
		case <-timer.C:
			return fmt.Errorf("%w after %s: %d of %d branches finished", ErrJoinTimeout, e.opts.ParallelTimeout, received, n)
		case <-r.stop:
			return nil
		}
	}
	if r.cancelled() {
		return nil
	}
	e.contexts.Merge(r.exec.ID, outputs)
	return nil
}

// runConditional walks the flow from the entry agent, choosing each next
// agent from the first transition whose condition holds.
func (e *Engine) runConditional(ctx context.Context, r *run) error {
	current := r.def.Entry()
	input := r.exec.Input
	for steps := 0; current != End; steps++ {
		if r.cancelled() {
			return nil
		}
		if steps >= e.opts.MaxConditionalSteps {
			return fmt.Errorf("%w: %d", ErrStepLimit, e.opts.MaxConditionalSteps)
		}
		spec, _ := r.def.spec(current)
		start := time.Now().UTC()

		rec, out, err := e.runStep(ctx, r, spec, input, e.contexts.GetSnapshot(r.exec.ID))
		r.record(rec)
		if r.cancelled() {
			return nil
		}
		if err != nil {
			if !spec.Optional {
				return fmt.Errorf("step %s: %w", spec.AgentID, err)
			}
			e.logger.Warn("optional step failed",
				zap.String("execution", r.exec.ID),
				zap.String("agent", spec.AgentID),
				zap.Error(err))
		} else {
			e.fold(r.exec.ID, spec.AgentID, out)
			input = out
		}

		next, err := r.def.Flow.next(current, out, sentSince(r.bus.Queue(), current, start))
		if err != nil {
			return err
		}
		e.logger.Debug("transition",
			zap.String("execution", r.exec.ID),
			zap.String("from", current),
			zap.String("to", next))
		current = next
	}
	return nil
}

func sentSince(queue []*bus.Message, from string, since time.Time) []*bus.Message {
	var out []*bus.Message
	for _, m := range queue {
		if m.FromAgentID == from && !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	return out
}
