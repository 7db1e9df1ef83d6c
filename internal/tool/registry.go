package tool

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry serves tools from a cache in front of a Store. Cached tools are
// never mutated in place: a write stores the freshly re-read record under
// the same key, so readers see either the old or the new tool.
type Registry struct {
	store  Store
	cache  *haxmap.Map[string, *Tool]
	logger *zap.Logger
}

// NewRegistry creates a registry over store. A nil store keeps tools in memory.
func NewRegistry(store Store, logger *zap.Logger) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Registry{
		store:  store,
		cache:  haxmap.New[string, *Tool](),
		logger: logger,
	}
}

// Register validates and persists a new tool. An empty ID is generated.
func (r *Registry) Register(ctx context.Context, spec *Tool) (*Tool, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	t := spec.clone()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if err := r.store.CreateTool(ctx, t); err != nil {
		return nil, fmt.Errorf("register tool %s: %w", t.Name, err)
	}
	r.cache.Set(t.ID, t)
	r.logger.Info("registered tool",
		zap.String("id", t.ID),
		zap.String("name", t.Name),
		zap.String("type", t.Type))
	return t.clone(), nil
}

// Get returns a tool by id, populating the cache on first lookup. A missing
// tool is nil with a nil error.
func (r *Registry) Get(ctx context.Context, id string) (*Tool, error) {
	if t, ok := r.cache.Get(id); ok {
		return t.clone(), nil
	}
	t, err := r.store.GetTool(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get tool %s: %w", id, err)
	}
	if t == nil {
		return nil, nil
	}
	// a refresh that landed while we read the store wins
	cached, _ := r.cache.GetOrSet(id, t)
	return cached.clone(), nil
}

// Update persists t and refreshes its cache entry from the store.
func (r *Registry) Update(ctx context.Context, t *Tool) (*Tool, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	cur, err := r.Get(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("update tool %s: %w", t.ID, ErrToolNotFound)
	}
	next := t.clone()
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateTool(ctx, next); err != nil {
		return nil, fmt.Errorf("update tool %s: %w", t.ID, err)
	}
	return r.refresh(ctx, t.ID)
}

func (r *Registry) refresh(ctx context.Context, id string) (*Tool, error) {
	fresh, err := r.store.GetTool(ctx, id)
	if err != nil || fresh == nil {
		r.cache.Del(id)
		if err != nil {
			return nil, fmt.Errorf("refresh tool %s: %w", id, err)
		}
		return nil, fmt.Errorf("refresh tool %s: %w", id, ErrToolNotFound)
	}
	r.cache.Set(id, fresh)
	return fresh.clone(), nil
}

// Delete removes a tool, its assignments and its cache entry.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.DeleteTool(ctx, id); err != nil {
		return fmt.Errorf("delete tool %s: %w", id, err)
	}
	r.cache.Del(id)
	r.logger.Info("deleted tool", zap.String("id", id))
	return nil
}

// GetByBot returns the bot's active tools ordered by name.
func (r *Registry) GetByBot(ctx context.Context, botID string) ([]*Tool, error) {
	tools, err := r.store.ListToolsByBot(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("list tools for bot %s: %w", botID, err)
	}
	out := tools[:0]
	for _, t := range tools {
		if t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetByAgent joins the agent's assignments with their tools, highest
// priority first and by name within a priority.
func (r *Registry) GetByAgent(ctx context.Context, agentID string) ([]AssignedTool, error) {
	assignments, err := r.store.ListAssignmentsByAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list tools for agent %s: %w", agentID, err)
	}
	out := make([]AssignedTool, 0, len(assignments))
	for _, a := range assignments {
		t, err := r.Get(ctx, a.ToolID)
		if err != nil {
			return nil, err
		}
		if t == nil {
			continue
		}
		out = append(out, AssignedTool{Tool: t, IsEnabled: a.IsEnabled, Priority: a.Priority})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// AssignToAgent upserts the (agentID, toolID) assignment.
func (r *Registry) AssignToAgent(ctx context.Context, agentID, toolID string, enabled bool, priority int) (*Assignment, error) {
	t, err := r.Get(ctx, toolID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("assign %s to %s: %w", toolID, agentID, ErrToolNotFound)
	}
	a := &Assignment{
		AgentID:   agentID,
		ToolID:    toolID,
		IsEnabled: enabled,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.UpsertAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("assign %s to %s: %w", toolID, agentID, err)
	}
	r.logger.Info("assigned tool",
		zap.String("agent", agentID),
		zap.String("tool", t.Name),
		zap.Bool("enabled", enabled),
		zap.Int("priority", priority))
	return a, nil
}

// RemoveFromAgent deletes an assignment. Unknown pairs are ignored.
func (r *Registry) RemoveFromAgent(ctx context.Context, agentID, toolID string) error {
	if err := r.store.DeleteAssignment(ctx, agentID, toolID); err != nil {
		return fmt.Errorf("unassign %s from %s: %w", toolID, agentID, err)
	}
	return nil
}

// Cached reports the number of cached tools.
func (r *Registry) Cached() int {
	return int(r.cache.Len())
}
