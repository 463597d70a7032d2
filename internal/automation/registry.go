package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry and Engine.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides plan management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by the CRUD methods. Every plan passes ValidatePlan before it is stored,
// so plans handed to the engine from here are well formed.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Plan // Cached plans by ID
	cacheMu sync.RWMutex     // Protects cache
	logger  Logger
}

// NewRegistry creates a new plan registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Plan),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all plans from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	plans, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading plans: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Plan, len(plans))
	for i := range plans {
		r.cache[plans[i].ID] = plans[i].DeepCopy()
	}

	r.logger.Info("plan cache refreshed", "count", len(plans))
	return nil
}

// GetPlan retrieves a plan by ID.
// The returned plan is a deep copy; callers can safely modify it.
func (r *Registry) GetPlan(_ context.Context, id string) (*Plan, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrPlanNotFound
}

// ListPlans returns deep copies of all plans sorted by name then ID.
func (r *Registry) ListPlans(_ context.Context) ([]Plan, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	plans := make([]Plan, 0, len(r.cache))
	for _, p := range r.cache {
		plans = append(plans, *p.DeepCopy())
	}
	sortPlans(plans)
	return plans, nil
}

// sortPlans sorts plans by name then ID, matching the DB query ordering.
func sortPlans(plans []Plan) {
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].Name != plans[j].Name {
			return plans[i].Name < plans[j].Name
		}
		return plans[i].ID < plans[j].ID
	})
}

// CreatePlan validates, persists, and caches a new plan. A missing ID or
// version is filled in.
func (r *Registry) CreatePlan(ctx context.Context, plan *Plan) error {
	if plan == nil {
		return ErrInvalidPlan
	}
	if plan.ID == "" {
		plan.ID = GenerateID()
	}
	if plan.Version == "" {
		plan.Version = defaultPlanVersion
	}

	if err := ValidatePlan(plan); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, plan); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[plan.ID] = plan.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("plan created", "id", plan.ID, "name", plan.Name, "sequences", len(plan.Sequences))
	return nil
}

// UpdatePlan validates, persists, and updates the cached plan.
func (r *Registry) UpdatePlan(ctx context.Context, plan *Plan) error {
	if err := ValidatePlan(plan); err != nil {
		return err
	}

	r.cacheMu.RLock()
	existing, ok := r.cache[plan.ID]
	r.cacheMu.RUnlock()
	if ok && plan.CreatedAt.IsZero() {
		plan.CreatedAt = existing.CreatedAt
	}
	if plan.Version == "" {
		plan.Version = defaultPlanVersion
	}

	if err := r.repo.Update(ctx, plan); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[plan.ID] = plan.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("plan updated", "id", plan.ID, "name", plan.Name)
	return nil
}

// DeletePlan removes a plan from persistence and cache. Its run history
// is kept.
func (r *Registry) DeletePlan(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("plan deleted", "id", id)
	return nil
}

// ImportPlan stores a plan read from a file, replacing any stored plan
// with the same ID.
func (r *Registry) ImportPlan(ctx context.Context, plan *Plan) error {
	if plan == nil {
		return ErrInvalidPlan
	}
	if plan.ID != "" {
		r.cacheMu.RLock()
		_, exists := r.cache[plan.ID]
		r.cacheMu.RUnlock()
		if exists {
			return r.UpdatePlan(ctx, plan)
		}
	}
	return r.CreatePlan(ctx, plan)
}

// GetPlanCount returns the number of cached plans.
func (r *Registry) GetPlanCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
