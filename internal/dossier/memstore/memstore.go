// Package memstore provides an in-memory plan store for tests and local
// development.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/i4g/internal/dossier"
)

// Store is an in-memory implementation of dossier.Store.
type Store struct {
	mu    sync.RWMutex
	plans map[string]*dossier.Plan
}

// New creates an empty store.
func New() *Store {
	return &Store{plans: make(map[string]*dossier.Plan)}
}

func (s *Store) PutPlan(_ context.Context, plan *dossier.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *plan
	s.plans[plan.ID] = &cp
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID string) (*dossier.Plan, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.plans[planID]
	if !ok {
		return nil, false, nil
	}
	cp := *plan
	return &cp, true, nil
}

func (s *Store) ListPlans(_ context.Context, status dossier.PlanStatus, limit int) ([]*dossier.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*dossier.Plan
	for _, plan := range s.plans {
		if status != "" && plan.Status != status {
			continue
		}
		cp := *plan
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) FindActivePlan(_ context.Context, fingerprint string) (*dossier.Plan, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *dossier.Plan
	for _, plan := range s.plans {
		if plan.Fingerprint != fingerprint {
			continue
		}
		if plan.Status != dossier.PlanPending && plan.Status != dossier.PlanInProgress {
			continue
		}
		if newest == nil || plan.CreatedAt.After(newest.CreatedAt) {
			newest = plan
		}
	}
	if newest == nil {
		return nil, false, nil
	}
	cp := *newest
	return &cp, true, nil
}
