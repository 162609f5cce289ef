// Package memstore provides an in-memory case store for tests and local
// development.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/i4g/internal/intake"
)

// Store is an in-memory implementation of intake.Store.
type Store struct {
	mu     sync.RWMutex
	cases  map[string]*intake.Case
	byHash map[string]string
	runs   map[string]*intake.Run
}

// New creates an empty store.
func New() *Store {
	return &Store{
		cases:  make(map[string]*intake.Case),
		byHash: make(map[string]string),
		runs:   make(map[string]*intake.Run),
	}
}

func hashKey(dataset, textHash string) string { return dataset + "\x00" + textHash }

func (s *Store) InsertCase(_ context.Context, c *intake.Case) (*intake.Case, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := hashKey(c.Dataset, c.TextHash)
	if id, ok := s.byHash[key]; ok {
		cp := *s.cases[id]
		return &cp, false, nil
	}
	cp := *c
	s.cases[c.ID] = &cp
	s.byHash[key] = c.ID
	return nil, true, nil
}

func (s *Store) GetCase(_ context.Context, caseID string) (*intake.Case, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[caseID]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

func (s *Store) FindByHash(_ context.Context, dataset, textHash string) (*intake.Case, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hashKey(dataset, textHash)]
	if !ok {
		return nil, false, nil
	}
	cp := *s.cases[id]
	return &cp, true, nil
}

func (s *Store) ListCases(_ context.Context, filter intake.CaseFilter) ([]*intake.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*intake.Case
	for _, c := range s.cases {
		if filter.Dataset != "" && c.Dataset != filter.Dataset {
			continue
		}
		if filter.FraudType != "" && c.FraudType != filter.FraudType {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) UpdateCaseMetadata(_ context.Context, caseID string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return nil
	}
	if c.Metadata == nil {
		c.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		c.Metadata[k] = v
	}
	return nil
}

func (s *Store) PutRun(_ context.Context, run *intake.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *Store) GetRun(_ context.Context, runID string) (*intake.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, false, nil
	}
	cp := *run
	return &cp, true, nil
}

func (s *Store) ListRuns(_ context.Context, limit int) ([]*intake.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*intake.Run, 0, len(s.runs))
	for _, run := range s.runs {
		cp := *run
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
