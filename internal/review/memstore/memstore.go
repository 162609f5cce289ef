// Package memstore provides an in-memory review store for tests and local
// development.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/linnemanlabs/i4g/internal/review"
)

// Store is an in-memory implementation of review.Store.
type Store struct {
	mu       sync.RWMutex
	reviews  map[string]*review.Review
	actions  []*review.Action
	searches map[string]*review.SavedSearch
}

// New creates an empty store.
func New() *Store {
	return &Store{
		reviews:  make(map[string]*review.Review),
		searches: make(map[string]*review.SavedSearch),
	}
}

func (s *Store) UpsertReview(_ context.Context, rev *review.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rev
	s.reviews[rev.ID] = &cp
	return nil
}

func (s *Store) GetReview(_ context.Context, reviewID string) (*review.Review, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rev, ok := s.reviews[reviewID]
	if !ok {
		return nil, false, nil
	}
	cp := *rev
	return &cp, true, nil
}

func (s *Store) ListReviews(_ context.Context, filter review.QueueFilter) ([]*review.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*review.Review
	for _, rev := range s.reviews {
		if filter.Status != "" && rev.Status != filter.Status {
			continue
		}
		if filter.CaseID != "" && rev.CaseID != filter.CaseID {
			continue
		}
		cp := *rev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ReviewsByCase(_ context.Context, caseID string, limit int) ([]*review.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*review.Review
	for _, rev := range s.reviews {
		if rev.CaseID != caseID {
			continue
		}
		cp := *rev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.After(out[j].QueuedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AppendAction(_ context.Context, act *review.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *act
	s.actions = append(s.actions, &cp)
	return nil
}

func (s *Store) ListActions(_ context.Context, filter review.ActionFilter) ([]*review.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*review.Action
	for _, act := range s.actions {
		if filter.ReviewID != "" && act.ReviewID != filter.ReviewID {
			continue
		}
		if filter.Action != "" && act.Action != filter.Action {
			continue
		}
		cp := *act
		out = append(out, &cp)
	}
	if filter.ReviewID != "" {
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) UpsertSearch(_ context.Context, search *review.SavedSearch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *search
	s.searches[search.ID] = &cp
	return nil
}

func (s *Store) GetSearch(_ context.Context, searchID string) (*review.SavedSearch, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search, ok := s.searches[searchID]
	if !ok {
		return nil, false, nil
	}
	cp := *search
	return &cp, true, nil
}

func (s *Store) FindSearchByName(_ context.Context, owner, name string) (*review.SavedSearch, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, search := range s.searches {
		if search.Owner == owner && strings.EqualFold(search.Name, name) {
			cp := *search
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (s *Store) ListSearches(_ context.Context, owner string, limit int) ([]*review.SavedSearch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*review.SavedSearch
	for _, search := range s.searches {
		if owner != "" && search.Owner != "" && search.Owner != owner {
			continue
		}
		cp := *search
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Favorite != out[j].Favorite {
			return out[i].Favorite
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteSearch(_ context.Context, searchID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.searches[searchID]; !ok {
		return false, nil
	}
	delete(s.searches, searchID)
	return true, nil
}
