// Package memstore provides an in-memory implementation of pii.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/i4g/internal/pii"
)

// Store holds vault records in memory. Suitable for dev/testing.
type Store struct {
	mu       sync.RWMutex
	records  map[string]*pii.Record       // token -> record
	requests map[string]*pii.DetokRequest // request ID -> request
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		records:  make(map[string]*pii.Record),
		requests: make(map[string]*pii.DetokRequest),
	}
}

// Upsert stores a copy of the record. Existing rows only refresh detector
// and case linkage, preserving the original canonical value.
func (s *Store) Upsert(_ context.Context, rec *pii.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.Token]; ok {
		if rec.Detector != "" {
			existing.Detector = rec.Detector
		}
		if rec.CaseID != "" {
			existing.CaseID = rec.CaseID
		}
		return nil
	}
	cp := *rec
	s.records[rec.Token] = &cp
	return nil
}

// Get retrieves a vault record by token. Returns a copy.
func (s *Store) Get(_ context.Context, token string) (*pii.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[token]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

// PutRequest stores a copy of the detokenization request.
func (s *Store) PutRequest(_ context.Context, req *pii.DetokRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

// GetRequest retrieves a detokenization request by ID. Returns a copy.
func (s *Store) GetRequest(_ context.Context, id string) (*pii.DetokRequest, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, false, nil
	}
	cp := *req
	return &cp, true, nil
}
