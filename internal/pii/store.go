package pii

import "context"

// Store is the persistence interface for vault records and detokenization
// requests.
type Store interface {
	// Upsert inserts the record, or refreshes detector/case linkage when the
	// token already exists with the same digest.
	Upsert(ctx context.Context, rec *Record) error

	// Get returns the record for a token.
	Get(ctx context.Context, token string) (*Record, bool, error)

	// PutRequest persists a detokenization request (insert or status update).
	PutRequest(ctx context.Context, req *DetokRequest) error

	// GetRequest returns a detokenization request by ID.
	GetRequest(ctx context.Context, id string) (*DetokRequest, bool, error)
}
