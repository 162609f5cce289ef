package intake

import "context"

// CaseFilter narrows ListCases.
type CaseFilter struct {
	Dataset   string
	FraudType string
	Limit     int
	Offset    int
}

// Store persists cases and ingestion runs. Implementations must be safe for
// concurrent use.
type Store interface {
	// InsertCase persists a new case. It reports created=false without
	// writing when another case already holds the same dataset and text
	// hash, returning that existing case.
	InsertCase(ctx context.Context, c *Case) (existing *Case, created bool, err error)
	GetCase(ctx context.Context, caseID string) (*Case, bool, error)
	FindByHash(ctx context.Context, dataset, textHash string) (*Case, bool, error)
	ListCases(ctx context.Context, filter CaseFilter) ([]*Case, error)
	UpdateCaseMetadata(ctx context.Context, caseID string, metadata map[string]any) error

	PutRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, bool, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
}
