package dossier

import "context"

// Store persists dossier plans and their queue state. Implementations must
// be safe for concurrent use.
type Store interface {
	PutPlan(ctx context.Context, plan *Plan) error
	GetPlan(ctx context.Context, planID string) (*Plan, bool, error)
	// ListPlans returns plans newest first; an empty status returns every
	// entry.
	ListPlans(ctx context.Context, status PlanStatus, limit int) ([]*Plan, error)
	// FindActivePlan returns the newest pending or in-progress plan with
	// the given case-set fingerprint.
	FindActivePlan(ctx context.Context, fingerprint string) (*Plan, bool, error)
}
