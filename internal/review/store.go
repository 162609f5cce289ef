package review

import "context"

// QueueFilter narrows Queue listings.
type QueueFilter struct {
	Status Status
	CaseID string
	Limit  int
}

// ActionFilter narrows action listings. Action filters by action name when
// non-empty.
type ActionFilter struct {
	ReviewID string
	Action   string
	Limit    int
}

// Store persists the review queue, its audit trail, and saved searches.
// Implementations must be safe for concurrent use.
type Store interface {
	UpsertReview(ctx context.Context, rev *Review) error
	GetReview(ctx context.Context, reviewID string) (*Review, bool, error)
	ListReviews(ctx context.Context, filter QueueFilter) ([]*Review, error)
	ReviewsByCase(ctx context.Context, caseID string, limit int) ([]*Review, error)

	AppendAction(ctx context.Context, act *Action) error
	ListActions(ctx context.Context, filter ActionFilter) ([]*Action, error)

	UpsertSearch(ctx context.Context, s *SavedSearch) error
	GetSearch(ctx context.Context, searchID string) (*SavedSearch, bool, error)
	FindSearchByName(ctx context.Context, owner, name string) (*SavedSearch, bool, error)
	ListSearches(ctx context.Context, owner string, limit int) ([]*SavedSearch, error)
	DeleteSearch(ctx context.Context, searchID string) (bool, error)
}
