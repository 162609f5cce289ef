package review

import "time"

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusInReview  Status = "in_review"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusEscalated Status = "escalated"
)

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusInReview, StatusAccepted, StatusRejected, StatusEscalated:
		return true
	}
	return false
}

// Terminal reports whether the state accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// CanTransition reports whether the queue allows moving from s to next.
// Entries move queued to in_review, and in_review resolves to accepted,
// rejected, or escalated. Escalated entries return to in_review or resolve.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusInReview
	case StatusInReview:
		return next == StatusAccepted || next == StatusRejected || next == StatusEscalated
	case StatusEscalated:
		return next == StatusInReview || next == StatusAccepted || next == StatusRejected
	}
	return false
}

// Queue entry priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Review is one analyst queue entry for a case.
type Review struct {
	ID          string    `json:"review_id"`
	CaseID      string    `json:"case_id"`
	QueuedAt    time.Time `json:"queued_at"`
	Priority    string    `json:"priority"`
	Status      Status    `json:"status"`
	AssignedTo  string    `json:"assigned_to,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// Action is one audit-trail entry recorded against a review.
type Action struct {
	ID        string         `json:"action_id"`
	ReviewID  string         `json:"review_id"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// SavedSearch is a persisted search definition. Names are unique per owner,
// compared case-insensitively; an empty owner is the shared scope.
type SavedSearch struct {
	ID        string         `json:"search_id"`
	Name      string         `json:"name"`
	Owner     string         `json:"owner,omitempty"`
	Params    map[string]any `json:"params"`
	CreatedAt time.Time      `json:"created_at"`
	Favorite  bool           `json:"favorite"`
	Tags      []string       `json:"tags"`
}

// Candidate is a queue entry enriched with dossier selection metrics derived
// from the case metadata.
type Candidate struct {
	CaseID          string    `json:"case_id"`
	Status          Status    `json:"status"`
	AcceptedAt      time.Time `json:"accepted_at"`
	LossAmountUSD   *float64  `json:"loss_amount_usd,omitempty"`
	Jurisdiction    string    `json:"jurisdiction"`
	VictimCountry   string    `json:"victim_country,omitempty"`
	OffenderCountry string    `json:"offender_country,omitempty"`
	CrossBorder     bool      `json:"cross_border"`
	LossBand        string    `json:"loss_band"`
	GeoBucket       string    `json:"geo_bucket"`
}
