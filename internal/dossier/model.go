package dossier

import "time"

// PlanStatus is the lifecycle state of a dossier plan in the generation
// queue.
type PlanStatus string

const (
	PlanPending    PlanStatus = "pending"
	PlanInProgress PlanStatus = "in_progress"
	PlanComplete   PlanStatus = "complete"
	PlanFailed     PlanStatus = "failed"
)

// Plan selects the cases that make up one dossier and carries the queue
// state of its generation.
type Plan struct {
	ID          string         `json:"plan_id"`
	Title       string         `json:"title"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	CaseIDs     []string       `json:"case_ids"`
	Filters     map[string]any `json:"filters,omitempty"`
	RequestedBy string         `json:"requested_by,omitempty"`
	Status      PlanStatus     `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   time.Time      `json:"started_at,omitzero"`
	FinishedAt  time.Time      `json:"finished_at,omitzero"`
	Artifacts   []string       `json:"artifacts,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Analysis aggregates case metrics embedded in the dossier payload.
type Analysis struct {
	CaseCount    int            `json:"case_count"`
	TotalLossUSD float64        `json:"total_loss_usd"`
	LossBands    map[string]int `json:"loss_bands"`
	GeoBuckets   map[string]int `json:"geo_buckets"`
	CrossBorder  int            `json:"cross_border"`
	FraudTypes   map[string]int `json:"fraud_types"`
}

// Result describes the artifacts emitted by one generation pass.
type Result struct {
	PlanID    string   `json:"plan_id"`
	Artifacts []string `json:"artifacts"`
	Warnings  []string `json:"warnings"`
}
