package intake

import (
	"time"

	"github.com/linnemanlabs/i4g/internal/pii"
)

// Submission is one raw scam report offered for ingestion. Entities carries
// detector output keyed by entity type; values are raw PII and never leave
// the ingestion path untokenized.
type Submission struct {
	CaseID          string              `json:"case_id,omitempty"`
	Dataset         string              `json:"dataset"`
	Text            string              `json:"text"`
	FraudType       string              `json:"fraud_type,omitempty"`
	FraudConfidence float64             `json:"fraud_confidence,omitempty"`
	Summary         string              `json:"summary,omitempty"`
	Channel         string              `json:"channel,omitempty"`
	Tags            []string            `json:"tags,omitempty"`
	Entities        map[string][]string `json:"entities,omitempty"`
	Metadata        map[string]any      `json:"metadata,omitempty"`
}

// Case is a deduplicated, PII-safe scam case. Extracted entity values are
// replaced by vault tokens before the case is persisted.
type Case struct {
	ID              string                       `json:"case_id"`
	Dataset         string                       `json:"dataset"`
	TextHash        string                       `json:"text_hash"`
	Text            string                       `json:"text"`
	FraudType       string                       `json:"fraud_type"`
	FraudConfidence float64                      `json:"fraud_confidence"`
	Summary         string                       `json:"summary,omitempty"`
	Channel         string                       `json:"channel,omitempty"`
	Tags            []string                     `json:"tags,omitempty"`
	EntityTokens    map[string][]pii.EntityToken `json:"entity_tokens,omitempty"`
	Keywords        []string                     `json:"keywords,omitempty"`
	Metadata        map[string]any               `json:"metadata,omitempty"`
	CreatedAt       time.Time                    `json:"created_at"`
	UpdatedAt       time.Time                    `json:"updated_at"`
}

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// Run is the audit record for one ingestion batch.
type Run struct {
	ID         string    `json:"run_id"`
	Source     string    `json:"source"`
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Submitted  int       `json:"submitted"`
	Ingested   int       `json:"ingested"`
	Duplicates int       `json:"duplicates"`
	Failed     int       `json:"failed"`
	Retried    int       `json:"retried"`
}
