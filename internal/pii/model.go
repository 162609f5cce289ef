package pii

import "time"

// RequestStatus tracks where a detokenization request is in its lifecycle.
type RequestStatus string

const (
	// RequestPending means created, awaiting a second-party decision
	RequestPending RequestStatus = "pending"

	// RequestApproved means a distinct approver signed off
	RequestApproved RequestStatus = "approved"

	// RequestDenied means the request was rejected (including self-approval)
	RequestDenied RequestStatus = "denied"
)

// Record is a token row persisted in the vault.
type Record struct {
	Token           string    `json:"token"`
	Prefix          string    `json:"prefix"`
	Digest          string    `json:"-"`
	NormalizedValue string    `json:"normalized_value"`
	CanonicalValue  string    `json:"canonical_value,omitempty"`
	Encrypted       []byte    `json:"-"`
	PepperVersion   string    `json:"pepper_version"`
	Detector        string    `json:"detector,omitempty"`
	CaseID          string    `json:"case_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Tokenized is the result of a single tokenization.
type Tokenized struct {
	Token           string `json:"token"`
	Prefix          string `json:"prefix"`
	Digest          string `json:"digest"`
	NormalizedValue string `json:"normalized_value"`
	PepperVersion   string `json:"pepper_version"`
}

// EntityToken is the token-only view of an extracted entity value.
type EntityToken struct {
	Token         string `json:"token"`
	Prefix        string `json:"prefix"`
	PepperVersion string `json:"pepper_version"`
}

// DetokRequest is a dual-approval detokenization request.
type DetokRequest struct {
	ID        string        `json:"id"`
	Token     string        `json:"token"`
	Requestor string        `json:"requestor"`
	Reason    string        `json:"reason"`
	CaseID    string        `json:"case_id,omitempty"`
	Status    RequestStatus `json:"status"`
	Approver  string        `json:"approver,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	DecidedAt time.Time     `json:"decided_at,omitempty"`
}

// Revealed is the canonical payload returned by an approved detokenization.
type Revealed struct {
	Token          string    `json:"token"`
	Prefix         string    `json:"prefix"`
	CanonicalValue string    `json:"canonical_value"`
	PepperVersion  string    `json:"pepper_version"`
	CaseID         string    `json:"case_id,omitempty"`
	Detector       string    `json:"detector,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
