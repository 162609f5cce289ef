// Package pii provides the business boundary for the i4g PII vault. It
// defines the Service (deterministic tokenization, dual-approval
// detokenization), the Store interface (persistence), the per-prefix
// validation registry, and domain models.
package pii
