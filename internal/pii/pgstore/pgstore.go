// Package pgstore provides a PostgreSQL implementation of pii.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/i4g/internal/pii"
)

var tracer = otel.Tracer("github.com/linnemanlabs/i4g/internal/pii/pgstore")

//go:embed schema.sql
var schema string

// Store persists vault records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the vault schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const tokenColumns = `token, prefix, digest, normalized_value, canonical_value,
	encrypted_value, pepper_version, detector, case_id, created_at`

// Upsert inserts the record; a conflicting token only refreshes detector and
// case linkage so the original canonical value is never rewritten.
func (s *Store) Upsert(ctx context.Context, rec *pii.Record) error {
	ctx, span := tracer.Start(ctx, "pgstore.Upsert", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	var canonical *string
	if rec.Encrypted == nil && rec.CanonicalValue != "" {
		canonical = &rec.CanonicalValue
	}

	query := `INSERT INTO pii_tokens (` + tokenColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (token) DO UPDATE SET
		detector = EXCLUDED.detector,
		case_id  = EXCLUDED.case_id`

	_, err := s.pool.Exec(ctx, query,
		rec.Token, rec.Prefix, rec.Digest, rec.NormalizedValue, canonical,
		rec.Encrypted, rec.PepperVersion, nullable(rec.Detector), nullable(rec.CaseID), rec.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

// Get retrieves a vault record by token.
func (s *Store) Get(ctx context.Context, token string) (*pii.Record, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + tokenColumns + ` FROM pii_tokens WHERE token = $1`
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, token))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}
	return rec, true, nil
}

// PutRequest inserts or updates a detokenization request.
func (s *Store) PutRequest(ctx context.Context, req *pii.DetokRequest) error {
	ctx, span := tracer.Start(ctx, "pgstore.PutRequest", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	var decidedAt *time.Time
	if !req.DecidedAt.IsZero() {
		decidedAt = &req.DecidedAt
	}

	query := `INSERT INTO detok_requests (id, token, requestor, reason, case_id, status, approver, created_at, decided_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (id) DO UPDATE SET
		status     = EXCLUDED.status,
		reason     = EXCLUDED.reason,
		approver   = EXCLUDED.approver,
		decided_at = EXCLUDED.decided_at`

	_, err := s.pool.Exec(ctx, query,
		req.ID, req.Token, req.Requestor, nullable(req.Reason), nullable(req.CaseID),
		string(req.Status), nullable(req.Approver), req.CreatedAt, decidedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert request: %w", err)
	}
	return nil
}

// GetRequest retrieves a detokenization request by ID.
func (s *Store) GetRequest(ctx context.Context, id string) (*pii.DetokRequest, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetRequest", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var (
		req       pii.DetokRequest
		status    string
		reason    *string
		caseID    *string
		approver  *string
		decidedAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, token, requestor, reason, case_id, status, approver, created_at, decided_at
		 FROM detok_requests WHERE id = $1`, id,
	).Scan(&req.ID, &req.Token, &req.Requestor, &reason, &caseID, &status, &approver, &req.CreatedAt, &decidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("scan request: %w", err)
	}

	req.Status = pii.RequestStatus(status)
	req.Reason = deref(reason)
	req.CaseID = deref(caseID)
	req.Approver = deref(approver)
	if decidedAt != nil {
		req.DecidedAt = *decidedAt
	}
	return &req, true, nil
}

func scanRecord(row pgx.Row) (*pii.Record, error) {
	rec, err := scanRecordValues(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func scanRecordValues(row pgx.Row) (*pii.Record, error) {
	var (
		rec       pii.Record
		canonical *string
		detector  *string
		caseID    *string
	)
	err := row.Scan(
		&rec.Token, &rec.Prefix, &rec.Digest, &rec.NormalizedValue, &canonical,
		&rec.Encrypted, &rec.PepperVersion, &detector, &caseID, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan token: %w", err)
	}
	rec.CanonicalValue = deref(canonical)
	rec.Detector = deref(detector)
	rec.CaseID = deref(caseID)
	return &rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
