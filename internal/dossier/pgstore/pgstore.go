// Package pgstore provides a PostgreSQL implementation of dossier.Store.
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

	"github.com/linnemanlabs/i4g/internal/dossier"
)

var tracer = otel.Tracer("github.com/linnemanlabs/i4g/internal/dossier/pgstore")

//go:embed schema.sql
var schema string

// Store persists dossier plans in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the plan schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) span(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error, wrap string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf(wrap+": %w", err)
}

const planColumns = `plan_id, title, fingerprint, case_ids, filters, requested_by, status,
	created_at, started_at, finished_at, artifacts, warnings, error`

func (s *Store) PutPlan(ctx context.Context, plan *dossier.Plan) error {
	ctx, span := s.span(ctx, "pgstore.PutPlan", "UPSERT")
	defer span.End()

	caseIDs := plan.CaseIDs
	if caseIDs == nil {
		caseIDs = []string{}
	}
	filters := plan.Filters
	if filters == nil {
		filters = map[string]any{}
	}
	artifacts := plan.Artifacts
	if artifacts == nil {
		artifacts = []string{}
	}
	warnings := plan.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO dossier_plans (`+planColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (plan_id) DO UPDATE SET
			status      = EXCLUDED.status,
			started_at  = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			artifacts   = EXCLUDED.artifacts,
			warnings    = EXCLUDED.warnings,
			error       = EXCLUDED.error`,
		plan.ID, plan.Title, plan.Fingerprint, caseIDs, filters, nullable(plan.RequestedBy), string(plan.Status),
		plan.CreatedAt, nullTime(plan.StartedAt), nullTime(plan.FinishedAt),
		artifacts, warnings, nullable(plan.Error),
	)
	if err != nil {
		return fail(span, err, "put plan")
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID string) (*dossier.Plan, bool, error) {
	ctx, span := s.span(ctx, "pgstore.GetPlan", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM dossier_plans WHERE plan_id = $1`, planID)
	plan, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err, "get plan")
	}
	return plan, true, nil
}

func (s *Store) ListPlans(ctx context.Context, status dossier.PlanStatus, limit int) ([]*dossier.Plan, error) {
	ctx, span := s.span(ctx, "pgstore.ListPlans", "SELECT")
	defer span.End()

	if limit <= 0 {
		limit = 25
	}
	query := `SELECT ` + planColumns + ` FROM dossier_plans`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, err, "list plans")
	}
	defer rows.Close()

	var out []*dossier.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fail(span, err, "scan plan")
		}
		out = append(out, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, err, "list plans")
	}
	return out, nil
}

func (s *Store) FindActivePlan(ctx context.Context, fingerprint string) (*dossier.Plan, bool, error) {
	ctx, span := s.span(ctx, "pgstore.FindActivePlan", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT `+planColumns+` FROM dossier_plans
		WHERE fingerprint = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC LIMIT 1`,
		fingerprint, string(dossier.PlanPending), string(dossier.PlanInProgress))
	plan, err := scanPlan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err, "find active plan")
	}
	return plan, true, nil
}

func scanPlan(row pgx.Row) (*dossier.Plan, error) {
	var plan dossier.Plan
	var status string
	var requestedBy, errMsg *string
	var startedAt, finishedAt *time.Time
	if err := row.Scan(&plan.ID, &plan.Title, &plan.Fingerprint, &plan.CaseIDs, &plan.Filters, &requestedBy, &status,
		&plan.CreatedAt, &startedAt, &finishedAt, &plan.Artifacts, &plan.Warnings, &errMsg); err != nil {
		return nil, err
	}
	plan.Status = dossier.PlanStatus(status)
	plan.RequestedBy = deref(requestedBy)
	plan.Error = deref(errMsg)
	if startedAt != nil {
		plan.StartedAt = *startedAt
	}
	if finishedAt != nil {
		plan.FinishedAt = *finishedAt
	}
	return &plan, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
