// Package pgstore provides a PostgreSQL implementation of intake.Store.
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

	"github.com/linnemanlabs/i4g/internal/intake"
	"github.com/linnemanlabs/i4g/internal/pii"
)

var tracer = otel.Tracer("github.com/linnemanlabs/i4g/internal/intake/pgstore")

//go:embed schema.sql
var schema string

// Store persists cases and ingestion runs in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the case schema and returns a ready Store.
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

const caseColumns = `case_id, dataset, text_hash, body, fraud_type, fraud_confidence,
	summary, channel, tags, entity_tokens, keywords, metadata, created_at, updated_at`

// InsertCase writes the case unless another row already owns the dataset and
// text hash, in which case that row is returned unmodified.
func (s *Store) InsertCase(ctx context.Context, c *intake.Case) (*intake.Case, bool, error) {
	ctx, span := s.span(ctx, "pgstore.InsertCase", "INSERT")
	defer span.End()

	tags := emptyIfNil(c.Tags)
	keywords := emptyIfNil(c.Keywords)
	tokens := c.EntityTokens
	if tokens == nil {
		tokens = map[string][]pii.EntityToken{}
	}
	metadata := c.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO cases (`+caseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (dataset, text_hash) DO NOTHING`,
		c.ID, c.Dataset, c.TextHash, c.Text, c.FraudType, c.FraudConfidence,
		nullable(c.Summary), nullable(c.Channel), tags, tokens, keywords, metadata,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, false, fail(span, err, "insert case")
	}
	if tag.RowsAffected() > 0 {
		return nil, true, nil
	}
	existing, ok, err := s.FindByHash(ctx, c.Dataset, c.TextHash)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, errors.New("case vanished after dedup conflict")
	}
	return existing, false, nil
}

// GetCase retrieves a case by id.
func (s *Store) GetCase(ctx context.Context, caseID string) (*intake.Case, bool, error) {
	ctx, span := s.span(ctx, "pgstore.GetCase", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE case_id = $1`, caseID)
	c, err := scanCase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err, "get case")
	}
	return c, true, nil
}

// FindByHash retrieves the case owning a dataset and text hash pair.
func (s *Store) FindByHash(ctx context.Context, dataset, textHash string) (*intake.Case, bool, error) {
	ctx, span := s.span(ctx, "pgstore.FindByHash", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE dataset = $1 AND text_hash = $2`,
		dataset, textHash,
	)
	c, err := scanCase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err, "find by hash")
	}
	return c, true, nil
}

// ListCases returns cases matching the filter, newest first.
func (s *Store) ListCases(ctx context.Context, filter intake.CaseFilter) ([]*intake.Case, error) {
	ctx, span := s.span(ctx, "pgstore.ListCases", "SELECT")
	defer span.End()

	query := `SELECT ` + caseColumns + ` FROM cases`
	var args []any
	var where []string
	if filter.Dataset != "" {
		args = append(args, filter.Dataset)
		where = append(where, fmt.Sprintf("dataset = $%d", len(args)))
	}
	if filter.FraudType != "" {
		args = append(args, filter.FraudType)
		where = append(where, fmt.Sprintf("fraud_type = $%d", len(args)))
	}
	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", limit, max(filter.Offset, 0))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, err, "list cases")
	}
	defer rows.Close()

	var out []*intake.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fail(span, err, "scan case")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, err, "list cases")
	}
	return out, nil
}

// UpdateCaseMetadata merges metadata onto an existing case.
func (s *Store) UpdateCaseMetadata(ctx context.Context, caseID string, metadata map[string]any) error {
	ctx, span := s.span(ctx, "pgstore.UpdateCaseMetadata", "UPDATE")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`UPDATE cases SET metadata = metadata || $2, updated_at = $3 WHERE case_id = $1`,
		caseID, metadata, time.Now().UTC(),
	)
	if err != nil {
		return fail(span, err, "update metadata")
	}
	return nil
}

const runColumns = `run_id, source, status, started_at, finished_at, submitted, ingested, duplicates, failed, retried`

// PutRun inserts or updates an ingestion run record.
func (s *Store) PutRun(ctx context.Context, run *intake.Run) error {
	ctx, span := s.span(ctx, "pgstore.PutRun", "UPSERT")
	defer span.End()

	var finished *time.Time
	if !run.FinishedAt.IsZero() {
		finished = &run.FinishedAt
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingestion_runs (`+runColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (run_id) DO UPDATE SET
			status      = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			submitted   = EXCLUDED.submitted,
			ingested    = EXCLUDED.ingested,
			duplicates  = EXCLUDED.duplicates,
			failed      = EXCLUDED.failed,
			retried     = EXCLUDED.retried`,
		run.ID, run.Source, string(run.Status), run.StartedAt, finished,
		run.Submitted, run.Ingested, run.Duplicates, run.Failed, run.Retried,
	)
	if err != nil {
		return fail(span, err, "put run")
	}
	return nil
}

// GetRun retrieves an ingestion run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*intake.Run, bool, error) {
	ctx, span := s.span(ctx, "pgstore.GetRun", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM ingestion_runs WHERE run_id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err, "get run")
	}
	return run, true, nil
}

// ListRuns returns the newest ingestion runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*intake.Run, error) {
	ctx, span := s.span(ctx, "pgstore.ListRuns", "SELECT")
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM ingestion_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fail(span, err, "list runs")
	}
	defer rows.Close()

	var out []*intake.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fail(span, err, "scan run")
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, err, "list runs")
	}
	return out, nil
}

func scanCase(row pgx.Row) (*intake.Case, error) {
	var c intake.Case
	var summary, channel *string
	if err := row.Scan(&c.ID, &c.Dataset, &c.TextHash, &c.Text, &c.FraudType, &c.FraudConfidence,
		&summary, &channel, &c.Tags, &c.EntityTokens, &c.Keywords, &c.Metadata,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Summary = deref(summary)
	c.Channel = deref(channel)
	return &c, nil
}

func scanRun(row pgx.Row) (*intake.Run, error) {
	var run intake.Run
	var status string
	var finished *time.Time
	if err := row.Scan(&run.ID, &run.Source, &status, &run.StartedAt, &finished,
		&run.Submitted, &run.Ingested, &run.Duplicates, &run.Failed, &run.Retried); err != nil {
		return nil, err
	}
	run.Status = intake.RunStatus(status)
	if finished != nil {
		run.FinishedAt = *finished
	}
	return &run, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
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
