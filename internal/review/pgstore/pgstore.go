// Package pgstore provides a PostgreSQL implementation of review.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/i4g/internal/review"
)

var tracer = otel.Tracer("github.com/linnemanlabs/i4g/internal/review/pgstore")

//go:embed schema.sql
var schema string

// Store persists the review queue in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the review schema and returns a ready Store.
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

const reviewColumns = `review_id, case_id, queued_at, priority, status, assigned_to, notes, last_updated`

func (s *Store) UpsertReview(ctx context.Context, rev *review.Review) error {
	ctx, span := s.span(ctx, "pgstore.UpsertReview", "UPSERT")
	defer span.End()

	query := `INSERT INTO review_queue (` + reviewColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (review_id) DO UPDATE SET
		case_id      = EXCLUDED.case_id,
		priority     = EXCLUDED.priority,
		status       = EXCLUDED.status,
		assigned_to  = EXCLUDED.assigned_to,
		notes        = EXCLUDED.notes,
		last_updated = EXCLUDED.last_updated`

	_, err := s.pool.Exec(ctx, query,
		rev.ID, rev.CaseID, rev.QueuedAt, rev.Priority, string(rev.Status),
		nullable(rev.AssignedTo), nullable(rev.Notes), rev.LastUpdated,
	)
	if err != nil {
		return fail(span, err, "upsert review")
	}
	return nil
}

func (s *Store) GetReview(ctx context.Context, reviewID string) (*review.Review, bool, error) {
	ctx, span := s.span(ctx, "pgstore.GetReview", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM review_queue WHERE review_id = $1`, reviewID)
	rev, err := scanReview(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err, "get review")
	}
	return rev, true, nil
}

func (s *Store) ListReviews(ctx context.Context, filter review.QueueFilter) ([]*review.Review, error) {
	ctx, span := s.span(ctx, "pgstore.ListReviews", "SELECT")
	defer span.End()

	limit := filter.Limit
	if limit <= 0 {
		limit = 25
	}
	query := `SELECT ` + reviewColumns + ` FROM review_queue WHERE status = $1`
	args := []any{string(filter.Status)}
	if filter.CaseID != "" {
		query += ` AND case_id = $2`
		args = append(args, filter.CaseID)
	}
	query += fmt.Sprintf(` ORDER BY queued_at ASC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, err, "list reviews")
	}
	defer rows.Close()

	var out []*review.Review
	for rows.Next() {
		rev, err := scanReview(rows)
		if err != nil {
			return nil, fail(span, err, "scan review")
		}
		out = append(out, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, err, "list reviews")
	}
	return out, nil
}

func (s *Store) ReviewsByCase(ctx context.Context, caseID string, limit int) ([]*review.Review, error) {
	ctx, span := s.span(ctx, "pgstore.ReviewsByCase", "SELECT")
	defer span.End()

	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+reviewColumns+` FROM review_queue WHERE case_id = $1 ORDER BY queued_at DESC LIMIT $2`,
		caseID, limit,
	)
	if err != nil {
		return nil, fail(span, err, "reviews by case")
	}
	defer rows.Close()

	var out []*review.Review
	for rows.Next() {
		rev, err := scanReview(rows)
		if err != nil {
			return nil, fail(span, err, "scan review")
		}
		out = append(out, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, err, "reviews by case")
	}
	return out, nil
}

func (s *Store) AppendAction(ctx context.Context, act *review.Action) error {
	ctx, span := s.span(ctx, "pgstore.AppendAction", "INSERT")
	defer span.End()

	payload := act.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO review_actions (action_id, review_id, actor, action, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		act.ID, act.ReviewID, nullable(act.Actor), act.Action, payload, act.CreatedAt,
	)
	if err != nil {
		return fail(span, err, "append action")
	}
	return nil
}

func (s *Store) ListActions(ctx context.Context, filter review.ActionFilter) ([]*review.Action, error) {
	ctx, span := s.span(ctx, "pgstore.ListActions", "SELECT")
	defer span.End()

	query := `SELECT action_id, review_id, actor, action, payload, created_at FROM review_actions`
	var args []any
	switch {
	case filter.ReviewID != "":
		query += ` WHERE review_id = $1 ORDER BY created_at ASC`
		args = append(args, filter.ReviewID)
	case filter.Action != "":
		query += ` WHERE action = $1 ORDER BY created_at DESC`
		args = append(args, filter.Action)
	default:
		query += ` ORDER BY created_at DESC`
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, err, "list actions")
	}
	defer rows.Close()

	var out []*review.Action
	for rows.Next() {
		var act review.Action
		var actor *string
		if err := rows.Scan(&act.ID, &act.ReviewID, &actor, &act.Action, &act.Payload, &act.CreatedAt); err != nil {
			return nil, fail(span, err, "scan action")
		}
		act.Actor = deref(actor)
		out = append(out, &act)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, err, "list actions")
	}
	return out, nil
}

func (s *Store) UpsertSearch(ctx context.Context, search *review.SavedSearch) error {
	ctx, span := s.span(ctx, "pgstore.UpsertSearch", "UPSERT")
	defer span.End()

	params := search.Params
	if params == nil {
		params = map[string]any{}
	}
	tags := search.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO saved_searches (search_id, name, owner, params, created_at, favorite, tags)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (search_id) DO UPDATE SET
			name     = EXCLUDED.name,
			owner    = EXCLUDED.owner,
			params   = EXCLUDED.params,
			favorite = EXCLUDED.favorite,
			tags     = EXCLUDED.tags`,
		search.ID, search.Name, search.Owner, params, search.CreatedAt, search.Favorite, tags,
	)
	if err != nil {
		return fail(span, err, "upsert search")
	}
	return nil
}

const searchColumns = `search_id, name, owner, params, created_at, favorite, tags`

func (s *Store) GetSearch(ctx context.Context, searchID string) (*review.SavedSearch, bool, error) {
	ctx, span := s.span(ctx, "pgstore.GetSearch", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx, `SELECT `+searchColumns+` FROM saved_searches WHERE search_id = $1`, searchID)
	search, err := scanSearch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err, "get search")
	}
	return search, true, nil
}

func (s *Store) FindSearchByName(ctx context.Context, owner, name string) (*review.SavedSearch, bool, error) {
	ctx, span := s.span(ctx, "pgstore.FindSearchByName", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT `+searchColumns+` FROM saved_searches WHERE owner = $1 AND LOWER(name) = LOWER($2)`,
		owner, name,
	)
	search, err := scanSearch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err, "find search")
	}
	return search, true, nil
}

func (s *Store) ListSearches(ctx context.Context, owner string, limit int) ([]*review.SavedSearch, error) {
	ctx, span := s.span(ctx, "pgstore.ListSearches", "SELECT")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + searchColumns + ` FROM saved_searches`
	var args []any
	if owner != "" {
		query += ` WHERE owner = $1 OR owner = ''`
		args = append(args, owner)
	}
	query += fmt.Sprintf(` ORDER BY favorite DESC, created_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, err, "list searches")
	}
	defer rows.Close()

	var out []*review.SavedSearch
	for rows.Next() {
		search, err := scanSearch(rows)
		if err != nil {
			return nil, fail(span, err, "scan search")
		}
		out = append(out, search)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, err, "list searches")
	}
	return out, nil
}

func (s *Store) DeleteSearch(ctx context.Context, searchID string) (bool, error) {
	ctx, span := s.span(ctx, "pgstore.DeleteSearch", "DELETE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM saved_searches WHERE search_id = $1`, searchID)
	if err != nil {
		return false, fail(span, err, "delete search")
	}
	return tag.RowsAffected() > 0, nil
}

func scanReview(row pgx.Row) (*review.Review, error) {
	var rev review.Review
	var status string
	var assignedTo, notes *string
	if err := row.Scan(&rev.ID, &rev.CaseID, &rev.QueuedAt, &rev.Priority, &status,
		&assignedTo, &notes, &rev.LastUpdated); err != nil {
		return nil, err
	}
	rev.Status = review.Status(status)
	rev.AssignedTo = deref(assignedTo)
	rev.Notes = deref(notes)
	return &rev, nil
}

func scanSearch(row pgx.Row) (*review.SavedSearch, error) {
	var search review.SavedSearch
	if err := row.Scan(&search.ID, &search.Name, &search.Owner, &search.Params,
		&search.CreatedAt, &search.Favorite, &search.Tags); err != nil {
		return nil, err
	}
	return &search, nil
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
