package review

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

var (
	ErrReviewNotFound  = errors.New("review not found")
	ErrSearchNotFound  = errors.New("saved search not found")
	ErrDuplicateSearch = errors.New("saved search name already in use")
	ErrBadTransition   = errors.New("invalid review status transition")
)

// Notifier receives review lifecycle events worth surfacing to humans.
type Notifier interface {
	ReviewEscalated(ctx context.Context, reviewID, caseID, priority string) error
}

// MetadataSource resolves case metadata for candidate metric computation.
type MetadataSource interface {
	CaseMetadata(ctx context.Context, caseIDs []string) (map[string]map[string]any, error)
}

// MetadataSourceFunc adapts a plain function to MetadataSource.
type MetadataSourceFunc func(ctx context.Context, caseIDs []string) (map[string]map[string]any, error)

// CaseMetadata implements MetadataSource.
func (f MetadataSourceFunc) CaseMetadata(ctx context.Context, caseIDs []string) (map[string]map[string]any, error) {
	return f(ctx, caseIDs)
}

// Service manages the analyst review queue, its audit trail, and saved
// searches.
type Service struct {
	store    Store
	meta     MetadataSource
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
}

// NewService creates a review service. meta, metrics, and notifier may be
// nil; candidates degrade to metadata-free rows without a MetadataSource.
func NewService(store Store, meta MetadataSource, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{store: store, meta: meta, logger: logger, metrics: metrics, notifier: notifier}
}

// Enqueue adds a case to the review queue and returns the new entry.
func (s *Service) Enqueue(ctx context.Context, caseID, priority string) (*Review, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, errors.New("case id is required")
	}
	if priority == "" {
		priority = PriorityMedium
	}
	now := time.Now().UTC()
	rev := &Review{
		ID:          ulid.Make().String(),
		CaseID:      caseID,
		QueuedAt:    now,
		Priority:    priority,
		Status:      StatusQueued,
		LastUpdated: now,
	}
	if err := s.store.UpsertReview(ctx, rev); err != nil {
		return nil, fmt.Errorf("enqueue review: %w", err)
	}
	if s.metrics != nil {
		s.metrics.EnqueuedTotal.WithLabelValues(priority).Inc()
	}
	s.logger.Info(ctx, "case enqueued for review", "review_id", rev.ID, "case_id", caseID, "priority", priority)
	return rev, nil
}

// Get returns a single review entry.
func (s *Service) Get(ctx context.Context, reviewID string) (*Review, error) {
	rev, ok, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReviewNotFound
	}
	return rev, nil
}

// Queue lists queue entries, oldest first, filtered by status.
func (s *Service) Queue(ctx context.Context, status Status, limit int) ([]*Review, error) {
	if status == "" {
		status = StatusQueued
	}
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	if limit <= 0 {
		limit = 25
	}
	return s.store.ListReviews(ctx, QueueFilter{Status: status, Limit: limit})
}

// ByCase returns the most recent queue entries for a case.
func (s *Service) ByCase(ctx context.Context, caseID string, limit int) ([]*Review, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.store.ReviewsByCase(ctx, caseID, limit)
}

// UpdateStatus transitions a review along the queue lifecycle, records the
// change in the audit trail, and notifies on escalation. Transitions outside
// the chain return ErrBadTransition.
func (s *Service) UpdateStatus(ctx context.Context, reviewID string, status Status, actor, notes string) (*Review, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrBadTransition, status)
	}
	rev, ok, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReviewNotFound
	}
	if status == rev.Status {
		return rev, nil
	}
	if rev.Status.Terminal() {
		return nil, fmt.Errorf("%w: review is already %s", ErrBadTransition, rev.Status)
	}
	if !rev.Status.CanTransition(status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrBadTransition, rev.Status, status)
	}

	from := rev.Status
	rev.Status = status
	if notes != "" {
		rev.Notes = notes
	}
	rev.LastUpdated = time.Now().UTC()
	if err := s.store.UpsertReview(ctx, rev); err != nil {
		return nil, fmt.Errorf("update review: %w", err)
	}

	if _, err := s.LogAction(ctx, reviewID, actor, "status_change", map[string]any{
		"from":  string(from),
		"to":    string(status),
		"notes": notes,
	}); err != nil {
		s.logger.Error(ctx, err, "audit action not recorded", "review_id", reviewID)
	}

	if s.metrics != nil {
		s.metrics.TransitionsTotal.WithLabelValues(string(status)).Inc()
	}
	if status == StatusEscalated {
		if s.metrics != nil {
			s.metrics.EscalationsTotal.Inc()
		}
		if s.notifier != nil {
			if err := s.notifier.ReviewEscalated(ctx, rev.ID, rev.CaseID, rev.Priority); err != nil {
				s.logger.Error(ctx, err, "escalation notification failed", "review_id", rev.ID)
			}
		}
	}
	return rev, nil
}

// Assign sets the analyst responsible for a review.
func (s *Service) Assign(ctx context.Context, reviewID, assignee, actor string) (*Review, error) {
	rev, ok, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReviewNotFound
	}
	rev.AssignedTo = assignee
	rev.LastUpdated = time.Now().UTC()
	if err := s.store.UpsertReview(ctx, rev); err != nil {
		return nil, fmt.Errorf("assign review: %w", err)
	}
	if _, err := s.LogAction(ctx, reviewID, actor, "assign", map[string]any{"assigned_to": assignee}); err != nil {
		s.logger.Error(ctx, err, "audit action not recorded", "review_id", reviewID)
	}
	return rev, nil
}

// LogAction appends an audit-trail entry for a review.
func (s *Service) LogAction(ctx context.Context, reviewID, actor, action string, payload map[string]any) (*Action, error) {
	act := &Action{
		ID:        ulid.Make().String(),
		ReviewID:  reviewID,
		Actor:     actor,
		Action:    action,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendAction(ctx, act); err != nil {
		return nil, fmt.Errorf("append action: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ActionsTotal.WithLabelValues(action).Inc()
	}
	return act, nil
}

// Actions returns the audit trail for a review, oldest first.
func (s *Service) Actions(ctx context.Context, reviewID string) ([]*Action, error) {
	return s.store.ListActions(ctx, ActionFilter{ReviewID: reviewID})
}

// RecentActions returns the newest actions across all reviews, optionally
// filtered by action name.
func (s *Service) RecentActions(ctx context.Context, action string, limit int) ([]*Action, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListActions(ctx, ActionFilter{Action: action, Limit: limit})
}

// SaveSearch creates or replaces a saved search. Names must be unique per
// owner scope, compared case-insensitively.
func (s *Service) SaveSearch(ctx context.Context, search *SavedSearch) (*SavedSearch, error) {
	if strings.TrimSpace(search.Name) == "" {
		return nil, errors.New("saved search name is required")
	}
	if search.ID == "" {
		search.ID = "saved:" + ulid.Make().String()
	}
	if search.CreatedAt.IsZero() {
		search.CreatedAt = time.Now().UTC()
	}
	if search.Params == nil {
		search.Params = map[string]any{}
	}
	search.Tags = normalizeTags(search.Tags)

	if dup, ok, err := s.store.FindSearchByName(ctx, search.Owner, search.Name); err != nil {
		return nil, err
	} else if ok && dup.ID != search.ID {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSearch, search.Name)
	}
	if err := s.store.UpsertSearch(ctx, search); err != nil {
		return nil, fmt.Errorf("save search: %w", err)
	}
	return search, nil
}

// CloneSearch copies an existing saved search to another owner.
func (s *Service) CloneSearch(ctx context.Context, searchID, targetOwner string) (*SavedSearch, error) {
	src, ok, err := s.store.GetSearch(ctx, searchID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSearchNotFound
	}
	clone := &SavedSearch{
		Name:     src.Name,
		Owner:    targetOwner,
		Params:   src.Params,
		Favorite: src.Favorite,
		Tags:     src.Tags,
	}
	return s.SaveSearch(ctx, clone)
}

// ImportSearches bulk-loads saved searches under owner. Entries that fail
// validation or collide with an existing name are skipped, not fatal, so a
// partially stale export still imports the rest.
func (s *Service) ImportSearches(ctx context.Context, owner string, searches []*SavedSearch) (imported, skipped int, err error) {
	for _, src := range searches {
		if src == nil || strings.TrimSpace(src.Name) == "" {
			skipped++
			continue
		}
		copyOf := &SavedSearch{
			Name:     src.Name,
			Owner:    owner,
			Params:   src.Params,
			Favorite: src.Favorite,
			Tags:     src.Tags,
		}
		if owner == "" {
			copyOf.Owner = src.Owner
		}
		if _, saveErr := s.SaveSearch(ctx, copyOf); saveErr != nil {
			if !errors.Is(saveErr, ErrDuplicateSearch) {
				return imported, skipped, saveErr
			}
			s.logger.Warn(ctx, "saved search skipped on import", "name", src.Name, "error", saveErr)
			skipped++
			continue
		}
		imported++
	}
	return imported, skipped, nil
}

// GetSearch returns a saved search by id.
func (s *Service) GetSearch(ctx context.Context, searchID string) (*SavedSearch, error) {
	search, ok, err := s.store.GetSearch(ctx, searchID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSearchNotFound
	}
	return search, nil
}

// ListSearches returns saved searches visible to owner, favorites first.
func (s *Service) ListSearches(ctx context.Context, owner string, limit int) ([]*SavedSearch, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListSearches(ctx, owner, limit)
}

// DeleteSearch removes a saved search.
func (s *Service) DeleteSearch(ctx context.Context, searchID string) error {
	deleted, err := s.store.DeleteSearch(ctx, searchID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrSearchNotFound
	}
	return nil
}

// Candidates returns queue entries in the given status enriched with dossier
// selection metrics derived from case metadata.
func (s *Service) Candidates(ctx context.Context, status Status, limit int) ([]*Candidate, error) {
	if status == "" {
		status = StatusAccepted
	}
	if limit <= 0 {
		limit = 200
	}
	reviews, err := s.store.ListReviews(ctx, QueueFilter{Status: status, Limit: limit})
	if err != nil {
		return nil, err
	}

	var metadata map[string]map[string]any
	if s.meta != nil && len(reviews) > 0 {
		ids := make([]string, 0, len(reviews))
		for _, rev := range reviews {
			ids = append(ids, rev.CaseID)
		}
		metadata, err = s.meta.CaseMetadata(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("case metadata: %w", err)
		}
	}

	out := make([]*Candidate, 0, len(reviews))
	for _, rev := range reviews {
		acceptedAt := rev.LastUpdated
		if acceptedAt.IsZero() {
			acceptedAt = rev.QueuedAt
		}
		out = append(out, NewCandidate(rev.CaseID, rev.Status, acceptedAt, metadata[rev.CaseID]))
	}
	return out, nil
}

// NewCandidate derives the dossier selection metrics for one case from its
// metadata.
func NewCandidate(caseID string, status Status, acceptedAt time.Time, meta map[string]any) *Candidate {
	loss := lossAmount(meta)
	jurisdiction := jurisdictionOf(meta)
	victim := countryOf(meta, "victim_country", "victim_state", "jurisdiction_country")
	offender := countryOf(meta, "offender_country", "scammer_country", "jurisdiction_country")
	return &Candidate{
		CaseID:          caseID,
		Status:          status,
		AcceptedAt:      acceptedAt,
		LossAmountUSD:   loss,
		Jurisdiction:    jurisdiction,
		VictimCountry:   victim,
		OffenderCountry: offender,
		CrossBorder:     victim != "" && offender != "" && victim != offender,
		LossBand:        LossBand(loss),
		GeoBucket:       GeoBucket(jurisdiction, victim),
	}
}

// LossBand buckets a reported loss into coarse dossier bands.
func LossBand(loss *float64) string {
	switch {
	case loss == nil:
		return "unknown"
	case *loss >= 250000:
		return "250k-plus"
	case *loss >= 100000:
		return "100k-250k"
	case *loss >= 50000:
		return "50k-100k"
	default:
		return "below-50k"
	}
}

// GeoBucket reduces a jurisdiction like "US-CA" to its leading segment,
// falling back to the victim country.
func GeoBucket(jurisdiction, victimCountry string) string {
	if jurisdiction == "" || jurisdiction == "unknown" {
		if victimCountry != "" {
			return victimCountry
		}
		return "unknown"
	}
	if i := strings.Index(jurisdiction, "-"); i > 0 {
		return jurisdiction[:i]
	}
	return jurisdiction
}

func lossAmount(meta map[string]any) *float64 {
	for _, key := range []string{"loss_amount_usd", "loss_usd", "loss_amount", "loss"} {
		v, ok := meta[key]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return &n
		case int:
			f := float64(n)
			return &f
		case int64:
			f := float64(n)
			return &f
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

func jurisdictionOf(meta map[string]any) string {
	for _, key := range []string{"jurisdiction", "victim_jurisdiction", "victim_state", "victim_country"} {
		if v, ok := meta[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return "unknown"
}

func countryOf(meta map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := meta[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.ToUpper(strings.TrimSpace(v))
		}
	}
	return ""
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}
