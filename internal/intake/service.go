package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/i4g/internal/detect"
	"github.com/linnemanlabs/i4g/internal/pii"
	"github.com/linnemanlabs/i4g/internal/review"
	"github.com/linnemanlabs/i4g/internal/textnorm"
)

var (
	ErrCaseNotFound      = errors.New("case not found")
	ErrRunNotFound       = errors.New("ingestion run not found")
	ErrInvalidSubmission = errors.New("invalid submission")
)

// Tokenizer swaps entity values for vault tokens.
type Tokenizer interface {
	TokenizeEntities(ctx context.Context, entities map[string][]string, opts pii.TokenizeOpts) (map[string][]pii.EntityToken, error)
}

// ReviewQueue enqueues ingested cases for analyst review.
type ReviewQueue interface {
	Enqueue(ctx context.Context, caseID, priority string) (*review.Review, error)
}

// Options tunes ingestion behavior.
type Options struct {
	// ReviewThreshold is the fraud confidence at or above which a new case
	// is enqueued for analyst review.
	ReviewThreshold float64

	// HighPriority is the confidence at or above which the review entry is
	// queued high priority instead of medium.
	HighPriority float64

	// KeywordMinLen is the minimum keyword length kept during text
	// normalization.
	KeywordMinLen int

	// RetryInterval and RetryLimit control the failed-submission replay
	// loop.
	RetryInterval time.Duration
	RetryLimit    int
}

func (o *Options) withDefaults() {
	if o.ReviewThreshold <= 0 {
		o.ReviewThreshold = 0.6
	}
	if o.HighPriority <= 0 {
		o.HighPriority = 0.9
	}
	if o.KeywordMinLen <= 0 {
		o.KeywordMinLen = 2
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 30 * time.Second
	}
	if o.RetryLimit <= 0 {
		o.RetryLimit = 3
	}
}

type pendingRetry struct {
	sub      Submission
	runID    string
	attempts int
}

// Service ingests scam reports: it deduplicates by dataset and text hash,
// extracts and tokenizes indicators, and routes confident cases into the
// analyst review queue. Failed submissions are replayed from an in-process
// retry queue.
type Service struct {
	store   Store
	vault   Tokenizer
	reviews ReviewQueue
	logger  log.Logger
	metrics *Metrics
	opts    Options

	mu      sync.Mutex
	retries []pendingRetry
}

// NewService creates an ingestion service. reviews and metrics may be nil.
func NewService(store Store, vault Tokenizer, reviews ReviewQueue, opts Options, logger log.Logger, metrics *Metrics) (*Service, error) {
	if store == nil {
		return nil, errors.New("intake store is required")
	}
	if vault == nil {
		return nil, errors.New("tokenizer is required")
	}
	if logger == nil {
		logger = log.Nop()
	}
	opts.withDefaults()
	return &Service{
		store:   store,
		vault:   vault,
		reviews: reviews,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
	}, nil
}

// TextHash returns the dedup hash for a report body.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Submit ingests one report. It returns the stored case and whether it was
// newly created; a duplicate returns the existing case with created=false.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Case, bool, error) {
	dataset := strings.TrimSpace(sub.Dataset)
	if dataset == "" {
		return nil, false, fmt.Errorf("%w: dataset is required", ErrInvalidSubmission)
	}
	if strings.TrimSpace(sub.Text) == "" {
		return nil, false, fmt.Errorf("%w: report text is required", ErrInvalidSubmission)
	}

	hash := TextHash(sub.Text)
	if existing, ok, err := s.store.FindByHash(ctx, dataset, hash); err != nil {
		return nil, false, fmt.Errorf("dedup lookup: %w", err)
	} else if ok {
		if s.metrics != nil {
			s.metrics.DuplicatesTotal.WithLabelValues(dataset).Inc()
		}
		s.logger.Info(ctx, "duplicate submission", "dataset", dataset, "case_id", existing.ID)
		return existing, false, nil
	}

	caseID := strings.TrimSpace(sub.CaseID)
	if caseID == "" {
		caseID = ulid.Make().String()
	}

	entities := detect.Extract(sub.Text).Merge(sub.Entities)
	tokens, err := s.vault.TokenizeEntities(ctx, entities, pii.TokenizeOpts{
		Detector: detect.DetectorName,
		CaseID:   caseID,
	})
	if err != nil {
		return nil, false, fmt.Errorf("tokenize entities: %w", err)
	}

	now := time.Now().UTC()
	c := &Case{
		ID:              caseID,
		Dataset:         dataset,
		TextHash:        hash,
		Text:            sub.Text,
		FraudType:       orDefault(sub.FraudType, "unknown"),
		FraudConfidence: sub.FraudConfidence,
		Summary:         sub.Summary,
		Channel:         sub.Channel,
		Tags:            sub.Tags,
		EntityTokens:    tokens,
		Keywords:        textnorm.FieldTokens([]string{sub.Text, sub.Summary}, s.opts.KeywordMinLen),
		Metadata:        sub.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	existing, created, err := s.store.InsertCase(ctx, c)
	if err != nil {
		return nil, false, fmt.Errorf("persist case: %w", err)
	}
	if !created {
		if s.metrics != nil {
			s.metrics.DuplicatesTotal.WithLabelValues(dataset).Inc()
		}
		return existing, false, nil
	}

	if s.metrics != nil {
		s.metrics.IngestedTotal.WithLabelValues(dataset).Inc()
		s.metrics.ConfidenceTotal.WithLabelValues(dataset, ConfidenceBucket(c.FraudConfidence)).Inc()
	}
	s.logger.Info(ctx, "case ingested",
		"case_id", c.ID,
		"dataset", dataset,
		"fraud_type", c.FraudType,
		"confidence", c.FraudConfidence,
	)

	s.maybeEnqueueReview(ctx, c)
	return c, true, nil
}

func (s *Service) maybeEnqueueReview(ctx context.Context, c *Case) {
	if s.reviews == nil || c.FraudConfidence < s.opts.ReviewThreshold {
		return
	}
	priority := review.PriorityMedium
	if c.FraudConfidence >= s.opts.HighPriority {
		priority = review.PriorityHigh
	}
	if _, err := s.reviews.Enqueue(ctx, c.ID, priority); err != nil {
		// Review routing is best effort; the case itself is already stored.
		s.logger.Error(ctx, err, "review enqueue failed", "case_id", c.ID)
	}
}

// IngestBatch processes a batch of submissions under one audited run.
// Failures are pushed onto the retry queue and counted, not fatal.
func (s *Service) IngestBatch(ctx context.Context, source string, subs []Submission) (*Run, error) {
	run := &Run{
		ID:        ulid.Make().String(),
		Source:    orDefault(source, "api"),
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
		Submitted: len(subs),
	}
	if err := s.store.PutRun(ctx, run); err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			run.Status = RunFailed
			break
		}
		_, created, err := s.Submit(ctx, sub)
		switch {
		case err != nil:
			run.Failed++
			s.pushRetry(sub, run.ID)
			s.logger.Error(ctx, err, "submission failed", "run_id", run.ID, "dataset", sub.Dataset)
		case created:
			run.Ingested++
		default:
			run.Duplicates++
		}
	}

	run.FinishedAt = time.Now().UTC()
	if run.Status == RunRunning {
		run.Status = RunComplete
	}
	if err := s.store.PutRun(ctx, run); err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RunDuration.Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	}
	s.logger.Info(ctx, "ingestion run finished",
		"run_id", run.ID,
		"source", run.Source,
		"ingested", run.Ingested,
		"duplicates", run.Duplicates,
		"failed", run.Failed,
	)
	return run, nil
}

func (s *Service) pushRetry(sub Submission, runID string) {
	if s.metrics != nil {
		s.metrics.FailuresTotal.WithLabelValues(sub.Dataset).Inc()
	}
	s.mu.Lock()
	s.retries = append(s.retries, pendingRetry{sub: sub, runID: runID})
	s.mu.Unlock()
}

// PendingRetries reports the retry queue depth.
func (s *Service) PendingRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retries)
}

// StartRetryLoop replays failed submissions until ctx is canceled.
func (s *Service) StartRetryLoop(ctx context.Context) {
	go s.retryLoop(ctx)
}

func (s *Service) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.DrainRetries(ctx)
		}
	}
}

// DrainRetries replays the queued failures once. Submissions that fail again
// are requeued until RetryLimit is reached.
func (s *Service) DrainRetries(ctx context.Context) {
	s.mu.Lock()
	pending := s.retries
	s.retries = nil
	s.mu.Unlock()

	for _, p := range pending {
		if ctx.Err() != nil {
			return
		}
		if s.metrics != nil {
			s.metrics.RetriesTotal.Inc()
		}
		_, _, err := s.Submit(ctx, p.sub)
		if err == nil {
			s.recordRetry(ctx, p.runID)
			continue
		}
		p.attempts++
		if p.attempts >= s.opts.RetryLimit {
			s.logger.Error(ctx, err, "submission dropped after retries", "dataset", p.sub.Dataset, "attempts", p.attempts)
			continue
		}
		s.mu.Lock()
		s.retries = append(s.retries, p)
		s.mu.Unlock()
	}
}

// recordRetry attributes a successful replay back to its originating run.
func (s *Service) recordRetry(ctx context.Context, runID string) {
	if runID == "" {
		return
	}
	run, ok, err := s.store.GetRun(ctx, runID)
	if err == nil && !ok {
		err = ErrRunNotFound
	}
	if err != nil {
		s.logger.Error(ctx, err, "retry attribution lookup failed", "run_id", runID)
		return
	}
	run.Retried++
	if err := s.store.PutRun(ctx, run); err != nil {
		s.logger.Error(ctx, err, "retry attribution update failed", "run_id", runID)
	}
}
func (s *Service) Get(ctx context.Context, caseID string) (*Case, error) {
	c, ok, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCaseNotFound
	}
	return c, nil
}

// List returns cases matching the filter.
func (s *Service) List(ctx context.Context, filter CaseFilter) ([]*Case, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return s.store.ListCases(ctx, filter)
}

// UpdateMetadata merges metadata onto a case.
func (s *Service) UpdateMetadata(ctx context.Context, caseID string, metadata map[string]any) error {
	if _, ok, err := s.store.GetCase(ctx, caseID); err != nil {
		return err
	} else if !ok {
		return ErrCaseNotFound
	}
	return s.store.UpdateCaseMetadata(ctx, caseID, metadata)
}

// Run returns an ingestion run by id.
func (s *Service) Run(ctx context.Context, runID string) (*Run, error) {
	run, ok, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// Runs returns the most recent ingestion runs.
func (s *Service) Runs(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.ListRuns(ctx, limit)
}

// CaseMetadata resolves metadata for the given case ids. It satisfies the
// review service's metadata source.
func (s *Service) CaseMetadata(ctx context.Context, caseIDs []string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(caseIDs))
	for _, id := range caseIDs {
		c, ok, err := s.store.GetCase(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok && c.Metadata != nil {
			out[id] = c.Metadata
		}
	}
	return out, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
