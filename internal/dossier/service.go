package dossier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"github.com/viant/afs"
)

var ErrPlanNotFound = errors.New("dossier plan not found")

// Service is the business boundary for dossier plans: it queues plans,
// drives generation asynchronously, and verifies signature manifests.
type Service struct {
	store   Store
	gen     *Generator
	fs      afs.Service
	logger  log.Logger
	metrics *Metrics
}

// NewService creates a dossier service. metrics may be nil.
func NewService(store Store, gen *Generator, fs afs.Service, logger log.Logger, metrics *Metrics) (*Service, error) {
	if store == nil {
		return nil, errors.New("dossier store is required")
	}
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	if fs == nil {
		fs = afs.New()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{store: store, gen: gen, fs: fs, logger: logger, metrics: metrics}, nil
}

// Enqueue records a pending plan and kicks off asynchronous generation.
// A plan covering the same case set that is still pending or in progress
// is returned instead of queuing a duplicate.
func (s *Service) Enqueue(ctx context.Context, title string, caseIDs []string, filters map[string]any, requestedBy string) (*Plan, error) {
	if len(caseIDs) == 0 {
		return nil, errors.New("a dossier plan needs at least one case")
	}
	fp := caseFingerprint(caseIDs)
	if existing, ok, err := s.store.FindActivePlan(ctx, fp); err != nil {
		return nil, fmt.Errorf("check active plans: %w", err)
	} else if ok {
		s.logger.Info(ctx, "dossier plan already queued for case set", "plan_id", existing.ID, "status", existing.Status)
		return existing, nil
	}
	plan := &Plan{
		ID:          ulid.Make().String(),
		Title:       strings.TrimSpace(title),
		Fingerprint: fp,
		CaseIDs:     caseIDs,
		Filters:     filters,
		RequestedBy: requestedBy,
		Status:      PlanPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.PutPlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("queue plan: %w", err)
	}
	s.logger.Info(ctx, "dossier plan queued", "plan_id", plan.ID, "cases", len(caseIDs))

	// async generation - pass only the ID to avoid sharing the Plan pointer.
	go s.runGeneration(context.WithoutCancel(ctx), plan.ID)

	return plan, nil
}

// caseFingerprint identifies a case set independent of order and repeats.
func caseFingerprint(caseIDs []string) string {
	ids := make([]string, 0, len(caseIDs))
	seen := make(map[string]struct{}, len(caseIDs))
	for _, id := range caseIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:])
}

func (s *Service) runGeneration(ctx context.Context, planID string) {
	L := s.logger.With("plan_id", planID)

	plan, ok, err := s.store.GetPlan(ctx, planID)
	if err != nil || !ok {
		L.Error(ctx, err, "failed to fetch plan for generation")
		return
	}

	plan.Status = PlanInProgress
	plan.StartedAt = time.Now().UTC()
	if err := s.store.PutPlan(ctx, plan); err != nil {
		L.Error(ctx, err, "failed to update status to in_progress")
		return
	}

	result, genErr := s.gen.Generate(ctx, plan)

	plan.FinishedAt = time.Now().UTC()
	if genErr != nil {
		plan.Status = PlanFailed
		plan.Error = genErr.Error()
		if s.metrics != nil {
			s.metrics.FailedTotal.Inc()
		}
		L.Error(ctx, genErr, "dossier generation failed")
	} else {
		plan.Status = PlanComplete
		plan.Artifacts = result.Artifacts
		plan.Warnings = result.Warnings
		if s.metrics != nil {
			s.metrics.GeneratedTotal.Inc()
			s.metrics.GenerateDuration.Observe(plan.FinishedAt.Sub(plan.StartedAt).Seconds())
		}
		L.Info(ctx, "dossier generation complete", "artifacts", len(plan.Artifacts), "warnings", len(plan.Warnings))
	}
	if err := s.store.PutPlan(ctx, plan); err != nil {
		L.Error(ctx, err, "failed to record generation outcome")
	}
}

// Get returns a plan by id.
func (s *Service) Get(ctx context.Context, planID string) (*Plan, error) {
	plan, ok, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPlanNotFound
	}
	return plan, nil
}

// List returns plans filtered by status; an empty status lists everything.
func (s *Service) List(ctx context.Context, status PlanStatus, limit int) ([]*Plan, error) {
	if limit <= 0 {
		limit = 25
	}
	return s.store.ListPlans(ctx, status, limit)
}

// Verify re-hashes every artifact in the plan's signature manifest.
func (s *Service) Verify(ctx context.Context, planID string) (*VerificationReport, error) {
	plan, ok, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPlanNotFound
	}
	manifestURL := s.gen.artifactURL(plan.ID + ".signatures.json")
	report, err := VerifyManifestFile(ctx, s.fs, manifestURL)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		result := "verified"
		if !report.AllVerified() {
			result = "failed"
		}
		s.metrics.VerificationsTotal.WithLabelValues(result).Inc()
	}
	return report, nil
}
