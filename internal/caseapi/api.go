// Package caseapi exposes the case intelligence HTTP API: vault
// tokenization, case intake, the review queue, and dossier plans.
package caseapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/i4g/internal/dossier"
	"github.com/linnemanlabs/i4g/internal/intake"
	"github.com/linnemanlabs/i4g/internal/pii"
	"github.com/linnemanlabs/i4g/internal/review"
)

// VaultService defines the tokenization operations the API needs.
type VaultService interface {
	Tokenize(ctx context.Context, value, prefix string, opts pii.TokenizeOpts) (*pii.Tokenized, error)
	TokenizeEntities(ctx context.Context, entities map[string][]string, opts pii.TokenizeOpts) (map[string][]pii.EntityToken, error)
	RequestDetokenize(ctx context.Context, token, requestor, reason, caseID string) (*pii.DetokRequest, error)
	Approve(ctx context.Context, requestID, approver string) (*pii.DetokRequest, error)
	Deny(ctx context.Context, requestID, approver, reason string) (*pii.DetokRequest, error)
	Detokenize(ctx context.Context, token, requestID, actor, caseID string) (*pii.Revealed, error)
	PepperConfigured() bool
	PepperVersion() string
	EncryptionEnabled() bool
}

// CaseService defines the intake operations the API needs.
type CaseService interface {
	Submit(ctx context.Context, sub intake.Submission) (*intake.Case, bool, error)
	IngestBatch(ctx context.Context, source string, subs []intake.Submission) (*intake.Run, error)
	Get(ctx context.Context, caseID string) (*intake.Case, error)
	List(ctx context.Context, filter intake.CaseFilter) ([]*intake.Case, error)
	UpdateMetadata(ctx context.Context, caseID string, metadata map[string]any) error
	Run(ctx context.Context, runID string) (*intake.Run, error)
	Runs(ctx context.Context, limit int) ([]*intake.Run, error)
}

// ReviewService defines the review queue operations the API needs.
type ReviewService interface {
	Enqueue(ctx context.Context, caseID, priority string) (*review.Review, error)
	Get(ctx context.Context, reviewID string) (*review.Review, error)
	Queue(ctx context.Context, status review.Status, limit int) ([]*review.Review, error)
	ByCase(ctx context.Context, caseID string, limit int) ([]*review.Review, error)
	UpdateStatus(ctx context.Context, reviewID string, status review.Status, actor, notes string) (*review.Review, error)
	Assign(ctx context.Context, reviewID, assignee, actor string) (*review.Review, error)
	LogAction(ctx context.Context, reviewID, actor, action string, payload map[string]any) (*review.Action, error)
	Actions(ctx context.Context, reviewID string) ([]*review.Action, error)
	RecentActions(ctx context.Context, action string, limit int) ([]*review.Action, error)
	SaveSearch(ctx context.Context, search *review.SavedSearch) (*review.SavedSearch, error)
	ImportSearches(ctx context.Context, owner string, searches []*review.SavedSearch) (imported, skipped int, err error)
	CloneSearch(ctx context.Context, searchID, targetOwner string) (*review.SavedSearch, error)
	GetSearch(ctx context.Context, searchID string) (*review.SavedSearch, error)
	ListSearches(ctx context.Context, owner string, limit int) ([]*review.SavedSearch, error)
	DeleteSearch(ctx context.Context, searchID string) error
	Candidates(ctx context.Context, status review.Status, limit int) ([]*review.Candidate, error)
}

// DossierService defines the dossier operations the API needs.
type DossierService interface {
	Enqueue(ctx context.Context, title string, caseIDs []string, filters map[string]any, requestedBy string) (*dossier.Plan, error)
	Get(ctx context.Context, planID string) (*dossier.Plan, error)
	List(ctx context.Context, status dossier.PlanStatus, limit int) ([]*dossier.Plan, error)
	Verify(ctx context.Context, planID string) (*dossier.VerificationReport, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	vault    VaultService
	cases    CaseService
	reviews  ReviewService
	dossiers DossierService
}

// New creates a new API handler. dossiers may be nil when dossier
// generation is not configured.
func New(logger log.Logger, vault VaultService, cases CaseService, reviews ReviewService, dossiers DossierService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if vault == nil {
		panic(xerrors.New("vault service is required"))
	}
	if cases == nil {
		panic(xerrors.New("case service is required"))
	}
	if reviews == nil {
		panic(xerrors.New("review service is required"))
	}
	return &API{
		logger:   logger,
		vault:    vault,
		cases:    cases,
		reviews:  reviews,
		dossiers: dossiers,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tokenization/tokenize", a.handleTokenize)
		r.Post("/tokenization/entities", a.handleTokenizeEntities)
		r.Get("/tokenization/health", a.handleVaultHealth)

		r.Post("/accounts/extract", a.handleExtract)

		r.Post("/tokenization/requests", a.handleRequestDetokenize)
		r.Post("/tokenization/requests/{id}/approve", a.handleApprove)
		r.Post("/tokenization/requests/{id}/deny", a.handleDeny)
		r.Post("/tokenization/detokenize", a.handleReveal)

		r.Post("/cases", a.handleSubmitCase)
		r.Get("/cases", a.handleListCases)
		r.Get("/cases/{id}", a.handleGetCase)
		r.Patch("/cases/{id}/metadata", a.handleUpdateMetadata)
		r.Get("/cases/{id}/reviews", a.handleReviewsByCase)

		r.Post("/ingest", a.handleIngestBatch)
		r.Get("/runs", a.handleListRuns)
		r.Get("/runs/{id}", a.handleGetRun)

		r.Post("/reviews", a.handleEnqueueReview)
		r.Get("/reviews", a.handleReviewQueue)
		r.Get("/reviews/{id}", a.handleGetReview)
		r.Post("/reviews/{id}/status", a.handleReviewStatus)
		r.Post("/reviews/{id}/assign", a.handleAssignReview)
		r.Post("/reviews/{id}/actions", a.handleLogAction)
		r.Get("/reviews/{id}/actions", a.handleReviewActions)
		r.Get("/actions", a.handleRecentActions)

		r.Post("/searches", a.handleSaveSearch)
		r.Post("/searches/import", a.handleImportSearches)
		r.Get("/searches", a.handleListSearches)
		r.Get("/searches/{id}", a.handleGetSearch)
		r.Delete("/searches/{id}", a.handleDeleteSearch)
		r.Post("/searches/{id}/clone", a.handleCloneSearch)

		r.Get("/reviews/candidates", a.handleCandidates)

		r.Post("/dossiers", a.handleEnqueueDossier)
		r.Get("/dossiers", a.handleListDossiers)
		r.Get("/dossiers/{id}", a.handleGetDossier)
		r.Post("/dossiers/{id}/verify", a.handleVerifyDossier)
	})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, pii.ErrInvalidValue),
		errors.Is(err, intake.ErrInvalidSubmission):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, pii.ErrTokenNotFound),
		errors.Is(err, pii.ErrRequestNotFound),
		errors.Is(err, intake.ErrCaseNotFound),
		errors.Is(err, intake.ErrRunNotFound),
		errors.Is(err, review.ErrReviewNotFound),
		errors.Is(err, review.ErrSearchNotFound),
		errors.Is(err, dossier.ErrPlanNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, pii.ErrNotApproved),
		errors.Is(err, pii.ErrSelfApproval):
		status, msg = http.StatusForbidden, err.Error()
	case errors.Is(err, pii.ErrExpired):
		status, msg = http.StatusGone, err.Error()
	case errors.Is(err, pii.ErrUnavailable):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, review.ErrDuplicateSearch),
		errors.Is(err, review.ErrBadTransition):
		status, msg = http.StatusConflict, err.Error()
	default:
		a.logger.Error(r.Context(), err, "request failed",
			"method", r.Method,
			"path", r.URL.Path,
		)
	}

	a.writeJSON(w, status, map[string]string{"error": msg})
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, msg string) {
	http.Error(w, `{"error":"`+msg+`"}`, http.StatusBadRequest)
}
