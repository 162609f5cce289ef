package caseapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/i4g/internal/dossier"
)

func (a *API) dossiersEnabled(w http.ResponseWriter) bool {
	if a.dossiers == nil {
		http.Error(w, `{"error":"dossier generation is not configured"}`, http.StatusNotImplemented)
		return false
	}
	return true
}

func (a *API) handleEnqueueDossier(w http.ResponseWriter, r *http.Request) {
	if !a.dossiersEnabled(w) {
		return
	}

	var req struct {
		Title       string         `json:"title,omitempty"`
		CaseIDs     []string       `json:"case_ids"`
		Filters     map[string]any `json:"filters,omitempty"`
		RequestedBy string         `json:"requested_by,omitempty"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if len(req.CaseIDs) == 0 {
		badRequest(w, "case_ids are required")
		return
	}

	plan, err := a.dossiers.Enqueue(r.Context(), req.Title, req.CaseIDs, req.Filters, actor(r, req.RequestedBy))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("i4g.dossier.plan_id", plan.ID))

	a.writeJSON(w, http.StatusAccepted, plan)
}

func (a *API) handleGetDossier(w http.ResponseWriter, r *http.Request) {
	if !a.dossiersEnabled(w) {
		return
	}
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("i4g.dossier.plan_id", id))

	plan, err := a.dossiers.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("i4g.dossier.status", string(plan.Status)))
	a.writeJSON(w, http.StatusOK, plan)
}

func (a *API) handleListDossiers(w http.ResponseWriter, r *http.Request) {
	if !a.dossiersEnabled(w) {
		return
	}
	status := dossier.PlanStatus(r.URL.Query().Get("status"))
	plans, err := a.dossiers.List(r.Context(), status, queryInt(r, "limit", 0))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (a *API) handleVerifyDossier(w http.ResponseWriter, r *http.Request) {
	if !a.dossiersEnabled(w) {
		return
	}
	report, err := a.dossiers.Verify(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, report)
}
