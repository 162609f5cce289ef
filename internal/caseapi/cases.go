package caseapi

import (
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/i4g/internal/intake"
)

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func (a *API) handleSubmitCase(w http.ResponseWriter, r *http.Request) {
	var sub intake.Submission
	if !a.decode(w, r, &sub) {
		return
	}

	c, created, err := a.cases.Submit(r.Context(), sub)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("i4g.case.id", c.ID),
		attribute.Bool("i4g.case.created", created),
	)

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	a.writeJSON(w, status, map[string]any{
		"case":      c,
		"duplicate": !created,
	})
}

func (a *API) handleGetCase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("i4g.case.id", id))

	c, err := a.cases.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, c)
}

func (a *API) handleListCases(w http.ResponseWriter, r *http.Request) {
	filter := intake.CaseFilter{
		Dataset:   r.URL.Query().Get("dataset"),
		FraudType: r.URL.Query().Get("fraud_type"),
		Limit:     queryInt(r, "limit", 0),
		Offset:    queryInt(r, "offset", 0),
	}

	cases, err := a.cases.List(r.Context(), filter)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"cases": cases})
}

func (a *API) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Metadata map[string]any `json:"metadata"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if len(req.Metadata) == 0 {
		badRequest(w, "metadata is required")
		return
	}

	if err := a.cases.UpdateMetadata(r.Context(), id, req.Metadata); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (a *API) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source      string              `json:"source"`
		Submissions []intake.Submission `json:"submissions"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if len(req.Submissions) == 0 {
		badRequest(w, "submissions are required")
		return
	}

	run, err := a.cases.IngestBatch(r.Context(), req.Source, req.Submissions)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, run)
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := a.cases.Run(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, run)
}

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := a.cases.Runs(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
