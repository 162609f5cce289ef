package caseapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/i4g/internal/authmw"
	"github.com/linnemanlabs/i4g/internal/detect"
	"github.com/linnemanlabs/i4g/internal/pii"
)

// actor resolves the acting identity: the authenticated bearer identity
// wins, a body-supplied fallback covers unauthenticated deployments.
func actor(r *http.Request, fallback string) string {
	if a := authmw.Actor(r.Context()); a != "" {
		return a
	}
	return fallback
}

func (a *API) handleTokenize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value    string `json:"value"`
		Prefix   string `json:"prefix"`
		Detector string `json:"detector,omitempty"`
		CaseID   string `json:"case_id,omitempty"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if req.Value == "" {
		badRequest(w, "value is required")
		return
	}

	tok, err := a.vault.Tokenize(r.Context(), req.Value, req.Prefix, pii.TokenizeOpts{
		Detector: req.Detector,
		CaseID:   req.CaseID,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, tok)
}

func (a *API) handleTokenizeEntities(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Entities map[string][]string `json:"entities"`
		Detector string              `json:"detector,omitempty"`
		CaseID   string              `json:"case_id,omitempty"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if len(req.Entities) == 0 {
		badRequest(w, "entities are required")
		return
	}

	tokens, err := a.vault.TokenizeEntities(r.Context(), req.Entities, pii.TokenizeOpts{
		Detector: req.Detector,
		CaseID:   req.CaseID,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"entities": tokens})
}

func (a *API) handleRequestDetokenize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token     string `json:"token"`
		Requestor string `json:"requestor,omitempty"`
		Reason    string `json:"reason"`
		CaseID    string `json:"case_id,omitempty"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	requestor := actor(r, req.Requestor)
	if req.Token == "" || requestor == "" {
		badRequest(w, "token and requestor are required")
		return
	}

	dr, err := a.vault.RequestDetokenize(r.Context(), req.Token, requestor, req.Reason, req.CaseID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, dr)
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Approver string `json:"approver,omitempty"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	approver := actor(r, req.Approver)
	if approver == "" {
		badRequest(w, "approver is required")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("i4g.detok.request_id", id))

	dr, err := a.vault.Approve(r.Context(), id, approver)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, dr)
}

func (a *API) handleDeny(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Approver string `json:"approver,omitempty"`
		Reason   string `json:"reason,omitempty"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	approver := actor(r, req.Approver)
	if approver == "" {
		badRequest(w, "approver is required")
		return
	}

	dr, err := a.vault.Deny(r.Context(), id, approver, req.Reason)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, dr)
}

func (a *API) handleReveal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token     string `json:"token"`
		RequestID string `json:"request_id"`
		Actor     string `json:"actor,omitempty"`
		CaseID    string `json:"case_id,omitempty"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	who := actor(r, req.Actor)
	if req.Token == "" || req.RequestID == "" || who == "" {
		badRequest(w, "token, request_id and actor are required")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("i4g.detok.request_id", req.RequestID))

	revealed, err := a.vault.Detokenize(r.Context(), req.Token, req.RequestID, who, req.CaseID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, revealed)
}

// handleVaultHealth reports tokenization readiness without touching any
// stored secrets.
func (a *API) handleVaultHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{
		"pepper_configured":  a.vault.PepperConfigured(),
		"pepper_version":     a.vault.PepperVersion(),
		"encryption_enabled": a.vault.EncryptionEnabled(),
	})
}

// handleExtract runs the rule-based detectors over free text and returns
// tokenized indicators; raw values never appear in the response.
func (a *API) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text     string `json:"text"`
		Detector string `json:"detector,omitempty"`
		CaseID   string `json:"case_id,omitempty"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		badRequest(w, "text is required")
		return
	}

	entities := detect.Extract(req.Text)
	if len(entities) == 0 {
		a.writeJSON(w, http.StatusOK, map[string]any{"entities": map[string]any{}})
		return
	}

	detector := req.Detector
	if detector == "" {
		detector = "rules"
	}
	tokens, err := a.vault.TokenizeEntities(r.Context(), entities, pii.TokenizeOpts{
		Detector: detector,
		CaseID:   req.CaseID,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"entities": tokens})
}
