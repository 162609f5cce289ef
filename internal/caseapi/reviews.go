package caseapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/i4g/internal/review"
)

func (a *API) handleEnqueueReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CaseID   string `json:"case_id"`
		Priority string `json:"priority,omitempty"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if req.CaseID == "" {
		badRequest(w, "case_id is required")
		return
	}

	rev, err := a.reviews.Enqueue(r.Context(), req.CaseID, req.Priority)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, rev)
}

func (a *API) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	status := review.Status(r.URL.Query().Get("status"))
	reviews, err := a.reviews.Queue(r.Context(), status, queryInt(r, "limit", 0))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
}

func (a *API) handleGetReview(w http.ResponseWriter, r *http.Request) {
	rev, err := a.reviews.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, rev)
}

func (a *API) handleReviewStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Status review.Status `json:"status"`
		Actor  string        `json:"actor,omitempty"`
		Notes  string        `json:"notes,omitempty"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		badRequest(w, "invalid status")
		return
	}

	rev, err := a.reviews.UpdateStatus(r.Context(), id, req.Status, actor(r, req.Actor), req.Notes)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, rev)
}

func (a *API) handleAssignReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Assignee string `json:"assignee"`
		Actor    string `json:"actor,omitempty"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if req.Assignee == "" {
		badRequest(w, "assignee is required")
		return
	}

	rev, err := a.reviews.Assign(r.Context(), id, req.Assignee, actor(r, req.Actor))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, rev)
}

func (a *API) handleLogAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Action  string         `json:"action"`
		Actor   string         `json:"actor,omitempty"`
		Payload map[string]any `json:"payload,omitempty"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if req.Action == "" {
		badRequest(w, "action is required")
		return
	}

	act, err := a.reviews.LogAction(r.Context(), id, actor(r, req.Actor), req.Action, req.Payload)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, act)
}

func (a *API) handleReviewActions(w http.ResponseWriter, r *http.Request) {
	actions, err := a.reviews.Actions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (a *API) handleRecentActions(w http.ResponseWriter, r *http.Request) {
	actions, err := a.reviews.RecentActions(r.Context(), r.URL.Query().Get("action"), queryInt(r, "limit", 0))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (a *API) handleReviewsByCase(w http.ResponseWriter, r *http.Request) {
	reviews, err := a.reviews.ByCase(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 0))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
}

func (a *API) handleSaveSearch(w http.ResponseWriter, r *http.Request) {
	var search review.SavedSearch
	if !a.decode(w, r, &search) {
		return
	}
	if search.Name == "" {
		badRequest(w, "name is required")
		return
	}
	if search.Owner == "" {
		search.Owner = actor(r, "")
	}

	saved, err := a.reviews.SaveSearch(r.Context(), &search)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, saved)
}

func (a *API) handleImportSearches(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner    string                `json:"owner,omitempty"`
		Searches []*review.SavedSearch `json:"searches"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if len(req.Searches) == 0 {
		badRequest(w, "searches are required")
		return
	}
	if req.Owner == "" {
		req.Owner = actor(r, "")
	}

	imported, skipped, err := a.reviews.ImportSearches(r.Context(), req.Owner, req.Searches)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]int{"imported": imported, "skipped": skipped})
}

func (a *API) handleListSearches(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = actor(r, "")
	}
	searches, err := a.reviews.ListSearches(r.Context(), owner, queryInt(r, "limit", 0))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"searches": searches})
}

func (a *API) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	search, err := a.reviews.GetSearch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, search)
}

func (a *API) handleDeleteSearch(w http.ResponseWriter, r *http.Request) {
	if err := a.reviews.DeleteSearch(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) handleCloneSearch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Owner string `json:"owner,omitempty"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	owner := req.Owner
	if owner == "" {
		owner = actor(r, "")
	}
	clone, err := a.reviews.CloneSearch(r.Context(), id, owner)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, clone)
}

func (a *API) handleCandidates(w http.ResponseWriter, r *http.Request) {
	status := review.Status(r.URL.Query().Get("status"))
	candidates, err := a.reviews.Candidates(r.Context(), status, queryInt(r, "limit", 0))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}
