package caseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/i4g/internal/authmw"
	"github.com/linnemanlabs/i4g/internal/intake"
	intakemem "github.com/linnemanlabs/i4g/internal/intake/memstore"
	"github.com/linnemanlabs/i4g/internal/pii"
	piimem "github.com/linnemanlabs/i4g/internal/pii/memstore"
	"github.com/linnemanlabs/i4g/internal/review"
	reviewmem "github.com/linnemanlabs/i4g/internal/review/memstore"
)

type testEnv struct {
	router  chi.Router
	vault   *pii.Service
	intake  *intake.Service
	reviews *review.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	vault, err := pii.NewService(piimem.New(), pii.Options{
		Pepper:        "test-pepper",
		PepperVersion: "v1",
		EncryptionKey: "test-vault-key",
	}, log.Nop(), nil, nil)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}

	var intakeSvc *intake.Service
	reviewSvc := review.NewService(reviewmem.New(), review.MetadataSourceFunc(
		func(ctx context.Context, caseIDs []string) (map[string]map[string]any, error) {
			return intakeSvc.CaseMetadata(ctx, caseIDs)
		},
	), log.Nop(), nil, nil)

	intakeSvc, err = intake.NewService(intakemem.New(), vault, reviewSvc, intake.Options{}, log.Nop(), nil)
	if err != nil {
		t.Fatalf("intake: %v", err)
	}

	api := New(nil, vault, intakeSvc, reviewSvc, nil)
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	return &testEnv{router: r, vault: vault, intake: intakeSvc, reviews: reviewSvc}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return out
}

func TestTokenizeEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/tokenization/tokenize", map[string]any{
		"value":  "victim@example.com",
		"prefix": "EML",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	first := decodeBody[pii.Tokenized](t, rec)
	if !pii.IsToken(first.Token) {
		t.Errorf("token %q has unexpected shape", first.Token)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/tokenization/tokenize", map[string]any{
		"value":  "VICTIM@example.com",
		"prefix": "EML",
	})
	second := decodeBody[pii.Tokenized](t, rec)
	if second.Token != first.Token {
		t.Errorf("same identity tokenized differently: %q vs %q", first.Token, second.Token)
	}
}

func TestTokenizeEndpoint_BadPayload(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tokenization/tokenize", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/tokenization/tokenize", map[string]any{"prefix": "EML"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing value: status = %d, want 400", rec.Code)
	}
}

func TestTokenizeEndpoint_ValidationErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	cases := []struct {
		name    string
		payload map[string]any
	}{
		{"value fails prefix validator", map[string]any{"value": "not-an-email", "prefix": "EID"}},
		{"lowercase prefix", map[string]any{"value": "victim@example.com", "prefix": "email"}},
		{"short prefix", map[string]any{"value": "victim@example.com", "prefix": "EI"}},
	}
	for _, tc := range cases {
		rec := env.do(t, http.MethodPost, "/api/v1/tokenization/tokenize", tc.payload)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400, body %s", tc.name, rec.Code, rec.Body.String())
		}
	}
}

func TestSubmitEndpoint_ValidationErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/cases", map[string]any{"text": "phishing report"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing dataset: status = %d, want 400, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/cases", map[string]any{"dataset": "feed"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing text: status = %d, want 400, body %s", rec.Code, rec.Body.String())
	}
}

func TestDualApprovalFlow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tok := decodeBody[pii.Tokenized](t, env.do(t, http.MethodPost, "/api/v1/tokenization/tokenize", map[string]any{
		"value": "victim@example.com", "prefix": "EML",
	}))

	rec := env.do(t, http.MethodPost, "/api/v1/tokenization/requests", map[string]any{
		"token":     tok.Token,
		"requestor": "analyst@i4g.org",
		"reason":    "law enforcement referral",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("request: status = %d, body %s", rec.Code, rec.Body.String())
	}
	dr := decodeBody[pii.DetokRequest](t, rec)
	if dr.Status != pii.RequestPending {
		t.Fatalf("status = %s, want pending", dr.Status)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/tokenization/requests/"+dr.ID+"/approve", map[string]any{
		"approver": "lead@i4g.org",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/tokenization/detokenize", map[string]any{
		"token":      tok.Token,
		"request_id": dr.ID,
		"actor":      "analyst@i4g.org",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reveal: status = %d, body %s", rec.Code, rec.Body.String())
	}
	revealed := decodeBody[pii.Revealed](t, rec)
	if revealed.CanonicalValue != "victim@example.com" {
		t.Errorf("canonical = %q", revealed.CanonicalValue)
	}
}

func TestSelfApprovalForbidden(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tok := decodeBody[pii.Tokenized](t, env.do(t, http.MethodPost, "/api/v1/tokenization/tokenize", map[string]any{
		"value": "+1 415 555 0132", "prefix": "PHN",
	}))
	dr := decodeBody[pii.DetokRequest](t, env.do(t, http.MethodPost, "/api/v1/tokenization/requests", map[string]any{
		"token": tok.Token, "requestor": "analyst@i4g.org", "reason": "check",
	}))

	rec := env.do(t, http.MethodPost, "/api/v1/tokenization/requests/"+dr.ID+"/approve", map[string]any{
		"approver": "analyst@i4g.org",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("self approval: status = %d, want 403", rec.Code)
	}
}

func TestRevealUnknownRequest(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/tokenization/detokenize", map[string]any{
		"token": "EML-DEADBEEF", "request_id": "missing", "actor": "analyst@i4g.org",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSubmitCase_CreateAndDuplicate(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	sub := map[string]any{
		"dataset":          "fraud-reports",
		"text":             "Wire funds to acct 12345678 or lose the opportunity.",
		"fraud_type":       "investment",
		"fraud_confidence": 0.95,
		"metadata":         map[string]any{"loss_amount_usd": 120000.0, "jurisdiction": "US-CA"},
	}

	rec := env.do(t, http.MethodPost, "/api/v1/cases", sub)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[struct {
		Case      *intake.Case `json:"case"`
		Duplicate bool         `json:"duplicate"`
	}](t, rec)
	if created.Duplicate {
		t.Error("first submission marked duplicate")
	}
	if created.Case.ID == "" {
		t.Fatal("case id missing")
	}

	rec = env.do(t, http.MethodPost, "/api/v1/cases", sub)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", rec.Code)
	}
	dup := decodeBody[struct {
		Case      *intake.Case `json:"case"`
		Duplicate bool         `json:"duplicate"`
	}](t, rec)
	if !dup.Duplicate || dup.Case.ID != created.Case.ID {
		t.Errorf("duplicate = %v, id = %s (want %s)", dup.Duplicate, dup.Case.ID, created.Case.ID)
	}

	// High confidence routed the case into the review queue.
	queue := decodeBody[struct {
		Reviews []*review.Review `json:"reviews"`
	}](t, env.do(t, http.MethodGet, "/api/v1/reviews", nil))
	if len(queue.Reviews) != 1 || queue.Reviews[0].CaseID != created.Case.ID {
		t.Errorf("queue = %+v", queue.Reviews)
	}
	if queue.Reviews[0].Priority != review.PriorityHigh {
		t.Errorf("priority = %s, want high", queue.Reviews[0].Priority)
	}
}

func TestGetCase_NotFound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/cases/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestIngestBatchEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/ingest", map[string]any{
		"source": "partner-feed",
		"submissions": []map[string]any{
			{"dataset": "feed", "text": "report one"},
			{"dataset": "feed", "text": "report two"},
			{"dataset": "feed", "text": "report one"},
		},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	run := decodeBody[intake.Run](t, rec)
	if run.Ingested != 2 || run.Duplicates != 1 {
		t.Errorf("run = %+v", run)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/runs/"+run.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get run: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/runs/missing", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing run: status = %d, want 404", rec.Code)
	}
}

func TestReviewLifecycleEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rev := decodeBody[review.Review](t, env.do(t, http.MethodPost, "/api/v1/reviews", map[string]any{
		"case_id": "case-1",
	}))
	if rev.Priority != review.PriorityMedium {
		t.Errorf("priority = %s, want medium", rev.Priority)
	}

	// Skipping in_review violates the lifecycle chain.
	rec := env.do(t, http.MethodPost, "/api/v1/reviews/"+rev.ID+"/status", map[string]any{
		"status": "accepted", "actor": "analyst@i4g.org",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("queued -> accepted: status = %d, want 409", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/reviews/"+rev.ID+"/status", map[string]any{
		"status": "in_review", "actor": "analyst@i4g.org",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status update: %d, body %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/api/v1/reviews/"+rev.ID+"/status", map[string]any{
		"status": "accepted", "actor": "analyst@i4g.org", "notes": "confirmed",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status update: %d, body %s", rec.Code, rec.Body.String())
	}

	// Terminal reviews reject further transitions.
	rec = env.do(t, http.MethodPost, "/api/v1/reviews/"+rev.ID+"/status", map[string]any{
		"status": "rejected", "actor": "analyst@i4g.org",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("terminal transition: status = %d, want 409", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/reviews/"+rev.ID+"/status", map[string]any{
		"status": "bogus",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid status: %d, want 400", rec.Code)
	}

	actions := decodeBody[struct {
		Actions []*review.Action `json:"actions"`
	}](t, env.do(t, http.MethodGet, "/api/v1/reviews/"+rev.ID+"/actions", nil))
	if len(actions.Actions) != 2 || actions.Actions[0].Action != "status_change" {
		t.Errorf("actions = %+v", actions.Actions)
	}
}

func TestSavedSearchEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	search := map[string]any{
		"name":   "High loss US",
		"owner":  "analyst@i4g.org",
		"params": map[string]any{"loss_band": "250k-plus"},
		"tags":   []string{"fraud", "US"},
	}
	saved := decodeBody[review.SavedSearch](t, env.do(t, http.MethodPost, "/api/v1/searches", search))
	if saved.ID == "" {
		t.Fatal("search id missing")
	}

	rec := env.do(t, http.MethodPost, "/api/v1/searches", map[string]any{
		"name": "high loss us", "owner": "analyst@i4g.org",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate name: status = %d, want 409", rec.Code)
	}

	clone := decodeBody[review.SavedSearch](t, env.do(t, http.MethodPost, "/api/v1/searches/"+saved.ID+"/clone", map[string]any{
		"owner": "lead@i4g.org",
	}))
	if clone.Owner != "lead@i4g.org" || clone.ID == saved.ID {
		t.Errorf("clone = %+v", clone)
	}

	listed := decodeBody[struct {
		Searches []*review.SavedSearch `json:"searches"`
	}](t, env.do(t, http.MethodGet, "/api/v1/searches?owner=analyst@i4g.org", nil))
	if len(listed.Searches) != 1 {
		t.Errorf("searches = %+v", listed.Searches)
	}

	if rec := env.do(t, http.MethodDelete, "/api/v1/searches/"+saved.ID, nil); rec.Code != http.StatusOK {
		t.Errorf("delete: status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/searches/"+saved.ID, nil); rec.Code != http.StatusNotFound {
		t.Errorf("deleted search: status = %d, want 404", rec.Code)
	}
}

func TestImportSearchesEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/searches/import", map[string]any{
		"owner": "analyst",
		"searches": []map[string]any{
			{"name": "Romance rings"},
			{"name": "Romance rings"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	counts := decodeBody[map[string]int](t, rec)
	if counts["imported"] != 1 || counts["skipped"] != 1 {
		t.Errorf("counts = %v, want imported=1 skipped=1", counts)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/searches/import", map[string]any{"owner": "analyst"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty import status = %d, want 400", rec.Code)
	}
}

func TestCandidatesEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	created := decodeBody[struct {
		Case *intake.Case `json:"case"`
	}](t, env.do(t, http.MethodPost, "/api/v1/cases", map[string]any{
		"dataset":          "feed",
		"text":             "crypto investment scam report",
		"fraud_confidence": 0.95,
		"metadata": map[string]any{
			"loss_amount_usd":  120000.0,
			"jurisdiction":     "US-CA",
			"victim_country":   "US",
			"offender_country": "NG",
		},
	}))

	queue := decodeBody[struct {
		Reviews []*review.Review `json:"reviews"`
	}](t, env.do(t, http.MethodGet, "/api/v1/reviews", nil))
	if len(queue.Reviews) != 1 {
		t.Fatalf("queue = %+v", queue.Reviews)
	}
	env.do(t, http.MethodPost, "/api/v1/reviews/"+queue.Reviews[0].ID+"/status", map[string]any{
		"status": "in_review", "actor": "analyst@i4g.org",
	})
	env.do(t, http.MethodPost, "/api/v1/reviews/"+queue.Reviews[0].ID+"/status", map[string]any{
		"status": "accepted", "actor": "analyst@i4g.org",
	})

	cands := decodeBody[struct {
		Candidates []*review.Candidate `json:"candidates"`
	}](t, env.do(t, http.MethodGet, "/api/v1/reviews/candidates", nil))
	if len(cands.Candidates) != 1 {
		t.Fatalf("candidates = %+v", cands.Candidates)
	}
	c := cands.Candidates[0]
	if c.CaseID != created.Case.ID || c.LossBand != "100k-250k" || !c.CrossBorder || c.GeoBucket != "US" {
		t.Errorf("candidate = %+v", c)
	}
}

func TestVaultHealthEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/tokenization/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	health := decodeBody[map[string]any](t, rec)
	if health["pepper_configured"] != true {
		t.Errorf("pepper_configured = %v, want true", health["pepper_configured"])
	}
	if health["pepper_version"] != "v1" {
		t.Errorf("pepper_version = %v, want v1", health["pepper_version"])
	}
	if health["encryption_enabled"] != true {
		t.Errorf("encryption_enabled = %v, want true", health["encryption_enabled"])
	}
}

func TestExtractEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/extract", map[string]any{
		"text": "Wire funds to scammer@fraud.example or call +1 (555) 010-9999.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Entities map[string][]pii.EntityToken `json:"entities"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	emails := resp.Entities["email"]
	if len(emails) != 1 {
		t.Fatalf("email tokens = %v, want one", emails)
	}
	if emails[0].Prefix != "EID" || !pii.IsToken(emails[0].Token) {
		t.Errorf("email token = %+v", emails[0])
	}
	if len(resp.Entities["phone"]) != 1 {
		t.Errorf("phone tokens = %v, want one", resp.Entities["phone"])
	}
	for _, toks := range resp.Entities {
		for _, tok := range toks {
			if strings.Contains(tok.Token, "scammer") {
				t.Fatalf("raw value leaked into token %q", tok.Token)
			}
		}
	}
}

func TestExtractEndpoint_NoIndicators(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/accounts/extract", map[string]any{
		"text": "nothing interesting here",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Entities map[string][]pii.EntityToken `json:"entities"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entities) != 0 {
		t.Errorf("entities = %v, want empty", resp.Entities)
	}
}

func TestDossiersNotConfigured(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/dossiers", map[string]any{"case_ids": []string{"c1"}})
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}

func TestActorFromBearerToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	authed := chi.NewRouter()
	authed.Use(authmw.BearerToken(map[string]string{"tok-analyst": "analyst@i4g.org"}))
	authed.Mount("/", env.router)

	tok := decodeBody[pii.Tokenized](t, env.do(t, http.MethodPost, "/api/v1/tokenization/tokenize", map[string]any{
		"value": "victim@example.com", "prefix": "EML",
	}))

	raw, _ := json.Marshal(map[string]any{"token": tok.Token, "reason": "follow-up"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tokenization/requests", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer tok-analyst")
	rec := httptest.NewRecorder()
	authed.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	dr := decodeBody[pii.DetokRequest](t, rec)
	if dr.Requestor != "analyst@i4g.org" {
		t.Errorf("requestor = %q, want bearer identity", dr.Requestor)
	}
}

func TestNew_RequiredServices(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil vault service")
		}
	}()
	New(nil, nil, env.intake, env.reviews, nil)
}
