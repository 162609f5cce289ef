package pii

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// mockStore implements Store for testing.
type mockStore struct {
	mu       sync.Mutex
	records  map[string]*Record
	requests map[string]*DetokRequest
	getErr   error
}

func newMockStore() *mockStore {
	return &mockStore{
		records:  make(map[string]*Record),
		requests: make(map[string]*DetokRequest),
	}
}

func (m *mockStore) Upsert(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[rec.Token]; ok {
		if rec.Detector != "" {
			existing.Detector = rec.Detector
		}
		if rec.CaseID != "" {
			existing.CaseID = rec.CaseID
		}
		return nil
	}
	cp := *rec
	m.records[rec.Token] = &cp
	return nil
}

func (m *mockStore) Get(_ context.Context, token string) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	rec, ok := m.records[token]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

func (m *mockStore) PutRequest(_ context.Context, req *DetokRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *mockStore) GetRequest(_ context.Context, id string) (*DetokRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, false, nil
	}
	cp := *req
	return &cp, true, nil
}

func newTestService(t *testing.T, store Store, opts Options) *Service {
	t.Helper()
	svc, err := NewService(store, opts, log.Nop(), nil, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestTokenize_Deterministic(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newMockStore(), Options{Pepper: "test-pepper"})

	first, err := svc.Tokenize(context.Background(), "victim@example.com", "EID", TokenizeOpts{})
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	second, err := svc.Tokenize(context.Background(), "victim@example.com", "EID", TokenizeOpts{})
	if err != nil {
		t.Fatalf("Tokenize again: %v", err)
	}
	if first.Token != second.Token {
		t.Errorf("token not deterministic: %q vs %q", first.Token, second.Token)
	}
	if !strings.HasPrefix(first.Token, "EID-") {
		t.Errorf("token %q missing prefix", first.Token)
	}
	if !IsToken(first.Token) {
		t.Errorf("IsToken(%q) = false, want true", first.Token)
	}
}

func TestTokenize_NormalizationCollapsesVariants(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		prefix string
		a, b   string
	}{
		{"email case", "EID", "Victim@Example.COM", "victim@example.com"},
		{"phone punctuation", "PHN", "+1 (415) 555-0132", "+14155550132"},
		{"name whitespace", "NAM", "  Jane   Q  Doe ", "jane q doe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := newTestService(t, newMockStore(), Options{Pepper: "pep"})
			ra, err := svc.Tokenize(context.Background(), tc.a, tc.prefix, TokenizeOpts{})
			if err != nil {
				t.Fatalf("Tokenize a: %v", err)
			}
			rb, err := svc.Tokenize(context.Background(), tc.b, tc.prefix, TokenizeOpts{})
			if err != nil {
				t.Fatalf("Tokenize b: %v", err)
			}
			if ra.Token != rb.Token {
				t.Errorf("variants produced different tokens: %q vs %q", ra.Token, rb.Token)
			}
		})
	}
}

func TestTokenize_DifferentPeppersDiffer(t *testing.T) {
	t.Parallel()

	a := newTestService(t, newMockStore(), Options{Pepper: "alpha"})
	b := newTestService(t, newMockStore(), Options{Pepper: "beta"})

	ra, err := a.Tokenize(context.Background(), "victim@example.com", "EID", TokenizeOpts{})
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	rb, err := b.Tokenize(context.Background(), "victim@example.com", "EID", TokenizeOpts{})
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if ra.Token == rb.Token {
		t.Error("tokens should differ across peppers")
	}
}

func TestTokenize_ValidationRejects(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newMockStore(), Options{Pepper: "pep"})

	cases := []struct {
		name   string
		value  string
		prefix string
	}{
		{"empty value", "   ", "EID"},
		{"bad email", "not-an-email", "EID"},
		{"short phone", "12345", "PHN"},
		{"bad ip", "999.999.1.1", "IPA"},
		{"bad prefix shape", "x", "email"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.Tokenize(context.Background(), tc.value, tc.prefix, TokenizeOpts{})
			if !errors.Is(err, ErrInvalidValue) {
				t.Errorf("Tokenize(%q, %s) = %v, want ErrInvalidValue", tc.value, tc.prefix, err)
			}
		})
	}
}

func TestTokenize_RequirePepper(t *testing.T) {
	t.Parallel()

	if _, err := NewService(newMockStore(), Options{RequirePepper: true}, log.Nop(), nil, nil); err == nil {
		t.Fatal("expected error when pepper required but missing")
	}
}

func TestAssignToken_CollisionDisambiguates(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(t, store, Options{Pepper: "pep"})

	result, err := svc.Tokenize(context.Background(), "victim@example.com", "EID", TokenizeOpts{})
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}

	// Plant a record that owns the 8-hex token under a different digest.
	store.mu.Lock()
	planted := *store.records[result.Token]
	planted.Digest = "0000000000000000000000000000000000000000000000000000000000000000"
	store.records[result.Token] = &planted
	store.mu.Unlock()

	again, err := svc.Tokenize(context.Background(), "victim@example.com", "EID", TokenizeOpts{})
	if err != nil {
		t.Fatalf("Tokenize after collision: %v", err)
	}
	if again.Token == result.Token {
		t.Fatal("collision not disambiguated")
	}
	if len(again.Token) != len(result.Token)+2 {
		t.Errorf("disambiguator length = %d, want %d", len(again.Token), len(result.Token)+2)
	}
	if !strings.HasPrefix(again.Token, result.Token) {
		t.Errorf("disambiguated token %q should extend %q", again.Token, result.Token)
	}
	if !IsToken(again.Token) {
		t.Errorf("IsToken(%q) = false for disambiguated token", again.Token)
	}
}

func TestDualApproval_HappyPath(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newMockStore(), Options{Pepper: "pep", EncryptionKey: "vault-key"})
	ctx := context.Background()

	tok, err := svc.Tokenize(ctx, "victim@example.com", "EID", TokenizeOpts{CaseID: "case-1"})
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}

	req, err := svc.RequestDetokenize(ctx, tok.Token, "analyst-a", "LEA subpoena", "case-1")
	if err != nil {
		t.Fatalf("RequestDetokenize: %v", err)
	}
	if req.Status != RequestPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}

	// Reveal before approval is denied.
	if _, err := svc.Detokenize(ctx, tok.Token, req.ID, "analyst-a", "case-1"); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("pre-approval Detokenize err = %v, want ErrNotApproved", err)
	}

	if _, err := svc.Approve(ctx, req.ID, "supervisor-b"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	revealed, err := svc.Detokenize(ctx, tok.Token, req.ID, "analyst-a", "case-1")
	if err != nil {
		t.Fatalf("Detokenize: %v", err)
	}
	if revealed.CanonicalValue != "victim@example.com" {
		t.Errorf("canonical = %q, want original value", revealed.CanonicalValue)
	}
}

func TestDualApproval_SelfApprovalDenied(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newMockStore(), Options{Pepper: "pep"})
	ctx := context.Background()

	tok, err := svc.Tokenize(ctx, "victim@example.com", "EID", TokenizeOpts{})
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	req, err := svc.RequestDetokenize(ctx, tok.Token, "analyst-a", "curiosity", "")
	if err != nil {
		t.Fatalf("RequestDetokenize: %v", err)
	}

	denied, err := svc.Approve(ctx, req.ID, "analyst-a")
	if !errors.Is(err, ErrSelfApproval) {
		t.Fatalf("Approve err = %v, want ErrSelfApproval", err)
	}
	if denied.Status != RequestDenied {
		t.Errorf("status = %s, want denied", denied.Status)
	}
}

func TestDualApproval_ActorMismatch(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newMockStore(), Options{Pepper: "pep"})
	ctx := context.Background()

	tok, _ := svc.Tokenize(ctx, "victim@example.com", "EID", TokenizeOpts{})
	req, _ := svc.RequestDetokenize(ctx, tok.Token, "analyst-a", "case work", "")
	if _, err := svc.Approve(ctx, req.ID, "supervisor-b"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	if _, err := svc.Detokenize(ctx, tok.Token, req.ID, "intruder-c", ""); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("Detokenize err = %v, want ErrNotApproved for actor mismatch", err)
	}
}

func TestDualApproval_Expiry(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(t, store, Options{Pepper: "pep", ApprovalTTL: time.Minute})
	ctx := context.Background()

	tok, _ := svc.Tokenize(ctx, "victim@example.com", "EID", TokenizeOpts{})
	req, _ := svc.RequestDetokenize(ctx, tok.Token, "analyst-a", "case work", "")
	if _, err := svc.Approve(ctx, req.ID, "supervisor-b"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	// Age the approval past the TTL.
	store.mu.Lock()
	store.requests[req.ID].DecidedAt = time.Now().UTC().Add(-2 * time.Minute)
	store.mu.Unlock()

	if _, err := svc.Detokenize(ctx, tok.Token, req.ID, "analyst-a", ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("Detokenize err = %v, want ErrExpired", err)
	}
}

func TestRequestDetokenize_UnknownToken(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newMockStore(), Options{Pepper: "pep"})
	if _, err := svc.RequestDetokenize(context.Background(), "EID-DEADBEEF", "analyst-a", "", ""); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("err = %v, want ErrTokenNotFound", err)
	}
}

func TestTokenizeEntities_TokenOnlyOutput(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newMockStore(), Options{Pepper: "pep"})

	entities := map[string][]string{
		"email":  {"scammer@fraud.example", "  "},
		"wallet": {"0x52908400098527886e0f7030069857d2e4169ee7"},
		"phone":  {"bogus"}, // rejected by the PHN validator
	}
	out, err := svc.TokenizeEntities(context.Background(), entities, TokenizeOpts{Detector: "rules"})
	if err != nil {
		t.Fatalf("TokenizeEntities: %v", err)
	}

	if got := len(out["email"]); got != 1 {
		t.Errorf("email tokens = %d, want 1", got)
	}
	if got := len(out["wallet"]); got != 1 {
		t.Errorf("wallet tokens = %d, want 1", got)
	}
	if _, ok := out["phone"]; ok {
		t.Error("rejected phone value should not emit a token")
	}
	for entityType, tokens := range out {
		for _, et := range tokens {
			if !IsToken(et.Token) {
				t.Errorf("%s token %q has invalid format", entityType, et.Token)
			}
		}
	}
}

func TestIsToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want bool
	}{
		{"EID-0A1B2C3D", true},
		{"WLT-0A1B2C3D4E", true}, // disambiguated
		{" EID-0A1B2C3D ", true},
		{"eid-0a1b2c3d", false},
		{"EID-0A1B2C3", false},
		{"EID0A1B2C3D", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsToken(tc.in); got != tc.want {
			t.Errorf("IsToken(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestResolvePrefix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"email", "EID"},
		{"Email ", "EID"},
		{"crypto_wallet", "WLT"},
		{"wallet", "WLT"},
		{"browser_agent", "BFP"},
		{"unknown_thing", "UNK"},
		{"", "UNK"},
	}
	for _, tc := range cases {
		if got := ResolvePrefix(tc.in); got != tc.want {
			t.Errorf("ResolvePrefix(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
