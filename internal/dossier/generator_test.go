package dossier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linnemanlabs/go-core/log"
	"github.com/viant/afs"

	"github.com/linnemanlabs/i4g/internal/intake"
)

type stubCases struct {
	cases map[string]*intake.Case
}

func (s *stubCases) Get(_ context.Context, caseID string) (*intake.Case, error) {
	c, ok := s.cases[caseID]
	if !ok {
		return nil, fmt.Errorf("case %s not found", caseID)
	}
	return c, nil
}

type stubSummarizer struct {
	narrative string
	err       error
}

func (s *stubSummarizer) Narrative(_ context.Context, _ *Plan, _ *Analysis) (string, error) {
	return s.narrative, s.err
}

func testCases() *stubCases {
	return &stubCases{cases: map[string]*intake.Case{
		"case-1": {
			ID:        "case-1",
			FraudType: "investment",
			Metadata: map[string]any{
				"loss_amount_usd":  300000.0,
				"jurisdiction":     "US-CA",
				"victim_country":   "US",
				"offender_country": "NG",
			},
		},
		"case-2": {
			ID:        "case-2",
			FraudType: "romance",
			Metadata:  map[string]any{"loss_amount_usd": 20000.0, "jurisdiction": "GB"},
		},
	}}
}

func newTestGenerator(t *testing.T, dir string, summarizer Summarizer, uploader Uploader) *Generator {
	t.Helper()
	gen, err := NewGenerator(afs.New(), testCases(), summarizer, uploader, GeneratorOptions{BaseURL: dir}, log.Nop())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return gen
}

func TestGenerate_WritesSignedBundle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	gen := newTestGenerator(t, dir, &stubSummarizer{narrative: "Organized ring targeting retirees."}, nil)
	ctx := context.Background()

	plan := &Plan{ID: "plan-1", Title: "Q3 investment ring", CaseIDs: []string{"case-1", "case-2"}}
	result, err := gen.Generate(ctx, plan)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(result.Artifacts) != 3 {
		t.Fatalf("artifacts = %v", result.Artifacts)
	}

	payloadRaw, err := os.ReadFile(filepath.Join(dir, "plan-1.json"))
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(payloadRaw, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["case_count"] != 2.0 {
		t.Errorf("case_count = %v", payload["case_count"])
	}
	analysis := payload["analysis"].(map[string]any)
	if analysis["total_loss_usd"] != 320000.0 {
		t.Errorf("total loss = %v", analysis["total_loss_usd"])
	}
	if analysis["cross_border"] != 1.0 {
		t.Errorf("cross border = %v", analysis["cross_border"])
	}
	if payload["narrative"] != "Organized ring targeting retirees." {
		t.Errorf("narrative = %v", payload["narrative"])
	}

	markdown, err := os.ReadFile(filepath.Join(dir, "plan-1.md"))
	if err != nil {
		t.Fatalf("read markdown: %v", err)
	}
	for _, want := range []string{"# Q3 investment ring", "## Narrative", "| case-1 | 250k-plus | US | yes |"} {
		if !strings.Contains(string(markdown), want) {
			t.Errorf("markdown missing %q", want)
		}
	}

	// The signature manifest must cover both artifacts and verify clean.
	report, err := VerifyManifestFile(ctx, afs.New(), filepath.Join(dir, "plan-1.signatures.json"))
	if err != nil {
		t.Fatalf("VerifyManifestFile: %v", err)
	}
	if !report.AllVerified() {
		t.Errorf("bundle did not verify: %+v", report)
	}
	if len(report.Artifacts) != 2 {
		t.Errorf("signed artifacts = %d, want payload and markdown", len(report.Artifacts))
	}
}

func TestGenerate_MissingCaseAndNarrativeFailureAreWarnings(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	gen := newTestGenerator(t, dir, &stubSummarizer{err: errors.New("model unavailable")}, nil)

	plan := &Plan{ID: "plan-2", CaseIDs: []string{"case-1", "ghost"}}
	result, err := gen.Generate(context.Background(), plan)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(result.Warnings) != 2 {
		t.Fatalf("warnings = %v, want missing-case and narrative warnings", result.Warnings)
	}
}

func TestGenerate_UploadsRecordedInManifest(t *testing.T) {
	t.Parallel()

	local := t.TempDir()
	remote := t.TempDir()

	fs := afs.New()
	uploader, err := NewStorageUploader(fs, remote, "sha256", log.Nop())
	if err != nil {
		t.Fatalf("NewStorageUploader: %v", err)
	}
	gen := newTestGenerator(t, local, nil, uploader)
	ctx := context.Background()

	plan := &Plan{ID: "plan-3", CaseIDs: []string{"case-1"}}
	if _, err := gen.Generate(ctx, plan); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Remote copies exist under <remote>/<plan id>/.
	for _, name := range []string{"plan-3.json", "plan-3.md", "plan-3.signatures.json"} {
		if _, err := os.Stat(filepath.Join(remote, "plan-3", name)); err != nil {
			t.Errorf("remote artifact %s missing: %v", name, err)
		}
	}

	raw, err := os.ReadFile(filepath.Join(local, "plan-3.signatures.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if len(manifest.Uploads) != 3 {
		t.Fatalf("uploads = %d, want 3", len(manifest.Uploads))
	}
	for _, up := range manifest.Uploads {
		if up.RemoteRef == "" || up.Hash == "" || up.Algorithm != "sha256" {
			t.Errorf("upload row = %+v", up)
		}
	}
}
