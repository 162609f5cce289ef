package dossier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/viant/afs"
	"github.com/viant/afs/file"

	"github.com/linnemanlabs/i4g/internal/intake"
	"github.com/linnemanlabs/i4g/internal/review"
)

// CaseSource resolves the cases a plan references.
type CaseSource interface {
	Get(ctx context.Context, caseID string) (*intake.Case, error)
}

// Summarizer produces the optional narrative section of a dossier.
type Summarizer interface {
	Narrative(ctx context.Context, plan *Plan, analysis *Analysis) (string, error)
}

// Uploader copies generated artifacts to remote storage and returns their
// upload signatures plus any warnings.
type Uploader interface {
	Upload(ctx context.Context, entries []Entry, plan *Plan) ([]UploadedSignature, []string, error)
}

// GeneratorOptions configures artifact generation.
type GeneratorOptions struct {
	// BaseURL is the artifact storage location, e.g. file:///var/i4g/dossiers
	// or a bucket URL.
	BaseURL string

	// Algorithm is the manifest hash algorithm.
	Algorithm string
}

// Generator renders dossier artifacts for a plan: a JSON payload, a markdown
// report, and a signature manifest covering both. Artifacts are written
// through the storage abstraction so local directories and object stores
// behave the same.
type Generator struct {
	fs         afs.Service
	cases      CaseSource
	summarizer Summarizer
	uploader   Uploader
	baseURL    string
	algorithm  string
	logger     log.Logger
	now        func() time.Time
}

// NewGenerator creates a dossier generator. summarizer and uploader may be
// nil.
func NewGenerator(fs afs.Service, cases CaseSource, summarizer Summarizer, uploader Uploader, opts GeneratorOptions, logger log.Logger) (*Generator, error) {
	if fs == nil {
		fs = afs.New()
	}
	if cases == nil {
		return nil, fmt.Errorf("case source is required")
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("artifact base URL is required")
	}
	if opts.Algorithm == "" {
		opts.Algorithm = DefaultAlgorithm
	}
	if _, err := newHasher(opts.Algorithm); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Generator{
		fs:         fs,
		cases:      cases,
		summarizer: summarizer,
		uploader:   uploader,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		algorithm:  opts.Algorithm,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (g *Generator) artifactURL(name string) string {
	return g.baseURL + "/" + name
}

// Generate renders all artifacts for the plan and returns their locations.
func (g *Generator) Generate(ctx context.Context, plan *Plan) (*Result, error) {
	timestamp := g.now()
	var warnings []string

	cases := make([]*intake.Case, 0, len(plan.CaseIDs))
	candidates := make([]*review.Candidate, 0, len(plan.CaseIDs))
	for _, caseID := range plan.CaseIDs {
		c, err := g.cases.Get(ctx, caseID)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Case %s unavailable: %v", caseID, err))
			continue
		}
		cases = append(cases, c)
		candidates = append(candidates, review.NewCandidate(c.ID, "", timestamp, c.Metadata))
	}

	analysis := analyze(cases, candidates)

	narrative := ""
	if g.summarizer != nil {
		var err error
		narrative, err = g.summarizer.Narrative(ctx, plan, analysis)
		if err != nil {
			// The dossier ships without a narrative rather than failing.
			warnings = append(warnings, fmt.Sprintf("Narrative generation failed: %v", err))
			narrative = ""
		}
	}

	payloadURL := g.artifactURL(plan.ID + ".json")
	markdownURL := g.artifactURL(plan.ID + ".md")
	signatureURL := g.artifactURL(plan.ID + ".signatures.json")

	payload := map[string]any{
		"plan_id":      plan.ID,
		"title":        plan.Title,
		"case_ids":     plan.CaseIDs,
		"filters":      plan.Filters,
		"requested_by": plan.RequestedBy,
		"generated_at": timestamp.Format(time.RFC3339Nano),
		"case_count":   len(cases),
		"analysis":     analysis,
		"narrative":    narrative,
		"signature_manifest": map[string]any{
			"path":      plan.ID + ".signatures.json",
			"algorithm": g.algorithm,
		},
	}
	payloadJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if err := g.fs.Upload(ctx, payloadURL, file.DefaultFileOsMode, bytes.NewReader(payloadJSON)); err != nil {
		return nil, fmt.Errorf("write payload: %w", err)
	}

	markdown := g.renderMarkdown(plan, analysis, candidates, narrative, timestamp)
	if err := g.fs.Upload(ctx, markdownURL, file.DefaultFileOsMode, strings.NewReader(markdown)); err != nil {
		return nil, fmt.Errorf("write markdown: %w", err)
	}

	entries := []Entry{
		{Label: "manifest", URL: payloadURL},
		{Label: "markdown_report", URL: markdownURL},
	}
	manifest, err := GenerateManifest(ctx, g.fs, entries, g.algorithm, timestamp, g.baseURL)
	if err != nil {
		return nil, fmt.Errorf("sign artifacts: %w", err)
	}
	warnings = append(warnings, manifest.Warnings...)
	if err := g.writeManifest(ctx, signatureURL, manifest); err != nil {
		return nil, err
	}

	if g.uploader != nil {
		uploadEntries := append(append([]Entry{}, entries...), Entry{Label: "signature_manifest", URL: signatureURL})
		uploads, uploadWarnings, err := g.uploader.Upload(ctx, uploadEntries, plan)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Upload step failed: %v", err))
		} else if len(uploads) > 0 || len(uploadWarnings) > 0 {
			manifest = manifest.WithUploads(uploads, uploadWarnings)
			warnings = append(warnings, uploadWarnings...)
			if err := g.writeManifest(ctx, signatureURL, manifest); err != nil {
				return nil, err
			}
		}
	}

	g.logger.Info(ctx, "dossier generated",
		"plan_id", plan.ID,
		"cases", len(cases),
		"warnings", len(warnings),
	)
	return &Result{
		PlanID:    plan.ID,
		Artifacts: []string{payloadURL, markdownURL, signatureURL},
		Warnings:  warnings,
	}, nil
}

func (g *Generator) writeManifest(ctx context.Context, URL string, manifest Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := g.fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func analyze(cases []*intake.Case, candidates []*review.Candidate) *Analysis {
	analysis := &Analysis{
		CaseCount:  len(cases),
		LossBands:  map[string]int{},
		GeoBuckets: map[string]int{},
		FraudTypes: map[string]int{},
	}
	for i, c := range cases {
		candidate := candidates[i]
		analysis.LossBands[candidate.LossBand]++
		analysis.GeoBuckets[candidate.GeoBucket]++
		if candidate.CrossBorder {
			analysis.CrossBorder++
		}
		if candidate.LossAmountUSD != nil {
			analysis.TotalLossUSD += *candidate.LossAmountUSD
		}
		analysis.FraudTypes[c.FraudType]++
	}
	return analysis
}

func (g *Generator) renderMarkdown(plan *Plan, analysis *Analysis, candidates []*review.Candidate, narrative string, timestamp time.Time) string {
	var b strings.Builder
	title := plan.Title
	if title == "" {
		title = "Dossier " + plan.ID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Generated: %s\n\n", timestamp.Format(time.RFC3339))

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Cases: %d\n", analysis.CaseCount)
	fmt.Fprintf(&b, "- Total reported loss (USD): %.2f\n", analysis.TotalLossUSD)
	fmt.Fprintf(&b, "- Cross-border cases: %d\n\n", analysis.CrossBorder)

	if narrative != "" {
		b.WriteString("## Narrative\n\n")
		b.WriteString(narrative)
		b.WriteString("\n\n")
	}

	b.WriteString("## Loss bands\n\n")
	for _, key := range sortedKeys(analysis.LossBands) {
		fmt.Fprintf(&b, "- %s: %d\n", key, analysis.LossBands[key])
	}
	b.WriteString("\n## Geography\n\n")
	for _, key := range sortedKeys(analysis.GeoBuckets) {
		fmt.Fprintf(&b, "- %s: %d\n", key, analysis.GeoBuckets[key])
	}

	b.WriteString("\n## Cases\n\n")
	b.WriteString("| Case | Loss band | Geography | Cross-border |\n")
	b.WriteString("|------|-----------|-----------|--------------|\n")
	for _, candidate := range candidates {
		cross := "no"
		if candidate.CrossBorder {
			cross = "yes"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", candidate.CaseID, candidate.LossBand, candidate.GeoBucket, cross)
	}
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
