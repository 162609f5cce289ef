package dossier_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/viant/afs"

	"github.com/linnemanlabs/i4g/internal/dossier"
	"github.com/linnemanlabs/i4g/internal/dossier/memstore"
	"github.com/linnemanlabs/i4g/internal/intake"
)

type caseSource struct{}

func (caseSource) Get(_ context.Context, caseID string) (*intake.Case, error) {
	return &intake.Case{
		ID:        caseID,
		FraudType: "investment",
		Metadata:  map[string]any{"loss_amount_usd": 75000.0, "jurisdiction": "US-NY"},
	}, nil
}

func newTestService(t *testing.T, dir string) *dossier.Service {
	t.Helper()
	gen, err := dossier.NewGenerator(afs.New(), caseSource{}, nil, nil, dossier.GeneratorOptions{BaseURL: dir}, log.Nop())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	svc, err := dossier.NewService(memstore.New(), gen, afs.New(), log.Nop(), nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func awaitPlan(t *testing.T, svc *dossier.Service, planID string) *dossier.Plan {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		plan, err := svc.Get(context.Background(), planID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if plan.Status == dossier.PlanComplete || plan.Status == dossier.PlanFailed {
			return plan
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("plan did not finish in time")
	return nil
}

func TestEnqueueGeneratesAndVerifies(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	svc := newTestService(t, dir)
	ctx := context.Background()

	plan, err := svc.Enqueue(ctx, "Ring overview", []string{"case-1", "case-2"}, nil, "analyst@i4g.org")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if plan.Status != dossier.PlanPending {
		t.Errorf("status = %s, want pending", plan.Status)
	}

	done := awaitPlan(t, svc, plan.ID)
	if done.Status != dossier.PlanComplete {
		t.Fatalf("status = %s, error = %s", done.Status, done.Error)
	}
	if len(done.Artifacts) != 3 {
		t.Errorf("artifacts = %v", done.Artifacts)
	}
	if done.StartedAt.IsZero() || done.FinishedAt.IsZero() {
		t.Error("expected start and finish timestamps")
	}
	for _, name := range []string{plan.ID + ".json", plan.ID + ".md", plan.ID + ".signatures.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("artifact %s missing: %v", name, err)
		}
	}

	report, err := svc.Verify(ctx, plan.ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.AllVerified() {
		t.Errorf("expected clean verification, got %+v", report)
	}
}

func TestVerify_DetectsTamper(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	svc := newTestService(t, dir)
	ctx := context.Background()

	plan, err := svc.Enqueue(ctx, "", []string{"case-9"}, nil, "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	awaitPlan(t, svc, plan.ID)

	path := filepath.Join(dir, plan.ID+".md")
	if err := os.WriteFile(path, []byte("edited after signing"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	report, err := svc.Verify(ctx, plan.ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if report.AllVerified() {
		t.Error("tampered artifact passed verification")
	}
	if report.MismatchCount() != 1 {
		t.Errorf("mismatches = %d, want 1", report.MismatchCount())
	}
}

// gatedSource blocks case lookups until released so a plan can be held
// in progress during a test.
type gatedSource struct{ release chan struct{} }

func (g gatedSource) Get(_ context.Context, caseID string) (*intake.Case, error) {
	<-g.release
	return &intake.Case{ID: caseID, FraudType: "romance"}, nil
}

func TestEnqueue_DeduplicatesActiveCaseSets(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := gatedSource{release: make(chan struct{})}
	gen, err := dossier.NewGenerator(afs.New(), src, nil, nil, dossier.GeneratorOptions{BaseURL: dir}, log.Nop())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	svc, err := dossier.NewService(memstore.New(), gen, afs.New(), log.Nop(), nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	first, err := svc.Enqueue(ctx, "ring", []string{"case-1", "case-2"}, nil, "analyst@i4g.org")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Same case set in a different order, with a repeat, while the first
	// plan is still active.
	again, err := svc.Enqueue(ctx, "ring again", []string{"case-2", "case-1", "case-2"}, nil, "other@i4g.org")
	if err != nil {
		t.Fatalf("Enqueue duplicate: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("duplicate enqueue minted plan %s, want existing %s", again.ID, first.ID)
	}

	other, err := svc.Enqueue(ctx, "different", []string{"case-3"}, nil, "")
	if err != nil {
		t.Fatalf("Enqueue other: %v", err)
	}
	if other.ID == first.ID {
		t.Error("distinct case set reused an existing plan")
	}

	close(src.release)
	awaitPlan(t, svc, first.ID)
	awaitPlan(t, svc, other.ID)

	// Once the plan is terminal the same case set queues fresh.
	fresh, err := svc.Enqueue(ctx, "ring redo", []string{"case-1", "case-2"}, nil, "")
	if err != nil {
		t.Fatalf("Enqueue after completion: %v", err)
	}
	if fresh.ID == first.ID {
		t.Error("completed plan blocked a new enqueue for the same case set")
	}
	awaitPlan(t, svc, fresh.ID)
}

func TestEnqueue_RequiresCases(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, t.TempDir())
	if _, err := svc.Enqueue(context.Background(), "empty", nil, nil, ""); err == nil {
		t.Fatal("expected error for empty case list")
	}
}

func TestGetAndList(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, t.TempDir())
	ctx := context.Background()

	if _, err := svc.Get(ctx, "missing"); err != dossier.ErrPlanNotFound {
		t.Fatalf("err = %v, want ErrPlanNotFound", err)
	}

	plan, err := svc.Enqueue(ctx, "first", []string{"case-1"}, nil, "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	awaitPlan(t, svc, plan.ID)

	plans, err := svc.List(ctx, dossier.PlanComplete, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(plans) != 1 || plans[0].ID != plan.ID {
		t.Errorf("plans = %+v", plans)
	}
	if plans, _ := svc.List(ctx, dossier.PlanPending, 0); len(plans) != 0 {
		t.Errorf("pending plans = %+v", plans)
	}
}
