package flow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"loom/internal/backup"
	"loom/internal/config"
	"loom/internal/flow"
	"loom/internal/integrate"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/retry"
	"loom/internal/services"
	"loom/internal/state"
	"loom/internal/store"
	"loom/internal/suppliers"
	"loom/internal/testsupport"
)

// scriptedSupplier wraps the synthetic supplier and injects failures into the
// generating stage.
type scriptedSupplier struct {
	suppliers.Supplier
	attempts  map[int]int
	generated map[int]int
	fail      func(batch, attempt int) error
}

func newScriptedSupplier(fail func(batch, attempt int) error) *scriptedSupplier {
	return &scriptedSupplier{
		Supplier:  suppliers.NewSynthetic(),
		attempts:  map[int]int{},
		generated: map[int]int{},
		fail:      fail,
	}
}

func (s *scriptedSupplier) Generate(ctx context.Context, plan *suppliers.Plan, research *suppliers.Research) ([]store.Item, error) {
	s.attempts[plan.BatchNumber]++
	if s.fail != nil {
		if err := s.fail(plan.BatchNumber, s.attempts[plan.BatchNumber]); err != nil {
			return nil, err
		}
	}
	s.generated[plan.BatchNumber]++
	return s.Supplier.Generate(ctx, plan, research)
}

type harness struct {
	cfg     *config.Config
	manager *flow.Manager
	states  *state.Store
}

func newHarness(t *testing.T, sup suppliers.Supplier) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t) // 20 items in batches of 5

	logger := logging.NewNop()
	backups := backup.NewManager(cfg, logger)
	integrator := integrate.NewManager(cfg, backups, logger)
	states := state.NewStore(cfg.StateFile())
	history := testsupport.MustOpenLedger(t, cfg)
	notifier := notifications.NewService(cfg)

	noSleep := retry.WithSleeper(func(time.Duration) {})
	manager := flow.NewManager(cfg, sup, integrator, states, history, notifier, logger,
		flow.WithPolicies(retry.InitPolicy(cfg, noSleep), retry.BatchPolicy(cfg, noSleep)))

	return &harness{cfg: cfg, manager: manager, states: states}
}

func TestRunCompletesAllBatches(t *testing.T) {
	h := newHarness(t, suppliers.NewSynthetic())

	summary, err := h.manager.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Status != state.FlowCompleted || summary.CompletedBatches != 4 || summary.FailedBatches != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Failed() {
		t.Fatal("clean run must not report failure")
	}

	doc, err := store.Load(h.cfg.Paths.StoreFile)
	if err != nil {
		t.Fatal(err)
	}
	if doc.TotalCount != 20 {
		t.Fatalf("store total = %d, want 20", doc.TotalCount)
	}
	if valid, issues := store.Validate(doc); !valid {
		t.Fatalf("final store invalid: %v", issues)
	}

	f, err := h.states.Load()
	if err != nil {
		t.Fatal(err)
	}
	if f.Status != state.FlowCompleted {
		t.Fatalf("checkpoint status = %q", f.Status)
	}
}

func TestTransientFailureIsRetriedWithinBatch(t *testing.T) {
	sup := newScriptedSupplier(func(batch, attempt int) error {
		if batch == 2 && attempt < 3 {
			return services.Wrap(services.ErrTransient, "generating", "generate", "flaky upstream", nil)
		}
		return nil
	})
	h := newHarness(t, sup)

	summary, err := h.manager.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Status != state.FlowCompleted {
		t.Fatalf("unexpected status: %q", summary.Status)
	}
	if sup.attempts[2] != 3 {
		t.Fatalf("batch 2 attempts = %d, want 3", sup.attempts[2])
	}

	f, err := h.states.Load()
	if err != nil {
		t.Fatal(err)
	}
	if f.Batch(2).Attempts != 3 {
		t.Fatalf("recorded attempts = %d, want 3", f.Batch(2).Attempts)
	}
}

func TestFailedBatchDegradesGracefully(t *testing.T) {
	sup := newScriptedSupplier(func(batch, attempt int) error {
		if batch == 3 {
			return services.Wrap(services.ErrValidation, "generating", "generate", "unusable drafts", nil)
		}
		return nil
	})
	h := newHarness(t, sup)

	summary, err := h.manager.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Status != state.FlowFailed {
		t.Fatalf("status = %q, want failed", summary.Status)
	}
	if summary.CompletedBatches != 3 || summary.FailedBatches != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if !summary.Failed() {
		t.Fatal("run with failed batches must report failure")
	}
	// Permanent failures stop after one attempt.
	if sup.attempts[3] != 1 {
		t.Fatalf("batch 3 attempts = %d, want 1", sup.attempts[3])
	}
	// The other batches still integrated.
	doc, err := store.Load(h.cfg.Paths.StoreFile)
	if err != nil {
		t.Fatal(err)
	}
	if doc.TotalCount != 15 {
		t.Fatalf("store total = %d, want 15", doc.TotalCount)
	}
}

func TestFatalErrorAbortsRun(t *testing.T) {
	sup := newScriptedSupplier(func(batch, attempt int) error {
		if batch == 2 {
			return services.Wrap(services.ErrFatal, "generating", "generate", "store unusable", nil)
		}
		return nil
	})
	h := newHarness(t, sup)

	summary, err := h.manager.Run(context.Background())
	if err == nil {
		t.Fatal("expected fatal error")
	}
	if !services.IsFatal(err) {
		t.Fatalf("expected fatal classification, got %v", err)
	}
	if summary.Status != state.FlowFailed {
		t.Fatalf("status = %q, want failed", summary.Status)
	}
	// Later batches never ran.
	if sup.attempts[3] != 0 || sup.attempts[4] != 0 {
		t.Fatalf("batches after fatal must not run: %v", sup.attempts)
	}
}

func TestPauseStopsBetweenBatches(t *testing.T) {
	var h *harness
	sup := newScriptedSupplier(func(batch, attempt int) error {
		if batch == 2 {
			h.manager.RequestPause()
		}
		return nil
	})
	h = newHarness(t, sup)

	summary, err := h.manager.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Status != state.FlowPaused {
		t.Fatalf("status = %q, want paused", summary.Status)
	}
	if summary.CompletedBatches != 2 {
		t.Fatalf("completed = %d, want 2 (pause lands after the running batch)", summary.CompletedBatches)
	}

	doc, err := store.Load(h.cfg.Paths.StoreFile)
	if err != nil {
		t.Fatal(err)
	}
	if doc.TotalCount != 10 {
		t.Fatalf("store total = %d, want 10", doc.TotalCount)
	}

	// A paused run has no batch in flight.
	f, err := h.states.Load()
	if err != nil {
		t.Fatal(err)
	}
	if f.CurrentBatch != 0 {
		t.Fatalf("paused checkpoint current batch = %d, want 0", f.CurrentBatch)
	}
}

func TestResumeSkipsCompletedBatches(t *testing.T) {
	var h *harness
	pausing := newScriptedSupplier(func(batch, attempt int) error {
		if batch == 2 {
			h.manager.RequestPause()
		}
		return nil
	})
	h = newHarness(t, pausing)

	if _, err := h.manager.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A fresh manager against the same checkpoint, as a new process would be.
	resumed := newScriptedSupplier(nil)
	logger := logging.NewNop()
	backups := backup.NewManager(h.cfg, logger)
	integrator := integrate.NewManager(h.cfg, backups, logger)
	manager := flow.NewManager(h.cfg, resumed, integrator, h.states, nil, notifications.NewService(h.cfg), logger,
		flow.WithPolicies(retry.InitPolicy(h.cfg), retry.BatchPolicy(h.cfg)))

	summary, err := manager.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if summary.Status != state.FlowCompleted || summary.CompletedBatches != 4 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if resumed.attempts[1] != 0 || resumed.attempts[2] != 0 {
		t.Fatalf("completed batches must not rerun: %v", resumed.attempts)
	}
	if resumed.attempts[3] != 1 || resumed.attempts[4] != 1 {
		t.Fatalf("remaining batches must run once: %v", resumed.attempts)
	}

	doc, err := store.Load(h.cfg.Paths.StoreFile)
	if err != nil {
		t.Fatal(err)
	}
	if doc.TotalCount != 20 {
		t.Fatalf("store total = %d, want 20", doc.TotalCount)
	}
}

func TestResumeCountsRetriedFailureOnce(t *testing.T) {
	var h *harness
	sup := newScriptedSupplier(func(batch, attempt int) error {
		if batch == 1 {
			return services.Wrap(services.ErrValidation, "generating", "generate", "unusable drafts", nil)
		}
		if batch == 2 {
			h.manager.RequestPause()
		}
		return nil
	})
	h = newHarness(t, sup)

	summary, err := h.manager.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Status != state.FlowPaused || summary.CompletedBatches != 1 || summary.FailedBatches != 1 {
		t.Fatalf("unexpected summary before resume: %+v", summary)
	}

	// A fresh process resumes; batch 1 fails the same way on its new attempt.
	resumed := newScriptedSupplier(func(batch, attempt int) error {
		if batch == 1 {
			return services.Wrap(services.ErrValidation, "generating", "generate", "unusable drafts", nil)
		}
		return nil
	})
	logger := logging.NewNop()
	backups := backup.NewManager(h.cfg, logger)
	integrator := integrate.NewManager(h.cfg, backups, logger)
	manager := flow.NewManager(h.cfg, resumed, integrator, h.states, nil, notifications.NewService(h.cfg), logger,
		flow.WithPolicies(retry.InitPolicy(h.cfg), retry.BatchPolicy(h.cfg)))

	summary, err = manager.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if summary.Status != state.FlowFailed {
		t.Fatalf("status = %q, want failed", summary.Status)
	}
	if summary.CompletedBatches != 3 {
		t.Fatalf("completed = %d, want 3", summary.CompletedBatches)
	}
	if summary.FailedBatches != 1 {
		t.Fatalf("failed = %d, want 1 (a re-failed batch counts once)", summary.FailedBatches)
	}
	if resumed.attempts[1] != 1 {
		t.Fatalf("failed batch must get a fresh attempt on resume: %v", resumed.attempts)
	}
	if resumed.attempts[2] != 0 {
		t.Fatalf("completed batch must not rerun: %v", resumed.attempts)
	}

	doc, err := store.Load(h.cfg.Paths.StoreFile)
	if err != nil {
		t.Fatal(err)
	}
	if doc.TotalCount != 15 {
		t.Fatalf("store total = %d, want 15", doc.TotalCount)
	}
}

func TestResumeRewindsInterruptedBatch(t *testing.T) {
	h := newHarness(t, suppliers.NewSynthetic())
	testsupport.SeedStore(t, h.cfg, 5)

	// Checkpoint as a crash mid-generation of batch 2 would leave it.
	f := state.New("run-crashed", 20, 5)
	f.SetStatus(state.FlowRunning)
	f.SetBatchStatus(1, state.BatchCompleted)
	f.CompletedBatches = 1
	f.CurrentBatch = 2
	f.SetBatchStatus(2, state.BatchGenerating)
	if err := h.states.Save(f); err != nil {
		t.Fatal(err)
	}

	summary, err := h.manager.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if summary.Status != state.FlowCompleted || summary.CompletedBatches != 4 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.RunID != "run-crashed" {
		t.Fatalf("resume must keep the run id, got %q", summary.RunID)
	}

	doc, err := store.Load(h.cfg.Paths.StoreFile)
	if err != nil {
		t.Fatal(err)
	}
	if doc.TotalCount != 20 {
		t.Fatalf("store total = %d, want 20", doc.TotalCount)
	}
}

func TestRunRefusesLiveCheckpoint(t *testing.T) {
	h := newHarness(t, suppliers.NewSynthetic())

	f := state.New("run-live", 20, 5)
	f.SetStatus(state.FlowRunning)
	if err := h.states.Save(f); err != nil {
		t.Fatal(err)
	}

	if _, err := h.manager.Run(context.Background()); !errors.Is(err, flow.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
}

func TestRunReplacesStaleCheckpoint(t *testing.T) {
	h := newHarness(t, suppliers.NewSynthetic())

	f := state.New("run-stale", 20, 5)
	f.SetStatus(state.FlowRunning)
	if err := h.states.Save(f); err != nil {
		t.Fatal(err)
	}
	// Age the checkpoint past the staleness window by moving the clock, not
	// the file.
	future := time.Now().UTC().Add(time.Duration(h.cfg.Flow.StalenessHours+1) * time.Hour)
	logger := logging.NewNop()
	backups := backup.NewManager(h.cfg, logger)
	integrator := integrate.NewManager(h.cfg, backups, logger)
	manager := flow.NewManager(h.cfg, suppliers.NewSynthetic(), integrator, h.states, nil, notifications.NewService(h.cfg), logger,
		flow.WithPolicies(retry.InitPolicy(h.cfg), retry.BatchPolicy(h.cfg)),
		flow.WithClock(func() time.Time { return future }))

	summary, err := manager.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.RunID == "run-stale" {
		t.Fatal("expected a fresh run id")
	}
	if summary.Status != state.FlowCompleted {
		t.Fatalf("status = %q", summary.Status)
	}
}

func TestResumeWithoutCheckpoint(t *testing.T) {
	h := newHarness(t, suppliers.NewSynthetic())
	if _, err := h.manager.Resume(context.Background()); !errors.Is(err, flow.ErrNothingToResume) {
		t.Fatalf("expected ErrNothingToResume, got %v", err)
	}
}

func TestResumeRefusesTerminalAndStale(t *testing.T) {
	h := newHarness(t, suppliers.NewSynthetic())

	f := state.New("run-done", 20, 5)
	f.SetStatus(state.FlowCompleted)
	if err := h.states.Save(f); err != nil {
		t.Fatal(err)
	}
	if _, err := h.manager.Resume(context.Background()); !errors.Is(err, flow.ErrNothingToResume) {
		t.Fatalf("expected ErrNothingToResume for terminal state, got %v", err)
	}

	f = state.New("run-old", 20, 5)
	f.SetStatus(state.FlowPaused)
	if err := h.states.Save(f); err != nil {
		t.Fatal(err)
	}
	future := time.Now().UTC().Add(time.Duration(h.cfg.Flow.StalenessHours+1) * time.Hour)
	logger := logging.NewNop()
	backups := backup.NewManager(h.cfg, logger)
	integrator := integrate.NewManager(h.cfg, backups, logger)
	manager := flow.NewManager(h.cfg, suppliers.NewSynthetic(), integrator, h.states, nil, notifications.NewService(h.cfg), logger,
		flow.WithClock(func() time.Time { return future }))
	if _, err := manager.Resume(context.Background()); !errors.Is(err, flow.ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}
}

func TestCancelledContextStopsRun(t *testing.T) {
	var cancel context.CancelFunc
	var ctx context.Context
	ctx, cancel = context.WithCancel(context.Background())

	sup := newScriptedSupplier(func(batch, attempt int) error {
		if batch == 2 {
			cancel()
		}
		return nil
	})
	h := newHarness(t, sup)

	_, err := h.manager.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The checkpoint survives for a later resume.
	f, loadErr := h.states.Load()
	if loadErr != nil {
		t.Fatal(loadErr)
	}
	if f.Batch(1).Status != state.BatchCompleted {
		t.Fatalf("batch 1 should have completed before cancel, got %q", f.Batch(1).Status)
	}
}
