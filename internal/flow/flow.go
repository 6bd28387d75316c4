// Package flow drives the batch pipeline: initialization, the stage loop for
// each batch, checkpointing after every transition, pause and resume, and
// classified retry around both initialization and batch processing.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"loom/internal/config"
	"loom/internal/integrate"
	"loom/internal/ledger"
	"loom/internal/logging"
	"loom/internal/notifications"
	"loom/internal/retry"
	"loom/internal/services"
	"loom/internal/state"
	"loom/internal/store"
	"loom/internal/suppliers"
)

var (
	// ErrRunInProgress is returned by Run when a live checkpoint exists.
	ErrRunInProgress = errors.New("a run is already in progress; resume it or clear its state")
	// ErrNothingToResume is returned by Resume when no resumable checkpoint exists.
	ErrNothingToResume = errors.New("no interrupted run to resume")
	// ErrStaleState is returned by Resume when the checkpoint is older than the
	// staleness window.
	ErrStaleState = errors.New("flow state is stale")
)

// Summary reports the outcome of a run for callers and exit-code decisions.
type Summary struct {
	RunID            string
	Status           state.FlowStatus
	TotalBatches     int
	CompletedBatches int
	FailedBatches    int
	ItemsIntegrated  int
	AverageQuality   float64
	Duration         time.Duration
}

// Failed reports whether the run ended with failed batches or aborted.
func (s *Summary) Failed() bool {
	return s.Status == state.FlowFailed || s.FailedBatches > 0
}

// Manager owns one run of the pipeline.
type Manager struct {
	cfg        *config.Config
	logger     *slog.Logger
	supplier   suppliers.Supplier
	integrator *integrate.Manager
	states     *state.Store
	history    *ledger.Ledger
	notifier   notifications.Service

	initPolicy  retry.Policy
	batchPolicy retry.Policy

	pauseRequested atomic.Bool
	now            func() time.Time
}

// Option customizes manager construction.
type Option func(*Manager)

// WithPolicies overrides both retry profiles (useful for tests).
func WithPolicies(initPolicy, batchPolicy retry.Policy) Option {
	return func(m *Manager) {
		m.initPolicy = initPolicy
		m.batchPolicy = batchPolicy
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager wires the pipeline together.
func NewManager(
	cfg *config.Config,
	supplier suppliers.Supplier,
	integrator *integrate.Manager,
	states *state.Store,
	history *ledger.Ledger,
	notifier notifications.Service,
	logger *slog.Logger,
	opts ...Option,
) *Manager {
	m := &Manager{
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "flow"),
		supplier:    supplier,
		integrator:  integrator,
		states:      states,
		history:     history,
		notifier:    notifier,
		initPolicy:  retry.InitPolicy(cfg),
		batchPolicy: retry.BatchPolicy(cfg),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RequestPause asks the run to stop cooperatively after the current batch.
func (m *Manager) RequestPause() {
	m.pauseRequested.Store(true)
	m.logger.Info("pause requested, will stop after current batch")
}

// Run starts a fresh run. A live non-stale checkpoint blocks a new run;
// terminal or stale checkpoints are replaced.
func (m *Manager) Run(ctx context.Context) (*Summary, error) {
	if existing, err := m.states.Load(); err == nil {
		switch {
		case existing.Status.Terminal():
			// Finished runs are safe to replace.
		case existing.StaleAfter(m.staleness(), m.now().UTC()):
			m.logger.Warn("discarding stale checkpoint",
				logging.Args(
					logging.String(logging.FieldRunID, existing.RunID),
					logging.Duration("age", m.now().UTC().Sub(existing.UpdatedAt)),
				)...)
		default:
			return nil, ErrRunInProgress
		}
	} else if !errors.Is(err, state.ErrNoState) {
		return nil, err
	}

	f := state.New(uuid.NewString(), m.cfg.Flow.TotalItems, m.cfg.Flow.BatchSize)
	ctx = services.WithRunID(ctx, f.RunID)

	if err := m.initialize(ctx, f); err != nil {
		return m.summarize(f), err
	}
	if err := m.notifier.NotifyRunStarted(ctx, f.RunID, f.TotalItems, f.TotalBatches); err != nil {
		m.logger.Warn("run start notification failed", logging.Args(logging.Error(err))...)
	}
	return m.processAll(ctx, f, 1)
}

// Resume continues an interrupted run from its checkpoint. Completed batches
// are skipped; a batch caught mid-stage starts over from its first stage.
func (m *Manager) Resume(ctx context.Context) (*Summary, error) {
	f, err := m.states.Load()
	if err != nil {
		if errors.Is(err, state.ErrNoState) {
			return nil, ErrNothingToResume
		}
		return nil, err
	}
	if f.Status.Terminal() {
		return nil, fmt.Errorf("%w: last run already %s", ErrNothingToResume, f.Status)
	}
	if f.StaleAfter(m.staleness(), m.now().UTC()) {
		return nil, fmt.Errorf("%w: last update %s ago, start a fresh run",
			ErrStaleState, m.now().UTC().Sub(f.UpdatedAt).Round(time.Minute))
	}

	ctx = services.WithRunID(ctx, f.RunID)
	f.SetStatus(state.FlowRecovering)
	if err := m.states.Save(f); err != nil {
		return nil, err
	}

	// Stage work is not resumable mid-flight; anything short of completed,
	// failed batches included, redoes its batch from the top. The store stays
	// consistent because integration is the only stage that mutates it,
	// transactionally.
	next := f.TotalBatches + 1
	completed := 0
	for n := 1; n <= f.TotalBatches; n++ {
		b := f.Batch(n)
		if b.Status == state.BatchCompleted {
			completed++
			continue
		}
		if b.Status != state.BatchPending {
			m.logger.Info("rewinding interrupted batch",
				logging.Args(
					logging.Int(logging.FieldBatch, n),
					logging.String("was", string(b.Status)),
				)...)
			f.SetBatchStatus(n, state.BatchPending)
		}
		if n < next {
			next = n
		}
	}
	// Counters re-derive from the batch map so a batch that failed before the
	// interruption and fails again is counted once, not twice.
	f.CompletedBatches = completed
	f.FailedBatches = 0
	if next > f.TotalBatches {
		// Every batch already finished; close the run out.
		return m.processAll(ctx, f, next)
	}

	if err := m.notifier.NotifyRunResumed(ctx, f.RunID, f.CompletedBatches, f.TotalBatches); err != nil {
		m.logger.Warn("resume notification failed", logging.Args(logging.Error(err))...)
	}
	return m.processAll(ctx, f, next)
}

// initialize prepares the run under the init retry profile: directories,
// store access, and a consistency check of whatever store already exists.
func (m *Manager) initialize(ctx context.Context, f *state.FlowState) error {
	f.SetStatus(state.FlowInitializing)
	if err := m.states.Save(f); err != nil {
		return err
	}

	err := m.initPolicy.Do(ctx, m.logger, "initialize", func(ctx context.Context) error {
		if err := m.cfg.EnsureDirectories(); err != nil {
			return services.Wrap(services.ErrTransient, "initializing", "directories", "ensure directories", err)
		}
		doc, err := store.LoadOrInit(m.cfg.Paths.StoreFile)
		if err != nil {
			return services.Wrap(services.ErrFatal, "initializing", "store", "load store", err)
		}
		if valid, issues := store.Validate(doc); !valid {
			return services.Wrap(services.ErrFatal, "initializing", "store",
				fmt.Sprintf("existing store is inconsistent: %d issues", len(issues)), nil)
		}
		return nil
	})
	if err != nil {
		f.LastError = err.Error()
		f.SetStatus(state.FlowFailed)
		if saveErr := m.states.Save(f); saveErr != nil {
			m.logger.Error("failed to persist failed state", logging.Args(logging.Error(saveErr))...)
		}
		return err
	}
	return nil
}

// processAll runs batches first..TotalBatches sequentially, honoring pause
// requests between batches and degrading gracefully on batch failure.
func (m *Manager) processAll(ctx context.Context, f *state.FlowState, first int) (*Summary, error) {
	started := m.now()
	f.SetStatus(state.FlowRunning)
	if err := m.states.Save(f); err != nil {
		return m.summarize(f), err
	}

	for n := first; n <= f.TotalBatches; n++ {
		if f.Batch(n).Status == state.BatchCompleted {
			continue
		}
		if err := ctx.Err(); err != nil {
			m.checkpoint(f)
			return m.summarize(f), err
		}
		if m.pauseRequested.Load() {
			return m.pause(ctx, f)
		}

		f.CurrentBatch = n
		err := m.processBatch(services.WithBatch(ctx, n), f, n)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				m.checkpoint(f)
				return m.summarize(f), err
			}
			if services.IsFatal(err) {
				f.LastError = err.Error()
				f.SetStatus(state.FlowFailed)
				m.checkpoint(f)
				if notifyErr := m.notifier.NotifyError(ctx, err, fmt.Sprintf("batch %d", n)); notifyErr != nil {
					m.logger.Warn("error notification failed", logging.Args(logging.Error(notifyErr))...)
				}
				return m.summarize(f), err
			}

			// Graceful degradation: one bad batch does not sink the run.
			b := f.SetBatchStatus(n, state.BatchFailed)
			b.LastError = err.Error()
			f.FailedBatches++
			m.checkpoint(f)
			m.recordBatch(ctx, f.RunID, b)
			m.logger.Error("batch failed, continuing with next",
				logging.Args(logging.Int(logging.FieldBatch, n), logging.Error(err))...)
			if notifyErr := m.notifier.NotifyBatchFailed(ctx, n, err); notifyErr != nil {
				m.logger.Warn("batch failure notification failed", logging.Args(logging.Error(notifyErr))...)
			}
			continue
		}

		f.CompletedBatches++
		m.checkpoint(f)
		if notifyErr := m.notifier.NotifyBatchCompleted(ctx, n, f.TotalBatches, f.Batch(n).QualityScore); notifyErr != nil {
			m.logger.Warn("batch notification failed", logging.Args(logging.Error(notifyErr))...)
		}
	}

	if f.FailedBatches > 0 {
		f.SetStatus(state.FlowFailed)
	} else {
		f.SetStatus(state.FlowCompleted)
	}
	m.checkpoint(f)

	summary := m.summarize(f)
	summary.Duration = m.now().Sub(started)
	if err := m.notifier.NotifyRunCompleted(ctx, f.CompletedBatches, f.FailedBatches, summary.Duration); err != nil {
		m.logger.Warn("completion notification failed", logging.Args(logging.Error(err))...)
	}
	m.logger.Info("run finished",
		logging.Args(
			logging.String(logging.FieldRunID, f.RunID),
			logging.String("status", string(f.Status)),
			logging.Int("completed", f.CompletedBatches),
			logging.Int("failed", f.FailedBatches),
		)...)
	return summary, nil
}

func (m *Manager) pause(ctx context.Context, f *state.FlowState) (*Summary, error) {
	f.SetStatus(state.FlowPaused)
	if err := m.states.Save(f); err != nil {
		return m.summarize(f), err
	}
	if err := m.notifier.NotifyRunPaused(ctx, f.CompletedBatches, f.TotalBatches); err != nil {
		m.logger.Warn("pause notification failed", logging.Args(logging.Error(err))...)
	}
	m.logger.Info("run paused",
		logging.Args(
			logging.String(logging.FieldRunID, f.RunID),
			logging.Int("completed", f.CompletedBatches),
			logging.Int("total", f.TotalBatches),
		)...)
	return m.summarize(f), nil
}

// processBatch drives one batch through every stage under the batch retry
// profile, checkpointing each stage transition.
func (m *Manager) processBatch(ctx context.Context, f *state.FlowState, n int) error {
	target := suppliers.Target{
		BatchNumber:  n,
		Items:        f.BatchItems(n),
		Categories:   m.cfg.Generation.Categories,
		Difficulties: m.cfg.Generation.Difficulties,
		Types:        m.cfg.Generation.Types,
	}

	attempt := 0
	return m.batchPolicy.Do(ctx, m.logger, fmt.Sprintf("batch %d", n), func(ctx context.Context) error {
		attempt++
		b := f.Batch(n)
		b.Attempts = attempt
		if attempt > 1 {
			f.SetBatchStatus(n, state.BatchRetrying)
			m.checkpoint(f)
		}
		ctx = services.WithRequestID(ctx, uuid.NewString())
		return m.runStages(ctx, f, n, target)
	})
}

func (m *Manager) runStages(ctx context.Context, f *state.FlowState, n int, target suppliers.Target) error {
	doc, err := store.LoadOrInit(m.cfg.Paths.StoreFile)
	if err != nil {
		return services.Wrap(services.ErrFatal, "analyzing", "store", "load store", err)
	}

	m.transition(ctx, f, n, state.BatchAnalyzing)
	analysis, err := m.supplier.Analyze(ctx, doc, target)
	if err != nil {
		return err
	}

	m.transition(ctx, f, n, state.BatchPlanning)
	plan, err := m.supplier.Plan(ctx, analysis, target)
	if err != nil {
		return err
	}

	m.transition(ctx, f, n, state.BatchResearching)
	research, err := m.supplier.Research(ctx, plan)
	if err != nil {
		return err
	}

	m.transition(ctx, f, n, state.BatchGenerating)
	items, err := m.supplier.Generate(ctx, plan, research)
	if err != nil {
		return err
	}

	m.transition(ctx, f, n, state.BatchValidating)
	assessment, err := m.supplier.Assess(ctx, items, target)
	if err != nil {
		return err
	}
	f.Batch(n).QualityScore = assessment.QualityScore

	m.transition(ctx, f, n, state.BatchOptimizing)
	items, err = m.supplier.Optimize(ctx, items, assessment)
	if err != nil {
		return err
	}
	if final := suppliers.InspectItems(items, target); final.QualityScore < 1 {
		return services.Wrap(services.ErrValidation, "optimizing", "inspect",
			fmt.Sprintf("optimized batch still has %d defects", len(final.Issues)), nil)
	}

	m.transition(ctx, f, n, state.BatchIntegrating)
	result, err := m.integrator.Integrate(ctx, n, items, m.cfg.Flow.BackupBeforeIntegrate)
	m.recordIntegration(ctx, f.RunID, n, result)
	if err != nil {
		return err
	}

	b := f.SetBatchStatus(n, state.BatchCompleted)
	b.LastError = ""
	m.checkpoint(f)
	m.recordBatch(ctx, f.RunID, b)
	m.logger.Info("batch complete",
		logging.Args(
			logging.Int(logging.FieldBatch, n),
			logging.Int("items", result.ItemsAdded),
			logging.Int("store_total", result.NewTotal),
			logging.Float64("quality", b.QualityScore),
		)...)
	return nil
}

// transition moves a batch to the next stage and checkpoints immediately, so
// a crash never loses more than the stage in flight.
func (m *Manager) transition(ctx context.Context, f *state.FlowState, n int, status state.BatchStatus) {
	b := f.SetBatchStatus(n, status)
	m.checkpoint(f)
	m.recordBatch(ctx, f.RunID, b)
	m.logger.Debug("stage transition",
		logging.Args(
			logging.Int(logging.FieldBatch, n),
			logging.String(logging.FieldStage, string(status)),
		)...)
}

func (m *Manager) checkpoint(f *state.FlowState) {
	if err := m.states.Save(f); err != nil {
		m.logger.Error("checkpoint save failed", logging.Args(logging.Error(err))...)
	}
}

func (m *Manager) recordBatch(ctx context.Context, runID string, b *state.BatchState) {
	if m.history == nil {
		return
	}
	if err := m.history.RecordBatch(ctx, runID, b); err != nil {
		m.logger.Warn("ledger batch record failed", logging.Args(logging.Error(err))...)
	}
}

func (m *Manager) recordIntegration(ctx context.Context, runID string, n int, result *integrate.Result) {
	if m.history == nil || result == nil {
		return
	}
	rec := &ledger.IntegrationRecord{
		RunID:       runID,
		BatchNumber: n,
		BackupID:    result.BackupID,
		ItemsAdded:  result.ItemsAdded,
		NewTotal:    result.NewTotal,
		Success:     result.Success,
		Issues:      result.ValidationIssues,
		Elapsed:     result.Elapsed,
	}
	if err := m.history.RecordIntegration(ctx, rec); err != nil {
		m.logger.Warn("ledger integration record failed", logging.Args(logging.Error(err))...)
	}
}

func (m *Manager) staleness() time.Duration {
	return time.Duration(m.cfg.Flow.StalenessHours) * time.Hour
}

func (m *Manager) summarize(f *state.FlowState) *Summary {
	return &Summary{
		RunID:            f.RunID,
		Status:           f.Status,
		TotalBatches:     f.TotalBatches,
		CompletedBatches: f.CompletedBatches,
		FailedBatches:    f.FailedBatches,
		ItemsIntegrated:  f.ItemsCompleted(),
		AverageQuality:   f.AverageQuality(),
		Duration:         m.now().UTC().Sub(f.StartedAt),
	}
}
