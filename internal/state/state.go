// Package state defines the durable flow state machine: the run-level status,
// per-batch sub-states, and the JSON checkpoint persisted after every stage
// transition so an interrupted run can resume where it left off.
package state

import (
	"time"
)

// FlowStatus is the run-level state of the pipeline.
type FlowStatus string

const (
	FlowNotStarted   FlowStatus = "not_started"
	FlowInitializing FlowStatus = "initializing"
	FlowRunning      FlowStatus = "running"
	FlowPaused       FlowStatus = "paused"
	FlowCompleted    FlowStatus = "completed"
	FlowFailed       FlowStatus = "failed"
	FlowRecovering   FlowStatus = "recovering"
)

// Terminal reports whether the flow has finished, successfully or not.
func (s FlowStatus) Terminal() bool {
	return s == FlowCompleted || s == FlowFailed
}

// BatchStatus is the sub-state of one batch moving through the stages.
type BatchStatus string

const (
	BatchPending     BatchStatus = "pending"
	BatchAnalyzing   BatchStatus = "analyzing"
	BatchPlanning    BatchStatus = "planning"
	BatchResearching BatchStatus = "researching"
	BatchGenerating  BatchStatus = "generating"
	BatchValidating  BatchStatus = "validating"
	BatchOptimizing  BatchStatus = "optimizing"
	BatchIntegrating BatchStatus = "integrating"
	BatchCompleted   BatchStatus = "completed"
	BatchFailed      BatchStatus = "failed"
	BatchRetrying    BatchStatus = "retrying"
)

// Terminal reports whether the batch has finished, successfully or not.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// StageStatuses lists the processing stages in execution order.
func StageStatuses() []BatchStatus {
	return []BatchStatus{
		BatchAnalyzing,
		BatchPlanning,
		BatchResearching,
		BatchGenerating,
		BatchValidating,
		BatchOptimizing,
		BatchIntegrating,
	}
}

// BatchState tracks one batch across stage transitions and retries.
type BatchState struct {
	Number       int         `json:"number"`
	Status       BatchStatus `json:"status"`
	Items        int         `json:"items"`
	Attempts     int         `json:"attempts"`
	QualityScore float64     `json:"quality_score,omitempty"`
	LastError    string      `json:"last_error,omitempty"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// FlowState is the full persisted run record, including every batch's
// sub-state.
type FlowState struct {
	RunID            string              `json:"run_id"`
	Status           FlowStatus          `json:"status"`
	TotalItems       int                 `json:"total_items"`
	BatchSize        int                 `json:"batch_size"`
	TotalBatches     int                 `json:"total_batches"`
	CurrentBatch     int                 `json:"current_batch"`
	CompletedBatches int                 `json:"completed_batches"`
	FailedBatches    int                 `json:"failed_batches"`
	LastError        string              `json:"last_error,omitempty"`
	StartedAt        time.Time           `json:"started_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	Batches          map[int]*BatchState `json:"batches"`
}

// New builds a fresh FlowState for a run of totalItems split into batches of
// batchSize. The final batch may be smaller when the sizes do not divide
// evenly.
func New(runID string, totalItems, batchSize int) *FlowState {
	totalBatches := 0
	if batchSize > 0 {
		totalBatches = (totalItems + batchSize - 1) / batchSize
	}
	now := time.Now().UTC()
	return &FlowState{
		RunID:        runID,
		Status:       FlowNotStarted,
		TotalItems:   totalItems,
		BatchSize:    batchSize,
		TotalBatches: totalBatches,
		StartedAt:    now,
		UpdatedAt:    now,
		Batches:      make(map[int]*BatchState, totalBatches),
	}
}

// BatchItems returns how many items batch n (1-based) should produce.
func (f *FlowState) BatchItems(n int) int {
	if n < 1 || n > f.TotalBatches {
		return 0
	}
	if n < f.TotalBatches {
		return f.BatchSize
	}
	remainder := f.TotalItems - (f.TotalBatches-1)*f.BatchSize
	return remainder
}

// Batch returns the state record for batch n, creating a pending record on
// first access.
func (f *FlowState) Batch(n int) *BatchState {
	if f.Batches == nil {
		f.Batches = make(map[int]*BatchState)
	}
	if b, ok := f.Batches[n]; ok {
		return b
	}
	b := &BatchState{
		Number:    n,
		Status:    BatchPending,
		Items:     f.BatchItems(n),
		UpdatedAt: time.Now().UTC(),
	}
	f.Batches[n] = b
	return b
}

// SetStatus transitions the run-level status and stamps UpdatedAt. Paused and
// terminal states have no batch in flight, so CurrentBatch is cleared.
func (f *FlowState) SetStatus(status FlowStatus) {
	f.Status = status
	now := time.Now().UTC()
	f.UpdatedAt = now
	if status == FlowPaused || status.Terminal() {
		f.CurrentBatch = 0
	}
	if status.Terminal() && f.CompletedAt == nil {
		f.CompletedAt = &now
	}
}

// SetBatchStatus transitions one batch's sub-state and stamps both the batch
// and the run.
func (f *FlowState) SetBatchStatus(n int, status BatchStatus) *BatchState {
	b := f.Batch(n)
	now := time.Now().UTC()
	if b.StartedAt == nil && status != BatchPending {
		b.StartedAt = &now
	}
	b.Status = status
	b.UpdatedAt = now
	if status == BatchCompleted || status == BatchFailed {
		b.CompletedAt = &now
	}
	f.UpdatedAt = now
	return b
}

// ItemsCompleted sums the items of all completed batches.
func (f *FlowState) ItemsCompleted() int {
	total := 0
	for _, b := range f.Batches {
		if b.Status == BatchCompleted {
			total += b.Items
		}
	}
	return total
}

// Progress returns the fraction of batches completed, between 0 and 1.
func (f *FlowState) Progress() float64 {
	if f.TotalBatches == 0 {
		return 0
	}
	return float64(f.CompletedBatches) / float64(f.TotalBatches)
}

// AverageQuality returns the mean quality score across batches that recorded
// one.
func (f *FlowState) AverageQuality() float64 {
	sum := 0.0
	count := 0
	for _, b := range f.Batches {
		if b.QualityScore > 0 {
			sum += b.QualityScore
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// StaleAfter reports whether the state is older than the given threshold.
func (f *FlowState) StaleAfter(threshold time.Duration, now time.Time) bool {
	if threshold <= 0 {
		return false
	}
	return now.Sub(f.UpdatedAt) > threshold
}
